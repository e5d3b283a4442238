// Package ids generates and recognizes the identifiers used by the client:
// UUID v4 for client-side records and ULID-based placeholders for entries
// that have not been confirmed by the backend yet.
package ids

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PlaceholderPrefix marks identifiers minted locally for optimistic entries.
const PlaceholderPrefix = "local-"

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}

// NewPlaceholder mints a placeholder id for an optimistic entry created at t.
// Placeholders sort by creation time and are never valid backend ids.
func NewPlaceholder(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return PlaceholderPrefix + strings.ToLower(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// IsPlaceholder reports whether id was minted by NewPlaceholder.
func IsPlaceholder(id string) bool {
	if !strings.HasPrefix(id, PlaceholderPrefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(strings.TrimPrefix(id, PlaceholderPrefix)))
	return err == nil
}

// PlaceholderTime returns the creation time encoded in a placeholder id.
func PlaceholderTime(id string) (time.Time, bool) {
	if !IsPlaceholder(id) {
		return time.Time{}, false
	}
	parsed := ulid.MustParse(strings.ToUpper(strings.TrimPrefix(id, PlaceholderPrefix)))
	return ulid.Time(parsed.Time()), true
}
