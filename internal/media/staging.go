package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/kimhsiao/peerwall/core/internal/models"
)

// HandlePrefix marks an ephemeral local-session handle to staged bytes.
const HandlePrefix = "blob:"

// IsHandle reports whether ref is a staging handle.
func IsHandle(ref models.MediaRef) bool {
	return strings.HasPrefix(string(ref), HandlePrefix) && IsToken(ref[len(HandlePrefix):])
}

// Hash returns the hex SHA-256 of data, the content-address token of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Staging holds media the user picked but the backend has not stored yet.
// Files live at dir/{hash[0:2]}/{hash[2:4]}/{hash}; identical bytes share
// one file.
type Staging struct {
	dir      string
	maxBytes int64
}

// NewStaging creates a Staging rooted at dir. maxBytes <= 0 means no limit.
func NewStaging(dir string, maxBytes int64) *Staging {
	return &Staging{dir: dir, maxBytes: maxBytes}
}

// Stage stores data and returns its handle.
func (s *Staging) Stage(data []byte) (models.MediaRef, error) {
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("media is %s, larger than the %s limit",
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(s.maxBytes)))
	}

	hash := Hash(data)
	path := s.path(hash)
	if _, err := os.Stat(path); err == nil {
		return models.MediaRef(HandlePrefix + hash), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write staged media: %w", err)
	}
	return models.MediaRef(HandlePrefix + hash), nil
}

// Read returns the staged bytes for handle and their detected MIME type.
func (s *Staging) Read(handle models.MediaRef) ([]byte, string, error) {
	hash, err := handleHash(handle)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("staged media not found: %w", err)
		}
		return nil, "", fmt.Errorf("failed to read staged media: %w", err)
	}
	if got := Hash(data); got != hash {
		return nil, "", fmt.Errorf("staged media corrupt: expected %s, got %s", hash, got)
	}
	return data, mimetype.Detect(data).String(), nil
}

// Release deletes the staged bytes for handle. Missing files are ignored.
func (s *Staging) Release(handle models.MediaRef) error {
	hash, err := handleHash(handle)
	if err != nil {
		return err
	}

	path := s.path(hash)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release staged media: %w", err)
	}
	dir := filepath.Dir(path)
	os.Remove(dir)
	os.Remove(filepath.Dir(dir))
	return nil
}

// Exists reports whether handle still has staged bytes.
func (s *Staging) Exists(handle models.MediaRef) bool {
	hash, err := handleHash(handle)
	if err != nil {
		return false
	}
	_, err = os.Stat(s.path(hash))
	return err == nil
}

func (s *Staging) path(hash string) string {
	return filepath.Join(s.dir, hash[0:2], hash[2:4], hash)
}

func handleHash(handle models.MediaRef) (string, error) {
	if !IsHandle(handle) {
		return "", fmt.Errorf("not a staging handle: %q", handle)
	}
	return strings.ToLower(string(handle[len(HandlePrefix):])), nil
}
