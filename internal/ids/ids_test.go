// Package ids provides unit tests for identifier generation.
package ids

import (
	"regexp"
	"testing"
	"time"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()

	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
	if err := Validate(id); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if Validate("not-a-uuid") == nil {
		t.Error("Validate() should reject malformed input")
	}
}

// TestNewPlaceholder tests placeholder uniqueness and recognition.
func TestNewPlaceholder(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := NewPlaceholder(now)
		if seen[id] {
			t.Fatalf("Duplicate placeholder generated: %s", id)
		}
		seen[id] = true
		if !IsPlaceholder(id) {
			t.Fatalf("IsPlaceholder(%q) = false", id)
		}
	}
}

// TestNewPlaceholder_sortsByTime tests that later placeholders sort after earlier ones.
func TestNewPlaceholder_sortsByTime(t *testing.T) {
	early := NewPlaceholder(time.UnixMilli(1_700_000_000_000))
	late := NewPlaceholder(time.UnixMilli(1_700_000_001_000))
	if !(early < late) {
		t.Errorf("expected %s < %s", early, late)
	}
}

// TestIsPlaceholder tests rejection of backend ids.
func TestIsPlaceholder(t *testing.T) {
	tests := map[string]bool{
		"":                        false,
		"local-":                  false,
		"local-not-a-ulid":        false,
		"01hzz8m6n8r4g7gq0k1xv5cq3a": false,
		New():                     false,
	}
	for id, want := range tests {
		if got := IsPlaceholder(id); got != want {
			t.Errorf("IsPlaceholder(%q) = %v, want %v", id, got, want)
		}
	}
}

// TestPlaceholderTime tests the embedded timestamp round trip.
func TestPlaceholderTime(t *testing.T) {
	at := time.UnixMilli(1_700_000_123_456)
	got, ok := PlaceholderTime(NewPlaceholder(at))
	if !ok {
		t.Fatal("PlaceholderTime() reported not a placeholder")
	}
	if !got.Equal(at) {
		t.Errorf("PlaceholderTime() = %v, want %v", got, at)
	}
	if _, ok := PlaceholderTime("msg-1"); ok {
		t.Error("PlaceholderTime() should reject backend ids")
	}
}
