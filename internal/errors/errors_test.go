// Package errors tests for the error taxonomy and boundary normalization.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
)

// TestKindRecoverable verifies the recoverable flag is intrinsic to each kind.
func TestKindRecoverable(t *testing.T) {
	tests := []struct {
		kind        Kind
		recoverable bool
		critical    bool
	}{
		{KindNetworkTimeout, true, false},
		{KindNetworkUnreachable, true, false},
		{KindValidation, false, false},
		{KindNotFound, false, false},
		{KindPermission, false, false},
		{KindDatabase, false, true},
		{KindUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Recoverable(); got != tt.recoverable {
				t.Errorf("Recoverable() = %v, want %v", got, tt.recoverable)
			}
			if got := tt.kind.Critical(); got != tt.critical {
				t.Errorf("Critical() = %v, want %v", got, tt.critical)
			}
		})
	}
}

// TestKinds_areUnique verifies the taxonomy has no duplicates.
func TestKinds_areUnique(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, kind := range Kinds {
		if seen[kind] {
			t.Errorf("Kind %q is duplicated", kind)
		}
		seen[kind] = true
		if string(kind) != strings.ToUpper(string(kind)) {
			t.Errorf("Kind %q should be uppercase", kind)
		}
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "plain",
			appError: &AppError{Kind: KindNotFound, Message: "post missing"},
			want:     "[NOT_FOUND] post missing",
		},
		{
			name:     "with command",
			appError: &AppError{Kind: KindNotFound, Message: "post missing", Command: "post.get"},
			want:     "[NOT_FOUND] post.get: post missing",
		},
		{
			name:     "with underlying error",
			appError: &AppError{Kind: KindDatabase, Message: "write failed", Err: errors.New("disk full")},
			want:     "[DATABASE_ERROR] write failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies wrapping keeps the cause reachable.
func TestWrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindDatabase, "query failed", cause)

	if err.Kind != KindDatabase {
		t.Errorf("Kind = %q, want %q", err.Kind, KindDatabase)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
	if err.Hint == "" {
		t.Error("Wrap should fill the default hint")
	}
}

// TestIs verifies kind checks through wrapping layers.
func TestIs(t *testing.T) {
	appErr := New(KindPermission, "nope")
	wrapped := fmt.Errorf("outer: %w", appErr)

	if !Is(wrapped, KindPermission) {
		t.Error("Is() should see through fmt wrapping")
	}
	if Is(errors.New("plain"), KindPermission) {
		t.Error("Is() should be false for untyped errors")
	}
	if Is(nil, KindUnknown) {
		t.Error("Is() should be false for nil")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("KindOf() should default to unknown")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// TestNormalize verifies every tolerated raw shape narrows to one kind.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    Kind
		message string
	}{
		{"nil", nil, KindUnknown, "unknown error"},
		{"deadline", context.DeadlineExceeded, KindNetworkTimeout, "request timed out"},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindNetworkTimeout, "request timed out"},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindNetworkUnreachable, "backend unreachable"},
		{"prefixed string", "NOT_FOUND: conversation gone", KindNotFound, "conversation gone"},
		{"alias prefixed string", "permission: not your post", KindPermission, "not your post"},
		{"free text", "sqlite: database is locked", KindDatabase, "sqlite: database is locked"},
		{"unreadable text", "something odd happened", KindUnknown, "something odd happened"},
		{"map with code", map[string]any{"code": "validation_error", "msg": "content too long"}, KindValidation, "content too long"},
		{"map with type", map[string]any{"type": "Timeout", "error": "slow"}, KindNetworkTimeout, "slow"},
		{"map without kind", map[string]any{"detail": "peer unreachable"}, KindNetworkUnreachable, "peer unreachable"},
		{"nested map", map[string]any{"error": map[string]any{"kind": "DATABASE_ERROR", "message": "corrupt"}}, KindDatabase, "corrupt"},
		{"string map", map[string]string{"kind": "not-found", "message": "gone"}, KindNotFound, "gone"},
		{"json payload", json.RawMessage(`{"errorType":"forbidden","description":"blocked"}`), KindPermission, "blocked"},
		{"json string", []byte(`"request timed out"`), KindNetworkTimeout, "request timed out"},
		{"json in error text", errors.New(`{"code":"NOT_FOUND","message":"no such post"}`), KindNotFound, "no such post"},
		{"number", 42, KindUnknown, "unexpected failure: 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if got == nil {
				t.Fatal("Normalize() returned nil")
			}
			if got.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.want)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
		})
	}
}

// TestNormalize_passesTypedThrough verifies typed errors are not re-wrapped.
func TestNormalize_passesTypedThrough(t *testing.T) {
	original := New(KindValidation, "bad")
	if got := Normalize(fmt.Errorf("ctx: %w", original)); got != original {
		t.Errorf("Normalize() = %p, want original %p", got, original)
	}
}

// TestNormalize_keepsBackendHint verifies a supplied hint wins over the default.
func TestNormalize_keepsBackendHint(t *testing.T) {
	got := Normalize(map[string]any{"kind": "network_unreachable", "message": "no relay", "recovery": "enable relays"})
	if got.Hint != "enable relays" {
		t.Errorf("Hint = %q, want 'enable relays'", got.Hint)
	}
}

// TestNormalizeCommand verifies the command is recorded without mutating the input.
func TestNormalizeCommand(t *testing.T) {
	original := New(KindNotFound, "gone")
	got := NormalizeCommand("post.delete", original)

	if got.Command != "post.delete" {
		t.Errorf("Command = %q, want post.delete", got.Command)
	}
	if original.Command != "" {
		t.Error("NormalizeCommand must not mutate its input")
	}
}
