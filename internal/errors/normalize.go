package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// As unwraps err looking for an *AppError.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Field names tolerated in structured backend error payloads.
var (
	kindFields    = []string{"kind", "code", "type", "error_type", "errorType"}
	messageFields = []string{"message", "msg", "error", "detail", "description"}
	hintFields    = []string{"hint", "recovery", "suggestion"}
)

// kindAliases maps backend spellings onto the taxonomy.
var kindAliases = map[string]Kind{
	"timeout":             KindNetworkTimeout,
	"network_timeout":     KindNetworkTimeout,
	"networktimeout":      KindNetworkTimeout,
	"deadline_exceeded":   KindNetworkTimeout,
	"unreachable":         KindNetworkUnreachable,
	"network_unreachable": KindNetworkUnreachable,
	"networkunreachable":  KindNetworkUnreachable,
	"network":             KindNetworkUnreachable,
	"offline":             KindNetworkUnreachable,
	"validation":          KindValidation,
	"validation_failure":  KindValidation,
	"validation_error":    KindValidation,
	"validationfailure":   KindValidation,
	"invalid":             KindValidation,
	"invalid_input":       KindValidation,
	"not_found":           KindNotFound,
	"notfound":            KindNotFound,
	"permission":          KindPermission,
	"permission_denied":   KindPermission,
	"permissiondenied":    KindPermission,
	"forbidden":           KindPermission,
	"unauthorized":        KindPermission,
	"database":            KindDatabase,
	"database_error":      KindDatabase,
	"databaseerror":       KindDatabase,
	"db":                  KindDatabase,
	"storage":             KindDatabase,
	"unknown":             KindUnknown,
}

// textRules infer a kind from free-form failure text, first match wins.
var textRules = []struct {
	needles []string
	kind    Kind
}{
	{[]string{"timed out", "timeout", "deadline exceeded"}, KindNetworkTimeout},
	{[]string{"unreachable", "connection refused", "connection reset", "no route", "network is down", "not connected", "broken pipe"}, KindNetworkUnreachable},
	{[]string{"not found", "no such", "does not exist"}, KindNotFound},
	{[]string{"permission", "denied", "forbidden", "unauthorized"}, KindPermission},
	{[]string{"database", "sqlite", "constraint", "disk i/o", "corrupt"}, KindDatabase},
	{[]string{"invalid", "validation", "malformed", "required", "too long"}, KindValidation},
}

// Normalize converts any raw failure into a canonical *AppError. It accepts
// nil, *AppError, error values, strings, maps with inconsistent field names
// and JSON payloads holding such maps. Shapes it cannot read become
// KindUnknown.
func Normalize(raw any) *AppError {
	switch v := raw.(type) {
	case nil:
		return New(KindUnknown, "unknown error")
	case *AppError:
		return v
	case json.RawMessage:
		return normalizeBytes(v)
	case []byte:
		return normalizeBytes(v)
	case string:
		return normalizeText(v, nil)
	case map[string]any:
		return normalizeMap(v, nil)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return normalizeMap(m, nil)
	case error:
		return normalizeError(v)
	case fmt.Stringer:
		return normalizeText(v.String(), nil)
	default:
		return New(KindUnknown, fmt.Sprintf("unexpected failure: %v", v))
	}
}

// NormalizeCommand normalizes raw and records the command that failed.
func NormalizeCommand(command string, raw any) *AppError {
	appErr := Normalize(raw)
	if appErr.Command == "" {
		clone := *appErr
		clone.Command = command
		appErr = &clone
	}
	return appErr
}

func normalizeError(err error) *AppError {
	if appErr, ok := As(err); ok {
		return appErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindNetworkTimeout, "request timed out", err)
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ENETUNREACH) ||
		stderrors.Is(err, syscall.EHOSTUNREACH) || stderrors.Is(err, syscall.ECONNRESET) {
		return Wrap(KindNetworkUnreachable, "backend unreachable", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindNetworkTimeout, "request timed out", err)
		}
		return Wrap(KindNetworkUnreachable, "backend unreachable", err)
	}

	// Some bridges hand back the backend payload as the error text.
	text := strings.TrimSpace(err.Error())
	if strings.HasPrefix(text, "{") {
		var m map[string]any
		if json.Unmarshal([]byte(text), &m) == nil {
			return normalizeMap(m, err)
		}
	}
	return normalizeText(text, err)
}

func normalizeBytes(data []byte) *AppError {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		return normalizeMap(m, nil)
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return normalizeText(s, nil)
	}
	return normalizeText(string(data), nil)
}

func normalizeMap(m map[string]any, cause error) *AppError {
	// Nested payloads such as {"error": {"code": ..., "message": ...}}.
	for _, key := range []string{"error", "err"} {
		if nested, ok := m[key].(map[string]any); ok {
			return normalizeMap(nested, cause)
		}
	}

	message := firstString(m, messageFields)
	hint := firstString(m, hintFields)

	kind, ok := KindUnknown, false
	if raw := firstString(m, kindFields); raw != "" {
		kind, ok = parseKind(raw)
	}
	if !ok {
		kind = inferKind(message)
	}
	if message == "" {
		message = strings.ToLower(strings.ReplaceAll(string(kind), "_", " "))
	}

	appErr := Wrap(kind, message, cause)
	if hint != "" {
		appErr.Hint = hint
	}
	return appErr
}

func normalizeText(text string, cause error) *AppError {
	text = strings.TrimSpace(text)
	if text == "" {
		return Wrap(KindUnknown, "unknown error", cause)
	}
	// "KIND: message" is the native backend's plain string shape.
	if head, rest, found := strings.Cut(text, ":"); found {
		if kind, ok := parseKind(head); ok && kind != KindUnknown {
			return Wrap(kind, strings.TrimSpace(rest), cause)
		}
	}
	if cause != nil {
		return &AppError{Kind: inferKind(text), Message: text, Hint: defaultHints[inferKind(text)], Err: cause}
	}
	return New(inferKind(text), text)
}

func parseKind(raw string) (Kind, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if kind, ok := kindAliases[key]; ok {
		return kind, true
	}
	if kind := Kind(strings.ToUpper(key)); kind.Valid() {
		return kind, true
	}
	return KindUnknown, false
}

func inferKind(text string) Kind {
	lower := strings.ToLower(text)
	for _, rule := range textRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

func firstString(m map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
