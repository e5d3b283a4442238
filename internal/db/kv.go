package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
)

// KV is a namespaced key/value store on top of DB.
type KV struct {
	db *DB
}

// NewKV creates a KV over db.
func NewKV(db *DB) *KV {
	return &KV{db: db}
}

// Get returns the value stored at key. A missing key yields a NOT_FOUND
// AppError.
func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("no value for %s", key))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "failed to read local state", err)
	}
	return value, nil
}

// Put stores value at key, replacing any previous value.
func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return apperrors.New(apperrors.KindValidation, "key is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "failed to write local state", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "failed to delete local state", err)
	}
	return nil
}

// GetJSON decodes the value at key into v. It reports false when the key
// is missing.
func (s *KV) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if apperrors.Is(err, apperrors.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, apperrors.Wrap(apperrors.KindDatabase, fmt.Sprintf("corrupt value for %s", key), err)
	}
	return true, nil
}

// PutJSON stores v encoded as JSON at key.
func (s *KV) PutJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "value is not encodable", err)
	}
	return s.Put(ctx, key, raw)
}
