// Package store provides the durable, scoped key/value storage the workflow
// orchestrator rehydrates from, plus a defensive view that never lets a
// storage failure escape as a fatal error.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrQuotaExceeded is returned by backends that enforce a value size limit.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Backend is durable key/value storage partitioned by scope.
type Backend interface {
	Get(ctx context.Context, scope, key string) (string, bool, error)
	Set(ctx context.Context, scope, key, value string) error
	Delete(ctx context.Context, scope, key string) error
	// Clear removes every key of the scope.
	Clear(ctx context.Context, scope string) error
}

// PersistenceError reports a failed storage operation. It is always non-fatal.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("failed to %s state: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s state key %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Scoped is a defensive view of one scope of a Backend. Writes report
// failures as *PersistenceError values for the caller to surface as
// warnings; reads of unusable values delete the key and report absence.
type Scoped struct {
	backend Backend
	scope   string
	logger  *slog.Logger
}

// NewScoped binds backend to scope.
func NewScoped(backend Backend, scope string, logger *slog.Logger) *Scoped {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scoped{
		backend: backend,
		scope:   scope,
		logger:  logger.With("scope", scope),
	}
}

// Scope returns the scope this view is bound to.
func (s *Scoped) Scope() string { return s.scope }

// Get returns the raw value for key. Backend read failures are logged and
// treated as absence.
func (s *Scoped) Get(ctx context.Context, key string) (string, bool) {
	value, ok, err := s.backend.Get(ctx, s.scope, key)
	if err != nil {
		s.logger.Warn("state read failed, treating as absent", "key", key, "error", err)
		return "", false
	}
	return value, ok
}

// GetParsed reads key and hands it to parse. When parse fails the value is
// considered corrupted: the key is deleted and absence is reported.
func (s *Scoped) GetParsed(ctx context.Context, key string, parse func(string) error) bool {
	value, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := parse(value); err != nil {
		s.logger.Warn("corrupted state value removed", "key", key, "error", err)
		if delErr := s.backend.Delete(ctx, s.scope, key); delErr != nil {
			s.logger.Warn("failed to remove corrupted state value", "key", key, "error", delErr)
		}
		return false
	}
	return true
}

// GetJSON decodes the JSON value stored at key into v.
func (s *Scoped) GetJSON(ctx context.Context, key string, v interface{}) bool {
	return s.GetParsed(ctx, key, func(raw string) error {
		return json.Unmarshal([]byte(raw), v)
	})
}

// Set writes value at key.
func (s *Scoped) Set(ctx context.Context, key, value string) error {
	if err := s.backend.Set(ctx, s.scope, key, value); err != nil {
		perr := &PersistenceError{Op: "write", Key: key, Err: err}
		s.logger.Warn("state write failed, continuing in memory", "key", key, "error", err)
		return perr
	}
	return nil
}

// SetJSON encodes v as JSON and writes it at key.
func (s *Scoped) SetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		perr := &PersistenceError{Op: "serialize", Key: key, Err: err}
		s.logger.Warn("state serialization failed, continuing in memory", "key", key, "error", err)
		return perr
	}
	return s.Set(ctx, key, string(data))
}

// Delete removes key.
func (s *Scoped) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.scope, key); err != nil {
		s.logger.Warn("state delete failed", "key", key, "error", err)
		return &PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Clear removes every key in the scope.
func (s *Scoped) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx, s.scope); err != nil {
		s.logger.Warn("state clear failed", "error", err)
		return &PersistenceError{Op: "clear", Err: err}
	}
	return nil
}
