package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend stores each scope as a JSON object in its own file under Dir.
// A scope file that no longer decodes is removed on the next access.
type FileBackend struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithFileLogger sets the logger used to report healed scope files.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(f *FileBackend) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string, opts ...FileOption) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	f := &FileBackend{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FileBackend) path(scope string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(scope))+".json")
}

func (f *FileBackend) load(scope string) (map[string]string, error) {
	data, err := os.ReadFile(f.path(scope))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		f.logger.Warn("corrupted state file removed", "scope", scope, "error", err)
		if rmErr := os.Remove(f.path(scope)); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove corrupted state file: %w", rmErr)
		}
		return map[string]string{}, nil
	}
	if values == nil {
		values = map[string]string{}
	}
	return values, nil
}

func (f *FileBackend) save(scope string, values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state file: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, ".state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(scope)); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (f *FileBackend) Get(ctx context.Context, scope, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load(scope)
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileBackend) Set(ctx context.Context, scope, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load(scope)
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(scope, values)
}

func (f *FileBackend) Delete(ctx context.Context, scope, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load(scope)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(scope, values)
}

func (f *FileBackend) Clear(ctx context.Context, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(scope)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}
