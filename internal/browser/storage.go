// Package browser implements the ephemeral client-side cart tier.
//
// Storage is a synchronous key/value store scoped to one browser profile,
// modelled on Web Storage: string keys, string values, quota and "disabled"
// failures. Memory backs tests; File persists a profile across CLI runs.
package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage failures. Both are transient: callers log and degrade to empty.
var (
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrDisabled      = errors.New("storage disabled")
)

// Storage is a synchronous, browser-scoped key/value store.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// Memory is an in-process Storage with an optional byte quota.
type Memory struct {
	// Quota caps the total size of keys plus values. Zero means unlimited.
	Quota int
	// Disabled makes every operation fail with ErrDisabled.
	Disabled bool

	mu   sync.Mutex
	data map[string]string
}

// NewMemory creates an empty Memory storage.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Disabled {
		return "", false, ErrDisabled
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Disabled {
		return ErrDisabled
	}
	if m.data == nil {
		m.data = make(map[string]string)
	}
	if m.Quota > 0 {
		used := len(key) + len(value)
		for k, v := range m.data {
			if k != key {
				used += len(k) + len(v)
			}
		}
		if used > m.Quota {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Disabled {
		return ErrDisabled
	}
	delete(m.data, key)
	return nil
}

// File is a Storage persisted as one JSON object on disk.
// Every operation reads the file; writes replace it atomically.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a File storage at path. The file is created on first Set.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return values, nil
}

func (f *File) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(values)
}

var (
	_ Storage = (*Memory)(nil)
	_ Storage = (*File)(nil)
)
