// Package store holds the relay's persisted state: the VAPID key pair, the
// shared secret and the subscription map. Each store reads and writes
// through a Persistence so tests can swap the filesystem for memory.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrNotInitialized = errors.New("store not initialized")
	ErrEmptySecret    = errors.New("secret file is empty")
)

// Persistence reads and writes one whole document. Read returns an error
// matching fs.ErrNotExist when nothing has been written yet.
type Persistence interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

type FilePersistence struct {
	path string
	perm os.FileMode
}

func NewFile(path string, perm os.FileMode) *FilePersistence {
	return &FilePersistence{path: path, perm: perm}
}

func (f *FilePersistence) Path() string {
	return f.path
}

func (f *FilePersistence) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return data, nil
}

// Write replaces the file atomically via a temp file in the same directory.
func (f *FilePersistence) Write(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(f.perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", f.path, err)
	}
	return nil
}

// MemoryPersistence keeps the document in memory. WriteErr, when set, makes
// every Write fail.
type MemoryPersistence struct {
	mu       sync.Mutex
	data     []byte
	written  bool
	writes   int
	WriteErr error
}

func NewMemory() *MemoryPersistence {
	return &MemoryPersistence{}
}

// NewMemoryWith returns a MemoryPersistence that already holds data.
func NewMemoryWith(data []byte) *MemoryPersistence {
	return &MemoryPersistence{data: append([]byte(nil), data...), written: true}
}

func (m *MemoryPersistence) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.written {
		return nil, fmt.Errorf("memory: %w", fs.ErrNotExist)
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryPersistence) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.data = append([]byte(nil), data...)
	m.written = true
	m.writes++
	return nil
}

// Writes reports how many successful writes have happened.
func (m *MemoryPersistence) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetWriteErr changes WriteErr under the lock.
func (m *MemoryPersistence) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteErr = err
}
