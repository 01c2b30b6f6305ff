package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one stored preview. It is released exactly once:
// either when its record is superseded or when the store closes.
type Handle struct {
	ID          string
	Path        string
	ContentType string
	Size        int64
}

// LocalStore keeps uploaded preview media on disk for the lifetime of
// the service session. Nothing persists across restarts: the backing
// directory is created fresh and removed on Close.
type LocalStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewLocalStore creates the backing directory. An empty dir uses a
// fresh temp directory.
func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "guardian-previews-")
		if err != nil {
			return nil, fmt.Errorf("failed to create preview directory: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory %q: %w", dir, err)
	}

	return &LocalStore{
		dir:     dir,
		logger:  logger,
		handles: make(map[string]*Handle),
	}, nil
}

// Save writes the source bytes under a generated name and returns the
// owning handle. The submitted file name never reaches the filesystem.
func (s *LocalStore) Save(src io.Reader, contentType string) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("preview store is closed")
	}
	s.mu.Unlock()

	id := uuid.New().String()
	path := filepath.Join(s.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview file: %w", err)
	}

	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write preview file: %w", err)
	}

	h := &Handle{
		ID:          id,
		Path:        path,
		ContentType: contentType,
		Size:        size,
	}

	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	return h, nil
}

// Get looks up a live handle by ID.
func (s *LocalStore) Get(id string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// Release removes the handle's backing file. Releasing an already
// released handle is a no-op.
func (s *LocalStore) Release(h *Handle) {
	if h == nil {
		return
	}

	s.mu.Lock()
	_, live := s.handles[h.ID]
	delete(s.handles, h.ID)
	s.mu.Unlock()

	if !live {
		return
	}
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove preview file", "path", h.Path, "error", err)
	}
}

// Close releases every live handle and removes the backing directory.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()

	return os.RemoveAll(s.dir)
}
