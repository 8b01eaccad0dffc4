package users

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore serves users from a JSON file holding an array of User objects.
// The file is watched and reloaded when it is written, replaced or renamed
// into place. A reload that fails to parse keeps the previous users.
type FileStore struct {
	path    string
	users   *MemoryStore
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Lookup = (*FileStore)(nil)

// NewFileStore loads path and starts watching its directory.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users file path: %w", err)
	}

	loaded, err := readUsersFile(abs)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// editors often replace files, so watch the directory
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch users file: %w", err)
	}

	s := &FileStore{
		path:    abs,
		users:   NewMemoryStore(loaded...),
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.watch()

	logger.Info("Loaded users file", "path", abs, "users", len(loaded))
	return s, nil
}

// FindByEmail implements Lookup.
func (s *FileStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.users.FindByEmail(ctx, email)
}

// Len returns the number of loaded users.
func (s *FileStore) Len() int {
	return s.users.Len()
}

// Close stops watching the file. Safe to call more than once.
func (s *FileStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
	})
	return err
}

func (s *FileStore) watch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Users file watcher error", "error", err)
		}
	}
}

func (s *FileStore) reload() {
	loaded, err := readUsersFile(s.path)
	if err != nil {
		s.logger.Warn("Failed to reload users file, keeping previous users",
			"path", s.path,
			"error", err)
		return
	}

	s.users.Replace(loaded)
	s.logger.Info("Reloaded users file", "path", s.path, "users", len(loaded))
}

func readUsersFile(path string) ([]User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var loaded []User
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}

	for i, u := range loaded {
		if u.Email == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("users file entry %d needs email and password_hash", i)
		}
	}

	return loaded, nil
}
