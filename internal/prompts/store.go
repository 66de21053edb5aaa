package prompts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store holds the active templates and swaps them when the override file changes.
type Store struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Templates]
}

// NewStore loads templates from path, or the defaults when path is empty.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger}
	if path == "" {
		s.current.Store(MustDefault())
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Templates returns the active templates.
func (s *Store) Templates() *Templates {
	return s.current.Load()
}

// Render renders kind with the active templates.
func (s *Store) Render(kind Kind, data Data) (string, error) {
	return s.Templates().Render(kind, data)
}

// Reload re-reads the override file. On error the active templates are kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	set, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	t, err := Compile(set)
	if err != nil {
		return err
	}
	s.current.Store(t)
	return nil
}

// Watch reloads templates whenever the override file is written, created or
// renamed into place. It blocks until ctx is done. Without an override file
// it just waits for ctx.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompts watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename, which drops a file watch.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("prompt reload failed, keeping previous templates",
					zap.String("path", s.path), zap.Error(err))
				continue
			}
			s.logger.Info("prompts reloaded", zap.String("path", s.path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("prompts watcher error", zap.Error(err))
		}
	}
}
