package asset

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
)

// FileSource serves scripts from a directory. Identifiers are slash
// separated paths relative to the root.
type FileSource struct {
	watcher *fsnotify.Watcher
	changes chan string
	stopCh  chan struct{}
	root    string
	mu      sync.Mutex
	closed  bool
}

// NewFileSource creates a source rooted at dir.
func NewFileSource(dir string) (*FileSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Load("open script directory", err)
	}
	if !info.IsDir() {
		return nil, errors.InvalidInput(errors.PhaseLoad, abs+" is not a directory")
	}
	return &FileSource{
		root:    abs,
		changes: make(chan string, 64),
		stopCh:  make(chan struct{}),
	}, nil
}

// Root returns the absolute script directory.
func (s *FileSource) Root() string { return s.root }

func (s *FileSource) Load(_ context.Context, id string) (Asset, error) {
	rel := filepath.FromSlash(id)
	if !filepath.IsLocal(rel) {
		return Asset{}, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("script %q escapes the script directory", id))
	}
	src, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return Asset{}, errors.NotFound(errors.PhaseLoad, "script", id)
		}
		return Asset{}, errors.Load("read "+id, err)
	}
	return Asset{ID: id, Language: DetectLanguage(id), Bytes: src}, nil
}

// List returns the identifiers of every script with a known language,
// sorted.
func (s *FileSource) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || DetectLanguage(p) == "" {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Load("list scripts", err)
	}
	return out, nil
}

// Watch starts reporting changed scripts on Changes. The root and every
// directory below it at the time of the call are watched.
func (s *FileSource) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.InvalidState(errors.PhaseLoad, "source is closed")
	}
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	err = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop(watcher)

	Logger().Info("watching scripts for changes", zap.String("root", s.root))
	return nil
}

func (s *FileSource) Changes() <-chan string { return s.changes }

// Close stops watching. The change channel is not closed.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *FileSource) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// editors that save atomically create the file instead of writing it
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || DetectLanguage(event.Name) == "" {
				continue
			}
			rel, err := filepath.Rel(s.root, event.Name)
			if err != nil {
				continue
			}
			id := filepath.ToSlash(rel)
			Logger().Debug("script changed",
				zap.String("script", id),
				zap.String("event", event.Op.String()))

			select {
			case s.changes <- id:
			case <-s.stopCh:
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			Logger().Error("script watcher error", zap.Error(err))

		case <-s.stopCh:
			return
		}
	}
}
