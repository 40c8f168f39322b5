// Package livestream resolves per-room livestream URLs from a local TOML
// file maintained by the organizers. The file is reloaded whenever it
// changes on disk, so URLs can be fixed mid-conference without restarting
// the bot.
package livestream

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Store holds the livestream URLs grouped by room and conference day.
//
// The file looks like:
//
//	[rooms.forum_hall]
//	name = "Forum Hall"
//	2025-07-16 = "https://youtube.com/live/..."
//	2025-07-17 = "https://youtube.com/live/..."
type Store struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	byRoom map[string]map[string]string // lowercase room name -> day -> URL
}

// NewStore creates a livestream store for the given file. Call Load before
// first use.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, byRoom: make(map[string]map[string]string)}
}

// Load reads and parses the livestream file, replacing the in-memory state.
// On a parse error the previous state is kept.
func (s *Store) Load() error {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read livestream file %s: %w", s.path, err)
	}

	byRoom := make(map[string]map[string]string)
	for _, raw := range v.GetStringMap("rooms") {
		table, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := table["name"].(string)
		if name == "" {
			continue
		}
		urls := make(map[string]string)
		for key, value := range table {
			if key == "name" {
				continue
			}
			if url, ok := value.(string); ok {
				urls[key] = url
			}
		}
		byRoom[strings.ToLower(name)] = urls
	}

	s.mu.Lock()
	s.byRoom = byRoom
	s.mu.Unlock()
	s.logger.Info("loaded livestream file",
		zap.String("file", s.path), zap.Int("rooms", len(byRoom)))
	return nil
}

// URL returns the livestream URL for a room (case-insensitive) and day
// ("2006-01-02").
func (s *Store) URL(room, day string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls, ok := s.byRoom[strings.ToLower(room)]
	if !ok {
		return "", false
	}
	url, ok := urls[day]
	return url, ok
}

// Watch reloads the store whenever the file changes, until the context is
// canceled. The parent directory is watched because most editors and config
// deploys replace the file by rename.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create livestream watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("livestream watcher stopping")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Load(); err != nil {
				s.logger.Warn("reload livestream file", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("livestream watcher", zap.Error(err))
		}
	}
}
