package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// listCache memoizes the marshaled list payload for one ETag. Correctness
// never depends on it: handleList re-stats the directory on every request
// and rebuilds on any ETag mismatch. The watcher only drops the payload
// early so edits show up in the next response without a rebuild-on-miss
// stat race window.
type listCache struct {
	mu      sync.Mutex
	etag    string
	payload []byte
}

func (c *listCache) get(etag string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.etag != etag || c.payload == nil {
		return nil, false
	}
	return c.payload, true
}

func (c *listCache) set(etag string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.etag = etag
	c.payload = payload
}

func (c *listCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.etag = ""
	c.payload = nil
}

// Watch invalidates the server's list cache whenever a file under one of
// dirs changes. It blocks until ctx is done.
func (s *Server) Watch(ctx context.Context, dirs ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			// A missing prompt/info directory is not fatal; requests still
			// recompute fingerprints themselves.
			slog.Warn("not watching directory", "dir", dir, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				slog.Info("character files changed", "file", event.Name, "op", event.Op.String())
				s.list.invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}
