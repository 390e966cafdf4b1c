// Package watcher polls a directory tree for transcripts that do not
// have a comic yet.
package watcher

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"comicgen/pkg/highlight"
)

// Service tracks which pending transcripts have already been handed
// out, so a poll loop never processes the same file twice. A
// transcript is offered again only when its modification time changes.
type Service struct {
	root string

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewService creates a watcher over a directory tree.
func NewService(root string) (*Service, error) {
	if root == "" {
		return nil, errors.New("watcher: no directory to watch")
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		slog.Warn("Watcher: directory does not exist yet", "path", root)
	}

	return &Service{
		root: root,
		seen: make(map[string]time.Time),
	}, nil
}

// CheckNew returns the pending transcripts that appeared or changed
// since the previous call. The first call returns everything pending.
func (s *Service) CheckNew() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := highlight.FindPending(s.root)
	if err != nil {
		slog.Warn("Watcher: scan failed", "path", s.root, "error", err)
		return nil
	}

	var fresh []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if last, ok := s.seen[p]; ok && !mod.After(last) {
			continue
		}
		s.seen[p] = mod
		fresh = append(fresh, p)
	}

	if len(fresh) > 0 {
		slog.Info("Watcher: new transcripts detected", "count", len(fresh))
	}
	return fresh
}
