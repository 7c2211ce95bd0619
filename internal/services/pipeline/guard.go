package pipeline

import (
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Guard owns the local files of a run until it is committed. Cleanup
// removes every file still tracked.
type Guard struct {
	mu     sync.Mutex
	paths  []string
	logger zerolog.Logger
}

// NewGuard creates an empty guard.
func NewGuard(logger zerolog.Logger) *Guard {
	return &Guard{logger: logger}
}

// Track registers path for removal on abort.
func (g *Guard) Track(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paths = append(g.paths, path)
}

// Untrack stops guarding path.
func (g *Guard) Untrack(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, p := range g.paths {
		if p == path {
			g.paths = append(g.paths[:i], g.paths[i+1:]...)
			return
		}
	}
}

// Commit releases every tracked file.
func (g *Guard) Commit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paths = nil
}

// Tracked returns the currently tracked paths.
func (g *Guard) Tracked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.paths...)
}

// Cleanup removes every tracked file.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.paths {
		err := os.Remove(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			g.logger.Error().Err(err).Str("path", p).Msg("failed to remove partial file")
			continue
		}
		g.logger.Warn().Str("path", p).Msg("removed partial file")
	}
	g.paths = nil
}
