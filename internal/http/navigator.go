package http

import (
	"context"
	"sync"
)

// PendingNavigation records hard navigations requested by the session core
// until the shell collects them through GET /session. Only the latest target
// is kept: a hard navigation discards whatever was about to be shown.
type PendingNavigation struct {
	mu     sync.Mutex
	target string
}

// NewPendingNavigation returns an empty navigation slot.
func NewPendingNavigation() *PendingNavigation {
	return &PendingNavigation{}
}

// Navigate implements application.Navigator.
func (p *PendingNavigation) Navigate(ctx context.Context, target string) {
	p.mu.Lock()
	p.target = target
	p.mu.Unlock()

	if logger := LoggerFromContext(ctx); logger != nil {
		logger.InfoContext(ctx, "hard navigation requested", "target", target)
	}
}

// Take returns the pending target and clears it.
func (p *PendingNavigation) Take() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.target
	p.target = ""
	return target
}
