package ratelimit

import (
	"context"
	"sync"
	"time"
)

type client struct {
	failures     int
	last         time.Time
	blockedUntil time.Time
}

// Guard throttles login attempts per client. Failures inside the window
// accumulate; past maxFailures the client is blocked for the block duration.
// Each failure also earns a backoff delay the handler sleeps before replying.
type Guard struct {
	mu          sync.Mutex
	clients     map[string]*client
	maxFailures int
	window      time.Duration
	block       time.Duration
	backoff     *Backoff
	now         func() time.Time
}

func NewGuard(maxFailures int, window, block time.Duration, backoff *Backoff) *Guard {
	return &Guard{
		clients:     make(map[string]*client),
		maxFailures: maxFailures,
		window:      window,
		block:       block,
		backoff:     backoff,
		now:         time.Now,
	}
}

// Allow reports whether id may attempt a login, and if not, for how long it
// stays blocked.
func (g *Guard) Allow(id string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.clients[id]
	if !ok {
		return true, 0
	}
	if now := g.now(); now.Before(c.blockedUntil) {
		return false, c.blockedUntil.Sub(now)
	}
	return true, 0
}

// Failure records a failed attempt and returns the delay to impose.
func (g *Guard) Failure(id string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	c, ok := g.clients[id]
	if !ok {
		c = &client{}
		g.clients[id] = c
	}
	if now.Sub(c.last) > g.window {
		c.failures = 0
	}
	c.failures++
	c.last = now
	if c.failures >= g.maxFailures {
		c.blockedUntil = now.Add(g.block)
	}
	if g.backoff == nil {
		return 0
	}
	return g.backoff.Delay(c.failures)
}

// Success forgets id.
func (g *Guard) Success(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, id)
}

// Run evicts idle clients every interval until ctx is done.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for id, c := range g.clients {
		if now.Sub(c.last) > 2*g.window && now.After(c.blockedUntil) {
			delete(g.clients, id)
		}
	}
}

func (g *Guard) tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}
