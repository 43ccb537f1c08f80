package memory

import (
	"context"
	"sync"
	"time"
)

// CooldownGuard is a single-process ports.CooldownGuard.
type CooldownGuard struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewCooldownGuard() *CooldownGuard {
	return &CooldownGuard{expires: make(map[string]time.Time), now: time.Now}
}

// Acquire grants key when it is free or its previous grant has expired.
func (g *CooldownGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if until, ok := g.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	g.expires[key] = now.Add(ttl)
	return true, nil
}

// Release frees key before its ttl runs out.
func (g *CooldownGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.expires, key)
	return nil
}
