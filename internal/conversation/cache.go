// Package conversation holds the in-memory conversation state cache.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

const DefaultTTL = 45 * time.Minute

// Cache is a TTL-bounded map of conversation state with per-entry locking.
// Reads return deep copies; all mutation goes through Update so the bounded
// list invariants are enforced in exactly one place. The clock is injected
// for deterministic expiry tests.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	clock   func() time.Time
	logger  *slog.Logger
}

type entry struct {
	mu        sync.Mutex
	state     *domain.ConversationState
	expiresAt time.Time
}

type Option func(*Cache)

func WithClock(clock func() time.Time) Option {
	return func(c *Cache) { c.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func NewCache(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the state, treating expired entries as absent.
func (c *Cache) Get(conversationID string) (*domain.ConversationState, bool) {
	c.mu.RLock()
	e, ok := c.entries[conversationID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c.clock().After(e.expiresAt) {
		return nil, false
	}
	return e.state.Clone(), true
}

// Update applies mutate under the entry's lock, creating the entry when
// missing or expired, and refreshes the TTL. The returned state is a copy.
func (c *Cache) Update(conversationID string, mutate func(*domain.ConversationState)) *domain.ConversationState {
	c.mu.Lock()
	e, ok := c.entries[conversationID]
	if !ok {
		e = &entry{state: domain.NewConversationState(conversationID)}
		c.entries[conversationID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	now := c.clock()
	if ok && now.After(e.expiresAt) {
		e.state = domain.NewConversationState(conversationID)
	}
	mutate(e.state)
	e.expiresAt = now.Add(c.ttl)
	cloned := e.state.Clone()
	e.mu.Unlock()

	// The sweeper may have evicted the entry between the lookup above and
	// taking its lock. Reinstall it so the write is not lost. The entry lock
	// is released first; sweep acquires entry locks while holding c.mu.
	c.mu.Lock()
	if _, present := c.entries[conversationID]; !present {
		c.entries[conversationID] = e
	}
	c.mu.Unlock()
	return cloned
}

func (c *Cache) Delete(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}

// Len reports the live entry count, counting expired-but-unswept entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper evicts expired entries on the given interval until ctx is
// cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := c.sweep(); evicted > 0 {
					c.logger.Debug("conversation cache sweep", "evicted", evicted)
				}
			}
		}
	}()
}

func (c *Cache) sweep() int {
	now := c.clock()

	c.mu.RLock()
	expired := make([]string, 0)
	for id, e := range c.entries {
		e.mu.Lock()
		if now.After(e.expiresAt) {
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	c.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	c.mu.Lock()
	evicted := 0
	for _, id := range expired {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		e.mu.Lock()
		stillExpired := now.After(e.expiresAt)
		e.mu.Unlock()
		if stillExpired {
			delete(c.entries, id)
			evicted++
		}
	}
	c.mu.Unlock()
	return evicted
}
