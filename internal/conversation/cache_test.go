package conversation

import (
	"testing"
	"time"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	return NewCache(ttl, WithClock(clock.Now)), clock
}

func TestCacheGetMissingConversation(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	if _, ok := cache.Get("missing"); ok {
		t.Fatalf("expected miss for unknown conversation")
	}
}

func TestCacheUpdateCreatesAndGetReturnsCopy(t *testing.T) {
	cache, _ := newTestCache(time.Minute)

	cache.Update("conv1", func(s *domain.ConversationState) {
		s.PushDocument(domain.DocumentRef{ID: "doc1", Name: "lease.pdf"})
	})

	got, ok := cache.Get("conv1")
	if !ok {
		t.Fatalf("expected hit after update")
	}
	if len(got.DocumentStack) != 1 || got.DocumentStack[0].ID != "doc1" {
		t.Fatalf("unexpected state %+v", got.DocumentStack)
	}

	// Mutating the returned copy must not leak into the cache.
	got.DocumentStack[0].ID = "tampered"
	again, _ := cache.Get("conv1")
	if again.DocumentStack[0].ID != "doc1" {
		t.Fatalf("cache state mutated through returned copy")
	}
}

func TestCacheEntryExpires(t *testing.T) {
	cache, clock := newTestCache(time.Minute)
	cache.Update("conv1", func(s *domain.ConversationState) {})

	clock.Advance(59 * time.Second)
	if _, ok := cache.Get("conv1"); !ok {
		t.Fatalf("entry expired before its TTL")
	}

	clock.Advance(2 * time.Second)
	if _, ok := cache.Get("conv1"); ok {
		t.Fatalf("expected expired entry treated as absent")
	}
}

func TestCacheUpdateRefreshesTTL(t *testing.T) {
	cache, clock := newTestCache(time.Minute)
	cache.Update("conv1", func(s *domain.ConversationState) {})

	clock.Advance(50 * time.Second)
	cache.Update("conv1", func(s *domain.ConversationState) {})

	clock.Advance(50 * time.Second)
	if _, ok := cache.Get("conv1"); !ok {
		t.Fatalf("update must refresh the TTL")
	}
}

func TestCacheUpdateAfterExpiryStartsFresh(t *testing.T) {
	cache, clock := newTestCache(time.Minute)
	cache.Update("conv1", func(s *domain.ConversationState) {
		s.PushDocument(domain.DocumentRef{ID: "doc1", Name: "lease.pdf"})
	})

	clock.Advance(2 * time.Minute)
	updated := cache.Update("conv1", func(s *domain.ConversationState) {})
	if len(updated.DocumentStack) != 0 {
		t.Fatalf("expired entry must be reset before the mutation, got %+v", updated.DocumentStack)
	}
}

func TestCacheSweepEvictsExpired(t *testing.T) {
	cache, clock := newTestCache(time.Minute)
	cache.Update("stale", func(s *domain.ConversationState) {})

	clock.Advance(30 * time.Second)
	cache.Update("fresh", func(s *domain.ConversationState) {})

	clock.Advance(45 * time.Second)
	if evicted := cache.sweep(); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 live entry after sweep, got %d", cache.Len())
	}
	if _, ok := cache.Get("fresh"); !ok {
		t.Fatalf("fresh entry must survive the sweep")
	}
}

func TestCacheUpdateSurvivesEvictionMidMutation(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	cache.Update("conv1", func(s *domain.ConversationState) {})

	// Evict the entry while the mutation holds its lock, the way a sweep
	// landing between the map lookup and the entry lock would.
	updated := cache.Update("conv1", func(s *domain.ConversationState) {
		cache.Delete("conv1")
		s.CurrentTopic = "renewals"
	})
	if updated.CurrentTopic != "renewals" {
		t.Fatalf("unexpected returned state %+v", updated)
	}

	got, ok := cache.Get("conv1")
	if !ok {
		t.Fatalf("entry lost after eviction raced the update")
	}
	if got.CurrentTopic != "renewals" {
		t.Fatalf("cache kept stale state %q", got.CurrentTopic)
	}
}

func TestCacheDelete(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	cache.Update("conv1", func(s *domain.ConversationState) {})
	cache.Delete("conv1")
	if _, ok := cache.Get("conv1"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestCacheZeroTTLUsesDefault(t *testing.T) {
	cache := NewCache(0)
	if cache.ttl != DefaultTTL {
		t.Fatalf("expected default TTL, got %v", cache.ttl)
	}
}
