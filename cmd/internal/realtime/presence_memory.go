package realtime

import (
	"context"
	"sync"
	"time"
)

// MemoryPresenceBackend is an in-process PresenceBackend with explicit
// expiring entries: insertion time is stored, expiry is checked on read,
// and eviction is lazy. Used in dev and tests; production deployments run
// the redis backend.
type MemoryPresenceBackend struct {
	mu      sync.RWMutex
	entries map[string]presenceEntry

	now func() time.Time
}

type presenceEntry struct {
	rec       PresenceRecord
	expiresAt time.Time
}

// NewMemoryPresenceBackend constructs an empty in-memory backend.
func NewMemoryPresenceBackend() *MemoryPresenceBackend {
	return &MemoryPresenceBackend{
		entries: make(map[string]presenceEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Put overwrites the user's record and arms its TTL.
func (b *MemoryPresenceBackend) Put(_ context.Context, rec PresenceRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = presenceTTL
	}

	b.mu.Lock()
	b.entries[rec.UserID] = presenceEntry{rec: rec, expiresAt: b.now().Add(ttl)}
	b.mu.Unlock()
	return nil
}

// Get returns the user's record unless it never existed or has lapsed.
func (b *MemoryPresenceBackend) Get(_ context.Context, userID string) (PresenceRecord, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[userID]
	b.mu.RUnlock()

	if !ok {
		return PresenceRecord{}, false, nil
	}
	if b.now().After(e.expiresAt) {
		b.evict(userID, e.expiresAt)
		return PresenceRecord{}, false, nil
	}
	return e.rec, true, nil
}

// GetMulti returns the live records among userIDs.
func (b *MemoryPresenceBackend) GetMulti(ctx context.Context, userIDs []string) (map[string]PresenceRecord, error) {
	out := make(map[string]PresenceRecord, len(userIDs))
	for _, id := range userIDs {
		if rec, ok, _ := b.Get(ctx, id); ok {
			out[id] = rec
		}
	}
	return out, nil
}

// evict removes an expired entry, re-checking under the write lock since a
// concurrent Put may have refreshed it.
func (b *MemoryPresenceBackend) evict(userID string, seenExpiry time.Time) {
	b.mu.Lock()
	if e, ok := b.entries[userID]; ok && e.expiresAt.Equal(seenExpiry) {
		delete(b.entries, userID)
	}
	b.mu.Unlock()
}
