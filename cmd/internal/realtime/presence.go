package realtime

import (
	"context"
	"log/slog"
	"time"
)

// Status is a user's presence classification.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether s is a client-settable presence value.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// PresenceRecord is the authoritative presence row for one user.
// Writes are last-write-wins keyed by UpdatedAt; absence of a record is
// equivalent to offline.
type PresenceRecord struct {
	UserID     string            `json:"user_id"`
	Status     Status            `json:"status"`
	LastSeenAt time.Time         `json:"last_seen_at"`
	Device     map[string]string `json:"device,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// PresenceBackend is the volatile medium presence records live in. Backends
// may be best-effort; the store above them swallows their failures.
type PresenceBackend interface {
	Put(ctx context.Context, rec PresenceRecord, ttl time.Duration) error
	Get(ctx context.Context, userID string) (PresenceRecord, bool, error)
	GetMulti(ctx context.Context, userIDs []string) (map[string]PresenceRecord, error)
}

// LastSeenSource supplies the persistent last-seen timestamp used when the
// fast store misses. StateStore satisfies it.
type LastSeenSource interface {
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// PresenceStore is the TTL-bounded mapping of user -> current status.
//
// Failure semantics: every backend failure is swallowed and logged. Callers
// must never fail a higher-level operation because presence lookup failed;
// a miss degrades to the last-seen fallback, and no data at all means offline.
type PresenceStore struct {
	log      *slog.Logger
	backend  PresenceBackend
	lastSeen LastSeenSource

	ttl time.Duration
	now func() time.Time
}

// NewPresenceStore constructs a presence store over the given backend.
// lastSeen may be nil when no persistent fallback exists.
func NewPresenceStore(log *slog.Logger, backend PresenceBackend, lastSeen LastSeenSource) *PresenceStore {
	return &PresenceStore{
		log:      log,
		backend:  backend,
		lastSeen: lastSeen,
		ttl:      presenceTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetStatus overwrites the user's presence record and refreshes its TTL.
// It always succeeds from the caller's point of view.
func (p *PresenceStore) SetStatus(ctx context.Context, userID string, status Status, device map[string]string) {
	if p == nil || userID == "" {
		return
	}
	if !ValidStatus(status) {
		status = StatusOffline
	}

	now := p.now()
	rec := PresenceRecord{
		UserID:     userID,
		Status:     status,
		LastSeenAt: now,
		Device:     device,
		UpdatedAt:  now,
	}

	if err := p.backend.Put(ctx, rec, p.ttl); err != nil {
		p.log.Warn("presence.put.fail", "user_id", userID, "err", err)
	}
}

// Status returns the user's current presence record. A live record wins;
// otherwise the persistent last-seen timestamp is classified through the
// fallback heuristic, and total absence of data means offline.
func (p *PresenceStore) Status(ctx context.Context, userID string) PresenceRecord {
	if p == nil || userID == "" {
		return PresenceRecord{UserID: userID, Status: StatusOffline}
	}

	rec, ok, err := p.backend.Get(ctx, userID)
	if err != nil {
		p.log.Warn("presence.get.fail", "user_id", userID, "err", err)
	}
	if ok {
		return rec
	}

	return p.fallback(ctx, userID)
}

// Statuses is the bulk variant of Status. Input beyond the bulk cap is
// truncated to bound response size.
func (p *PresenceStore) Statuses(ctx context.Context, userIDs []string) map[string]PresenceRecord {
	out := make(map[string]PresenceRecord, len(userIDs))
	if p == nil || len(userIDs) == 0 {
		return out
	}

	if len(userIDs) > presenceBulkMax {
		p.log.Warn("presence.bulk.truncated", "requested", len(userIDs), "cap", presenceBulkMax)
		userIDs = userIDs[:presenceBulkMax]
	}

	found, err := p.backend.GetMulti(ctx, userIDs)
	if err != nil {
		p.log.Warn("presence.get_multi.fail", "err", err)
		found = nil
	}

	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if rec, ok := found[id]; ok {
			out[id] = rec
			continue
		}
		out[id] = p.fallback(ctx, id)
	}

	return out
}

// fallback synthesizes a derived record from the persistent last-seen
// timestamp so presence degrades gracefully when the fast store misses.
func (p *PresenceStore) fallback(ctx context.Context, userID string) PresenceRecord {
	rec := PresenceRecord{UserID: userID, Status: StatusOffline}

	if p.lastSeen == nil {
		return rec
	}

	seen, ok, err := p.lastSeen.LastSeen(ctx, userID)
	if err != nil {
		p.log.Warn("presence.fallback.fail", "user_id", userID, "err", err)
		return rec
	}
	if !ok || seen.IsZero() {
		return rec
	}

	rec.LastSeenAt = seen

	switch age := p.now().Sub(seen); {
	case age <= presenceOnlineWithin:
		rec.Status = StatusOnline
	case age <= presenceAwayWithin:
		rec.Status = StatusAway
	default:
		rec.Status = StatusOffline
	}

	return rec
}
