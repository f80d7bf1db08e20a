package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type failingPresenceBackend struct{}

func (failingPresenceBackend) Put(context.Context, PresenceRecord, time.Duration) error {
	return errors.New("backend down")
}

func (failingPresenceBackend) Get(context.Context, string) (PresenceRecord, bool, error) {
	return PresenceRecord{}, false, errors.New("backend down")
}

func (failingPresenceBackend) GetMulti(context.Context, []string) (map[string]PresenceRecord, error) {
	return nil, errors.New("backend down")
}

func TestPresenceStore_SetAndGet(t *testing.T) {
	t.Parallel()

	p := NewPresenceStore(testLogger(), NewMemoryPresenceBackend(), nil)
	ctx := context.Background()

	p.SetStatus(ctx, "u1", StatusOnline, map[string]string{"platform": "ios"})

	rec := p.Status(ctx, "u1")
	if rec.Status != StatusOnline {
		t.Fatalf("status=%q want=online", rec.Status)
	}
	if rec.Device["platform"] != "ios" {
		t.Fatalf("device=%v", rec.Device)
	}
}

func TestPresenceStore_ExpiredRecordFallsBack(t *testing.T) {
	t.Parallel()

	backend := NewMemoryPresenceBackend()
	store := NewMemoryStateStore()
	p := NewPresenceStore(testLogger(), backend, store)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	p.SetStatus(ctx, "u1", StatusOnline, nil)

	// Past the TTL the record is gone and classification falls back to the
	// persistent last-seen timestamp.
	backend.now = func() time.Time { return base.Add(presenceTTL + time.Second) }
	store.SetLastSeen("u1", base)
	p.now = func() time.Time { return base.Add(10 * time.Minute) }

	rec := p.Status(ctx, "u1")
	if rec.Status != StatusAway {
		t.Fatalf("status=%q want=away", rec.Status)
	}
}

func TestPresenceStore_FallbackClassification(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		ago  time.Duration
		want Status
	}{
		{name: "seen 1m ago", ago: time.Minute, want: StatusOnline},
		{name: "seen 5m ago", ago: 5 * time.Minute, want: StatusOnline},
		{name: "seen 10m ago", ago: 10 * time.Minute, want: StatusAway},
		{name: "seen 30m ago", ago: 30 * time.Minute, want: StatusAway},
		{name: "seen 40m ago", ago: 40 * time.Minute, want: StatusOffline},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := NewMemoryStateStore()
			store.SetLastSeen("u1", now.Add(-tc.ago))

			p := NewPresenceStore(testLogger(), NewMemoryPresenceBackend(), store)
			p.now = func() time.Time { return now }

			rec := p.Status(context.Background(), "u1")
			if rec.Status != tc.want {
				t.Fatalf("status=%q want=%q", rec.Status, tc.want)
			}
			if !rec.LastSeenAt.Equal(now.Add(-tc.ago)) {
				t.Fatalf("last_seen=%v", rec.LastSeenAt)
			}
		})
	}
}

func TestPresenceStore_NoDataMeansOffline(t *testing.T) {
	t.Parallel()

	p := NewPresenceStore(testLogger(), NewMemoryPresenceBackend(), NewMemoryStateStore())

	rec := p.Status(context.Background(), "ghost")
	if rec.Status != StatusOffline {
		t.Fatalf("status=%q want=offline", rec.Status)
	}
}

func TestPresenceStore_BackendFailureDegrades(t *testing.T) {
	t.Parallel()

	store := NewMemoryStateStore()
	now := time.Now().UTC()
	store.SetLastSeen("u1", now.Add(-time.Minute))

	p := NewPresenceStore(testLogger(), failingPresenceBackend{}, store)
	ctx := context.Background()

	// SetStatus must not panic or surface the failure.
	p.SetStatus(ctx, "u1", StatusOnline, nil)

	rec := p.Status(ctx, "u1")
	if rec.Status != StatusOnline {
		t.Fatalf("fallback status=%q want=online", rec.Status)
	}
}

func TestPresenceStore_BulkTruncatesAtCap(t *testing.T) {
	t.Parallel()

	p := NewPresenceStore(testLogger(), NewMemoryPresenceBackend(), nil)
	ctx := context.Background()

	ids := make([]string, presenceBulkMax+20)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%03d", i)
	}
	for _, id := range ids {
		p.SetStatus(ctx, id, StatusOnline, nil)
	}

	out := p.Statuses(ctx, ids)
	if len(out) != presenceBulkMax {
		t.Fatalf("len=%d want=%d", len(out), presenceBulkMax)
	}
	// Truncation keeps the head of the request.
	if _, ok := out[ids[0]]; !ok {
		t.Fatalf("first requested id missing")
	}
	if _, ok := out[ids[presenceBulkMax]]; ok {
		t.Fatalf("id beyond cap should be truncated")
	}
}

func TestPresenceStore_BulkMixesLiveAndFallback(t *testing.T) {
	t.Parallel()

	store := NewMemoryStateStore()
	now := time.Now().UTC()
	store.SetLastSeen("cold", now.Add(-10*time.Minute))

	p := NewPresenceStore(testLogger(), NewMemoryPresenceBackend(), store)
	ctx := context.Background()

	p.SetStatus(ctx, "hot", StatusOnline, nil)

	out := p.Statuses(ctx, []string{"hot", "cold", "ghost"})
	if out["hot"].Status != StatusOnline {
		t.Fatalf("hot=%q", out["hot"].Status)
	}
	if out["cold"].Status != StatusAway {
		t.Fatalf("cold=%q", out["cold"].Status)
	}
	if out["ghost"].Status != StatusOffline {
		t.Fatalf("ghost=%q", out["ghost"].Status)
	}
}
