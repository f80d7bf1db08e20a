package realtime

import (
	"context"
	"log/slog"
	"time"
)

// Redeliverer closes the gap between "message created while the recipient was
// offline" and "recipient reconnects". It replays undelivered messages as
// retry-tagged new_message events; it never stamps delivered_at itself, since
// delivery acknowledgment is an explicit client action.
type Redeliverer struct {
	log    *slog.Logger
	store  StateStore
	fanout *Fanout

	window time.Duration
	batch  int
	now    func() time.Time
}

// NewRedeliverer constructs a redelivery engine with the default lookback
// window and batch cap.
func NewRedeliverer(log *slog.Logger, store StateStore, fanout *Fanout) *Redeliverer {
	return &Redeliverer{
		log:    log,
		store:  store,
		fanout: fanout,
		window: redeliveryWindow,
		batch:  redeliveryBatchMax,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetPolicy overrides the lookback window and batch cap. The defaults are
// product policy, not correctness requirements, so deployments may tune them.
func (r *Redeliverer) SetPolicy(window time.Duration, batch int) {
	if window > 0 {
		r.window = window
	}
	if batch > 0 {
		r.batch = batch
	}
}

// RedeliverPending replays the user's undelivered messages, oldest first,
// through the fanout engine. Invoked once per new connection, after initial
// subscriptions are established (so the replay has a subscriber to reach).
// Per-message failures are logged and do not abort the batch.
func (r *Redeliverer) RedeliverPending(ctx context.Context, userID string) (int, error) {
	since := r.now().Add(-r.window)

	msgs, err := r.store.ListUndelivered(ctx, userID, since, r.batch)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	replayed := 0
	for _, msg := range msgs {
		if r.fanout.AnnounceMessage(msg, nil, true) == 0 {
			// No live subscriber received the replay. Keep going; the
			// message stays undelivered and will be retried next connect.
			r.log.Info("redelivery.message.undelivered",
				"user_id", userID, "message_id", msg.ID, "conversation_id", msg.ConversationID)
			continue
		}
		replayed++
		metricRedeliveries.Inc()
	}

	r.log.Info("redelivery.done", "user_id", userID, "eligible", len(msgs), "replayed", replayed)
	return replayed, nil
}
