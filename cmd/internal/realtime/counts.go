package realtime

import (
	"context"
	"log/slog"

	v1 "tuma/shared/contracts/realtime/v1"
)

// Aggregator computes authoritative per-user counts on demand and pushes
// count_update events after state-changing operations.
type Aggregator struct {
	log    *slog.Logger
	store  StateStore
	fanout *Fanout
}

// NewAggregator constructs an aggregator over the channel-of-record.
func NewAggregator(log *slog.Logger, store StateStore, fanout *Fanout) *Aggregator {
	return &Aggregator{log: log, store: store, fanout: fanout}
}

// Recompute calculates the user's unread message, unread notification, and
// pending-cart counts.
//
// Partial failure is tolerated component-wise: a single conversation that
// fails to count is skipped, and a failing notification or cart lookup
// contributes zero. One bad record never zeroes out the whole aggregate.
// Only a failure to list the user's conversations at all is returned as an
// error.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (Counts, error) {
	counts, _, err := a.Snapshot(ctx, userID)
	return counts, err
}

// Snapshot recomputes the counts and additionally returns per-conversation
// summaries for the initial state payload, from a single conversation listing.
func (a *Aggregator) Snapshot(ctx context.Context, userID string) (Counts, []v1.ConversationSummary, error) {
	var counts Counts

	convs, err := a.store.ActiveConversations(ctx, userID)
	if err != nil {
		return Counts{}, nil, err
	}

	summaries := make([]v1.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := v1.ConversationSummary{
			ConversationID: conv.ID,
			State:          conv.State,
			LastMessageAt:  conv.LastMessageAt,
		}

		n, err := a.store.UnreadMessageCount(ctx, userID, conv.ID)
		if err != nil {
			a.log.Warn("counts.conversation.skip", "user_id", userID, "conversation_id", conv.ID, "err", err)
			summaries = append(summaries, summary)
			continue
		}
		counts.UnreadMessages += n
		summary.UnreadCount = n
		summaries = append(summaries, summary)
	}

	if n, err := a.store.UnreadNotificationCount(ctx, userID); err != nil {
		a.log.Warn("counts.notifications.skip", "user_id", userID, "err", err)
	} else {
		counts.UnreadNotifications = n
	}

	if n, err := a.store.PendingCartCount(ctx, userID); err != nil {
		a.log.Warn("counts.cart.skip", "user_id", userID, "err", err)
	} else {
		counts.CartItems = n
	}

	return counts, summaries, nil
}

// RecomputeAndPublish recomputes and pushes a count_update event to the
// user's personal channels.
func (a *Aggregator) RecomputeAndPublish(ctx context.Context, userID string) (Counts, error) {
	counts, err := a.Recompute(ctx, userID)
	if err != nil {
		return Counts{}, err
	}

	payload := v1.CountUpdatePayload{
		UnreadMessages:      counts.UnreadMessages,
		UnreadNotifications: counts.UnreadNotifications,
		CartItems:           counts.CartItems,
	}
	a.fanout.Publish(NewEvent(v1.TypeCountUpdate, ChannelUserNotifications(userID), payload))
	a.fanout.Publish(NewEvent(v1.TypeCountUpdate, ChannelUserMessages(userID), payload))

	return counts, nil
}
