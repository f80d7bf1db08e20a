package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"tuma/cmd/internal/ids"

	v1 "tuma/shared/contracts/realtime/v1"
)

// Event is one immutable unit of fanout work. Events are constructed by a
// producer, delivered to current subscribers, then discarded; durability of
// the underlying facts is the channel-of-record's responsibility.
type Event struct {
	Type      string
	Channel   string
	Retry     bool
	CreatedAt time.Time
	Payload   any
}

// NewEvent constructs an event stamped with the current time.
func NewEvent(typ, channelName string, payload any) Event {
	return Event{
		Type:      typ,
		Channel:   channelName,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// Fanout delivers events to all current subscribers of their target channel.
//
// Delivery is at-most-once per connection per event: the enqueue onto a
// client's bounded send queue is non-blocking, so one slow consumer cannot
// stall delivery to others. Per-channel publish order is preserved per
// connection because a producer enqueues in order onto per-client FIFO queues.
type Fanout struct {
	log *slog.Logger
	reg *Registry
}

// NewFanout constructs a fanout engine over the given registry.
func NewFanout(log *slog.Logger, reg *Registry) *Fanout {
	return &Fanout{log: log, reg: reg}
}

// Publish delivers ev to every live subscriber of ev.Channel and returns the
// count of successful deliveries. Subscribers that cannot receive (shutting
// down, full queue) are logged and skipped; one failure never aborts delivery
// to the rest.
func (f *Fanout) Publish(ev Event) int {
	if f == nil || ev.Channel == "" {
		return 0
	}

	env, ok := f.envelope(ev)
	if !ok {
		return 0
	}

	metricEventsPublished.WithLabelValues(ev.Type).Inc()

	delivered := 0
	for _, sub := range f.reg.Subscribers(ev.Channel) {
		select {
		case <-sub.Done():
			// Skip clients that are shutting down.
			metricDeliveries.WithLabelValues("dropped").Inc()
			continue
		default:
		}

		select {
		case sub.Send <- env:
			delivered++
			metricDeliveries.WithLabelValues("delivered").Inc()
		default:
			// Drop rather than block the whole channel.
			metricDeliveries.WithLabelValues("dropped").Inc()
			f.log.Info("fanout.publish.drop",
				"channel", ev.Channel, "type", ev.Type, "session_id", sub.SessionID)
		}
	}

	return delivered
}

// AnnounceMessage publishes a new_message event for msg.
//
// Live messages take the dual path: the conversation channel, plus each
// non-sender participant's personal message channel so clients can update a
// chat view and the global unread badge independently. The personal-channel
// leg is unconditional (it does not check the recipient's unread state).
// Replays (retry=true) target only the conversation channel.
func (f *Fanout) AnnounceMessage(msg Message, participants []string, retry bool) int {
	if f == nil {
		return 0
	}

	payload := v1.NewMessagePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
	}

	ev := NewEvent(v1.TypeNewMessage, ChannelConversation(msg.ConversationID), payload)
	ev.Retry = retry
	delivered := f.Publish(ev)

	if retry {
		return delivered
	}

	for _, userID := range participants {
		if userID == "" || userID == msg.SenderID {
			continue
		}
		personal := NewEvent(v1.TypeNewMessage, ChannelUserMessages(userID), payload)
		delivered += f.Publish(personal)
	}

	return delivered
}

// envelope marshals the event into its wire form.
func (f *Fanout) envelope(ev Event) (v1.Envelope, bool) {
	env, err := newEnvelope(ev.Type, ev.Channel, ev.Retry, ev.CreatedAt, ev.Payload)
	if err != nil {
		f.log.Error("fanout.envelope.fail", "type", ev.Type, "channel", ev.Channel, "err", err)
		return v1.Envelope{}, false
	}
	return env, true
}

// newEnvelope builds a server-originated wire envelope. Shared by the fanout
// engine and the session's direct responses.
func newEnvelope(typ, channelName string, retry bool, ts time.Time, payload any) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}

	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// A failed ULID read leaves the id empty; consumers treat that as
	// diagnostic-only data.
	id, _ := ids.NewULID(ts)

	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		Channel: channelName,
		TS:      ts,
		Retry:   retry,
		Payload: raw,
	}, nil
}
