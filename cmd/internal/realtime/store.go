// Package realtime implements Tuma's presence and conversation broadcast
// core: subscription registry, fanout engine, presence store, unread
// aggregation, reconnect redelivery, and the per-connection session.
package realtime

import (
	"context"
	"errors"
	"time"
)

// Conversation states the core considers "active" for subscription and
// unread-count purposes.
const (
	ConversationPending    = "pending"
	ConversationInProgress = "in_progress"
	ConversationClosed     = "closed"
)

// ErrNotFound is returned by StateStore lookups when the entity is absent or
// not visible to the requesting user.
var ErrNotFound = errors.New("realtime: not found")

// Message is the core's read view of a stored chat message. The core reads
// timestamps and stamps delivered_at/read_at; it never owns the schema.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// Conversation is the core's read view of a conversation.
type Conversation struct {
	ID            string
	State         string
	Participants  []string
	LastMessageAt time.Time
}

// Active reports whether the conversation is in a state that keeps its
// channel auto-subscribed.
func (c Conversation) Active() bool {
	return c.State == ConversationPending || c.State == ConversationInProgress
}

// Counts are the authoritative per-user counters pushed as count_update events.
type Counts struct {
	UnreadMessages      int
	UnreadNotifications int
	CartItems           int
}

// StateStore is the boundary to the platform's persistent message,
// notification, and package store (the channel-of-record). The core consumes
// it; schema and migrations belong to the platform backend.
type StateStore interface {
	// Message returns one message, or ErrNotFound.
	Message(ctx context.Context, messageID string) (Message, error)

	// Conversation returns one conversation with its participant list, or ErrNotFound.
	Conversation(ctx context.Context, conversationID string) (Conversation, error)

	// ActiveConversations lists the conversations the user participates in
	// that are in an active state.
	ActiveConversations(ctx context.Context, userID string) ([]Conversation, error)

	// ListUndelivered returns messages addressed to userID (participant,
	// not sender) with delivered_at unset and created_at >= since, ordered
	// by created_at ascending, capped at limit.
	ListUndelivered(ctx context.Context, userID string, since time.Time, limit int) ([]Message, error)

	// StampDelivered sets delivered_at if unset and returns the message.
	StampDelivered(ctx context.Context, messageID string, at time.Time) (Message, error)

	// StampRead sets read_at if unset (and delivered_at, if still unset)
	// and returns the message.
	StampRead(ctx context.Context, messageID string, at time.Time) (Message, error)

	// MarkConversationRead stamps delivered_at/read_at on all the user's
	// unread messages in the conversation, updates the user's last-read
	// marker, and returns how many messages were stamped.
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error)

	// UnreadMessageCount counts messages in one conversation created after
	// the user's last-read marker (all of them if never read).
	UnreadMessageCount(ctx context.Context, userID, conversationID string) (int, error)

	// UnreadNotificationCount counts the user's notifications flagged unread.
	UnreadNotificationCount(ctx context.Context, userID string) (int, error)

	// PendingCartCount counts the user's packages awaiting payment.
	PendingCartCount(ctx context.Context, userID string) (int, error)

	// MarkNotificationRead flags one of the user's notifications read.
	MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error

	// Businesses lists the business ids the user owns or staffs.
	Businesses(ctx context.Context, userID string) ([]string, error)

	// LastSeen returns the user's last-seen timestamp from the persistent
	// store, used as the presence fallback when the fast store misses.
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}
