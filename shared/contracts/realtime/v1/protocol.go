// Package v1 defines the Tuma Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Command types (client -> server).
const (
	// TypeUpdatePresence sets the caller's presence status.
	TypeUpdatePresence = "update_presence"
	// TypePing is a client liveness probe, answered with TypePong.
	TypePing = "ping"
	// TypeRequestCounts asks for an on-demand unread/cart count recompute.
	TypeRequestCounts = "request_counts"
	// TypeRequestInitialState asks for a fresh initial state snapshot.
	TypeRequestInitialState = "request_initial_state"
	// TypeGetUserPresence queries presence for a bounded set of users.
	TypeGetUserPresence = "get_user_presence"
	// TypeAcknowledgeMessage stamps a message delivered or read.
	TypeAcknowledgeMessage = "acknowledge_message"
	// TypeMarkConversationRead stamps every unread message in a conversation.
	TypeMarkConversationRead = "mark_conversation_read"
	// TypeMarkNotificationRead marks one notification read.
	TypeMarkNotificationRead = "mark_notification_read"
	// TypeTypingIndicator relays a typing signal to a conversation.
	TypeTypingIndicator = "typing_indicator"
	// TypeJoinConversation subscribes the connection to a conversation channel.
	TypeJoinConversation = "join_conversation"
	// TypeLeaveConversation unsubscribes from a conversation channel.
	TypeLeaveConversation = "leave_conversation"
	// TypeSubscribeToBusiness subscribes to a business channel.
	TypeSubscribeToBusiness = "subscribe_to_business"
)

// Event and response types (server -> client).
const (
	TypeNewMessage          = "new_message"
	TypePresenceChanged     = "presence_changed"
	TypeCountUpdate         = "count_update"
	TypeTyping              = "typing"
	TypeTicketStatusChanged = "ticket_status_changed"
	TypeNotification        = "notification"
	TypeConversationRead    = "conversation_read"
	TypeMessageAcknowledged = "message_acknowledged"
	TypeParticipantJoined   = "participant_joined"
	TypeParticipantLeft     = "participant_left"
	TypeInitialState        = "initial_state"
	TypeUserPresence        = "user_presence"
	TypePong                = "pong"

	TypePresenceSuccess         = "presence_success"
	TypeAcknowledgeSuccess      = "acknowledge_success"
	TypeConversationReadSuccess = "conversation_read_success"
	TypeNotificationReadSuccess = "notification_read_success"
	TypeConversationJoined      = "conversation_joined"
	TypeConversationLeft        = "conversation_left"
	TypeBusinessSubscribed      = "business_subscribed"

	TypeError = "error"
)

// commandTypes is the set of envelope types a client may send.
var commandTypes = map[string]struct{}{
	TypeUpdatePresence:       {},
	TypePing:                 {},
	TypeRequestCounts:        {},
	TypeRequestInitialState:  {},
	TypeGetUserPresence:      {},
	TypeAcknowledgeMessage:   {},
	TypeMarkConversationRead: {},
	TypeMarkNotificationRead: {},
	TypeTypingIndicator:      {},
	TypeJoinConversation:     {},
	TypeLeaveConversation:    {},
	TypeSubscribeToBusiness:  {},
}

// IsCommand reports whether typ is a client-originated command type.
func IsCommand(typ string) bool {
	_, ok := commandTypes[typ]
	return ok
}

// Envelope is the canonical wire wrapper. Server-originated envelopes carry
// the logical channel they were published against; error envelopes share the
// same shape so clients keep a single decoding path.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Retry   bool            `json:"retry,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for a client envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsCommand(e.Type) {
		return fmt.Errorf("unknown command type: %q", e.Type)
	}
	return nil
}

// ---- Command payloads ----

// UpdatePresencePayload requests a presence status change. AppState is the
// client-reported foreground/background signal; a backgrounded app is forced
// to "away" regardless of the requested status.
type UpdatePresencePayload struct {
	Status   string            `json:"status"`
	AppState string            `json:"app_state,omitempty"`
	Device   map[string]string `json:"device,omitempty"`
}

// GetUserPresencePayload queries presence for up to the server-side cap of users.
type GetUserPresencePayload struct {
	UserIDs []string `json:"user_ids"`
}

// AcknowledgeMessagePayload stamps a message "delivered" or "read".
type AcknowledgeMessagePayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// MarkConversationReadPayload marks a whole conversation read for the caller.
type MarkConversationReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MarkNotificationReadPayload marks one notification read.
type MarkNotificationReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// TypingIndicatorPayload relays a typing start/stop signal.
type TypingIndicatorPayload struct {
	ConversationID string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

// JoinConversationPayload subscribes to a conversation channel.
type JoinConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// LeaveConversationPayload unsubscribes from a conversation channel.
type LeaveConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SubscribeToBusinessPayload subscribes to a business channel.
type SubscribeToBusinessPayload struct {
	BusinessID string `json:"business_id"`
}

// ---- Event and response payloads ----

// NewMessagePayload is broadcast when a message is created, and replayed with
// Envelope.Retry=true when a recipient reconnects with undelivered messages.
type NewMessagePayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// PresenceChangedPayload describes one user's current presence classification.
type PresenceChangedPayload struct {
	UserID     string            `json:"user_id"`
	Status     string            `json:"status"`
	LastSeenAt time.Time         `json:"last_seen_at,omitempty"`
	Device     map[string]string `json:"device,omitempty"`
}

// CountUpdatePayload carries the authoritative per-user counters.
type CountUpdatePayload struct {
	UnreadMessages      int `json:"unread_messages"`
	UnreadNotifications int `json:"unread_notifications"`
	CartItems           int `json:"cart_items"`
}

// TypingPayload is broadcast to a conversation when a participant types.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

// TicketStatusChangedPayload announces a support ticket transition.
type TicketStatusChangedPayload struct {
	TicketID  string    `json:"ticket_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationPayload announces a newly created notification.
type NotificationPayload struct {
	NotificationID string    `json:"notification_id"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Body           string    `json:"body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageAcknowledgedPayload is broadcast to a conversation so other
// participants see delivery/read receipts live.
type MessageAcknowledgedPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	At             time.Time `json:"at"`
}

// ConversationReadPayload is broadcast when a participant marks a whole
// conversation read.
type ConversationReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
	Count          int       `json:"count"`
}

// ParticipantJoinedPayload carries presence-aware participant info on join.
type ParticipantJoinedPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
}

// ParticipantLeftPayload carries a last-seen timestamp on leave.
type ParticipantLeftPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// ConversationSummary is one entry of the initial state snapshot.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	State          string    `json:"state"`
	UnreadCount    int       `json:"unread_count"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
}

// InitialStatePayload is sent once after connect and on request.
type InitialStatePayload struct {
	SessionID     string                 `json:"session_id"`
	Counts        CountUpdatePayload     `json:"counts"`
	Presence      PresenceChangedPayload `json:"presence"`
	Conversations []ConversationSummary  `json:"conversations"`
}

// UserPresencePayload answers a get_user_presence query.
type UserPresencePayload struct {
	Presences map[string]PresenceChangedPayload `json:"presences"`
}

// PongPayload answers a ping.
type PongPayload struct {
	TS time.Time `json:"ts"`
}

// PresenceSuccessPayload echoes the effective stored status, which may differ
// from the requested one (backgrounded clients are forced to "away").
type PresenceSuccessPayload struct {
	Status string `json:"status"`
}

// AcknowledgeSuccessPayload confirms an acknowledge_message command.
type AcknowledgeSuccessPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// ConversationReadSuccessPayload confirms a mark_conversation_read command.
type ConversationReadSuccessPayload struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

// NotificationReadSuccessPayload confirms a mark_notification_read command.
type NotificationReadSuccessPayload struct {
	NotificationID string `json:"notification_id"`
}

// ConversationJoinedPayload confirms a join_conversation command.
type ConversationJoinedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationLeftPayload confirms a leave_conversation command.
type ConversationLeftPayload struct {
	ConversationID string `json:"conversation_id"`
}

// BusinessSubscribedPayload confirms a subscribe_to_business command.
type BusinessSubscribedPayload struct {
	BusinessID string `json:"business_id"`
}

// ErrorPayload is the generic error response payload.
type ErrorPayload struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}
