package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStateStore is an in-process StateStore used in dev mode and tests.
// It mirrors the channel-of-record semantics the core relies on without the
// platform database being present.
type MemoryStateStore struct {
	mu            sync.Mutex
	messages      map[string]*Message
	conversations map[string]*Conversation
	lastRead      map[string]map[string]time.Time // conversation id -> user id -> marker
	notifications map[string]*memNotification
	cartCounts    map[string]int
	businesses    map[string][]string
	lastSeen      map[string]time.Time
}

type memNotification struct {
	id        string
	userID    string
	createdAt time.Time
	readAt    *time.Time
}

// NewMemoryStateStore constructs an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		messages:      make(map[string]*Message),
		conversations: make(map[string]*Conversation),
		lastRead:      make(map[string]map[string]time.Time),
		notifications: make(map[string]*memNotification),
		cartCounts:    make(map[string]int),
		businesses:    make(map[string][]string),
		lastSeen:      make(map[string]time.Time),
	}
}

// ---- seeding (dev/tests) ----

// PutConversation inserts or replaces a conversation.
func (s *MemoryStateStore) PutConversation(conv Conversation) {
	s.mu.Lock()
	c := conv
	c.Participants = append([]string(nil), conv.Participants...)
	s.conversations[conv.ID] = &c
	s.mu.Unlock()
}

// PutMessage inserts or replaces a message.
func (s *MemoryStateStore) PutMessage(msg Message) {
	s.mu.Lock()
	m := cloneMessage(&msg)
	s.messages[msg.ID] = &m
	if conv, ok := s.conversations[msg.ConversationID]; ok && msg.CreatedAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.CreatedAt
	}
	s.mu.Unlock()
}

// PutNotification inserts an unread notification.
func (s *MemoryStateStore) PutNotification(id, userID string, createdAt time.Time) {
	s.mu.Lock()
	s.notifications[id] = &memNotification{id: id, userID: userID, createdAt: createdAt}
	s.mu.Unlock()
}

// SetCartCount sets the user's pending-payment package count.
func (s *MemoryStateStore) SetCartCount(userID string, n int) {
	s.mu.Lock()
	s.cartCounts[userID] = n
	s.mu.Unlock()
}

// SetBusinesses sets the businesses the user owns or staffs.
func (s *MemoryStateStore) SetBusinesses(userID string, businessIDs ...string) {
	s.mu.Lock()
	s.businesses[userID] = append([]string(nil), businessIDs...)
	s.mu.Unlock()
}

// SetLastSeen sets the user's persistent last-seen timestamp.
func (s *MemoryStateStore) SetLastSeen(userID string, t time.Time) {
	s.mu.Lock()
	s.lastSeen[userID] = t
	s.mu.Unlock()
}

// SetLastRead sets a user's last-read marker on a conversation.
func (s *MemoryStateStore) SetLastRead(conversationID, userID string, t time.Time) {
	s.mu.Lock()
	s.lastReadLocked(conversationID)[userID] = t
	s.mu.Unlock()
}

func (s *MemoryStateStore) lastReadLocked(conversationID string) map[string]time.Time {
	m := s.lastRead[conversationID]
	if m == nil {
		m = make(map[string]time.Time)
		s.lastRead[conversationID] = m
	}
	return m
}

// ---- StateStore ----

// Message returns one message by id.
func (s *MemoryStateStore) Message(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	return cloneMessage(m), nil
}

// Conversation returns one conversation by id.
func (s *MemoryStateStore) Conversation(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	return out, nil
}

// ActiveConversations lists the user's pending/in-progress conversations.
func (s *MemoryStateStore) ActiveConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for _, c := range s.conversations {
		if !c.Active() || !contains(c.Participants, userID) {
			continue
		}
		cc := *c
		cc.Participants = append([]string(nil), c.Participants...)
		out = append(out, cc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListUndelivered returns the user's undelivered inbound messages, oldest first.
func (s *MemoryStateStore) ListUndelivered(ctx context.Context, userID string, since time.Time, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.messages {
		if m.DeliveredAt != nil || m.SenderID == userID || m.CreatedAt.Before(since) {
			continue
		}
		conv, ok := s.conversations[m.ConversationID]
		if !ok || !contains(conv.Participants, userID) {
			continue
		}
		out = append(out, cloneMessage(m))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StampDelivered sets delivered_at if unset.
func (s *MemoryStateStore) StampDelivered(ctx context.Context, messageID string, at time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if m.DeliveredAt == nil {
		t := at
		m.DeliveredAt = &t
	}
	return cloneMessage(m), nil
}

// StampRead sets read_at, and delivered_at too when still unset.
func (s *MemoryStateStore) StampRead(ctx context.Context, messageID string, at time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if m.DeliveredAt == nil {
		t := at
		m.DeliveredAt = &t
	}
	if m.ReadAt == nil {
		t := at
		m.ReadAt = &t
	}
	return cloneMessage(m), nil
}

// MarkConversationRead stamps all the user's unread messages and moves the
// last-read marker.
func (s *MemoryStateStore) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || !contains(conv.Participants, userID) {
		return 0, ErrNotFound
	}

	stamped := 0
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.SenderID == userID || m.ReadAt != nil {
			continue
		}
		if m.DeliveredAt == nil {
			t := at
			m.DeliveredAt = &t
		}
		t := at
		m.ReadAt = &t
		stamped++
	}

	s.lastReadLocked(conversationID)[userID] = at
	return stamped, nil
}

// UnreadMessageCount counts inbound messages created after the last-read marker.
func (s *MemoryStateStore) UnreadMessageCount(ctx context.Context, userID, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return 0, ErrNotFound
	}

	marker, hasMarker := s.lastRead[conversationID][userID]

	n := 0
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if hasMarker && !m.CreatedAt.After(marker) {
			continue
		}
		n++
	}
	return n, nil
}

// UnreadNotificationCount counts the user's unread notifications.
func (s *MemoryStateStore) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, nf := range s.notifications {
		if nf.userID == userID && nf.readAt == nil {
			n++
		}
	}
	return n, nil
}

// PendingCartCount counts packages awaiting payment.
func (s *MemoryStateStore) PendingCartCount(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartCounts[userID], nil
}

// MarkNotificationRead flags one notification read.
func (s *MemoryStateStore) MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nf, ok := s.notifications[notificationID]
	if !ok || nf.userID != userID {
		return ErrNotFound
	}
	if nf.readAt == nil {
		t := at
		nf.readAt = &t
	}
	return nil
}

// Businesses lists the user's owned/staffed business ids.
func (s *MemoryStateStore) Businesses(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.businesses[userID]...), nil
}

// LastSeen returns the user's persistent last-seen timestamp.
func (s *MemoryStateStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.lastSeen[userID]
	return t, ok, nil
}

// ---- helpers ----

func cloneMessage(m *Message) Message {
	out := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		out.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
