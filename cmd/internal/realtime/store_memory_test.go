package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_ListUndelivered(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStateStore()
	store.PutConversation(Conversation{ID: "c1", State: ConversationInProgress, Participants: []string{"alice", "bob"}})

	delivered := now.Add(-4 * time.Minute)
	store.PutMessage(Message{ID: "m-old", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-10 * time.Minute)})
	store.PutMessage(Message{ID: "m-delivered", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-4 * time.Minute), DeliveredAt: &delivered})
	store.PutMessage(Message{ID: "m-own", ConversationID: "c1", SenderID: "bob", CreatedAt: now.Add(-3 * time.Minute)})
	store.PutMessage(Message{ID: "m-b", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-time.Minute)})
	store.PutMessage(Message{ID: "m-a", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-2 * time.Minute)})

	got, err := store.ListUndelivered(context.Background(), "bob", now.Add(-5*time.Minute), 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	want := []string{"m-a", "m-b"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %q want %q", i, got[i].ID, id)
		}
	}

	got, err = store.ListUndelivered(context.Background(), "bob", now.Add(-5*time.Minute), 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-a" {
		t.Fatalf("limit=1 got %v, want [m-a]", got)
	}
}

func TestMemoryStore_ListUndeliveredIDTiebreak(t *testing.T) {
	t.Parallel()

	at := time.Now().UTC().Add(-time.Minute)
	store := NewMemoryStateStore()
	store.PutConversation(Conversation{ID: "c1", State: ConversationInProgress, Participants: []string{"alice", "bob"}})
	store.PutMessage(Message{ID: "m2", ConversationID: "c1", SenderID: "alice", CreatedAt: at})
	store.PutMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: at})

	got, err := store.ListUndelivered(context.Background(), "bob", at.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("equal timestamps not ordered by id: %v", got)
	}
}

func TestMemoryStore_StampsAreIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStateStore()
	store.PutConversation(Conversation{ID: "c1", State: ConversationInProgress, Participants: []string{"alice", "bob"}})
	store.PutMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: time.Now().UTC()})

	t1 := time.Now().UTC()
	t2 := t1.Add(time.Minute)

	msg, err := store.StampDelivered(context.Background(), "m1", t1)
	if err != nil {
		t.Fatalf("stamp delivered: %v", err)
	}
	if msg.DeliveredAt == nil || !msg.DeliveredAt.Equal(t1) {
		t.Fatalf("delivered_at=%v want=%v", msg.DeliveredAt, t1)
	}

	msg, err = store.StampDelivered(context.Background(), "m1", t2)
	if err != nil {
		t.Fatalf("stamp delivered again: %v", err)
	}
	if !msg.DeliveredAt.Equal(t1) {
		t.Fatalf("second stamp moved delivered_at to %v", msg.DeliveredAt)
	}

	msg, err = store.StampRead(context.Background(), "m1", t2)
	if err != nil {
		t.Fatalf("stamp read: %v", err)
	}
	if msg.ReadAt == nil || !msg.ReadAt.Equal(t2) {
		t.Fatalf("read_at=%v want=%v", msg.ReadAt, t2)
	}
	if !msg.DeliveredAt.Equal(t1) {
		t.Fatalf("read stamp moved delivered_at to %v", msg.DeliveredAt)
	}

	if _, err := store.StampRead(context.Background(), "missing", t1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stamp missing: err=%v want=ErrNotFound", err)
	}
}

func TestMemoryStore_StampReadSetsDeliveredWhenUnset(t *testing.T) {
	t.Parallel()

	store := NewMemoryStateStore()
	store.PutConversation(Conversation{ID: "c1", State: ConversationInProgress, Participants: []string{"alice", "bob"}})
	store.PutMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: time.Now().UTC()})

	at := time.Now().UTC()
	msg, err := store.StampRead(context.Background(), "m1", at)
	if err != nil {
		t.Fatalf("stamp read: %v", err)
	}
	if msg.DeliveredAt == nil || !msg.DeliveredAt.Equal(at) {
		t.Fatalf("delivered_at=%v want=%v", msg.DeliveredAt, at)
	}
	if msg.ReadAt == nil || !msg.ReadAt.Equal(at) {
		t.Fatalf("read_at=%v want=%v", msg.ReadAt, at)
	}
}

func TestMemoryStore_MarkConversationRead(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStateStore()
	store.PutConversation(Conversation{ID: "c1", State: ConversationInProgress, Participants: []string{"alice", "bob"}})
	store.PutMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-2 * time.Minute)})
	store.PutMessage(Message{ID: "m2", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-time.Minute)})
	store.PutMessage(Message{ID: "m-own", ConversationID: "c1", SenderID: "bob", CreatedAt: now})

	stamped, err := store.MarkConversationRead(context.Background(), "c1", "bob", now)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if stamped != 2 {
		t.Fatalf("stamped=%d want=2", stamped)
	}

	n, err := store.UnreadMessageCount(context.Background(), "bob", "c1")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 0 {
		t.Fatalf("unread after mark=%d want=0", n)
	}

	// Own messages are never stamped.
	own, err := store.Message(context.Background(), "m-own")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if own.ReadAt != nil {
		t.Fatalf("own message got read-stamped")
	}

	if _, err := store.MarkConversationRead(context.Background(), "c1", "stranger", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-participant: err=%v want=ErrNotFound", err)
	}
	if _, err := store.MarkConversationRead(context.Background(), "missing", "bob", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing conversation: err=%v want=ErrNotFound", err)
	}
}

func TestMemoryStore_UnreadMessageCountMarker(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStateStore()
	store.PutConversation(Conversation{ID: "c1", State: ConversationInProgress, Participants: []string{"alice", "bob"}})
	store.PutMessage(Message{ID: "m-before", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-10 * time.Minute)})
	store.PutMessage(Message{ID: "m-after", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-time.Minute)})

	n, err := store.UnreadMessageCount(context.Background(), "bob", "c1")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if n != 2 {
		t.Fatalf("no marker unread=%d want=2", n)
	}

	store.SetLastRead("c1", "bob", now.Add(-5*time.Minute))

	n, err = store.UnreadMessageCount(context.Background(), "bob", "c1")
	if err != nil {
		t.Fatalf("unread after marker: %v", err)
	}
	if n != 1 {
		t.Fatalf("marker unread=%d want=1", n)
	}

	if _, err := store.UnreadMessageCount(context.Background(), "bob", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing conversation: err=%v want=ErrNotFound", err)
	}
}

func TestMemoryStore_Notifications(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStateStore()
	store.PutNotification("n1", "bob", now.Add(-time.Hour))
	store.PutNotification("n2", "bob", now)
	store.PutNotification("other", "alice", now)

	n, err := store.UnreadNotificationCount(context.Background(), "bob")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("unread=%d want=2", n)
	}

	if err := store.MarkNotificationRead(context.Background(), "n1", "bob", now); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := store.MarkNotificationRead(context.Background(), "n1", "bob", now); err != nil {
		t.Fatalf("mark read twice: %v", err)
	}

	n, err = store.UnreadNotificationCount(context.Background(), "bob")
	if err != nil {
		t.Fatalf("count after read: %v", err)
	}
	if n != 1 {
		t.Fatalf("unread after read=%d want=1", n)
	}

	// Another user's notification is invisible to the caller.
	if err := store.MarkNotificationRead(context.Background(), "other", "bob", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign notification: err=%v want=ErrNotFound", err)
	}
	if err := store.MarkNotificationRead(context.Background(), "missing", "bob", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing notification: err=%v want=ErrNotFound", err)
	}
}

func TestMemoryStore_PutMessageAdvancesLastMessageAt(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStateStore()
	store.PutConversation(Conversation{ID: "c1", State: ConversationInProgress, Participants: []string{"alice", "bob"}})
	store.PutMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: now})
	store.PutMessage(Message{ID: "m-older", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-time.Hour)})

	conv, err := store.Conversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if !conv.LastMessageAt.Equal(now) {
		t.Fatalf("last_message_at=%v want=%v", conv.LastMessageAt, now)
	}
}
