package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	v1 "tuma/shared/contracts/realtime/v1"
)

// seedConversation creates a two-party conversation between alice and bob.
func seedConversation(store *MemoryStateStore, id string) {
	store.PutConversation(Conversation{
		ID:           id,
		State:        ConversationInProgress,
		Participants: []string{"alice", "bob"},
	})
}

func newRedeliveryFixture(t *testing.T) (*MemoryStateStore, *Redeliverer, *Registry) {
	t.Helper()
	store := NewMemoryStateStore()
	reg := NewRegistry(testLogger())
	fan := NewFanout(testLogger(), reg)
	return store, NewRedeliverer(testLogger(), store, fan), reg
}

func TestRedelivery_ReplaysOldestFirstRetryTagged(t *testing.T) {
	t.Parallel()

	store, rd, reg := newRedeliveryFixture(t)
	seedConversation(store, "c1")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		store.PutMessage(Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			SenderID:       "alice",
			Body:           fmt.Sprintf("msg %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}

	bob := NewClient("bob", "s-bob", 64)
	reg.Subscribe(bob, ChannelConversation("c1"))

	n, err := rd.RedeliverPending(context.Background(), "bob")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if n != 3 {
		t.Fatalf("replayed=%d want=3", n)
	}

	for i := 0; i < 3; i++ {
		env := drainOne(t, bob)
		if env.Type != v1.TypeNewMessage {
			t.Fatalf("type=%q", env.Type)
		}
		if !env.Retry {
			t.Fatalf("replay %d not retry-tagged", i)
		}
		var p v1.NewMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if want := fmt.Sprintf("m%d", i); p.MessageID != want {
			t.Fatalf("replay order: got=%s want=%s", p.MessageID, want)
		}
	}
}

func TestRedelivery_BatchCapTakesOldest(t *testing.T) {
	t.Parallel()

	store, rd, reg := newRedeliveryFixture(t)
	seedConversation(store, "c1")

	base := time.Now().UTC().Add(-2 * time.Hour)
	total := redeliveryBatchMax + 10
	for i := 0; i < total; i++ {
		store.PutMessage(Message{
			ID:             fmt.Sprintf("m%03d", i),
			ConversationID: "c1",
			SenderID:       "alice",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}

	bob := NewClient("bob", "s-bob", total+8)
	reg.Subscribe(bob, ChannelConversation("c1"))

	n, err := rd.RedeliverPending(context.Background(), "bob")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if n != redeliveryBatchMax {
		t.Fatalf("replayed=%d want=%d", n, redeliveryBatchMax)
	}

	// The batch is the oldest eligible messages, in order.
	first := drainOne(t, bob)
	var p v1.NewMessagePayload
	if err := json.Unmarshal(first.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.MessageID != "m000" {
		t.Fatalf("first replay=%s want=m000", p.MessageID)
	}
}

func TestRedelivery_Exclusions(t *testing.T) {
	t.Parallel()

	store, rd, reg := newRedeliveryFixture(t)
	seedConversation(store, "c1")

	now := time.Now().UTC()
	delivered := now.Add(-time.Minute)

	// Bob's own message: excluded.
	store.PutMessage(Message{ID: "own", ConversationID: "c1", SenderID: "bob", CreatedAt: now.Add(-time.Hour)})
	// Already delivered: excluded.
	store.PutMessage(Message{ID: "done", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-time.Hour), DeliveredAt: &delivered})
	// Older than the lookback window: excluded.
	store.PutMessage(Message{ID: "stale", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-redeliveryWindow - time.Hour)})
	// Eligible.
	store.PutMessage(Message{ID: "fresh", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-time.Hour)})

	bob := NewClient("bob", "s-bob", 16)
	reg.Subscribe(bob, ChannelConversation("c1"))

	n, err := rd.RedeliverPending(context.Background(), "bob")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed=%d want=1", n)
	}

	env := drainOne(t, bob)
	var p v1.NewMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.MessageID != "fresh" {
		t.Fatalf("replayed=%s want=fresh", p.MessageID)
	}
}

func TestRedelivery_NoSubscriberCountsNothing(t *testing.T) {
	t.Parallel()

	store, rd, _ := newRedeliveryFixture(t)
	seedConversation(store, "c1")
	store.PutMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: time.Now().UTC().Add(-time.Hour)})

	n, err := rd.RedeliverPending(context.Background(), "bob")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if n != 0 {
		t.Fatalf("replayed=%d want=0 (no live subscriber)", n)
	}

	// The message stays undelivered for the next connect.
	msg, err := store.Message(context.Background(), "m1")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.DeliveredAt != nil {
		t.Fatalf("redelivery must not stamp delivered_at")
	}
}

func TestRedelivery_SetPolicy(t *testing.T) {
	t.Parallel()

	store, rd, reg := newRedeliveryFixture(t)
	seedConversation(store, "c1")

	now := time.Now().UTC()
	store.PutMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-30 * time.Minute)})
	store.PutMessage(Message{ID: "m2", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-5 * time.Minute)})

	bob := NewClient("bob", "s-bob", 16)
	reg.Subscribe(bob, ChannelConversation("c1"))

	// A 10 minute window sees only the recent message.
	rd.SetPolicy(10*time.Minute, 10)

	n, err := rd.RedeliverPending(context.Background(), "bob")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed=%d want=1", n)
	}
}
