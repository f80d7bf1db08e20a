package realtime

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(userID, sessionID string) *Client {
	return NewClient(userID, sessionID, 16)
}

func TestRegistry_SubscribeIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	c := newTestClient("u1", "s1")

	reg.Subscribe(c, "conversation_42")
	reg.Subscribe(c, "conversation_42")
	reg.Subscribe(c, "conversation_42")

	subs := reg.Subscribers("conversation_42")
	if len(subs) != 1 {
		t.Fatalf("subscribers=%d want=1", len(subs))
	}
	if !reg.IsSubscribed("s1", "conversation_42") {
		t.Fatalf("expected s1 subscribed")
	}
	if got := reg.ChannelsOf("s1"); len(got) != 1 || got[0] != "conversation_42" {
		t.Fatalf("ChannelsOf=%v", got)
	}
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	c := newTestClient("u1", "s1")

	reg.Subscribe(c, "conversation_42")
	reg.Unsubscribe("s1", "conversation_42")
	reg.Unsubscribe("s1", "conversation_42")

	if reg.IsSubscribed("s1", "conversation_42") {
		t.Fatalf("expected s1 unsubscribed")
	}
	if subs := reg.Subscribers("conversation_42"); len(subs) != 0 {
		t.Fatalf("subscribers=%d want=0", len(subs))
	}
}

func TestRegistry_UnsubscribeAllRemovesEverything(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	c := newTestClient("u1", "s1")
	other := newTestClient("u2", "s2")

	channels := []string{"conversation_1", "business_7", "user_notifications_u1"}
	for _, ch := range channels {
		reg.Subscribe(c, ch)
	}
	reg.Subscribe(other, "conversation_1")

	reg.UnsubscribeAll("s1")

	for _, ch := range channels {
		if reg.IsSubscribed("s1", ch) {
			t.Fatalf("still subscribed to %s", ch)
		}
	}
	if got := reg.ChannelsOf("s1"); len(got) != 0 {
		t.Fatalf("ChannelsOf after teardown=%v", got)
	}

	// Other members are untouched and the shared channel survives.
	if subs := reg.Subscribers("conversation_1"); len(subs) != 1 || subs[0].SessionID != "s2" {
		t.Fatalf("conversation_1 subscribers=%v", subs)
	}

	// Idempotent.
	reg.UnsubscribeAll("s1")
}

func TestRegistry_EmptyChannelsArePruned(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	c := newTestClient("u1", "s1")

	reg.Subscribe(c, "conversation_9")
	reg.Unsubscribe("s1", "conversation_9")

	reg.mu.RLock()
	_, present := reg.channels["conversation_9"]
	reg.mu.RUnlock()
	if present {
		t.Fatalf("empty channel was not pruned")
	}
}

// Subscribing while the channel's last member is concurrently removed must
// never leave the new member on a pruned channel object. After both sides
// finish, session state and channel membership have to agree.
func TestRegistry_SubscribeRacesLastMemberPrune(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())

	const rounds = 2000
	for i := 0; i < rounds; i++ {
		joiner := newTestClient("u-join", "s-join")
		leaver := newTestClient("u-leave", "s-leave")
		reg.Subscribe(leaver, "conversation_race")

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			reg.Subscribe(joiner, "conversation_race")
		}()
		go func() {
			defer wg.Done()
			<-start
			reg.UnsubscribeAll("s-leave")
		}()
		close(start)
		wg.Wait()

		if !reg.IsSubscribed("s-join", "conversation_race") {
			t.Fatalf("round %d: joiner lost its session entry", i)
		}
		found := false
		for _, m := range reg.Subscribers("conversation_race") {
			if m.SessionID == "s-join" {
				found = true
			}
		}
		if !found {
			t.Fatalf("round %d: joiner subscribed but invisible to fanout", i)
		}

		reg.UnsubscribeAll("s-join")
	}
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", i)
			c := newTestClient(fmt.Sprintf("u%d", i), sid)
			for j := 0; j < 100; j++ {
				reg.Subscribe(c, "conversation_hot")
				reg.Subscribers("conversation_hot")
				reg.Unsubscribe(sid, "conversation_hot")
			}
			reg.UnsubscribeAll(sid)
		}()
	}
	wg.Wait()

	if subs := reg.Subscribers("conversation_hot"); len(subs) != 0 {
		t.Fatalf("leftover subscribers: %d", len(subs))
	}
}
