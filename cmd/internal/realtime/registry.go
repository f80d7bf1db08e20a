package realtime

import (
	"log/slog"
	"sync"
)

// Registry tracks which connection is subscribed to which logical channel.
//
// Concurrency guarantees:
// - Subscribe/Unsubscribe are idempotent and safe under concurrent fanout.
// - Membership is keyed per channel with its own lock, so fanout on one
//   channel never contends with subscribe/unsubscribe on an unrelated one.
// - Lock ordering is registry -> channel, everywhere.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	channels map[string]*channel
	sessions map[string]map[string]struct{} // session id -> subscribed channel names
}

// channel is one topic's live membership.
type channel struct {
	mu      sync.RWMutex
	members map[string]*Client
}

// NewRegistry constructs an empty subscription registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		channels: make(map[string]*channel),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds the client to channelName. Subscribing twice is a no-op.
func (r *Registry) Subscribe(client *Client, channelName string) {
	if r == nil || client == nil || client.SessionID == "" || channelName == "" {
		return
	}

	r.mu.Lock()
	subs := r.sessions[client.SessionID]
	if subs == nil {
		subs = make(map[string]struct{})
		r.sessions[client.SessionID] = subs
	}
	if _, ok := subs[channelName]; ok {
		r.mu.Unlock()
		return
	}
	subs[channelName] = struct{}{}

	ch := r.channels[channelName]
	if ch == nil {
		ch = &channel{members: make(map[string]*Client)}
		r.channels[channelName] = ch
	}

	// Insert while still holding r.mu, like removeMemberLocked does.
	// Releasing r.mu first would let a concurrent last-member removal
	// prune the channel and leave this member on an orphaned object.
	ch.mu.Lock()
	ch.members[client.SessionID] = client
	ch.mu.Unlock()
	r.mu.Unlock()

	r.log.Debug("registry.subscribe", "channel", channelName, "session_id", client.SessionID)
}

// Unsubscribe removes the connection from channelName. Unsubscribing twice is a no-op.
func (r *Registry) Unsubscribe(sessionID, channelName string) {
	if r == nil || sessionID == "" || channelName == "" {
		return
	}

	r.mu.Lock()
	subs := r.sessions[sessionID]
	if subs != nil {
		delete(subs, channelName)
		if len(subs) == 0 {
			delete(r.sessions, sessionID)
		}
	}
	r.removeMemberLocked(sessionID, channelName)
	r.mu.Unlock()

	r.log.Debug("registry.unsubscribe", "channel", channelName, "session_id", sessionID)
}

// UnsubscribeAll removes the connection from every channel it was part of.
// Called on disconnect; safe to call more than once.
func (r *Registry) UnsubscribeAll(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	subs := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	for channelName := range subs {
		r.removeMemberLocked(sessionID, channelName)
	}
	r.mu.Unlock()

	if len(subs) > 0 {
		r.log.Debug("registry.unsubscribe_all", "session_id", sessionID, "channels", len(subs))
	}
}

// removeMemberLocked removes a member and prunes the channel when it empties.
// Caller must hold r.mu.
func (r *Registry) removeMemberLocked(sessionID, channelName string) {
	ch := r.channels[channelName]
	if ch == nil {
		return
	}

	ch.mu.Lock()
	delete(ch.members, sessionID)
	empty := len(ch.members) == 0
	ch.mu.Unlock()

	if empty {
		delete(r.channels, channelName)
	}
}

// Subscribers returns a stable snapshot of the channel's current members.
func (r *Registry) Subscribers(channelName string) []*Client {
	if r == nil || channelName == "" {
		return nil
	}

	r.mu.RLock()
	ch := r.channels[channelName]
	r.mu.RUnlock()

	if ch == nil {
		return nil
	}

	ch.mu.RLock()
	out := make([]*Client, 0, len(ch.members))
	for _, m := range ch.members {
		if m != nil {
			out = append(out, m)
		}
	}
	ch.mu.RUnlock()

	return out
}

// IsSubscribed reports whether sessionID currently holds a subscription to channelName.
func (r *Registry) IsSubscribed(sessionID, channelName string) bool {
	if r == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.sessions[sessionID]
	if subs == nil {
		return false
	}
	_, ok := subs[channelName]
	return ok
}

// ChannelsOf returns the channel names a session is subscribed to.
func (r *Registry) ChannelsOf(sessionID string) []string {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.sessions[sessionID]
	out := make([]string, 0, len(subs))
	for name := range subs {
		out = append(out, name)
	}
	return out
}
