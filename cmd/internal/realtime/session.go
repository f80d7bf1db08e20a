package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tuma/cmd/internal/auth"

	v1 "tuma/shared/contracts/realtime/v1"
)

// Core bundles the process-wide engines: one registry/fanout pair, one
// presence store, one aggregator, and one redeliverer, constructed once and
// passed explicitly to every session. There are no package-level singletons.
type Core struct {
	log        *slog.Logger
	registry   *Registry
	fanout     *Fanout
	presence   *PresenceStore
	store      StateStore
	counts     *Aggregator
	redelivery *Redeliverer
}

// NewCore wires the engines over the given channel-of-record and presence
// backend.
func NewCore(log *slog.Logger, store StateStore, presenceBackend PresenceBackend) *Core {
	reg := NewRegistry(log)
	fan := NewFanout(log, reg)
	return &Core{
		log:        log,
		registry:   reg,
		fanout:     fan,
		presence:   NewPresenceStore(log, presenceBackend, store),
		store:      store,
		counts:     NewAggregator(log, store, fan),
		redelivery: NewRedeliverer(log, store, fan),
	}
}

// Registry exposes the subscription registry.
func (c *Core) Registry() *Registry { return c.registry }

// Fanout exposes the fanout engine for external producers (message creation,
// ticket transitions, notification pushes).
func (c *Core) Fanout() *Fanout { return c.fanout }

// Presence exposes the presence store.
func (c *Core) Presence() *PresenceStore { return c.presence }

// Counts exposes the unread aggregator for external triggers.
func (c *Core) Counts() *Aggregator { return c.counts }

// Redelivery exposes the redelivery engine (policy tuning).
func (c *Core) Redelivery() *Redeliverer { return c.redelivery }

// Session lifecycle states. Reconnection creates a new Session with a new
// identity; disconnected is terminal.
const (
	stateConnecting int32 = iota
	stateActive
	stateDisconnected
)

// Session is the top-level per-connection object: it ties together
// subscription management, command handling, and lifecycle hooks.
type Session struct {
	log      *slog.Logger
	core     *Core
	client   *Client
	identity auth.Identity

	state          atomic.Int32
	disconnectOnce sync.Once
	now            func() time.Time
}

// NewSession constructs a session for an authenticated connection.
func (c *Core) NewSession(client *Client, identity auth.Identity) *Session {
	return &Session{
		log:      c.log.With("session_id", client.SessionID, "user_id", identity.UserID),
		core:     c,
		client:   client,
		identity: identity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Client returns the session's connection handle.
func (s *Session) Client() *Client { return s.client }

// Connect runs the connect transition. Order is load-bearing: subscriptions
// must exist before redelivery publishes, or the replay would have no
// subscriber to reach.
func (s *Session) Connect(ctx context.Context) {
	s.establishSubscriptions(ctx)

	s.core.presence.SetStatus(ctx, s.identity.UserID, StatusOnline, nil)

	if snapshot, err := s.initialState(ctx); err != nil {
		s.log.Warn("session.initial_state.fail", "err", err)
		s.sendError(&CommandError{Code: "initial_state_failed", Message: "could not load initial state"})
	} else {
		s.send(v1.TypeInitialState, snapshot)
	}

	s.broadcastPresence(ctx, StatusOnline, nil)

	if _, err := s.core.redelivery.RedeliverPending(ctx, s.identity.UserID); err != nil {
		s.log.Warn("session.redelivery.fail", "err", err)
	}

	s.state.Store(stateActive)
	s.log.Info("session.connected")
}

// Disconnect runs the terminal cleanup transition. It is idempotent: explicit
// disconnects and transport-level failures can both trigger it, possibly
// concurrently, and it must run even on abnormal termination.
func (s *Session) Disconnect(cause string) {
	s.disconnectOnce.Do(func() {
		s.state.Store(stateDisconnected)

		// Capture presence-relevant channels before membership is torn down;
		// the final broadcast targets them after this session has left.
		channels := s.presenceChannels()

		s.core.registry.UnsubscribeAll(s.client.SessionID)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.core.presence.SetStatus(ctx, s.identity.UserID, StatusOffline, nil)

		payload := v1.PresenceChangedPayload{
			UserID:     s.identity.UserID,
			Status:     string(StatusOffline),
			LastSeenAt: s.now(),
		}
		for _, ch := range channels {
			s.core.fanout.Publish(NewEvent(v1.TypePresenceChanged, ch, payload))
		}

		s.log.Info("session.disconnected", "cause", cause)
	})
}

// Active reports whether the session finished connecting and is not torn down.
func (s *Session) Active() bool {
	return s.state.Load() == stateActive
}

// HandleCommand dispatches one inbound command. A handler failure of any kind
// is converted into a structured error event for the originating connection;
// it never terminates the session or touches other connections.
func (s *Session) HandleCommand(ctx context.Context, env v1.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("session.command.panic", "type", env.Type, "panic", rec)
			metricCommands.WithLabelValues(env.Type, "error").Inc()
			s.sendError(&CommandError{Code: "internal_error", Message: "command failed"})
		}
	}()

	respType, respPayload, cmdErr := s.dispatch(ctx, env)
	if cmdErr != nil {
		metricCommands.WithLabelValues(env.Type, "error").Inc()
		s.log.Info("session.command.fail", "type", env.Type, "error_code", cmdErr.Code, "err", cmdErr.Message)
		s.sendError(cmdErr)
		return
	}

	metricCommands.WithLabelValues(env.Type, "ok").Inc()
	if respType != "" {
		s.send(respType, respPayload)
	}
}

// dispatch routes a validated envelope to its handler.
func (s *Session) dispatch(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	switch env.Type {
	case v1.TypeUpdatePresence:
		return s.handleUpdatePresence(ctx, env)
	case v1.TypePing:
		return s.handlePing(ctx, env)
	case v1.TypeRequestCounts:
		return s.handleRequestCounts(ctx, env)
	case v1.TypeRequestInitialState:
		return s.handleRequestInitialState(ctx, env)
	case v1.TypeGetUserPresence:
		return s.handleGetUserPresence(ctx, env)
	case v1.TypeAcknowledgeMessage:
		return s.handleAcknowledgeMessage(ctx, env)
	case v1.TypeMarkConversationRead:
		return s.handleMarkConversationRead(ctx, env)
	case v1.TypeMarkNotificationRead:
		return s.handleMarkNotificationRead(ctx, env)
	case v1.TypeTypingIndicator:
		return s.handleTypingIndicator(ctx, env)
	case v1.TypeJoinConversation:
		return s.handleJoinConversation(ctx, env)
	case v1.TypeLeaveConversation:
		return s.handleLeaveConversation(ctx, env)
	case v1.TypeSubscribeToBusiness:
		return s.handleSubscribeToBusiness(ctx, env)
	default:
		return "", nil, &CommandError{Code: "unsupported", Message: "unsupported command: " + env.Type}
	}
}

// ---- connect plumbing ----

// establishSubscriptions applies the connect-time subscription rules: the
// user's personal channels, the global app-update channel, owned/staffed
// business channels, active conversation channels, and the support channels
// for support-agent/admin connections. Store lookups that fail are logged and
// skipped; the base channels are always established.
func (s *Session) establishSubscriptions(ctx context.Context) {
	uid := s.identity.UserID

	s.core.registry.Subscribe(s.client, ChannelUserNotifications(uid))
	s.core.registry.Subscribe(s.client, ChannelUserMessages(uid))
	s.core.registry.Subscribe(s.client, ChannelUserCart(uid))
	s.core.registry.Subscribe(s.client, ChannelUserPackages(uid))
	s.core.registry.Subscribe(s.client, ChannelAppUpdates)

	if businesses, err := s.core.store.Businesses(ctx, uid); err != nil {
		s.log.Warn("session.subscribe.businesses.fail", "err", err)
	} else {
		for _, id := range businesses {
			s.core.registry.Subscribe(s.client, ChannelBusiness(id))
		}
	}

	if convs, err := s.core.store.ActiveConversations(ctx, uid); err != nil {
		s.log.Warn("session.subscribe.conversations.fail", "err", err)
	} else {
		for _, conv := range convs {
			s.core.registry.Subscribe(s.client, ChannelConversation(conv.ID))
		}
	}

	if s.identity.IsSupport() {
		s.core.registry.Subscribe(s.client, ChannelSupportDashboard)
		s.core.registry.Subscribe(s.client, ChannelSupportTickets)
	}
}

// initialState builds the connect snapshot: counts, recent conversations, and
// the user's own presence.
func (s *Session) initialState(ctx context.Context) (v1.InitialStatePayload, error) {
	counts, summaries, err := s.core.counts.Snapshot(ctx, s.identity.UserID)
	if err != nil {
		return v1.InitialStatePayload{}, err
	}

	self := s.core.presence.Status(ctx, s.identity.UserID)

	return v1.InitialStatePayload{
		SessionID: s.client.SessionID,
		Counts: v1.CountUpdatePayload{
			UnreadMessages:      counts.UnreadMessages,
			UnreadNotifications: counts.UnreadNotifications,
			CartItems:           counts.CartItems,
		},
		Presence:      presencePayload(self),
		Conversations: summaries,
	}, nil
}

// broadcastPresence publishes a presence_changed event to every business and
// conversation channel this session is subscribed to.
func (s *Session) broadcastPresence(_ context.Context, status Status, device map[string]string) {
	payload := v1.PresenceChangedPayload{
		UserID:     s.identity.UserID,
		Status:     string(status),
		LastSeenAt: s.now(),
		Device:     device,
	}
	for _, ch := range s.presenceChannels() {
		s.core.fanout.Publish(NewEvent(v1.TypePresenceChanged, ch, payload))
	}
}

// presenceChannels selects the subscribed channels that carry presence
// changes for this user: conversations and businesses.
func (s *Session) presenceChannels() []string {
	var out []string
	for _, name := range s.core.registry.ChannelsOf(s.client.SessionID) {
		if strings.HasPrefix(name, "conversation_") || strings.HasPrefix(name, "business_") {
			out = append(out, name)
		}
	}
	return out
}

// ---- responses ----

// send enqueues a direct response envelope onto this connection's queue.
// Non-blocking, like fanout: a full queue drops the response rather than
// stalling the session.
func (s *Session) send(typ string, payload any) {
	env, err := newEnvelope(typ, "", false, s.now(), payload)
	if err != nil {
		s.log.Error("session.send.marshal_fail", "type", typ, "err", err)
		return
	}

	select {
	case <-s.client.Done():
	case s.client.Send <- env:
	default:
		s.log.Info("session.send.drop", "type", typ)
	}
}

// sendError reports a command failure to the originating connection using the
// same envelope shape as successes.
func (s *Session) sendError(cmdErr *CommandError) {
	s.send(v1.TypeError, v1.ErrorPayload{ErrorCode: cmdErr.Code, Message: cmdErr.Message})
}

// ---- command error type ----

// CommandError is the structured failure a command handler returns instead of
// raising. The session uniformly converts it into an error envelope, which
// makes "never crash the session" a property of the dispatch path rather than
// a convention.
type CommandError struct {
	Code    string
	Message string
}

// Error implements the error interface for logging call sites.
func (e *CommandError) Error() string {
	return e.Code + ": " + e.Message
}

// asCommandError maps store errors onto the command failure taxonomy.
func asCommandError(err error, notFoundCode, notFoundMsg string) *CommandError {
	if errors.Is(err, ErrNotFound) {
		return &CommandError{Code: notFoundCode, Message: notFoundMsg}
	}
	return &CommandError{Code: "internal_error", Message: "temporary failure, try again"}
}

// presencePayload converts a record into its wire form.
func presencePayload(rec PresenceRecord) v1.PresenceChangedPayload {
	return v1.PresenceChangedPayload{
		UserID:     rec.UserID,
		Status:     string(rec.Status),
		LastSeenAt: rec.LastSeenAt,
		Device:     rec.Device,
	}
}
