package realtime

import (
	"context"
	"encoding/json"
	"strings"

	v1 "tuma/shared/contracts/realtime/v1"
)

// Command handlers. Every handler returns (responseType, responsePayload,
// *CommandError); an empty responseType means the command has no direct
// response. Handlers never return Go errors upward; failures are mapped to
// the command error taxonomy here.

// Acknowledge statuses a client may request.
const (
	ackDelivered = "delivered"
	ackRead      = "read"
)

func decodePayload[T any](env v1.Envelope) (T, *CommandError) {
	var p T
	if len(env.Payload) == 0 {
		return p, &CommandError{Code: "validation_failed", Message: "missing payload"}
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, &CommandError{Code: "validation_failed", Message: "invalid payload"}
	}
	return p, nil
}

func (s *Session) handleUpdatePresence(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.UpdatePresencePayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}

	status := Status(strings.TrimSpace(p.Status))
	if !ValidStatus(status) {
		return "", nil, &CommandError{Code: "validation_failed", Message: "status must be online, away or offline"}
	}

	// A backgrounded app cannot be meaningfully online, whatever it asks for.
	if strings.EqualFold(strings.TrimSpace(p.AppState), "background") {
		status = StatusAway
	}

	s.core.presence.SetStatus(ctx, s.identity.UserID, status, p.Device)
	s.broadcastPresence(ctx, status, p.Device)

	return v1.TypePresenceSuccess, v1.PresenceSuccessPayload{Status: string(status)}, nil
}

func (s *Session) handlePing(_ context.Context, _ v1.Envelope) (string, any, *CommandError) {
	return v1.TypePong, v1.PongPayload{TS: s.now()}, nil
}

func (s *Session) handleRequestCounts(ctx context.Context, _ v1.Envelope) (string, any, *CommandError) {
	counts, err := s.core.counts.Recompute(ctx, s.identity.UserID)
	if err != nil {
		return "", nil, &CommandError{Code: "internal_error", Message: "count recompute failed"}
	}
	return v1.TypeCountUpdate, v1.CountUpdatePayload{
		UnreadMessages:      counts.UnreadMessages,
		UnreadNotifications: counts.UnreadNotifications,
		CartItems:           counts.CartItems,
	}, nil
}

func (s *Session) handleRequestInitialState(ctx context.Context, _ v1.Envelope) (string, any, *CommandError) {
	snapshot, err := s.initialState(ctx)
	if err != nil {
		return "", nil, &CommandError{Code: "initial_state_failed", Message: "could not load initial state"}
	}
	return v1.TypeInitialState, snapshot, nil
}

func (s *Session) handleGetUserPresence(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.GetUserPresencePayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if len(p.UserIDs) == 0 {
		return "", nil, &CommandError{Code: "validation_failed", Message: "user_ids is required"}
	}

	recs := s.core.presence.Statuses(ctx, p.UserIDs)

	out := make(map[string]v1.PresenceChangedPayload, len(recs))
	for id, rec := range recs {
		out[id] = presencePayload(rec)
	}
	return v1.TypeUserPresence, v1.UserPresencePayload{Presences: out}, nil
}

func (s *Session) handleAcknowledgeMessage(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.AcknowledgeMessagePayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if p.MessageID == "" {
		return "", nil, &CommandError{Code: "validation_failed", Message: "message_id is required"}
	}
	if p.Status != ackDelivered && p.Status != ackRead {
		return "", nil, &CommandError{Code: "validation_failed", Message: "status must be delivered or read"}
	}

	msg, err := s.core.store.Message(ctx, p.MessageID)
	if err != nil {
		return "", nil, asCommandError(err, "message_not_found", "message not found")
	}
	if cmdErr := s.requireParticipant(ctx, msg.ConversationID, "message_not_found", "message not found"); cmdErr != nil {
		return "", nil, cmdErr
	}

	at := s.now()
	switch p.Status {
	case ackDelivered:
		if msg.DeliveredAt == nil {
			if _, err := s.core.store.StampDelivered(ctx, msg.ID, at); err != nil {
				return "", nil, asCommandError(err, "message_not_found", "message not found")
			}
		}
	case ackRead:
		if _, err := s.core.store.StampRead(ctx, msg.ID, at); err != nil {
			return "", nil, asCommandError(err, "message_not_found", "message not found")
		}
	}

	s.core.fanout.Publish(NewEvent(v1.TypeMessageAcknowledged, ChannelConversation(msg.ConversationID),
		v1.MessageAcknowledgedPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			UserID:         s.identity.UserID,
			Status:         p.Status,
			At:             at,
		}))

	return v1.TypeAcknowledgeSuccess, v1.AcknowledgeSuccessPayload{MessageID: msg.ID, Status: p.Status}, nil
}

func (s *Session) handleMarkConversationRead(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.MarkConversationReadPayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if p.ConversationID == "" {
		return "", nil, &CommandError{Code: "validation_failed", Message: "conversation_id is required"}
	}

	at := s.now()
	stamped, err := s.core.store.MarkConversationRead(ctx, p.ConversationID, s.identity.UserID, at)
	if err != nil {
		return "", nil, asCommandError(err, "conversation_not_found", "conversation not found")
	}

	if _, err := s.core.counts.RecomputeAndPublish(ctx, s.identity.UserID); err != nil {
		s.log.Warn("session.mark_read.recount.fail", "err", err)
	}

	s.core.fanout.Publish(NewEvent(v1.TypeConversationRead, ChannelConversation(p.ConversationID),
		v1.ConversationReadPayload{
			ConversationID: p.ConversationID,
			UserID:         s.identity.UserID,
			ReadAt:         at,
			Count:          stamped,
		}))

	return v1.TypeConversationReadSuccess, v1.ConversationReadSuccessPayload{
		ConversationID: p.ConversationID,
		Count:          stamped,
	}, nil
}

func (s *Session) handleMarkNotificationRead(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.MarkNotificationReadPayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if p.NotificationID == "" {
		return "", nil, &CommandError{Code: "validation_failed", Message: "notification_id is required"}
	}

	if err := s.core.store.MarkNotificationRead(ctx, p.NotificationID, s.identity.UserID, s.now()); err != nil {
		return "", nil, asCommandError(err, "notification_not_found", "notification not found")
	}

	if _, err := s.core.counts.RecomputeAndPublish(ctx, s.identity.UserID); err != nil {
		s.log.Warn("session.notification_read.recount.fail", "err", err)
	}

	return v1.TypeNotificationReadSuccess, v1.NotificationReadSuccessPayload{NotificationID: p.NotificationID}, nil
}

func (s *Session) handleTypingIndicator(_ context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.TypingIndicatorPayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if p.ConversationID == "" {
		return "", nil, &CommandError{Code: "validation_failed", Message: "conversation_id is required"}
	}

	s.core.fanout.Publish(NewEvent(v1.TypeTyping, ChannelConversation(p.ConversationID),
		v1.TypingPayload{
			ConversationID: p.ConversationID,
			UserID:         s.identity.UserID,
			Typing:         p.Typing,
		}))

	// Typing is fire-and-forget; no direct response.
	return "", nil, nil
}

func (s *Session) handleJoinConversation(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.JoinConversationPayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if p.ConversationID == "" {
		return "", nil, &CommandError{Code: "validation_failed", Message: "conversation_id is required"}
	}

	if cmdErr := s.requireParticipant(ctx, p.ConversationID, "conversation_not_found", "conversation not found"); cmdErr != nil {
		return "", nil, cmdErr
	}

	s.core.registry.Subscribe(s.client, ChannelConversation(p.ConversationID))

	self := s.core.presence.Status(ctx, s.identity.UserID)
	s.core.fanout.Publish(NewEvent(v1.TypeParticipantJoined, ChannelConversation(p.ConversationID),
		v1.ParticipantJoinedPayload{
			ConversationID: p.ConversationID,
			UserID:         s.identity.UserID,
			Status:         string(self.Status),
		}))

	return v1.TypeConversationJoined, v1.ConversationJoinedPayload{ConversationID: p.ConversationID}, nil
}

func (s *Session) handleLeaveConversation(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.LeaveConversationPayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if p.ConversationID == "" {
		return "", nil, &CommandError{Code: "validation_failed", Message: "conversation_id is required"}
	}

	if cmdErr := s.requireParticipant(ctx, p.ConversationID, "conversation_not_found", "conversation not found"); cmdErr != nil {
		return "", nil, cmdErr
	}

	s.core.registry.Unsubscribe(s.client.SessionID, ChannelConversation(p.ConversationID))

	s.core.fanout.Publish(NewEvent(v1.TypeParticipantLeft, ChannelConversation(p.ConversationID),
		v1.ParticipantLeftPayload{
			ConversationID: p.ConversationID,
			UserID:         s.identity.UserID,
			LastSeenAt:     s.now(),
		}))

	return v1.TypeConversationLeft, v1.ConversationLeftPayload{ConversationID: p.ConversationID}, nil
}

func (s *Session) handleSubscribeToBusiness(ctx context.Context, env v1.Envelope) (string, any, *CommandError) {
	p, cmdErr := decodePayload[v1.SubscribeToBusinessPayload](env)
	if cmdErr != nil {
		return "", nil, cmdErr
	}
	if p.BusinessID == "" {
		return "", nil, &CommandError{Code: "validation_failed", Message: "business_id is required"}
	}

	businesses, err := s.core.store.Businesses(ctx, s.identity.UserID)
	if err != nil {
		return "", nil, &CommandError{Code: "internal_error", Message: "temporary failure, try again"}
	}
	if !contains(businesses, p.BusinessID) {
		return "", nil, &CommandError{Code: "business_not_found", Message: "business not found"}
	}

	s.core.registry.Subscribe(s.client, ChannelBusiness(p.BusinessID))

	return v1.TypeBusinessSubscribed, v1.BusinessSubscribedPayload{BusinessID: p.BusinessID}, nil
}

// requireParticipant checks that the caller belongs to the conversation.
// Inaccessible and absent look identical to the caller.
func (s *Session) requireParticipant(ctx context.Context, conversationID, code, msg string) *CommandError {
	conv, err := s.core.store.Conversation(ctx, conversationID)
	if err != nil {
		return asCommandError(err, code, msg)
	}
	if !contains(conv.Participants, s.identity.UserID) {
		return &CommandError{Code: code, Message: msg}
	}
	return nil
}
