package chat

import (
	"context"

	"go.uber.org/zap"

	"linkchat/internal/models"
	"linkchat/internal/realtime"
)

// drain consumes the session's inbound queue one event at a time, so events
// are applied in arrival order. It returns when the channel stops.
func (m *Manager) drain(s *session) {
	defer close(s.drained)

	for ev := range s.channel.Events() {
		m.handleEvent(s, ev)
	}

	m.mu.Lock()
	stopped := m.session == s && s.state != StateError
	if stopped {
		m.setStateLocked(s, StateError)
	}
	m.mu.Unlock()
	if stopped {
		m.offline(s, nil)
	}
}

func (m *Manager) handleEvent(s *session, ev realtime.Event) {
	switch ev.Name {
	case realtime.EventConnect:
		m.mu.Lock()
		if m.session != s {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(s, StateConnected)
		m.mu.Unlock()
		m.announce(s)

	case realtime.EventConnectError:
		s.log.Warn("realtime connect error", zap.Error(ev.Err))
		m.mu.Lock()
		if m.session == s && s.state != StateError {
			m.setStateLocked(s, StateConnecting)
		}
		m.mu.Unlock()

	case realtime.EventDisconnect:
		m.mu.Lock()
		current := m.session == s && s.state != StateError
		if current {
			m.setStateLocked(s, StateError)
		}
		m.mu.Unlock()
		if current {
			m.offline(s, ev.Err)
		}

	case realtime.EventReceiveMessage:
		var msg models.Message
		if err := ev.Decode(&msg); err != nil || msg.ID == "" {
			s.log.Warn("dropping malformed receive_message", zap.Error(err))
			return
		}
		m.receiveMessage(s, msg)

	case realtime.EventFriendshipUpdate:
		var update models.FriendshipUpdate
		if err := ev.Decode(&update); err != nil || update.UserID == "" {
			s.log.Warn("dropping malformed friendship_update", zap.Error(err))
			return
		}
		status, err := models.ParseFriendshipStatus(string(update.Status))
		if err != nil {
			s.log.Warn("dropping friendship_update", zap.Error(err))
			return
		}
		m.mu.Lock()
		if m.session == s {
			m.updateFriendshipLocked(s, update.UserID, status)
		}
		m.mu.Unlock()

	default:
		s.log.Debug("ignoring realtime event", zap.String("event", ev.Name))
	}
}

// receiveMessage appends a pushed message to the matching window. Messages
// for a chat still loading are held until its history is in place; others
// are dropped, the backend keeps them.
func (m *Manager) receiveMessage(s *session, msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s {
		return
	}
	if w := s.windowFor(msg); w != nil {
		if w.HasMessage(msg.ID) {
			return
		}
		w.Messages = append(w.Messages, msg)
		m.changedLocked(s)
		return
	}
	if p := s.pendingFor(msg); p != nil {
		p.buffer(msg)
		return
	}
	s.log.Debug("no open window for message", zap.String("message_id", msg.ID))
}

// announce tells the realtime server which user owns the connection. It runs
// on every connect, including reconnects.
func (m *Manager) announce(s *session) {
	ctx, cancel := context.WithTimeout(s.ctx, defaultEmitTimeout)
	defer cancel()
	if err := s.channel.Emit(ctx, realtime.EventUserConnected, s.userID); err != nil {
		s.log.Warn("presence announcement failed", zap.Error(err))
	}
}

func (m *Manager) offline(s *session, cause error) {
	s.log.Error("realtime connection lost", zap.Error(cause))
	m.notify(s.ctx, s, Notification{
		Kind:          KindTransport,
		SessionUserID: s.userID,
		Text:          "messaging unavailable",
	})
}
