package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"linkchat/internal/models"
	"linkchat/internal/realtime"
)

// OpenChat shows the conversation with user. An existing window is
// maximized; otherwise the history is fetched and a window is added once it
// arrives, evicting the oldest windows when MaxWindows are open. Concurrent
// opens for the same user share one fetch.
//
// OpenChat waits for the fetch. Cancelling ctx stops the wait, not the fetch.
func (m *Manager) OpenChat(ctx context.Context, user models.ChatUser) error {
	if user.UserID == "" {
		return ErrInvalidUser
	}
	ctx, span := tracer.Start(ctx, "chat.open", trace.WithAttributes(attribute.String("chat.user_id", user.UserID)))
	defer span.End()

	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.userID == user.UserID {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot chat with yourself", ErrInvalidUser)
	}
	if w := s.window(user.UserID); w != nil {
		if w.IsMinimized {
			w.IsMinimized = false
			m.changedLocked(s)
		}
		m.mu.Unlock()
		span.SetAttributes(attribute.Bool("chat.existing", true))
		return nil
	}
	p, joined := s.pending[user.UserID]
	if !joined {
		fetchCtx, cancel := context.WithTimeout(trace.ContextWithSpan(s.ctx, span), m.cfg.FetchTimeout)
		p = newPendingOpen(user, cancel)
		s.pending[user.UserID] = p
		go m.fetchHistory(fetchCtx, s, p)
	}
	m.mu.Unlock()

	err := p.wait(ctx)
	if err != nil && !errors.Is(err, ErrOpenCancelled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open chat failed")
	}
	return err
}

func (m *Manager) fetchHistory(ctx context.Context, s *session, p *pendingOpen) {
	userID := p.user.UserID
	history, err := m.backend.ConversationHistory(ctx, s.userID, userID)

	m.mu.Lock()
	if m.session != s || s.pending[userID] != p {
		m.mu.Unlock()
		s.log.Debug("discarding history for closed chat", zap.String("user_id", userID))
		p.finish(ErrOpenCancelled)
		return
	}
	delete(s.pending, userID)

	if err != nil {
		m.mu.Unlock()
		s.log.Warn("history fetch failed", zap.String("user_id", userID), zap.Error(err))
		m.notify(trace.ContextWithSpan(s.ctx, trace.SpanFromContext(ctx)), s, Notification{
			Kind:          KindHistoryFetch,
			SessionUserID: s.userID,
			UserID:        userID,
			Text:          "could not load conversation with " + displayName(p.user),
		})
		p.finish(fmt.Errorf("%w: %v", ErrHistoryFetch, err))
		return
	}

	messages := appendUnique(make([]models.Message, 0, len(history)+len(p.buffered)), history...)
	messages = appendUnique(messages, p.buffered...)
	s.insertWindow(models.ChatWindow{ChatUser: p.user, Messages: messages})
	m.changedLocked(s)
	m.mu.Unlock()

	s.log.Debug("chat opened", zap.String("user_id", userID), zap.Int("messages", len(messages)))
	p.finish(nil)
}

// CloseChat removes the window for userID, or abandons its pending open.
func (m *Manager) CloseChat(userID string) bool {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return false
	}
	p, pending := s.pending[userID]
	if pending {
		delete(s.pending, userID)
	}
	removed := s.removeWindow(userID)
	if removed {
		m.changedLocked(s)
	}
	m.mu.Unlock()

	if pending {
		p.finish(ErrOpenCancelled)
	}
	return removed || pending
}

// MinimizeChat collapses the window for userID.
func (m *Manager) MinimizeChat(userID string) bool {
	return m.setMinimized(userID, true)
}

// MaximizeChat expands the window for userID.
func (m *Manager) MaximizeChat(userID string) bool {
	return m.setMinimized(userID, false)
}

func (m *Manager) setMinimized(userID string, minimized bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil {
		return false
	}
	w := s.window(userID)
	if w == nil {
		return false
	}
	if w.IsMinimized != minimized {
		w.IsMinimized = minimized
		m.changedLocked(s)
	}
	return true
}

// UpdateFriendshipStatus is the single entry point for relationship changes,
// whether they come from the UI or from a friendship_update push.
func (m *Manager) UpdateFriendshipStatus(userID string, status models.FriendshipStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil {
		return false
	}
	return m.updateFriendshipLocked(s, userID, status)
}

func (m *Manager) updateFriendshipLocked(s *session, userID string, status models.FriendshipStatus) bool {
	if p, ok := s.pending[userID]; ok {
		p.user.FriendshipStatus = status
	}
	w := s.window(userID)
	if w == nil {
		return false
	}
	if w.ChatUser.FriendshipStatus != status {
		w.ChatUser.FriendshipStatus = status
		m.changedLocked(s)
	}
	return true
}

// SendMessage persists content as a message to userID, publishes it on the
// realtime connection and appends it to the window. Local refusals wrap
// ErrSendPolicy and touch nothing. The message is appended only after the
// backend has stored it.
func (m *Manager) SendMessage(ctx context.Context, userID, content string) (models.Message, error) {
	content = strings.TrimSpace(content)

	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return models.Message{}, ErrNoSession
	}
	if err := sendPolicy(s, userID, content); err != nil {
		m.mu.Unlock()
		s.log.Debug("send refused", zap.String("user_id", userID), zap.Error(err))
		return models.Message{}, err
	}
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "chat.send", trace.WithAttributes(attribute.String("chat.user_id", userID)))
	defer span.End()

	persistCtx, cancel := context.WithTimeout(trace.ContextWithSpan(s.ctx, span), m.cfg.PersistTimeout)
	defer cancel()
	msg, err := m.backend.CreateMessage(persistCtx, models.NewMessage{
		SenderID:    s.userID,
		RecipientID: userID,
		Content:     content,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		m.notify(ctx, s, Notification{
			Kind:          KindPersistence,
			SessionUserID: s.userID,
			UserID:        userID,
			Text:          "message could not be sent",
		})
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	emitCtx, emitCancel := context.WithTimeout(persistCtx, defaultEmitTimeout)
	if err := s.channel.Emit(emitCtx, realtime.EventSendMessage, msg); err != nil {
		// Already stored; the counterpart sees it on their next history load.
		s.log.Warn("publishing sent message failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	emitCancel()

	m.mu.Lock()
	if m.session == s {
		if w := s.window(userID); w != nil && !w.HasMessage(msg.ID) {
			w.Messages = append(w.Messages, msg)
			m.changedLocked(s)
		}
	}
	m.mu.Unlock()
	return msg, nil
}

func sendPolicy(s *session, userID, content string) error {
	w := s.window(userID)
	switch {
	case w == nil:
		return fmt.Errorf("%w: %w", ErrSendPolicy, ErrNoWindow)
	case w.ChatUser.FriendshipStatus != models.FriendshipFriendly:
		return fmt.Errorf("%w: %w", ErrSendPolicy, ErrNotFriendly)
	case content == "":
		return fmt.Errorf("%w: %w", ErrSendPolicy, ErrEmptyContent)
	case s.state == StateError:
		return fmt.Errorf("%w: %w", ErrSendPolicy, ErrOffline)
	}
	return nil
}

func displayName(u models.ChatUser) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.UserID
}
