package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"linkchat/internal/models"
	"linkchat/internal/realtime"
)

type session struct {
	userID  string
	channel realtime.Channel
	state   ConnState
	windows []models.ChatWindow
	pending map[string]*pendingOpen

	// ctx is cancelled on teardown and bounds all background work.
	ctx     context.Context
	cancel  context.CancelFunc
	drained chan struct{}
	log     *zap.Logger
}

func (s *session) window(userID string) *models.ChatWindow {
	for i := range s.windows {
		if s.windows[i].ChatUser.UserID == userID {
			return &s.windows[i]
		}
	}
	return nil
}

// windowFor finds the window whose counterpart sent or received msg.
func (s *session) windowFor(msg models.Message) *models.ChatWindow {
	for i := range s.windows {
		if msg.Involves(s.windows[i].ChatUser.UserID) {
			return &s.windows[i]
		}
	}
	return nil
}

func (s *session) pendingFor(msg models.Message) *pendingOpen {
	if p, ok := s.pending[msg.SenderID]; ok {
		return p
	}
	return s.pending[msg.RecipientID]
}

// insertWindow appends w, first keeping only the MaxWindows-1 most recently
// opened windows when the list is full.
func (s *session) insertWindow(w models.ChatWindow) {
	if len(s.windows) >= MaxWindows {
		keep := s.windows[len(s.windows)-(MaxWindows-1):]
		s.windows = append(make([]models.ChatWindow, 0, MaxWindows), keep...)
	}
	s.windows = append(s.windows, w)
}

func (s *session) removeWindow(userID string) bool {
	for i := range s.windows {
		if s.windows[i].ChatUser.UserID == userID {
			s.windows = append(s.windows[:i], s.windows[i+1:]...)
			return true
		}
	}
	return false
}

// pendingOpen tracks an openChat whose history fetch is in flight.
type pendingOpen struct {
	user     models.ChatUser
	buffered []models.Message
	cancel   context.CancelFunc

	once sync.Once
	done chan struct{}
	err  error
}

func newPendingOpen(user models.ChatUser, cancel context.CancelFunc) *pendingOpen {
	return &pendingOpen{user: user, cancel: cancel, done: make(chan struct{})}
}

func (p *pendingOpen) buffer(msg models.Message) {
	for _, b := range p.buffered {
		if b.ID == msg.ID {
			return
		}
	}
	p.buffered = append(p.buffered, msg)
}

func (p *pendingOpen) finish(err error) {
	p.once.Do(func() {
		p.err = err
		p.cancel()
		close(p.done)
	})
}

func (p *pendingOpen) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// appendUnique appends msgs to list skipping ids already present.
func appendUnique(list []models.Message, msgs ...models.Message) []models.Message {
	seen := make(map[string]struct{}, len(list)+len(msgs))
	for _, m := range list {
		seen[m.ID] = struct{}{}
	}
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		list = append(list, m)
	}
	return list
}
