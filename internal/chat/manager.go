package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"linkchat/internal/models"
	"linkchat/internal/observability"
	"linkchat/internal/realtime"
)

const (
	// MaxWindows is the number of conversation windows open at once.
	MaxWindows = 3

	defaultFetchTimeout   = 15 * time.Second
	defaultPersistTimeout = 15 * time.Second
	defaultEmitTimeout    = 5 * time.Second
)

var tracer = otel.Tracer("linkchat/chat")

// ConnState is the state of the session's realtime connection.
type ConnState string

const (
	StateDisconnected ConnState = "DISCONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
	StateError        ConnState = "ERROR"
)

var allStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateError),
}

// Backend is the subset of the REST backend the manager needs.
type Backend interface {
	ConversationHistory(ctx context.Context, userA, userB string) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
}

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Update is pushed to subscribers after every change to the read model.
type Update struct {
	State        ConnState           `json:"state"`
	Windows      []models.ChatWindow `json:"chats"`
	Notification *Notification       `json:"notification,omitempty"`
}

// Config holds manager timeouts. Zero values select the defaults.
type Config struct {
	FetchTimeout   time.Duration
	PersistTimeout time.Duration
}

// Manager owns the realtime connection and the open chat windows of one
// authenticated user.
type Manager struct {
	backend   Backend
	connector realtime.Connector
	notifier  Notifier
	log       *zap.Logger
	cfg       Config

	// lifecycle serializes StartSession and EndSession.
	lifecycle sync.Mutex

	mu      sync.Mutex
	session *session
	subs    map[int]*subscription
	nextSub int
}

// subscription is bound to the session it was opened for and is closed
// when that session ends.
type subscription struct {
	ch    chan Update
	owner *session
}

// NewManager constructs a Manager. notifier may be nil.
func NewManager(backend Backend, connector realtime.Connector, notifier Notifier, cfg Config, log *zap.Logger) *Manager {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	observability.SetConnectionState(string(StateDisconnected), allStates...)
	return &Manager{
		backend:   backend,
		connector: connector,
		notifier:  notifier,
		log:       log,
		cfg:       cfg,
		subs:      make(map[int]*subscription),
	}
}

// StartSession binds the manager to userID and opens the realtime
// connection. Starting a session for the user already bound is a no-op; a
// different user tears the previous session down first.
func (m *Manager) StartSession(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoSession
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	current := m.session
	m.mu.Unlock()
	if current != nil {
		if current.userID == userID {
			return nil
		}
		m.log.Info("session identity changed", zap.String("from", current.userID), zap.String("to", userID))
		m.teardown(current)
	}

	ch, err := m.connector.Connect(ctx, userID)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrTransport, err)
		m.notify(ctx, nil, Notification{
			Kind:          KindTransport,
			SessionUserID: userID,
			Text:          "messaging unavailable",
		})
		return wrapped
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		userID:  userID,
		channel: ch,
		state:   StateConnecting,
		pending: make(map[string]*pendingOpen),
		ctx:     sctx,
		cancel:  cancel,
		drained: make(chan struct{}),
		log:     m.log.With(zap.String("session_user_id", userID)),
	}

	m.mu.Lock()
	m.session = s
	observability.SetConnectionState(string(StateConnecting), allStates...)
	observability.SetOpenWindows(0)
	m.broadcastLocked(nil)
	m.mu.Unlock()

	s.log.Info("chat session started")
	go m.drain(s)
	return nil
}

// EndSession closes the connection and discards every window. It is safe to
// call without an active session.
func (m *Manager) EndSession() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		m.teardown(s)
	}
}

func (m *Manager) teardown(s *session) {
	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	pending := s.pending
	s.pending = make(map[string]*pendingOpen)
	s.windows = nil
	observability.SetConnectionState(string(StateDisconnected), allStates...)
	observability.SetOpenWindows(0)
	m.publishLocked(s, Update{State: StateDisconnected, Windows: []models.ChatWindow{}})
	for id, sub := range m.subs {
		if sub.owner == s {
			delete(m.subs, id)
			close(sub.ch)
		}
	}
	m.mu.Unlock()

	s.cancel()
	for _, p := range pending {
		p.finish(ErrOpenCancelled)
	}
	if err := s.channel.Close(); err != nil {
		s.log.Warn("closing realtime channel", zap.Error(err))
	}
	<-s.drained
	s.log.Info("chat session ended")
}

// CurrentUserID returns the bound user, or "" without a session.
func (m *Manager) CurrentUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.userID
}

// State returns the connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return StateDisconnected
	}
	return m.session.state
}

// Windows returns the open windows, oldest opened first.
func (m *Manager) Windows() []models.ChatWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a stream of read-model updates for userID's session and
// a function that cancels the subscription. The current state is delivered
// first. Slow subscribers only ever see the newest update. The stream is
// closed when the session ends, so it never carries another user's chats.
func (m *Manager) Subscribe(userID string) (<-chan Update, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil {
		return nil, nil, ErrNoSession
	}
	if s.userID != userID {
		return nil, nil, ErrNotSessionOwner
	}

	ch := make(chan Update, 1)
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &subscription{ch: ch, owner: s}
	ch <- Update{State: s.state, Windows: m.snapshotLocked()}

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub.ch)
		}
	}, nil
}

func (m *Manager) stateLocked() ConnState {
	if m.session == nil {
		return StateDisconnected
	}
	return m.session.state
}

func (m *Manager) snapshotLocked() []models.ChatWindow {
	if m.session == nil {
		return []models.ChatWindow{}
	}
	out := make([]models.ChatWindow, 0, len(m.session.windows))
	for _, w := range m.session.windows {
		out = append(out, w.Clone())
	}
	return out
}

func (m *Manager) broadcastLocked(n *Notification) {
	m.publishLocked(m.session, Update{State: m.stateLocked(), Windows: m.snapshotLocked(), Notification: n})
}

// publishLocked hands u to every subscriber of owner, replacing an update
// the subscriber has not read yet.
func (m *Manager) publishLocked(owner *session, u Update) {
	if owner == nil {
		return
	}
	for _, sub := range m.subs {
		if sub.owner != owner {
			continue
		}
		select {
		case sub.ch <- u:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- u:
		default:
		}
	}
}

func (m *Manager) changedLocked(s *session) {
	observability.SetOpenWindows(len(s.windows))
	m.broadcastLocked(nil)
}

func (m *Manager) setStateLocked(s *session, state ConnState) {
	if s.state == state {
		return
	}
	s.log.Info("connection state changed", zap.String("from", string(s.state)), zap.String("to", string(state)))
	s.state = state
	observability.SetConnectionState(string(state), allStates...)
	m.broadcastLocked(nil)
}

// notify reaches the subscribers of s only; s is nil when no session was
// established.
func (m *Manager) notify(ctx context.Context, s *session, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	observability.IncNotification(string(n.Kind))
	m.log.Warn("chat notification",
		zap.String("kind", string(n.Kind)),
		zap.String("user_id", n.UserID),
		zap.String("text", n.Text),
	)

	m.mu.Lock()
	if s != nil && m.session == s {
		m.publishLocked(s, Update{State: m.stateLocked(), Windows: m.snapshotLocked(), Notification: &n})
	}
	m.mu.Unlock()

	if m.notifier != nil {
		m.notifier.Notify(ctx, n)
	}
}
