package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"linkchat/internal/observability"
)

// Config tunes the websocket transport.
type Config struct {
	URL              string
	Token            string
	// MaxAttempts bounds the dials per outage, the first one included.
	MaxAttempts      uint64
	RetryInterval    time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	QueueSize        int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Dialer opens websocket channels against the realtime server.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewDialer constructs a Dialer.
func NewDialer(cfg Config, log *zap.Logger) *Dialer {
	cfg = cfg.withDefaults()
	return &Dialer{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		log:    log,
		token:  cfg.Token,
	}
}

// SetToken replaces the bearer token used by channels connected afterwards.
func (d *Dialer) SetToken(token string) {
	d.mu.Lock()
	d.token = token
	d.mu.Unlock()
}

// Connect starts a channel. It returns immediately; the outcome of the
// handshake is reported as a connect or connect_error event.
func (d *Dialer) Connect(ctx context.Context, userID string) (Channel, error) {
	if d.cfg.URL == "" {
		return nil, fmt.Errorf("realtime url is empty")
	}
	header := http.Header{}
	d.mu.RLock()
	token := d.token
	d.mu.RUnlock()
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &WSChannel{
		cfg:      d.cfg,
		dialer:   d.dialer,
		header:   header,
		log:      d.log.With(zap.String("user_id", userID), zap.String("conn_id", uuid.NewString())),
		ctx:      runCtx,
		cancel:   cancel,
		events:   make(chan Event, d.cfg.QueueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// WSChannel is a Channel over a gorilla websocket connection that redials
// after drops with a bounded constant backoff.
type WSChannel struct {
	cfg    Config
	dialer *websocket.Dialer
	header http.Header
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events    chan Event
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// Events returns the inbound queue.
func (c *WSChannel) Events() <-chan Event {
	return c.events
}

// Emit writes one event frame.
func (c *WSChannel) Emit(ctx context.Context, event string, payload any) error {
	ev, err := NewEvent(event, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		observability.IncRealtimeEvent("out", "write_error")
		return fmt.Errorf("write %s: %w", event, err)
	}
	observability.IncRealtimeEvent("out", event)
	return nil
}

// Close stops the channel and waits for its goroutine to exit. It is safe to
// call more than once.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		c.cancel()
		close(c.done)
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	<-c.finished
	return nil
}

func (c *WSChannel) run() {
	defer close(c.finished)
	defer close(c.events)

	redial := false
	for {
		conn, err := c.dial(redial)
		if err != nil {
			if !c.isClosed() {
				c.log.Warn("realtime reconnect attempts exhausted", zap.Error(err))
				c.deliver(Event{Name: EventDisconnect, Err: err})
			}
			return
		}
		if !c.setConn(conn) {
			_ = conn.Close()
			return
		}
		c.log.Info("realtime connected", zap.String("url", c.cfg.URL))
		c.deliver(Event{Name: EventConnect})

		err = c.read(conn)
		c.setConn(nil)
		_ = conn.Close()
		if c.isClosed() {
			return
		}
		c.log.Warn("realtime connection dropped", zap.Error(err))
		c.deliver(Event{Name: EventConnectError, Err: err})
		redial = true
	}
}

// dial makes at most MaxAttempts attempts, RetryInterval apart. A redial
// after a drop also waits RetryInterval before its first attempt.
func (c *WSChannel) dial(redial bool) (*websocket.Conn, error) {
	if redial {
		timer := time.NewTimer(c.cfg.RetryInterval)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, c.ctx.Err()
		case <-timer.C:
		}
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryInterval), c.cfg.MaxAttempts-1),
		c.ctx,
	)

	var conn *websocket.Conn
	operation := func() error {
		ws, _, err := c.dialer.DialContext(c.ctx, c.cfg.URL, c.header)
		if err != nil {
			if c.ctx.Err() != nil {
				return backoff.Permanent(c.ctx.Err())
			}
			c.deliver(Event{Name: EventConnectError, Err: err})
			return err
		}
		conn = ws
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *WSChannel) read(conn *websocket.Conn) error {
	pongWait := c.cfg.PingInterval * 2
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.ping(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			c.log.Debug("dropping malformed realtime frame", zap.Int("bytes", len(data)))
			continue
		}
		observability.IncRealtimeEvent("in", ev.Name)
		c.deliver(ev)
	}
}

func (c *WSChannel) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *WSChannel) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *WSChannel) setConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *WSChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
