package mocks

import (
	"context"
	"sync"

	"linkchat/internal/realtime"
)

// Channel is an in-memory realtime.Channel. Tests push inbound events with
// Push and inspect outbound ones with Emitted.
type Channel struct {
	mu      sync.Mutex
	emitted []realtime.Event
	events  chan realtime.Event
	stopped bool
	closed  bool
	emitErr error
}

func NewChannel() *Channel {
	return &Channel{events: make(chan realtime.Event, 64)}
}

func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	ev, err := realtime.NewEvent(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrClosed
	}
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emitted = append(c.emitted, ev)
	return nil
}

func (c *Channel) Events() <-chan realtime.Event {
	return c.events
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopLocked()
	return nil
}

// Stop ends the event stream without a Close, like a transport that gave up.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Channel) stopLocked() {
	if !c.stopped {
		c.stopped = true
		close(c.events)
	}
}

func (c *Channel) Push(ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.events <- ev
	}
}

func (c *Channel) PushPayload(name string, payload any) {
	ev, err := realtime.NewEvent(name, payload)
	if err != nil {
		panic(err)
	}
	c.Push(ev)
}

func (c *Channel) SetEmitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitErr = err
}

func (c *Channel) Emitted(name string) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Event
	for _, ev := range c.emitted {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connector hands out a fresh Channel per Connect call.
type Connector struct {
	mu       sync.Mutex
	channels []*Channel
	users    []string
	err      error
}

func (c *Connector) Connect(ctx context.Context, userID string) (realtime.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	ch := NewChannel()
	c.channels = append(c.channels, ch)
	c.users = append(c.users, userID)
	return ch, nil
}

func (c *Connector) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Connector) Last() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[len(c.channels)-1]
}

func (c *Connector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

func (c *Connector) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.users...)
}

var _ realtime.Channel = (*Channel)(nil)
var _ realtime.Connector = (*Connector)(nil)
