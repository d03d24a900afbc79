package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// Event names exchanged with the realtime server.
const (
	EventUserConnected    = "user_connected"
	EventSendMessage      = "send_message"
	EventReceiveMessage   = "receive_message"
	EventFriendshipUpdate = "friendship_update"

	// Transport notifications, generated locally by the channel.
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

var (
	ErrNotConnected = errors.New("realtime channel not connected")
	ErrClosed       = errors.New("realtime channel closed")
)

// Event is one frame on the wire: {"event": name, "data": payload}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`

	// Err is set on connect_error and disconnect notifications.
	Err error `json:"-"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New("event has no payload")
	}
	return json.Unmarshal(e.Data, v)
}

// NewEvent encodes payload into an Event.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}

// Channel is one live realtime connection owned by a single session.
//
// Events delivers inbound frames and transport notifications in arrival
// order and is closed once the channel stops, either after Close or after
// reconnection attempts are exhausted.
type Channel interface {
	Emit(ctx context.Context, event string, payload any) error
	Events() <-chan Event
	Close() error
}

// Connector opens a Channel on behalf of userID.
type Connector interface {
	Connect(ctx context.Context, userID string) (Channel, error)
}
