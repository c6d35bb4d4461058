package application

import (
	"context"
	"time"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (c ConnectionState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// BrokerHandlers receive events from a BrokerLink. They are called from the
// link's I/O goroutines and must not call back into the link. A lost
// connection is reported through OnConnectionLost only; the link is
// Disconnected by the time it is called.
type BrokerHandlers struct {
	OnMessage        func(topic string, payload []byte, receivedAt time.Time)
	OnConnectionLost func(reason error)
	OnStateChange    func(state ConnectionState)
}

// BrokerLink is a single connection to an MQTT broker.
type BrokerLink interface {
	Connect(ctx context.Context) error
	Subscribe(topics []TopicID) error
	Publish(topic TopicID, payload string) error
	Disconnect()

	State() ConnectionState
	SetHandlers(handlers BrokerHandlers)
}
