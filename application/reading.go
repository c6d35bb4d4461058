package application

import "time"

type Reading struct {
	Topic      TopicID   `json:"topic"`
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type InboundMessage struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ButtonState is the last raw payload seen on the button topic.
type ButtonState string

const (
	ButtonOff ButtonState = "0"
	ButtonOn  ButtonState = "1"
)

// Next returns the payload a toggle publishes. Anything other than "0",
// including no state at all, toggles to "0".
func (b ButtonState) Next() ButtonState {
	if b == ButtonOff {
		return ButtonOn
	}
	return ButtonOff
}
