package application

import (
	"errors"
	"fmt"
)

var (
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrConnectRefused     = errors.New("connection refused by broker")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrConnectInProgress  = errors.New("connect already in progress")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrConnectCanceled    = errors.New("connect canceled")

	ErrNotConnected     = errors.New("not connected")
	ErrBrokerRejected   = errors.New("broker rejected request")
	ErrPublishDebounced = errors.New("publish debounced")

	ErrUnknownTopic  = errors.New("unknown topic")
	ErrZeroBaseline  = errors.New("previous reading is zero, delta undefined")
	ErrTrendOverflow = errors.New("trend value out of float64 range")
)

// ParseError is returned when a numeric topic carries a payload that is not a
// finite decimal number.
type ParseError struct {
	Topic   TopicID
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload %q: %v", e.Topic, e.Payload, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
