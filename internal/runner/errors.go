package runner

import (
	"errors"
	"fmt"

	"mqttwrk/internal/mqtt"
)

// ErrConnect marks a session that could not be set up.
var ErrConnect = errors.New("session setup failed")

// UnexpectedPacketError is returned when a session sees an event its current
// phase does not allow.
type UnexpectedPacketError struct {
	ID    string
	Event mqtt.Event
}

func (e *UnexpectedPacketError) Error() string {
	return fmt.Sprintf("%s: unexpected packet %s", e.ID, e.Event)
}

// SubscriptionRejectedError is returned when the broker refuses a filter.
type SubscriptionRejectedError struct {
	ID     string
	Filter string
	Code   byte
}

func (e *SubscriptionRejectedError) Error() string {
	return fmt.Sprintf("%s: subscription to %s rejected (code %#x)", e.ID, e.Filter, e.Code)
}
