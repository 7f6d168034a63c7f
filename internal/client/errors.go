package client

import (
	"errors"
	"fmt"
)

// ErrExchangeInFlight is returned by Send while another exchange is in
// progress. The call is a no-op.
var ErrExchangeInFlight = errors.New("client: an exchange is already in flight")

// ErrDisconnected is returned by Send while the connection monitor
// reports the server unreachable.
var ErrDisconnected = errors.New("client: server is unreachable")

// ErrNoUserTurn is returned by RetryLast when the history holds no user
// turn to replay.
var ErrNoUserTurn = errors.New("client: no user turn to retry")

// FailureClass buckets exchange failures for user-facing copy.
type FailureClass int

const (
	FailureUnknown FailureClass = iota
	FailureRateLimited
	FailureNetwork
)

func (c FailureClass) String() string {
	switch c {
	case FailureRateLimited:
		return "rate_limited"
	case FailureNetwork:
		return "network_error"
	default:
		return "unknown"
	}
}

// UserMessage is the copy rendered into the error-flavored assistant
// turn for this failure class.
func (c FailureClass) UserMessage() string {
	switch c {
	case FailureRateLimited:
		return "The server is handling too many requests right now. Wait a moment, then retry."
	case FailureNetwork:
		return "Could not reach the server. Check your connection, then retry."
	default:
		return "Something went wrong while processing your message. Please retry."
	}
}

// ExchangeError is a classified exchange failure.
type ExchangeError struct {
	Class  FailureClass
	Status int
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("exchange failed (%s, HTTP %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("exchange failed (%s): %v", e.Class, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
