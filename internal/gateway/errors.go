package gateway

import (
	"errors"
	"fmt"
)

// ErrGateway matches every failure reported by Client.
var ErrGateway = errors.New("gateway_error")

var ErrNotConfigured = errors.New("gateway_not_configured")

// Error describes a failed gateway call. StatusCode is the HTTP status when
// one was received.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrGateway
}
