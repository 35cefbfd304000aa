package broker

import (
	"errors"
	"fmt"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
)

var (
	ErrReceive            = errors.New("broker: receive failed")
	ErrSend               = errors.New("broker: send failed")
	ErrUnknownPackageType = errors.New("broker: unknown package type")
	ErrGenerator          = errors.New("broker: heartbeat generator failed")
	ErrInvalidConfig      = errors.New("broker: invalid service config")
)

// HandlerError reports a collaborator rejecting one package.
type HandlerError struct {
	Type frame.Type
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("broker: %s handler: %v", e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
