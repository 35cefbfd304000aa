package broker

import (
	"errors"
	"fmt"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
)

var ErrMissingHandler = errors.New("broker: missing protocol handler")

// Msg0Handler validates RA_MSG0. It produces no response.
type Msg0Handler interface {
	ProcessMsg0(body []byte) error
}

// Msg1Handler turns RA_MSG1 into an RA_MSG2 response.
type Msg1Handler interface {
	ProcessMsg1(body []byte) (frame.Package, error)
}

// Msg3Handler turns RA_MSG3 into an attestation result response.
type Msg3Handler interface {
	ProcessMsg3(body []byte) (frame.Package, error)
}

// KeyRequestHandler turns KEY_REQ into a KEY_RES response.
type KeyRequestHandler interface {
	ProcessKeyRequest(body []byte) (frame.Package, error)
}

// Handlers is the collaborator set serving one session.
type Handlers struct {
	Msg0       Msg0Handler
	Msg1       Msg1Handler
	Msg3       Msg3Handler
	KeyRequest KeyRequestHandler
}

func (h Handlers) Validate() error {
	switch {
	case h.Msg0 == nil:
		return fmt.Errorf("%w: %s", ErrMissingHandler, frame.TypeRAMsg0)
	case h.Msg1 == nil:
		return fmt.Errorf("%w: %s", ErrMissingHandler, frame.TypeRAMsg1)
	case h.Msg3 == nil:
		return fmt.Errorf("%w: %s", ErrMissingHandler, frame.TypeRAMsg3)
	case h.KeyRequest == nil:
		return fmt.Errorf("%w: %s", ErrMissingHandler, frame.TypeKeyRequest)
	}
	return nil
}

// HandlerFactory builds a fresh collaborator set for each accepted session.
type HandlerFactory interface {
	NewSessionHandlers(sessionID string) Handlers
}

type HandlerFactoryFunc func(sessionID string) Handlers

func (f HandlerFactoryFunc) NewSessionHandlers(sessionID string) Handlers {
	return f(sessionID)
}

// HeartbeatGenerator produces the next heartbeat. final marks the package as
// the last one of the stream (a revocation notice).
type HeartbeatGenerator interface {
	GenerateHeartbeat() (pkg frame.Package, final bool, err error)
}

// HeartbeatFactory builds a generator for each accepted heartbeat stream.
type HeartbeatFactory interface {
	NewHeartbeatStream(streamID string) HeartbeatGenerator
}

type HeartbeatFactoryFunc func(streamID string) HeartbeatGenerator

func (f HeartbeatFactoryFunc) NewHeartbeatStream(streamID string) HeartbeatGenerator {
	return f(streamID)
}

// RevocationController is the optional admin hook for the heartbeat channel.
type RevocationController interface {
	Revoke(reason string) bool
	Reinstate() bool
	Revocation() (revoked bool, reason string)
}
