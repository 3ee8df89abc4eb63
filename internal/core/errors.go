package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicecall/internal/domain"
)

var (
	ErrMediaAcquisition  = errors.New("media acquisition failed")
	ErrSignalingDelivery = errors.New("signaling delivery failed")
	ErrNegotiation       = errors.New("negotiation failed")
	ErrPeerUnreachable   = errors.New("peer unreachable")
	ErrProtocolViolation = errors.New("protocol violation")

	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadyInCall    = errors.New("already in a call")
	ErrNoCall           = errors.New("no call in progress")
	ErrInvalidState     = errors.New("invalid state for action")
	ErrClosed           = errors.New("controller closed")
)

// CallError ties a taxonomy error to the call and operation that produced it.
type CallError struct {
	Op     string
	CallID domain.CallID
	Kind   error
	Err    error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.CallID, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.CallID, e.Kind, e.Err)
}

func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewCallError(op string, callID domain.CallID, kind, err error) *CallError {
	return &CallError{Op: op, CallID: callID, Kind: kind, Err: err}
}
