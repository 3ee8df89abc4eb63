package core

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
)

// SignalTransport delivers signaling messages to a named peer.
// Delivery is "eventually observed", never synchronous.
type SignalTransport interface {
	Send(ctx context.Context, msg domain.SignalingMessage) error
	// Messages yields inbound messages addressed to the local user.
	Messages() <-chan domain.SignalingMessage
	// Discard deletes the durable record of a finished call.
	Discard(ctx context.Context, callID domain.CallID) error
}

// CatchUpper is implemented by transports backed by a durable per-call record.
type CatchUpper interface {
	CatchUp(ctx context.Context, callID domain.CallID) ([]domain.SignalingMessage, error)
}

// Reconnector is implemented by transports that can lose and regain their carrier.
type Reconnector interface {
	OnReconnect(func())
}

// SignalConn is one live relay connection of a user.
type SignalConn interface {
	ID() string
	// TrySend queues an encoded frame without blocking.
	TrySend(data []byte) error
	Close()
}
