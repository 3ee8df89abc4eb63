package app

import "github.com/dkeye/voicecall/internal/domain"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	QueueFrame
	KickConn
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case QueueFrame:
		return "queue"
	case KickConn:
		return "kick"
	default:
		return "unknown"
	}
}

// Policy decides what the relay does with frames it cannot hand over.
type Policy interface {
	// OnBackPressure is asked when one connection's send queue is full.
	OnBackPressure(kind domain.Kind) BackpressureAction
	// OnUndelivered is asked when no connection of the recipient took the frame.
	OnUndelivered(kind domain.Kind) BackpressureAction
}

// SimplePolicy never loses control messages: a slow connection is kicked so the
// client reconnects and drains its outbox. Candidates and presence are dropped.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(kind domain.Kind) BackpressureAction {
	if kind.Control() {
		return KickConn
	}
	return DropFrame
}

func (SimplePolicy) OnUndelivered(kind domain.Kind) BackpressureAction {
	if kind.Control() {
		return QueueFrame
	}
	return DropFrame
}
