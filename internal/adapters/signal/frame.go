package signal

import "github.com/dkeye/voicecall/internal/domain"

type FrameType string

const (
	FrameSignal           FrameType = "signal"
	FramePresence         FrameType = "presence"
	FramePresenceSnapshot FrameType = "presence_snapshot"
	FrameError            FrameType = "error"
	FramePing             FrameType = "ping"
	FramePong             FrameType = "pong"
)

// Frame is the relay wire envelope. Exactly one body field is set per type.
type Frame struct {
	Type FrameType `json:"type" msgpack:"type"`

	Signal   *domain.SignalingMessage `json:"signal,omitempty" msgpack:"signal,omitempty"`
	Presence *domain.Presence         `json:"presence,omitempty" msgpack:"presence,omitempty"`
	Snapshot []domain.Presence        `json:"snapshot,omitempty" msgpack:"snapshot,omitempty"`

	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
	// Ref is the id of the message an error frame refers to.
	Ref string `json:"ref,omitempty" msgpack:"ref,omitempty"`
}

func signalFrame(msg domain.SignalingMessage) Frame {
	return Frame{Type: FrameSignal, Signal: &msg}
}

func errorFrame(reason, ref string) Frame {
	return Frame{Type: FrameError, Error: reason, Ref: ref}
}

// Error codes sent to clients. Raw errors stay in the server log.
const (
	ErrCodeBadFrame     = "bad_frame"
	ErrCodeBadMessage   = "bad_message"
	ErrCodeFromMismatch = "from_mismatch"
	ErrCodeUnknownType  = "unknown_type"
)
