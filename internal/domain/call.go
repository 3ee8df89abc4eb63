package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CallID string

// NewCallID generates a fresh identifier per call attempt.
func NewCallID() CallID { return CallID(uuid.NewString()) }

type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

func (m Mode) Valid() bool { return m == ModeAudio || m == ModeVideo }

func (m Mode) IsVideo() bool { return m == ModeVideo }

// State is the single tagged call state. All UI flags derive from it.
type State string

const (
	StateIdle            State = "idle"
	StateOutgoingRinging State = "outgoingRinging"
	StateIncomingRinging State = "incomingRinging"
	StateConnecting      State = "connecting"
	StateActive          State = "active"
	StateEnded           State = "ended"
)

func (s State) Terminal() bool { return s == StateEnded }

// Live reports whether the state holds the user's single call slot.
func (s State) Live() bool { return s != StateIdle && s != StateEnded }

type EndReason string

const (
	EndDeclined           EndReason = "declined"
	EndBusy               EndReason = "busy"
	EndTimeout            EndReason = "timeout"
	EndHangup             EndReason = "hangup"
	EndError              EndReason = "error"
	EndRemoteDisconnected EndReason = "remoteDisconnected"
	EndAnsweredElsewhere  EndReason = "answeredElsewhere"
)

// Text is the short human-readable reason shown by the call UI.
func (r EndReason) Text() string {
	switch r {
	case EndDeclined:
		return "Call declined"
	case EndBusy:
		return "User is busy"
	case EndTimeout:
		return "No answer"
	case EndHangup:
		return "Call ended"
	case EndError:
		return "Call failed"
	case EndRemoteDisconnected:
		return "Connection lost"
	case EndAnsweredElsewhere:
		return "Answered on another device"
	default:
		return ""
	}
}

// CallSession is one call attempt between exactly two users.
type CallSession struct {
	ID          CallID     `json:"call_id"`
	CallerID    UserID     `json:"caller_id"`
	CalleeID    UserID     `json:"callee_id"`
	Mode        Mode       `json:"mode"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndReason   EndReason  `json:"end_reason,omitempty"`
}

// Peer returns the other participant from self's point of view.
func (c *CallSession) Peer(self UserID) UserID {
	if c.CallerID == self {
		return c.CalleeID
	}
	return c.CallerID
}

func (c *CallSession) String() string {
	return fmt.Sprintf("%s(%s->%s %s %s)", c.ID, c.CallerID, c.CalleeID, c.Mode, c.State)
}

// PeerMediaState is owned by the peer connection manager.
type PeerMediaState struct {
	HasLocalStream  bool `json:"has_local_stream"`
	HasRemoteStream bool `json:"has_remote_stream"`
	AudioMuted      bool `json:"audio_muted"`
	VideoEnabled    bool `json:"video_enabled"`
}
