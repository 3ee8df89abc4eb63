package call

import (
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type eventKind int

const (
	// user intents
	evInitiate eventKind = iota
	evAccept
	evDecline
	evHangUp
	evSetAudioMuted
	evSetVideoEnabled
	evSetTimeouts

	// async results and platform callbacks
	evSignal
	evMediaReady
	evMediaFailed
	evLocalSDP
	evNegotiationFailed
	evLocalCandidate
	evICEState
	evRemoteTrack
	evTimer
	evSendFailed
	evReconnect
	evCatchUp
)

var eventNames = map[eventKind]string{
	evInitiate:          "initiate",
	evAccept:            "accept",
	evDecline:           "decline",
	evHangUp:            "hangup",
	evSetAudioMuted:     "set_audio_muted",
	evSetVideoEnabled:   "set_video_enabled",
	evSetTimeouts:       "set_timeouts",
	evSignal:            "signal",
	evMediaReady:        "media_ready",
	evMediaFailed:       "media_failed",
	evLocalSDP:          "local_sdp",
	evNegotiationFailed: "negotiation_failed",
	evLocalCandidate:    "local_candidate",
	evICEState:          "ice_state",
	evRemoteTrack:       "remote_track",
	evTimer:             "timer",
	evSendFailed:        "send_failed",
	evReconnect:         "reconnect",
	evCatchUp:           "catch_up",
}

func (k eventKind) String() string { return eventNames[k] }

type timerKind int

const (
	timerRing timerKind = iota
	timerIncoming
	timerConnecting
	timerDisconnectGrace
	timerEndedGrace
)

func (k timerKind) String() string {
	switch k {
	case timerRing:
		return "ring"
	case timerIncoming:
		return "incoming"
	case timerConnecting:
		return "connecting"
	case timerDisconnectGrace:
		return "disconnect_grace"
	case timerEndedGrace:
		return "ended_grace"
	default:
		return "unknown"
	}
}

// event is the single input type of the state machine. Only the fields of its kind are set.
type event struct {
	kind   eventKind
	callID domain.CallID

	peer domain.UserID
	mode domain.Mode
	flag bool

	msg  domain.SignalingMessage
	msgs []domain.SignalingMessage

	stream    core.LocalStream
	sdpKind   domain.Kind
	sdp       string
	candidate webrtc.ICECandidateInit
	iceState  webrtc.ICEConnectionState
	remote    core.RemoteStream

	timer    timerKind
	gen      uint64
	timeouts Timeouts

	err   error
	reply chan result
}

type result struct {
	callID domain.CallID
	err    error
}
