package core

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection owns one RTCPeerConnection per call attempt.
// Callbacks fire on pion goroutines; the state machine translates them into events.
type PeerConnection interface {
	// AttachLocalMedia adds the stream's tracks. The connection owns the stream afterwards.
	AttachLocalMedia(LocalStream) error
	// CreateOffer sets the local description and returns its SDP.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer applies the remote offer, flushes buffered candidates, sets the local answer.
	CreateAnswer(ctx context.Context, remoteSDP string) (string, error)
	// ApplyRemoteDescription sets the remote answer and flushes buffered candidates.
	ApplyRemoteDescription(sdp string) error
	// AddICECandidate applies immediately once a remote description exists, buffers otherwise.
	AddICECandidate(webrtc.ICECandidateInit) error
	ToggleAudio(enabled bool)
	ToggleVideo(enabled bool)
	MediaState() domain.PeerMediaState
	RemoteStream() RemoteStream
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnICEStateChange(func(webrtc.ICEConnectionState))
	OnRemoteTrack(func(RemoteStream))
	// Close stops local tracks and closes the connection. Idempotent.
	Close()
}

type PeerConnectionFactory interface {
	NewConnection(callID domain.CallID, mode domain.Mode) (PeerConnection, error)
}

// LocalStream is the acquired camera/mic stream.
type LocalStream interface {
	ID() string
	Mode() domain.Mode
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	AudioEnabled() bool
	VideoEnabled() bool
	// Stop releases the devices. Idempotent.
	Stop()
}

// RemoteStream is the single logical stream assembled from remote tracks.
type RemoteStream interface {
	ID() string
	HasAudio() bool
	HasVideo() bool
}

// MediaSource acquires local media. May block on a permission prompt.
type MediaSource interface {
	Acquire(ctx context.Context, mode domain.Mode) (LocalStream, error)
}
