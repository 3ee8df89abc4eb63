package call

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type armedTimer struct {
	t   *clock.Timer
	gen uint64
}

// session is the runtime state the controller keeps next to one CallSession.
type session struct {
	call     domain.CallSession
	self     domain.UserID
	peer     domain.UserID
	peerName string
	outgoing bool

	// ctx is cancelled on terminal entry so pending media and SDP work is discarded.
	ctx    context.Context
	cancel context.CancelFunc

	stream core.LocalStream
	pc     core.PeerConnection
	remote core.RemoteStream

	mediaPending bool
	peerAccepted bool
	negotiating  bool
	localSDP     bool
	remoteSDP    bool
	iceConnected bool

	pendingOffer      string
	pendingCandidates []webrtc.ICECandidateInit
	localCandidates   []webrtc.ICECandidateInit

	// signaled is set once anything for this call reached the sender.
	signaled bool
	err      error

	audioMuted   bool
	videoEnabled bool

	timers  map[timerKind]armedTimer
	nextGen uint64
}

func newSession(call domain.CallSession, self domain.UserID, peerName string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		call:         call,
		self:         self,
		peer:         call.Peer(self),
		peerName:     peerName,
		outgoing:     call.CallerID == self,
		ctx:          ctx,
		cancel:       cancel,
		videoEnabled: call.Mode.IsVideo(),
		timers:       make(map[timerKind]armedTimer),
	}
}

func (s *session) state() domain.State { return s.call.State }

func (s *session) live() bool { return s.call.State.Live() }

// arm replaces any running timer of kind k. fire is called from the clock goroutine.
func (s *session) arm(clk clock.Clock, k timerKind, d time.Duration, fire func(k timerKind, gen uint64)) {
	s.disarm(k)
	s.nextGen++
	gen := s.nextGen
	t := clk.AfterFunc(d, func() { fire(k, gen) })
	s.timers[k] = armedTimer{t: t, gen: gen}
}

func (s *session) disarm(k timerKind) {
	if at, ok := s.timers[k]; ok {
		at.t.Stop()
		delete(s.timers, k)
	}
}

// fired reports whether gen belongs to the armed timer of kind k and clears it.
func (s *session) fired(k timerKind, gen uint64) bool {
	at, ok := s.timers[k]
	if !ok || at.gen != gen {
		return false
	}
	delete(s.timers, k)
	return true
}

func (s *session) disarmAll() {
	for k := range s.timers {
		s.disarm(k)
	}
}

// releaseMedia closes the connection, which owns the stream once attached,
// or stops a stream that never reached a connection.
func (s *session) releaseMedia() {
	if s.pc != nil {
		s.pc.Close()
	} else if s.stream != nil {
		s.stream.Stop()
	}
	s.stream = nil
}

func (s *session) mediaState() domain.PeerMediaState {
	st := domain.PeerMediaState{
		AudioMuted:   s.audioMuted,
		VideoEnabled: s.videoEnabled,
	}
	if s.call.State.Terminal() {
		st.VideoEnabled = false
		return st
	}
	if s.pc != nil {
		ms := s.pc.MediaState()
		st.HasLocalStream = ms.HasLocalStream
		st.HasRemoteStream = ms.HasRemoteStream
	} else if s.stream != nil {
		st.HasLocalStream = true
	}
	if s.remote != nil {
		st.HasRemoteStream = true
	}
	return st
}
