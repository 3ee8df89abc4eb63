package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

var errDenied = errors.New("permission denied")

type fakeStream struct {
	mode    domain.Mode
	audio   atomic.Bool
	video   atomic.Bool
	stopped atomic.Int32
}

func (s *fakeStream) ID() string                  { return "fake" }
func (s *fakeStream) Mode() domain.Mode           { return s.mode }
func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }
func (s *fakeStream) SetAudioEnabled(v bool)      { s.audio.Store(v) }
func (s *fakeStream) SetVideoEnabled(v bool)      { s.video.Store(v) }
func (s *fakeStream) AudioEnabled() bool          { return s.audio.Load() }
func (s *fakeStream) VideoEnabled() bool          { return s.video.Load() }
func (s *fakeStream) Stop()                       { s.stopped.Add(1) }

type fakeMedia struct {
	mu       sync.Mutex
	deny     bool
	block    chan struct{}
	acquired int
	streams  []*fakeStream
}

func (m *fakeMedia) Acquire(ctx context.Context, mode domain.Mode) (core.LocalStream, error) {
	m.mu.Lock()
	m.acquired++
	deny, block := m.deny, m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	if deny {
		return nil, errDenied
	}
	s := &fakeStream{mode: mode}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

func (m *fakeMedia) stopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.streams {
		if s.stopped.Load() > 0 {
			n++
		}
	}
	return n
}

type fakePC struct {
	mu        sync.Mutex
	local     string
	remote    string
	stream    core.LocalStream
	audio     bool
	video     bool
	closed    int
	onICE     func(webrtc.ICEConnectionState)
	onTrack   func(core.RemoteStream)
	onCand    func(webrtc.ICECandidateInit)
	addedCand []webrtc.ICECandidateInit
}

func (p *fakePC) AttachLocalMedia(s core.LocalStream) error {
	p.mu.Lock()
	p.stream = s
	p.mu.Unlock()
	return nil
}

func (p *fakePC) CreateOffer(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = "offer-sdp"
	return p.local, nil
}

func (p *fakePC) CreateAnswer(_ context.Context, remote string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = remote
	p.local = "answer-sdp"
	return p.local, nil
}

func (p *fakePC) ApplyRemoteDescription(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = sdp
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addedCand = append(p.addedCand, c)
	return nil
}

func (p *fakePC) ToggleAudio(v bool) {
	p.mu.Lock()
	p.audio = v
	p.mu.Unlock()
}

func (p *fakePC) ToggleVideo(v bool) {
	p.mu.Lock()
	p.video = v
	p.mu.Unlock()
}

func (p *fakePC) MediaState() domain.PeerMediaState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PeerMediaState{HasLocalStream: p.stream != nil, AudioMuted: !p.audio, VideoEnabled: p.video}
}

func (p *fakePC) RemoteStream() core.RemoteStream { return nil }

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCand = fn
	p.mu.Unlock()
}

func (p *fakePC) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePC) OnRemoteTrack(fn func(core.RemoteStream)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePC) Close() {
	p.mu.Lock()
	p.closed++
	s := p.stream
	p.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

func (p *fakePC) ice(st webrtc.ICEConnectionState) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(st)
}

func (p *fakePC) sdp() (local, remote string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local, p.remote
}

func (p *fakePC) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	conns map[domain.CallID]*fakePC
}

func (f *fakeFactory) NewConnection(id domain.CallID, _ domain.Mode) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns == nil {
		f.conns = make(map[domain.CallID]*fakePC)
	}
	pc := &fakePC{}
	f.conns[id] = pc
	return pc, nil
}

func (f *fakeFactory) conn(id domain.CallID) *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[id]
}

type fakeNotifier struct {
	mu      sync.Mutex
	rings   int
	stops   int
	ringing bool
	caller  string
}

func (n *fakeNotifier) NotifyIncomingCall(caller string, _ bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rings++
	n.ringing = true
	n.caller = caller
}

func (n *fakeNotifier) StopIncomingCall() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stops++
	n.ringing = false
}

func (n *fakeNotifier) state() (rings int, ringing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rings, n.ringing
}
