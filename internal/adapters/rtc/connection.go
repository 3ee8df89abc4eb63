package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyNegotiated = errors.New("description already created for this role")
	ErrConnectionClosed  = errors.New("connection closed")
)

// Connection is the peer connection manager for one call attempt.
type Connection struct {
	pc     *webrtc.PeerConnection
	callID domain.CallID
	mode   domain.Mode
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// descMu orders remote description application against candidate pushes.
	descMu sync.Mutex
	buf    *CandidateBuffer

	mu       sync.Mutex
	local    core.LocalStream
	remote   *RemoteStream
	offered  bool
	answered bool
	closed   bool

	onICE      func(webrtc.ICECandidateInit)
	onICEState func(webrtc.ICEConnectionState)
	onTrack    func(core.RemoteStream)

	closeOnce sync.Once
}

var _ core.PeerConnection = (*Connection)(nil)

func newConnection(pc *webrtc.PeerConnection, callID domain.CallID, mode domain.Mode) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:     pc,
		callID: callID,
		mode:   mode,
		logger: log.With().Str("module", "rtc").Str("call_id", string(callID)).Logger(),
		ctx:    ctx,
		cancel: cancel,
		remote: NewRemoteStream(string(callID)),
	}
	c.buf = NewCandidateBuffer(c.pc.AddICECandidate)
	return c
}

// start wires pion callbacks. Application callbacks may be set later.
func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		c.mu.Lock()
		fn := c.onICEState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Debug().Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		c.remote.add(track)
		requestKeyframe(c.pc, track, &c.logger)
		go c.remote.readLoop(c.ctx, track, &c.logger)

		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(c.remote)
		}
	})
}

func (c *Connection) AttachLocalMedia(stream core.LocalStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		stream.Stop()
		return ErrConnectionClosed
	}
	if c.local != nil {
		return errors.New("local media already attached")
	}
	for _, track := range stream.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}
	c.local = stream
	c.logger.Info().Str("stream_id", stream.ID()).Int("tracks", len(stream.Tracks())).Msg("local media attached")
	return nil
}

// drainRTCP reads incoming RTCP so NACK/report interceptors work.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ensureTransceivers adds recvonly transceivers when no local media is attached,
// so the offer always carries m-lines with ICE credentials.
func (c *Connection) ensureTransceivers() {
	if c.local != nil {
		return
	}
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if c.mode.IsVideo() {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range kinds {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			c.logger.Error().Err(err).Str("kind", kind.String()).Msg("add transceiver")
		}
	}
}

func (c *Connection) CreateOffer(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrConnectionClosed
	}
	if c.offered || c.answered {
		c.mu.Unlock()
		return "", ErrAlreadyNegotiated
	}
	c.offered = true
	c.ensureTransceivers()
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, ctx.Err()
}

func (c *Connection) CreateAnswer(ctx context.Context, remoteSDP string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrConnectionClosed
	}
	if c.offered || c.answered {
		c.mu.Unlock()
		return "", ErrAlreadyNegotiated
	}
	c.answered = true
	c.mu.Unlock()

	if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteSDP}); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, ctx.Err()
}

func (c *Connection) ApplyRemoteDescription(sdp string) error {
	return c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// setRemote sets the remote description then flushes the candidate buffer exactly once.
func (c *Connection) setRemote(desc webrtc.SessionDescription) error {
	c.descMu.Lock()
	defer c.descMu.Unlock()
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	drained, err := c.buf.Drain()
	if err != nil {
		c.logger.Warn().Err(err).Msg("some buffered candidates were rejected")
	}
	c.logger.Debug().Int("candidates", len(drained)).Str("sdp_type", desc.Type.String()).Msg("remote description applied")
	return nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.descMu.Lock()
	defer c.descMu.Unlock()
	buffered, err := c.buf.Push(ci)
	if buffered {
		c.logger.Debug().Int("pending", c.buf.Len()).Msg("candidate buffered")
	}
	return err
}

func (c *Connection) ToggleAudio(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local != nil {
		c.local.SetAudioEnabled(enabled)
	}
}

func (c *Connection) ToggleVideo(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local != nil {
		c.local.SetVideoEnabled(enabled)
	}
}

func (c *Connection) MediaState() domain.PeerMediaState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.PeerMediaState{HasRemoteStream: !c.remote.Empty()}
	if c.local != nil && !c.closed {
		st.HasLocalStream = true
		st.AudioMuted = !c.local.AudioEnabled()
		st.VideoEnabled = c.local.VideoEnabled()
	}
	return st
}

func (c *Connection) RemoteStream() core.RemoteStream {
	if c.remote.Empty() {
		return nil
	}
	return c.remote
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICEState = fn
	c.mu.Unlock()
}

// OnRemoteTrack fires once per arriving track with the merged stream.
func (c *Connection) OnRemoteTrack(fn func(core.RemoteStream)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// Close stops local tracks and closes the connection. Calling it again is a no-op.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		local := c.local
		c.onICE, c.onICEState, c.onTrack = nil, nil, nil
		c.mu.Unlock()

		c.cancel()
		if local != nil {
			local.Stop()
		}
		if err := c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
}
