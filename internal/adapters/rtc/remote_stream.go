package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// RemoteStream merges the audio and video tracks of one call into a single stream.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks map[webrtc.RTPCodecType]*webrtc.TrackRemote

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{
		id:     id,
		tracks: make(map[webrtc.RTPCodecType]*webrtc.TrackRemote),
	}
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) HasAudio() bool { return s.has(webrtc.RTPCodecTypeAudio) }

func (s *RemoteStream) HasVideo() bool { return s.has(webrtc.RTPCodecTypeVideo) }

func (s *RemoteStream) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks) == 0
}

// Stats returns RTP packets and payload bytes received across all tracks.
func (s *RemoteStream) Stats() (packets, bytes uint64) {
	return s.packets.Load(), s.bytes.Load()
}

func (s *RemoteStream) has(kind webrtc.RTPCodecType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracks[kind]
	return ok
}

// add stores track under its kind; a second track of the same kind replaces the first.
func (s *RemoteStream) add(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks[track.Kind()] = track
	s.mu.Unlock()
}

func (s *RemoteStream) count(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
}

// readLoop drains RTP from the track so interceptors keep running, until ctx ends or the track closes.
func (s *RemoteStream) readLoop(ctx context.Context, track *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("kind", track.Kind().String()).Msg("remote track ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Str("kind", track.Kind().String()).Msg("remote track read stopped")
			return
		}
		s.count(pkt)
	}
}

// requestKeyframe asks the sender for a keyframe so video renders immediately.
func requestKeyframe(pc *webrtc.PeerConnection, track *webrtc.TrackRemote, logger *zerolog.Logger) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		logger.Debug().Err(err).Msg("PLI write failed")
	}
}
