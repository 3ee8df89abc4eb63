// Package media provides the local media collaborator. Devices are simulated with
// sample tracks so the call core runs on hosts without camera or microphone.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrInvalidMode      = errors.New("invalid media mode")
)

const (
	frameDuration = 20 * time.Millisecond
	videoInterval = 100 * time.Millisecond
)

// opusSilence is a single 20ms opus DTX frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Keyframe is a blank 16x16 VP8 key frame: frame tag, start code, dimensions
// and an empty 16 byte first partition.
var vp8Keyframe = append([]byte{
	0x10, 0x02, 0x00,
	0x9d, 0x01, 0x2a,
	0x10, 0x00, 0x10, 0x00,
}, make([]byte, 16)...)

// Source hands out LocalStreams. Deny simulates the user refusing the permission prompt.
type Source struct {
	deny  atomic.Bool
	delay atomic.Int64
}

var _ core.MediaSource = (*Source)(nil)

func NewSource(cfg config.MediaConfig) *Source {
	s := &Source{}
	s.Apply(cfg)
	return s
}

// Apply updates the permission policy and prompt delay; used on config reload.
func (s *Source) Apply(cfg config.MediaConfig) {
	s.deny.Store(cfg.Deny)
	s.delay.Store(int64(cfg.AcquireDelay))
}

func (s *Source) Acquire(ctx context.Context, mode domain.Mode) (core.LocalStream, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if d := time.Duration(s.delay.Load()); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.deny.Load() {
		return nil, ErrPermissionDenied
	}
	return newStream(mode)
}

// Stream is a LocalStream backed by pion sample tracks.
type Stream struct {
	id    string
	mode  domain.Mode
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

var _ core.LocalStream = (*Stream)(nil)

func newStream(mode domain.Mode) (*Stream, error) {
	id := uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", id,
	)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}
	s := &Stream{id: id, mode: mode, audio: audio, done: make(chan struct{})}
	s.audioOn.Store(true)

	if mode.IsVideo() {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", id,
		)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		s.video = video
		s.videoOn.Store(true)
	}

	go s.pump()
	log.Debug().Str("module", "media").Str("stream_id", id).Str("mode", string(mode)).Msg("local stream acquired")
	return s, nil
}

// pump writes opus silence while audio is enabled and VP8 key frames while
// video is enabled, until Stop.
func (s *Stream) pump() {
	audioTick := time.NewTicker(frameDuration)
	defer audioTick.Stop()
	var videoC <-chan time.Time
	if s.video != nil {
		videoTick := time.NewTicker(videoInterval)
		defer videoTick.Stop()
		videoC = videoTick.C
	}
	for {
		select {
		case <-s.done:
			return
		case <-audioTick.C:
			if s.audioOn.Load() {
				s.write(s.audio, media.Sample{Data: opusSilence, Duration: frameDuration})
			}
		case <-videoC:
			if s.videoOn.Load() {
				s.write(s.video, media.Sample{Data: vp8Keyframe, Duration: videoInterval})
			}
		}
	}
}

func (s *Stream) write(track *webrtc.TrackLocalStaticSample, sample media.Sample) {
	if err := track.WriteSample(sample); err != nil {
		log.Debug().Err(err).Str("module", "media").Str("kind", track.Kind().String()).Msg("write sample")
	}
}

func (s *Stream) ID() string        { return s.id }
func (s *Stream) Mode() domain.Mode { return s.mode }

func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{s.audio}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

func (s *Stream) SetAudioEnabled(on bool) { s.audioOn.Store(on) }

// SetVideoEnabled is a no-op for audio-only streams.
func (s *Stream) SetVideoEnabled(on bool) {
	if s.video != nil {
		s.videoOn.Store(on)
	}
}

func (s *Stream) AudioEnabled() bool { return s.audioOn.Load() }
func (s *Stream) VideoEnabled() bool { return s.videoOn.Load() }

func (s *Stream) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.audioOn.Store(false)
		s.videoOn.Store(false)
		log.Debug().Str("module", "media").Str("stream_id", s.id).Msg("local stream stopped")
	})
}
