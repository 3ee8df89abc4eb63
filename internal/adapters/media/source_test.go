package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
)

func TestAcquire(t *testing.T) {
	tests := []struct {
		name   string
		mode   domain.Mode
		tracks int
		video  bool
	}{
		{"audio", domain.ModeAudio, 1, false},
		{"video", domain.ModeVideo, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSource(config.MediaConfig{})
			ls, err := src.Acquire(context.Background(), tt.mode)
			if err != nil {
				t.Fatal(err)
			}
			defer ls.Stop()
			if got := len(ls.Tracks()); got != tt.tracks {
				t.Fatalf("tracks = %d, want %d", got, tt.tracks)
			}
			if !ls.AudioEnabled() {
				t.Fatal("audio should start enabled")
			}
			if ls.VideoEnabled() != tt.video {
				t.Fatalf("video enabled = %v", ls.VideoEnabled())
			}
			if ls.Mode() != tt.mode {
				t.Fatalf("mode = %s", ls.Mode())
			}
		})
	}
}

func TestAcquireDenied(t *testing.T) {
	src := NewSource(config.MediaConfig{Deny: true})
	if _, err := src.Acquire(context.Background(), domain.ModeAudio); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}

	src.Apply(config.MediaConfig{})
	ls, err := src.Acquire(context.Background(), domain.ModeAudio)
	if err != nil {
		t.Fatalf("after reload: %v", err)
	}
	ls.Stop()
}

func TestAcquireInvalidMode(t *testing.T) {
	src := NewSource(config.MediaConfig{})
	if _, err := src.Acquire(context.Background(), "screen"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v", err)
	}
}

func TestAcquireCancelledWhilePrompting(t *testing.T) {
	src := NewSource(config.MediaConfig{AcquireDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := src.Acquire(ctx, domain.ModeAudio); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamStopIdempotent(t *testing.T) {
	src := NewSource(config.MediaConfig{})
	ls, err := src.Acquire(context.Background(), domain.ModeVideo)
	if err != nil {
		t.Fatal(err)
	}
	s := ls.(*Stream)
	s.Stop()
	s.Stop()
	if !s.Stopped() || s.AudioEnabled() || s.VideoEnabled() {
		t.Fatal("stream should be stopped with tracks disabled")
	}
}

func TestSetVideoEnabledAudioOnly(t *testing.T) {
	src := NewSource(config.MediaConfig{})
	ls, err := src.Acquire(context.Background(), domain.ModeAudio)
	if err != nil {
		t.Fatal(err)
	}
	defer ls.Stop()
	ls.SetVideoEnabled(true)
	if ls.VideoEnabled() {
		t.Fatal("audio-only stream cannot enable video")
	}
	ls.SetAudioEnabled(false)
	if ls.AudioEnabled() {
		t.Fatal("audio should be muted")
	}
}
