package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote candidates that arrive before the remote description.
// It is single-shot: once drained, every push is applied immediately.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	drained bool
	apply   func(webrtc.ICECandidateInit) error
}

func NewCandidateBuffer(apply func(webrtc.ICECandidateInit) error) *CandidateBuffer {
	return &CandidateBuffer{apply: apply}
}

// Push buffers c, or applies it if the buffer was already drained.
func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) (buffered bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.drained {
		b.pending = append(b.pending, c)
		return true, nil
	}
	return false, b.apply(c)
}

// Drain applies the buffered candidates in arrival order and returns them.
// A second call is a no-op returning nil.
func (b *CandidateBuffer) Drain() ([]webrtc.ICECandidateInit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return nil, nil
	}
	b.drained = true
	out := b.pending
	b.pending = nil

	var errs []error
	for _, c := range out {
		if err := b.apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

func (b *CandidateBuffer) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drained
}

func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
