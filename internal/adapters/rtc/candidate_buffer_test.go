package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func cand(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

func TestCandidateBufferDrainOrder(t *testing.T) {
	var applied []string
	b := NewCandidateBuffer(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	})

	for _, s := range []string{"a", "b", "c"} {
		buffered, err := b.Push(cand(s))
		if err != nil || !buffered {
			t.Fatalf("push %s: buffered=%v err=%v", s, buffered, err)
		}
	}
	if len(applied) != 0 {
		t.Fatalf("applied before drain: %v", applied)
	}

	out, err := b.Drain()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("drained %d, want 3", len(out))
	}
	if got := applied; len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("apply order = %v", got)
	}
	if b.Len() != 0 || !b.Drained() {
		t.Fatal("buffer should be empty and drained")
	}
}

func TestCandidateBufferNeverDrainsTwice(t *testing.T) {
	var n int
	b := NewCandidateBuffer(func(webrtc.ICECandidateInit) error { n++; return nil })
	b.Push(cand("a"))

	b.Drain()
	out, err := b.Drain()
	if out != nil || err != nil {
		t.Fatalf("second drain returned %v, %v", out, err)
	}
	if n != 1 {
		t.Fatalf("applied %d times, want 1", n)
	}
}

func TestCandidateBufferPassThroughAfterDrain(t *testing.T) {
	var applied []string
	b := NewCandidateBuffer(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	})
	b.Drain()

	buffered, err := b.Push(cand("late"))
	if err != nil {
		t.Fatal(err)
	}
	if buffered {
		t.Fatal("candidate after drain must not be buffered")
	}
	if b.Len() != 0 || len(applied) != 1 || applied[0] != "late" {
		t.Fatalf("applied = %v len = %d", applied, b.Len())
	}
}

func TestCandidateBufferDrainKeepsGoingOnError(t *testing.T) {
	bad := errors.New("bad candidate")
	var applied []string
	b := NewCandidateBuffer(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		if c.Candidate == "b" {
			return bad
		}
		return nil
	})
	b.Push(cand("a"))
	b.Push(cand("b"))
	b.Push(cand("c"))

	_, err := b.Drain()
	if !errors.Is(err, bad) {
		t.Fatalf("err = %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("applied = %v", applied)
	}
}
