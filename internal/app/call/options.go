// Package call is the call state machine. One Controller serves one local user
// and owns every CallSession that user takes part in.
package call

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
)

// Timeouts are the local, fixed state machine durations.
type Timeouts struct {
	Ring            time.Duration
	Incoming        time.Duration
	Connecting      time.Duration
	DisconnectGrace time.Duration
	EndedGrace      time.Duration
	AutoAcceptGlare bool
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Ring:            30 * time.Second,
		Incoming:        30 * time.Second,
		Connecting:      30 * time.Second,
		DisconnectGrace: 10 * time.Second,
		EndedGrace:      3 * time.Second,
		AutoAcceptGlare: true,
	}
}

// TimeoutsFromConfig keeps defaults for unset durations.
func TimeoutsFromConfig(cfg config.CallConfig) Timeouts {
	t := DefaultTimeouts()
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&t.Ring, cfg.RingTimeout)
	set(&t.Incoming, cfg.IncomingTimeout)
	set(&t.Connecting, cfg.ConnectingTimeout)
	set(&t.DisconnectGrace, cfg.DisconnectGrace)
	set(&t.EndedGrace, cfg.EndedGrace)
	t.AutoAcceptGlare = cfg.AutoAcceptGlare
	return t
}

// Options wires the controller to its collaborators. Notifier, Directory and Clock are optional.
type Options struct {
	Auth      core.Auth
	Transport core.SignalTransport
	Presence  core.PresenceTracker
	Media     core.MediaSource
	Factory   core.PeerConnectionFactory
	Notifier  core.Notifier
	Directory core.Directory
	Clock     clock.Clock
	Timeouts  Timeouts

	// SendTimeout bounds a single outbound delivery attempt made by the sender.
	SendTimeout time.Duration
}

type nopNotifier struct{}

func (nopNotifier) NotifyIncomingCall(string, bool) {}
func (nopNotifier) StopIncomingCall()               {}
