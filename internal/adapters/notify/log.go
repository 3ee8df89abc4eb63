// Package notify implements the incoming call notification collaborator.
package notify

import (
	"sync"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/rs/zerolog/log"
)

// Log rings by writing to the log and an optional hook, such as a terminal bell.
type Log struct {
	mu      sync.Mutex
	ringing bool
	hook    func(ringing bool, callerName string, isVideo bool)
}

var _ core.Notifier = (*Log)(nil)

func NewLog(hook func(ringing bool, callerName string, isVideo bool)) *Log {
	return &Log{hook: hook}
}

func (n *Log) NotifyIncomingCall(callerName string, isVideo bool) {
	n.mu.Lock()
	n.ringing = true
	n.mu.Unlock()
	log.Info().Str("module", "notify").Str("caller", callerName).Bool("video", isVideo).Msg("incoming call")
	if n.hook != nil {
		n.hook(true, callerName, isVideo)
	}
}

// StopIncomingCall is a no-op when nothing is ringing.
func (n *Log) StopIncomingCall() {
	n.mu.Lock()
	was := n.ringing
	n.ringing = false
	n.mu.Unlock()
	if !was {
		return
	}
	log.Debug().Str("module", "notify").Msg("ringing stopped")
	if n.hook != nil {
		n.hook(false, "", false)
	}
}

func (n *Log) Ringing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ringing
}
