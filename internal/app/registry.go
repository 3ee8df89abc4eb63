package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   core.SignalConn
	Cancel context.CancelFunc
}

// Registry maps each user to its live relay connections. A user may be connected from several devices.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]map[string]*connEntry
	users map[domain.UserID]domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.UserID]map[string]*connEntry),
		users: make(map[domain.UserID]domain.User),
	}
}

// Bind adds conn for user and reports whether it is the user's first connection.
func (r *Registry) Bind(user domain.User, conn core.SignalConn, cancel context.CancelFunc) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[user.ID]
	if !ok {
		set = make(map[string]*connEntry)
		r.conns[user.ID] = set
	}
	set[conn.ID()] = &connEntry{Conn: conn, Cancel: cancel}
	r.users[user.ID] = user
	log.Info().Str("module", "app.registry").Str("uid", string(user.ID)).Str("conn", conn.ID()).Int("conns", len(set)).Msg("bound signal")
	return len(set) == 1
}

// Unbind removes conn and reports whether the user has no connection left.
func (r *Registry) Unbind(uid domain.UserID, conn core.SignalConn) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[uid]
	if !ok {
		return false
	}
	if _, ok := set[conn.ID()]; !ok {
		return false
	}
	delete(set, conn.ID())
	log.Info().Str("module", "app.registry").Str("uid", string(uid)).Str("conn", conn.ID()).Msg("unbind signal")
	if len(set) == 0 {
		delete(r.conns, uid)
		delete(r.users, uid)
		return true
	}
	return false
}

// Conns returns the live connections of uid.
func (r *Registry) Conns(uid domain.UserID) []core.SignalConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[uid]
	out := make([]core.SignalConn, 0, len(set))
	for _, e := range set {
		out = append(out, e.Conn)
	}
	return out
}

// All returns every live connection except those of skip.
func (r *Registry) All(skip domain.UserID) []core.SignalConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.SignalConn
	for uid, set := range r.conns {
		if uid == skip {
			continue
		}
		for _, e := range set {
			out = append(out, e.Conn)
		}
	}
	return out
}

func (r *Registry) User(uid domain.UserID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[uid]
	return u, ok
}

// Online lists connected users sorted by id.
func (r *Registry) Online() []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.conns))
	for uid := range r.conns {
		out = append(out, uid)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cancel stops the pumps of a single connection.
func (r *Registry) Cancel(uid domain.UserID, connID string) bool {
	r.mu.RLock()
	e, ok := r.conns[uid][connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("uid", string(uid)).Str("conn", connID).Msg("canceled connection")
	return true
}

// CancelAll stops every connection; used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	var cancels []context.CancelFunc
	for _, set := range r.conns {
		for _, e := range set {
			if e.Cancel != nil {
				cancels = append(cancels, e.Cancel)
			}
		}
	}
	r.mu.RUnlock()
	for _, c := range cancels {
		c()
	}
}
