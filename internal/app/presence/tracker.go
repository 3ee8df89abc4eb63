// Package presence keeps per-user online state and answers "is user X reachable now".
// Updates come from the session layer (relay connections); the call core only reads.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

type Tracker struct {
	mu    sync.RWMutex
	users map[domain.UserID]domain.Presence

	subMu   sync.RWMutex
	nextSub int
	perUser map[domain.UserID]map[int]func(domain.Presence)
	all     map[int]func(domain.Presence)

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		users:   make(map[domain.UserID]domain.Presence),
		perUser: make(map[domain.UserID]map[int]func(domain.Presence)),
		all:     make(map[int]func(domain.Presence)),
		now:     time.Now,
	}
}

// IsReachable is synchronous; unknown users are unreachable.
func (t *Tracker) IsReachable(uid domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.users[uid]
	return ok && p.IsOnline()
}

func (t *Tracker) Get(uid domain.UserID) (domain.Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.users[uid]
	return p, ok
}

// Snapshot returns all known records sorted by user id.
func (t *Tracker) Snapshot() []domain.Presence {
	t.mu.RLock()
	out := make([]domain.Presence, 0, len(t.users))
	for _, p := range t.users {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Set records a state change stamped now. Returns false if nothing changed.
func (t *Tracker) Set(uid domain.UserID, state domain.PresenceState) bool {
	return t.Apply(domain.Presence{UserID: uid, State: state, LastChanged: t.now().UTC()})
}

// Apply records an externally stamped update. Older updates are ignored.
func (t *Tracker) Apply(p domain.Presence) bool {
	t.mu.Lock()
	cur, ok := t.users[p.UserID]
	if ok && (cur.State == p.State || p.LastChanged.Before(cur.LastChanged)) {
		t.mu.Unlock()
		return false
	}
	t.users[p.UserID] = p
	t.mu.Unlock()

	log.Debug().Str("module", "presence").Str("uid", string(p.UserID)).Str("state", string(p.State)).Msg("presence changed")
	t.fire(p)
	return true
}

// Replace swaps the whole table, firing callbacks for every changed record.
func (t *Tracker) Replace(list []domain.Presence) {
	seen := make(map[domain.UserID]struct{}, len(list))
	for _, p := range list {
		seen[p.UserID] = struct{}{}
		t.Apply(p)
	}
	for _, p := range t.Snapshot() {
		if _, ok := seen[p.UserID]; !ok {
			t.markGone(p.UserID)
		}
	}
}

// markGone records uid as offline without a timestamp of our own, so any
// later relay update for uid wins regardless of the local clock.
func (t *Tracker) markGone(uid domain.UserID) {
	t.mu.Lock()
	cur, ok := t.users[uid]
	if !ok || cur.State == domain.PresenceOffline {
		t.mu.Unlock()
		return
	}
	p := domain.Presence{UserID: uid, State: domain.PresenceOffline}
	t.users[uid] = p
	t.mu.Unlock()

	log.Debug().Str("module", "presence").Str("uid", string(uid)).Msg("missing from snapshot, offline")
	t.fire(p)
}

// OnPresenceChange registers cb for one user.
func (t *Tracker) OnPresenceChange(uid domain.UserID, cb func(domain.Presence)) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	subs, ok := t.perUser[uid]
	if !ok {
		subs = make(map[int]func(domain.Presence))
		t.perUser[uid] = subs
	}
	subs[id] = cb
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if subs, ok := t.perUser[uid]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(t.perUser, uid)
			}
		}
	}
}

// OnAnyChange registers cb for every user. Used by the relay to broadcast.
func (t *Tracker) OnAnyChange(cb func(domain.Presence)) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.all[id] = cb
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.all, id)
		t.subMu.Unlock()
	}
}

func (t *Tracker) fire(p domain.Presence) {
	t.subMu.RLock()
	cbs := make([]func(domain.Presence), 0, len(t.perUser[p.UserID])+len(t.all))
	for _, cb := range t.perUser[p.UserID] {
		cbs = append(cbs, cb)
	}
	for _, cb := range t.all {
		cbs = append(cbs, cb)
	}
	t.subMu.RUnlock()

	for _, cb := range cbs {
		cb(p)
	}
}
