package domain

import "time"

type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceAway    PresenceState = "away"
	PresenceOffline PresenceState = "offline"
)

// Presence mirrors the presence store record {uid, isOnline, lastChanged}.
type Presence struct {
	UserID      UserID        `json:"uid" msgpack:"uid"`
	State       PresenceState `json:"state" msgpack:"state"`
	LastChanged time.Time     `json:"last_changed" msgpack:"last_changed"`
}

func (p Presence) IsOnline() bool { return p.State == PresenceOnline || p.State == PresenceAway }
