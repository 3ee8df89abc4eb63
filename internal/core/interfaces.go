package core

import "github.com/dkeye/voicecall/internal/domain"

// Auth is the external auth collaborator.
type Auth interface {
	CurrentUserID() (domain.UserID, bool)
}

// PresenceTracker gates call initiation.
type PresenceTracker interface {
	IsReachable(uid domain.UserID) bool
	// OnPresenceChange registers cb for uid and returns a cancel func.
	OnPresenceChange(uid domain.UserID, cb func(domain.Presence)) func()
}

// Notifier is fire-and-forget; no response expected.
type Notifier interface {
	NotifyIncomingCall(callerName string, isVideo bool)
	StopIncomingCall()
}

// Directory resolves display names for the UI and notifications.
type Directory interface {
	DisplayName(uid domain.UserID) string
}

// StaticAuth is a fixed identity, as used by the CLI and tests.
type StaticAuth domain.UserID

func (a StaticAuth) CurrentUserID() (domain.UserID, bool) {
	if a == "" {
		return "", false
	}
	return domain.UserID(a), true
}

// IDDirectory shows user ids as names.
type IDDirectory struct{}

func (IDDirectory) DisplayName(uid domain.UserID) string { return string(uid) }
