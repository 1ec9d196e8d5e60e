package domain

import (
	"errors"
	"time"
)

// ErrNoUIAttached is returned by a Prompter with nobody to show the prompt to.
var ErrNoUIAttached = errors.New("no UI client attached")

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// UsageEventSource exposes the host's usage-event log.
type UsageEventSource interface {
	// QueryEvents returns events in [start, end]. May fail if the log is unavailable.
	QueryEvents(start, end time.Time) ([]UsageEvent, error)
}

// ForegroundDetector reports the app currently in front of the user.
type ForegroundDetector interface {
	// Current returns the foreground app, or ok=false if unknown.
	Current() (appID string, ok bool)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByApp returns PIDs of processes belonging to the app.
	FindByApp(appID string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// NameOf returns the app identifier for a PID.
	NameOf(pid int) (string, error)
}

// AppNameResolver turns an app id into the name shown in dialogs.
type AppNameResolver interface {
	// AppName returns a display name, or appID itself if none is known.
	AppName(appID string) string
}

// Launcher brings the home screen to the front.
type Launcher interface {
	GoHome(appID string) error
}

// ForceStopper is the privileged stop path. Often unavailable.
type ForceStopper interface {
	ForceStop(appID string) error
}

// Evictor removes an app from the foreground and terminates it best-effort.
type Evictor interface {
	Evict(appID, reason string) EvictionResult
}

// Notifier delivers events to the owning app. Never blocks, never fails.
type Notifier interface {
	Notify(event Event)
}

// Prompter shows dialogs. Responses come back through the engine's Resolve.
type Prompter interface {
	Show(prompt Prompt) error
	Dismiss(prompt Prompt)
}

// TaskQueue is the single-threaded scheduler the engine runs on.
type TaskQueue interface {
	Post(fn func())
	PostDelayed(delay time.Duration, fn func())
}

// StateJournal mirrors repository mutations to durable storage.
type StateJournal interface {
	SessionSaved(s Session)
	SessionRemoved(appID string)
	CooldownSaved(c CooldownEntry)
	CooldownCleared(appID string)
	ConfigSaved(c AppConfig)
	MonitoredReplaced(appIDs []string)
	BlockedChanged(appID string, blocked bool)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// NopJournal discards all mutations.
type NopJournal struct{}

func (NopJournal) SessionSaved(Session)        {}
func (NopJournal) SessionRemoved(string)       {}
func (NopJournal) CooldownSaved(CooldownEntry) {}
func (NopJournal) CooldownCleared(string)      {}
func (NopJournal) ConfigSaved(AppConfig)       {}
func (NopJournal) MonitoredReplaced([]string)  {}
func (NopJournal) BlockedChanged(string, bool) {}

var _ StateJournal = NopJournal{}
