package repository

import "github.com/jawad360/phone-detox/internal/domain"

// State groups the four stores the engine works on.
type State struct {
	Sessions  *SessionRepository
	Configs   *ConfigRepository
	Cooldowns *CooldownRepository
	Apps      *AppsRepository
}

// NewState creates empty stores sharing one journal (nil for none).
func NewState(defaultCooldown int, journal domain.StateJournal) *State {
	return &State{
		Sessions:  NewSessionRepository(journal),
		Configs:   NewConfigRepository(defaultCooldown, journal),
		Cooldowns: NewCooldownRepository(journal),
		Apps:      NewAppsRepository(journal),
	}
}

// Restore loads a persisted snapshot without journaling it back.
func (s *State) Restore(snap *domain.StateSnapshot) {
	if snap == nil {
		return
	}
	s.Sessions.Restore(snap.Sessions)
	s.Configs.Restore(snap.Configs)
	s.Cooldowns.Restore(snap.Cooldowns)
	s.Apps.Restore(snap.Monitored, snap.Blocked)
}

// Snapshot returns the current contents of every store.
func (s *State) Snapshot() *domain.StateSnapshot {
	return &domain.StateSnapshot{
		Sessions:  s.Sessions.All(),
		Configs:   s.Configs.All(),
		Cooldowns: s.Cooldowns.All(),
		Monitored: s.Apps.Monitored(),
		Blocked:   s.Apps.Blocked(),
	}
}
