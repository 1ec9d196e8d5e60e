// Package repository holds the in-memory state stores of the enforcement core.
// Each store is safe for concurrent use: the enforcement loop mutates,
// external callers read.
package repository

import (
	"sort"
	"sync"

	"github.com/jawad360/phone-detox/internal/domain"
)

// SessionRepository holds at most one active session per app.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	journal  domain.StateJournal
}

// NewSessionRepository creates an empty session store.
// A nil journal disables write-through.
func NewSessionRepository(journal domain.StateJournal) *SessionRepository {
	if journal == nil {
		journal = domain.NopJournal{}
	}
	return &SessionRepository{
		sessions: make(map[string]domain.Session),
		journal:  journal,
	}
}

// Get returns the session for appID, or nil.
func (r *SessionRepository) Get(appID string) *domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[appID]
	if !ok {
		return nil
	}
	return &s
}

// All returns a copy of every session, ordered by app id.
func (r *SessionRepository) All() []domain.Session {
	r.mu.RLock()
	result := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].AppID < result[j].AppID })
	return result
}

// Put stores s, replacing any existing session for the same app.
func (r *SessionRepository) Put(s domain.Session) {
	r.mu.Lock()
	r.sessions[s.AppID] = s
	r.mu.Unlock()
	r.journal.SessionSaved(s)
}

// Remove deletes the session for appID. Removing a missing session is a no-op.
func (r *SessionRepository) Remove(appID string) {
	r.mu.Lock()
	_, ok := r.sessions[appID]
	delete(r.sessions, appID)
	r.mu.Unlock()
	if ok {
		r.journal.SessionRemoved(appID)
	}
}

// Restore loads sessions without journaling them.
func (r *SessionRepository) Restore(sessions []domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sessions {
		r.sessions[s.AppID] = s
	}
}
