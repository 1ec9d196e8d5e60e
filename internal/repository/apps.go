package repository

import (
	"sort"
	"sync"

	"github.com/jawad360/phone-detox/internal/domain"
)

// AppsRepository holds the monitored set and the blocked set.
type AppsRepository struct {
	mu        sync.RWMutex
	monitored map[string]struct{}
	blocked   map[string]struct{}
	journal   domain.StateJournal
}

// NewAppsRepository creates empty monitored and blocked sets.
func NewAppsRepository(journal domain.StateJournal) *AppsRepository {
	if journal == nil {
		journal = domain.NopJournal{}
	}
	return &AppsRepository{
		monitored: make(map[string]struct{}),
		blocked:   make(map[string]struct{}),
		journal:   journal,
	}
}

// SetMonitored replaces the monitored set wholesale. Empty ids are skipped.
func (r *AppsRepository) SetMonitored(appIDs []string) {
	next := make(map[string]struct{}, len(appIDs))
	for _, id := range appIDs {
		if id != "" {
			next[id] = struct{}{}
		}
	}

	r.mu.Lock()
	r.monitored = next
	r.mu.Unlock()

	r.journal.MonitoredReplaced(keys(next))
}

// IsMonitored reports whether appID is in the monitored set.
func (r *AppsRepository) IsMonitored(appID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.monitored[appID]
	return ok
}

// Monitored returns the monitored set, sorted.
func (r *AppsRepository) Monitored() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.monitored)
}

// Block adds appID to the blocked set. Returns false if it already was blocked.
func (r *AppsRepository) Block(appID string) bool {
	r.mu.Lock()
	_, already := r.blocked[appID]
	r.blocked[appID] = struct{}{}
	r.mu.Unlock()

	if !already {
		r.journal.BlockedChanged(appID, true)
	}
	return !already
}

// Unblock removes appID from the blocked set. Returns false if it was not blocked.
func (r *AppsRepository) Unblock(appID string) bool {
	r.mu.Lock()
	_, was := r.blocked[appID]
	delete(r.blocked, appID)
	r.mu.Unlock()

	if was {
		r.journal.BlockedChanged(appID, false)
	}
	return was
}

// IsBlocked reports whether appID is in the blocked set.
func (r *AppsRepository) IsBlocked(appID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocked[appID]
	return ok
}

// Blocked returns the blocked set, sorted.
func (r *AppsRepository) Blocked() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.blocked)
}

// Restore loads both sets without journaling.
func (r *AppsRepository) Restore(monitored, blocked []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range monitored {
		r.monitored[id] = struct{}{}
	}
	for _, id := range blocked {
		r.blocked[id] = struct{}{}
	}
}

func keys(m map[string]struct{}) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
