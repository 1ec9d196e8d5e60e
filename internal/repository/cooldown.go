package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/jawad360/phone-detox/internal/domain"
)

// CooldownRepository maps apps to the time their cooldown ends.
type CooldownRepository struct {
	mu      sync.RWMutex
	ends    map[string]time.Time
	journal domain.StateJournal
}

// NewCooldownRepository creates an empty cooldown store.
func NewCooldownRepository(journal domain.StateJournal) *CooldownRepository {
	if journal == nil {
		journal = domain.NopJournal{}
	}
	return &CooldownRepository{
		ends:    make(map[string]time.Time),
		journal: journal,
	}
}

// Get returns the cooldown end for appID.
func (r *CooldownRepository) Get(appID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	end, ok := r.ends[appID]
	return end, ok
}

// Set records a cooldown ending at end, overwriting any previous entry.
func (r *CooldownRepository) Set(appID string, end time.Time) {
	r.mu.Lock()
	r.ends[appID] = end
	r.mu.Unlock()
	r.journal.CooldownSaved(domain.CooldownEntry{AppID: appID, EndTime: end})
}

// Clear removes the entry for appID.
func (r *CooldownRepository) Clear(appID string) {
	r.mu.Lock()
	_, ok := r.ends[appID]
	delete(r.ends, appID)
	r.mu.Unlock()
	if ok {
		r.journal.CooldownCleared(appID)
	}
}

// IsActive reports whether appID has a cooldown running at now.
func (r *CooldownRepository) IsActive(appID string, now time.Time) bool {
	end, ok := r.Get(appID)
	return ok && now.Before(end)
}

// Expired returns app ids whose cooldown has ended at now.
func (r *CooldownRepository) Expired(now time.Time) []string {
	r.mu.RLock()
	var ids []string
	for id, end := range r.ends {
		if !now.Before(end) {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// All returns every entry ordered by app id.
func (r *CooldownRepository) All() []domain.CooldownEntry {
	r.mu.RLock()
	result := make([]domain.CooldownEntry, 0, len(r.ends))
	for id, end := range r.ends {
		result = append(result, domain.CooldownEntry{AppID: id, EndTime: end})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].AppID < result[j].AppID })
	return result
}

// Restore loads entries without journaling them.
func (r *CooldownRepository) Restore(entries []domain.CooldownEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range entries {
		r.ends[c.AppID] = c.EndTime
	}
}
