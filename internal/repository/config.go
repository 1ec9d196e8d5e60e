package repository

import (
	"sort"
	"sync"

	"github.com/jawad360/phone-detox/internal/domain"
)

// ConfigRepository holds per-app enforcement policy.
type ConfigRepository struct {
	mu              sync.RWMutex
	configs         map[string]domain.AppConfig
	defaultCooldown int
	journal         domain.StateJournal
}

// NewConfigRepository creates a config store. defaultCooldown <= 0 uses the
// package default of 30 minutes.
func NewConfigRepository(defaultCooldown int, journal domain.StateJournal) *ConfigRepository {
	if defaultCooldown <= 0 {
		defaultCooldown = domain.DefaultCooldownMinutes
	}
	if journal == nil {
		journal = domain.NopJournal{}
	}
	return &ConfigRepository{
		configs:         make(map[string]domain.AppConfig),
		defaultCooldown: defaultCooldown,
		journal:         journal,
	}
}

// Get returns the stored config for appID, or the defaults.
func (r *ConfigRepository) Get(appID string) domain.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.configs[appID]; ok {
		return c
	}
	return r.defaultFor(appID)
}

// Merge applies a partial update. Fields absent from the patch keep their
// current value, or the default if none was stored.
func (r *ConfigRepository) Merge(appID string, patch domain.AppConfigPatch) domain.AppConfig {
	r.mu.Lock()
	current, ok := r.configs[appID]
	if !ok {
		current = r.defaultFor(appID)
	}
	merged := patch.Apply(current)
	r.configs[appID] = merged
	r.mu.Unlock()

	r.journal.ConfigSaved(merged)
	return merged
}

// All returns every stored config ordered by app id.
func (r *ConfigRepository) All() []domain.AppConfig {
	r.mu.RLock()
	result := make([]domain.AppConfig, 0, len(r.configs))
	for _, c := range r.configs {
		result = append(result, c)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].AppID < result[j].AppID })
	return result
}

// Restore loads configs without journaling them.
func (r *ConfigRepository) Restore(configs []domain.AppConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range configs {
		r.configs[c.AppID] = c
	}
}

func (r *ConfigRepository) defaultFor(appID string) domain.AppConfig {
	c := domain.DefaultAppConfig(appID)
	c.CooldownMinutes = r.defaultCooldown
	return c
}
