package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
)

// Engine is the enforcement surface the monitor drives.
// Implemented by usecase.Engine.
type Engine interface {
	Tick()
	Sweep()
	Resolve(resp domain.PromptResponse)
	UpdateMonitoredApps(appIDs []string)
	UpdateAppConfig(appID string, patch domain.AppConfigPatch) domain.AppConfig
	SetCooldownEnd(appID string, end time.Time)
	ActiveSession(appID string) *domain.Session
	Status() domain.Status
}

// MonitorConfig holds monitor loop configuration.
type MonitorConfig struct {
	SampleInterval  time.Duration // Foreground sampling period (default 1s)
	SweepInterval   time.Duration // Continuous enforcement period (default 2s)
	StartMonitoring bool          // Enable sampling as soon as Run starts
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:  time.Second,
		SweepInterval:   2 * time.Second,
		StartMonitoring: true,
	}
}

// Monitor runs the sampling and sweep loops on a Looper and funnels every
// external command onto that same goroutine.
type Monitor struct {
	config     MonitorConfig
	engine     Engine
	looper     *Looper
	logger     *zap.Logger
	monitoring atomic.Bool
	sampling   bool // owned by the loop
}

// NewMonitor creates a monitor. The engine must use looper as its task queue.
func NewMonitor(config MonitorConfig, engine Engine, looper *Looper, logger *zap.Logger) *Monitor {
	return &Monitor{
		config: config,
		engine: engine,
		looper: looper,
		logger: logger,
	}
}

// Run starts both loops and blocks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started",
		zap.Duration("sample_interval", m.config.SampleInterval),
		zap.Duration("sweep_interval", m.config.SweepInterval))

	m.looper.Post(m.sweep)
	if m.config.StartMonitoring {
		m.StartMonitoring()
	}

	err := m.looper.Run(ctx)
	m.logger.Info("monitor stopping")
	return err
}

// StartMonitoring enables the sampling loop. Idempotent.
func (m *Monitor) StartMonitoring() {
	m.looper.Post(func() {
		m.monitoring.Store(true)
		if m.sampling {
			return
		}
		m.sampling = true
		m.logger.Info("monitoring started")
		m.sample()
	})
}

// StopMonitoring disables sampling from the next tick on.
// The sweep loop keeps running.
func (m *Monitor) StopMonitoring() {
	m.looper.Post(func() {
		if m.monitoring.Swap(false) {
			m.logger.Info("monitoring stopped")
		}
	})
}

// IsMonitoring reports the monitoring flag.
func (m *Monitor) IsMonitoring() bool {
	return m.monitoring.Load()
}

func (m *Monitor) sample() {
	if !m.monitoring.Load() {
		m.sampling = false
		return
	}
	m.engine.Tick()
	m.looper.PostDelayed(m.config.SampleInterval, m.sample)
}

func (m *Monitor) sweep() {
	m.engine.Sweep()
	m.looper.PostDelayed(m.config.SweepInterval, m.sweep)
}

// UpdateMonitoredApps replaces the monitored set.
func (m *Monitor) UpdateMonitoredApps(appIDs []string) {
	ids := append([]string(nil), appIDs...)
	m.looper.Post(func() { m.engine.UpdateMonitoredApps(ids) })
}

// UpdateAppConfig merges a partial config update.
func (m *Monitor) UpdateAppConfig(appID string, patch domain.AppConfigPatch) {
	m.looper.Post(func() { m.engine.UpdateAppConfig(appID, patch) })
}

// SetCooldownEnd records a cooldown end supplied by the owning app.
func (m *Monitor) SetCooldownEnd(appID string, end time.Time) {
	m.looper.Post(func() { m.engine.SetCooldownEnd(appID, end) })
}

// ResolvePrompt delivers a prompt response to the engine.
func (m *Monitor) ResolvePrompt(resp domain.PromptResponse) {
	m.looper.Post(func() { m.engine.Resolve(resp) })
}

// ActiveSession returns the current session for appID, or nil.
func (m *Monitor) ActiveSession(appID string) *domain.Session {
	return m.engine.ActiveSession(appID)
}

// Status returns a consistent snapshot taken on the loop.
func (m *Monitor) Status(ctx context.Context) (domain.Status, error) {
	result := make(chan domain.Status, 1)
	if err := m.looper.Call(ctx, func() { result <- m.engine.Status() }); err != nil {
		return domain.Status{}, err
	}
	st := <-result
	st.Monitoring = m.IsMonitoring()
	return st, nil
}
