package usecase

import (
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/metrics"
	"github.com/jawad360/phone-detox/internal/repository"
)

// EngineConfig holds enforcement timing.
type EngineConfig struct {
	StopReEvictDelay time.Duration // Re-check after a stop-behavior eviction (default 500ms)
	PromptTimeout    time.Duration // Unanswered selection/extension prompts count as 0; 0 disables
	TimeOptions      []int         // Minutes offered by selection and extension prompts
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StopReEvictDelay: 500 * time.Millisecond,
		PromptTimeout:    2 * time.Minute,
		TimeOptions:      append([]int(nil), domain.DefaultTimeOptions...),
	}
}

// activePrompt is the single prompt currently on screen.
type activePrompt struct {
	prompt  domain.Prompt
	session *domain.Session // snapshot for extension prompts
}

// Engine is the enforcement state machine.
//
// Every method except ActiveSession and CooldownEnd must be called from the
// task queue's goroutine. The pending set, the active prompt and the
// last-seen foreground app are owned by that goroutine and never locked.
type Engine struct {
	config    EngineConfig
	state     *repository.State
	detector  domain.ForegroundDetector
	evictor   domain.Evictor
	notifier  domain.Notifier
	prompter  domain.Prompter
	tasks     domain.TaskQueue
	clock     domain.Clock
	names     domain.AppNameResolver
	logger    *zap.Logger
	newID     func() string
	lastApp   string
	pending   map[string]struct{}
	active    *activePrompt
	endTimers map[string]time.Time
}

// NewEngine creates an enforcement engine.
func NewEngine(
	config EngineConfig,
	state *repository.State,
	detector domain.ForegroundDetector,
	evictor domain.Evictor,
	notifier domain.Notifier,
	prompter domain.Prompter,
	tasks domain.TaskQueue,
	clock domain.Clock,
	logger *zap.Logger,
) *Engine {
	if len(config.TimeOptions) == 0 {
		config.TimeOptions = append([]int(nil), domain.DefaultTimeOptions...)
	}
	return &Engine{
		config:    config,
		state:     state,
		detector:  detector,
		evictor:   evictor,
		notifier:  notifier,
		prompter:  prompter,
		tasks:     tasks,
		clock:     clock,
		names:     idNames{},
		logger:    logger,
		newID:     uuid.NewString,
		pending:   make(map[string]struct{}),
		endTimers: make(map[string]time.Time),
	}
}

// WithAppNames sets the resolver used for dialog display names.
func (e *Engine) WithAppNames(names domain.AppNameResolver) *Engine {
	if names != nil {
		e.names = names
	}
	return e
}

// idNames shows the app id itself.
type idNames struct{}

func (idNames) AppName(appID string) string { return appID }

// --- periodic entry points ---

// Tick runs one foreground sample.
func (e *Engine) Tick() {
	fg, ok := e.detector.Current()

	handled := e.checkActiveSessions(fg, ok)

	if !ok {
		// Nothing in front; the next sighting of any app is a new launch.
		e.lastApp = ""
		return
	}

	apps := e.state.Apps
	if apps.IsMonitored(fg) && apps.IsBlocked(fg) {
		e.enforceBlocked(fg, "App is blocked")
		return
	}

	e.checkForegroundSession(fg)
	if _, ok := handled[fg]; ok {
		e.lastApp = fg
		return
	}
	e.handleAppChange(fg)
}

// Sweep runs the continuous enforcement pass.
func (e *Engine) Sweep() {
	now := e.clock.Now()
	fg, ok := e.detector.Current()
	apps := e.state.Apps

	for _, s := range e.state.Sessions.All() {
		if !apps.IsMonitored(s.AppID) || apps.IsBlocked(s.AppID) || e.isPending(s.AppID) {
			continue
		}
		if !s.IsExpired(now) {
			continue
		}
		e.markPending(s.AppID)
		e.handleTimeUp(s, ok && s.AppID == fg)
	}

	if ok && apps.IsMonitored(fg) && apps.IsBlocked(fg) {
		e.enforceBlocked(fg, "App is blocked - continuous enforcement")
	}

	e.releaseExpired(now)
}

// --- launch and time-up ---

// HandleLaunch decides what to do when a monitored app comes to the front.
func (e *Engine) HandleLaunch(appID string) {
	apps := e.state.Apps
	if !apps.IsMonitored(appID) {
		return
	}

	if apps.IsBlocked(appID) {
		e.enforceBlocked(appID, "App is blocked")
		return
	}

	now := e.clock.Now()
	if end, ok := e.state.Cooldowns.Get(appID); ok && now.Before(end) {
		e.block(appID)
		e.showCooldownPrompt(appID, end)
		e.evictor.Evict(appID, "App is in cooling period")
		return
	}

	if s := e.state.Sessions.Get(appID); s != nil {
		if !s.IsExpired(now) {
			e.logger.Debug("session still active",
				zap.String("app", appID),
				zap.Int("remaining_minutes", s.RemainingMinutes(now)))
			return
		}
		if !e.isPending(appID) {
			e.markPending(appID)
			e.handleTimeUp(*s, true)
		}
		return
	}

	e.showPrompt(domain.Prompt{
		ID:       e.newID(),
		AppID:    appID,
		AppName:  e.appName(appID),
		Kind:     domain.PromptTimeSelection,
		Options:  e.options(),
		IssuedAt: domain.ToMillis(now),
	}, nil)
}

// handleTimeUp enforces an expired session. Callers mark the app pending first.
func (e *Engine) handleTimeUp(s domain.Session, foreground bool) {
	appID := s.AppID

	e.logger.Info("session time up",
		zap.String("app", appID),
		zap.String("behavior", string(s.Behavior)),
		zap.Bool("foreground", foreground))
	metrics.SessionsExpired.WithLabelValues(string(s.Behavior)).Inc()
	e.notify(e.sessionEvent(domain.EventSessionExpired, s))

	if s.Behavior == domain.BehaviorStop {
		e.state.Sessions.Remove(appID)
		e.block(appID)
		e.evictor.Evict(appID, "Time limit reached")
		e.scheduleReEvict(appID)
		e.enterCooldown(appID, true)
		e.clearPending(appID)
		return
	}

	if foreground && !e.state.Apps.IsBlocked(appID) {
		snapshot := s
		e.showPrompt(domain.Prompt{
			ID:       e.newID(),
			AppID:    appID,
			AppName:  e.appName(appID),
			Kind:     domain.PromptTimeExtension,
			Options:  e.options(),
			IssuedAt: domain.ToMillis(e.clock.Now()),
		}, &snapshot)
		return
	}

	e.block(appID)
	e.evictor.Evict(appID, "Time limit reached")
	e.enterCooldown(appID, foreground)
	e.clearPending(appID)
}

// --- prompt responses ---

// Resolve applies a prompt response. Responses to anything but the
// currently active prompt are ignored.
func (e *Engine) Resolve(resp domain.PromptResponse) {
	if e.active == nil || e.active.prompt.ID != resp.PromptID {
		e.logger.Debug("ignoring response for inactive prompt",
			zap.String("prompt", resp.PromptID),
			zap.String("app", resp.AppID))
		return
	}

	ap := e.active
	e.active = nil
	appID := ap.prompt.AppID

	minutes := resp.Minutes
	if minutes < 0 {
		minutes = 0
	}

	switch ap.prompt.Kind {
	case domain.PromptTimeSelection:
		e.onTimeSelected(appID, minutes)
	case domain.PromptTimeExtension:
		e.onExtensionChosen(appID, ap.session, minutes)
	case domain.PromptCooldown:
		e.evictor.Evict(appID, "User dismissed cooling period dialog")
	}
}

func (e *Engine) onTimeSelected(appID string, minutes int) {
	if minutes == 0 {
		e.evictor.Evict(appID, "No time selected")
		return
	}

	cfg := e.state.Configs.Get(appID)
	s := domain.Session{
		AppID:            appID,
		StartTime:        e.clock.Now(),
		RequestedMinutes: minutes,
		Behavior:         cfg.Behavior,
	}
	e.state.Sessions.Put(s)
	e.clearPending(appID)

	e.logger.Info("session started",
		zap.String("app", appID),
		zap.Int("minutes", minutes),
		zap.String("behavior", string(s.Behavior)))
	metrics.SessionsStarted.Inc()
	e.notify(e.sessionEvent(domain.EventSessionStarted, s))
}

func (e *Engine) onExtensionChosen(appID string, snapshot *domain.Session, minutes int) {
	e.clearPending(appID)

	if minutes > 0 {
		base := snapshot
		if base == nil {
			base = e.state.Sessions.Get(appID)
		}
		if base == nil {
			cfg := e.state.Configs.Get(appID)
			base = &domain.Session{AppID: appID, Behavior: cfg.Behavior}
		}
		ext := base.Extended(e.clock.Now(), minutes)
		e.state.Sessions.Put(ext)

		e.logger.Info("session extended",
			zap.String("app", appID),
			zap.Int("minutes", minutes))
		metrics.SessionsExtended.Inc()
		e.notify(e.sessionEvent(domain.EventSessionExtended, ext))
		return
	}

	e.block(appID)
	e.evictor.Evict(appID, "User declined more time")
	e.enterCooldown(appID, true)
}

// --- cooldown ---

// enterCooldown starts the configured cooldown and removes the session.
// A later end already recorded for the app is kept.
func (e *Engine) enterCooldown(appID string, showDialog bool) {
	cfg := e.state.Configs.Get(appID)
	minutes := cfg.CooldownMinutes
	if minutes < 0 {
		minutes = 0
	}
	now := e.clock.Now()
	end := now.Add(time.Duration(minutes) * time.Minute)
	if cur, ok := e.state.Cooldowns.Get(appID); ok && cur.After(end) {
		end = cur
		minutes = int(math.Ceil(end.Sub(now).Minutes()))
	}

	e.state.Cooldowns.Set(appID, end)
	e.state.Sessions.Remove(appID)
	e.block(appID)

	e.logger.Info("cooldown started",
		zap.String("app", appID),
		zap.Int("minutes", minutes),
		zap.Time("ends_at", end))
	metrics.CooldownsStarted.Inc()

	if showDialog {
		e.showCooldownPrompt(appID, end)
	}
	e.scheduleCooldownEnd(appID, end)

	e.notify(e.cooldownEvent(domain.EventSetCoolingPeriod, appID, end, 0))
	e.notify(e.cooldownEvent(domain.EventCoolingPeriodStarted, appID, end, minutes))
}

// scheduleCooldownEnd posts one end check per (app, end) pair.
func (e *Engine) scheduleCooldownEnd(appID string, end time.Time) {
	if t, ok := e.endTimers[appID]; ok && t.Equal(end) {
		return
	}
	e.endTimers[appID] = end

	delay := end.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e.tasks.PostDelayed(delay, func() {
		if t, ok := e.endTimers[appID]; ok && t.Equal(end) {
			delete(e.endTimers, appID)
		}
		current, ok := e.state.Cooldowns.Get(appID)
		if !ok || !current.Equal(end) {
			return
		}
		if e.clock.Now().Before(current) {
			return
		}
		e.endCooldown(appID)
	})
}

func (e *Engine) endCooldown(appID string) {
	e.dismissPrompt(appID, domain.PromptCooldown)
	e.state.Cooldowns.Clear(appID)

	if e.canUnblock(appID, e.clock.Now()) && e.state.Apps.Unblock(appID) {
		e.logger.Info("cooldown ended, app unblocked", zap.String("app", appID))
		e.updateBlockedGauge()
	}
	metrics.CooldownsEnded.Inc()
	e.notify(e.cooldownEvent(domain.EventCoolingPeriodEnded, appID, e.clock.Now(), 0))
}

// releaseExpired unblocks apps whose cooldown has ended and drops stale entries.
func (e *Engine) releaseExpired(now time.Time) {
	for _, appID := range e.state.Apps.Blocked() {
		end, has := e.state.Cooldowns.Get(appID)
		if has && now.Before(end) {
			continue
		}
		if !e.canUnblock(appID, now) {
			continue
		}
		if has {
			e.endCooldown(appID)
			continue
		}
		e.dismissPrompt(appID, domain.PromptCooldown)
		if e.state.Apps.Unblock(appID) {
			e.logger.Info("app unblocked", zap.String("app", appID))
			e.updateBlockedGauge()
		}
	}

	for _, appID := range e.state.Cooldowns.Expired(now) {
		if !e.state.Apps.IsBlocked(appID) {
			e.state.Cooldowns.Clear(appID)
			delete(e.endTimers, appID)
		}
	}
}

// canUnblock reports whether no unexpired-session conflict keeps appID blocked.
func (e *Engine) canUnblock(appID string, now time.Time) bool {
	s := e.state.Sessions.Get(appID)
	return s == nil || !s.IsExpired(now)
}

// --- external commands ---

// UpdateMonitoredApps replaces the monitored set.
func (e *Engine) UpdateMonitoredApps(appIDs []string) {
	e.state.Apps.SetMonitored(appIDs)
	e.logger.Info("monitored apps updated", zap.Strings("apps", e.state.Apps.Monitored()))
}

// UpdateAppConfig merges a partial config update.
func (e *Engine) UpdateAppConfig(appID string, patch domain.AppConfigPatch) domain.AppConfig {
	cfg := e.state.Configs.Merge(appID, patch)
	e.logger.Info("app config updated",
		zap.String("app", appID),
		zap.String("behavior", string(cfg.Behavior)),
		zap.Int("cooldown_minutes", cfg.CooldownMinutes))
	return cfg
}

// SetCooldownEnd records an externally supplied cooldown end.
func (e *Engine) SetCooldownEnd(appID string, end time.Time) {
	e.state.Cooldowns.Set(appID, end)
	if end.After(e.clock.Now()) {
		e.scheduleCooldownEnd(appID, end)
	}
	e.logger.Info("cooldown end set",
		zap.String("app", appID),
		zap.Time("ends_at", end))
}

// ActiveSession returns the session for appID, or nil. Safe from any goroutine.
func (e *Engine) ActiveSession(appID string) (s *domain.Session) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("session lookup failed", zap.String("app", appID), zap.Any("panic", r))
			s = nil
		}
	}()
	return e.state.Sessions.Get(appID)
}

// CooldownEnd returns the cooldown end for appID. Safe from any goroutine.
func (e *Engine) CooldownEnd(appID string) (time.Time, bool) {
	return e.state.Cooldowns.Get(appID)
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() domain.Status {
	return domain.Status{
		Foreground: e.lastApp,
		Monitored:  e.state.Apps.Monitored(),
		Blocked:    e.state.Apps.Blocked(),
		Sessions:   e.state.Sessions.All(),
		Cooldowns:  e.state.Cooldowns.All(),
		Configs:    e.state.Configs.All(),
	}
}

// --- sample tick helpers ---

// checkActiveSessions handles every expired, not-yet-handled session and
// returns the apps it handled.
func (e *Engine) checkActiveSessions(fg string, fgKnown bool) map[string]struct{} {
	now := e.clock.Now()
	var handled map[string]struct{}
	for _, s := range e.state.Sessions.All() {
		if !e.state.Apps.IsMonitored(s.AppID) || e.isPending(s.AppID) || !s.IsExpired(now) {
			continue
		}
		if handled == nil {
			handled = make(map[string]struct{})
		}
		handled[s.AppID] = struct{}{}
		e.markPending(s.AppID)
		e.handleTimeUp(s, fgKnown && s.AppID == fg)
	}
	return handled
}

func (e *Engine) checkForegroundSession(fg string) {
	if !e.state.Apps.IsMonitored(fg) {
		return
	}
	s := e.state.Sessions.Get(fg)
	if s == nil {
		return
	}
	if !s.IsExpired(e.clock.Now()) {
		e.clearPending(fg)
		return
	}
	if !e.isPending(fg) {
		e.markPending(fg)
		e.handleTimeUp(*s, true)
	}
}

func (e *Engine) handleAppChange(fg string) {
	if fg == e.lastApp {
		return
	}
	e.logger.Debug("foreground changed",
		zap.String("from", e.lastApp),
		zap.String("to", fg))
	e.lastApp = fg
	e.clearPending(fg)

	if e.state.Apps.IsMonitored(fg) {
		e.HandleLaunch(fg)
	}
}

// enforceBlocked re-evicts a blocked app, keeping the cooldown dialog up.
func (e *Engine) enforceBlocked(appID, reason string) {
	if end, ok := e.state.Cooldowns.Get(appID); ok && e.clock.Now().Before(end) {
		e.showCooldownPrompt(appID, end)
	}
	e.evictor.Evict(appID, reason)
}

func (e *Engine) scheduleReEvict(appID string) {
	e.tasks.PostDelayed(e.config.StopReEvictDelay, func() {
		fg, ok := e.detector.Current()
		if !ok || fg != appID || !e.state.Apps.IsBlocked(appID) {
			return
		}
		e.evictor.Evict(appID, "Time limit reached - re-blocking")
	})
}

// --- prompt plumbing ---

func (e *Engine) showCooldownPrompt(appID string, end time.Time) {
	e.showPrompt(domain.Prompt{
		ID:          e.newID(),
		AppID:       appID,
		AppName:     e.appName(appID),
		Kind:        domain.PromptCooldown,
		CooldownEnd: domain.ToMillis(end),
		IssuedAt:    domain.ToMillis(e.clock.Now()),
	}, nil)
}

// showPrompt makes p the single active prompt, dismissing any other.
// The same kind of prompt for the same app is not shown twice.
func (e *Engine) showPrompt(p domain.Prompt, session *domain.Session) {
	if e.active != nil {
		prev := e.active.prompt
		if prev.AppID == p.AppID && prev.Kind == p.Kind {
			return
		}
		e.prompter.Dismiss(prev)
		e.active = nil
		if prev.Kind == domain.PromptTimeExtension {
			// Let the sweep pick the superseded expiry up again.
			e.clearPending(prev.AppID)
		}
	}

	e.active = &activePrompt{prompt: p, session: session}
	metrics.PromptsShown.WithLabelValues(string(p.Kind)).Inc()

	if err := e.prompter.Show(p); err != nil {
		e.logger.Warn("failed to show prompt",
			zap.String("app", p.AppID),
			zap.String("kind", string(p.Kind)),
			zap.Error(err))
		metrics.PromptFallbacks.WithLabelValues("delivery").Inc()
		e.fallback(p)
		return
	}

	if p.Kind == domain.PromptCooldown || e.config.PromptTimeout <= 0 {
		return
	}
	e.tasks.PostDelayed(e.config.PromptTimeout, func() {
		if e.active == nil || e.active.prompt.ID != p.ID {
			return
		}
		e.logger.Warn("prompt timed out",
			zap.String("app", p.AppID),
			zap.String("kind", string(p.Kind)))
		metrics.PromptFallbacks.WithLabelValues("timeout").Inc()
		e.prompter.Dismiss(p)
		e.fallback(p)
	})
}

// fallback resolves an undeliverable or abandoned prompt as a decline.
// Cooldown prompts stay marked active so they are not re-sent every tick.
func (e *Engine) fallback(p domain.Prompt) {
	if p.Kind == domain.PromptCooldown {
		return
	}
	e.Resolve(domain.PromptResponse{PromptID: p.ID, AppID: p.AppID, Minutes: 0})
}

func (e *Engine) dismissPrompt(appID string, kind domain.PromptKind) {
	if e.active == nil || e.active.prompt.AppID != appID || e.active.prompt.Kind != kind {
		return
	}
	e.prompter.Dismiss(e.active.prompt)
	e.active = nil
}

func (e *Engine) appName(appID string) string {
	if name := e.names.AppName(appID); name != "" {
		return name
	}
	return appID
}

func (e *Engine) options() []int {
	return append([]int(nil), e.config.TimeOptions...)
}

// --- small helpers ---

func (e *Engine) isPending(appID string) bool {
	_, ok := e.pending[appID]
	return ok
}

func (e *Engine) markPending(appID string) {
	e.pending[appID] = struct{}{}
}

func (e *Engine) clearPending(appID string) {
	delete(e.pending, appID)
}

func (e *Engine) block(appID string) {
	if e.state.Apps.Block(appID) {
		e.updateBlockedGauge()
	}
}

func (e *Engine) updateBlockedGauge() {
	metrics.BlockedApps.Set(float64(len(e.state.Apps.Blocked())))
}

func (e *Engine) notify(ev domain.Event) {
	e.notifier.Notify(ev)
}

func (e *Engine) sessionEvent(t domain.EventType, s domain.Session) domain.Event {
	return domain.Event{
		ID:    e.newID(),
		Type:  t,
		AppID: s.AppID,
		Time:  domain.ToMillis(e.clock.Now()),
		Session: &domain.SessionPayload{
			StartTime:        domain.ToMillis(s.StartTime),
			RequestedMinutes: s.RequestedMinutes,
			Behavior:         s.Behavior,
		},
	}
}

func (e *Engine) cooldownEvent(t domain.EventType, appID string, end time.Time, minutes int) domain.Event {
	return domain.Event{
		ID:    e.newID(),
		Type:  t,
		AppID: appID,
		Time:  domain.ToMillis(e.clock.Now()),
		Cooldown: &domain.CooldownPayload{
			EndTime: domain.ToMillis(end),
			Minutes: minutes,
		},
	}
}
