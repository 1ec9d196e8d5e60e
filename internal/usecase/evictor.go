package usecase

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/metrics"
)

// DefaultRecheckDelay is how long after an eviction the foreground is re-checked.
const DefaultRecheckDelay = 200 * time.Millisecond

// EvictorImpl implements domain.Evictor.
// Each step runs regardless of whether the previous one failed.
type EvictorImpl struct {
	launcher       domain.Launcher
	processManager domain.ProcessManager
	forceStopper   domain.ForceStopper
	detector       domain.ForegroundDetector
	tasks          domain.TaskQueue
	clock          domain.Clock
	recheckDelay   time.Duration
	logger         *zap.Logger
}

// NewEvictor creates an evictor. forceStopper and tasks may be nil.
func NewEvictor(
	launcher domain.Launcher,
	pm domain.ProcessManager,
	forceStopper domain.ForceStopper,
	detector domain.ForegroundDetector,
	tasks domain.TaskQueue,
	clock domain.Clock,
	logger *zap.Logger,
) *EvictorImpl {
	return &EvictorImpl{
		launcher:       launcher,
		processManager: pm,
		forceStopper:   forceStopper,
		detector:       detector,
		tasks:          tasks,
		clock:          clock,
		recheckDelay:   DefaultRecheckDelay,
		logger:         logger,
	}
}

// WithRecheckDelay overrides the post-eviction recheck delay.
func (e *EvictorImpl) WithRecheckDelay(d time.Duration) *EvictorImpl {
	e.recheckDelay = d
	return e
}

// Evict sends the app home, kills its processes and tries a force-stop.
func (e *EvictorImpl) Evict(appID, reason string) domain.EvictionResult {
	result := domain.EvictionResult{
		AppID:      appID,
		Reason:     reason,
		KilledPIDs: make([]int, 0),
		ExecutedAt: e.clock.Now(),
	}

	e.logger.Info("evicting app",
		zap.String("app", appID),
		zap.String("reason", reason))

	// Step 1: home screen
	result.HomeErr = e.goHome(appID)

	// Step 2: terminate background processes
	pids, err := e.processManager.FindByApp(appID)
	if err != nil {
		e.logger.Warn("failed to find processes",
			zap.String("app", appID),
			zap.Error(err))
		result.KillErrs = append(result.KillErrs, err)
	}
	for _, pid := range pids {
		if err := e.processManager.Kill(pid); err != nil {
			e.logger.Warn("failed to kill process",
				zap.Int("pid", pid),
				zap.Error(err))
			result.KillErrs = append(result.KillErrs, err)
			continue
		}
		e.logger.Info("killed process",
			zap.String("app", appID),
			zap.Int("pid", pid))
		result.KilledPIDs = append(result.KilledPIDs, pid)
	}
	metrics.ProcessesKilled.Add(float64(len(result.KilledPIDs)))

	// Step 3: privileged force-stop; usually denied
	if e.forceStopper != nil {
		if err := e.forceStopper.ForceStop(appID); err != nil {
			e.logger.Debug("force stop unavailable",
				zap.String("app", appID),
				zap.Error(err))
			result.ForceStopErr = err
		}
	}

	metrics.Evictions.WithLabelValues(strconv.FormatBool(result.HomeErr == nil)).Inc()

	e.scheduleRecheck(appID)
	return result
}

func (e *EvictorImpl) goHome(appID string) error {
	if err := e.launcher.GoHome(appID); err != nil {
		e.logger.Warn("failed to bring home screen to front",
			zap.String("app", appID),
			zap.Error(err))
		return err
	}
	return nil
}

// scheduleRecheck repeats the home step if the app is still in front shortly after.
func (e *EvictorImpl) scheduleRecheck(appID string) {
	if e.tasks == nil || e.detector == nil {
		return
	}
	e.tasks.PostDelayed(e.recheckDelay, func() {
		current, ok := e.detector.Current()
		if !ok || current != appID {
			return
		}
		e.logger.Info("app still in foreground after eviction, retrying",
			zap.String("app", appID))
		_ = e.goHome(appID)
	})
}

// Ensure EvictorImpl implements domain.Evictor.
var _ domain.Evictor = (*EvictorImpl)(nil)
