// Package usecase contains application business logic.
package usecase

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/metrics"
)

// DetectorImpl implements domain.ForegroundDetector over a usage-event log.
type DetectorImpl struct {
	source domain.UsageEventSource
	clock  domain.Clock
	window time.Duration
	logger *zap.Logger
}

// NewDetector creates a detector that looks back over window on each query.
func NewDetector(source domain.UsageEventSource, clock domain.Clock, window time.Duration, logger *zap.Logger) *DetectorImpl {
	return &DetectorImpl{
		source: source,
		clock:  clock,
		window: window,
		logger: logger,
	}
}

// Current returns the foreground app over the trailing window.
func (d *DetectorImpl) Current() (string, bool) {
	now := d.clock.Now()
	return d.Detect(now.Add(-d.window), now)
}

// Detect returns the app of the most recent foreground event in
// [start, end]. Any source failure yields ok=false.
func (d *DetectorImpl) Detect(start, end time.Time) (appID string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("usage event source panicked", zap.Any("panic", r))
			appID, ok = "", false
		}
		if !ok {
			metrics.ForegroundUnknown.Inc()
		}
	}()

	events, err := d.source.QueryEvents(start, end)
	if err != nil {
		d.logger.Debug("usage events unavailable", zap.Error(err))
		return "", false
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })

	for _, ev := range events {
		if ev.Type.IsForeground() && ev.AppID != "" {
			appID = ev.AppID
			ok = true
		}
	}
	return appID, ok
}

// Ensure DetectorImpl implements domain.ForegroundDetector.
var _ domain.ForegroundDetector = (*DetectorImpl)(nil)
