package usecase

import (
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
)

// LogNotifier writes every event to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(ev domain.Event) {
	fields := []zap.Field{
		zap.String("event", string(ev.Type)),
		zap.String("app", ev.AppID),
		zap.String("id", ev.ID),
	}
	if ev.Session != nil {
		fields = append(fields, zap.Int("requested_minutes", ev.Session.RequestedMinutes))
	}
	if ev.Cooldown != nil {
		fields = append(fields, zap.Int64("cooldown_end", ev.Cooldown.EndTime))
	}
	n.logger.Info("event", fields...)
}

// MultiNotifier fans an event out to several notifiers.
// A panicking notifier does not stop delivery to the rest.
type MultiNotifier struct {
	notifiers []domain.Notifier
	logger    *zap.Logger
}

// NewMultiNotifier creates a fan-out notifier. Nil entries are skipped.
func NewMultiNotifier(logger *zap.Logger, notifiers ...domain.Notifier) *MultiNotifier {
	m := &MultiNotifier{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers ev to each notifier.
func (m *MultiNotifier) Notify(ev domain.Event) {
	for _, n := range m.notifiers {
		m.deliver(n, ev)
	}
}

func (m *MultiNotifier) deliver(n domain.Notifier, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("notifier panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r))
		}
	}()
	n.Notify(ev)
}

var (
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = (*MultiNotifier)(nil)
)
