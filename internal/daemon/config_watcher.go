package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/config"
	"github.com/jawad360/phone-detox/internal/domain"
)

// AppPolicySink receives the app list from the config file.
// Implemented by Monitor.
type AppPolicySink interface {
	UpdateMonitoredApps(appIDs []string)
	UpdateAppConfig(appID string, patch domain.AppConfigPatch)
}

// ConfigWatcher reapplies the [[apps]] section whenever the config file changes.
type ConfigWatcher struct {
	path     string
	sink     AppPolicySink
	debounce time.Duration
	logger   *zap.Logger
}

// NewConfigWatcher creates a watcher for the config file at path.
func NewConfigWatcher(path string, sink AppPolicySink, logger *zap.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		sink:     sink,
		debounce: 250 * time.Millisecond,
		logger:   logger,
	}
}

// ApplyApps pushes cfg's app list into the sink.
func ApplyApps(cfg *config.Config, sink AppPolicySink) {
	sink.UpdateMonitoredApps(cfg.AppIDs())
	for _, app := range cfg.Apps {
		patch := app.Patch()
		if patch.Behavior == nil && patch.CooldownMinutes == nil {
			continue
		}
		sink.UpdateAppConfig(app.ID, patch)
	}
}

// Run watches until ctx is canceled. The parent directory is watched so
// editors that replace the file by rename are still seen.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("watching config file", zap.String("path", w.path))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous apps",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	ApplyApps(cfg, w.sink)
	w.logger.Info("config reloaded",
		zap.String("path", w.path),
		zap.Int("apps", len(cfg.Apps)))
}
