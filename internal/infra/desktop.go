package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
)

var (
	errNoActiveWindow  = errors.New("no active window")
	errUnexpectedXprop = errors.New("unexpected xprop output")
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete
func (r *RealCommandRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Output executes a command and returns its stdout
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// DesktopPlatform is the X11 host: it samples the focused window into a
// usage log, hides windows to show the desktop and force-kills via sudo.
type DesktopPlatform struct {
	runner   CommandRunner
	pm       domain.ProcessManager
	usageLog *UsageEventLog
	clock    domain.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	lastApp string
	names   map[string]string
}

// NewDesktopPlatform creates a platform that shells out to xprop, wmctrl, xdotool and sudo.
func NewDesktopPlatform(pm domain.ProcessManager, usageLog *UsageEventLog, logger *zap.Logger) *DesktopPlatform {
	return NewDesktopPlatformWithDeps(&RealCommandRunner{}, pm, usageLog, SystemClock{}, logger)
}

// NewDesktopPlatformWithDeps creates a platform with injectable dependencies (for testing)
func NewDesktopPlatformWithDeps(runner CommandRunner, pm domain.ProcessManager, usageLog *UsageEventLog, clock domain.Clock, logger *zap.Logger) *DesktopPlatform {
	return &DesktopPlatform{
		runner:   runner,
		pm:       pm,
		usageLog: usageLog,
		clock:    clock,
		logger:   logger,
		names:    make(map[string]string),
	}
}

// Run samples the focused window every interval until ctx is canceled.
func (d *DesktopPlatform) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.sampleLogged()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.sampleLogged()
		}
	}
}

func (d *DesktopPlatform) sampleLogged() {
	if err := d.Sample(); err != nil {
		d.logger.Debug("foreground sample failed", zap.Error(err))
	}
}

// Sample records the focused app. A foreground event is written on every
// sample so the detector window always holds the current app; a background
// event is written for the previous app when focus moves.
func (d *DesktopPlatform) Sample() error {
	app, err := d.ActiveApp()
	if err != nil {
		return err
	}
	now := d.clock.Now()

	d.mu.Lock()
	prev := d.lastApp
	d.lastApp = app
	d.mu.Unlock()

	if prev != "" && prev != app {
		d.usageLog.Record(domain.UsageEvent{AppID: prev, Type: domain.UsageMovedToBackground, Time: now})
	}
	evType := domain.UsageActivityResumed
	if prev != app {
		evType = domain.UsageMovedToForeground
	}
	d.usageLog.Record(domain.UsageEvent{AppID: app, Type: evType, Time: now})
	return nil
}

// ActiveApp resolves the focused window to an app id: the owning process
// name via _NET_WM_PID, falling back to the lowercased WM_CLASS class name.
// The window's class name is remembered as the app's display name.
func (d *DesktopPlatform) ActiveApp() (string, error) {
	out, err := d.runner.Output("xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return "", fmt.Errorf("xprop failed (no X11?): %w", err)
	}
	windowID, err := parseActiveWindow(string(out))
	if err != nil {
		return "", err
	}

	if out, err := d.runner.Output("xprop", "-id", windowID, "_NET_WM_PID"); err == nil {
		if pid, err := parseWindowPID(string(out)); err == nil {
			if name, err := d.pm.NameOf(pid); err == nil && name != "" {
				if !d.hasName(name) {
					class, _ := d.windowClass(windowID)
					d.rememberName(name, class)
				}
				return name, nil
			}
		}
	}

	class, err := d.windowClass(windowID)
	if err != nil {
		return "", err
	}
	app := strings.ToLower(class)
	d.rememberName(app, class)
	return app, nil
}

// AppName returns the window class seen for appID, or appID itself.
func (d *DesktopPlatform) AppName(appID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name := d.names[appID]; name != "" {
		return name
	}
	return appID
}

func (d *DesktopPlatform) windowClass(windowID string) (string, error) {
	out, err := d.runner.Output("xprop", "-id", windowID, "WM_CLASS")
	if err != nil {
		return "", fmt.Errorf("failed to query WM_CLASS: %w", err)
	}
	return parseWMClass(string(out))
}

func (d *DesktopPlatform) hasName(appID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.names[appID]
	return ok
}

// rememberName records name for appID. An empty name is stored too, so the
// class lookup is not repeated on every sample.
func (d *DesktopPlatform) rememberName(appID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[appID] = name
}

// GoHome shows the desktop, falling back to minimizing the focused window.
func (d *DesktopPlatform) GoHome(appID string) error {
	err := d.runner.Run("wmctrl", "-k", "on")
	if err == nil {
		return nil
	}
	if ferr := d.runner.Run("xdotool", "getactivewindow", "windowminimize"); ferr != nil {
		return fmt.Errorf("show desktop: %w; minimize: %v", err, ferr)
	}
	return nil
}

// ForceStop kills every process named appID through passwordless sudo.
func (d *DesktopPlatform) ForceStop(appID string) error {
	if err := d.runner.Run("sudo", "-n", "pkill", "-KILL", "-x", appID); err != nil {
		return fmt.Errorf("privileged stop of %s: %w", appID, err)
	}
	return nil
}

// parseActiveWindow parses "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007".
func parseActiveWindow(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 5 {
		return "", errUnexpectedXprop
	}
	id := strings.TrimSuffix(fields[len(fields)-1], ",")
	if id == "0x0" {
		return "", errNoActiveWindow
	}
	if !strings.HasPrefix(id, "0x") {
		return "", errUnexpectedXprop
	}
	return id, nil
}

// parseWindowPID parses "_NET_WM_PID(CARDINAL) = 12345".
func parseWindowPID(out string) (int, error) {
	_, value, ok := strings.Cut(out, "=")
	if !ok {
		return 0, errUnexpectedXprop
	}
	return strconv.Atoi(strings.TrimSpace(value))
}

// parseWMClass parses `WM_CLASS(STRING) = "Navigator", "Firefox"` into "Firefox".
func parseWMClass(out string) (string, error) {
	_, value, ok := strings.Cut(out, "=")
	if !ok {
		return "", errUnexpectedXprop
	}
	parts := strings.Split(value, ",")
	class := strings.Trim(strings.TrimSpace(parts[len(parts)-1]), `"`)
	if class == "" {
		return "", errUnexpectedXprop
	}
	return class, nil
}

var (
	_ domain.Launcher        = (*DesktopPlatform)(nil)
	_ domain.ForceStopper    = (*DesktopPlatform)(nil)
	_ domain.AppNameResolver = (*DesktopPlatform)(nil)
)
