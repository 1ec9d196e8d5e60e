// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jawad360/phone-detox/internal/domain"
)

// HomeApp is the foreground app after GoHome.
const HomeApp = "launcher.home"

// ErrForceStopDenied mimics a host without the privileged stop path.
var ErrForceStopDenied = errors.New("force-stop: permission denied")

// Clock is a manually advanced domain.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeDevice simulates the host platform: a foreground app, running
// processes, and a home screen. It reports the foreground app as a fresh
// usage event on every query, the way the desktop sampler heartbeats.
type FakeDevice struct {
	mu         sync.Mutex
	foreground string
	running    map[string][]int
	nextPID    int
	homeCalls  []string
	killed     []int
	forceStops []string
}

var (
	_ domain.UsageEventSource = (*FakeDevice)(nil)
	_ domain.Launcher         = (*FakeDevice)(nil)
	_ domain.ProcessManager   = (*FakeDevice)(nil)
	_ domain.ForceStopper     = (*FakeDevice)(nil)
)

// NewFakeDevice creates a device showing the home screen.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		foreground: HomeApp,
		running:    make(map[string][]int),
		nextPID:    1000,
	}
}

// Launch starts appID (if not running) and brings it to the front.
func (d *FakeDevice) Launch(appID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.running[appID]) == 0 {
		d.nextPID++
		d.running[appID] = []int{d.nextPID}
	}
	d.foreground = appID
}

// SwitchTo brings appID to the front without starting a process.
func (d *FakeDevice) SwitchTo(appID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.foreground = appID
}

// Foreground returns the app currently in front.
func (d *FakeDevice) Foreground() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.foreground
}

// HomeCalls returns the apps GoHome was called for, in order.
func (d *FakeDevice) HomeCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.homeCalls)
}

// Killed returns every PID killed so far.
func (d *FakeDevice) Killed() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.killed)
}

// ForceStops returns the apps a force-stop was attempted for.
func (d *FakeDevice) ForceStops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.forceStops)
}

// Running reports whether appID has live processes.
func (d *FakeDevice) Running(appID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running[appID]) > 0
}

func (d *FakeDevice) QueryEvents(start, end time.Time) ([]domain.UsageEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.foreground == "" {
		return nil, nil
	}
	return []domain.UsageEvent{{
		AppID: d.foreground,
		Type:  domain.UsageActivityResumed,
		Time:  end,
	}}, nil
}

func (d *FakeDevice) GoHome(appID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.homeCalls = append(d.homeCalls, appID)
	if d.foreground == appID {
		d.foreground = HomeApp
	}
	return nil
}

func (d *FakeDevice) FindByApp(appID string) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.running[appID]), nil
}

func (d *FakeDevice) Kill(pid int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for app, pids := range d.running {
		if i := slices.Index(pids, pid); i >= 0 {
			d.running[app] = slices.Delete(pids, i, i+1)
			d.killed = append(d.killed, pid)
			return nil
		}
	}
	return fmt.Errorf("process %d not found", pid)
}

func (d *FakeDevice) NameOf(pid int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for app, pids := range d.running {
		if slices.Contains(pids, pid) {
			return app, nil
		}
	}
	return "", fmt.Errorf("process %d not found", pid)
}

func (d *FakeDevice) ForceStop(appID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceStops = append(d.forceStops, appID)
	return ErrForceStopDenied
}
