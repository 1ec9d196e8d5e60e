package usecase

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jawad360/phone-detox/internal/domain"
)

// fakeClock implements domain.Clock for testing
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// manualQueue implements domain.TaskQueue driven by a fakeClock
type manualQueue struct {
	clock *fakeClock
	seq   int
	tasks []queuedTask
}

type queuedTask struct {
	due time.Time
	seq int
	fn  func()
}

func newManualQueue(clock *fakeClock) *manualQueue {
	return &manualQueue{clock: clock}
}

func (q *manualQueue) Post(fn func()) {
	q.PostDelayed(0, fn)
}

func (q *manualQueue) PostDelayed(d time.Duration, fn func()) {
	q.seq++
	q.tasks = append(q.tasks, queuedTask{due: q.clock.Now().Add(d), seq: q.seq, fn: fn})
}

// RunDue runs every task due at the current fake time, including ones they post.
func (q *manualQueue) RunDue() {
	for {
		sort.SliceStable(q.tasks, func(i, j int) bool {
			if q.tasks[i].due.Equal(q.tasks[j].due) {
				return q.tasks[i].seq < q.tasks[j].seq
			}
			return q.tasks[i].due.Before(q.tasks[j].due)
		})
		if len(q.tasks) == 0 || q.tasks[0].due.After(q.clock.Now()) {
			return
		}
		next := q.tasks[0]
		q.tasks = q.tasks[1:]
		next.fn()
	}
}

// Advance moves the clock and runs what became due.
func (q *manualQueue) Advance(d time.Duration) {
	q.clock.Advance(d)
	q.RunDue()
}

// callLog records side effects in order across fakes
type callLog struct {
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (l *callLog) indexOf(call string) int {
	for i, c := range l.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// fakeDetector implements domain.ForegroundDetector for testing
type fakeDetector struct {
	app string
}

func (d *fakeDetector) Current() (string, bool) {
	return d.app, d.app != ""
}

// fakeEvictor implements domain.Evictor for testing
type fakeEvictor struct {
	log     *callLog
	evicted []string
	reasons []string
}

func (e *fakeEvictor) Evict(appID, reason string) domain.EvictionResult {
	e.evicted = append(e.evicted, appID)
	e.reasons = append(e.reasons, reason)
	e.log.add("evict:%s", appID)
	return domain.EvictionResult{AppID: appID, Reason: reason}
}

func (e *fakeEvictor) countFor(appID string) int {
	n := 0
	for _, a := range e.evicted {
		if a == appID {
			n++
		}
	}
	return n
}

// fakePrompter implements domain.Prompter for testing
type fakePrompter struct {
	log       *callLog
	showErr   error
	shown     []domain.Prompt
	dismissed []domain.Prompt
}

func (p *fakePrompter) Show(prompt domain.Prompt) error {
	p.log.add("show:%s:%s", prompt.Kind, prompt.AppID)
	if p.showErr != nil {
		return p.showErr
	}
	p.shown = append(p.shown, prompt)
	return nil
}

func (p *fakePrompter) Dismiss(prompt domain.Prompt) {
	p.log.add("dismiss:%s:%s", prompt.Kind, prompt.AppID)
	p.dismissed = append(p.dismissed, prompt)
}

func (p *fakePrompter) last() domain.Prompt {
	if len(p.shown) == 0 {
		return domain.Prompt{}
	}
	return p.shown[len(p.shown)-1]
}

func (p *fakePrompter) countFor(appID string, kind domain.PromptKind) int {
	n := 0
	for _, s := range p.shown {
		if s.AppID == appID && s.Kind == kind {
			n++
		}
	}
	return n
}

// fakeNotifier implements domain.Notifier for testing
type fakeNotifier struct {
	log    *callLog
	events []domain.Event
}

func (n *fakeNotifier) Notify(ev domain.Event) {
	n.log.add("event:%s:%s", ev.Type, ev.AppID)
	n.events = append(n.events, ev)
}

func (n *fakeNotifier) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeUsageSource implements domain.UsageEventSource for testing
type fakeUsageSource struct {
	events []domain.UsageEvent
	err    error
	panics bool
}

func (s *fakeUsageSource) QueryEvents(start, end time.Time) ([]domain.UsageEvent, error) {
	if s.panics {
		panic("usage log exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.UsageEvent
	for _, ev := range s.events {
		if !ev.Time.Before(start) && !ev.Time.After(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// mockProcessManager implements domain.ProcessManager for testing
type mockProcessManager struct {
	log        *callLog
	findResult map[string][]int
	findErr    error
	killErr    error
	killedPIDs []int
}

func (m *mockProcessManager) FindByApp(appID string) ([]int, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.findResult[appID], nil
}

func (m *mockProcessManager) Kill(pid int) error {
	if m.log != nil {
		m.log.add("kill:%d", pid)
	}
	if m.killErr != nil {
		return m.killErr
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	return nil
}

func (m *mockProcessManager) NameOf(pid int) (string, error) {
	return "", errors.New("not implemented")
}

// mockLauncher implements domain.Launcher for testing
type mockLauncher struct {
	log   *callLog
	err   error
	calls int
}

func (m *mockLauncher) GoHome(appID string) error {
	m.calls++
	if m.log != nil {
		m.log.add("home:%s", appID)
	}
	return m.err
}

// mockForceStopper implements domain.ForceStopper for testing
type mockForceStopper struct {
	log *callLog
	err error
}

func (m *mockForceStopper) ForceStop(appID string) error {
	if m.log != nil {
		m.log.add("forcestop:%s", appID)
	}
	return m.err
}
