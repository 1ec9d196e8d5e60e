package infra

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	names      map[int]string
	killedPIDs []int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{names: make(map[int]string)}
}

func (m *mockProcessManager) FindByApp(appID string) ([]int, error) {
	var pids []int
	for pid, name := range m.names {
		if name == appID {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.names, pid)
	return nil
}

func (m *mockProcessManager) NameOf(pid int) (string, error) {
	name, ok := m.names[pid]
	if !ok {
		return "", errors.New("no such process")
	}
	return name, nil
}

// mockCommandRunner is a test double for CommandRunner.
// Keys are the full command line joined by spaces.
type mockCommandRunner struct {
	mu       sync.Mutex
	outputs  map[string]string
	errs     map[string]error
	commands []string
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (m *mockCommandRunner) key(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (m *mockCommandRunner) Run(name string, args ...string) error {
	k := m.key(name, args...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, k)
	return m.errs[k]
}

func (m *mockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	k := m.key(name, args...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, k)
	if err := m.errs[k]; err != nil {
		return nil, err
	}
	out, ok := m.outputs[k]
	if !ok {
		return nil, errors.New("command not mocked: " + k)
	}
	return []byte(out), nil
}

// stepClock is a settable domain.Clock
type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }
