// Package infra implements infrastructure concerns (processes, desktop, storage).
package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/jawad360/phone-detox/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct {
	selfPID int32
}

// NewProcessManager creates a new process manager.
func NewProcessManager() *ProcessManagerImpl {
	return &ProcessManagerImpl{selfPID: int32(os.Getpid())}
}

// FindByApp returns PIDs of processes whose name or executable base name
// equals appID (case-insensitive). The daemon itself is never returned.
func (pm *ProcessManagerImpl) FindByApp(appID string) ([]int, error) {
	if appID == "" {
		return nil, nil
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var found []int
	for _, p := range procs {
		if p.Pid == pm.selfPID {
			continue
		}
		if matchesApp(p, appID) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

func matchesApp(p *process.Process, appID string) bool {
	if name, err := p.Name(); err == nil && strings.EqualFold(name, appID) {
		return true
	}
	// Process may have exited or be owned by another user
	if exe, err := p.Exe(); err == nil && strings.EqualFold(filepath.Base(exe), appID) {
		return true
	}
	return false
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// NameOf returns the process name for pid.
func (pm *ProcessManagerImpl) NameOf(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Name()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
