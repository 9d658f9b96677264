package drm

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// localCommand builds an exec.Cmd in its own process group so the whole
// subprocess tree can be terminated together.
func localCommand(shell string, command string) *exec.Cmd {
	cmd := exec.Command(shell, "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// killProcessGroup sends SIGKILL to the command's process group. Killing the
// group (negative pid) reaps children the command may have spawned.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// processTable tracks live subprocesses so session Close can terminate
// everything that is still running.
type processTable struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

func newProcessTable() *processTable {
	return &processTable{procs: make(map[int]*exec.Cmd)}
}

func (t *processTable) track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[cmd.Process.Pid] = cmd
}

func (t *processTable) untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, cmd.Process.Pid)
}

func (t *processTable) killAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for pid, cmd := range t.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("killing processes: %v", errs)
	}
	return nil
}

func (t *processTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}
