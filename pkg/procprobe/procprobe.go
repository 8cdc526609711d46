// Package procprobe answers the three liveness questions the rest of FORGE
// needs about external processes: is a pid still alive, how much resident
// memory does it hold, and does a named tmux session still exist. Every
// probe here is a single bounded system call or subprocess invocation; none
// of them block beyond that.
package procprobe

import (
	"context"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultTmuxTimeout bounds every tmux subprocess invocation.
const DefaultTmuxTimeout = 2 * time.Second

// Probe reads process and tmux-session liveness from the host.
type Probe struct {
	tmuxTimeout time.Duration
}

// NewProbe constructs a Probe with the default tmux timeout.
func NewProbe() *Probe {
	return &Probe{tmuxTimeout: DefaultTmuxTimeout}
}

// PidExists reports whether pid currently identifies a live process.
func (p *Probe) PidExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return exists
}

// RSS returns the resident set size in bytes for pid, or ok=false if the
// process has exited or its memory info is unreadable.
func (p *Probe) RSS(pid int) (rssBytes uint64, ok bool) {
	if pid <= 0 {
		return 0, false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, false
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0, false
	}
	return info.RSS, true
}

// TmuxSessionExists shells out to `tmux has-session -t <name>`; exit code 0
// means the session exists.
func (p *Probe) TmuxSessionExists(name string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.tmuxTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", name)
	return cmd.Run() == nil
}

// KillProcess issues the strongest available termination signal to pid and
// reports whether the process was confirmed gone afterward. A process that
// had already exited before the call yields (false, nil) — that is not an
// error, it is the expected outcome of a race with the process's own exit.
func (p *Probe) KillProcess(pid int) (killed bool, err error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone.
		return false, nil
	}
	if killErr := proc.Kill(); killErr != nil {
		if !p.PidExists(pid) {
			return false, nil
		}
		return false, killErr
	}
	return !p.PidExists(pid), nil
}

// KillTmuxSession shells out to `tmux kill-session -t <name>`. A session
// that no longer exists is not treated as an error by the caller; this
// returns the raw exec result so callers can distinguish "already gone"
// from a tmux-not-installed failure if they need to.
func (p *Probe) KillTmuxSession(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.tmuxTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", name)
	return cmd.Run()
}
