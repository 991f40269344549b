//go:build !windows

package dispatch

import (
	"context"
	"os/exec"
	"strings"
	"syscall"
)

func configureCommandProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		// Negative PGID kills the whole group (interpreter + children).
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

// startDetachedProcess spawns the executable in its own session so it
// survives the dispatcher and never blocks it.
func startDetachedProcess(path string, args []string) error {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap in the background to avoid zombies.
	go func() { _ = cmd.Wait() }()
	return nil
}

// processInList reports whether a process matching the executable name shows
// up in the process list.
func processInList(ctx context.Context, exeName string) bool {
	name := strings.TrimSuffix(strings.ToLower(exeName), ".exe")
	out, err := exec.CommandContext(ctx, "pgrep", "-f", name).Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}
