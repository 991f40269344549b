//go:build windows

package dispatch

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// detachedProcess is the CreationFlags bit that severs the child from the
// parent console (DETACHED_PROCESS).
const detachedProcess = 0x00000008

func configureCommandProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	// taskkill /T takes the whole tree down; cmd.exe children would otherwise
	// survive a plain Kill of the interpreter.
	pid := cmd.Process.Pid
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
	_ = cmd.Process.Kill()
}

// startDetachedProcess spawns the executable detached from the bot's console
// and process group so the GUI window outlives the dispatcher.
func startDetachedProcess(path string, args []string) error {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// processInList checks the Windows task list for the executable image name.
func processInList(ctx context.Context, exeName string) bool {
	out, err := exec.CommandContext(ctx, "tasklist", "/FI", "IMAGENAME eq "+exeName, "/NH").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(out)), strings.ToLower(exeName))
}
