// dispatch.go implements the Dispatcher: interpreter selection, safety
// normalization, script materialization, timeout-bounded execution, and
// verified detached browser launches.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds dispatcher settings, sourced from the main config file on every
// construction (the executable-path cache is the only state kept beyond that).
type Config struct {
	// PowerShellPath overrides the structured-shell binary (default "powershell").
	PowerShellPath string `yaml:"powershell_path"`

	// CmdPath overrides the basic interpreter binary (default "cmd").
	CmdPath string `yaml:"cmd_path"`

	// BashPath overrides the bash binary (default "bash").
	BashPath string `yaml:"bash_path"`

	// BrowserPaths maps browser executable names to absolute paths, overriding
	// the standard install-location probe (e.g. chrome.exe: D:\Apps\chrome.exe).
	BrowserPaths map[string]string `yaml:"browser_paths"`

	// TempDir is where script files are written. Defaults to os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// SpawnVerifySeconds is how long to wait before polling the process list
	// to confirm a detached browser actually started (default 2).
	SpawnVerifySeconds int `yaml:"spawn_verify_seconds"`
}

// Dispatcher executes ExecutionSpecs. Safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	browsers *browserResolver
	logger   *slog.Logger

	// spawnVerify is the delay before the post-spawn process poll.
	spawnVerify time.Duration

	// processRunning reports whether a process with the given image name is in
	// the process list. Swappable for tests.
	processRunning func(ctx context.Context, exeName string) bool

	// startDetached spawns the executable as a detached process. Swappable for tests.
	startDetached func(path string, args []string) error
}

// New creates a Dispatcher from config.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	verify := 2 * time.Second
	if cfg.SpawnVerifySeconds > 0 {
		verify = time.Duration(cfg.SpawnVerifySeconds) * time.Second
	}
	return &Dispatcher{
		cfg:            cfg,
		browsers:       newBrowserResolver(lowercaseKeys(cfg.BrowserPaths)),
		logger:         logger.With("component", "dispatch"),
		spawnVerify:    verify,
		processRunning: processInList,
		startDetached:  startDetachedProcess,
	}
}

// Execute runs one ExecutionSpec. It never returns a Go error: every failure
// mode is captured into the result envelope so callers can always serialize it
// into a tool result.
func (d *Dispatcher) Execute(ctx context.Context, spec ExecutionSpec) *ExecutionResult {
	if spec.Command == "" && spec.Script == "" {
		return failure("either command or script must be provided")
	}
	if spec.Command != "" && spec.Script != "" {
		return failure("command and script are mutually exclusive")
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	text := spec.Command
	if text == "" {
		text = spec.Script
	}
	shell := DetectShell(text, spec.Shell)

	// Safety normalization applies only to the basic-interpreter command path,
	// where ambiguous quoting causes OS dialog popups.
	if shell == ShellCmd && spec.Command != "" {
		ruleName, decision := normalizeCommand(spec.Command)
		switch decision.outcome {
		case outcomeReject:
			d.logger.Warn("command rejected by safety rule",
				"rule", ruleName,
				"command", truncate(spec.Command, 120),
			)
			return failure(decision.reason)
		case outcomeLaunchBrowser:
			d.logger.Info("command diverted to detached browser launch",
				"rule", ruleName,
				"browser", decision.launch.exeName,
			)
			return d.launchBrowser(ctx, decision.launch)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if spec.Script != "" {
		return d.runScript(execCtx, spec, shell, timeout)
	}
	return d.runCommand(execCtx, spec, shell, timeout)
}

// runCommand executes raw command text through the selected interpreter.
func (d *Dispatcher) runCommand(ctx context.Context, spec ExecutionSpec, shell Shell, timeout time.Duration) *ExecutionResult {
	bin, args := d.interpreterFor(shell)
	switch shell {
	case ShellPowerShell:
		args = append(args, "-Command", spec.Command)
	case ShellBash:
		args = append(args, "-c", spec.Command)
	default:
		args = append(args, "/C", spec.Command)
	}
	return d.runProcess(ctx, bin, args, spec.WorkDir, timeout)
}

// runScript writes the script to a file and executes the file. A caller-
// specified path is honored; otherwise a freshly named temp file is used and
// removed afterwards.
func (d *Dispatcher) runScript(ctx context.Context, spec ExecutionSpec, shell Shell, timeout time.Duration) *ExecutionResult {
	path := spec.ScriptPath
	if path == "" {
		dir := d.cfg.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		path = filepath.Join(dir, "telepilot-"+uuid.New().String()[:8]+scriptExtension(shell))
		defer os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(spec.Script), 0o600); err != nil {
		return failure(fmt.Sprintf("writing script file: %v", err))
	}

	bin, args := d.interpreterFor(shell)
	switch shell {
	case ShellPowerShell:
		args = append(args, "-File", path)
	case ShellBash:
		args = append(args, path)
	default:
		args = append(args, "/C", path)
	}
	return d.runProcess(ctx, bin, args, spec.WorkDir, timeout)
}

// interpreterFor returns the interpreter binary and its base arguments.
func (d *Dispatcher) interpreterFor(shell Shell) (string, []string) {
	switch shell {
	case ShellPowerShell:
		bin := d.cfg.PowerShellPath
		if bin == "" {
			bin = "powershell"
		}
		return bin, []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass"}
	case ShellBash:
		bin := d.cfg.BashPath
		if bin == "" {
			bin = "bash"
		}
		return bin, nil
	default:
		bin := d.cfg.CmdPath
		if bin == "" {
			bin = "cmd"
		}
		return bin, nil
	}
}

// runProcess runs the interpreter, capturing stdout/stderr and the exit code.
// On timeout the whole process tree is terminated and a timeout-flavored error
// is reported; buffered output up to that point is preserved.
func (d *Dispatcher) runProcess(ctx context.Context, bin string, args []string, workDir string, timeout time.Duration) *ExecutionResult {
	cmd := exec.CommandContext(ctx, bin, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &ExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.ExitCode = -1
			result.Error = fmt.Sprintf("command timed out after %s and was terminated", timeout)
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			result.Error = fmt.Sprintf("exit code %d", result.ExitCode)
		default:
			result.ExitCode = -1
			result.Error = fmt.Sprintf("spawn failed: %v", err)
		}
		d.logger.Debug("process failed",
			"bin", bin,
			"exit_code", result.ExitCode,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", result.Error,
		)
		return result
	}

	result.Success = true
	d.logger.Debug("process completed",
		"bin", bin,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return result
}

// launchBrowser spawns the browser executable directly as a detached process,
// then polls the process list after a short fixed delay to confirm it actually
// started. Going through cmd.exe for this is what hangs.
func (d *Dispatcher) launchBrowser(ctx context.Context, launch browserLaunch) *ExecutionResult {
	path := launch.exePath
	if path == "" {
		path = d.browsers.Resolve(launch.exeName)
	}
	if path == "" {
		return failure(fmt.Sprintf("could not locate %s in standard install locations or PATH; set dispatch.browser_paths in config", launch.exeName))
	}

	if err := d.startDetached(path, launch.args); err != nil {
		return failure(fmt.Sprintf("starting %s: %v", launch.exeName, err))
	}

	select {
	case <-time.After(d.spawnVerify):
	case <-ctx.Done():
		return failure("cancelled while verifying browser launch")
	}

	exe := baseName(path)
	if !d.processRunning(ctx, exe) {
		return failure(fmt.Sprintf("%s was spawned but no matching process was found; the browser did not start", exe))
	}

	return &ExecutionResult{
		Success: true,
		Stdout:  fmt.Sprintf("%s launched (detached) with args %v and verified running", exe, launch.args),
	}
}

func failure(reason string) *ExecutionResult {
	return &ExecutionResult{Success: false, ExitCode: -1, Error: reason}
}

func lowercaseKeys(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
