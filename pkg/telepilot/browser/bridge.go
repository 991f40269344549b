// Package browser bridges to the external browser-automation agent: a Python
// process that reads one JSON task from standard input and writes one JSON
// result to standard output.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/telepilotdev/telepilot/pkg/telepilot/deps"
)

// Task is the JSON payload sent to the agent on stdin.
type Task struct {
	URL        string `json:"url"`
	Task       string `json:"task,omitempty"`
	MaxSteps   int    `json:"max_steps"`
	Headless   bool   `json:"headless"`
	UseVision  bool   `json:"use_vision,omitempty"`
	Provider   string `json:"llm_provider,omitempty"`
	Model      string `json:"llm_model,omitempty"`
	Screenshot bool   `json:"screenshot,omitempty"`
	FullPage   bool   `json:"full_page,omitempty"`
}

// Result is the JSON payload the agent writes to stdout.
type Result struct {
	Success        bool   `json:"success"`
	FinalResult    string `json:"final_result,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Config holds bridge settings.
type Config struct {
	// PythonPath is the interpreter for the runner (default "python").
	PythonPath string `yaml:"python_path"`

	// RunnerScript is the path to the agent's runner script.
	RunnerScript string `yaml:"runner_script"`

	// TimeoutSeconds bounds one agent run (default 600).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Repairer remediates a broken agent environment between retry attempts.
type Repairer interface {
	Repair(ctx context.Context, reason string) (*deps.Report, error)
}

// Bridge runs browse tasks through the external agent process.
type Bridge struct {
	cfg      Config
	repairer Repairer
	logger   *slog.Logger

	// runProcess is swappable for tests.
	runProcess func(ctx context.Context, payload []byte) ([]byte, error)
}

// NewBridge creates a Bridge. repairer may be nil to disable remediation.
func NewBridge(cfg Config, repairer Repairer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		cfg:      cfg,
		repairer: repairer,
		logger:   logger.With("component", "browser"),
	}
	b.runProcess = b.spawnRunner
	return b
}

// recoverableError reports whether the agent's failure is one the dependency
// installer can remediate.
func recoverableError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "module not found") ||
		strings.Contains(lower, "no module named") ||
		strings.Contains(lower, "browser disconnected")
}

// Run sends the task to the agent and parses its result. Recoverable failures
// trigger a dependency repair followed by exactly one retry.
func (b *Bridge) Run(ctx context.Context, task Task) (*Result, error) {
	res, err := b.runOnce(ctx, task)
	if err == nil && res.Success {
		return res, nil
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	} else {
		msg = res.Error
	}
	if b.repairer == nil || !recoverableError(msg) {
		return res, err
	}

	b.logger.Warn("recoverable browse failure, repairing dependencies and retrying once", "error", msg)
	if _, repairErr := b.repairer.Repair(ctx, "browse failed: "+msg); repairErr != nil {
		b.logger.Error("dependency repair failed", "error", repairErr)
		return res, err
	}
	return b.runOnce(ctx, task)
}

// runOnce performs one agent invocation.
func (b *Bridge) runOnce(ctx context.Context, task Task) (*Result, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encoding browse task: %w", err)
	}

	b.logger.Info("running browse task",
		"url", task.URL,
		"max_steps", task.MaxSteps,
		"headless", task.Headless,
	)

	start := time.Now()
	out, err := b.runProcess(ctx, payload)
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(bytes.TrimSpace(lastJSONLine(out)), &res); err != nil {
		return nil, fmt.Errorf("parsing agent result: %w (output: %s)", err, truncate(string(out), 200))
	}

	b.logger.Info("browse task finished",
		"success", res.Success,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &res, nil
}

// spawnRunner starts the Python runner, writes the payload to stdin, and
// returns its stdout.
func (b *Bridge) spawnRunner(ctx context.Context, payload []byte) ([]byte, error) {
	python := b.cfg.PythonPath
	if python == "" {
		python = "python"
	}
	if b.cfg.RunnerScript == "" {
		return nil, errors.New("browser runner script not configured")
	}

	timeout := time.Duration(b.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, python, b.cfg.RunnerScript)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("browse agent timed out after %s", timeout)
		}
		// The agent reports structured failures on stdout even on nonzero
		// exit; fall through to parsing when it produced output.
		if stdout.Len() > 0 {
			return stdout.Bytes(), nil
		}
		return nil, fmt.Errorf("browse agent failed: %v (stderr: %s)", err, truncate(stderr.String(), 200))
	}
	return stdout.Bytes(), nil
}

// lastJSONLine returns the last non-empty line of output. The agent may log
// progress lines before the final JSON result.
func lastJSONLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 && line[0] == '{' {
			return line
		}
	}
	return bytes.TrimSpace(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
