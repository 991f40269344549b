// Package deps reinstalls the browser agent's local Python dependencies.
// Repair runs at most once per process lifetime; repeat requests are
// acknowledged without rerunning the installer.
package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// repairTimeout is the hard bound on one installer run.
const repairTimeout = 10 * time.Minute

// defaultPackages are installed when no requirements file is configured.
var defaultPackages = []string{"browser-use", "playwright"}

// Report is the outcome of a repair run.
type Report struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// Config holds installer settings.
type Config struct {
	// PythonPath is the interpreter used for pip (default "python").
	PythonPath string `yaml:"python_path"`

	// RequirementsFile, when set, is installed with -r instead of the
	// default package list.
	RequirementsFile string `yaml:"requirements_file"`
}

// Repairer runs pip against the browser agent's environment.
type Repairer struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	attempted bool
	last      *Report
}

// NewRepairer creates a Repairer from config.
func NewRepairer(cfg Config, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{
		cfg:    cfg,
		logger: logger.With("component", "deps"),
	}
}

// Repair installs the dependencies, bounded by a hard timeout. A second call
// within the same process returns the first run's report marked skipped
// instead of reinstalling.
func (r *Repairer) Repair(ctx context.Context, reason string) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempted {
		r.logger.Info("dependency repair already attempted this process, skipping", "reason", reason)
		report := *r.last
		report.Skipped = true
		return &report, nil
	}
	r.attempted = true

	python := r.cfg.PythonPath
	if python == "" {
		python = "python"
	}

	args := []string{"-m", "pip", "install", "--upgrade"}
	if r.cfg.RequirementsFile != "" {
		args = append(args, "-r", r.cfg.RequirementsFile)
	} else {
		args = append(args, defaultPackages...)
	}

	r.logger.Info("running dependency repair",
		"python", python,
		"reason", reason,
		"requirements", r.cfg.RequirementsFile,
	)

	runCtx, cancel := context.WithTimeout(ctx, repairTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, python, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	report := &Report{Output: out.String()}

	switch {
	case err == nil:
		report.Success = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		report.ExitCode = -1
		r.last = report
		return report, fmt.Errorf("dependency repair timed out after %s", repairTimeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			report.ExitCode = exitErr.ExitCode()
		} else {
			report.ExitCode = -1
		}
	}

	r.last = report
	r.logger.Info("dependency repair finished",
		"success", report.Success,
		"exit_code", report.ExitCode,
	)
	return report, nil
}

// Attempted reports whether a repair has run this process.
func (r *Repairer) Attempted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempted
}
