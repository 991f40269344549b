// registry.go maps tool names to their handlers and normalizes every outcome
// into a uniform result envelope so the orchestrator can always serialize a
// tool result. Dispatch is a closed switch over the known tools; unknown names
// produce a structured error, never a panic.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/telepilotdev/telepilot/pkg/telepilot/browser"
	"github.com/telepilotdev/telepilot/pkg/telepilot/deps"
	"github.com/telepilotdev/telepilot/pkg/telepilot/dispatch"
	"github.com/telepilotdev/telepilot/pkg/telepilot/media"
)

// ResultEnvelope is the uniform shape every tool invocation resolves to.
type ResultEnvelope struct {
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
	Caption      string `json:"caption,omitempty"`
	ExitCode     int    `json:"exit_code,omitempty"`
	Deferred     bool   `json:"deferred,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

// CommandRunner executes shell commands and scripts.
type CommandRunner interface {
	Execute(ctx context.Context, spec dispatch.ExecutionSpec) *dispatch.ExecutionResult
}

// MediaCapturer captures the screen and camera.
type MediaCapturer interface {
	CaptureScreen(ctx context.Context, filePath string) (string, error)
	CaptureCamera(ctx context.Context, opts media.CameraOptions) (string, error)
}

// SiteBrowser drives the external browser-automation agent.
type SiteBrowser interface {
	Run(ctx context.Context, task browser.Task) (*browser.Result, error)
}

// DependencyRepairer reinstalls the browser agent's local dependencies.
type DependencyRepairer interface {
	Repair(ctx context.Context, reason string) (*deps.Report, error)
}

// Registry routes tool invocations to their handlers.
type Registry struct {
	runner   CommandRunner
	capturer MediaCapturer
	browser  SiteBrowser
	repairer DependencyRepairer
	logger   *slog.Logger
}

// NewRegistry creates a Registry over the given collaborators.
func NewRegistry(runner CommandRunner, capturer MediaCapturer, siteBrowser SiteBrowser, repairer DependencyRepairer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runner:   runner,
		capturer: capturer,
		browser:  siteBrowser,
		repairer: repairer,
		logger:   logger.With("component", "registry"),
	}
}

// Invoke runs the named tool with JSON-serialized arguments. It never returns
// a Go error: failures are folded into the envelope so the reasoning service,
// not the end user, is the first consumer of every tool outcome.
func (r *Registry) Invoke(ctx context.Context, name, argsJSON string) ResultEnvelope {
	start := time.Now()
	var env ResultEnvelope

	switch name {
	case "run_command":
		env = r.runCommand(ctx, argsJSON)
	case "capture_screen":
		env = r.captureScreen(ctx, argsJSON)
	case "capture_camera_photo":
		env = r.captureCameraPhoto(ctx, argsJSON)
	case "browse_site":
		env = r.browseSite(ctx, argsJSON)
	case "repair_dependencies":
		env = r.repairDependencies(ctx, argsJSON)
	default:
		env = ResultEnvelope{Success: false, Error: "Unknown tool: " + name}
	}

	r.logger.Info("tool invoked",
		"tool", name,
		"success", env.Success,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return env
}

// parseToolArgs unmarshals tool arguments. Empty arguments decode as an empty
// object, since some providers omit "{}" for parameterless calls.
func parseToolArgs(argsJSON string, v any) error {
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argsJSON), v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func (r *Registry) runCommand(ctx context.Context, argsJSON string) ResultEnvelope {
	var args runCommandArgs
	if err := parseToolArgs(argsJSON, &args); err != nil {
		return ResultEnvelope{Success: false, Error: err.Error()}
	}

	shell := dispatch.ParseShell(args.Shell)
	if args.UseStructuredShell {
		shell = dispatch.ShellPowerShell
	}

	timeout := time.Duration(args.TimeoutMs) * time.Millisecond
	spec := dispatch.ExecutionSpec{
		Command:    args.Command,
		Script:     args.Script,
		Shell:      shell,
		ScriptPath: args.FilePath,
		WorkDir:    args.Cwd,
		Timeout:    timeout,
	}

	res := r.runner.Execute(ctx, spec)

	output := res.Stdout
	if res.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += "[stderr] " + res.Stderr
	}
	return ResultEnvelope{
		Success:  res.Success,
		Output:   output,
		Error:    res.Error,
		ExitCode: res.ExitCode,
	}
}

func (r *Registry) captureScreen(ctx context.Context, argsJSON string) ResultEnvelope {
	var args captureScreenArgs
	if err := parseToolArgs(argsJSON, &args); err != nil {
		return ResultEnvelope{Success: false, Error: err.Error()}
	}

	path, err := r.capturer.CaptureScreen(ctx, args.FilePath)
	if err != nil {
		return ResultEnvelope{Success: false, Error: fmt.Sprintf("screen capture failed: %v", err)}
	}
	return ResultEnvelope{
		Success:  true,
		Output:   "screenshot saved to " + path,
		FilePath: path,
		Caption:  args.Caption,
	}
}

func (r *Registry) captureCameraPhoto(ctx context.Context, argsJSON string) ResultEnvelope {
	var args captureCameraArgs
	if err := parseToolArgs(argsJSON, &args); err != nil {
		return ResultEnvelope{Success: false, Error: err.Error()}
	}

	path, err := r.capturer.CaptureCamera(ctx, media.CameraOptions{
		Device:   args.DeviceName,
		Width:    args.Width,
		Height:   args.Height,
		FPS:      args.FPS,
		Format:   args.Format,
		FilePath: args.FilePath,
	})
	if err != nil {
		return ResultEnvelope{Success: false, Error: fmt.Sprintf("camera capture failed: %v", err)}
	}
	return ResultEnvelope{
		Success:  true,
		Output:   "photo saved to " + path,
		FilePath: path,
		Caption:  args.Caption,
	}
}

func (r *Registry) browseSite(ctx context.Context, argsJSON string) ResultEnvelope {
	var args browseSiteArgs
	if err := parseToolArgs(argsJSON, &args); err != nil {
		return ResultEnvelope{Success: false, Error: err.Error()}
	}

	if args.URL == "" {
		return ResultEnvelope{Success: false, Error: "browse_site requires a url"}
	}
	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ResultEnvelope{Success: false, Error: fmt.Sprintf("browse_site only accepts http/https URLs, got %q", args.URL)}
	}

	task := browser.Task{
		URL:        args.URL,
		Task:       args.Task,
		MaxSteps:   args.MaxSteps,
		Headless:   true,
		UseVision:  args.UseVision,
		Provider:   args.LLMProvider,
		Model:      args.LLMModel,
		Screenshot: args.Screenshot,
		FullPage:   args.FullPage,
	}
	if args.MaxSteps <= 0 {
		task.MaxSteps = 25
	}
	if args.Headless != nil {
		task.Headless = *args.Headless
	}

	res, err := r.browser.Run(ctx, task)
	if err != nil {
		return ResultEnvelope{Success: false, Error: fmt.Sprintf("browse failed: %v", err)}
	}
	if !res.Success {
		return ResultEnvelope{Success: false, Error: res.Error, FilePath: res.ScreenshotPath}
	}
	return ResultEnvelope{
		Success:  true,
		Output:   res.FinalResult,
		FilePath: res.ScreenshotPath,
		Caption:  args.Caption,
	}
}

func (r *Registry) repairDependencies(ctx context.Context, argsJSON string) ResultEnvelope {
	var args repairDependenciesArgs
	if err := parseToolArgs(argsJSON, &args); err != nil {
		return ResultEnvelope{Success: false, Error: err.Error()}
	}

	report, err := r.repairer.Repair(ctx, args.Reason)
	if err != nil {
		return ResultEnvelope{Success: false, Error: fmt.Sprintf("dependency repair failed: %v", err)}
	}
	return ResultEnvelope{
		Success:  report.Success,
		Output:   report.Output,
		ExitCode: report.ExitCode,
	}
}
