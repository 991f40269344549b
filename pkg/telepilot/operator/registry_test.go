package operator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/telepilotdev/telepilot/pkg/telepilot/browser"
	"github.com/telepilotdev/telepilot/pkg/telepilot/deps"
	"github.com/telepilotdev/telepilot/pkg/telepilot/dispatch"
	"github.com/telepilotdev/telepilot/pkg/telepilot/media"
)

type fakeRunner struct {
	lastSpec dispatch.ExecutionSpec
	result   *dispatch.ExecutionResult
}

func (f *fakeRunner) Execute(ctx context.Context, spec dispatch.ExecutionSpec) *dispatch.ExecutionResult {
	f.lastSpec = spec
	if f.result != nil {
		return f.result
	}
	return &dispatch.ExecutionResult{Success: true, Stdout: "ran: " + spec.Command}
}

type fakeCapturer struct {
	screenPath string
	cameraOpts media.CameraOptions
	err        error
}

func (f *fakeCapturer) CaptureScreen(ctx context.Context, filePath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.screenPath = filePath
	return "/tmp/shot.png", nil
}

func (f *fakeCapturer) CaptureCamera(ctx context.Context, opts media.CameraOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.cameraOpts = opts
	return "/tmp/photo.jpg", nil
}

type fakeBrowser struct {
	calls    int
	lastTask browser.Task
	result   *browser.Result
	err      error
}

func (f *fakeBrowser) Run(ctx context.Context, task browser.Task) (*browser.Result, error) {
	f.calls++
	f.lastTask = task
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &browser.Result{Success: true, FinalResult: "browsed"}, nil
}

type fakeRepairer struct {
	calls  int
	report *deps.Report
}

func (f *fakeRepairer) Repair(ctx context.Context, reason string) (*deps.Report, error) {
	f.calls++
	if f.report != nil {
		return f.report, nil
	}
	return &deps.Report{Success: true, Output: "installed"}, nil
}

func newTestRegistry() (*Registry, *fakeRunner, *fakeCapturer, *fakeBrowser, *fakeRepairer) {
	runner := &fakeRunner{}
	capturer := &fakeCapturer{}
	siteBrowser := &fakeBrowser{}
	repairer := &fakeRepairer{}
	r := NewRegistry(runner, capturer, siteBrowser, repairer, discardLogger())
	return r, runner, capturer, siteBrowser, repairer
}

func TestInvokeUnknownTool(t *testing.T) {
	r, _, _, _, _ := newTestRegistry()

	env := r.Invoke(context.Background(), "format_disk", `{}`)
	if env.Success {
		t.Fatal("unknown tool must not succeed")
	}
	if env.Error != "Unknown tool: format_disk" {
		t.Errorf("error = %q", env.Error)
	}
}

func TestInvokeRunCommand(t *testing.T) {
	r, runner, _, _, _ := newTestRegistry()

	env := r.Invoke(context.Background(), "run_command",
		`{"command":"dir","shell":"cmd","timeout_ms":5000,"cwd":"C:\\work"}`)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if runner.lastSpec.Command != "dir" {
		t.Errorf("command = %q", runner.lastSpec.Command)
	}
	if runner.lastSpec.Shell != dispatch.ShellCmd {
		t.Errorf("shell = %q", runner.lastSpec.Shell)
	}
	if runner.lastSpec.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", runner.lastSpec.Timeout)
	}
	if runner.lastSpec.WorkDir != `C:\work` {
		t.Errorf("workdir = %q", runner.lastSpec.WorkDir)
	}
}

func TestInvokeRunCommandStructuredShellOverride(t *testing.T) {
	r, runner, _, _, _ := newTestRegistry()

	r.Invoke(context.Background(), "run_command",
		`{"command":"Get-Date","use_structured_shell":true,"shell":"cmd"}`)
	if runner.lastSpec.Shell != dispatch.ShellPowerShell {
		t.Errorf("use_structured_shell must force powershell, got %q", runner.lastSpec.Shell)
	}
}

func TestInvokeRunCommandFoldsStderr(t *testing.T) {
	r, runner, _, _, _ := newTestRegistry()
	runner.result = &dispatch.ExecutionResult{
		Success:  false,
		Stdout:   "partial",
		Stderr:   "access denied",
		ExitCode: 5,
		Error:    "exit code 5",
	}

	env := r.Invoke(context.Background(), "run_command", `{"command":"del secret"}`)
	if env.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(env.Output, "access denied") {
		t.Errorf("stderr missing from output: %q", env.Output)
	}
	if env.ExitCode != 5 {
		t.Errorf("exit code = %d", env.ExitCode)
	}
}

func TestInvokeBrowseSiteValidation(t *testing.T) {
	r, _, _, siteBrowser, _ := newTestRegistry()

	t.Run("missing url", func(t *testing.T) {
		env := r.Invoke(context.Background(), "browse_site", `{"task":"read"}`)
		if env.Success {
			t.Fatal("expected failure")
		}
		if siteBrowser.calls != 0 {
			t.Error("bridge must not be invoked for invalid input")
		}
	})

	t.Run("non-http scheme", func(t *testing.T) {
		env := r.Invoke(context.Background(), "browse_site", `{"url":"file:///etc/passwd"}`)
		if env.Success || !strings.Contains(env.Error, "http") {
			t.Errorf("unexpected result: %+v", env)
		}
		if siteBrowser.calls != 0 {
			t.Error("bridge must not be invoked for non-http URLs")
		}
	})
}

func TestInvokeBrowseSiteDefaults(t *testing.T) {
	r, _, _, siteBrowser, _ := newTestRegistry()

	env := r.Invoke(context.Background(), "browse_site", `{"url":"https://example.com","task":"read headline"}`)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if siteBrowser.lastTask.MaxSteps != 25 {
		t.Errorf("max steps default = %d, want 25", siteBrowser.lastTask.MaxSteps)
	}
	if !siteBrowser.lastTask.Headless {
		t.Error("headless must default to true")
	}
}

func TestInvokeBrowseSiteHeadlessOptOut(t *testing.T) {
	r, _, _, siteBrowser, _ := newTestRegistry()

	r.Invoke(context.Background(), "browse_site", `{"url":"https://example.com","headless":false}`)
	if siteBrowser.lastTask.Headless {
		t.Error("explicit headless=false must be honored")
	}
}

func TestInvokeCaptureScreen(t *testing.T) {
	r, _, _, _, _ := newTestRegistry()

	env := r.Invoke(context.Background(), "capture_screen", `{"caption":"desktop now"}`)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if env.FilePath != "/tmp/shot.png" {
		t.Errorf("file path = %q", env.FilePath)
	}
	if env.Caption != "desktop now" {
		t.Errorf("caption = %q", env.Caption)
	}
}

func TestInvokeCaptureScreenFailure(t *testing.T) {
	r, _, capturer, _, _ := newTestRegistry()
	capturer.err = errors.New("no display")

	env := r.Invoke(context.Background(), "capture_screen", `{}`)
	if env.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(env.Error, "no display") {
		t.Errorf("error = %q", env.Error)
	}
}

func TestInvokeRepairDependencies(t *testing.T) {
	r, _, _, _, repairer := newTestRegistry()

	env := r.Invoke(context.Background(), "repair_dependencies", `{"reason":"module not found"}`)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if repairer.calls != 1 {
		t.Errorf("repairer called %d times, want 1", repairer.calls)
	}
}

func TestInvokeMalformedArguments(t *testing.T) {
	r, runner, _, _, _ := newTestRegistry()

	env := r.Invoke(context.Background(), "run_command", `{"command": 42}`)
	if env.Success {
		t.Fatal("malformed arguments must fail")
	}
	if !strings.Contains(env.Error, "invalid tool arguments") {
		t.Errorf("error = %q", env.Error)
	}
	if runner.lastSpec.Command != "" {
		t.Error("runner must not be invoked on parse failure")
	}
}

func TestInvokeEmptyArgumentsDecodeAsEmptyObject(t *testing.T) {
	r, _, _, _, repairer := newTestRegistry()

	env := r.Invoke(context.Background(), "repair_dependencies", "")
	if !env.Success {
		t.Fatalf("empty arguments should decode as {}: %q", env.Error)
	}
	if repairer.calls != 1 {
		t.Errorf("repairer called %d times, want 1", repairer.calls)
	}
}
