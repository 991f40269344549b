package dispatch

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestDispatcher returns a dispatcher whose browser spawn path is faked so
// no real process is ever started by these tests.
func newTestDispatcher(t *testing.T) (*Dispatcher, *spawnRecorder) {
	t.Helper()
	rec := &spawnRecorder{running: true}
	d := New(Config{}, testLogger())
	d.spawnVerify = time.Millisecond
	d.startDetached = rec.start
	d.processRunning = rec.poll
	return d, rec
}

type spawnRecorder struct {
	started []string
	polled  int
	running bool
	failure error
}

func (r *spawnRecorder) start(path string, args []string) error {
	r.started = append(r.started, path)
	return r.failure
}

func (r *spawnRecorder) poll(ctx context.Context, exeName string) bool {
	r.polled++
	return r.running
}

func TestExecuteRejectsEmptyStartWithoutSpawning(t *testing.T) {
	d, rec := newTestDispatcher(t)

	res := d.Execute(context.Background(), ExecutionSpec{Command: "start"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "Refusing to run") {
		t.Errorf("error %q missing 'Refusing to run'", res.Error)
	}
	if len(rec.started) != 0 {
		t.Errorf("no process should have been spawned, got %v", rec.started)
	}
}

func TestExecuteRejectsLeadingSeparatorURLWithSuggestion(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), ExecutionSpec{Command: `\\https://example.com`})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "https://example.com") {
		t.Errorf("error %q missing corrected address", res.Error)
	}
}

func TestExecuteValidatesSpec(t *testing.T) {
	d, _ := newTestDispatcher(t)

	t.Run("empty spec", func(t *testing.T) {
		res := d.Execute(context.Background(), ExecutionSpec{})
		if res.Success || !strings.Contains(res.Error, "either command or script") {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("both command and script", func(t *testing.T) {
		res := d.Execute(context.Background(), ExecutionSpec{Command: "dir", Script: "dir"})
		if res.Success || !strings.Contains(res.Error, "mutually exclusive") {
			t.Errorf("unexpected result: %+v", res)
		}
	})
}

func TestExecuteDivertsBrowserLaunch(t *testing.T) {
	t.Run("verified launch succeeds", func(t *testing.T) {
		d, rec := newTestDispatcher(t)
		d.browsers.overrides = map[string]string{"chrome.exe": `C:\fake\chrome.exe`}

		res := d.Execute(context.Background(), ExecutionSpec{Command: "chrome.exe https://example.com"})
		if !res.Success {
			t.Fatalf("expected success, got error %q", res.Error)
		}
		if len(rec.started) != 1 || rec.started[0] != `C:\fake\chrome.exe` {
			t.Errorf("spawned %v, want the resolved chrome path", rec.started)
		}
		if rec.polled == 0 {
			t.Error("process list was never polled after spawn")
		}
	})

	t.Run("missing process after spawn reports failure", func(t *testing.T) {
		d, rec := newTestDispatcher(t)
		rec.running = false
		d.browsers.overrides = map[string]string{"chrome.exe": `C:\fake\chrome.exe`}

		res := d.Execute(context.Background(), ExecutionSpec{Command: "chrome.exe --new-window"})
		if res.Success {
			t.Fatal("expected failure when process never appears")
		}
		if !strings.Contains(res.Error, "did not start") {
			t.Errorf("error %q should say the browser did not start", res.Error)
		}
	})

	t.Run("unresolvable browser reports failure", func(t *testing.T) {
		d, rec := newTestDispatcher(t)
		d.browsers.statFunc = func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
		d.browsers.lookPath = func(string) (string, error) { return "", os.ErrNotExist }

		res := d.Execute(context.Background(), ExecutionSpec{Command: "chrome.exe https://example.com"})
		if res.Success {
			t.Fatal("expected failure for unresolvable browser")
		}
		if len(rec.started) != 0 {
			t.Errorf("nothing should have been spawned, got %v", rec.started)
		}
	})
}

func TestExecuteRunsBashCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash path exercised on unix hosts only")
	}
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), ExecutionSpec{
		Command: "echo hello && echo oops >&2",
		Shell:   ShellBash,
		Timeout: 10 * time.Second,
	})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Errorf("stdout %q missing output", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr %q missing output", res.Stderr)
	}
}

func TestExecuteScriptMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash path exercised on unix hosts only")
	}
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), ExecutionSpec{
		Script:  "echo line1\necho line2\n",
		Shell:   ShellBash,
		Timeout: 10 * time.Second,
	})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if !strings.Contains(res.Stdout, "line1") || !strings.Contains(res.Stdout, "line2") {
		t.Errorf("stdout %q missing script output", res.Stdout)
	}
}

func TestExecuteTimeoutTerminatesProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash path exercised on unix hosts only")
	}
	d, _ := newTestDispatcher(t)

	start := time.Now()
	res := d.Execute(context.Background(), ExecutionSpec{
		Command: "sleep 30",
		Shell:   ShellBash,
		Timeout: 500 * time.Millisecond,
	})
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error %q should be timeout-flavored", res.Error)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("process was not terminated promptly, took %s", elapsed)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash path exercised on unix hosts only")
	}
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), ExecutionSpec{
		Command: "exit 3",
		Shell:   ShellBash,
	})
	if res.Success {
		t.Fatal("expected failure for nonzero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}
