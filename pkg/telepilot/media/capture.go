// Package media captures the machine's screen and camera through external
// capture commands.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// captureTimeout bounds one capture command.
const captureTimeout = 30 * time.Second

// CameraOptions configures a camera capture.
type CameraOptions struct {
	Device   string
	Width    int
	Height   int
	FPS      int
	Format   string // "jpg" or "png"
	FilePath string
}

// Config holds capture settings.
type Config struct {
	// ScreenshotCommand overrides the platform default. "{path}" is replaced
	// with the output file.
	ScreenshotCommand string `yaml:"screenshot_command"`

	// FFmpegPath is the ffmpeg binary used for camera capture (default "ffmpeg").
	FFmpegPath string `yaml:"ffmpeg_path"`

	// OutputDir is where captures land when the caller gives no path.
	// Defaults to the system temp directory.
	OutputDir string `yaml:"output_dir"`
}

// Capturer runs the capture commands.
type Capturer struct {
	cfg    Config
	logger *slog.Logger

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, name string, args ...string) error
}

// NewCapturer creates a Capturer from config.
func NewCapturer(cfg Config, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capturer{
		cfg:    cfg,
		logger: logger.With("component", "media"),
	}
	c.runCommand = c.execCapture
	return c
}

// CaptureScreen takes a screenshot, saving it to filePath (or a generated
// temp path when empty), and returns the saved path.
func (c *Capturer) CaptureScreen(ctx context.Context, filePath string) (string, error) {
	path := filePath
	if path == "" {
		path = c.outputPath("screen", ".png")
	}

	name, args, err := c.screenshotCommand(path)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	if err := c.runCommand(runCtx, name, args...); err != nil {
		return "", fmt.Errorf("screenshot command failed: %w", err)
	}
	if err := c.verifyOutput(path); err != nil {
		return "", err
	}

	c.logger.Info("screen captured", "path", path)
	return path, nil
}

// CaptureCamera takes a single frame from the camera via ffmpeg and returns
// the saved path.
func (c *Capturer) CaptureCamera(ctx context.Context, opts CameraOptions) (string, error) {
	format := opts.Format
	if format != "png" {
		format = "jpg"
	}
	path := opts.FilePath
	if path == "" {
		path = c.outputPath("camera", "."+format)
	}

	ffmpeg := c.cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	args := cameraArgs(opts, path)

	runCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	if err := c.runCommand(runCtx, ffmpeg, args...); err != nil {
		return "", fmt.Errorf("camera capture failed: %w", err)
	}
	if err := c.verifyOutput(path); err != nil {
		return "", err
	}

	c.logger.Info("camera photo captured", "path", path, "device", opts.Device)
	return path, nil
}

// screenshotCommand returns the capture command for this platform.
func (c *Capturer) screenshotCommand(path string) (string, []string, error) {
	if c.cfg.ScreenshotCommand != "" {
		fields := strings.Fields(strings.ReplaceAll(c.cfg.ScreenshotCommand, "{path}", path))
		if len(fields) == 0 {
			return "", nil, fmt.Errorf("screenshot_command is empty after expansion")
		}
		return fields[0], fields[1:], nil
	}

	switch runtime.GOOS {
	case "windows":
		// Rasterize the virtual screen through .NET; no external tool needed.
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms,System.Drawing; `+
			`$b = [System.Windows.Forms.SystemInformation]::VirtualScreen; `+
			`$img = New-Object System.Drawing.Bitmap $b.Width, $b.Height; `+
			`$g = [System.Drawing.Graphics]::FromImage($img); `+
			`$g.CopyFromScreen($b.Left, $b.Top, 0, 0, $img.Size); `+
			`$img.Save('%s')`, path)
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}, nil
	case "darwin":
		return "screencapture", []string{"-x", path}, nil
	default:
		return "scrot", []string{path}, nil
	}
}

// cameraArgs builds the ffmpeg arguments for a single-frame grab.
func cameraArgs(opts CameraOptions, path string) []string {
	args := []string{"-y"}

	switch runtime.GOOS {
	case "windows":
		device := opts.Device
		if device == "" {
			device = "0"
		}
		args = append(args, "-f", "dshow", "-i", "video="+device)
	case "darwin":
		device := opts.Device
		if device == "" {
			device = "0"
		}
		args = append(args, "-f", "avfoundation", "-i", device)
	default:
		device := opts.Device
		if device == "" {
			device = "/dev/video0"
		}
		args = append(args, "-f", "v4l2", "-i", device)
	}

	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
	}
	if opts.FPS > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", opts.FPS))
	}

	return append(args, "-frames:v", "1", path)
}

// outputPath builds a unique capture path in the configured output directory.
func (c *Capturer) outputPath(prefix, ext string) string {
	dir := c.cfg.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("telepilot-%s-%s%s", prefix, uuid.New().String()[:8], ext))
}

// verifyOutput confirms the capture produced a non-empty file.
func (c *Capturer) verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("capture produced no file at %s: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("capture produced an empty file at %s", path)
	}
	return nil
}

// execCapture runs a capture command, folding stderr into the error.
func (c *Capturer) execCapture(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%v: %s", err, msg)
		}
		return err
	}
	return nil
}
