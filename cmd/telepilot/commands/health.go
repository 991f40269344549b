package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/telepilotdev/telepilot/pkg/telepilot/channels/telegram"
)

// newHealthCmd creates the `telepilot health` command. Used by Docker
// HEALTHCHECK and monitoring.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the configured stack is reachable",
		Long: `Verifies the Telegram credentials and reports whether the local tool
stack (Python for the browser agent, ffmpeg for camera capture) is present.
Exits nonzero when the transport check fails.`,
		RunE: runHealth,
	}
}

type healthReport struct {
	Status   string `json:"status"`
	Telegram string `json:"telegram"`
	Python   bool   `json:"python"`
	FFmpeg   bool   `json:"ffmpeg"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	report := healthReport{Status: "ok", Telegram: "ok"}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	channel := telegram.New(cfg.Telegram, logger)
	if err := channel.Connect(ctx); err != nil {
		report.Status = "degraded"
		report.Telegram = err.Error()
	} else {
		channel.Disconnect()
	}

	python := cfg.Browser.PythonPath
	if python == "" {
		python = "python"
	}
	_, pyErr := exec.LookPath(python)
	report.Python = pyErr == nil

	ffmpeg := cfg.Media.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	_, ffErr := exec.LookPath(ffmpeg)
	report.FFmpeg = ffErr == nil

	out, _ := json.Marshal(report)
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if report.Status != "ok" {
		return fmt.Errorf("transport check failed: %s", report.Telegram)
	}
	return nil
}
