package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcription-gateway/internal/capture"
	"github.com/lexiqai/transcription-gateway/internal/config"
	"github.com/lexiqai/transcription-gateway/internal/observability"
	"github.com/lexiqai/transcription-gateway/internal/ui"
)

func main() {
	cfg, err := config.LoadCapture()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to a file unless headless
	var logOut io.Writer = os.Stderr
	if !cfg.Headless {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	observability.InitLoggerWithWriter(cfg.LogLevel, cfg.LogPretty, logOut)
	logger := observability.WithCorrelationID(observability.NewCorrelationID())

	var device capture.AudioDevice
	if cfg.InputFile != "" {
		device = capture.NewFileDevice(cfg.InputFile, true)
	} else {
		device = capture.NewFFmpegDevice(cfg.FFmpeg)
	}

	logger.Info().
		Str("server_url", cfg.ServerURL).
		Bool("diarize", cfg.Diarize).
		Str("input_file", cfg.InputFile).
		Bool("headless", cfg.Headless).
		Msg("Capture client starting")

	if cfg.Headless {
		os.Exit(runHeadless(cfg, device, logger))
	}
	os.Exit(runTUI(cfg, device, logger))
}

func runTUI(cfg *config.CaptureConfig, device capture.AudioDevice, logger zerolog.Logger) int {
	bridge := &ui.Bridge{}
	ctrl := capture.NewController(device, capture.NewWebSocketDialer(), bridge, capture.ConfigFromEnv(cfg, logger))
	defer ctrl.Close()

	p := tea.NewProgram(ui.New(ctrl, cfg.ServerURL), tea.WithAltScreen())
	bridge.Attach(p)

	if _, err := p.Run(); err != nil {
		logger.Error().Err(err).Msg("TUI failed")
		fmt.Fprintf(os.Stderr, "TUI failed: %v\n", err)
		return 1
	}
	return 0
}

// runHeadless records until interrupted or the input ends, printing each
// finalized segment to stdout.
func runHeadless(cfg *config.CaptureConfig, device capture.AudioDevice, logger zerolog.Logger) int {
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	listener := capture.ListenerFunc(func(e capture.Event) {
		switch e.Kind {
		case capture.EventSegment:
			fmt.Printf("[%8.2f - %8.2f] %s: %s\n", e.Segment.Start, e.Segment.End, e.Segment.Speaker, e.Segment.Text)
		case capture.EventReconnect:
			logger.Warn().Int("attempt", e.Attempt).Dur("delay", e.Delay).Msg("Reconnecting")
		case capture.EventNotice:
			logger.Warn().Str("message", e.Message).Msg("Server notice")
		case capture.EventStatus:
			switch {
			case e.Status == capture.StatusIdle:
				finish(nil)
			case e.Status == capture.StatusError && !e.Retrying:
				finish(e.Err)
			}
		}
	})

	ctrl := capture.NewController(device, capture.NewWebSocketDialer(), listener, capture.ConfigFromEnv(cfg, logger))
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to start capture")
		return 1
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("Stopping capture...")
		if err := ctrl.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Stop failed")
			return 0
		}
		select {
		case err := <-done:
			if err != nil {
				return 1
			}
		case <-quit:
			logger.Warn().Msg("Forced exit")
		}
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("Capture ended with error")
			return 1
		}
	}
	return 0
}
