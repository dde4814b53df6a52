package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegDevice captures the microphone as s16le PCM through ffmpeg.
type FFmpegDevice struct {
	command string
}

func NewFFmpegDevice(command string) *FFmpegDevice {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegDevice{command: command}
}

func (d *FFmpegDevice) Open(ctx context.Context, cfg AudioConfig) (AudioStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	// the process outlives the open call, so it is not bound to ctx
	cmd := exec.Command(d.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Wait closes a pipe from StdoutPipe as soon as ffmpeg exits, dropping
	// whatever it flushed on interrupt. With our own pipe the reader sees EOF
	// only after the last byte.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	stdoutW.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// ffmpeg exits almost immediately when the device is missing or access is denied
	select {
	case err := <-waitErr:
		stdout.Close()
		if err != nil {
			return nil, fmt.Errorf("microphone unavailable: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("microphone unavailable: ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		stdout.Close()
		return nil, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close stops ffmpeg and releases the pipe, discarding unread audio.
func (s *ffmpegStream) Close() error {
	err := s.Stop()
	s.closeOnce.Do(func() {
		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
			err = closeErr
		}
	})
	return err
}

// Stop interrupts ffmpeg so it flushes, killing it if it does not exit
// promptly. The pipe stays open so the reader drains what was flushed and
// then sees EOF.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeExitErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			_ = s.process.Kill()
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeExitErr(err)
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// An interrupted ffmpeg exits non-zero; that is a normal stop.
func normalizeExitErr(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}
