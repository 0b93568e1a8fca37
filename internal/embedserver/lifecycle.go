package embedserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/grovekb/grove/internal/apperr"
)

// startPollInterval/startDeadline bound how long Start waits for the
// detached daemon to finish loading its model.
const (
	startPollInterval = 500 * time.Millisecond
	startDeadline     = 60 * time.Second
)

// Status describes the daemon as seen from the CLI.
type Status struct {
	Running bool
	Model   string
	Dim     int
	PID     int
}

// CurrentStatus probes the daemon with a short timeout.
func CurrentStatus(ctx context.Context) Status {
	client := NewClient(ModelInfo{})
	info, err := client.Status(ctx)
	if err != nil {
		return Status{Running: false}
	}
	st := Status{Running: true, Model: info.Alias, Dim: info.Dimensions}
	if data, err := os.ReadFile(PIDPath()); err == nil {
		fmt.Sscanf(string(data), "%d", &st.PID)
	}
	return st
}

// Start launches the daemon for the given alias, detached from the CLI
// process, and waits until it answers a status call. Idempotent: if a
// daemon is already running (any model) it is left alone and its status is
// returned.
func Start(ctx context.Context, alias string, logPath string) (Status, error) {
	if st := CurrentStatus(ctx); st.Running {
		return st, nil
	}

	model, err := ResolveModel(alias)
	if err != nil {
		return Status{}, err
	}

	exe, err := os.Executable()
	if err != nil {
		return Status{}, fmt.Errorf("%w: locate binary: %v", apperr.ErrServerStartFailure, err)
	}

	cmd := exec.Command(exe, "server", "run", "--model", model.Alias)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = os.Environ()
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			cmd.Stdout = logFile
			cmd.Stderr = logFile
			defer logFile.Close()
		}
	}
	if err := cmd.Start(); err != nil {
		return Status{}, fmt.Errorf("%w: spawn daemon: %v", apperr.ErrServerStartFailure, err)
	}
	// The daemon outlives the CLI; reap it if it exits while we poll.
	go cmd.Wait() //nolint:errcheck

	deadline := time.Now().Add(startDeadline)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-time.After(startPollInterval):
		}
		if st := CurrentStatus(ctx); st.Running {
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("%w: daemon did not become ready within %s (model %s)",
		apperr.ErrServerStartFailure, startDeadline, model.Alias)
}

// StopDaemon asks a running daemon to terminate and waits for the socket to
// disappear. Idempotent when nothing is running; stale socket and pid files
// from a crashed daemon are cleaned up.
func StopDaemon(ctx context.Context) error {
	client := NewClient(ModelInfo{})
	if err := client.Stop(ctx); err != nil {
		if errors.Is(err, apperr.ErrServerUnavailable) {
			_ = os.Remove(SocketPath())
			_ = os.Remove(PIDPath())
			return nil
		}
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if st := CurrentStatus(ctx); !st.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startPollInterval):
		}
	}
	return fmt.Errorf("%w: daemon did not stop", apperr.ErrTimeout)
}
