// Package procrunner runs shell commands for the update executor's
// git/docker-compose pipeline, bounding each one with a timeout and
// truncating failed-command diagnostics the way the updater sidecar does.
package procrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultTimeout matches the sidecar's default per-command timeout.
const DefaultTimeout = 120 * time.Second

// maxStderrLog caps how much of a failed command's stderr gets logged.
const maxStderrLog = 500

// Runner executes shell commands rooted at a working directory.
type Runner struct {
	workDir string
	logger  *slog.Logger
}

// New builds a Runner that runs commands from workDir. A nil logger falls
// back to slog.Default.
func New(workDir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{workDir: workDir, logger: logger}
}

// Run executes cmd through "sh -c", bounding it with timeout (DefaultTimeout
// if zero or negative), and returns stdout. A non-zero exit code, a timeout,
// or a launch failure all report as an error rather than a partial result,
// matching the sidecar's "return None on any failure" contract.
func (r *Runner) Run(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, "sh", "-c", cmd)
	c.Dir = r.workDir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("command timed out", "cmd", cmd, "timeout", timeout)
		return "", fmt.Errorf("command timed out after %s: %s", timeout, cmd)
	}
	if err != nil {
		r.logger.Warn("command failed", "cmd", cmd, "stderr", truncate(stderr.String(), maxStderrLog), "err", err)
		return "", fmt.Errorf("command failed: %s: %w", cmd, err)
	}
	return stdout.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
