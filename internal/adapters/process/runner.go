// Package process runs build scripts for cadence.
// This package implements the domain.ProcessRunner interface with os/exec.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// ExitError reports a build script that ran but exited non-zero.
type ExitError struct {
	Script   string
	ExitCode int
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Script, e.ExitCode)
}

// Unwrap returns both the domain sentinel and the underlying exec error.
func (e *ExitError) Unwrap() []error {
	return []error{domain.ErrBuildFailed, e.Err}
}

// Runner executes a build script located at a working-copy root.
type Runner struct {
	// Env is appended to the inherited environment of every build.
	Env []string
}

// NewRunner creates a Runner that adds env to each build's environment.
func NewRunner(env ...string) *Runner {
	return &Runner{Env: env}
}

// Run executes script inside dir. Standard output and standard error are
// appended to stdoutPath and stderrPath, which are created if missing.
// The call blocks until the script exits; there is no timeout.
func (r *Runner) Run(ctx context.Context, dir, script, stdoutPath, stderrPath string) error {
	scriptPath := script
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(dir, script)
	}

	info, err := os.Stat(scriptPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrScriptNotFound, scriptPath)
		}
		return fmt.Errorf("failed to stat %s: %w", scriptPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", domain.ErrScriptNotFound, scriptPath)
	}

	stdout, err := openLog(stdoutPath)
	if err != nil {
		return err
	}
	defer stdout.Close()

	stderr, err := openLog(stderrPath)
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, commandFor(scriptPath, info.Mode()), argsFor(scriptPath, info.Mode())...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), r.Env...)
	detach(cmd)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Script: script, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return fmt.Errorf("failed to start %s: %w", script, err)
	}
	return nil
}

// openLog opens path for appending, creating it and its directory if needed.
func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}
	return f, nil
}

// Scripts without the executable bit are run through /bin/sh.
func commandFor(scriptPath string, mode os.FileMode) string {
	if mode&0o111 != 0 {
		return scriptPath
	}
	return "/bin/sh"
}

func argsFor(scriptPath string, mode os.FileMode) []string {
	if mode&0o111 != 0 {
		return nil
	}
	return []string{scriptPath}
}
