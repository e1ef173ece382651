package cmdrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"golang.org/x/sys/unix"
)

const defaultWaitDelay = 10 * time.Second

// CommandRunner runs external commands
type CommandRunner interface {
	Run(ctx context.Context, cmd string, args ...string) error
	RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error)
}

// CommandsRunner runs commands in Dir with exactly Env as their environment.
// Cancelling the context sends SIGTERM and waits up to WaitDelay before the
// process is killed.
type CommandsRunner struct {
	Dir       string
	Env       []string
	Stdout    io.Writer
	Stderr    io.Writer
	WaitDelay time.Duration
	logger    *logger.Logger
}

func NewCommandsRunner(dir string, env []string) *CommandsRunner {
	return &CommandsRunner{
		Dir:       dir,
		Env:       env,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		WaitDelay: defaultWaitDelay,
		logger:    logger.NewLogger("command_runner"),
	}
}

func (r *CommandsRunner) command(ctx context.Context, cmd string, args ...string) *exec.Cmd {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = r.Dir
	// A nil Env would inherit the parent environment.
	c.Env = r.Env
	if c.Env == nil {
		c.Env = []string{}
	}
	c.Cancel = func() error {
		return c.Process.Signal(unix.SIGTERM)
	}
	c.WaitDelay = r.WaitDelay
	return c
}

// Run runs cmd with its output streamed to Stdout and Stderr
func (r *CommandsRunner) Run(ctx context.Context, cmd string, args ...string) error {
	c := r.command(ctx, cmd, args...)
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr

	r.logger.WithField("command", cmd).Debug("Running command")
	if err := c.Run(); err != nil {
		r.logger.WithFields(logger.Fields{
			"command":   cmd,
			"exit_code": ExitCode(err),
		}).Warn("Command failed")
		return fmt.Errorf("command %s failed: %w", cmd, err)
	}
	return nil
}

// RunWithOutput runs cmd and returns its combined output
func (r *CommandsRunner) RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	c := r.command(ctx, cmd, args...)
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Errorf("command failed: %s %v\n%s", cmd, args, out.String())
		return nil, fmt.Errorf("command error: %w\n%s", err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

// ExitCode extracts the exit status of a failed command. A process killed by
// a signal reports 128+signal like a shell does; errors that are not exit
// statuses map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := exitErr.ExitCode(); code > 0 {
		return code
	}
	return 1
}
