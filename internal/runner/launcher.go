package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CloudNativeWorks/elchi-runner/internal/cmdrunner"
	"github.com/CloudNativeWorks/elchi-runner/internal/config"
	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/google/uuid"
)

const (
	configScript = "./config.sh"
	runScript    = "./run.sh"
)

// ExitError carries the runner's exit status out to the process
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("runner exited with status %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Launcher registers an ephemeral runner, runs it for one job and removes
// the registration when the run is interrupted or fails.
type Launcher struct {
	cfg    config.RunnerConfig
	tokens TokenSource
	cmds   cmdrunner.CommandRunner
	name   string
	logger *logger.Logger
}

// NewLauncher creates a Launcher. cfg must already be valid.
func NewLauncher(cfg config.RunnerConfig, tokens TokenSource, cmds cmdrunner.CommandRunner) *Launcher {
	name := cfg.Name
	if name == "" {
		name = DefaultName()
	}
	return &Launcher{
		cfg:    cfg,
		tokens: tokens,
		cmds:   cmds,
		name:   name,
		logger: logger.NewLogger("launcher"),
	}
}

// DefaultName returns "<hostname>-<8 hex chars>"
func DefaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "runner"
	}
	return host + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Name returns the name the runner registers with
func (l *Launcher) Name() string {
	return l.name
}

// ConfigureArgs returns the config.sh arguments for registration
func (l *Launcher) ConfigureArgs(token string) []string {
	args := []string{
		"--unattended",
		"--ephemeral",
		"--disableupdate",
		"--replace",
		"--url", l.cfg.RegistrationURL(),
		"--token", token,
		"--name", l.name,
	}
	if len(l.cfg.Labels) > 0 {
		args = append(args, "--labels", strings.Join(l.cfg.Labels, ","))
	}
	if l.cfg.Group != "" {
		args = append(args, "--runnergroup", l.cfg.Group)
	}
	if l.cfg.WorkDir != "" {
		args = append(args, "--work", l.cfg.WorkDir)
	}
	return args
}

// Run registers the runner, runs one job and returns the run status. When
// ctx is cancelled the child is terminated and the registration removed
// within the shutdown timeout before Run returns.
func (l *Launcher) Run(ctx context.Context) error {
	log := l.logger.WithField("runner", l.name)

	token, err := l.tokens.RegistrationToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get registration token: %w", err)
	}

	log.WithField("url", l.cfg.RegistrationURL()).Info("Registering runner")
	if err := l.cmds.Run(ctx, configScript, l.ConfigureArgs(token)...); err != nil {
		if ctx.Err() != nil {
			l.deregister()
		}
		return &ExitError{Code: cmdrunner.ExitCode(err), Err: fmt.Errorf("registration failed: %w", err)}
	}

	log.Info("Runner registered, waiting for a job")
	runErr := l.cmds.Run(ctx, runScript)

	switch {
	case ctx.Err() != nil:
		log.Warn("Run interrupted, removing registration")
		l.deregister()
	case runErr != nil:
		log.WithError(runErr).Warn("Runner failed, removing registration")
		l.deregister()
	default:
		// Ephemeral runners are removed by the service after their job.
		log.Info("Runner finished")
		return nil
	}

	if runErr == nil {
		runErr = ctx.Err()
	}
	return &ExitError{Code: cmdrunner.ExitCode(runErr), Err: runErr}
}

// deregister removes the registration, bounded by the shutdown timeout. It
// runs on a fresh context because the run context is usually already done.
func (l *Launcher) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout())
	defer cancel()

	token, err := l.tokens.RemoveToken(ctx)
	if err != nil {
		l.logger.WithError(err).Error("Failed to get remove token")
		return
	}

	out, err := l.cmds.RunWithOutput(ctx, configScript, "remove", "--token", token)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			l.logger.Errorf("Deregistration timed out after %s", l.shutdownTimeout())
			return
		}
		l.logger.WithError(err).Error("Failed to remove runner registration")
		return
	}
	l.logger.WithFields(logger.Fields{
		"runner": l.name,
		"output": strings.TrimSpace(string(out)),
	}).Info("Runner registration removed")
}

func (l *Launcher) shutdownTimeout() time.Duration {
	if l.cfg.ShutdownTimeout > 0 {
		return l.cfg.ShutdownTimeout
	}
	return 30 * time.Second
}
