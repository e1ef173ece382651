package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/CloudNativeWorks/elchi-runner/internal/artifact"
	"github.com/CloudNativeWorks/elchi-runner/internal/cmdrunner"
	"github.com/CloudNativeWorks/elchi-runner/internal/httpclient"
	"github.com/CloudNativeWorks/elchi-runner/internal/runner"
	"github.com/CloudNativeWorks/elchi-runner/pkg/helper"
	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	runInstallVersion string
	runArch           string
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Register an ephemeral runner, run one job and deregister",
	Long: `Mint a registration token, configure the runner in runner.dir as an ephemeral
runner and run it for one job. On SIGINT or SIGTERM the runner is stopped and its
registration removed before exiting. The runner's exit status is returned.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("main")
		return NewRunManager(cmd.Context(), log).Run()
	},
}

// RunManager handles the lifecycle of one runner invocation
type RunManager struct {
	logger  *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
}

// NewRunManager creates a new run manager
func NewRunManager(parent context.Context, log *logger.Logger) *RunManager {
	ctx, cancel := context.WithCancel(parent)
	return &RunManager{
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
	}
}

// Run installs the runner if asked to, then launches it
func (m *RunManager) Run() error {
	if Cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if err := Cfg.Runner.Validate(); err != nil {
		return fmt.Errorf("invalid runner configuration: %w", err)
	}

	signal.Notify(m.sigChan, unix.SIGINT, unix.SIGTERM)
	defer m.cleanup()
	go m.handleSignals()

	if runInstallVersion != "" {
		installer := newInstaller(Cfg, Cfg.Runner.Dir, "")
		if _, err := installer.Install(m.ctx, artifact.Request{Version: runInstallVersion, Arch: runArch}); err != nil {
			return fmt.Errorf("install failed: %w", err)
		}
	}

	if _, err := os.Stat(filepath.Join(Cfg.Runner.Dir, "run.sh")); err != nil {
		return fmt.Errorf("runner not installed in %s: %w", Cfg.Runner.Dir, err)
	}

	h := httpclient.New("runner-api",
		httpclient.WithToken(Cfg.Runner.AccessToken),
		httpclient.WithRateLimit(Cfg.Release.RateLimit),
		httpclient.WithLogger(logger.NewLogger("runner-api")),
	)
	tokens := runner.NewTokenClient(h, Cfg.Runner.APIURL, Cfg.Runner.Scope())

	env := runner.BuildEnv(os.Environ(), Cfg.Runner.EnvAllow, Cfg.Runner.EnvDeny, nil)
	cmds := cmdrunner.NewCommandsRunner(Cfg.Runner.Dir, env)
	cmds.WaitDelay = Cfg.Runner.ShutdownTimeout

	launcher := runner.NewLauncher(Cfg.Runner, tokens, cmds)
	m.logger.Infof("Starting runner %s", launcher.Name())
	return launcher.Run(m.ctx)
}

// cleanup performs cleanup operations
func (m *RunManager) cleanup() {
	signal.Stop(m.sigChan)
	m.cancel()
}

// handleSignals cancels the run on the first SIGINT or SIGTERM
func (m *RunManager) handleSignals() {
	defer helper.RecoverPanic(m.logger, "signal-handler")

	select {
	case sig := <-m.sigChan:
		m.logger.Warnf("Received signal %s, initiating shutdown...", sig)
		m.cancel()
	case <-m.ctx.Done():
	}
}

func init() {
	RunCmd.Flags().StringVar(&runInstallVersion, "install", "", "install this runner version (or \"latest\") into runner.dir before running")
	RunCmd.Flags().StringVar(&runArch, "arch", "x64", "architecture used with --install")
	RootCmd.AddCommand(RunCmd)
}
