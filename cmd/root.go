package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/CloudNativeWorks/elchi-runner/internal/artifact"
	"github.com/CloudNativeWorks/elchi-runner/internal/config"
	"github.com/CloudNativeWorks/elchi-runner/internal/runner"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	Cfg      *config.Config
	Version  string
)

var RootCmd = &cobra.Command{
	Use:   "elchi-runner",
	Short: "Elchi Runner - installs and runs a self-hosted CI runner",
	Long: `Elchi Runner downloads a verified actions runner release into the working
directory and runs it as an ephemeral, single-job runner.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return artifact.ExitCode(err)
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config file)")
}

func initConfig() {
	var err error

	Cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Configuration could not be loaded: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		Cfg.Logging.Level = logLevel
	}

	if err := config.InitLogger(Cfg.Logging, "root"); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Logger could not be initialized: %v\n", err)
		os.Exit(1)
	}
}
