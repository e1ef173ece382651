package cmd

import (
	"fmt"
	"os/signal"

	"github.com/CloudNativeWorks/elchi-runner/internal/artifact"
	"github.com/CloudNativeWorks/elchi-runner/internal/config"
	"github.com/CloudNativeWorks/elchi-runner/internal/httpclient"
	"github.com/CloudNativeWorks/elchi-runner/internal/release"
	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	installWorkDir       string
	installChecksumAsset string
	installOutput        string
)

var InstallCmd = &cobra.Command{
	Use:   "install <version> <arch>",
	Short: "Download, verify and extract a runner release",
	Long: `Resolve a runner release ("latest" or a version such as 2.320.1), download the
actions-runner archive for the given architecture, verify its sha256 against the
digest published with the release and extract it into the working directory.`,
	Example: `  elchi-runner install latest x64
  elchi-runner install 2.320.1 arm64 --work-dir /home/runner`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req artifact.Request
		if len(args) > 0 {
			req.Version = args[0]
		}
		if len(args) > 1 {
			req.Arch = args[1]
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
		defer stop()

		installer := newInstaller(Cfg, installWorkDir, installChecksumAsset)
		result, err := installer.Install(ctx, req)
		if err != nil {
			return fmt.Errorf("install failed: %w", err)
		}

		out := cmd.OutOrStdout()
		done, err := printStructured(out, installOutput, result)
		if done || err != nil {
			return err
		}
		fmt.Fprintf(out, "Installed %s (%s) into %s\n", result.Asset, result.Digest, result.WorkDir)
		return nil
	},
}

// newReleaseClient builds the release API client from configuration
func newReleaseClient(cfg *config.Config) *release.Client {
	h := httpclient.New("release-api",
		httpclient.WithToken(cfg.Release.Token),
		httpclient.WithTimeout(cfg.Release.Timeout),
		httpclient.WithRateLimit(cfg.Release.RateLimit),
		httpclient.WithLogger(logger.NewLogger("release-api")),
	)
	return release.NewClient(
		release.WithBaseURL(cfg.Release.APIURL),
		release.WithRepository(cfg.Release.Owner, cfg.Release.Repo),
		release.WithHTTP(h),
	)
}

// newInstaller builds an installer from configuration; non-empty arguments
// override the configured work directory and checksum asset.
func newInstaller(cfg *config.Config, workDir, checksumAsset string) *artifact.Installer {
	if workDir == "" {
		workDir = cfg.Install.WorkDir
	}
	if checksumAsset == "" && cfg.Install.DigestSource == "checksums" {
		checksumAsset = cfg.Install.ChecksumAsset
	}

	return artifact.NewInstaller(newReleaseClient(cfg),
		artifact.WithPlatform(cfg.Install.OS, cfg.Install.Arches),
		artifact.WithWorkDir(workDir),
		artifact.WithChecksumAsset(checksumAsset),
		artifact.WithLogger(logger.NewLogger("installer")),
	)
}

func init() {
	InstallCmd.Flags().StringVarP(&installWorkDir, "work-dir", "C", "", "directory to extract into (default: install.work_dir)")
	InstallCmd.Flags().StringVar(&installChecksumAsset, "checksum-asset", "", "read the expected digest from this release asset instead of the release notes")
	InstallCmd.Flags().StringVarP(&installOutput, "output", "o", outputText, "output format: text, json or yaml")
	RootCmd.AddCommand(InstallCmd)
}
