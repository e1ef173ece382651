package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, *DefaultConfig(), *cfg)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
release:
  owner: acme
  repo: runner-fork
  rate_limit: 1.5
install:
  arches: [x64]
  digest_source: checksums
runner:
  org: acme
  labels: [linux, gpu]
  shutdown_timeout: 45s
`), 0644))

	t.Setenv("ELCHI_RUNNER_RUNNER_ACCESS_TOKEN", "ghp_from_env")
	t.Setenv("ELCHI_RUNNER_RELEASE_TIMEOUT", "90s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "acme", cfg.Release.Owner)
	assert.Equal(t, "runner-fork", cfg.Release.Repo)
	assert.Equal(t, 1.5, cfg.Release.RateLimit)
	assert.Equal(t, 90*time.Second, cfg.Release.Timeout)
	assert.Equal(t, []string{"x64"}, cfg.Install.Arches)
	assert.Equal(t, "checksums", cfg.Install.DigestSource)
	assert.Equal(t, "SHA256SUMS", cfg.Install.ChecksumAsset)
	assert.Equal(t, "ghp_from_env", cfg.Runner.AccessToken)
	assert.Equal(t, []string{"linux", "gpu"}, cfg.Runner.Labels)
	assert.Equal(t, 45*time.Second, cfg.Runner.ShutdownTimeout)
	assert.NoError(t, cfg.Runner.Validate())
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRunnerValidate(t *testing.T) {
	var cfg RunnerConfig
	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)

	cfg = DefaultConfig().Runner
	cfg.AccessToken = "pat"
	cfg.Org = "acme"
	cfg.Repo = "widgets"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	cfg.Repo = ""
	assert.NoError(t, cfg.Validate())
}

func TestRunnerScope(t *testing.T) {
	repo := RunnerConfig{Owner: "acme", Repo: "widgets"}
	assert.Equal(t, "repos/acme/widgets", repo.Scope())
	assert.Equal(t, "https://github.com/acme/widgets", repo.RegistrationURL())

	org := RunnerConfig{Org: "acme"}
	assert.Equal(t, "orgs/acme", org.Scope())
	assert.Equal(t, "https://github.com/acme", org.RegistrationURL())

	ghes := RunnerConfig{Org: "acme", URL: "https://git.example.com/acme"}
	assert.Equal(t, "https://git.example.com/acme", ghes.RegistrationURL())
}
