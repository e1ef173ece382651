package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment overrides, e.g. ELCHI_RUNNER_RELEASE_TOKEN.
	EnvPrefix = "ELCHI_RUNNER"
)

// Config holds all application configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Release ReleaseConfig `mapstructure:"release"`
	Install InstallConfig `mapstructure:"install"`
	Runner  RunnerConfig  `mapstructure:"runner"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// ReleaseConfig describes where release manifests and assets come from
type ReleaseConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	Owner     string        `mapstructure:"owner"`
	Repo      string        `mapstructure:"repo"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// InstallConfig holds artifact installation settings
type InstallConfig struct {
	WorkDir string   `mapstructure:"work_dir"`
	OS      string   `mapstructure:"os"`
	Arches  []string `mapstructure:"arches"`
	// DigestSource is "notes" (release body) or "checksums" (a sidecar asset).
	DigestSource  string `mapstructure:"digest_source"`
	ChecksumAsset string `mapstructure:"checksum_asset"`
}

// RunnerConfig holds the settings for registering and running one job
type RunnerConfig struct {
	APIURL          string        `mapstructure:"api_url"`
	URL             string        `mapstructure:"url"`
	Owner           string        `mapstructure:"owner"`
	Repo            string        `mapstructure:"repo"`
	Org             string        `mapstructure:"org"`
	AccessToken     string        `mapstructure:"access_token"`
	Name            string        `mapstructure:"name"`
	Labels          []string      `mapstructure:"labels"`
	Group           string        `mapstructure:"group"`
	WorkDir         string        `mapstructure:"work_dir"`
	Dir             string        `mapstructure:"dir"`
	EnvAllow        []string      `mapstructure:"env_allow"`
	EnvDeny         []string      `mapstructure:"env_deny"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Validate checks the runner settings and reports every problem at once
func (r RunnerConfig) Validate() error {
	var result *multierror.Error

	if r.AccessToken == "" {
		result = multierror.Append(result, errors.New("runner.access_token is required"))
	}
	if r.Org == "" && (r.Owner == "" || r.Repo == "") {
		result = multierror.Append(result, errors.New("either runner.org or both runner.owner and runner.repo are required"))
	}
	if r.Org != "" && r.Repo != "" {
		result = multierror.Append(result, errors.New("runner.org and runner.repo are mutually exclusive"))
	}
	if r.ShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("runner.shutdown_timeout must be positive, got %s", r.ShutdownTimeout))
	}

	return result.ErrorOrNil()
}

// Scope returns the API path segment the runner registers against
func (r RunnerConfig) Scope() string {
	if r.Org != "" {
		return "orgs/" + r.Org
	}
	return "repos/" + r.Owner + "/" + r.Repo
}

// RegistrationURL returns the URL handed to config.sh
func (r RunnerConfig) RegistrationURL() string {
	if r.URL != "" {
		return r.URL
	}
	if r.Org != "" {
		return "https://github.com/" + r.Org
	}
	return "https://github.com/" + r.Owner + "/" + r.Repo
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)

	v.SetDefault("release.api_url", def.Release.APIURL)
	v.SetDefault("release.owner", def.Release.Owner)
	v.SetDefault("release.repo", def.Release.Repo)
	v.SetDefault("release.token", "")
	v.SetDefault("release.timeout", def.Release.Timeout)
	v.SetDefault("release.rate_limit", def.Release.RateLimit)

	v.SetDefault("install.work_dir", def.Install.WorkDir)
	v.SetDefault("install.os", def.Install.OS)
	v.SetDefault("install.arches", def.Install.Arches)
	v.SetDefault("install.digest_source", def.Install.DigestSource)
	v.SetDefault("install.checksum_asset", def.Install.ChecksumAsset)

	v.SetDefault("runner.api_url", def.Runner.APIURL)
	v.SetDefault("runner.url", "")
	v.SetDefault("runner.owner", "")
	v.SetDefault("runner.repo", "")
	v.SetDefault("runner.org", "")
	v.SetDefault("runner.access_token", "")
	v.SetDefault("runner.name", "")
	v.SetDefault("runner.labels", def.Runner.Labels)
	v.SetDefault("runner.group", def.Runner.Group)
	v.SetDefault("runner.work_dir", def.Runner.WorkDir)
	v.SetDefault("runner.dir", def.Runner.Dir)
	v.SetDefault("runner.env_allow", def.Runner.EnvAllow)
	v.SetDefault("runner.env_deny", def.Runner.EnvDeny)
	v.SetDefault("runner.shutdown_timeout", def.Runner.ShutdownTimeout)
}

// LoadConfig loads configuration from file and environment. An empty path
// searches for config.yaml in the working directory and $HOME/.elchi-runner;
// a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.elchi-runner")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &config, nil
}

// InitLogger initializes the logger with the provided configuration
func InitLogger(cfg LoggingConfig, module string) error {
	return logger.Init(logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Module:     module,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
	})
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxAge:     7,
			MaxBackups: 3,
		},
		Release: ReleaseConfig{
			APIURL:    "https://api.github.com",
			Owner:     "actions",
			Repo:      "runner",
			Timeout:   5 * time.Minute,
			RateLimit: 5,
		},
		Install: InstallConfig{
			WorkDir:       ".",
			OS:            "linux",
			Arches:        []string{"x64", "arm64"},
			DigestSource:  "notes",
			ChecksumAsset: "SHA256SUMS",
		},
		Runner: RunnerConfig{
			APIURL:          "https://api.github.com",
			Labels:          []string{"self-hosted"},
			Group:           "Default",
			WorkDir:         "_work",
			Dir:             ".",
			EnvAllow:        []string{"PATH", "HOME", "LANG", "TZ", "HOSTNAME", "RUNNER_*"},
			EnvDeny:         []string{EnvPrefix + "_*"},
			ShutdownTimeout: 30 * time.Second,
		},
	}
}
