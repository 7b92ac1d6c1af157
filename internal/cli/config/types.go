// Package config provides configuration management for the mixpipe CLI.
package config

// ServiceConfig points at the Bayesian inference service that performs
// sampling and budget optimization.
type ServiceConfig struct {
	URL            string `koanf:"url"`
	TimeoutMinutes int    `koanf:"timeout_minutes"`
}

// Config holds all CLI configuration options.
type Config struct {
	DataDir      string               `koanf:"data_dir"`
	ArtifactsDir string               `koanf:"artifacts_dir"`
	ReportsDir   string               `koanf:"reports_dir"`
	StatePath    string               `koanf:"state_path"`
	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	Service      ServiceConfig        `koanf:"service"`
	Environments map[string]EnvConfig `koanf:"environments"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	DataDir      string         `koanf:"data_dir"`
	ArtifactsDir string         `koanf:"artifacts_dir"`
	StatePath    string         `koanf:"state_path"`
	Service      *ServiceConfig `koanf:"service"`
}

// Default configuration values.
const (
	DefaultDataDir        = "data"
	DefaultArtifactsDir   = "artifacts"
	DefaultReportsDir     = "reports"
	DefaultStateFile      = ".mixpipe/state.db"
	DefaultEnv            = "dev"
	DefaultServiceTimeout = 30 // minutes
)
