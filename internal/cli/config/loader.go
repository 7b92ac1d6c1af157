package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

// Package-level koanf instance and config file tracking.
var (
	k              = koanf.New(".")
	configFileUsed string
)

// findConfigFile finds the config file to use.
// Priority: explicit path > mixpipe.yaml > mixpipe.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("mixpipe.yaml"); err == nil {
		return "mixpipe.yaml"
	}
	if _, err := os.Stat("mixpipe.yml"); err == nil {
		return "mixpipe.yml"
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"data_dir":                DefaultDataDir,
		"artifacts_dir":           DefaultArtifactsDir,
		"reports_dir":             DefaultReportsDir,
		"state_path":              DefaultStateFile,
		"environment":             DefaultEnv,
		"verbose":                 false,
		"service.timeout_minutes": DefaultServiceTimeout,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (MIXPIPE_ prefix)
	// Transform: MIXPIPE_DATA_DIR -> data_dir, MIXPIPE_SERVICE__URL -> service.url
	if err := k.Load(env.Provider("MIXPIPE_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "MIXPIPE_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			key := strings.ReplaceAll(f.Name, "-", "_")

			switch key {
			case "state":
				return "state_path", posflag.FlagVal(flags, f)
			case "env":
				return "environment", posflag.FlagVal(flags, f)
			case "service_url":
				return "service.url", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Apply environment-specific overrides, unless the same key was set
	// explicitly via a flag.
	if cfg.Environment != "" && cfg.Environments != nil {
		if envCfg, ok := cfg.Environments[cfg.Environment]; ok {
			if envCfg.DataDir != "" && !flagChanged(flags, "data-dir") {
				cfg.DataDir = envCfg.DataDir
			}
			if envCfg.ArtifactsDir != "" && !flagChanged(flags, "artifacts-dir") {
				cfg.ArtifactsDir = envCfg.ArtifactsDir
			}
			if envCfg.StatePath != "" && !flagChanged(flags, "state") {
				cfg.StatePath = envCfg.StatePath
			}
			if envCfg.Service != nil {
				if envCfg.Service.URL != "" && !flagChanged(flags, "service-url") {
					cfg.Service.URL = envCfg.Service.URL
				}
				if envCfg.Service.TimeoutMinutes != 0 {
					cfg.Service.TimeoutMinutes = envCfg.Service.TimeoutMinutes
				}
			}
		}
	}

	if cfg.Service.TimeoutMinutes <= 0 {
		cfg.Service.TimeoutMinutes = DefaultServiceTimeout
	}

	return &cfg, nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// ConfigKey returns the context key used for storing the loaded config.
func ConfigKey() interface{} {
	return configKey{}
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	// Return default config if none in context
	return &Config{
		DataDir:      DefaultDataDir,
		ArtifactsDir: DefaultArtifactsDir,
		ReportsDir:   DefaultReportsDir,
		StatePath:    DefaultStateFile,
		Environment:  DefaultEnv,
		Service:      ServiceConfig{TimeoutMinutes: DefaultServiceTimeout},
	}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}
