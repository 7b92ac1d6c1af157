package config

import (
	"fmt"
	"net/url"
	"os"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ArtifactsDir == "" {
		return fmt.Errorf("artifacts_dir is required")
	}
	if c.Service.URL != "" {
		u, err := url.Parse(c.Service.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("service.url is not a valid URL: %s", c.Service.URL)
		}
	}
	return nil
}

// ValidateService checks that the inference service is configured. Commands
// that sample or optimize require it; data-prep commands do not.
func (c *Config) ValidateService() error {
	if c.Service.URL == "" {
		return fmt.Errorf("service.url is not configured\nHint: set service.url in mixpipe.yaml or use --service-url")
	}
	return nil
}

// ValidateDataDir checks that the data directory exists.
func (c *Config) ValidateDataDir() error {
	if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
		return fmt.Errorf("data directory does not exist: %s\nHint: create the directory or use --data-dir to specify a different path", c.DataDir)
	}
	return nil
}
