// Package config provides relay configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport/functioncall"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport/issuecomment"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport/objectstore"
)

const logPrefix = "config:LoadConfig"

// Config holds relay and relay-client configuration.
type Config struct {
	// Carrier selection and pacing
	Transport        string        `envconfig:"RELAY_TRANSPORT" default:"objectstore"`
	SessionID        string        `envconfig:"RELAY_SESSION_ID"`
	PollInterval     time.Duration `envconfig:"RELAY_POLL_INTERVAL" default:"2s"`
	MinWriteInterval time.Duration `envconfig:"RELAY_MIN_WRITE_INTERVAL" default:"1s"`
	CallTimeout      time.Duration `envconfig:"RELAY_CALL_TIMEOUT" default:"60s"`

	// Identity reported by initialize, and the range a client accepts.
	ServerName        string `envconfig:"RELAY_SERVER_NAME" default:"storage-relay"`
	ServerVersion     string `envconfig:"RELAY_SERVER_VERSION" default:"1.0.0"`
	VersionConstraint string `envconfig:"RELAY_VERSION_CONSTRAINT"`

	// Object store carrier (s3://bucket/prefix, gs://bucket/prefix, file:///dir, mem://localhost/dir)
	ObjectStoreURL string `envconfig:"OBJECTSTORE_URL"`

	// Issue comment carrier
	GitHubAPIURL     string        `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
	GitHubToken      string        `envconfig:"GITHUB_TOKEN"`
	GitHubRepository string        `envconfig:"GITHUB_REPOSITORY"`
	GitHubIssue      int           `envconfig:"GITHUB_ISSUE"`
	GitHubLookback   time.Duration `envconfig:"GITHUB_LOOKBACK" default:"1h"`

	// Function call carrier; empty FUNCTION_URL on serve means this relay's own /invoke.
	FunctionURL   string `envconfig:"FUNCTION_URL"`
	FunctionToken string `envconfig:"FUNCTION_TOKEN"`

	// Processed-request bookkeeping
	ProcessedCapacity int           `envconfig:"PROCESSED_CAPACITY" default:"10000"`
	ProcessedTTL      time.Duration `envconfig:"PROCESSED_TTL" default:"24h"`

	// Tools
	ToolCatalog string `envconfig:"RELAY_TOOL_CATALOG"`

	// Database (optional; enables the durable processed store)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// COMMS: relay activity events are published to NATS at COMMSURL when set.
	COMMSURL     string `envconfig:"COMMS_URL"`
	COMMSName    string `envconfig:"SERVICE_NAME" default:"storage-relay"`
	EventSubject string `envconfig:"RELAY_EVENT_SUBJECT"`

	// HTTP health and invoke endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	return &c, nil
}

// validateCommon checks settings shared by serve and call.
func (c *Config) validateCommon() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s - RELAY_POLL_INTERVAL must be positive", logPrefix)
	}
	if c.MinWriteInterval < 0 {
		return fmt.Errorf("%s - RELAY_MIN_WRITE_INTERVAL must not be negative", logPrefix)
	}
	switch c.Transport {
	case transport.ObjectStore:
		if c.ObjectStoreURL == "" {
			return fmt.Errorf("%s - OBJECTSTORE_URL is required for the %s transport", logPrefix, c.Transport)
		}
	case transport.IssueComment:
		if c.GitHubToken == "" {
			return fmt.Errorf("%s - GITHUB_TOKEN is required for the %s transport", logPrefix, c.Transport)
		}
		if !strings.Contains(c.GitHubRepository, "/") {
			return fmt.Errorf("%s - GITHUB_REPOSITORY must be owner/name", logPrefix)
		}
		if c.GitHubIssue <= 0 {
			return fmt.Errorf("%s - GITHUB_ISSUE must be positive", logPrefix)
		}
	case transport.FunctionCall:
	default:
		return fmt.Errorf("%s - unknown RELAY_TRANSPORT %q", logPrefix, c.Transport)
	}
	return nil
}

// ValidateForServe checks required config when running the relay.
func (c *Config) ValidateForServe() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.ProcessedCapacity <= 0 {
		return fmt.Errorf("%s - PROCESSED_CAPACITY must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.RunMigrations && c.DatabaseURL == "" {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires DATABASE_URL", logPrefix)
	}
	return nil
}

// ValidateForCall checks required config when issuing a client call.
func (c *Config) ValidateForCall() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Transport == transport.FunctionCall && c.FunctionURL == "" {
		return fmt.Errorf("%s - FUNCTION_URL is required for the %s transport", logPrefix, c.Transport)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - RELAY_CALL_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, processed).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// InvokeURL is the function-call endpoint served by this process.
func (c *Config) InvokeURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/invoke", c.HTTPPort)
}

// AdapterSettings returns the carrier settings transport.Open expects for c.Transport.
func (c *Config) AdapterSettings() (interface{}, error) {
	switch c.Transport {
	case transport.ObjectStore:
		return objectstore.Config{
			BaseURL:          c.ObjectStoreURL,
			MinWriteInterval: c.MinWriteInterval,
		}, nil
	case transport.IssueComment:
		return issuecomment.Config{
			APIURL:           c.GitHubAPIURL,
			Repository:       c.GitHubRepository,
			Issue:            c.GitHubIssue,
			Token:            c.GitHubToken,
			Lookback:         c.GitHubLookback,
			MinWriteInterval: c.MinWriteInterval,
		}, nil
	case transport.FunctionCall:
		url := c.FunctionURL
		if url == "" {
			url = c.InvokeURL()
		}
		return functioncall.Config{
			URL:              url,
			Token:            c.FunctionToken,
			MinWriteInterval: c.MinWriteInterval,
		}, nil
	}
	return nil, fmt.Errorf("%s - unknown RELAY_TRANSPORT %q", logPrefix, c.Transport)
}

// OpenAdapter builds the configured carrier adapter.
func (c *Config) OpenAdapter() (transport.Adapter, error) {
	settings, err := c.AdapterSettings()
	if err != nil {
		return nil, err
	}
	return transport.Open(c.Transport, settings)
}
