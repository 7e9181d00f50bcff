package config

import (
	"os"
	"testing"
	"time"

	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport/functioncall"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport/issuecomment"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport/objectstore"
)

const configTestPrefix = "config:config_test"

var configEnvVars = []string{
	"RELAY_TRANSPORT", "RELAY_SESSION_ID", "RELAY_POLL_INTERVAL", "RELAY_MIN_WRITE_INTERVAL",
	"RELAY_CALL_TIMEOUT", "RELAY_SERVER_NAME", "RELAY_SERVER_VERSION", "RELAY_VERSION_CONSTRAINT",
	"OBJECTSTORE_URL", "GITHUB_API_URL", "GITHUB_TOKEN", "GITHUB_REPOSITORY", "GITHUB_ISSUE",
	"GITHUB_LOOKBACK", "FUNCTION_URL", "FUNCTION_TOKEN", "PROCESSED_CAPACITY", "PROCESSED_TTL",
	"RELAY_TOOL_CATALOG", "DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH", "COMMS_URL",
	"SERVICE_NAME", "RELAY_EVENT_SUBJECT", "HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL",
}

// clearConfigEnv unsets every relay variable for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, env := range configEnvVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	if cfg.Transport != transport.ObjectStore {
		t.Errorf("%s - Transport = %q, want %q", configTestPrefix, cfg.Transport, transport.ObjectStore)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("%s - PollInterval = %v, want 2s", configTestPrefix, cfg.PollInterval)
	}
	if cfg.MinWriteInterval != time.Second {
		t.Errorf("%s - MinWriteInterval = %v, want 1s", configTestPrefix, cfg.MinWriteInterval)
	}
	if cfg.CallTimeout != 60*time.Second {
		t.Errorf("%s - CallTimeout = %v, want 60s", configTestPrefix, cfg.CallTimeout)
	}
	if cfg.GitHubAPIURL != "https://api.github.com" {
		t.Errorf("%s - GitHubAPIURL = %q", configTestPrefix, cfg.GitHubAPIURL)
	}
	if cfg.ProcessedCapacity != 10000 || cfg.ProcessedTTL != 24*time.Hour {
		t.Errorf("%s - processed = %d/%v, want 10000/24h", configTestPrefix, cfg.ProcessedCapacity, cfg.ProcessedTTL)
	}
	if cfg.DatabaseURL != "" || cfg.COMMSURL != "" {
		t.Errorf("%s - DATABASE_URL and COMMS_URL should be optional, got %q / %q", configTestPrefix, cfg.DatabaseURL, cfg.COMMSURL)
	}
	if cfg.RunMigrations {
		t.Errorf("%s - expected RunMigrations=false by default", configTestPrefix)
	}
	if cfg.MigrationPath != "migrations" {
		t.Errorf("%s - MigrationPath = %q, want %q", configTestPrefix, cfg.MigrationPath, "migrations")
	}
	if cfg.COMMSName != "storage-relay" {
		t.Errorf("%s - COMMSName = %q, want %q", configTestPrefix, cfg.COMMSName, "storage-relay")
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("%s - HTTPPort = %d, want 8080", configTestPrefix, cfg.HTTPPort)
	}
	if cfg.HealthCheckTimeout != 5*time.Second {
		t.Errorf("%s - HealthCheckTimeout = %v, want 5s", configTestPrefix, cfg.HealthCheckTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("%s - LogLevel = %q, want %q", configTestPrefix, cfg.LogLevel, "info")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearConfigEnv(t)
	overrides := map[string]string{
		"RELAY_TRANSPORT":     " IssueComment ",
		"RELAY_SESSION_ID":    "sess-1",
		"RELAY_POLL_INTERVAL": "500ms",
		"GITHUB_TOKEN":        "ghp_x",
		"GITHUB_REPOSITORY":   "acme/relay",
		"GITHUB_ISSUE":        "42",
		"GITHUB_LOOKBACK":     "10m",
		"PROCESSED_CAPACITY":  "50",
		"DATABASE_URL":        "postgres://test@localhost/test",
		"RUN_MIGRATIONS":      "true",
		"COMMS_URL":           "nats://custom:4222",
		"RELAY_EVENT_SUBJECT": "custom.processed",
		"HTTP_PORT":           "9090",
		"LOG_LEVEL":           "debug",
	}
	for key, val := range overrides {
		t.Setenv(key, val)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	if cfg.Transport != transport.IssueComment {
		t.Errorf("%s - Transport = %q, want normalized %q", configTestPrefix, cfg.Transport, transport.IssueComment)
	}
	if cfg.SessionID != "sess-1" || cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("%s - session/poll = %q/%v", configTestPrefix, cfg.SessionID, cfg.PollInterval)
	}
	if cfg.GitHubIssue != 42 || cfg.GitHubLookback != 10*time.Minute {
		t.Errorf("%s - issue/lookback = %d/%v", configTestPrefix, cfg.GitHubIssue, cfg.GitHubLookback)
	}
	if cfg.ProcessedCapacity != 50 {
		t.Errorf("%s - ProcessedCapacity = %d, want 50", configTestPrefix, cfg.ProcessedCapacity)
	}
	if !cfg.RunMigrations {
		t.Errorf("%s - expected RunMigrations=true", configTestPrefix)
	}
	if cfg.COMMSURL != "nats://custom:4222" || cfg.EventSubject != "custom.processed" {
		t.Errorf("%s - comms = %q/%q", configTestPrefix, cfg.COMMSURL, cfg.EventSubject)
	}
	if cfg.HTTPPort != 9090 || cfg.LogLevel != "debug" {
		t.Errorf("%s - port/level = %d/%q", configTestPrefix, cfg.HTTPPort, cfg.LogLevel)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("%s - ValidateForServe: %v", configTestPrefix, err)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RELAY_POLL_INTERVAL", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Errorf("%s - expected error for invalid duration", configTestPrefix)
	}
}

func validConfig() *Config {
	return &Config{
		Transport:          transport.ObjectStore,
		ObjectStoreURL:     "mem://localhost/relay",
		PollInterval:       2 * time.Second,
		MinWriteInterval:   time.Second,
		CallTimeout:        time.Minute,
		ProcessedCapacity:  100,
		HealthCheckTimeout: 5 * time.Second,
		HTTPPort:           8080,
	}
}

func TestValidateForServe(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{name: "valid objectstore", modify: func(c *Config) {}},
		{name: "missing objectstore url", modify: func(c *Config) { c.ObjectStoreURL = "" }, wantErr: true},
		{name: "unknown transport", modify: func(c *Config) { c.Transport = "carrier-pigeon" }, wantErr: true},
		{name: "zero poll interval", modify: func(c *Config) { c.PollInterval = 0 }, wantErr: true},
		{name: "negative write interval", modify: func(c *Config) { c.MinWriteInterval = -time.Second }, wantErr: true},
		{name: "zero capacity", modify: func(c *Config) { c.ProcessedCapacity = 0 }, wantErr: true},
		{name: "zero health timeout", modify: func(c *Config) { c.HealthCheckTimeout = 0 }, wantErr: true},
		{name: "migrations without database", modify: func(c *Config) { c.RunMigrations = true }, wantErr: true},
		{name: "functioncall without url", modify: func(c *Config) { c.Transport = transport.FunctionCall }},
		{
			name: "issuecomment complete",
			modify: func(c *Config) {
				c.Transport = transport.IssueComment
				c.GitHubToken, c.GitHubRepository, c.GitHubIssue = "t", "o/r", 1
			},
		},
		{
			name: "issuecomment bad repository",
			modify: func(c *Config) {
				c.Transport = transport.IssueComment
				c.GitHubToken, c.GitHubRepository, c.GitHubIssue = "t", "repo", 1
			},
			wantErr: true,
		},
		{
			name: "issuecomment missing issue",
			modify: func(c *Config) {
				c.Transport = transport.IssueComment
				c.GitHubToken, c.GitHubRepository = "t", "o/r"
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.ValidateForServe()
			if (err != nil) != tt.wantErr {
				t.Errorf("%s - ValidateForServe() error = %v, wantErr %v", configTestPrefix, err, tt.wantErr)
			}
		})
	}
}

func TestValidateForCall(t *testing.T) {
	cfg := validConfig()
	if err := cfg.ValidateForCall(); err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	cfg.CallTimeout = 0
	if err := cfg.ValidateForCall(); err == nil {
		t.Errorf("%s - expected error for zero call timeout", configTestPrefix)
	}

	cfg = validConfig()
	cfg.Transport = transport.FunctionCall
	if err := cfg.ValidateForCall(); err == nil {
		t.Errorf("%s - expected error for functioncall without FUNCTION_URL", configTestPrefix)
	}
	cfg.FunctionURL = "http://relay/invoke"
	if err := cfg.ValidateForCall(); err != nil {
		t.Errorf("%s - unexpected error: %v", configTestPrefix, err)
	}
}

func TestValidateForDB(t *testing.T) {
	cfg := validConfig()
	if err := cfg.ValidateForDB(); err == nil {
		t.Errorf("%s - expected error for empty DATABASE_URL", configTestPrefix)
	}
	cfg.DatabaseURL = "postgres://localhost/relay"
	if err := cfg.ValidateForDB(); err != nil {
		t.Errorf("%s - unexpected error: %v", configTestPrefix, err)
	}
}

func TestAdapterSettings(t *testing.T) {
	cfg := validConfig()
	settings, err := cfg.AdapterSettings()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}
	osCfg, ok := settings.(objectstore.Config)
	if !ok || osCfg.BaseURL != "mem://localhost/relay" || osCfg.MinWriteInterval != time.Second {
		t.Errorf("%s - objectstore settings = %#v", configTestPrefix, settings)
	}

	cfg.Transport = transport.IssueComment
	cfg.GitHubAPIURL, cfg.GitHubRepository, cfg.GitHubIssue, cfg.GitHubToken = "http://gh", "o/r", 7, "tok"
	settings, _ = cfg.AdapterSettings()
	icCfg, ok := settings.(issuecomment.Config)
	if !ok || icCfg.Repository != "o/r" || icCfg.Issue != 7 || icCfg.Token != "tok" || icCfg.APIURL != "http://gh" {
		t.Errorf("%s - issuecomment settings = %#v", configTestPrefix, settings)
	}

	cfg.Transport = transport.FunctionCall
	cfg.HTTPPort = 9191
	settings, _ = cfg.AdapterSettings()
	fcCfg, ok := settings.(functioncall.Config)
	if !ok || fcCfg.URL != "http://127.0.0.1:9191/invoke" {
		t.Errorf("%s - functioncall settings should default to own /invoke, got %#v", configTestPrefix, settings)
	}

	cfg.Transport = "nope"
	if _, err := cfg.AdapterSettings(); err == nil {
		t.Errorf("%s - expected error for unknown transport", configTestPrefix)
	}
}

func TestOpenAdapter(t *testing.T) {
	cfg := validConfig()
	adapter, err := cfg.OpenAdapter()
	if err != nil {
		t.Fatalf("%s - OpenAdapter: %v", configTestPrefix, err)
	}
	if adapter.Name() != transport.ObjectStore {
		t.Errorf("%s - adapter name = %q", configTestPrefix, adapter.Name())
	}
}
