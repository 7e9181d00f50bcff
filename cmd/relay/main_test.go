package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edri2or-commits/project38-or-sub003/internal/config"
	"github.com/edri2or-commits/project38-or-sub003/internal/server"
	"github.com/edri2or-commits/project38-or-sub003/pkg/client"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
)

const mainTestPrefix = "cmd/relay:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "call", "tools", "migrate", "processed", "ensure-db", "RELAY_TRANSPORT", "DATABASE_URL"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams("")
	require.NoError(t, err)
	assert.Nil(t, params)

	params, err = parseParams(`{"name":"echo","arguments":{"x":1}}`)
	require.NoError(t, err)
	assert.Equal(t, "echo", params["name"])

	_, err = parseParams(`[1,2]`)
	assert.Error(t, err)
	_, err = parseParams(`{`)
	assert.Error(t, err)
}

func TestPruneCutoff(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	cutoff, err := pruneCutoff(now, "", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), cutoff)

	cutoff, err = pruneCutoff(now, "90m", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), cutoff)

	_, err = pruneCutoff(now, "later", time.Hour)
	assert.Error(t, err)
	_, err = pruneCutoff(now, "", 0)
	assert.Error(t, err, "zero TTL without explicit age")
}

func TestTargetDatabaseURL(t *testing.T) {
	got, err := targetDatabaseURL("postgres://u:p@localhost:5432/relay?sslmode=disable", "relay_test")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/relay_test?sslmode=disable", got)

	got, err = targetDatabaseURL("postgres://u:p@localhost:5432/relay", "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/relay", got)
}

func TestRunCallAndTools_ObjectStore(t *testing.T) {
	cfg := &config.Config{
		Transport:          transport.ObjectStore,
		ObjectStoreURL:     "mem://localhost/cmd-relay-test",
		SessionID:          "cli",
		PollInterval:       30 * time.Millisecond,
		CallTimeout:        5 * time.Second,
		ProcessedCapacity:  100,
		ProcessedTTL:       time.Hour,
		ServerName:         "storage-relay",
		ServerVersion:      "1.0.0",
		HealthCheckTimeout: time.Second,
	}
	s, err := server.New(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var out bytes.Buffer
	require.NoError(t, runCall(context.Background(), cfg, []string{"tools/call", `{"name":"health_check"}`}, &out))
	assert.JSONEq(t, `{"status":"healthy"}`, out.String())

	out.Reset()
	require.NoError(t, runTools(context.Background(), cfg, &out))
	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "echo")
	assert.Contains(t, out.String(), "health_check")

	err = runCall(context.Background(), cfg, []string{"tools/call", `{"name":"does_not_exist"}`}, &out)
	var toolErr *client.ToolExecutionError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, -32602, toolErr.Code)
}
