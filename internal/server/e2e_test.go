package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edri2or-commits/project38-or-sub003/pkg/client"
	"github.com/edri2or-commits/project38-or-sub003/pkg/commsutil"
	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
	"github.com/edri2or-commits/project38-or-sub003/pkg/events"
	"github.com/edri2or-commits/project38-or-sub003/pkg/tools"
)

const e2eCommsPort = 14250

// startEmbeddedComms starts an embedded NATS server for the duration of the test.
func startEmbeddedComms(t *testing.T) *commsserver.Server {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   e2eCommsPort,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err, "e2e_test - failed to create NATS server")
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("e2e_test - NATS server failed to start")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func nextEvent(t *testing.T, ch <-chan *comms.Msg) (string, *events.RequestProcessedEvent) {
	t.Helper()
	select {
	case msg := <-ch:
		var ev events.RequestProcessedEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		return msg.Subject, &ev
	case <-time.After(5 * time.Second):
		t.Fatal("e2e_test - no relay event received")
		return "", nil
	}
}

func TestE2E_ObjectStoreRoundTripWithEvents(t *testing.T) {
	ns := startEmbeddedComms(t)

	watcher, err := comms.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer watcher.Close()
	ch := make(chan *comms.Msg, 16)
	for _, subject := range []string{commsutil.SubjectProcessed + ".>", commsutil.SubjectProcessed} {
		_, err = watcher.ChanSubscribe(subject, ch)
		require.NoError(t, err)
	}
	require.NoError(t, watcher.Flush())

	cfg := testConfig(t)
	cfg.COMMSURL = ns.ClientURL()
	cfg.COMMSName = "relay-e2e"
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	adapter, err := cfg.OpenAdapter()
	require.NoError(t, err)
	c := client.New(adapter, client.Options{SessionID: "e2e", PollInterval: 30 * time.Millisecond, Timeout: 5 * time.Second})

	// health_check round trip; both carrier objects are gone afterwards.
	var health map[string]string
	_, err = c.CallTool(context.Background(), tools.HealthCheck, nil, &health)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])

	subject, ev := nextEvent(t, ch)
	assert.Equal(t, commsutil.BuildProcessedSubject("objectstore", events.OutcomeResult), subject)
	assert.Equal(t, "e2e", ev.SessionID)
	assert.Equal(t, envelope.MethodToolsCall, ev.Method)
	assert.Equal(t, tools.HealthCheck, ev.Tool)
	assert.Equal(t, events.OutcomeResult, ev.Outcome)

	subject, ev = nextEvent(t, ch)
	assert.Equal(t, commsutil.SubjectProcessed, subject, "global subject carries the same event")
	assert.Equal(t, tools.HealthCheck, ev.Tool)

	// does_not_exist surfaces as a tool execution error with -32602.
	_, err = c.CallTool(context.Background(), "does_not_exist", nil, nil)
	var toolErr *client.ToolExecutionError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, envelope.CodeInvalidParams, toolErr.Code)

	subject, ev = nextEvent(t, ch)
	assert.Equal(t, commsutil.BuildProcessedSubject("objectstore", events.OutcomeError), subject)
	assert.Equal(t, envelope.CodeInvalidParams, ev.ErrorCode)

	h := s.Health(context.Background())
	require.NotNil(t, h.Checks.Events)
	assert.True(t, *h.Checks.Events)
	assert.Equal(t, "healthy", h.Status)
	assert.EqualValues(t, 2, h.Relay.Responded)
}
