// Package server orchestrates all components: carrier adapter, tools, relay
// engine, optional database and event bus, HTTP health and invoke endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/edri2or-commits/project38-or-sub003/internal/config"
	"github.com/edri2or-commits/project38-or-sub003/pkg/commsutil"
	"github.com/edri2or-commits/project38-or-sub003/pkg/db"
	"github.com/edri2or-commits/project38-or-sub003/pkg/dispatcher"
	"github.com/edri2or-commits/project38-or-sub003/pkg/events"
	"github.com/edri2or-commits/project38-or-sub003/pkg/relay"
	"github.com/edri2or-commits/project38-or-sub003/pkg/tools"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport/functioncall"
)

const logPrefix = "server:server"

// pruneInterval is how often expired ids are removed from the durable store.
const pruneInterval = time.Hour

// Server is the relay orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	repo       *db.ProcessedRepository
	httpServer *http.Server
	tools      *tools.Registry
	relay      *relay.Relay

	wg sync.WaitGroup
}

// HealthChecks reports the state of each dependency. Optional dependencies
// are omitted when not configured.
type HealthChecks struct {
	Carrier  bool  `json:"carrier"`
	Database *bool `json:"database,omitempty"`
	Events   *bool `json:"events,omitempty"`
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string       `json:"status"`
	Transport string       `json:"transport"`
	SessionID string       `json:"sessionId,omitempty"`
	Checks    HealthChecks `json:"checks"`
	Relay     relay.Stats  `json:"relay"`
	Timestamp string       `json:"timestamp"`
}

// SetupLogging installs the default slog text handler at the given level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// BuildTools returns the builtin tools adjusted by the optional catalog file.
func BuildTools(catalogPath string) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("%s - failed to register builtin tools: %w", logPrefix, err)
	}
	if catalogPath == "" {
		return reg, nil
	}
	cat, err := tools.LoadCatalog(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load tool catalog: %w", logPrefix, err)
	}
	if err := cat.Apply(reg); err != nil {
		return nil, fmt.Errorf("%s - failed to apply tool catalog: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Applied tool catalog %s (%d entries)", logPrefix, catalogPath, len(cat.Tools)))
	return reg, nil
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting relay on %s transport", logPrefix, cfg.Transport))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	s.Start(ctx)
	slog.Info(fmt.Sprintf("%s - Relay is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown: stop polling first so no request is left half handled.
	cancel()
	s.wg.Wait()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	s.httpServer.Shutdown(shutdownCtx)
	s.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New wires the relay from cfg. Database and event bus are connected only
// when their URLs are set.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	// Step 1: Tools
	reg, err := BuildTools(cfg.ToolCatalog)
	if err != nil {
		return nil, err
	}
	s.tools = reg

	// Step 2: Carrier
	adapter, err := cfg.OpenAdapter()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open %s transport: %w", logPrefix, cfg.Transport, err)
	}

	// Step 3: Processed set, durable when a database is configured
	memory := relay.NewMemorySet(cfg.ProcessedCapacity, cfg.ProcessedTTL)
	var processed relay.ProcessedSet = memory
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool

		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				s.Close()
				return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		s.repo = db.NewProcessedRepository(pool)
		processed = relay.NewLayeredSet(memory, s.repo)
	}

	// Step 4: Event bus
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
		}
		s.nc = nc
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Subject: cfg.EventSubject})
		slog.Info(fmt.Sprintf("%s - Publishing relay events to %s", logPrefix, cfg.COMMSURL))
	}

	// Step 5: Dispatcher and relay engine
	disp := dispatcher.NewDispatcher(reg, dispatcher.ServerInfo{Name: cfg.ServerName, Version: cfg.ServerVersion})
	r, err := relay.New(relay.Params{
		Adapter:      adapter,
		Dispatcher:   disp,
		Processed:    processed,
		Publisher:    publisher,
		SessionID:    cfg.SessionID,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.relay = r
	return s, nil
}

// Start runs the poll loop, and the prune loop when a durable store is
// configured, until ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.relay.Run(ctx)
	}()

	if s.repo != nil && s.cfg.ProcessedTTL > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pruneLoop(ctx)
		}()
	}
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.repo.Prune(ctx, time.Now().Add(-s.cfg.ProcessedTTL)); err != nil && ctx.Err() == nil {
				slog.Warn(fmt.Sprintf("%s - Prune failed: %v", logPrefix, err))
			}
		}
	}
}

// Close releases the event bus connection and database pool.
func (s *Server) Close() {
	if s.nc != nil {
		s.nc.Drain()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Relay returns the relay engine.
func (s *Server) Relay() *relay.Relay { return s.relay }

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.Health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	if s.relay.Adapter().Name() == transport.FunctionCall {
		mux.Handle("/invoke", functioncall.NewHandler(s.relay, s.cfg.FunctionToken))
	}
	return mux
}

// Health checks the carrier and the configured optional dependencies.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	stats := s.relay.Stats()
	h := &HealthOutput{
		Status:    "healthy",
		Transport: s.relay.Adapter().Name(),
		SessionID: s.cfg.SessionID,
		Checks:    HealthChecks{Carrier: stats.LastError == ""},
		Relay:     stats,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.pool != nil {
		ok := s.pool.Ping(ctx) == nil
		h.Checks.Database = &ok
	}
	if s.nc != nil {
		ok := s.nc.IsConnected()
		h.Checks.Events = &ok
	}
	if !h.Checks.Carrier ||
		(h.Checks.Database != nil && !*h.Checks.Database) ||
		(h.Checks.Events != nil && !*h.Checks.Events) {
		h.Status = "unhealthy"
	}
	return h
}

// homePageTemplate is the HTML for the relay status page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Storage Relay</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .error { color: #cc0000; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>Storage Relay</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Transport: <span class="stat">{{.Health.Transport}}</span>{{if .Health.SessionID}} (session {{.Health.SessionID}}){{end}}</p>
    {{if .Health.Relay.LastError}}<p class="error">Last poll error: {{.Health.Relay.LastError}}</p>{{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Requests</h2>
    <table>
      <tr><th>Polls</th><th>Seen</th><th>Processed</th><th>Responded</th><th>Skipped</th><th>Malformed</th><th>Failed</th></tr>
      <tr>
        <td>{{.Health.Relay.Polls}}</td><td>{{.Health.Relay.Seen}}</td><td>{{.Health.Relay.Processed}}</td>
        <td>{{.Health.Relay.Responded}}</td><td>{{.Health.Relay.Skipped}}</td><td>{{.Health.Relay.Malformed}}</td>
        <td>{{.Health.Relay.Failed}}</td>
      </tr>
    </table>
    {{with .Health.Relay.Governor}}
    <p>Carrier writes: <span class="stat">{{.Writes}}</span>, fetches: <span class="stat">{{.Fetches}}</span>, not modified: <span class="stat">{{.NotModified}}</span></p>
    {{end}}
  </section>

  <section>
    <h2>Tools</h2>
    {{if not .Tools}}
    <p>No tools registered.</p>
    {{else}}
    <table>
      <thead><tr><th>Name</th><th>Description</th></tr></thead>
      <tbody>
        {{range .Tools}}<tr><td>{{.Name}}</td><td>{{.Description}}</td></tr>{{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health *HealthOutput
	Tools  []tools.Info
}

// handleHome returns an HTTP handler for the relay status page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.Health(ctx), Tools: s.tools.List()}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
