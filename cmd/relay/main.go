// Package main is the entrypoint for the storage relay and its command-line client.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/edri2or-commits/project38-or-sub003/internal/config"
	"github.com/edri2or-commits/project38-or-sub003/internal/server"
	"github.com/edri2or-commits/project38-or-sub003/pkg/client"
	"github.com/edri2or-commits/project38-or-sub003/pkg/db"
)

const usage = `Usage: relay [command]
       relay serve                     Start the relay (poll loop, HTTP health and invoke endpoints).
       relay call <method> [json]      Send one request through the carrier and print the result.
       relay tools                     List the tools served by the relay.
       relay migrate up                Run database migrations.
       relay migrate status            Show migration status.
       relay ensure-db [name]          Create database if missing (default: name in DATABASE_URL).
       relay processed clear           Forget every processed correlation id.
       relay processed prune [age]     Forget processed ids older than age (default PROCESSED_TTL).

Commands:
  serve           (default) Start the relay on RELAY_TRANSPORT.
  call            Methods: initialize, tools/list, tools/call. Params are a JSON object,
                  e.g. relay call tools/call '{"name":"echo","arguments":{"x":1}}'.
  tools           Shortcut for tools/list printed as a table.
  migrate up      Create the processed-request table.
  migrate status  Show current migration status.
  processed       Maintain the durable processed-request store.

Environment: RELAY_TRANSPORT (objectstore, issuecomment, functioncall), RELAY_SESSION_ID,
OBJECTSTORE_URL, GITHUB_TOKEN, GITHUB_REPOSITORY, GITHUB_ISSUE, FUNCTION_URL, FUNCTION_TOKEN,
DATABASE_URL (optional), COMMS_URL (optional), HTTP_PORT, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "call":
		if len(args) < 2 {
			log.Fatalf("relay call: require method (initialize, tools/list, tools/call)")
		}
		if err := withConfig(func(cfg *config.Config) error {
			return runCall(context.Background(), cfg, args[1:], os.Stdout)
		}); err != nil {
			log.Fatalf("relay call: %v", err)
		}
		return
	case "tools":
		if err := withConfig(func(cfg *config.Config) error {
			return runTools(context.Background(), cfg, os.Stdout)
		}); err != nil {
			log.Fatalf("relay tools: %v", err)
		}
		return
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("relay migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("relay migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("relay migrate status: %v", err)
			}
		default:
			log.Fatalf("relay migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "processed":
		if len(args) < 2 {
			log.Fatalf("relay processed: require subcommand (clear, prune)")
		}
		if err := runProcessed(args[1:]); err != nil {
			log.Fatalf("relay processed %s: %v", args[1], err)
		}
		return
	case "ensure-db":
		dbName := ""
		if len(args) > 1 {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("relay ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("relay: %v", err)
	}
}

// withConfig loads and validates client configuration, then runs fn.
func withConfig(fn func(cfg *config.Config) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForCall(); err != nil {
		return err
	}
	return fn(cfg)
}

// parseParams decodes the optional JSON object given on the command line.
func parseParams(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return params, nil
}

func newClient(cfg *config.Config) (*client.Client, error) {
	adapter, err := cfg.OpenAdapter()
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", cfg.Transport, err)
	}
	return client.New(adapter, client.Options{
		SessionID:         cfg.SessionID,
		PollInterval:      cfg.PollInterval,
		Timeout:           cfg.CallTimeout,
		VersionConstraint: cfg.VersionConstraint,
	}), nil
}

func runCall(ctx context.Context, cfg *config.Config, args []string, w io.Writer) error {
	method := args[0]
	raw := ""
	if len(args) > 1 {
		raw = args[1]
	}
	params, err := parseParams(raw)
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	result, err := c.Call(ctx, method, params, cfg.CallTimeout)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(result)
	}
	pretty.WriteString("\n")
	_, err = w.Write(pretty.Bytes())
	return err
}

func runTools(ctx context.Context, cfg *config.Config, w io.Writer) error {
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	list, err := c.ListTools(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
	}
	return tw.Flush()
}

// loadDBConfig loads configuration for database commands.
func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMigrateUp() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := db.EnsureDatabase(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, cfg.MigrationPath, os.Stdout)
}

// pruneCutoff returns the instant before which processed ids are pruned.
func pruneCutoff(now time.Time, age string, fallback time.Duration) (time.Time, error) {
	d := fallback
	if age != "" {
		parsed, err := time.ParseDuration(age)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid age %q: %w", age, err)
		}
		d = parsed
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("age must be positive, got %s", d)
	}
	return now.Add(-d), nil
}

func runProcessed(args []string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	var cutoff time.Time
	switch args[0] {
	case "clear":
	case "prune":
		age := ""
		if len(args) > 1 {
			age = args[1]
		}
		if cutoff, err = pruneCutoff(time.Now(), age, cfg.ProcessedTTL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown subcommand %q (use clear, prune)", args[0])
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if args[0] == "clear" {
		return db.ClearProcessed(ctx, pool)
	}
	n, err := db.NewProcessedRepository(pool).Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d processed ids.\n", n)
	return nil
}

// targetDatabaseURL swaps the database name of databaseURL for dbName when given.
func targetDatabaseURL(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if dbName != "" {
		// Query (e.g. sslmode) is kept on u.RawQuery.
		u.Path = "/" + dbName
	}
	return u.String(), nil
}

func runEnsureDB(dbName string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	targetURL, err := targetDatabaseURL(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Println("Database is ready.")
	return nil
}
