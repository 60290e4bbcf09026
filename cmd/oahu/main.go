// oahu drives the periodic trigger/ready/completed roles, the debug HTTP
// surface, and one-off stream/error inspection against a configured store.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stacktach/oahu/pkg/api"
	"github.com/stacktach/oahu/pkg/config"
	"github.com/stacktach/oahu/pkg/database"
	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/events"
	"github.com/stacktach/oahu/pkg/queue"
	"github.com/stacktach/oahu/pkg/scheduler"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/store/memory"
	"github.com/stacktach/oahu/pkg/store/postgres"
	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

const usage = `Usage:
  oahu (trigger|ready|completed) [--config-dir=<dir>] [--daemon] [--polling-rate=<seconds>]
  oahu serve [--config-dir=<dir>] [--addr=<addr>]
  oahu errors [--config-dir=<dir>] [--state=<state>] [--limit=<n>] <trigger-name>
  oahu stream [--config-dir=<dir>] <stream-id>
  oahu -h | --help
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	role := os.Args[1]
	if role == "-h" || role == "--help" {
		fmt.Fprint(os.Stdout, usage)
		return
	}

	fs := flag.NewFlagSet(role, flag.ExitOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	daemon := fs.Bool("daemon", false, "run the role continuously instead of a single pass")
	pollingRate := fs.Int("polling-rate", 0, "seconds between daemon passes (overrides defaults.polling_rate_seconds)")
	addr := fs.String("addr", "", "listen address for the debug HTTP surface (overrides server.addr)")
	state := fs.String("state", "", `narrow "errors" output to "error" or "commit_error"`)
	limit := fs.Int("limit", 100, `max streams to print for "errors"`)
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}
	args := fs.Args()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir, builtinCallbacks())
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	s, db, dsn, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build store: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	dbgs := buildDebuggers(cfg.TriggerSpecs)

	switch role {
	case "trigger", "ready", "completed":
		runPeriodicRole(ctx, cfg, s, dbgs, scheduler.Role(role), *daemon, *pollingRate)
	case "serve":
		runServe(ctx, cfg, s, db, dsn, dbgs, *addr)
	case "errors":
		if len(args) != 1 {
			log.Fatal("usage: oahu errors <trigger-name>")
		}
		runErrors(ctx, s, args[0], *state, *limit)
	case "stream":
		if len(args) != 1 {
			log.Fatal("usage: oahu stream <stream-id>")
		}
		runStream(ctx, s, args[0])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// buildStore constructs the configured store.Store backend. For Postgres
// it also attaches a Publisher so every state transition broadcasts a
// WebSocket lifecycle event, regardless of whether this process also runs
// "serve" — any process mutating stream state can publish it.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, *database.Client, string, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return memory.New(), nil, "", nil
	case config.StoreBackendPostgres:
		dbCfg, err := postgresConfig(cfg.Store.Postgres)
		if err != nil {
			return nil, nil, "", err
		}
		client, err := database.NewClient(ctx, dbCfg)
		if err != nil {
			return nil, nil, "", fmt.Errorf("connect to postgres: %w", err)
		}
		pgStore := postgres.New(client)
		pgStore.SetPublisher(events.NewPublisher(client.DB()))
		return pgStore, client, dbCfg.DSN(), nil
	default:
		return nil, nil, "", fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

// postgresConfig merges the YAML-configured connection settings over the
// environment-derived pool defaults (env vars cover operational tuning
// that rarely belongs in checked-in trigger config).
func postgresConfig(spec *config.PostgresSpec) (database.Config, error) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return database.Config{}, err
	}
	if spec == nil {
		return dbCfg, nil
	}
	if spec.Host != "" {
		dbCfg.Host = spec.Host
	}
	if spec.Port != 0 {
		dbCfg.Port = spec.Port
	}
	if spec.User != "" {
		dbCfg.User = spec.User
	}
	if spec.Password != "" {
		dbCfg.Password = spec.Password
	}
	if spec.Database != "" {
		dbCfg.Database = spec.Database
	}
	if spec.SSLMode != "" {
		dbCfg.SSLMode = spec.SSLMode
	}
	return dbCfg, nil
}

// buildDebuggers constructs a Counting debugger for every trigger that
// opted in via its YAML "debug: true" flag; all others get no-op
// debuggers via scheduler/pool's debuggerFor fallback, so this map only
// needs entries worth the counting overhead.
func buildDebuggers(specs []config.TriggerSpec) map[string]debugger.Debugger {
	dbgs := make(map[string]debugger.Debugger)
	for _, spec := range specs {
		if spec.Debug {
			dbgs[spec.Name] = debugger.NewCounting(spec.Name)
		}
	}
	return dbgs
}

func runPeriodicRole(ctx context.Context, cfg *config.Config, s store.Store, dbgs map[string]debugger.Debugger, role scheduler.Role, daemon bool, pollingRateOverride int) {
	driver := scheduler.NewDriver(s, cfg.Triggers, dbgs, scheduler.ChunkSizes{
		Expiry:    cfg.GetExpiryChunkSize(),
		Ready:     cfg.GetReadyChunkSize(),
		Completed: cfg.GetCompletedChunkSize(),
	})

	if !daemon {
		if err := driver.RunOnce(ctx, role); err != nil {
			log.Fatalf("%s role pass failed: %v", role, err)
		}
		return
	}

	rate := cfg.GetPollingRateSeconds()
	if pollingRateOverride > 0 {
		rate = pollingRateOverride
	}
	slog.Info("starting daemon", "role", role, "polling_rate_seconds", rate)
	driver.RunDaemon(ctx, role, time.Duration(rate)*time.Second, cfg.Defaults.DetailedDebugDump)
}

// runServe starts the multi-worker "ready" role pool alongside the debug
// HTTP surface (health, stream/error inspection, WebSocket fanout). The
// trigger and completed roles are not driven here — run those as separate
// "oahu trigger --daemon" / "oahu completed --daemon" processes, the same
// way the original system split periodic roles across cron-style
// invocations rather than one monolithic server.
func runServe(ctx context.Context, cfg *config.Config, s store.Store, db *database.Client, dsn string, dbgs map[string]debugger.Debugger, addrOverride string) {
	podID, err := os.Hostname()
	if err != nil {
		podID = "unknown"
	}

	pool := queue.NewWorkerPool(podID, s, cfg.Queue, cfg.Triggers, dbgs)
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("failed to start worker pool: %v", err)
	}
	defer pool.Stop()

	var connManager *events.ConnectionManager
	if db != nil {
		connManager = events.NewConnectionManager(events.NewStreamCatchupAdapter(s), 5*time.Second)

		listener := events.NewNotifyListener(dsn, connManager)
		if err := listener.Start(ctx); err != nil {
			log.Fatalf("failed to start notify listener: %v", err)
		}
		connManager.SetListener(listener)
		defer listener.Stop(context.Background())
	}

	addr := cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}

	var sqlDB *sql.DB
	if db != nil {
		sqlDB = db.DB()
	}
	srv := api.NewServer(cfg, s, sqlDB, pool, connManager, dbgs)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("debug server shutdown error", "error", err)
		}
	}()

	slog.Info("debug HTTP surface listening", "addr", addr)
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("debug server failed: %v", err)
	}
}

func runErrors(ctx context.Context, s store.Store, triggerName, stateFilter string, limit int) {
	states := []stream.State{stream.Error, stream.CommitError}
	switch stateFilter {
	case "error":
		states = []stream.State{stream.Error}
	case "commit_error":
		states = []stream.State{stream.CommitError}
	case "":
	default:
		log.Fatalf(`--state must be "error" or "commit_error", got %q`, stateFilter)
	}

	for _, st := range states {
		streams, err := s.FindStreams(ctx, triggerName, st, limit)
		if err != nil {
			log.Fatalf("failed to list %s streams: %v", st, err)
		}
		for _, sm := range streams {
			fmt.Printf("%s\t%s\t%s\n", sm.ID, sm.TriggerName, sm.LastError)
		}
	}
}

func runStream(ctx context.Context, s store.Store, streamID string) {
	st, err := s.GetStream(ctx, streamID)
	if err != nil {
		log.Fatalf("failed to load stream: %v", err)
	}
	evs, err := s.LoadEvents(ctx, streamID)
	if err != nil {
		log.Fatalf("failed to load events: %v", err)
	}

	out := struct {
		Stream *stream.Stream `json:"stream"`
		Events []any          `json:"events"`
	}{Stream: st}
	for _, e := range evs {
		out.Events = append(out.Events, map[string]any(e))
	}

	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal stream: %v", err)
	}
	fmt.Println(string(enc))
}

// builtinCallbacks returns the pipeline callback factories available
// without any application-specific wiring. Side-effect callbacks (paging,
// webhooks, downstream writes) are the embedding application's concern —
// mirroring the original system's simport-loaded trigger_callback classes
// — so "log" is the only one built in here: it exists so a trigger
// definition is runnable out of the box for local testing and ops
// smoke-checks.
func builtinCallbacks() map[string]config.CallbackFactory {
	return map[string]config.CallbackFactory{
		"log": func(triggerName string) (trigger.Callback, error) {
			return &logCallback{triggerName: triggerName}, nil
		},
	}
}

// logCallback logs both pipeline phases at info level and never fails,
// useful as a default pipeline entry for triggers that only need an
// operational record that they fired.
type logCallback struct {
	triggerName string
}

func (c *logCallback) Name() string { return "log" }

func (c *logCallback) OnTrigger(s *stream.Stream, _ map[string]any) error {
	slog.Info("trigger fired", "trigger", c.triggerName, "stream_id", s.ID, "traits", s.IdentifyingTraits)
	return nil
}

func (c *logCallback) Commit(s *stream.Stream, _ map[string]any) error {
	slog.Info("trigger committed", "trigger", c.triggerName, "stream_id", s.ID)
	return nil
}
