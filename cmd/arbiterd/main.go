package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"repchain/config"
	"repchain/consensus/mining"
	"repchain/core/events"
	"repchain/observability"
	"repchain/observability/logging"
	telemetry "repchain/observability/otel"
	"repchain/rpc"
	"repchain/services/archive"
	"repchain/state/bank"
	"repchain/storage"
)

const envVar = "REPCHAIN_ENV"

func main() {
	configFile := flag.String("config", "./arbiter.toml", "Path to the configuration file")
	flag.Parse()

	var err error
	switch args := flag.Args(); {
	case len(args) == 0:
		err = run(*configFile)
	case args[0] == "export":
		err = runExport(*configFile, args[1:])
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbiterd: %v\n", err)
		os.Exit(1)
	}
}

// runExport writes archived events to a Parquet file and exits.
func runExport(configFile string, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "", "Output file (defaults to ExportDir/events-<unix>.parquet)")
	eventType := fs.String("type", "", "Only export this event type")
	from := fs.Uint64("from", 0, "First cycle to export")
	to := fs.Uint64("to", 0, "Last cycle to export")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Archive.Enabled() {
		return errors.New("archive is not configured")
	}
	store, err := openArchive(cfg, slog.Default())
	if err != nil {
		return err
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		dir := strings.TrimSpace(cfg.Archive.ExportDir)
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "exports")
		}
		path = filepath.Join(dir, fmt.Sprintf("events-%d.parquet", time.Now().Unix()))
	}
	n, err := store.ExportParquet(path, archive.EventFilter{Type: *eventType, FromCycle: *from, ToCycle: *to})
	if err != nil {
		return err
	}
	fmt.Printf("exported %d events to %s\n", n, path)
	return nil
}

func openArchive(cfg *config.Config, logger *slog.Logger) (*archive.Archive, error) {
	db, err := archive.Open(archive.Config{Driver: cfg.Archive.Driver, DSN: cfg.Archive.DSN})
	if err != nil {
		return nil, err
	}
	return archive.New(db, archive.WithLogger(logger), archive.WithBuffer(cfg.Archive.Buffer))
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(cfg.Logging.Env)
	if env == "" {
		env = strings.TrimSpace(os.Getenv(envVar))
	}
	logger := logging.SetupWithFile("arbiterd", env, logging.FileSink{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(cfg.Backend, cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	stakes := bank.NewStakeLedger(db)
	allocs, err := cfg.Genesis.Allocations()
	if err != nil {
		return err
	}
	applied, err := stakes.ApplyGenesis(allocs)
	if err != nil {
		return fmt.Errorf("apply genesis stakes: %w", err)
	}
	if applied {
		logger.Info("genesis stakes credited", slog.Int("miners", len(allocs)))
	}

	params, err := cfg.Mining.Params()
	if err != nil {
		return err
	}
	skills, err := cfg.Skills.Tree()
	if err != nil {
		return fmt.Errorf("skills: %w", err)
	}
	var (
		downstream events.Fanout
		hub        *rpc.EventHub
		store      *archive.Archive
	)
	if cfg.Events.Enabled {
		hub = rpc.NewEventHub(cfg.Events.Buffer)
		downstream = append(downstream, hub)
	}
	if cfg.Archive.Enabled() {
		if store, err = openArchive(cfg, logger); err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		downstream = append(downstream, store)
	}
	arb, err := mining.NewArbiter(params, skills, stakes, stakes, db,
		mining.WithLogger(logger),
		mining.WithEmitter(observability.LogEmitter{Logger: logger, Next: downstream}),
	)
	if err != nil {
		return fmt.Errorf("create arbiter: %w", err)
	}

	token := cfg.ResolveAuthToken()
	secret := cfg.JWT.Secret()
	if cfg.JWT.SecretEnv != "" && secret == "" {
		logger.Warn("JWT secret variable is empty; service tokens are disabled", slog.String("env", cfg.JWT.SecretEnv))
	}
	if token == "" && secret == "" {
		logger.Warn("no RPC credentials configured; admin methods are disabled")
	}
	server := rpc.NewServer(arb, stakes, rpc.Config{
		AuthToken: token,
		JWT: rpc.JWTConfig{
			HMACSecret: secret,
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
			ClockSkew:  cfg.JWT.ClockSkew(),
		},
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Burst:             cfg.RateLimitBurst,
		Events:            hub,
		Archive:           store,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tick := time.Duration(cfg.TickSeconds) * time.Second
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return arb.Run(gctx, tick) })
	g.Go(func() error { return server.Serve(gctx, cfg.RPCAddress) })
	if store != nil {
		g.Go(func() error { return store.Run(gctx) })
	}

	logger.Info("arbiter started",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("backend", cfg.Backend),
		slog.Duration("tick", tick),
		slog.Bool("events", hub != nil),
		slog.Bool("archive", store != nil))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("arbiter stopped")
	return nil
}
