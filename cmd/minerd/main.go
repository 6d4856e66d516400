package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"repchain/cmd/internal/passphrase"
	"repchain/core/events"
	"repchain/core/types"
	"repchain/crypto"
	"repchain/observability"
	"repchain/observability/logging"
	"repchain/rpc"
	"repchain/services/minerd"
)

const defaultPassphraseEnv = "REPCHAIN_MINER_PASS"

func main() {
	configFile := flag.String("config", "./minerd.yaml", "Path to the miner configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "minerd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := minerd.LoadConfig(configFile)
	if err != nil {
		return err
	}
	logger := logging.SetupWithFile("minerd", cfg.Logging.Env, logging.FileSink{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	passEnv := strings.TrimSpace(cfg.Keystore.PassphraseEnv)
	if passEnv == "" {
		passEnv = defaultPassphraseEnv
	}
	pass, err := passphrase.NewSource(passEnv, "miner keystore").Get()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.Keystore.Path, pass)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}
	if created {
		logger.Info("generated miner key; fund it with stake before mining",
			slog.String("path", cfg.Keystore.Path),
			slog.String("miner", crypto.MinerAddress(key.Address())))
	}

	db, err := cfg.OpenDatabase()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client := minerd.NewRPCClient(rpc.NewClient(rpc.ClientConfig{
		URL:     cfg.Arbiter,
		Key:     key,
		Timeout: cfg.RequestTimeout.Duration,
	}))
	miner, err := minerd.NewMiner(cfg, key.Address(), client, db,
		minerd.WithLogger(logger),
		minerd.WithEmitter(observability.LogEmitter{Logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("create miner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return miner.Run(gctx) })
	if cfg.Events {
		g.Go(func() error { return watchEvents(gctx, cfg.Arbiter, miner, logger) })
	}
	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		g.Go(func() error { return serveMetrics(gctx, listen, logger) })
	}

	logger.Info("miner started",
		slog.String("miner", crypto.MinerAddress(key.Address())),
		slog.String("arbiter", cfg.Arbiter))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("miner stopped")
	return nil
}

// wakeOn lists the arbiter events after which the miner has work to do.
var wakeOn = []string{
	events.TypeCycleActivated,
	events.TypePairingOpened,
	events.TypePairingResolved,
	events.TypeCycleRetried,
	events.TypeCycleConfirmed,
}

// watchEvents keeps an event subscription open, reconnecting with backoff,
// and wakes the miner on every phase change.
func watchEvents(ctx context.Context, endpoint string, miner *minerd.Miner, logger *slog.Logger) error {
	const maxBackoff = time.Minute
	backoff := time.Second
	for {
		connected := time.Now()
		err := rpc.SubscribeEvents(ctx, endpoint, wakeOn, func(evt types.Event) {
			logger.Debug("arbiter event", slog.String("type", evt.Type), slog.String("cycle", evt.Attributes["cycle"]))
			miner.Wake()
		})
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(connected) > maxBackoff {
			backoff = time.Second
		}
		logger.Warn("event stream disconnected", slog.Any("error", err), slog.Duration("retry", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
