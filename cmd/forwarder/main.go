package main

import (
	"context"
	"encoding/json"
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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ryanzhou/perp-forwarder/internal/backoff"
	"github.com/ryanzhou/perp-forwarder/internal/binance"
	"github.com/ryanzhou/perp-forwarder/internal/config"
	"github.com/ryanzhou/perp-forwarder/internal/fanout"
	"github.com/ryanzhou/perp-forwarder/internal/ingest"
	"github.com/ryanzhou/perp-forwarder/internal/metrics"
	"github.com/ryanzhou/perp-forwarder/internal/pipeline"
	"github.com/ryanzhou/perp-forwarder/internal/shm"
	"github.com/ryanzhou/perp-forwarder/internal/version"
	"github.com/ryanzhou/perp-forwarder/internal/wire"
)

// Exit codes.
const (
	exitOK        = 0
	exitBootstrap = 1
	exitUsage     = 2
	exitRuntime   = 3
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: forwarder --assets SYM1,SYM2,... [--config path] <mode> [mode flags]

modes:
  tcp  --port <port>                  broadcast frames over TCP (default port %d)
  shm  --name <name> --capacity <n>   write frames into a /dev/shm ring

`, config.DefaultTCPPort)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	// Optional .env for local runs; real deployments set the environment.
	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevelFromEnv(),
	}))
	slog.SetDefault(logger)

	assetsFlag := flag.String("assets", "", "comma-separated perp symbols to subscribe (max 10)")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Usage = usage
	flag.Parse()

	cfg, mode, err := buildConfig(*configPath, *assetsFlag, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		usage()
		return exitUsage
	}

	logger.Info("starting forwarder",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"assets", cfg.Assets,
		"mode", mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	// Health and metrics server comes up first so bootstrap is observable.
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(cfg, m, logger),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	policy := backoff.Policy{
		Base:   cfg.Exchange.ReconnectBaseDelay,
		Cap:    cfg.Exchange.ReconnectMaxDelay,
		Factor: 2,
		Jitter: 0.2,
	}

	// Bootstrap the reference values before touching the websocket.
	logger.Info("bootstrapping reference values", "rest_url", cfg.Exchange.RestURL)
	restClient := binance.NewClient(cfg.Exchange.RestURL,
		binance.WithLogger(logger),
		binance.WithTimeout(cfg.Exchange.Timeout),
		binance.WithBackoff(policy),
	)
	refPrices, refQtys, err := restClient.BootstrapReferences(ctx, cfg.Assets)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		return exitBootstrap
	}

	header, err := wire.NewHeader(cfg.Assets, time.Now().UnixMilli(), refPrices, refQtys)
	if err != nil {
		logger.Error("header build failed", "error", err)
		return exitRuntime
	}
	logger.Info("header built",
		"assets", len(header.Assets),
		"reference_timestamp", header.ReferenceTimestamp,
	)

	sink, cleanup, err := buildSink(cfg, mode, header.Encode(), m, logger)
	if err != nil {
		logger.Error("sink setup failed", "error", err)
		return exitRuntime
	}
	defer cleanup()

	trades := make(chan wire.Trade, cfg.Pipeline.ChannelSize)

	consumer := ingest.NewConsumer(ingest.Config{
		URL:          cfg.Exchange.StreamURL,
		Assets:       cfg.Assets,
		PingInterval: cfg.Exchange.PingInterval,
		PongTimeout:  cfg.Exchange.PongTimeout,
		IdleTimeout:  cfg.Exchange.IdleTimeout,
		Backoff:      policy,
	}, trades, m, logger)

	p := pipeline.New(header, trades, sink, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return p.Run(gctx) })

	logger.Info("forwarder running")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal runtime error", "error", err)
		return exitRuntime
	}

	logger.Info("forwarder stopped", "trades_dropped", consumer.Dropped())
	return exitOK
}

// buildConfig merges the config file, CLI flags, and the mode subcommand.
func buildConfig(configPath, assets string, args []string) (*config.ForwarderConfig, string, error) {
	var cfg *config.ForwarderConfig
	var err error
	if configPath != "" {
		cfg, err = config.LoadWithDefaults(configPath)
		if err != nil {
			return nil, "", err
		}
	} else {
		cfg = config.Default()
	}

	if assets != "" {
		cfg.Assets = nil
		for _, sym := range strings.Split(assets, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				cfg.Assets = append(cfg.Assets, strings.ToUpper(sym))
			}
		}
	}

	if len(args) == 0 {
		return nil, "", errors.New("a mode is required: tcp or shm")
	}

	mode := args[0]
	switch mode {
	case "tcp":
		fs := flag.NewFlagSet("tcp", flag.ExitOnError)
		port := fs.Int("port", cfg.TCP.Port, "port to bind on")
		fs.Parse(args[1:])
		cfg.TCP.Port = *port

	case "shm":
		fs := flag.NewFlagSet("shm", flag.ExitOnError)
		name := fs.String("name", cfg.SHM.Name, "name of the shared memory queue (file in /dev/shm)")
		capacity := fs.Uint64("capacity", cfg.SHM.Capacity, "ring capacity in bytes")
		fs.Parse(args[1:])
		cfg.SHM.Name = *name
		cfg.SHM.Capacity = *capacity
		if cfg.SHM.Name == "" {
			return nil, "", errors.New("shm mode requires --name")
		}

	default:
		return nil, "", fmt.Errorf("unknown mode %q", mode)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, mode, nil
}

// buildSink creates the transport sink for the selected mode.
func buildSink(cfg *config.ForwarderConfig, mode string, header []byte, m *metrics.Metrics, logger *slog.Logger) (pipeline.Sink, func(), error) {
	switch mode {
	case "tcp":
		server := fanout.NewServer(fanout.Config{
			Addr:         fmt.Sprintf(":%d", cfg.TCP.Port),
			BufferSize:   cfg.TCP.BufferSize,
			WriteTimeout: cfg.TCP.WriteTimeout,
		}, header, m, logger)
		return pipeline.NewTCPSink(server), func() { server.Wait() }, nil

	case "shm":
		ring, err := shm.Create(cfg.SHM.Name, cfg.SHM.Capacity)
		if err != nil {
			return nil, nil, err
		}
		return pipeline.NewShmSink(ring, header, m, logger), func() { ring.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown mode %q", mode)
}

// logLevelFromEnv maps LOG_LEVEL to a slog level, defaulting to info.
func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// createHealthHandler creates the HTTP handler for health checks and
// metrics.
func createHealthHandler(cfg *config.ForwarderConfig, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(cfg.Metrics.Path, m.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status   string   `json:"status"`
			Instance string   `json:"instance"`
			Version  string   `json:"version"`
			Assets   []string `json:"assets"`
		}{
			Status:   "healthy",
			Instance: cfg.Instance.ID,
			Version:  version.String(),
			Assets:   cfg.Assets,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
