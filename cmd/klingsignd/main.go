// Package main provides the klingsignd daemon - the wallet transaction
// and signing service behind the UI.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingsign/internal/backend"
	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/chain"
	"github.com/Klingon-tech/klingsign/internal/config"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/rpc"
	"github.com/Klingon-tech/klingsign/internal/signing"
	"github.com/Klingon-tech/klingsign/internal/storage"
	"github.com/Klingon-tech/klingsign/internal/submission"
	"github.com/Klingon-tech/klingsign/internal/subscription"
	"github.com/Klingon-tech/klingsign/internal/transaction"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

var (
	version = rpc.Version
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.klingsign", "Data directory")
		listenAddr  = flag.String("listen", "", "JSON-RPC/WebSocket address, overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate data)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, replaced once the config is loaded)
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("klingsignd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	cfg, err := config.LoadConfig(effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	if *listenAddr != "" {
		cfg.RPC.Listen = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *testnet {
		cfg.NetworkType = config.Testnet
	}

	logOut, closeLog, err := openLogOutput(cfg.Logging.File)
	if err != nil {
		log.Fatal("Failed to open log file", "path", cfg.Logging.File, "error", err)
	}
	defer closeLog()
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
		Output:     logOut,
		JSON:       cfg.Logging.JSON,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(effectiveDataDir), "network", cfg.NetworkType)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Chains and backends
	network := cfg.NetworkType.ChainNetwork()
	chains := chain.NewRegistry(network)
	if err := cfg.ApplyCatalog(chains); err != nil {
		log.Fatal("Failed to apply chain catalog", "error", err)
	}
	backends := backend.NewDefaultRegistry(network, cfg.Backends)
	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	for slug, err := range backends.ConnectAll(connectCtx) {
		log.Warn("Backend unavailable", "chain", slug, "error", err)
	}
	connectCancel()
	defer backends.CloseAll()
	log.Info("Backend registry initialized", "network", network, "backends", backends.List())

	// Pipeline
	requests := request.NewRegistry(request.Config{
		Store:         store,
		Metrics:       m,
		DefaultExpiry: cfg.Pipeline.RequestExpiry,
	})
	if err := requests.Recover(); err != nil {
		log.Warn("Failed to recover pending requests", "error", err)
	}

	keys := keyring.New(store)
	autoLock := keyring.NewAutoLock(cfg.Pipeline.AutoLock, keys.LockAll)
	defer autoLock.Stop()

	resolver := balance.New(balance.Config{
		Chains:             chains,
		Backends:           backends,
		CrossChainFeeRatio: cfg.Pipeline.FeeRatio(),
	})
	builder := transaction.NewBuilder(transaction.Config{
		Resolver:    resolver,
		Signers:     keys,
		XcmMinRatio: cfg.Pipeline.XcmMinRatio(),
		Metrics:     m,
	})
	coordinator := signing.NewCoordinator(signing.Config{
		Requests:       requests,
		Chains:         chains,
		Keys:           keys,
		Store:          store,
		ProposalExpiry: cfg.Pipeline.ProposalExpiry,
	})
	submitter := submission.New(submission.Config{
		Chains:           chains,
		Backends:         backends,
		Keys:             keys,
		External:         coordinator,
		Store:            store,
		Metrics:          m,
		PollInterval:     cfg.Pipeline.TxPollInterval,
		EVMConfirmations: cfg.Pipeline.EVMConfirmations,
	})
	submitter.Start()
	defer submitter.Stop()

	// RPC
	rpcServer := rpc.NewServer(rpc.Config{
		Requests:       requests,
		Subscriptions:  subscription.NewMultiplexer(m),
		Resolver:       resolver,
		Builder:        builder,
		Submission:     submitter,
		Signing:        coordinator,
		Keys:           keys,
		AutoLock:       autoLock,
		Metrics:        m,
		AllowedOrigins: cfg.RPC.AllowedOrigins,
	})
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		requests.RunSweeper(gctx, cfg.Pipeline.SweepInterval)
		return nil
	})

	var metricsServer *http.Server
	if m != nil {
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server error", "error", err)
			}
			return nil
		})
		log.Info("Metrics exporter started", "addr", cfg.Metrics.Listen)
	}

	printBanner(log, cfg)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	cancel()
	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	g.Wait()

	log.Info("Goodbye!")
}

// openLogOutput returns stdout, or path opened for appending.
func openLogOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	path = config.ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  Klingsign daemon (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.RPC.Listen)
	log.Infof("  WS:  ws://%s/ws", cfg.RPC.Listen)
	if cfg.Metrics.Enabled {
		log.Infof("  Metrics: http://%s/metrics", cfg.Metrics.Listen)
	}
	log.Infof("  Auto-lock: %s", cfg.Pipeline.AutoLock)
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
