package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"solana-mcp/go-backend/internal/adapters/admin"
	"solana-mcp/go-backend/internal/config"
	"solana-mcp/go-backend/internal/ledger"
	"solana-mcp/go-backend/internal/metrics"
	"solana-mcp/go-backend/internal/platform/privacylog"
	"solana-mcp/go-backend/internal/platform/ratelimiter"
	"solana-mcp/go-backend/internal/server"
	"solana-mcp/go-backend/internal/transport"
	"solana-mcp/go-backend/internal/wallet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	promversion "github.com/prometheus/common/version"
)

const limiterIdleTTL = 10 * time.Minute

// run wires one server from cfg and serves it until the input ends, a
// shutdown request arrives or ctx is cancelled. The server is always shut
// down before run returns.
func run(ctx context.Context, cfg config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	level := new(slog.LevelVar)
	parsed, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	level.Set(parsed)
	logger := newLogger(stderr, level)

	reg := newMetricsRegistry()
	recorder := metrics.New(reg)

	dialer := ledger.HTTPDialer{Options: ledger.Options{
		Timeout:    cfg.Ledger.Timeout,
		Limiter:    ratelimiter.New(cfg.Ledger.RateLimitRPS, cfg.Ledger.RateLimitBurst, limiterIdleTTL),
		Observer:   recorder.ObserveLedgerCall,
		Commitment: cfg.Ledger.Commitment,
	}}
	loader := wallet.Loader{BaseDir: cfg.WalletPath}
	srv, err := server.New(server.Options{
		RPCURL:            cfg.RPCURL,
		Dialer:            dialer,
		LoadWallets:       func() (*wallet.Registry, error) { return loader.Load(cfg.Wallets) },
		Tokens:            tokenLabels(cfg),
		ReadOnly:          cfg.ReadOnly,
		RequireInitialize: cfg.RequireInitialize,
		Logger:            logger,
		LogLevel:          level,
		Metrics:           recorder,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error("shutdown failed", "error", err.Error())
		}
	}()

	logger.Info("solana mcp server starting",
		"version", version,
		"rpc_url", cfg.RPCURL,
		"transport", cfg.Transport,
		"read_only", cfg.ReadOnly,
	)
	if cfg.InitializeOnStart {
		if _, err := srv.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	adminErr := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		adminSrv := admin.NewServer(cfg.MetricsAddr, srv, reg, logger)
		go func() { adminErr <- adminSrv.Run(runCtx) }()
	} else {
		adminErr <- nil
	}

	opts := transport.Options{MaxLineBytes: cfg.MaxLineBytes, Logger: logger.With("component", "transport")}
	serveErr := make(chan error, 1)
	go func() {
		if cfg.Transport == config.TransportSocket {
			serveErr <- transport.ListenAndServe(runCtx, cfg.ListenAddress(), srv, opts)
			return
		}
		serveErr <- transport.Serve(runCtx, srv, stdin, stdout, opts)
	}()

	select {
	case err = <-serveErr:
		cancel()
		if aerr := <-adminErr; err == nil {
			err = aerr
		}
	case err = <-adminErr:
		if err == nil {
			// Admin endpoint disabled or stopped with ctx.
			err = <-serveErr
			break
		}
		logger.Error("admin endpoint failed", "error", err.Error())
		cancel()
		<-serveErr
	}
	logger.Info("solana mcp server stopped", "state", srv.State().String())
	return err
}

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= config.LevelCritical {
					return slog.String(slog.LevelKey, "CRITICAL")
				}
			}
			return a
		},
	})
	return slog.New(privacylog.WrapHandler(handler))
}

func newMetricsRegistry() *prometheus.Registry {
	promversion.Version = version
	promversion.Revision = commit
	promversion.BuildDate = buildDate
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector("solana_mcp"),
	)
	return reg
}

func tokenLabels(cfg config.Config) map[string]server.TokenLabel {
	labels := cfg.TokenLabels()
	out := make(map[string]server.TokenLabel, len(labels))
	for mint, l := range labels {
		out[mint] = server.TokenLabel{Name: l.Name, Symbol: l.Symbol}
	}
	return out
}
