package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bin2nlp/bin2nlp/pkg/alerts"
	"github.com/bin2nlp/bin2nlp/pkg/auth"
	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/disassembler"
	"github.com/bin2nlp/bin2nlp/pkg/health"
	"github.com/bin2nlp/bin2nlp/pkg/jobengine"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/metrics"
	"github.com/bin2nlp/bin2nlp/pkg/orchestrator"
	"github.com/bin2nlp/bin2nlp/pkg/provider"
	"github.com/bin2nlp/bin2nlp/pkg/ratelimit"
	"github.com/bin2nlp/bin2nlp/pkg/storage"
	"github.com/bin2nlp/bin2nlp/pkg/uploadsession"

	bin2nlpapi "github.com/bin2nlp/bin2nlp/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decompile-and-translate HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		return runServe(configPath)
	},
}

func runServe(configPath string) error {
	logger := log.WithComponent("serve")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("database", true, "connected")

	blobs, err := storage.NewFilesystemBlobStore(cfg.Storage.RootDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	metrics.RegisterComponent("blob_storage", true, "ready")

	toolChecker := health.NewExecChecker([]string{cfg.DisassemblerPath, "-v"})
	if result := toolChecker.Check(context.Background()); !result.Healthy {
		logger.Warn().Str("tool", cfg.DisassemblerPath).Msg("disassembler tool probe failed at startup, continuing anyway")
	}

	breakers := breaker.NewRegistry(cfg.CircuitBreaker)
	providers := provider.NewRegistry(30 * time.Second)
	adapter := disassembler.NewAdapter(cfg.DisassemblerPath, cfg.DisassemblerStepTimeout())
	orch := orchestrator.NewOrchestrator(breakers, cfg.TranslationConcurrency)
	engine := jobengine.NewEngine(cfg, store, blobs, adapter, providers, orch)
	limiter := ratelimit.NewLimiter(store, cfg)
	authn := auth.NewAuthenticator(store, cfg.Auth.APIKeySalt)
	alertChecker := alerts.NewChecker(store, breakers, alerts.DefaultThresholds())
	collector := metrics.NewCollector(store, breakers, cfg.Redis.Addr, cfg.ProviderDefaults["local"].EndpointURL)

	sessions := uploadsession.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, time.Hour)
	defer sessions.Close()
	if err := sessions.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("upload session store unreachable at startup, continuing anyway")
	}

	metrics.SetVersion(Version)

	engine.Start()
	defer engine.Stop()
	collector.Start()
	defer collector.Stop()

	alertCtx, cancelAlerts := context.WithCancel(context.Background())
	go alertChecker.Run(alertCtx, time.Minute)
	defer cancelAlerts()

	gcCtx, cancelGC := context.WithCancel(context.Background())
	go runGCLoop(gcCtx, store, blobs, cfg)
	defer cancelGC()

	a := bin2nlpapi.New(cfg, store, blobs, engine, providers, authn, limiter, breakers, alertChecker, sessions)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: a.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// runGCLoop supervises the dedup cache and rate-limit bucket sweeps named
// by spec.md §4.1's gc() operation, on the same ticker-driven idiom the
// teacher uses for its scheduler loop.
func runGCLoop(ctx context.Context, store storage.Store, blobs storage.BlobStore, cfg *config.Config) {
	logger := log.WithComponent("gc")
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n, err := store.GCCacheEntries(ctx, now); err != nil {
				logger.Error().Err(err).Msg("cache gc failed")
			} else if n > 0 {
				logger.Info().Int("removed", n).Msg("cache entries expired")
			}
			if n, err := store.GCRateLimitBuckets(ctx, now.Add(-time.Hour)); err != nil {
				logger.Error().Err(err).Msg("rate limit bucket gc failed")
			} else if n > 0 {
				logger.Info().Int("removed", n).Msg("rate limit buckets expired")
			}
			uploadTTL := time.Duration(cfg.Storage.Kinds.Upload.TTLSeconds) * time.Second
			resultTTL := time.Duration(cfg.Storage.Kinds.Result.TTLSeconds) * time.Second
			if n, err := blobs.GC(ctx, uploadTTL, resultTTL); err != nil {
				logger.Error().Err(err).Msg("blob gc failed")
			} else if n > 0 {
				logger.Info().Int("removed", n).Msg("blobs expired")
			}
		}
	}
}
