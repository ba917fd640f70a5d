package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Novice000/crypto_export_fetcher/internal/acquire"
	"github.com/Novice000/crypto_export_fetcher/internal/cleanup"
	"github.com/Novice000/crypto_export_fetcher/internal/config"
	"github.com/Novice000/crypto_export_fetcher/internal/fetch"
	"github.com/Novice000/crypto_export_fetcher/internal/http/rest"
	"github.com/Novice000/crypto_export_fetcher/internal/logctx"
	"github.com/Novice000/crypto_export_fetcher/internal/notifier"
	"github.com/Novice000/crypto_export_fetcher/internal/platform/local"
	"github.com/Novice000/crypto_export_fetcher/internal/storage"
	"github.com/Novice000/crypto_export_fetcher/internal/storage/sqlite"
	"github.com/Novice000/crypto_export_fetcher/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

const (
	serviceName = "crypto_export_fetcher"
	shareTitle  = "Save export archive"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("export fetcher starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedAcquisitionRepository(database, tel)

	// =========================================================================
	// Start Acquirer
	if err := os.MkdirAll(cfg.StagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	fetcher := fetch.NewInstrumentedFetcher(fetch.NewHTTPFetcher(), tel)

	strategies := map[acquire.Policy]acquire.Strategy{
		acquire.PolicyInternal: acquire.NewInternalStrategy(),
		acquire.PolicyExternal: acquire.NewExternalStrategy(local.NewBroker(cfg.SharedDir), local.NewDirWriter(), tel),
		acquire.PolicyShare:    acquire.NewShareStrategy(local.NewShareSurface(), shareTitle),
	}

	acquirer := acquire.NewAcquirer(cfg.StagingDir, cfg.MaxParallel, fetcher, repo, strategies, tel)
	defer acquirer.Close()

	// =========================================================================
	// Start Notification
	setupNotificationForAcquirer(ctx, acquirer, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, acquirer, repo, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for acquisition requests...",
		"staging_dir", cfg.StagingDir,
		"shared_dir", cfg.SharedDir,
		"retention", cfg.KeepStagedFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, cfg)

	// =========================================================================
	// Wait for shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

func setupNotificationForAcquirer(ctx context.Context, acquirer *acquire.Acquirer, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	go func() {
		for event := range acquirer.OnAcquisitionFinished {
			logger.Info("acquisition finished",
				"file_name", event.Request.FileName,
				"final_location", event.Result.FinalLocation,
				"handoff", event.Result.Handoff)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(
				"✅ Export acquired: " + event.Request.FileName,
			); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range acquirer.OnAcquisitionFailed {
			logger.Error("acquisition failed", "file_name", event.Request.FileName, "err", event.Err)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(
				"❌ Export acquisition failed: " + event.Request.FileName,
			); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and middlewares for the http rest server.
func setupServer(ctx context.Context, acquirer *acquire.Acquirer, repo storage.AcquisitionReadRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewAcquisitionHandler(cfg.API.Username, cfg.API.Password, acquirer, repo)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, repo storage.AcquisitionReadRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down")

				return
			case <-cleanupTicker.C:
				cutoff := time.Now().Add(-cfg.KeepStagedFor).Format(time.RFC3339)

				expired, err := repo.GetCompletedBefore(cutoff)
				if err != nil {
					logger.Error("failed to get expired acquisitions for cleanup", "err", err)

					continue
				}

				if err := cleanup.DeleteExpiredStaging(ctx, expired, cfg.StagingDir, cfg.KeepStagedFor); err != nil {
					logger.Error("failed to delete expired staged files", "err", err)
				}
			}
		}
	}()
}
