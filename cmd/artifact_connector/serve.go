package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/artifact_connector/internal/cleanup"
	"github.com/italolelis/artifact_connector/internal/connector"
	"github.com/italolelis/artifact_connector/internal/http/rest"
	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/storage/sqlite"
	"github.com/italolelis/artifact_connector/internal/telemetry"
	"github.com/italolelis/artifact_connector/internal/transfer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transfer API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("artifact connector starting...",
		"log_level", cfg.LogLevel,
		"repository", cfg.RepositoryURL,
		"local_repository", cfg.LocalRepository,
	)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInterval:   cfg.Telemetry.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedTransferRepository(database, tel)

	// =========================================================================
	// Start Connector
	conn, err := buildConnector(ledger, tel)
	if err != nil {
		return err
	}
	defer conn.Close()

	policy, err := transfer.ParseChecksumPolicy(cfg.ChecksumPolicy)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, conn, ledger, policy, tel)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		cleanup.Run(gctx, ledger, cleanup.Config{
			Root:          cfg.LocalRepository,
			KeepStagedFor: cfg.KeepStagedFor,
			KeepLedgerFor: cfg.KeepTransfersFor,
			Interval:      cfg.CleanupInterval,
		})

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	conn *connector.Connector,
	ledger *sqlite.InstrumentedTransferRepository,
	policy transfer.ChecksumPolicy,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewTransfersHandler(
		cfg.API.Username, cfg.API.Password,
		cfg.LocalRepository,
		policy,
		conn,
		ledger,
	)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/api/v1", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName),
		// In-flight batches finish during a graceful shutdown.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}
