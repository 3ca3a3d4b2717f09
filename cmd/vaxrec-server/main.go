package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vaxrec/vaxrec/internal/config"
	"github.com/vaxrec/vaxrec/internal/domain/encounter"
	"github.com/vaxrec/vaxrec/internal/domain/immunization"
	"github.com/vaxrec/vaxrec/internal/domain/medication"
	"github.com/vaxrec/vaxrec/internal/domain/medicationadministration"
	"github.com/vaxrec/vaxrec/internal/domain/patient"
	"github.com/vaxrec/vaxrec/internal/domain/workflow"
	"github.com/vaxrec/vaxrec/internal/platform/auth"
	"github.com/vaxrec/vaxrec/internal/platform/legacy"
	"github.com/vaxrec/vaxrec/internal/platform/middleware"
	"github.com/vaxrec/vaxrec/internal/platform/replication"
	"github.com/vaxrec/vaxrec/internal/platform/store"
	"github.com/vaxrec/vaxrec/internal/platform/syncstatus"
	"github.com/vaxrec/vaxrec/internal/platform/websocket"
)

// resourceTypes lists every synced and streamed collection, in the order
// workflow writes flow through them.
var resourceTypes = []string{
	"Patient",
	"Encounter",
	"Medication",
	"Immunization",
	"MedicationAdministration",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "vaxrec-server",
		Short: "Offline-first vaccination record server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importLegacyCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the vaccination record API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func importLegacyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Import records from the old flat key-value layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.LegacyDir
			}
			if dir == "" {
				return fmt.Errorf("--dir or LEGACY_DIR is required")
			}

			st, err := openStore(context.Background(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			kv, err := legacy.NewFileKV(dir)
			if err != nil {
				return err
			}
			report, err := legacy.NewRunner(kv, st, logger).Run(context.Background())
			if err != nil {
				return fmt.Errorf("legacy import failed: %w", err)
			}
			fmt.Printf("Imported %d record(s), skipped %d, dropped %d malformed.\n",
				report.Imported, report.Skipped, report.Dropped)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Path to the legacy data directory")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one replication cycle against the remote and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RemoteURL == "" {
				return fmt.Errorf("REMOTE_URL is required")
			}

			ctx := context.Background()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			remote := replication.NewHTTPRemote(cfg.RemoteURL, cfg.SyncToken, logger)
			engine := replication.NewEngine(st, remote, logger)
			defer engine.Close()

			opts := replication.Options{
				Continuous: false,
				BatchSize:  cfg.SyncBatchSize,
				Retry:      retryPolicy(cfg),
			}
			for _, resourceType := range resourceTypes {
				handle, err := engine.Start(ctx, resourceType, opts)
				if err != nil {
					return fmt.Errorf("sync %s: %w", resourceType, err)
				}
				if err := handle.Wait(); err != nil {
					return fmt.Errorf("sync %s: %w", resourceType, err)
				}
				status := handle.Status(ctx)
				fmt.Printf("%s: pulled up to %d, pushed up to %d\n",
					status.Collection, status.PullCheckpoint, status.PushCheckpoint)
			}
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// openStore opens the configured backend. A bolt file that cannot be opened
// degrades to the in-memory backend so the clinic keeps working; the session
// is flagged in the log because its writes will not survive a restart.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.New(store.NewMemory(), "vaxrec"), nil
	case "postgres":
		backend, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return store.New(backend, "vaxrec"), nil
	default:
		path := filepath.Join(cfg.DataDir, "vaxrec.db")
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		backend, err := store.OpenBolt(path)
		if err != nil {
			if errors.Is(err, store.ErrStorageUnavailable) {
				logger.Warn().Err(err).Msg("persistent storage unavailable, falling back to in-memory store")
				return store.New(store.NewMemory(), "vaxrec"), nil
			}
			return nil, err
		}
		return store.New(backend, "vaxrec"), nil
	}
}

func retryPolicy(cfg *config.Config) replication.RetryPolicy {
	return replication.RetryPolicy{
		Initial:    cfg.SyncRetryMin,
		Max:        cfg.SyncRetryMax,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("store opened")

	// Legacy import runs before the server accepts traffic so readers
	// never see a half-migrated dataset.
	if cfg.LegacyDir != "" {
		kv, err := legacy.NewFileKV(cfg.LegacyDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open legacy directory")
		}
		runner := legacy.NewRunner(kv, st, logger)
		if needed, err := runner.Needed(); err != nil {
			logger.Fatal().Err(err).Msg("failed to check legacy migration state")
		} else if needed {
			report, err := runner.Run(ctx)
			if err != nil {
				logger.Fatal().Err(err).Msg("legacy import failed")
			}
			logger.Info().
				Int("imported", report.Imported).
				Int("skipped", report.Skipped).
				Int("dropped", report.Dropped).
				Msg("legacy records imported")
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSecret),
		}))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	// Domain services
	patientSvc := patient.NewService(patient.NewRepository(st))
	encounterSvc := encounter.NewService(encounter.NewRepository(st))
	medicationSvc := medication.NewService(medication.NewRepository(st))
	immunizationSvc := immunization.NewService(immunization.NewRepository(st))
	administrationSvc := medicationadministration.NewService(medicationadministration.NewRepository(st))
	workflowSvc := workflow.NewService(encounterSvc, medicationSvc, immunizationSvc, administrationSvc, logger)

	patient.NewHandler(patientSvc).RegisterRoutes(apiV1, fhirGroup)
	encounter.NewHandler(encounterSvc).RegisterRoutes(apiV1, fhirGroup)
	medication.NewHandler(medicationSvc).RegisterRoutes(apiV1, fhirGroup)
	immunization.NewHandler(immunizationSvc).RegisterRoutes(apiV1, fhirGroup)
	medicationadministration.NewHandler(administrationSvc).RegisterRoutes(apiV1, fhirGroup)
	workflow.NewHandler(workflowSvc).RegisterRoutes(apiV1)

	// Live change feed over WebSocket
	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub).RegisterRoutes(apiV1)
	feeder := websocket.NewFeeder(hub, st, logger)
	if err := feeder.Follow(ctx, resourceTypes...); err != nil {
		logger.Fatal().Err(err).Msg("failed to start change feed")
	}

	// Sync server side: expose this store to downstream replicas.
	syncServer := replication.NewServer(st, cfg.SyncToken, logger)
	syncServer.Register(e.Group("/sync"))

	// Sync client side: replicate against the configured upstream.
	repl := replication.Disabled()
	var monitor *syncstatus.Monitor
	if cfg.SyncEnabled {
		remote := replication.NewHTTPRemote(cfg.RemoteURL, cfg.SyncToken, logger)
		engine := replication.NewEngine(st, remote, logger)
		repl = replication.Active(engine)

		probe := func(ctx context.Context) error {
			_, err := remote.Handshake(ctx, st.Collection(resourceTypes[0]).Name())
			return err
		}
		monitor = syncstatus.NewMonitor(repl, hub, probe, cfg.SyncInterval, logger)

		opts := replication.Options{
			Continuous:   true,
			Retry:        retryPolicy(cfg),
			PollInterval: cfg.SyncInterval,
			BatchSize:    cfg.SyncBatchSize,
			Observer:     monitor.Observer(),
		}
		for _, resourceType := range resourceTypes {
			if _, err := engine.Start(ctx, resourceType, opts); err != nil {
				logger.Error().Err(err).Str("resource", resourceType).Msg("replication not started")
			}
		}
		monitor.Start(ctx)
		logger.Info().Str("remote", cfg.RemoteURL).Msg("replication enabled")
	} else {
		monitor = syncstatus.NewMonitor(repl, hub, nil, cfg.SyncInterval, logger)
	}
	syncstatus.NewHandler(monitor).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	monitor.Stop()
	repl.Close()
	feeder.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
