package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/qeditor/internal/config"
	"github.com/ehr/qeditor/internal/domain/editor"
	"github.com/ehr/qeditor/internal/domain/mapper"
	"github.com/ehr/qeditor/internal/platform/auth"
	"github.com/ehr/qeditor/internal/platform/blobstore"
	"github.com/ehr/qeditor/internal/platform/db"
	"github.com/ehr/qeditor/internal/platform/middleware"
	"github.com/ehr/qeditor/internal/platform/terminology"
	"github.com/ehr/qeditor/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "qeditor",
		Short:        "FHIR Questionnaire editor",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(mapCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(translationsCmd())
	root.AddCommand(valueSetCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolOptions{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "qeditor",
		ConnectTimeout:  10 * time.Second,
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the editor API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

// snapshotStore opens the repository selected by STORE_DRIVER and the health
// checks of its backend.
func snapshotStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (editor.SnapshotRepository, map[string]db.Check, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Int("applied", count).Msg("connected to database")
		return editor.NewSnapshotRepoPG(pool), map[string]db.Check{"postgres": db.PoolCheck(pool)}, pool.Close, nil

	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info().Dur("ttl", cfg.SnapshotTTL).Msg("connected to redis")
		check := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return editor.NewSnapshotRepoRedis(client, cfg.SnapshotTTL), map[string]db.Check{"redis": check},
			func() { _ = client.Close() }, nil

	default:
		logger.Warn().Msg("using in-memory snapshot store, questionnaires are lost on restart")
		return editor.NewSnapshotRepoMemory(), map[string]db.Check{}, func() {}, nil
	}
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)
	ctx := context.Background()

	repo, checks, closeStore, err := snapshotStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open snapshot store")
		return err
	}
	defer closeStore()

	opts := []editor.Option{editor.WithDefaultLanguage(cfg.DefaultLanguage)}
	if cfg.TerminologyEnabled {
		opts = append(opts, editor.WithTerminology(terminology.New(terminology.Options{
			Timeout:  cfg.TerminologyTimeout,
			RetryMax: cfg.TerminologyRetryMax,
		}, logger)))
	}

	var exports blobstore.Store
	if cfg.ExportsEnabled() {
		store, err := blobstore.NewMinioStore(ctx, blobstore.MinioOptions{
			Endpoint:  cfg.ExportEndpoint,
			AccessKey: cfg.ExportAccessKey,
			SecretKey: cfg.ExportSecretKey,
			Bucket:    cfg.ExportBucket,
			UseSSL:    cfg.ExportUseSSL,
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to open export store")
			return err
		}
		exports = store
		opts = append(opts, editor.WithExportStore(store))
		logger.Info().Str("bucket", cfg.ExportBucket).Msg("export store ready")
	}

	svc := editor.NewService(repo, mapper.New(logger), logger, opts...)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("10M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/ready", db.HealthHandler(checks))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	if cfg.AuthEnabled() {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSecret),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		logger.Warn().Msg("AUTH_SECRET is not set, every request is treated as an admin")
		apiV1.Use(auth.DevAuthMiddleware())
	}
	apiV1.Use(auth.RequireMethodRole(
		[]string{auth.RoleViewer, auth.RoleEditor},
		[]string{auth.RoleEditor},
	))

	editor.NewHandler(svc).RegisterRoutes(apiV1)
	if exports != nil {
		blobstore.NewBlobHandler(exports).RegisterRoutes(apiV1)
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
