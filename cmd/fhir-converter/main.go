package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirconverter/internal/config"
	"github.com/ehr/fhirconverter/internal/domain/convert"
	"github.com/ehr/fhirconverter/internal/platform/auth"
	"github.com/ehr/fhirconverter/internal/platform/ccda"
	"github.com/ehr/fhirconverter/internal/platform/db"
	"github.com/ehr/fhirconverter/internal/platform/hl7v2"
	"github.com/ehr/fhirconverter/internal/platform/middleware"
	"github.com/ehr/fhirconverter/internal/platform/openapi"
	"github.com/ehr/fhirconverter/internal/platform/render"
	"github.com/ehr/fhirconverter/internal/platform/telemetry"
	"github.com/ehr/fhirconverter/internal/platform/templatestore"
	"github.com/ehr/fhirconverter/internal/platform/webhook"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fhir-converter",
		Short:         "Convert HL7v2, C-CDA and JSON data into FHIR bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to an optional env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

// loadConfig reads and validates configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the conversion API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

// app holds the wired conversion pipeline.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	store     templatestore.Store
	renderer  *render.TemplateRenderer
	converter *convert.Converter
	metrics   *telemetry.Metrics
}

// newApp opens the template store and builds the pipeline. The pg store
// applies pending migrations before use.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	switch cfg.TemplateSource {
	case config.SourcePG:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:            cfg.DatabaseURL,
			MaxConns:       cfg.DBMaxConns,
			MinConns:       cfg.DBMinConns,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		applied, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("connected to database")
		a.pool = pool
		a.store = templatestore.NewPGStore(pool)
	default:
		store, err := templatestore.NewFSStore(cfg.TemplateDir)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	manifest, err := templatestore.LoadManifest(cfg.TemplateManifest)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.renderer, err = render.NewTemplateRenderer(a.store, cfg.TemplateCacheSize, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.metrics = telemetry.NewMetrics()
	a.converter = convert.NewConverter(a.store, manifest, a.renderer, cfg.RenderTimeout, logger).WithObserver(a.metrics)
	return a, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// warmup compiles every listable template so syntax errors surface at start.
func (a *app) warmup(ctx context.Context) {
	lister, ok := a.store.(templatestore.Lister)
	if !ok {
		return
	}
	n, err := a.renderer.Precompile(ctx, lister)
	if err != nil {
		a.logger.Warn().Err(err).Int("compiled", n).Msg("some templates failed to compile")
		return
	}
	a.logger.Info().Int("compiled", n).Msg("templates compiled")
}

// routes builds the HTTP server.
func (a *app) routes() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit(cfg.MaxBodySize))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/health"))
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	e.Use(middleware.RateLimit(rl))

	if cfg.AuthEnabled() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		a.logger.Warn().Msg("AUTH_SIGNING_KEY not set, API is unauthenticated")
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	convert.NewHandler(a.converter, a.store, a.renderer.Invalidate).RegisterRoutes(apiV1)
	hl7v2.NewHandler().RegisterRoutes(apiV1)
	ccda.NewHandler().RegisterRoutes(apiV1)

	dataTypes := []string{string(convert.HL7v2), string(convert.CCDA), string(convert.JSON)}
	openapi.NewGenerator(version, baseURL(a.cfg), dataTypes, a.cfg.AuthEnabled()).RegisterRoutes(apiV1)

	return e
}

func baseURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.TLSEnabled {
		scheme = "https"
	}
	return scheme + "://localhost:" + cfg.Port
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.warmup(ctx)

	e := a.routes()

	// MLLP listener
	if cfg.MLLPAddr != "" {
		sink, stop, err := bundleSink(cfg, logger)
		if err != nil {
			return err
		}
		defer stop()

		handler := convert.MLLPHandler(a.converter, cfg.MLLPDefaultTemplate, sink, logger)
		mllpServer := hl7v2.NewMLLPServer(cfg.MLLPAddr, handler, logger)
		if err := mllpServer.Start(); err != nil {
			return fmt.Errorf("start MLLP server: %w", err)
		}
		defer mllpServer.Stop()
		logger.Info().Str("addr", mllpServer.Addr()).Msg("MLLP server started")
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// bundleSink forwards MLLP bundles to FORWARD_URL, or only logs them when no
// target is configured. stop drains pending deliveries.
func bundleSink(cfg *config.Config, logger zerolog.Logger) (convert.BundleSink, func(), error) {
	if cfg.ForwardURL == "" {
		return func(controlID string, _ map[string]interface{}) {
			logger.Info().Str("control_id", controlID).Msg("converted MLLP message")
		}, func() {}, nil
	}

	fwd, err := webhook.NewForwarder(cfg.ForwardURL, cfg.ForwardSecret, logger)
	if err != nil {
		return nil, nil, err
	}
	fwd.Start(cfg.ForwardWorkers)
	logger.Info().Str("url", cfg.ForwardURL).Int("workers", cfg.ForwardWorkers).Msg("bundle forwarding enabled")

	sink := func(controlID string, bundle map[string]interface{}) {
		if err := fwd.Enqueue(controlID, bundle); err != nil {
			logger.Error().Err(err).Str("control_id", controlID).Msg("dropping converted bundle")
		}
	}
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fwd.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("pending bundle deliveries abandoned")
		}
	}
	return sink, stop, nil
}
