package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gatehousehq/gatehouse/pkg/api"
	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/config"
	"github.com/gatehousehq/gatehouse/pkg/email"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/storage/postgres"
	"github.com/gatehousehq/gatehouse/pkg/users"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("port", cfg.Server.Port).Info("Starting gatehouse")

	ctx := context.Background()

	// Tracing
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Postgres
	db, err := postgres.Connect(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis
	cache, err := postgres.NewRedisCache(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer cache.Close()

	// Services
	keyManager := auth.NewManager(postgres.NewKeyStore(db), cache, cfg.Auth.Keys, logger, metrics)
	userService := users.NewService(postgres.NewUserStore(db), cfg.Auth.BcryptCost, logger)
	confirmService := buildConfirmationService(cfg, logger)

	var google *api.GoogleHandlers
	if cfg.Google.Enabled {
		google, err = api.NewGoogleHandlers(ctx, api.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		}, userService, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Google sign-in: %w", err)
		}
	}

	server := api.NewServer(api.Options{
		Users:               userService,
		Keys:                keyManager,
		Confirm:             confirmService,
		Google:              google,
		CookieName:          cfg.Auth.CookieName,
		CookieMaxAgeSeconds: int(cfg.Auth.Keys.KeyLifetime / time.Second),
		Logger:              logger,
		Metrics:             metrics,
	})

	handler := server.Handler()
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "gatehouse")
	}

	mainServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener for probes
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, cache.Client()))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Expired-key janitor
	janitor := auth.NewJanitor(keyManager, logger)
	if cfg.Auth.JanitorSchedule != "" {
		if err := janitor.Start(cfg.Auth.JanitorSchedule); err != nil {
			return fmt.Errorf("failed to start key janitor: %w", err)
		}
	}

	// Steps run in reverse order on shutdown: health listener and janitor
	// stop first, telemetry flushes last.
	shutdown := observability.NewShutdownManager(logger, mainServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc(janitor.Stop)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", mainServer.Addr).Info("API server listening")
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

// buildConfirmationService wires mail delivery. Without secrets there is
// nothing to sign, so confirmation and reset flows stay disabled.
func buildConfirmationService(cfg *config.Config, logger *observability.Logger) *email.ConfirmationService {
	if cfg.Email.VerificationSecret == "" || cfg.Email.ResetSecret == "" {
		logger.Info("Email token secrets not configured; confirmation and reset flows disabled")
		return nil
	}

	var sender email.Sender = email.NopSender{}
	if cfg.Email.Enabled {
		sender = email.NewSMTPSender(cfg.Email.SMTP, logrus.StandardLogger())
	}

	return email.NewConfirmationService(sender, email.ConfirmationConfig{
		VerificationSecret: []byte(cfg.Email.VerificationSecret),
		ResetSecret:        []byte(cfg.Email.ResetSecret),
		TokenTTL:           cfg.Email.TokenTTL,
		BaseURL:            cfg.Email.BaseURL,
	})
}
