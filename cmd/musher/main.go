// Command musher runs the survey redirect service: it accepts institutional
// single sign-on logins, resolves each participant to their REDCap record,
// and redirects them to the next survey instrument they should complete.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cascadia-health/musher/pkg/cache"
	"github.com/cascadia-health/musher/pkg/config"
	"github.com/cascadia-health/musher/pkg/identity"
	"github.com/cascadia-health/musher/pkg/observability"
	"github.com/cascadia-health/musher/pkg/redcap"
	"github.com/cascadia-health/musher/pkg/server"
	"github.com/cascadia-health/musher/pkg/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "musher: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"version":         cfg.Version,
		"identity_source": cfg.SAML.Source,
	}).Info("starting musher")

	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store, err := newCacheStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	participants := redcap.NewClient(redcap.Config{
		APIURL:   cfg.REDCap.APIURL,
		APIToken: cfg.REDCap.APIToken,
		Timeout:  cfg.REDCap.Timeout,
		CacheTTL: cfg.Cache.TTL,
	}, store, metrics, logger)

	surveys := redcap.Router{
		StudyStartDate:       cfg.REDCap.StudyStartDate,
		EnrollmentEvent:      cfg.REDCap.EnrollmentEvent,
		EnrollmentInstrument: cfg.REDCap.EnrollmentInstrument,
		WeeklyEventTemplate:  cfg.REDCap.WeeklyEventTemplate,
		WeeklyInstrument:     cfg.REDCap.WeeklyInstrument,
	}

	secureCookies := cfg.SAML.Source != config.IdentitySourceMock
	sessions := session.NewManager(store, cfg.Session.CookieName, cfg.Session.Lifetime, secureCookies, metrics, logger)

	source, err := newIdentitySource(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize identity source: %w", err)
	}

	app := server.NewServer(cfg, source, sessions, participants, surveys, metrics, logger)

	checker := observability.NewHealthChecker(cfg.Version)
	checker.RegisterProbe("redcap", participants.Ping)
	checker.RegisterProbe("cache", store.Ping)

	monitor, err := observability.NewMonitor(checker, metrics, logger, "")
	if err != nil {
		return fmt.Errorf("failed to initialize dependency monitor: %w", err)
	}
	monitor.Start()

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, appServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		monitor.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return store.Close()
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Infof("application server listening on %s", appServer.Addr)
		if err := appServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}

// newCacheStore selects Redis when configured and falls back to the
// in-process store for development.
func newCacheStore(cfg *config.Config, logger *observability.Logger) (cache.Store, error) {
	if cfg.Cache.RedisURL == "" {
		logger.Warn("no Redis URL configured, using in-memory cache; entries will not survive restarts")
		return cache.NewMemoryStore()
	}
	return cache.NewRedisStore(cache.RedisConfig{
		URL:      cfg.Cache.RedisURL,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
		Prefix:   cfg.AppName,
	})
}

func newIdentitySource(cfg *config.Config) (identity.Source, error) {
	if cfg.SAML.Source == config.IdentitySourceMock {
		return identity.NewMockSource(cfg.SAML.MockFixturePath)
	}
	return identity.NewSAMLSource(identity.SAMLSourceConfig{
		EntityID:       cfg.SAML.EntityID,
		ACSURL:         cfg.SAML.EntityID + cfg.SAML.ACSPath,
		IdPSSOURL:      cfg.SAML.IdPSSOURL,
		IdPIssuer:      cfg.SAML.IdPIssuer,
		IdPCertificate: cfg.SAML.IdPCertificate,
	})
}
