// Package main is the entry point for the scheduled payments service.
//
// It loads configuration, connects the database pool, starts the trusted
// clock and the due-payment scanner, and serves the HTTP API with the core
// chassis (middleware, routing, health checks).
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the HTTP server drains in-flight requests, the scanner finishes its current
// tick, then background resources are released.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"paysched/internal/api/handlers"
	"paysched/internal/billing"
	"paysched/internal/clock"
	"paysched/internal/config"
	"paysched/internal/core"
	"paysched/internal/db"
	"paysched/internal/external"
	"paysched/internal/payments"
	"paysched/internal/ratelimit"
	"paysched/internal/scheduler"
	"paysched/internal/security"
)

// outboundMaxRedirects bounds redirect chains on outbound bank-service calls.
const outboundMaxRedirects = 3

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("scheduled payments service starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()
	repo := db.NewPaymentRepository(pool)

	// Trusted clock. A failed initial NTP sync is non-fatal; the clock starts
	// on local time and keeps retrying in the background.
	trustedClock := clock.New(clock.Config{
		Server:          cfg.NTP.Server,
		RefreshInterval: cfg.NTP.RefreshInterval,
		SyncTimeout:     cfg.NTP.Timeout,
		Logger:          logger,
	})
	defer trustedClock.Stop()

	// Rate limiter with periodic bucket cleanup.
	limiter := ratelimit.New(cfg.RateLimit.Window)
	go limiter.StartCleanup(ctx, cfg.RateLimit.CleanupInterval, logger)

	// Outbound bank-service clients on SSRF-guarded transports. The guard
	// allowlists the configured endpoint hosts: bank services commonly live
	// on private ranges, and the blocklist is for everything else a request
	// might be steered to (redirects, rebound names).
	transfersHost, err := serviceHost(cfg.Transfers.URL)
	if err != nil {
		return fmt.Errorf("parsing transfers url: %w", err)
	}
	transfersHTTP, err := security.NewSafeHTTPClient(cfg.Transfers.Timeout, outboundMaxRedirects, transfersHost)
	if err != nil {
		return fmt.Errorf("building transfers http client: %w", err)
	}
	transfers := external.NewHTTPTransferClient(transfersHTTP, cfg.Transfers.URL)

	accountsHost, err := serviceHost(cfg.Accounts.URL)
	if err != nil {
		return fmt.Errorf("parsing accounts url: %w", err)
	}
	accountsHTTP, err := security.NewSafeHTTPClient(cfg.Accounts.Timeout, outboundMaxRedirects, accountsHost)
	if err != nil {
		return fmt.Errorf("building accounts http client: %w", err)
	}
	accounts := external.NewHTTPAccountsClient(accountsHTTP, cfg.Accounts.URL)

	// Domain services.
	plans := billing.NewStaticPlanRegistry(cfg.Subscription)
	svc := payments.NewService(repo, accounts, plans, logger)

	// Due-payment scan loop.
	executor := scheduler.NewPaymentExecutor(transfers, repo, cfg.Transfers.Timeout, logger)
	scanner := scheduler.NewScanner(repo, executor, trustedClock, cfg.Scheduler.Interval, logger)

	// HTTP surface.
	srv, err := core.NewServer(cfg, logger, limiter)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	paymentsHandler := handlers.NewPaymentsHandler(svc, trustedClock, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, paymentsHandler.RegisterRoutes)
	srv.HealthProbes = []core.HealthProbe{
		databaseProbe{pool: pool},
		clockProbe{clock: trustedClock},
	}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scanner.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// databaseProbe reports database connectivity for the health endpoint.
type databaseProbe struct {
	pool *pgxpool.Pool
}

func (p databaseProbe) Name() string { return "database" }

func (p databaseProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// clockProbe reports trusted clock health. The clock is unhealthy only when
// it has never completed a successful NTP sync; after the first sync it keeps
// serving the last known offset through transient outages.
type clockProbe struct {
	clock *clock.TrustedClock
}

func (p clockProbe) Name() string { return "clock" }

func (p clockProbe) Check(_ context.Context) error {
	if p.clock.LastSync().IsZero() {
		return errors.New("no successful ntp sync since startup")
	}
	return nil
}

// serviceHost extracts the hostname of an operator-configured endpoint URL.
func serviceHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.Hostname(), nil
}

// newLogger creates a structured slog.Logger configured for the given log
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
