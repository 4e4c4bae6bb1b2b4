package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gatekeeper/internal/admission"
	"gatekeeper/internal/api"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/bruteforce"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/security"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/store"
	"gatekeeper/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	envFile       = flag.String("env-file", "", "Path to a .env file (default: ./.env when present)")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
	exampleConfig = flag.String("example-config", "", "Write an example configuration file to this path and exit")
	hashPassword  = flag.Bool("hash-password", false, "Read a password from stdin and print its bcrypt hash")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()

	switch {
	case *showVersion:
		fmt.Println(ver.String())
		return
	case *exampleConfig != "":
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *exampleConfig)
		return
	case *hashPassword:
		if err := printPasswordHash(os.Stdin, os.Stdout); err != nil {
			slog.Error("Failed to hash password", "error", err)
			os.Exit(1)
		}
		return
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	// Load configuration
	cfg, err := config.Load(*configFile, envFiles...)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	if err := run(cfg, ver, log); err != nil {
		slog.Error("Gatekeeper stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *models.Config, ver version.Info, log *slog.Logger) error {
	ctx := context.Background()

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Security event storage
	events, err := initializeStorage(cfg)
	if err != nil {
		return fmt.Errorf("initialize event storage: %w", err)
	}
	defer events.Close()

	// Limiter and guard records
	backend, err := store.NewBackend(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("initialize record store: %w", err)
	}
	defer backend.Close()

	entries, err := openStore[ratelimit.Entry](backend, "ratelimit", cfg.Metrics.Enabled)
	if err != nil {
		return err
	}
	violations, err := openStore[ratelimit.Violations](backend, "violations", cfg.Metrics.Enabled)
	if err != nil {
		return err
	}
	attempts, err := openStore[bruteforce.Attempt](backend, "bruteforce", cfg.Metrics.Enabled)
	if err != nil {
		return err
	}

	securityLog := security.NewLogger(log, events, cfg.Security.EventLog)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := securityLog.Close(closeCtx); err != nil {
			slog.Error("Failed to drain security events", "error", err)
		}
	}()

	guard := bruteforce.New(attempts, bruteforce.ConfigFrom(cfg.Security.BruteForce),
		bruteforce.WithLogger(log),
		bruteforce.WithNotifier(securityLog),
	)

	limiter := ratelimit.New(entries, ratelimit.WithLogger(log))
	var checker ratelimit.Checker = limiter
	if cfg.Security.RateLimit.Progressive {
		checker = ratelimit.NewProgressive(limiter, violations)
	}
	profiles := ratelimit.ProfilesFromConfig(cfg.Security.RateLimit)

	admissionOpts := []admission.Option{
		admission.WithEmitter(securityLog),
		admission.WithBotBlocking(cfg.Security.BlockBots),
		admission.WithLogger(log),
	}
	if cfg.Security.RateLimit.Enabled {
		admissionOpts = append(admissionOpts, admission.WithRateLimit(checker, profiles))
	}
	if cfg.Security.BruteForce.Enabled {
		admissionOpts = append(admissionOpts, admission.WithGuard(guard))
	}
	if cfg.Metrics.Enabled {
		recorder, err := observability.NewAdmissionMetrics()
		if err != nil {
			return fmt.Errorf("create admission metrics: %w", err)
		}
		admissionOpts = append(admissionOpts, admission.WithRecorder(recorder))
	}
	gate := admission.New(admissionOpts...)

	authenticator := auth.NewAuthenticator(cfg.Security.Admin)
	if !authenticator.Enabled() {
		slog.Warn("No admin account configured; admin API is disabled")
	}

	handlers := api.NewHandlers(authenticator, guard, events,
		api.WithEmitter(securityLog),
		api.WithVersion(ver),
		api.WithLogger(log),
		api.WithHealthComponent("store", backend),
		api.WithHealthComponent("storage", events),
	)

	upstream, err := api.NewUpstreamProxy(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("create upstream proxy: %w", err)
	}
	if cfg.Upstream.URL == "" {
		slog.Warn("No upstream configured; admitted requests will receive 404")
	}

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	routeOpts = append(routeOpts, api.WithAdmission(gate.Handler))
	if cfg.Security.RateLimit.Enabled {
		adminProfile := profiles[ratelimit.ProfileAPI]
		adminProfile.Name = "adminAPI"
		routeOpts = append(routeOpts, api.WithAdminRateLimiter(ratelimit.Middleware(checker, adminProfile)))
	}

	router := api.SetupRoutes(handlers, upstream, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"tls", cfg.Server.TLSEnabled,
			"store", backend.Type(),
			"storage", cfg.Storage.Type,
			"upstream", cfg.Upstream.URL,
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// initializeStorage opens the configured event storage, instrumented when
// metrics are on.
func initializeStorage(cfg *models.Config) (storage.Storage, error) {
	events, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if !cfg.Metrics.Enabled {
		return events, nil
	}
	instrumented, err := observability.NewInstrumentedStorage(events)
	if err != nil {
		_ = events.Close()
		return nil, fmt.Errorf("instrument event storage: %w", err)
	}
	return instrumented, nil
}

func openStore[V any](b *store.Backend, namespace string, instrument bool) (store.Store[V], error) {
	s := store.Open[V](b, namespace)
	if !instrument {
		return s, nil
	}
	instrumented, err := observability.NewInstrumentedStore(s, namespace)
	if err != nil {
		return nil, fmt.Errorf("instrument %s store: %w", namespace, err)
	}
	return instrumented, nil
}

// printPasswordHash reads one line from r and writes its bcrypt hash to w.
func printPasswordHash(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
