package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/sheetsync-server/internal/api"
	"github.com/stacklok/sheetsync-server/internal/api/ws"
	"github.com/stacklok/sheetsync-server/internal/app/storage"
	"github.com/stacklok/sheetsync-server/internal/auth"
	"github.com/stacklok/sheetsync-server/internal/authz"
	"github.com/stacklok/sheetsync-server/internal/config"
	"github.com/stacklok/sheetsync-server/internal/fanout"
	"github.com/stacklok/sheetsync-server/internal/service"
	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/sync/scheduler"
	"github.com/stacklok/sheetsync-server/internal/telemetry"
	"github.com/stacklok/sheetsync-server/internal/validators"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// SheetSyncAppOptions is a function that configures the app builder
type SheetSyncAppOptions func(*sheetSyncAppConfig) error

// sheetSyncAppConfig collects the app's settings and injected components.
// Anything left nil is built from config.
type sheetSyncAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	store       store.Store
	valueReader sheets.ValueReader
	clock       clock.WithTicker
	authorizer  authz.Authorizer

	// HTTP server options
	address        string
	listener       net.Listener
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...SheetSyncAppOptions) (*sheetSyncAppConfig, error) {
	cfg := &sheetSyncAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = &config.Config{}
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}
	return cfg, nil
}

// NewSheetSyncApp wires the store, scheduler, fan-out registry, service and HTTP server
func NewSheetSyncApp(ctx context.Context, opts ...SheetSyncAppOptions) (*SheetSyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.store == nil {
		cfg.store, err = storage.NewStore(ctx, &cfg.config.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
	}

	// Close the store if anything below fails
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			_ = cfg.store.Close(context.Background())
		}
	}()

	components, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	if err := buildServiceComponents(cfg, components); err != nil {
		return nil, fmt.Errorf("failed to build service components: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(context.Background())
	cleanupNeeded = false

	return &SheetSyncApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		listener:   cfg.listener,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, ok := strings.Cut(addr, ":")
		if !ok || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithListener serves on an already bound listener instead of the configured address
func WithListener(l net.Listener) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.listener = l
		cfg.address = l.Addr().String()
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStore injects a record store instead of opening the configured one
func WithStore(st store.Store) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.store = st
		return nil
	}
}

// WithValueReader injects the spreadsheet reader instead of the Google Sheets client
func WithValueReader(r sheets.ValueReader) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.valueReader = r
		return nil
	}
}

// WithClock drives the scheduler's tickers from c
func WithClock(c clock.WithTicker) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.clock = c
		return nil
	}
}

// WithAuthorizer replaces the default owner-only policy
func WithAuthorizer(a authz.Authorizer) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.authorizer = a
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for sync, fan-out and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) SheetSyncAppOptions {
	return func(cfg *sheetSyncAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildSyncComponents builds the fetcher, the fan-out registry and the scheduler
func buildSyncComponents(ctx context.Context, b *sheetSyncAppConfig) (*AppComponents, error) {
	slog.Info("Initializing sync components")

	reader := b.valueReader
	if reader == nil {
		src := b.config.Source
		client, err := sheets.NewClient(ctx, sheets.ClientConfig{
			CredentialsFile: src.CredentialsFile,
			APIKey:          src.APIKey,
			Endpoint:        src.Endpoint,
			Range:           src.Range,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sheets client: %w", err)
		}
		reader = client
	}
	fetcher := sheets.NewFetcher(reader, sheets.WithDateLayouts(b.config.Source.DateLayouts...))

	syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	fanoutMetrics, err := telemetry.NewFanoutMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create fan-out metrics: %w", err)
	}

	registry := fanout.NewRegistry(fanout.WithMetrics(fanoutMetrics))

	schedOpts := []scheduler.Option{
		scheduler.WithMetrics(syncMetrics),
		scheduler.WithInterval(b.config.Sync.GetInterval()),
	}
	if b.clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(b.clock))
	}
	if b.tracerProvider != nil {
		schedOpts = append(schedOpts, scheduler.WithTracer(b.tracerProvider.Tracer(scheduler.TracerName)))
	}
	sched := scheduler.New(b.store, fetcher, registry, schedOpts...)

	slog.Info("Sync components initialized successfully", "interval", b.config.Sync.GetInterval())
	return &AppComponents{
		Store:     b.store,
		Fetcher:   fetcher,
		Registry:  registry,
		Scheduler: sched,
	}, nil
}

// buildServiceComponents builds the authorizer and the table service
func buildServiceComponents(b *sheetSyncAppConfig, c *AppComponents) error {
	slog.Info("Initializing service components")

	if b.authorizer == nil {
		authorizer, err := authz.NewCedarAuthorizer(nil)
		if err != nil {
			return fmt.Errorf("failed to create authorizer: %w", err)
		}
		b.authorizer = authorizer
	}

	svcOpts := []service.Option{service.WithSyncInterval(b.config.Sync.GetInterval())}
	if b.tracerProvider != nil {
		svcOpts = append(svcOpts, service.WithTracer(b.tracerProvider.Tracer(service.ServiceTracerName)))
	}
	c.TableService = service.New(c.Store, c.Scheduler, c.Fetcher, c.Registry, b.authorizer, svcOpts...)

	slog.Info("Service components initialized successfully")
	return nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *sheetSyncAppConfig, c *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing go first so requests rejected by auth are still counted
	var observe []func(http.Handler) http.Handler
	if b.meterProvider != nil {
		httpMetrics, err := telemetry.NewHTTPMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		if httpMetrics != nil {
			observe = append(observe, httpMetrics.Middleware)
		}
	}
	if b.tracerProvider != nil {
		observe = append(observe, telemetry.TracingMiddleware(b.tracerProvider))
	}
	middlewares = append(observe, middlewares...)

	authMw, err := auth.NewAuthMiddleware(&b.config.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth middleware: %w", err)
	}
	middlewares = append(middlewares, authMw)

	validator, err := validators.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create request validator: %w", err)
	}

	wsHandler := ws.NewHandler(c.Registry, c.TableService,
		ws.WithOriginPatterns(b.config.Server.AllowedOrigins...))

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithRequestTimeout(b.requestTimeout),
		api.WithWebSocket(wsHandler),
	}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(c.TableService, validator, serverOpts...)

	// No WriteTimeout: it would also cut WebSocket connections
	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadHeaderTimeout: b.readTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
