// Package main implements the entry point for chanbridge, the bridge
// between an origin chat/media-playlist session and the NATS substrate. It
// mirrors channel state into durable KV buckets, republishes origin events,
// routes inbound commands to the origin connector, and answers state
// queries over a shared request-reply subject.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/chanbridge/bridge"
	"github.com/c360/chanbridge/command"
	"github.com/c360/chanbridge/config"
	"github.com/c360/chanbridge/connector"
	"github.com/c360/chanbridge/health"
	"github.com/c360/chanbridge/metric"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/query"
	"github.com/c360/chanbridge/state"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "chanbridge"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI log flags override the config file.
	level := cfg.Logging.Level
	if cliCfg.LogLevel != "" {
		level = cliCfg.LogLevel
	}
	format := cfg.Logging.Format
	if cliCfg.LogFormat != "" {
		format = cliCfg.LogFormat
	}
	logger := setupLogger(level, format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid",
			"domain", cfg.Bridge.Domain,
			"channels", cfg.Bridge.Channels)
		return nil
	}

	slog.Info("Starting chanbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"domain", cfg.Bridge.Domain,
		"channels", cfg.Bridge.Channels)

	ctx := context.Background()

	monitor := health.NewMonitor()
	natsClient, registry, err := setupInfrastructure(ctx, cfg, monitor, logger)
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(ctx) }()

	app, err := buildApplication(ctx, cfg, natsClient, registry, monitor, logger)
	if err != nil {
		return err
	}

	return app.runWithSignalHandling(ctx, cliCfg.ShutdownTimeout)
}

// setupInfrastructure creates the NATS client and metrics registry and
// connects to the substrate.
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*natsclient.Client, *metric.Registry, error) {
	registry := metric.NewRegistry()

	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Bridge.ServiceName),
		natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.Timeout),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			registry.Metrics.RecordNATSStatus(healthy)
			if healthy {
				monitor.UpdateHealthy("nats", "connected")
			} else {
				monitor.UpdateUnhealthy("nats", "connection lost")
			}
		}),
		natsclient.WithReconnectCallback(func() {
			registry.Metrics.RecordNATSReconnect()
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return natsClient, registry, nil
}

// channelService is one channel's running component set.
type channelService struct {
	channel string
	store   *state.Store
	source  *connector.RemoteSource
	mirror  *bridge.Mirror
	router  *command.Router
}

// application holds every started component for ordered shutdown.
type application struct {
	channels      []*channelService
	responder     *query.Responder
	metricsServer *metric.Server
	logger        *slog.Logger
}

// buildApplication starts components in dependency order: per-channel state
// stores, event sources, mirrors, and command routers, then the shared query
// responder and the metrics endpoint. A channel whose durable buckets cannot
// be provisioned is skipped so the remaining channels still get service;
// start fails only when no channel comes up.
func buildApplication(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	registry *metric.Registry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*application, error) {
	app := &application{logger: logger}
	safeCfg := config.NewSafeConfig(cfg)

	var audit *command.AuditLogger
	if cfg.Audit.Enabled {
		audit = command.NewAuditLogger(logger)
	}

	for _, channel := range cfg.Bridge.Channels {
		svc, err := startChannel(ctx, cfg, channel, natsClient, registry, audit, logger)
		if err != nil {
			slog.Error("Channel failed to start, continuing without it",
				"channel", channel,
				"error", err)
			monitor.UpdateUnhealthy("channel."+channel, err.Error())
			continue
		}
		monitor.UpdateHealthy("channel."+channel, "running")
		app.channels = append(app.channels, svc)
	}

	if len(app.channels) == 0 {
		app.stop(ctx, 5*time.Second)
		return nil, fmt.Errorf("no channel started successfully")
	}

	stores := make([]*state.Store, len(app.channels))
	responderOpts := []query.ResponderOption{
		query.WithLogger(logger),
		query.WithSubject(cfg.Bridge.QuerySubject),
		query.WithVersion(Version),
		query.WithConnectionInfo(natsClient),
		query.WithConfig(safeCfg),
		query.WithHealthMonitor(monitor),
		query.WithMetrics(registry.Metrics),
	}
	for i, svc := range app.channels {
		stores[i] = svc.store
		responderOpts = append(responderOpts,
			query.WithStatsProvider("mirror."+svc.channel, svc.mirror),
			query.WithStatsProvider("router."+svc.channel, svc.router),
		)
	}

	app.responder = query.NewResponder(cfg.Bridge.ServiceName, stores, natsClient, responderOpts...)
	if err := app.responder.Start(ctx); err != nil {
		app.stop(ctx, 5*time.Second)
		return nil, fmt.Errorf("start query responder: %w", err)
	}

	if cfg.Metrics.Enabled {
		app.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if err := app.metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		slog.Info("Metrics endpoint up", "address", app.metricsServer.Address())
	}

	return app, nil
}

// startChannel brings up one channel's store, event source, mirror, and
// command router. Components started before a failure are torn down.
func startChannel(
	ctx context.Context,
	cfg *config.Config,
	channel string,
	natsClient *natsclient.Client,
	registry *metric.Registry,
	audit *command.AuditLogger,
	logger *slog.Logger,
) (*channelService, error) {
	store := state.NewStore(cfg.Bridge.Domain, channel, natsClient,
		state.WithLogger(logger),
		state.WithBucketPrefix(cfg.Bridge.BucketPrefix),
		state.WithMetrics(registry.Metrics),
	)
	if err := store.Start(ctx); err != nil {
		return nil, fmt.Errorf("start state store: %w", err)
	}

	source := connector.NewRemoteSource(cfg.Bridge.Domain, channel, natsClient,
		connector.WithSourceLogger(logger),
	)
	if err := source.Start(ctx); err != nil {
		store.Stop()
		return nil, fmt.Errorf("start event source: %w", err)
	}

	mirror := bridge.NewMirror(cfg.Bridge.Domain, channel, source, natsClient, store,
		bridge.WithLogger(logger),
		bridge.WithEventPrefix(cfg.Bridge.EventPrefix),
		bridge.WithMetrics(registry.Metrics),
	)
	if err := mirror.Start(ctx); err != nil {
		_ = source.Stop()
		store.Stop()
		return nil, fmt.Errorf("start event mirror: %w", err)
	}

	remote := connector.NewRemote(cfg.Bridge.Domain, channel, natsClient)

	routerOpts := []command.RouterOption{
		command.WithLogger(logger),
		command.WithCommandPrefix(cfg.Bridge.CommandPrefix),
		command.WithMetrics(registry.Metrics),
	}
	if audit != nil {
		routerOpts = append(routerOpts, command.WithAuditLogger(audit))
	}
	router := command.NewRouter(cfg.Bridge.Domain, channel, remote, natsClient, routerOpts...)
	if err := router.Start(ctx); err != nil {
		_ = mirror.Stop()
		_ = source.Stop()
		store.Stop()
		return nil, fmt.Errorf("start command router: %w", err)
	}

	slog.Info("Channel started", "channel", channel)

	return &channelService{
		channel: channel,
		store:   store,
		source:  source,
		mirror:  mirror,
		router:  router,
	}, nil
}

// runWithSignalHandling blocks until SIGINT/SIGTERM, then shuts down.
func (app *application) runWithSignalHandling(ctx context.Context, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("chanbridge started", "channels", len(app.channels))

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	app.stop(ctx, shutdownTimeout)

	slog.Info("chanbridge shutdown complete")
	return nil
}

// stop tears components down in reverse start order: responder first so
// queries stop arriving, then each channel's router, mirror, source, and
// store. The durable buckets survive for the next run.
func (app *application) stop(_ context.Context, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)

		if app.responder != nil {
			if err := app.responder.Stop(); err != nil {
				slog.Error("Error stopping query responder", "error", err)
			}
		}

		for i := len(app.channels) - 1; i >= 0; i-- {
			svc := app.channels[i]
			if err := svc.router.Stop(); err != nil {
				slog.Error("Error stopping command router", "channel", svc.channel, "error", err)
			}
			if err := svc.source.Stop(); err != nil {
				slog.Error("Error stopping event source", "channel", svc.channel, "error", err)
			}
			if err := svc.mirror.Stop(); err != nil {
				slog.Error("Error stopping event mirror", "channel", svc.channel, "error", err)
			}
			svc.store.Stop()
		}

		if app.metricsServer != nil {
			if err := app.metricsServer.Stop(); err != nil {
				slog.Error("Error stopping metrics server", "error", err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Error("Shutdown timed out", "timeout", timeout)
	}
}
