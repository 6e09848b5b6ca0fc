// Package query serves read-only state and diagnostic requests over a
// single shared request-reply subject. Several responders can share the
// subject; the request's service field selects which one answers. The
// responder never mutates state.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/chanbridge/config"
	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/health"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/pkg/jsoncodec"
	"github.com/c360/chanbridge/state"
)

// Request is the inbound query envelope. Unrecognized fields are ignored.
type Request struct {
	Service  string `json:"service,omitempty"`
	Command  string `json:"command"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
}

// Response is the outbound envelope. Data is set on success, Error on
// failure.
type Response struct {
	Service string `json:"service"`
	Command string `json:"command"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Transport is the substrate surface the responder needs. Satisfied by
// *natsclient.Client.
type Transport interface {
	SubscribeMsg(ctx context.Context, subj string, handler func(context.Context, natsclient.Msg)) (func() error, error)
	Publish(ctx context.Context, subj string, data []byte) error
}

// ConnectionInfo exposes substrate connection diagnostics for the health
// and stats handlers. Satisfied by *natsclient.Client.
type ConnectionInfo interface {
	IsHealthy() bool
	RTT() (time.Duration, error)
	Uptime() time.Duration
	Reconnects() int32
}

// StatsProvider contributes one component's counters to the stats handler.
type StatsProvider interface {
	StatsSnapshot() map[string]any
}

// handlerFunc serves one registered command.
type handlerFunc func(ctx context.Context, req Request) (any, error)

// metricsRecorder is the subset of metric.Metrics the responder reports to.
type metricsRecorder interface {
	RecordQueryProcessed(command, status string)
}

// Responder answers queries on one fixed subject.
type Responder struct {
	service        string
	subjectName    string
	version        string
	defaultChannel string

	stores   map[string]*state.Store
	handlers map[string]handlerFunc
	stats    map[string]StatsProvider

	transport Transport
	connInfo  ConnectionInfo
	cfg       *config.SafeConfig
	monitor   *health.Monitor
	logger    *slog.Logger
	metrics   metricsRecorder

	processed atomic.Int64
	failed    atomic.Int64

	mu          sync.Mutex
	unsubscribe func() error
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithLogger sets the responder's structured logger.
func WithLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSubject overrides the default query subject.
func WithSubject(subj string) ResponderOption {
	return func(r *Responder) {
		if subj != "" {
			r.subjectName = subj
		}
	}
}

// WithVersion sets the version string served by system.version.
func WithVersion(v string) ResponderOption {
	return func(r *Responder) {
		r.version = v
	}
}

// WithConnectionInfo attaches substrate diagnostics for health and stats.
func WithConnectionInfo(ci ConnectionInfo) ResponderOption {
	return func(r *Responder) {
		r.connInfo = ci
	}
}

// WithConfig attaches the running config; system.config serves it redacted.
func WithConfig(cfg *config.SafeConfig) ResponderOption {
	return func(r *Responder) {
		r.cfg = cfg
	}
}

// WithHealthMonitor attaches a subsystem health monitor; system.health
// includes its per-component statuses.
func WithHealthMonitor(m *health.Monitor) ResponderOption {
	return func(r *Responder) {
		r.monitor = m
	}
}

// WithStatsProvider registers a named component's counters for system.stats.
func WithStatsProvider(name string, p StatsProvider) ResponderOption {
	return func(r *Responder) {
		r.stats[name] = p
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m metricsRecorder) ResponderOption {
	return func(r *Responder) {
		r.metrics = m
	}
}

// NewResponder creates a responder for the given service identity over the
// given state stores, keyed by channel. The first store in channel order
// becomes the default for requests without a channel field when exactly one
// channel is managed; with several, requests without a channel use the
// lexically first channel.
func NewResponder(service string, stores []*state.Store, transport Transport, opts ...ResponderOption) *Responder {
	r := &Responder{
		service:     service,
		subjectName: config.DefaultQuerySubject,
		version:     "dev",
		stores:      make(map[string]*state.Store, len(stores)),
		stats:       make(map[string]StatsProvider),
		transport:   transport,
		logger:      slog.Default(),
	}

	for _, s := range stores {
		r.stores[s.Channel()] = s
		if r.defaultChannel == "" || s.Channel() < r.defaultChannel {
			r.defaultChannel = s.Channel()
		}
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With("component", "query", "service", service)

	r.handlers = map[string]handlerFunc{
		"state.emotes":    r.handleStateEmotes,
		"state.playlist":  r.handleStatePlaylist,
		"state.userlist":  r.handleStateUserlist,
		"state.all":       r.handleStateAll,
		"state.user":      r.handleStateUser,
		"state.profiles":  r.handleStateProfiles,
		"system.health":   r.handleSystemHealth,
		"system.ping":     r.handleSystemPing,
		"system.version":  r.handleSystemVersion,
		"system.stats":    r.handleSystemStats,
		"system.config":   r.handleSystemConfig,
		"system.channels": r.handleSystemChannels,
	}

	return r
}

// Subject returns the subject the responder listens on.
func (r *Responder) Subject() string {
	return r.subjectName
}

// Start subscribes to the query subject.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe != nil {
		return errors.ErrAlreadyStarted
	}

	unsub, err := r.transport.SubscribeMsg(ctx, r.subjectName, r.handleMessage)
	if err != nil {
		return errors.WrapTransient(err, "Responder", "Start",
			fmt.Sprintf("subscribe to %s", r.subjectName))
	}
	r.unsubscribe = unsub

	r.logger.Info("query responder started", "subject", r.subjectName)

	return nil
}

// Stop unsubscribes from the query subject. Idempotent.
func (r *Responder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe == nil {
		return nil
	}

	err := r.unsubscribe()
	r.unsubscribe = nil

	r.logger.Info("query responder stopped")

	if err != nil {
		return errors.Wrap(err, "Responder", "Stop", "unsubscribe")
	}
	return nil
}

// StatsSnapshot exposes the responder's own counters.
func (r *Responder) StatsSnapshot() map[string]any {
	return map[string]any{
		"queries_processed": r.processed.Load(),
		"queries_failed":    r.failed.Load(),
	}
}

// handleMessage processes one query. Requests addressed to another service
// are ignored without reply or counting so that service can answer.
// Requests without a reply subject are processed, counted, and produce no
// reply.
func (r *Responder) handleMessage(ctx context.Context, msg natsclient.Msg) {
	var req Request
	if len(msg.Data) > 0 {
		if err := jsoncodec.Unmarshal(msg.Data, &req); err != nil {
			r.failed.Add(1)
			r.recordQuery("unknown", "failure")
			r.respondError(ctx, msg.Reply, "unknown",
				fmt.Sprintf("%v: %v", errors.ErrMalformedRequest, err))
			return
		}
	}

	if req.Service != "" && req.Service != r.service {
		return
	}

	if req.Command == "" {
		r.failed.Add(1)
		r.recordQuery("missing", "failure")
		r.respondError(ctx, msg.Reply, "unknown", errors.ErrMissingCommand.Error())
		return
	}

	handler, ok := r.handlers[req.Command]
	if !ok {
		r.failed.Add(1)
		r.recordQuery(req.Command, "failure")
		r.respondError(ctx, msg.Reply, req.Command,
			fmt.Sprintf("%v: %s", errors.ErrUnknownCommand, req.Command))
		return
	}

	data, err := handler(ctx, req)
	if err != nil {
		r.failed.Add(1)
		r.recordQuery(req.Command, "failure")
		r.respondError(ctx, msg.Reply, req.Command, err.Error())
		return
	}

	r.processed.Add(1)
	r.recordQuery(req.Command, "success")

	if msg.Reply == "" {
		return
	}
	r.respond(ctx, msg.Reply, Response{
		Service: r.service,
		Command: req.Command,
		Success: true,
		Data:    data,
	})
}

func (r *Responder) recordQuery(command, status string) {
	if r.metrics != nil {
		r.metrics.RecordQueryProcessed(command, status)
	}
}

func (r *Responder) respondError(ctx context.Context, reply, command, errMsg string) {
	if reply == "" {
		return
	}
	r.respond(ctx, reply, Response{
		Service: r.service,
		Command: command,
		Success: false,
		Error:   errMsg,
	})
}

func (r *Responder) respond(ctx context.Context, reply string, resp Response) {
	data, err := jsoncodec.Marshal(resp)
	if err != nil {
		r.logger.Error("failed to encode response", "command", resp.Command, "error", err)
		return
	}
	if err := r.transport.Publish(ctx, reply, data); err != nil {
		r.logger.Error("failed to publish response", "command", resp.Command, "error", err)
	}
}

// storeFor resolves the store serving a request. Requests without a channel
// use the default channel.
func (r *Responder) storeFor(req Request) (*state.Store, error) {
	channel := req.Channel
	if channel == "" {
		channel = r.defaultChannel
	}

	s, ok := r.stores[channel]
	if !ok {
		return nil, fmt.Errorf("unknown channel: %s", channel)
	}
	return s, nil
}

func (r *Responder) handleStateEmotes(_ context.Context, req Request) (any, error) {
	s, err := r.storeFor(req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"emotes": s.Emotes()}, nil
}

func (r *Responder) handleStatePlaylist(_ context.Context, req Request) (any, error) {
	s, err := r.storeFor(req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"playlist": s.Playlist()}, nil
}

func (r *Responder) handleStateUserlist(_ context.Context, req Request) (any, error) {
	s, err := r.storeFor(req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"userlist": s.Users()}, nil
}

func (r *Responder) handleStateAll(_ context.Context, req Request) (any, error) {
	s, err := r.storeFor(req)
	if err != nil {
		return nil, err
	}
	snap := s.All()
	return map[string]any{
		"emotes":   snap.Emotes,
		"playlist": snap.Playlist,
		"userlist": snap.Users,
		"stats":    s.Stats(),
	}, nil
}

// handleStateUser returns null user and profile fields for an unknown
// username; absence is data, not an error.
func (r *Responder) handleStateUser(_ context.Context, req Request) (any, error) {
	if req.Username == "" {
		return nil, fmt.Errorf("%w: username is required", errors.ErrInvalidParameters)
	}

	s, err := r.storeFor(req)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"user":    nil,
		"profile": nil,
	}
	if u, ok := s.User(req.Username); ok {
		result["user"] = u
		if u.Profile != nil {
			result["profile"] = u.Profile
		}
	}
	return result, nil
}

func (r *Responder) handleStateProfiles(_ context.Context, req Request) (any, error) {
	s, err := r.storeFor(req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"profiles": s.Profiles()}, nil
}

func (r *Responder) handleSystemHealth(_ context.Context, _ Request) (any, error) {
	natsConnected := false
	if r.connInfo != nil {
		natsConnected = r.connInfo.IsHealthy()
	}

	status := "healthy"
	if !natsConnected {
		status = "unhealthy"
	}

	channels := make([]string, 0, len(r.stores))
	for ch := range r.stores {
		channels = append(channels, ch)
	}

	result := map[string]any{
		"service":           r.service,
		"status":            status,
		"nats_connected":    natsConnected,
		"channels":          channels,
		"queries_processed": r.processed.Load(),
		"queries_failed":    r.failed.Load(),
	}

	if r.monitor != nil {
		overall := r.monitor.Overall(r.service)
		if !overall.IsHealthy() && natsConnected {
			result["status"] = overall.Status
		}
		result["components"] = r.monitor.Snapshot()
	}

	return result, nil
}

func (r *Responder) handleSystemPing(_ context.Context, _ Request) (any, error) {
	return map[string]any{
		"pong": true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (r *Responder) handleSystemVersion(_ context.Context, _ Request) (any, error) {
	return map[string]any{
		"service": r.service,
		"version": r.version,
	}, nil
}

// handleSystemStats aggregates sibling component counters; it reads
// snapshots and has no authority over their state.
func (r *Responder) handleSystemStats(_ context.Context, _ Request) (any, error) {
	components := make(map[string]any, len(r.stats)+1)
	for name, p := range r.stats {
		components[name] = p.StatsSnapshot()
	}
	components["query"] = r.StatsSnapshot()

	channels := make(map[string]any, len(r.stores))
	for ch, s := range r.stores {
		channels[ch] = s.Stats()
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	result := map[string]any{
		"components": components,
		"channels":   channels,
		"memory": map[string]any{
			"alloc_bytes": memStats.Alloc,
			"sys_bytes":   memStats.Sys,
			"num_gc":      memStats.NumGC,
			"goroutines":  runtime.NumGoroutine(),
		},
	}

	if r.connInfo != nil {
		nats := map[string]any{
			"connected":      r.connInfo.IsHealthy(),
			"uptime_seconds": r.connInfo.Uptime().Seconds(),
			"reconnects":     r.connInfo.Reconnects(),
		}
		if rtt, err := r.connInfo.RTT(); err == nil {
			nats["rtt_ms"] = float64(rtt.Microseconds()) / 1000.0
		}
		result["nats"] = nats
	}

	return result, nil
}

func (r *Responder) handleSystemConfig(_ context.Context, _ Request) (any, error) {
	if r.cfg == nil {
		return nil, fmt.Errorf("configuration not available")
	}
	return r.cfg.Get().Redacted(), nil
}

func (r *Responder) handleSystemChannels(_ context.Context, _ Request) (any, error) {
	channels := make([]string, 0, len(r.stores))
	for ch := range r.stores {
		channels = append(channels, ch)
	}
	return map[string]any{"channels": channels}, nil
}
