// Package bridge mirrors origin session events onto the substrate. Each
// event is published on its per-channel subject, and events that carry
// channel state are additionally applied to the durable state store so the
// replicated cache tracks the origin session.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/chanbridge/connector"
	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/pkg/jsoncodec"
	"github.com/c360/chanbridge/state"
	"github.com/c360/chanbridge/subject"
)

// Publisher sends event payloads to the substrate. Satisfied by
// *natsclient.Client.
type Publisher interface {
	Publish(ctx context.Context, subj string, data []byte) error
}

// StateStore is the slice of the channel state cache the mirror writes to.
// Satisfied by *state.Store.
type StateStore interface {
	SetEmotes(ctx context.Context, emotes []state.Emote) error
	SetPlaylist(ctx context.Context, items []state.PlaylistItem) error
	AddPlaylistItem(ctx context.Context, item state.PlaylistItem, afterUID string) error
	RemovePlaylistItem(ctx context.Context, uid string) error
	MovePlaylistItem(ctx context.Context, uid, after string) error
	SetPlaylistItemTemp(ctx context.Context, uid string, temp bool) error
	SetUsers(ctx context.Context, users []state.User) error
	AddUser(ctx context.Context, user state.User) error
	RemoveUser(ctx context.Context, name string) error
	SetUserRank(ctx context.Context, name string, rank int) error
	SetUserProfile(ctx context.Context, name string, profile state.Profile) error
	SetUserAFK(ctx context.Context, name string, afk bool) error
}

// metricsRecorder is the subset of metric.Metrics the mirror reports to.
type metricsRecorder interface {
	RecordEventPublished(channel, event string)
	RecordEventDropped(channel, reason string)
}

// Mirror consumes one channel's event stream, republishes every event on the
// substrate, and applies state-bearing events to the store. Unknown events
// pass through unapplied so downstream consumers still see them.
type Mirror struct {
	domain  string
	channel string

	source    connector.EventSource
	publisher Publisher
	store     StateStore
	codec     subject.Codec
	logger    *slog.Logger
	metrics   metricsRecorder

	received  atomic.Int64
	published atomic.Int64
	failed    atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithLogger sets the mirror's structured logger.
func WithLogger(logger *slog.Logger) MirrorOption {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEventPrefix overrides the default event subject prefix.
func WithEventPrefix(prefix string) MirrorOption {
	return func(m *Mirror) {
		if prefix != "" {
			m.codec = subject.NewCodec(prefix)
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec metricsRecorder) MirrorOption {
	return func(m *Mirror) {
		m.metrics = rec
	}
}

// NewMirror creates a mirror for one (domain, channel) pair.
func NewMirror(domain, channel string, source connector.EventSource, publisher Publisher, store StateStore, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		domain:    domain,
		channel:   channel,
		source:    source,
		publisher: publisher,
		store:     store,
		codec:     subject.NewCodec(subject.DefaultEventPrefix),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With("component", "bridge", "channel", channel)

	return m
}

// Start begins consuming the event stream. The consume loop runs until Stop
// is called or the source closes its channel.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return errors.ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.consume(runCtx)

	m.logger.Info("event mirror started", "domain", m.domain)

	return nil
}

// Stop halts the consume loop and waits for it to drain. Idempotent.
func (m *Mirror) Stop() error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	<-done

	m.logger.Info("event mirror stopped")

	return nil
}

// StatsSnapshot exposes the mirror's counters.
func (m *Mirror) StatsSnapshot() map[string]any {
	return map[string]any{
		"events_received":  m.received.Load(),
		"events_published": m.published.Load(),
		"events_failed":    m.failed.Load(),
	}
}

func (m *Mirror) consume(ctx context.Context) {
	defer close(m.done)

	events := m.source.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.logger.Info("event source closed")
				return
			}
			m.handleEvent(ctx, ev)
		case <-ctx.Done():
			// Finish events already queued before shutting down.
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					m.handleEvent(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

// handleEvent publishes one event and applies it to the store when it is
// state-bearing. Publish and apply failures are independent; an event can be
// visible downstream yet fail to update the cache.
func (m *Mirror) handleEvent(ctx context.Context, ev connector.Event) {
	m.received.Add(1)

	domain := ev.Domain
	if domain == "" {
		domain = m.domain
	}
	channel := ev.Channel
	if channel == "" {
		channel = m.channel
	}

	subj, err := m.codec.Build(domain, channel, ev.Name)
	if err != nil {
		m.failed.Add(1)
		m.recordDropped("address")
		m.logger.Error("unaddressable event dropped",
			"event", ev.Name,
			"error", err)
		return
	}

	if err := m.publisher.Publish(ctx, subj, ev.Data); err != nil {
		m.failed.Add(1)
		m.recordDropped("publish")
		m.logger.Error("event publish failed",
			"event", ev.Name,
			"subject", subj,
			"error", err)
		return
	}

	m.published.Add(1)
	if m.metrics != nil {
		m.metrics.RecordEventPublished(m.channel, ev.Name)
	}

	if err := m.apply(ctx, ev); err != nil {
		m.failed.Add(1)
		m.logger.Error("state apply failed",
			"event", ev.Name,
			"error", err)
	}
}

func (m *Mirror) recordDropped(reason string) {
	if m.metrics != nil {
		m.metrics.RecordEventDropped(m.channel, reason)
	}
}

// Payload shapes for the state-bearing events.

type queuePayload struct {
	Item  state.PlaylistItem `json:"item"`
	After string             `json:"after,omitempty"`
}

type deletePayload struct {
	UID string `json:"uid"`
}

type movePayload struct {
	From  string `json:"from"`
	After string `json:"after"`
}

type tempPayload struct {
	UID  string `json:"uid"`
	Temp bool   `json:"temp"`
}

type namePayload struct {
	Name string `json:"name"`
}

type rankPayload struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

type profilePayload struct {
	Name    string        `json:"name"`
	Profile state.Profile `json:"profile"`
}

type afkPayload struct {
	Name string `json:"name"`
	AFK  bool   `json:"afk"`
}

// apply routes a state-bearing event to the store. Events outside the table
// are not state-bearing and return nil.
func (m *Mirror) apply(ctx context.Context, ev connector.Event) error {
	switch ev.Name {
	case "emoteList":
		var emotes []state.Emote
		if err := decode(ev.Data, &emotes); err != nil {
			return err
		}
		return m.store.SetEmotes(ctx, emotes)

	case "playlist":
		var items []state.PlaylistItem
		if err := decode(ev.Data, &items); err != nil {
			return err
		}
		return m.store.SetPlaylist(ctx, items)

	case "queue":
		var p queuePayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		if p.After == state.MovePrepend {
			// The origin queues at the head by naming a reserved
			// destination instead of a UID.
			if err := m.store.AddPlaylistItem(ctx, p.Item, ""); err != nil {
				return err
			}
			return m.store.MovePlaylistItem(ctx, p.Item.UID, state.MovePrepend)
		}
		if p.After == state.MoveAppend {
			p.After = ""
		}
		return m.store.AddPlaylistItem(ctx, p.Item, p.After)

	case "delete":
		var p deletePayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return m.store.RemovePlaylistItem(ctx, p.UID)

	case "moveVideo":
		var p movePayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return m.store.MovePlaylistItem(ctx, p.From, p.After)

	case "setTemp":
		var p tempPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return m.store.SetPlaylistItemTemp(ctx, p.UID, p.Temp)

	case "userlist":
		var users []state.User
		if err := decode(ev.Data, &users); err != nil {
			return err
		}
		return m.store.SetUsers(ctx, users)

	case "addUser":
		var u state.User
		if err := decode(ev.Data, &u); err != nil {
			return err
		}
		return m.store.AddUser(ctx, u)

	case "userLeave":
		var p namePayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return m.store.RemoveUser(ctx, p.Name)

	case "setUserRank":
		var p rankPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return m.store.SetUserRank(ctx, p.Name, p.Rank)

	case "setUserProfile":
		var p profilePayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return m.store.SetUserProfile(ctx, p.Name, p.Profile)

	case "setAFK":
		var p afkPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return m.store.SetUserAFK(ctx, p.Name, p.AFK)
	}

	return nil
}

func decode(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", errors.ErrMalformedRequest)
	}
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedRequest, err)
	}
	return nil
}
