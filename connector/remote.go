package connector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/pkg/jsoncodec"
	"github.com/c360/chanbridge/subject"
)

// Subject prefixes for the origin-side session process. The process holding
// the origin connection consumes operations from the outbound prefix and
// publishes raw session events under the inbound one.
const (
	DefaultOriginEventPrefix   = "origin.events"
	DefaultOriginCommandPrefix = "origin.do"
)

// Publisher sends operation payloads toward the origin session process.
// Satisfied by *natsclient.Client.
type Publisher interface {
	Publish(ctx context.Context, subj string, data []byte) error
}

// Subscriber receives raw origin events. Satisfied by *natsclient.Client.
type Subscriber interface {
	SubscribeMsg(ctx context.Context, subj string, handler func(context.Context, natsclient.Msg)) (func() error, error)
}

// Remote implements Connector by forwarding each operation to the origin
// session process over the substrate. It performs no validation; callers
// validate before invoking.
type Remote struct {
	domain    string
	channel   string
	codec     subject.Codec
	publisher Publisher
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithCommandPrefix overrides the outbound operation prefix.
func WithCommandPrefix(prefix string) RemoteOption {
	return func(r *Remote) {
		if prefix != "" {
			r.codec = subject.NewCodec(prefix)
		}
	}
}

// NewRemote creates a substrate-backed connector for one channel.
func NewRemote(domain, channel string, publisher Publisher, opts ...RemoteOption) *Remote {
	r := &Remote{
		domain:    domain,
		channel:   channel,
		codec:     subject.NewCodec(DefaultOriginCommandPrefix),
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) send(ctx context.Context, op string, params any) error {
	subj, err := r.codec.Build(r.domain, r.channel, op)
	if err != nil {
		return errors.Wrap(err, "Remote", "send", "build subject")
	}

	data, err := jsoncodec.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "Remote", "send", "encode "+op+" params")
	}

	if err := r.publisher.Publish(ctx, subj, data); err != nil {
		return errors.WrapTransient(err, "Remote", "send", "publish "+op)
	}
	return nil
}

func (r *Remote) SendChat(ctx context.Context, p ChatParams) error { return r.send(ctx, "chat", p) }
func (r *Remote) SendPrivateMessage(ctx context.Context, p PrivateMessageParams) error {
	return r.send(ctx, "pm", p)
}

func (r *Remote) AddVideo(ctx context.Context, p AddVideoParams) error {
	return r.send(ctx, "add_video", p)
}
func (r *Remote) DeleteVideo(ctx context.Context, p DeleteVideoParams) error {
	return r.send(ctx, "delete_video", p)
}
func (r *Remote) MoveVideo(ctx context.Context, p MoveVideoParams) error {
	return r.send(ctx, "move_video", p)
}
func (r *Remote) JumpTo(ctx context.Context, p JumpToParams) error {
	return r.send(ctx, "jump_to", p)
}
func (r *Remote) ClearPlaylist(ctx context.Context) error {
	return r.send(ctx, "clear_playlist", struct{}{})
}
func (r *Remote) ShufflePlaylist(ctx context.Context) error {
	return r.send(ctx, "shuffle_playlist", struct{}{})
}
func (r *Remote) SetTemp(ctx context.Context, p SetTempParams) error {
	return r.send(ctx, "set_temp", p)
}

func (r *Remote) Pause(ctx context.Context) error { return r.send(ctx, "pause", struct{}{}) }
func (r *Remote) Play(ctx context.Context) error  { return r.send(ctx, "play", struct{}{}) }
func (r *Remote) SeekTo(ctx context.Context, p SeekToParams) error {
	return r.send(ctx, "seek_to", p)
}
func (r *Remote) PlayNext(ctx context.Context) error { return r.send(ctx, "play_next", struct{}{}) }
func (r *Remote) VoteSkip(ctx context.Context) error { return r.send(ctx, "voteskip", struct{}{}) }

func (r *Remote) KickUser(ctx context.Context, p KickUserParams) error {
	return r.send(ctx, "kick_user", p)
}
func (r *Remote) BanUser(ctx context.Context, p BanUserParams) error {
	return r.send(ctx, "ban_user", p)
}
func (r *Remote) Unban(ctx context.Context, p UnbanParams) error {
	return r.send(ctx, "unban", p)
}
func (r *Remote) MuteUser(ctx context.Context, p MuteUserParams) error {
	return r.send(ctx, "mute_user", p)
}
func (r *Remote) ShadowMuteUser(ctx context.Context, p MuteUserParams) error {
	return r.send(ctx, "shadow_mute_user", p)
}
func (r *Remote) UnmuteUser(ctx context.Context, p MuteUserParams) error {
	return r.send(ctx, "unmute_user", p)
}
func (r *Remote) AssignLeader(ctx context.Context, p AssignLeaderParams) error {
	return r.send(ctx, "assign_leader", p)
}
func (r *Remote) SetChannelRank(ctx context.Context, p SetChannelRankParams) error {
	return r.send(ctx, "set_channel_rank", p)
}
func (r *Remote) RequestChannelRanks(ctx context.Context) error {
	return r.send(ctx, "request_channel_ranks", struct{}{})
}
func (r *Remote) RequestBanlist(ctx context.Context) error {
	return r.send(ctx, "request_banlist", struct{}{})
}
func (r *Remote) ReadChanLog(ctx context.Context, p ReadChanLogParams) error {
	return r.send(ctx, "read_chan_log", p)
}

func (r *Remote) SetMOTD(ctx context.Context, p SetMOTDParams) error {
	return r.send(ctx, "set_motd", p)
}
func (r *Remote) SetChannelCSS(ctx context.Context, p SetChannelCSSParams) error {
	return r.send(ctx, "set_channel_css", p)
}
func (r *Remote) SetChannelJS(ctx context.Context, p SetChannelJSParams) error {
	return r.send(ctx, "set_channel_js", p)
}
func (r *Remote) SetOptions(ctx context.Context, p SetOptionsParams) error {
	return r.send(ctx, "set_options", p)
}
func (r *Remote) SetPermissions(ctx context.Context, p SetPermissionsParams) error {
	return r.send(ctx, "set_permissions", p)
}
func (r *Remote) UpdateEmote(ctx context.Context, p UpdateEmoteParams) error {
	return r.send(ctx, "update_emote", p)
}
func (r *Remote) RemoveEmote(ctx context.Context, p RemoveEmoteParams) error {
	return r.send(ctx, "remove_emote", p)
}
func (r *Remote) AddFilter(ctx context.Context, p FilterParams) error {
	return r.send(ctx, "add_filter", p)
}
func (r *Remote) UpdateFilter(ctx context.Context, p FilterParams) error {
	return r.send(ctx, "update_filter", p)
}
func (r *Remote) RemoveFilter(ctx context.Context, p RemoveFilterParams) error {
	return r.send(ctx, "remove_filter", p)
}

func (r *Remote) SearchLibrary(ctx context.Context, p SearchLibraryParams) error {
	return r.send(ctx, "search_library", p)
}
func (r *Remote) DeleteFromLibrary(ctx context.Context, p DeleteFromLibraryParams) error {
	return r.send(ctx, "delete_from_library", p)
}

func (r *Remote) NewPoll(ctx context.Context, p NewPollParams) error {
	return r.send(ctx, "new_poll", p)
}
func (r *Remote) Vote(ctx context.Context, p VoteParams) error {
	return r.send(ctx, "vote", p)
}
func (r *Remote) ClosePoll(ctx context.Context) error {
	return r.send(ctx, "close_poll", struct{}{})
}

// Remote must cover the full capability set.
var _ Connector = (*Remote)(nil)

// RemoteSource implements EventSource over a substrate subscription to the
// origin session's event subjects. The last subject token is the event name.
type RemoteSource struct {
	domain  string
	channel string
	codec   subject.Codec
	sub     Subscriber
	logger  *slog.Logger

	events chan Event

	mu          sync.Mutex
	unsubscribe func() error
	closed      bool
}

// RemoteSourceOption configures a RemoteSource.
type RemoteSourceOption func(*RemoteSource)

// WithEventPrefix overrides the inbound event prefix.
func WithEventPrefix(prefix string) RemoteSourceOption {
	return func(s *RemoteSource) {
		if prefix != "" {
			s.codec = subject.NewCodec(prefix)
		}
	}
}

// WithSourceLogger sets the source's structured logger.
func WithSourceLogger(logger *slog.Logger) RemoteSourceOption {
	return func(s *RemoteSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) RemoteSourceOption {
	return func(s *RemoteSource) {
		if n > 0 {
			s.events = make(chan Event, n)
		}
	}
}

// NewRemoteSource creates an event source for one channel.
func NewRemoteSource(domain, channel string, sub Subscriber, opts ...RemoteSourceOption) *RemoteSource {
	s := &RemoteSource{
		domain:  domain,
		channel: channel,
		codec:   subject.NewCodec(DefaultOriginEventPrefix),
		sub:     sub,
		logger:  slog.Default(),
		events:  make(chan Event, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "connector", "channel", channel)
	return s
}

// Events returns the event stream. Closed by Stop.
func (s *RemoteSource) Events() <-chan Event { return s.events }

// Start subscribes to the channel's origin event subjects.
func (s *RemoteSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubscribe != nil {
		return errors.ErrAlreadyStarted
	}
	if s.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "RemoteSource", "Start", "restart stopped source")
	}

	wildcard, err := s.codec.WildcardSubject(s.domain, s.channel)
	if err != nil {
		return errors.Wrap(err, "RemoteSource", "Start", "build wildcard subject")
	}

	unsub, err := s.sub.SubscribeMsg(ctx, wildcard, s.handleMessage)
	if err != nil {
		return errors.WrapTransient(err, "RemoteSource", "Start", "subscribe to "+wildcard)
	}
	s.unsubscribe = unsub

	s.logger.Info("origin event source started", "subject", wildcard)

	return nil
}

// Stop unsubscribes and closes the event channel. Idempotent. The channel
// is closed under the same lock that guards handler sends, so a delivery
// already in flight when the unsubscribe lands drops its message instead of
// hitting a closed channel.
func (s *RemoteSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubscribe == nil {
		return nil
	}

	err := s.unsubscribe()
	s.unsubscribe = nil
	s.closed = true
	close(s.events)

	if err != nil {
		return errors.Wrap(err, "RemoteSource", "Stop", "unsubscribe")
	}
	return nil
}

// handleMessage converts one substrate message into an Event. A full event
// channel drops the message rather than blocking the subscription.
func (s *RemoteSource) handleMessage(_ context.Context, msg natsclient.Msg) {
	parsed, err := s.codec.Parse(msg.Subject)
	if err != nil {
		s.logger.Warn("unparseable origin subject dropped",
			"subject", msg.Subject,
			"error", err)
		return
	}

	ev := Event{
		Domain:  parsed.Domain,
		Channel: parsed.Channel,
		Name:    parsed.Name,
		Data:    msg.Data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("event arrived after stop, dropping", "event", ev.Name)
		return
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping",
			"event", ev.Name,
			"subject", msg.Subject)
	}
}
