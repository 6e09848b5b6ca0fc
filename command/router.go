package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/chanbridge/connector"
	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/pkg/jsoncodec"
	"github.com/c360/chanbridge/subject"
)

// Outcome classifies one dispatch attempt.
type Outcome int

// Dispatch outcomes. Exactly one is produced per routed message.
const (
	OutcomeSuccess Outcome = iota
	OutcomeUnknownAction
	OutcomeInvalidParameters
	OutcomeExecutionFailure
)

// String returns the outcome's metrics label.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnknownAction:
		return "unknown_action"
	case OutcomeInvalidParameters:
		return "invalid_parameters"
	case OutcomeExecutionFailure:
		return "execution_failure"
	default:
		return "unknown"
	}
}

// envelope is the inbound command message shape. Unrecognized fields are
// ignored.
type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Subscriber is the substrate surface the router needs. Satisfied by
// *natsclient.Client.
type Subscriber interface {
	SubscribeMsg(ctx context.Context, subj string, handler func(context.Context, natsclient.Msg)) (func() error, error)
}

// metricsRecorder is the subset of metric.Metrics the router reports to.
type metricsRecorder interface {
	RecordCommandProcessed(channel, action, status string)
	RecordCommandDuration(channel, action string, d time.Duration)
}

// Router subscribes to one channel's command subjects and turns each
// inbound {action, data} request into exactly one connector call. It never
// touches the state store; mutations flow back through origin events.
type Router struct {
	domain  string
	channel string
	codec   subject.Codec
	conn    connector.Connector
	sub     Subscriber
	logger  *slog.Logger
	metrics metricsRecorder
	audit   *AuditLogger

	processed atomic.Int64
	failed    atomic.Int64

	mu          sync.Mutex
	unsubscribe func() error
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router's structured logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCommandPrefix overrides the default command subject prefix.
func WithCommandPrefix(prefix string) RouterOption {
	return func(r *Router) {
		r.codec = subject.NewCodec(prefix)
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m metricsRecorder) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithAuditLogger attaches an audit logger; routed commands are recorded
// before execution.
func WithAuditLogger(a *AuditLogger) RouterOption {
	return func(r *Router) {
		r.audit = a
	}
}

// NewRouter creates a router for one (domain, channel) pair.
func NewRouter(domain, channel string, conn connector.Connector, sub Subscriber, opts ...RouterOption) *Router {
	r := &Router{
		domain:  domain,
		channel: channel,
		codec:   subject.NewCodec(subject.DefaultCommandPrefix),
		conn:    conn,
		sub:     sub,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With("component", "command", "channel", channel)

	return r
}

// Start subscribes to every command subject under this router's channel.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe != nil {
		return errors.ErrAlreadyStarted
	}

	subj, err := r.codec.WildcardSubject(r.domain, r.channel)
	if err != nil {
		return errors.WrapInvalid(err, "Router", "Start", "build command subject")
	}

	unsub, err := r.sub.SubscribeMsg(ctx, subj, r.handleMessage)
	if err != nil {
		return errors.WrapTransient(err, "Router", "Start",
			fmt.Sprintf("subscribe to %s", subj))
	}
	r.unsubscribe = unsub

	r.logger.Info("command router started", "subject", subj)

	return nil
}

// Stop unsubscribes from the command subject. In-flight handlers finish.
// Idempotent.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe == nil {
		return nil
	}

	err := r.unsubscribe()
	r.unsubscribe = nil

	r.logger.Info("command router stopped")

	if err != nil {
		return errors.Wrap(err, "Router", "Stop", "unsubscribe")
	}
	return nil
}

// Processed returns the number of successfully dispatched commands.
func (r *Router) Processed() int64 { return r.processed.Load() }

// Failed returns the number of failed dispatches.
func (r *Router) Failed() int64 { return r.failed.Load() }

// StatsSnapshot exposes the router's counters for the stats query.
func (r *Router) StatsSnapshot() map[string]any {
	return map[string]any{
		"commands_processed": r.processed.Load(),
		"commands_failed":    r.failed.Load(),
	}
}

// handleMessage decodes and dispatches one inbound command. Failures are
// isolated per message and never propagate to the subscription.
func (r *Router) handleMessage(ctx context.Context, msg natsclient.Msg) {
	var env envelope
	if err := jsoncodec.Unmarshal(msg.Data, &env); err != nil {
		r.failed.Add(1)
		r.recordOutcome("malformed", "failure")
		r.logger.Error("dropping undecodable command",
			"subject", msg.Subject,
			"error", fmt.Sprintf("%v: %v", errors.ErrMalformedRequest, err))
		return
	}

	if env.Action == "" {
		r.failed.Add(1)
		r.recordOutcome("missing", "failure")
		r.logger.Warn("dropping command without action", "subject", msg.Subject)
		return
	}

	start := time.Now()
	outcome := r.Dispatch(ctx, env.Action, env.Data)

	if outcome == OutcomeSuccess {
		r.processed.Add(1)
	} else {
		r.failed.Add(1)
	}

	if r.metrics != nil {
		action := env.Action
		if a, ok := ParseAction(env.Action); ok {
			action = a.String()
		}
		r.metrics.RecordCommandProcessed(r.channel, action, outcome.String())
		r.metrics.RecordCommandDuration(r.channel, action, time.Since(start))
	}
}

func (r *Router) recordOutcome(action, status string) {
	if r.metrics != nil {
		r.metrics.RecordCommandProcessed(r.channel, action, status)
	}
}

// Dispatch resolves the action name, validates its parameters, and invokes
// the matching connector operation. Connector failures are caught and
// reported as OutcomeExecutionFailure; they never propagate.
func (r *Router) Dispatch(ctx context.Context, actionName string, data json.RawMessage) Outcome {
	action, ok := ParseAction(actionName)
	if !ok {
		r.logger.Warn("unknown action", "action", actionName)
		return OutcomeUnknownAction
	}

	if r.audit != nil {
		args := map[string]any{}
		if len(data) > 0 {
			// Best effort; audit still records the action when the
			// arguments are not an object.
			_ = jsoncodec.Unmarshal(data, &args)
		}
		r.audit.Record(r.channel, action.String(), args)
	}

	err := r.invoke(ctx, action, data)
	switch {
	case err == nil:
		r.logger.Debug("command executed", "action", action.String())
		return OutcomeSuccess
	case errors.Is(err, errors.ErrInvalidParameters):
		r.logger.Warn("invalid command parameters",
			"action", action.String(),
			"error", err)
		return OutcomeInvalidParameters
	default:
		r.logger.Error("command execution failed",
			"action", action.String(),
			"error", fmt.Sprintf("%v: %v", errors.ErrExecutionFailed, err))
		return OutcomeExecutionFailure
	}
}

// decode unmarshals action parameters, reporting decode failures as
// ErrInvalidParameters. Absent data decodes to the zero value.
func decode[T any](data json.RawMessage) (T, error) {
	var params T
	if len(data) == 0 {
		return params, nil
	}
	if err := jsoncodec.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("%w: %v", errors.ErrInvalidParameters, err)
	}
	return params, nil
}

func invalid(field string) error {
	return fmt.Errorf("%w: %s is required", errors.ErrInvalidParameters, field)
}

// invoke maps one action onto its connector operation.
func (r *Router) invoke(ctx context.Context, action Action, data json.RawMessage) error {
	switch action {
	case ActionChat:
		p, err := decode[connector.ChatParams](data)
		if err != nil {
			return err
		}
		if p.Message == "" {
			return invalid("message")
		}
		return r.conn.SendChat(ctx, p)

	case ActionPrivateMessage:
		p, err := decode[connector.PrivateMessageParams](data)
		if err != nil {
			return err
		}
		if p.To == "" {
			return invalid("to")
		}
		if p.Message == "" {
			return invalid("message")
		}
		return r.conn.SendPrivateMessage(ctx, p)

	case ActionAddVideo:
		p, err := decode[connector.AddVideoParams](data)
		if err != nil {
			return err
		}
		if p.URL == "" {
			return invalid("url")
		}
		switch p.Position {
		case "", "end", "next":
		default:
			return fmt.Errorf("%w: position must be end or next, got %q",
				errors.ErrInvalidParameters, p.Position)
		}
		return r.conn.AddVideo(ctx, p)

	case ActionDeleteVideo:
		p, err := decode[connector.DeleteVideoParams](data)
		if err != nil {
			return err
		}
		if p.UID == "" {
			return invalid("uid")
		}
		return r.conn.DeleteVideo(ctx, p)

	case ActionMoveVideo:
		p, err := decode[connector.MoveVideoParams](data)
		if err != nil {
			return err
		}
		if p.UID == "" {
			return invalid("uid")
		}
		if p.After == "" {
			return invalid("after")
		}
		return r.conn.MoveVideo(ctx, p)

	case ActionJumpTo:
		p, err := decode[connector.JumpToParams](data)
		if err != nil {
			return err
		}
		if p.UID == "" {
			return invalid("uid")
		}
		return r.conn.JumpTo(ctx, p)

	case ActionClearPlaylist:
		return r.conn.ClearPlaylist(ctx)

	case ActionShufflePlaylist:
		return r.conn.ShufflePlaylist(ctx)

	case ActionSetTemp:
		p, err := decode[connector.SetTempParams](data)
		if err != nil {
			return err
		}
		if p.UID == "" {
			return invalid("uid")
		}
		return r.conn.SetTemp(ctx, p)

	case ActionPause:
		return r.conn.Pause(ctx)

	case ActionPlay:
		return r.conn.Play(ctx)

	case ActionSeekTo:
		p, err := decode[connector.SeekToParams](data)
		if err != nil {
			return err
		}
		if p.Time < 0 {
			return fmt.Errorf("%w: time must not be negative", errors.ErrInvalidParameters)
		}
		return r.conn.SeekTo(ctx, p)

	case ActionPlayNext:
		return r.conn.PlayNext(ctx)

	case ActionVoteSkip:
		return r.conn.VoteSkip(ctx)

	case ActionKickUser:
		p, err := decode[connector.KickUserParams](data)
		if err != nil {
			return err
		}
		if p.Username == "" {
			return invalid("username")
		}
		return r.conn.KickUser(ctx, p)

	case ActionBanUser:
		p, err := decode[connector.BanUserParams](data)
		if err != nil {
			return err
		}
		if p.Username == "" {
			return invalid("username")
		}
		return r.conn.BanUser(ctx, p)

	case ActionUnban:
		p, err := decode[connector.UnbanParams](data)
		if err != nil {
			return err
		}
		if p.Name == "" {
			return invalid("name")
		}
		return r.conn.Unban(ctx, p)

	case ActionMuteUser:
		p, err := decode[connector.MuteUserParams](data)
		if err != nil {
			return err
		}
		if p.Username == "" {
			return invalid("username")
		}
		return r.conn.MuteUser(ctx, p)

	case ActionShadowMuteUser:
		p, err := decode[connector.MuteUserParams](data)
		if err != nil {
			return err
		}
		if p.Username == "" {
			return invalid("username")
		}
		return r.conn.ShadowMuteUser(ctx, p)

	case ActionUnmuteUser:
		p, err := decode[connector.MuteUserParams](data)
		if err != nil {
			return err
		}
		if p.Username == "" {
			return invalid("username")
		}
		return r.conn.UnmuteUser(ctx, p)

	case ActionAssignLeader:
		// An empty username removes the current leader.
		p, err := decode[connector.AssignLeaderParams](data)
		if err != nil {
			return err
		}
		return r.conn.AssignLeader(ctx, p)

	case ActionSetChannelRank:
		p, err := decode[connector.SetChannelRankParams](data)
		if err != nil {
			return err
		}
		if p.Username == "" {
			return invalid("username")
		}
		if p.Rank < 0 {
			return fmt.Errorf("%w: rank must not be negative", errors.ErrInvalidParameters)
		}
		return r.conn.SetChannelRank(ctx, p)

	case ActionRequestChannelRanks:
		return r.conn.RequestChannelRanks(ctx)

	case ActionRequestBanlist:
		return r.conn.RequestBanlist(ctx)

	case ActionReadChanLog:
		p, err := decode[connector.ReadChanLogParams](data)
		if err != nil {
			return err
		}
		if p.Count < 0 {
			return fmt.Errorf("%w: count must not be negative", errors.ErrInvalidParameters)
		}
		return r.conn.ReadChanLog(ctx, p)

	case ActionSetMOTD:
		p, err := decode[connector.SetMOTDParams](data)
		if err != nil {
			return err
		}
		return r.conn.SetMOTD(ctx, p)

	case ActionSetChannelCSS:
		p, err := decode[connector.SetChannelCSSParams](data)
		if err != nil {
			return err
		}
		return r.conn.SetChannelCSS(ctx, p)

	case ActionSetChannelJS:
		p, err := decode[connector.SetChannelJSParams](data)
		if err != nil {
			return err
		}
		return r.conn.SetChannelJS(ctx, p)

	case ActionSetOptions:
		p, err := decode[connector.SetOptionsParams](data)
		if err != nil {
			return err
		}
		if len(p.Options) == 0 {
			return invalid("options")
		}
		return r.conn.SetOptions(ctx, p)

	case ActionSetPermissions:
		p, err := decode[connector.SetPermissionsParams](data)
		if err != nil {
			return err
		}
		if len(p.Permissions) == 0 {
			return invalid("permissions")
		}
		return r.conn.SetPermissions(ctx, p)

	case ActionUpdateEmote:
		p, err := decode[connector.UpdateEmoteParams](data)
		if err != nil {
			return err
		}
		if p.Name == "" {
			return invalid("name")
		}
		if p.Image == "" {
			return invalid("image")
		}
		return r.conn.UpdateEmote(ctx, p)

	case ActionRemoveEmote:
		p, err := decode[connector.RemoveEmoteParams](data)
		if err != nil {
			return err
		}
		if p.Name == "" {
			return invalid("name")
		}
		return r.conn.RemoveEmote(ctx, p)

	case ActionAddFilter:
		p, err := decode[connector.FilterParams](data)
		if err != nil {
			return err
		}
		if p.Name == "" {
			return invalid("name")
		}
		return r.conn.AddFilter(ctx, p)

	case ActionUpdateFilter:
		p, err := decode[connector.FilterParams](data)
		if err != nil {
			return err
		}
		if p.Name == "" {
			return invalid("name")
		}
		return r.conn.UpdateFilter(ctx, p)

	case ActionRemoveFilter:
		p, err := decode[connector.RemoveFilterParams](data)
		if err != nil {
			return err
		}
		if p.Name == "" {
			return invalid("name")
		}
		return r.conn.RemoveFilter(ctx, p)

	case ActionNewPoll:
		p, err := decode[connector.NewPollParams](data)
		if err != nil {
			return err
		}
		if p.Title == "" {
			return invalid("title")
		}
		if len(p.Options) == 0 {
			return invalid("options")
		}
		return r.conn.NewPoll(ctx, p)

	case ActionVote:
		p, err := decode[connector.VoteParams](data)
		if err != nil {
			return err
		}
		if p.Option < 0 {
			return fmt.Errorf("%w: option must not be negative", errors.ErrInvalidParameters)
		}
		return r.conn.Vote(ctx, p)

	case ActionClosePoll:
		return r.conn.ClosePoll(ctx)

	case ActionSearchLibrary:
		p, err := decode[connector.SearchLibraryParams](data)
		if err != nil {
			return err
		}
		if p.Query == "" {
			return invalid("query")
		}
		return r.conn.SearchLibrary(ctx, p)

	case ActionDeleteFromLibrary:
		p, err := decode[connector.DeleteFromLibraryParams](data)
		if err != nil {
			return err
		}
		if p.ID == "" {
			return invalid("id")
		}
		return r.conn.DeleteFromLibrary(ctx, p)

	default:
		return fmt.Errorf("%w: %s", errors.ErrUnknownAction, action)
	}
}
