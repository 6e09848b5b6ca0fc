// Package connector defines the capability surface of the origin session.
// The bridge never speaks the origin's wire protocol itself; it invokes
// these interfaces and trusts that resulting origin events flow back through
// the normal event path. Capabilities are grouped by the origin's privilege
// tiers so integrations can implement only what their account rank allows.
package connector

import (
	"context"
	"encoding/json"
)

// Event is one origin-session event as received from the upstream
// connection. Data is the origin's raw JSON payload, passed through without
// interpretation.
type Event struct {
	Domain  string          `json:"domain"`
	Channel string          `json:"channel"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data"`
}

// EventSource delivers origin events to the bridge. The channel is closed
// when the source shuts down.
type EventSource interface {
	Events() <-chan Event
}

// ChatParams carries a public chat message.
type ChatParams struct {
	Message string `json:"message"`
}

// PrivateMessageParams carries a direct message to one user.
type PrivateMessageParams struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Chat operations are available at any rank.
type Chat interface {
	SendChat(ctx context.Context, p ChatParams) error
	SendPrivateMessage(ctx context.Context, p PrivateMessageParams) error
}

// AddVideoParams queues a media item. Position is "end" or "next"; empty
// means "end".
type AddVideoParams struct {
	URL      string `json:"url"`
	Position string `json:"position,omitempty"`
	Temp     bool   `json:"temp,omitempty"`
}

// DeleteVideoParams removes a queued item by its uid.
type DeleteVideoParams struct {
	UID string `json:"uid"`
}

// MoveVideoParams repositions a queued item after another.
type MoveVideoParams struct {
	UID   string `json:"uid"`
	After string `json:"after"`
}

// JumpToParams skips playback to a queued item.
type JumpToParams struct {
	UID string `json:"uid"`
}

// SetTempParams toggles an item's temporary flag.
type SetTempParams struct {
	UID  string `json:"uid"`
	Temp bool   `json:"temp"`
}

// Playlist operations mutate the queue.
type Playlist interface {
	AddVideo(ctx context.Context, p AddVideoParams) error
	DeleteVideo(ctx context.Context, p DeleteVideoParams) error
	MoveVideo(ctx context.Context, p MoveVideoParams) error
	JumpTo(ctx context.Context, p JumpToParams) error
	ClearPlaylist(ctx context.Context) error
	ShufflePlaylist(ctx context.Context) error
	SetTemp(ctx context.Context, p SetTempParams) error
}

// SeekToParams seeks within the current item, in seconds.
type SeekToParams struct {
	Time float64 `json:"time"`
}

// Playback operations control the shared player.
type Playback interface {
	Pause(ctx context.Context) error
	Play(ctx context.Context) error
	SeekTo(ctx context.Context, p SeekToParams) error
	PlayNext(ctx context.Context) error
	VoteSkip(ctx context.Context) error
}

// KickUserParams ejects a user from the channel.
type KickUserParams struct {
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
}

// BanUserParams bans a user.
type BanUserParams struct {
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
}

// UnbanParams lifts a ban. ID is the origin's ban record identifier when
// known; Name alone is accepted.
type UnbanParams struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// MuteUserParams silences a user, visibly or shadow-style.
type MuteUserParams struct {
	Username string `json:"username"`
}

// AssignLeaderParams hands playback leadership to a user. An empty username
// removes the current leader.
type AssignLeaderParams struct {
	Username string `json:"username"`
}

// SetChannelRankParams changes a user's permanent channel rank.
type SetChannelRankParams struct {
	Username string `json:"username"`
	Rank     int    `json:"rank"`
}

// ReadChanLogParams requests a slice of the channel log.
type ReadChanLogParams struct {
	Count int `json:"count,omitempty"`
}

// Moderation operations require elevated rank.
type Moderation interface {
	KickUser(ctx context.Context, p KickUserParams) error
	BanUser(ctx context.Context, p BanUserParams) error
	Unban(ctx context.Context, p UnbanParams) error
	MuteUser(ctx context.Context, p MuteUserParams) error
	ShadowMuteUser(ctx context.Context, p MuteUserParams) error
	UnmuteUser(ctx context.Context, p MuteUserParams) error
	AssignLeader(ctx context.Context, p AssignLeaderParams) error
	SetChannelRank(ctx context.Context, p SetChannelRankParams) error
	RequestChannelRanks(ctx context.Context) error
	RequestBanlist(ctx context.Context) error
	ReadChanLog(ctx context.Context, p ReadChanLogParams) error
}

// SetMOTDParams replaces the channel message of the day.
type SetMOTDParams struct {
	MOTD string `json:"motd"`
}

// SetChannelCSSParams replaces the channel stylesheet.
type SetChannelCSSParams struct {
	CSS string `json:"css"`
}

// SetChannelJSParams replaces the channel script.
type SetChannelJSParams struct {
	JS string `json:"js"`
}

// SetOptionsParams updates channel options. Keys are passed through to the
// origin unvalidated.
type SetOptionsParams struct {
	Options map[string]any `json:"options"`
}

// SetPermissionsParams updates the channel permission table.
type SetPermissionsParams struct {
	Permissions map[string]any `json:"permissions"`
}

// UpdateEmoteParams adds or updates one emote.
type UpdateEmoteParams struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// RemoveEmoteParams deletes one emote.
type RemoveEmoteParams struct {
	Name string `json:"name"`
}

// FilterParams describes a chat filter.
type FilterParams struct {
	Name    string `json:"name"`
	Source  string `json:"source,omitempty"`
	Flags   string `json:"flags,omitempty"`
	Replace string `json:"replace,omitempty"`
	Active  bool   `json:"active,omitempty"`
}

// RemoveFilterParams deletes one chat filter.
type RemoveFilterParams struct {
	Name string `json:"name"`
}

// Admin operations require channel-admin rank.
type Admin interface {
	SetMOTD(ctx context.Context, p SetMOTDParams) error
	SetChannelCSS(ctx context.Context, p SetChannelCSSParams) error
	SetChannelJS(ctx context.Context, p SetChannelJSParams) error
	SetOptions(ctx context.Context, p SetOptionsParams) error
	SetPermissions(ctx context.Context, p SetPermissionsParams) error
	UpdateEmote(ctx context.Context, p UpdateEmoteParams) error
	RemoveEmote(ctx context.Context, p RemoveEmoteParams) error
	AddFilter(ctx context.Context, p FilterParams) error
	UpdateFilter(ctx context.Context, p FilterParams) error
	RemoveFilter(ctx context.Context, p RemoveFilterParams) error
}

// SearchLibraryParams searches the channel media library.
type SearchLibraryParams struct {
	Query string `json:"query"`
}

// DeleteFromLibraryParams removes one library entry.
type DeleteFromLibraryParams struct {
	ID string `json:"id"`
}

// Library operations manage the channel's stored media.
type Library interface {
	SearchLibrary(ctx context.Context, p SearchLibraryParams) error
	DeleteFromLibrary(ctx context.Context, p DeleteFromLibraryParams) error
}

// NewPollParams opens a poll.
type NewPollParams struct {
	Title    string   `json:"title"`
	Options  []string `json:"options"`
	Obscured bool     `json:"obscured,omitempty"`
	Timeout  int      `json:"timeout,omitempty"`
}

// VoteParams casts a vote by option index.
type VoteParams struct {
	Option int `json:"option"`
}

// Polls operations manage channel polls.
type Polls interface {
	NewPoll(ctx context.Context, p NewPollParams) error
	Vote(ctx context.Context, p VoteParams) error
	ClosePoll(ctx context.Context) error
}

// Connector is the full origin capability set.
type Connector interface {
	Chat
	Playlist
	Playback
	Moderation
	Admin
	Library
	Polls
}
