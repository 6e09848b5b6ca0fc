// Package command routes inbound {action, data} requests to origin
// connector operations. Action names form a closed set; the synonym table
// normalizes the origin's documented aliases before dispatch, so new actions
// require both an enum member and a dispatch arm.
package command

// Action identifies one origin operation.
type Action int

// The closed set of routable actions.
const (
	ActionUnknown Action = iota

	// Chat
	ActionChat
	ActionPrivateMessage

	// Playlist
	ActionAddVideo
	ActionDeleteVideo
	ActionMoveVideo
	ActionJumpTo
	ActionClearPlaylist
	ActionShufflePlaylist
	ActionSetTemp

	// Playback
	ActionPause
	ActionPlay
	ActionSeekTo
	ActionPlayNext
	ActionVoteSkip

	// Moderation
	ActionKickUser
	ActionBanUser
	ActionUnban
	ActionMuteUser
	ActionShadowMuteUser
	ActionUnmuteUser
	ActionAssignLeader
	ActionSetChannelRank
	ActionRequestChannelRanks
	ActionRequestBanlist
	ActionReadChanLog

	// Admin
	ActionSetMOTD
	ActionSetChannelCSS
	ActionSetChannelJS
	ActionSetOptions
	ActionSetPermissions
	ActionUpdateEmote
	ActionRemoveEmote
	ActionAddFilter
	ActionUpdateFilter
	ActionRemoveFilter

	// Polls
	ActionNewPoll
	ActionVote
	ActionClosePoll

	// Library
	ActionSearchLibrary
	ActionDeleteFromLibrary
)

var actionNames = map[Action]string{
	ActionChat:                "chat",
	ActionPrivateMessage:      "pm",
	ActionAddVideo:            "add_video",
	ActionDeleteVideo:         "delete_video",
	ActionMoveVideo:           "move_video",
	ActionJumpTo:              "jump_to",
	ActionClearPlaylist:       "clear_playlist",
	ActionShufflePlaylist:     "shuffle_playlist",
	ActionSetTemp:             "set_temp",
	ActionPause:               "pause",
	ActionPlay:                "play",
	ActionSeekTo:              "seek_to",
	ActionPlayNext:            "play_next",
	ActionVoteSkip:            "voteskip",
	ActionKickUser:            "kick_user",
	ActionBanUser:             "ban_user",
	ActionUnban:               "unban",
	ActionMuteUser:            "mute_user",
	ActionShadowMuteUser:      "shadow_mute_user",
	ActionUnmuteUser:          "unmute_user",
	ActionAssignLeader:        "assign_leader",
	ActionSetChannelRank:      "set_channel_rank",
	ActionRequestChannelRanks: "request_channel_ranks",
	ActionRequestBanlist:      "request_banlist",
	ActionReadChanLog:         "read_chan_log",
	ActionSetMOTD:             "set_motd",
	ActionSetChannelCSS:       "set_channel_css",
	ActionSetChannelJS:        "set_channel_js",
	ActionSetOptions:          "set_options",
	ActionSetPermissions:      "set_permissions",
	ActionUpdateEmote:         "update_emote",
	ActionRemoveEmote:         "remove_emote",
	ActionAddFilter:           "add_filter",
	ActionUpdateFilter:        "update_filter",
	ActionRemoveFilter:        "remove_filter",
	ActionNewPoll:             "new_poll",
	ActionVote:                "vote",
	ActionClosePoll:           "close_poll",
	ActionSearchLibrary:       "search_library",
	ActionDeleteFromLibrary:   "delete_from_library",
}

// String returns the canonical snake_case name for the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// synonyms maps every accepted action spelling, including the origin's
// camelCase aliases and shorthands, to its Action.
var synonyms = map[string]Action{
	"chat": ActionChat,
	"pm":   ActionPrivateMessage,

	"queue":            ActionAddVideo,
	"add_video":        ActionAddVideo,
	"delete":           ActionDeleteVideo,
	"delete_video":     ActionDeleteVideo,
	"move":             ActionMoveVideo,
	"move_video":       ActionMoveVideo,
	"jump":             ActionJumpTo,
	"jump_to":          ActionJumpTo,
	"clear":            ActionClearPlaylist,
	"clear_playlist":   ActionClearPlaylist,
	"shuffle":          ActionShufflePlaylist,
	"shuffle_playlist": ActionShufflePlaylist,
	"set_temp":         ActionSetTemp,
	"setTemp":          ActionSetTemp,

	"pause":     ActionPause,
	"play":      ActionPlay,
	"seek":      ActionSeekTo,
	"seek_to":   ActionSeekTo,
	"playNext":  ActionPlayNext,
	"play_next": ActionPlayNext,
	"voteskip":  ActionVoteSkip,

	"kick":             ActionKickUser,
	"kick_user":        ActionKickUser,
	"ban":              ActionBanUser,
	"ban_user":         ActionBanUser,
	"unban":            ActionUnban,
	"mute":             ActionMuteUser,
	"mute_user":        ActionMuteUser,
	"smute":            ActionShadowMuteUser,
	"shadow_mute":      ActionShadowMuteUser,
	"shadow_mute_user": ActionShadowMuteUser,
	"unmute":           ActionUnmuteUser,
	"unmute_user":      ActionUnmuteUser,
	"assignLeader":     ActionAssignLeader,
	"assign_leader":    ActionAssignLeader,

	"setChannelRank":        ActionSetChannelRank,
	"set_channel_rank":      ActionSetChannelRank,
	"requestChannelRanks":   ActionRequestChannelRanks,
	"request_channel_ranks": ActionRequestChannelRanks,
	"requestBanlist":        ActionRequestBanlist,
	"request_banlist":       ActionRequestBanlist,
	"readChanLog":           ActionReadChanLog,
	"read_chan_log":         ActionReadChanLog,

	"setMotd":         ActionSetMOTD,
	"set_motd":        ActionSetMOTD,
	"setChannelCSS":   ActionSetChannelCSS,
	"set_channel_css": ActionSetChannelCSS,
	"setChannelJS":    ActionSetChannelJS,
	"set_channel_js":  ActionSetChannelJS,
	"setOptions":      ActionSetOptions,
	"set_options":     ActionSetOptions,
	"setPermissions":  ActionSetPermissions,
	"set_permissions": ActionSetPermissions,
	"updateEmote":     ActionUpdateEmote,
	"update_emote":    ActionUpdateEmote,
	"removeEmote":     ActionRemoveEmote,
	"remove_emote":    ActionRemoveEmote,
	"addFilter":       ActionAddFilter,
	"add_filter":      ActionAddFilter,
	"updateFilter":    ActionUpdateFilter,
	"update_filter":   ActionUpdateFilter,
	"removeFilter":    ActionRemoveFilter,
	"remove_filter":   ActionRemoveFilter,

	"newPoll":    ActionNewPoll,
	"new_poll":   ActionNewPoll,
	"vote":       ActionVote,
	"closePoll":  ActionClosePoll,
	"close_poll": ActionClosePoll,

	"searchLibrary":       ActionSearchLibrary,
	"search_library":      ActionSearchLibrary,
	"deleteFromLibrary":   ActionDeleteFromLibrary,
	"delete_from_library": ActionDeleteFromLibrary,
}

// ParseAction resolves an action name or synonym to its Action. The second
// return is false for names outside the closed set.
func ParseAction(name string) (Action, bool) {
	a, ok := synonyms[name]
	return a, ok
}

// Actions returns every member of the closed set, excluding ActionUnknown.
func Actions() []Action {
	out := make([]Action, 0, len(actionNames))
	for a := range actionNames {
		out = append(out, a)
	}
	return out
}
