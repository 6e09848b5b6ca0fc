package state

// Emote is one entry in a channel's emote roster. The roster is replaced
// wholesale on reload; there are no partial emote mutations.
type Emote struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// PlaylistItem is one queued media entry. UID is opaque and stable for the
// item's lifetime. Raw carries origin metadata that the bridge passes
// through without interpreting.
type PlaylistItem struct {
	UID      string         `json:"uid"`
	Title    string         `json:"title,omitempty"`
	Duration float64        `json:"duration,omitempty"`
	Type     string         `json:"type,omitempty"`
	ID       string         `json:"id,omitempty"`
	Temp     bool           `json:"temp,omitempty"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// Profile is a user's avatar and bio sub-record.
type Profile struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

// User is one entry in a channel's user roster, keyed by Name
// (case-sensitive). Rank is the origin's integer privilege level.
type User struct {
	Name    string         `json:"name"`
	Rank    int            `json:"rank"`
	Profile *Profile       `json:"profile,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Snapshot is a point-in-time copy of a channel's full state.
type Snapshot struct {
	Emotes   []Emote         `json:"emotes"`
	Playlist []PlaylistItem  `json:"playlist"`
	Users    map[string]User `json:"users"`
}

// Stats summarizes the sizes of a channel's replicated collections.
type Stats struct {
	EmoteCount    int `json:"emote_count"`
	PlaylistCount int `json:"playlist_count"`
	UserCount     int `json:"user_count"`
}

func cloneEmotes(src []Emote) []Emote {
	out := make([]Emote, len(src))
	copy(out, src)
	return out
}

func clonePlaylistItem(item PlaylistItem) PlaylistItem {
	if item.Raw != nil {
		raw := make(map[string]any, len(item.Raw))
		for k, v := range item.Raw {
			raw[k] = v
		}
		item.Raw = raw
	}
	return item
}

func clonePlaylist(src []PlaylistItem) []PlaylistItem {
	out := make([]PlaylistItem, len(src))
	for i, item := range src {
		out[i] = clonePlaylistItem(item)
	}
	return out
}

func cloneUser(u User) User {
	if u.Profile != nil {
		profile := *u.Profile
		u.Profile = &profile
	}
	if u.Meta != nil {
		meta := make(map[string]any, len(u.Meta))
		for k, v := range u.Meta {
			meta[k] = v
		}
		u.Meta = meta
	}
	return u
}

func cloneUsers(src map[string]User) map[string]User {
	out := make(map[string]User, len(src))
	for name, u := range src {
		out[name] = cloneUser(u)
	}
	return out
}
