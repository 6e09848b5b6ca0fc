// Package state maintains the authoritative in-process cache of one
// channel's emotes, playlist, and user roster, mirrored into durable KV
// buckets after every mutation. The cache is the single writer for its
// channel; readers always receive copies.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/pkg/jsoncodec"
	"github.com/c360/chanbridge/subject"
)

// Reserved destinations accepted by MovePlaylistItem.
const (
	MovePrepend = "prepend"
	MoveAppend  = "append"
)

// Collection names used for bucket naming and metrics labels.
const (
	collectionEmotes   = "emotes"
	collectionPlaylist = "playlist"
	collectionUserlist = "userlist"
)

// Keys for the single logical record in each bucket.
const (
	keyEmotes   = "list"
	keyPlaylist = "items"
	keyUserlist = "users"
)

// BucketProvider provisions durable KV buckets. Satisfied by
// *natsclient.Client.
type BucketProvider interface {
	ProvisionBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (natsclient.Bucket, error)
}

// BucketName derives the deterministic bucket name for one of a channel's
// collections. The channel token is normalized the same way subjects are so
// bucket names stay stable across differently-cased inputs.
func BucketName(prefix, channel, collection string) string {
	return fmt.Sprintf("%s_%s_%s", prefix, subject.Normalize(channel), collection)
}

// Store owns one channel's state. One mutex serializes every mutation across
// the in-memory update and the KV write, so concurrent subscriptions cannot
// interleave lost updates.
type Store struct {
	domain       string
	channel      string
	bucketPrefix string
	provider     BucketProvider
	logger       *slog.Logger
	metrics      metricsRecorder

	mu       sync.Mutex
	emotes   []Emote
	playlist []PlaylistItem
	users    map[string]User

	emoteKV    *natsclient.KVStore
	playlistKV *natsclient.KVStore
	userKV     *natsclient.KVStore
	started    bool
}

// metricsRecorder is the subset of metric.Metrics the store reports to.
type metricsRecorder interface {
	RecordStateItems(channel, collection string, count int)
	RecordKVWrite(channel, collection, status string)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store's structured logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBucketPrefix overrides the default bucket name prefix.
func WithBucketPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if prefix != "" {
			s.bucketPrefix = prefix
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m metricsRecorder) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a store for one (domain, channel) pair. Start must be
// called before mutations are persisted.
func NewStore(domain, channel string, provider BucketProvider, opts ...StoreOption) *Store {
	s := &Store{
		domain:       domain,
		channel:      channel,
		bucketPrefix: "bridge",
		provider:     provider,
		logger:       slog.Default(),
		users:        make(map[string]User),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("component", "state", "channel", channel)

	return s
}

// Domain returns the origin domain this store serves.
func (s *Store) Domain() string { return s.domain }

// Channel returns the channel this store serves.
func (s *Store) Channel() string { return s.channel }

// Start provisions the three durable buckets. Failure to reach the KV layer
// is fatal for this store: it returns ErrDependencyUnavailable rather than
// running without durability.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	collections := []struct {
		name  string
		store **natsclient.KVStore
	}{
		{collectionEmotes, &s.emoteKV},
		{collectionPlaylist, &s.playlistKV},
		{collectionUserlist, &s.userKV},
	}

	for _, c := range collections {
		bucketName := BucketName(s.bucketPrefix, s.channel, c.name)
		bucket, err := s.provider.ProvisionBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      bucketName,
			Description: fmt.Sprintf("%s %s for channel %s", s.domain, c.name, s.channel),
			History:     1,
		})
		if err != nil {
			return fmt.Errorf("%w: provision bucket %s: %v",
				errors.ErrDependencyUnavailable, bucketName, err)
		}
		*c.store = natsclient.NewKVStore(bucket, nil)
	}

	s.started = true
	s.logger.Info("state store started",
		"domain", s.domain,
		"bucket_prefix", s.bucketPrefix)

	return nil
}

// Stop releases the bucket handles. The buckets themselves are never
// deleted; a restart rebinds to them. Idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.emoteKV = nil
	s.playlistKV = nil
	s.userKV = nil
	s.started = false

	s.logger.Info("state store stopped")
}

// persist writes one collection's snapshot to its bucket. Called with the
// store mutex held. A nil KV handle (store not started) is reported as a
// failed write but does not roll back memory.
func (s *Store) persist(ctx context.Context, kv *natsclient.KVStore, key, collection string, value any) error {
	data, err := jsoncodec.Marshal(value)
	if err != nil {
		s.recordKVWrite(collection, "failed")
		return errors.Wrap(err, "Store", "persist",
			fmt.Sprintf("encode %s snapshot", collection))
	}

	if kv == nil {
		s.recordKVWrite(collection, "failed")
		return fmt.Errorf("%w: store not started", errors.ErrStorageUnavailable)
	}

	if _, err := kv.Put(ctx, key, data); err != nil {
		s.recordKVWrite(collection, "failed")
		s.logger.Error("snapshot write failed",
			"collection", collection,
			"error", err)
		return errors.WrapTransient(err, "Store", "persist",
			fmt.Sprintf("write %s snapshot", collection))
	}

	s.recordKVWrite(collection, "success")
	return nil
}

func (s *Store) recordKVWrite(collection, status string) {
	if s.metrics != nil {
		s.metrics.RecordKVWrite(s.channel, collection, status)
	}
}

func (s *Store) recordItems(collection string, count int) {
	if s.metrics != nil {
		s.metrics.RecordStateItems(s.channel, collection, count)
	}
}

// SetEmotes replaces the emote roster wholesale and persists it as one
// record.
func (s *Store) SetEmotes(ctx context.Context, emotes []Emote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emotes = cloneEmotes(emotes)
	s.recordItems(collectionEmotes, len(s.emotes))

	return s.persist(ctx, s.emoteKV, keyEmotes, collectionEmotes, s.emotes)
}

// SetPlaylist replaces the playlist wholesale.
func (s *Store) SetPlaylist(ctx context.Context, items []PlaylistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playlist = clonePlaylist(items)
	s.recordItems(collectionPlaylist, len(s.playlist))

	return s.persist(ctx, s.playlistKV, keyPlaylist, collectionPlaylist, s.playlist)
}

// ClearPlaylist replaces the playlist with an empty sequence.
func (s *Store) ClearPlaylist(ctx context.Context) error {
	return s.SetPlaylist(ctx, nil)
}

// AddPlaylistItem inserts item after the entry whose UID matches afterUID.
// An empty afterUID appends. An afterUID that is not present also appends;
// this fallback is the origin's documented behavior, not an error.
func (s *Store) AddPlaylistItem(ctx context.Context, item PlaylistItem, afterUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playlist = insertAfter(s.playlist, clonePlaylistItem(item), afterUID)
	s.recordItems(collectionPlaylist, len(s.playlist))

	return s.persist(ctx, s.playlistKV, keyPlaylist, collectionPlaylist, s.playlist)
}

// RemovePlaylistItem removes the entry with the given UID. Removing an
// absent UID is an idempotent no-op that still persists the (unchanged)
// snapshot.
func (s *Store) RemovePlaylistItem(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.playlist {
		if item.UID == uid {
			s.playlist = append(s.playlist[:i], s.playlist[i+1:]...)
			break
		}
	}
	s.recordItems(collectionPlaylist, len(s.playlist))

	return s.persist(ctx, s.playlistKV, keyPlaylist, collectionPlaylist, s.playlist)
}

// MovePlaylistItem repositions the entry with the given UID. The destination
// is either another entry's UID (insert after it), MovePrepend (index 0), or
// MoveAppend (end). Moving a UID that is not present logs a warning and
// leaves the playlist unchanged.
func (s *Store) MovePlaylistItem(ctx context.Context, uid, after string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, item := range s.playlist {
		if item.UID == uid {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.logger.Warn("move of unknown playlist item ignored", "uid", uid)
		return nil
	}

	item := s.playlist[idx]
	rest := append(s.playlist[:idx:idx], s.playlist[idx+1:]...)

	switch after {
	case MovePrepend:
		s.playlist = append([]PlaylistItem{item}, rest...)
	case MoveAppend:
		s.playlist = append(rest, item)
	default:
		s.playlist = insertAfter(rest, item, after)
	}

	return s.persist(ctx, s.playlistKV, keyPlaylist, collectionPlaylist, s.playlist)
}

// SetPlaylistItemTemp flags one entry as temporary or permanent. Flagging an
// absent UID logs a warning and leaves the playlist unchanged.
func (s *Store) SetPlaylistItemTemp(ctx context.Context, uid string, temp bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, item := range s.playlist {
		if item.UID == uid {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.logger.Warn("temp flag for unknown playlist item ignored", "uid", uid)
		return nil
	}

	s.playlist[idx].Temp = temp

	return s.persist(ctx, s.playlistKV, keyPlaylist, collectionPlaylist, s.playlist)
}

// insertAfter inserts item after the entry matching afterUID, appending when
// afterUID is empty or not found.
func insertAfter(list []PlaylistItem, item PlaylistItem, afterUID string) []PlaylistItem {
	if afterUID != "" {
		for i, existing := range list {
			if existing.UID == afterUID {
				out := make([]PlaylistItem, 0, len(list)+1)
				out = append(out, list[:i+1]...)
				out = append(out, item)
				out = append(out, list[i+1:]...)
				return out
			}
		}
	}
	return append(list, item)
}

// SetUsers replaces the user roster wholesale. Entries without a name are
// logged and skipped, never stored.
func (s *Store) SetUsers(ctx context.Context, users []User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster := make(map[string]User, len(users))
	for _, u := range users {
		if u.Name == "" {
			s.logger.Warn("discarding unnamed user from roster")
			continue
		}
		roster[u.Name] = cloneUser(u)
	}
	s.users = roster
	s.recordItems(collectionUserlist, len(s.users))

	return s.persist(ctx, s.userKV, keyUserlist, collectionUserlist, s.users)
}

// AddUser upserts one user. Unnamed users are logged and dropped.
func (s *Store) AddUser(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Name == "" {
		s.logger.Warn("discarding unnamed user")
		return nil
	}

	s.users[user.Name] = cloneUser(user)
	s.recordItems(collectionUserlist, len(s.users))

	return s.persist(ctx, s.userKV, keyUserlist, collectionUserlist, s.users)
}

// UpdateUser upserts one user; identical semantics to AddUser since the
// roster is keyed by name.
func (s *Store) UpdateUser(ctx context.Context, user User) error {
	return s.AddUser(ctx, user)
}

// SetUserRank updates one user's rank. An absent name logs a warning and
// leaves the roster unchanged.
func (s *Store) SetUserRank(ctx context.Context, name string, rank int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[name]
	if !ok {
		s.logger.Warn("rank update for unknown user ignored", "user", name)
		return nil
	}
	u.Rank = rank
	s.users[name] = u

	return s.persist(ctx, s.userKV, keyUserlist, collectionUserlist, s.users)
}

// SetUserProfile updates one user's profile. An absent name logs a warning
// and leaves the roster unchanged.
func (s *Store) SetUserProfile(ctx context.Context, name string, profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[name]
	if !ok {
		s.logger.Warn("profile update for unknown user ignored", "user", name)
		return nil
	}
	u.Profile = &profile
	s.users[name] = u

	return s.persist(ctx, s.userKV, keyUserlist, collectionUserlist, s.users)
}

// SetUserAFK updates one user's away flag, kept under the "afk" meta key. An
// absent name logs a warning and leaves the roster unchanged.
func (s *Store) SetUserAFK(ctx context.Context, name string, afk bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[name]
	if !ok {
		s.logger.Warn("afk update for unknown user ignored", "user", name)
		return nil
	}
	if u.Meta == nil {
		u.Meta = make(map[string]any)
	}
	u.Meta["afk"] = afk
	s.users[name] = u

	return s.persist(ctx, s.userKV, keyUserlist, collectionUserlist, s.users)
}

// RemoveUser deletes a user from the roster. Removing an absent name is a
// no-op.
func (s *Store) RemoveUser(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, name)
	s.recordItems(collectionUserlist, len(s.users))

	return s.persist(ctx, s.userKV, keyUserlist, collectionUserlist, s.users)
}

// Emotes returns a copy of the emote roster.
func (s *Store) Emotes() []Emote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEmotes(s.emotes)
}

// Playlist returns a copy of the playlist.
func (s *Store) Playlist() []PlaylistItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePlaylist(s.playlist)
}

// Users returns a copy of the user roster.
func (s *Store) Users() map[string]User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUsers(s.users)
}

// User returns a copy of one user by name.
func (s *Store) User(name string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[name]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// Profile returns a copy of one user's profile. The second return is false
// when the user is absent or has no profile.
func (s *Store) Profile(name string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[name]
	if !ok || u.Profile == nil {
		return Profile{}, false
	}
	return *u.Profile, true
}

// Profiles returns a copy of every user's profile, keyed by username. Users
// without a profile are omitted.
func (s *Store) Profiles() map[string]Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Profile)
	for name, u := range s.users {
		if u.Profile != nil {
			out[name] = *u.Profile
		}
	}
	return out
}

// All returns a copy of the full channel state.
func (s *Store) All() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Emotes:   cloneEmotes(s.emotes),
		Playlist: clonePlaylist(s.playlist),
		Users:    cloneUsers(s.users),
	}
}

// Stats returns the sizes of the replicated collections.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		EmoteCount:    len(s.emotes),
		PlaylistCount: len(s.playlist),
		UserCount:     len(s.users),
	}
}
