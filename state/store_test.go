package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chanbridge/errors"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/pkg/jsoncodec"
)

// fakeBucket is an in-memory natsclient.Bucket.
type fakeBucket struct {
	mu      sync.Mutex
	entries map[string][]byte
	rev     uint64
	failPut bool
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{entries: make(map[string][]byte)}
}

func (b *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &fakeEntry{key: key, value: v, revision: b.rev}, nil
}

func (b *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failPut {
		return 0, assert.AnError
	}
	b.entries[key] = append([]byte(nil), value...)
	b.rev++
	return b.rev, nil
}

func (b *fakeBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.Put(ctx, key, value)
}

func (b *fakeBucket) Update(ctx context.Context, key string, value []byte, _ uint64) (uint64, error) {
	return b.Put(ctx, key, value)
}

func (b *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *fakeBucket) get(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[key]
}

type fakeEntry struct {
	key      string
	value    []byte
	revision uint64
}

func (e *fakeEntry) Bucket() string                  { return "fake" }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return e.revision }
func (e *fakeEntry) Created() time.Time              { return time.Time{} }
func (e *fakeEntry) Delta() uint64                   { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

// fakeProvider hands out fake buckets keyed by bucket name.
type fakeProvider struct {
	mu      sync.Mutex
	buckets map[string]*fakeBucket
	err     error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{buckets: make(map[string]*fakeBucket)}
}

func (p *fakeProvider) ProvisionBucket(_ context.Context, cfg jetstream.KeyValueConfig) (natsclient.Bucket, error) {
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[cfg.Bucket]
	if !ok {
		b = newFakeBucket()
		p.buckets[cfg.Bucket] = b
	}
	return b, nil
}

func newStartedStore(t *testing.T) (*Store, *fakeProvider) {
	t.Helper()

	provider := newFakeProvider()
	s := NewStore("cytu.be", "lounge", provider)
	require.NoError(t, s.Start(context.Background()))
	return s, provider
}

func TestBucketName(t *testing.T) {
	assert.Equal(t, "bridge_lounge_emotes", BucketName("bridge", "lounge", "emotes"))
	assert.Equal(t, "bridge_my-channel_playlist", BucketName("bridge", "My Channel", "playlist"))
}

func TestStart_ProvisionsAllBuckets(t *testing.T) {
	_, provider := newStartedStore(t)

	assert.Contains(t, provider.buckets, "bridge_lounge_emotes")
	assert.Contains(t, provider.buckets, "bridge_lounge_playlist")
	assert.Contains(t, provider.buckets, "bridge_lounge_userlist")
}

func TestStart_FailsFastWhenKVUnavailable(t *testing.T) {
	provider := newFakeProvider()
	provider.err = assert.AnError

	s := NewStore("cytu.be", "lounge", provider)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDependencyUnavailable)
}

func TestStop_Idempotent(t *testing.T) {
	s, provider := newStartedStore(t)

	require.NoError(t, s.SetEmotes(context.Background(), []Emote{{Name: "kappa"}}))

	s.Stop()
	s.Stop()

	// Buckets survive a stop.
	assert.Contains(t, provider.buckets, "bridge_lounge_emotes")
}

func TestSetEmotes_PersistsSnapshot(t *testing.T) {
	s, provider := newStartedStore(t)

	emotes := []Emote{{Name: "kappa", Image: "https://e/kappa.png"}}
	require.NoError(t, s.SetEmotes(context.Background(), emotes))

	assert.Equal(t, emotes, s.Emotes())

	var persisted []Emote
	data := provider.buckets["bridge_lounge_emotes"].get("list")
	require.NoError(t, jsoncodec.Unmarshal(data, &persisted))
	assert.Equal(t, emotes, persisted)
}

func TestAddPlaylistItem_Positions(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	a := PlaylistItem{UID: "a", Title: "First"}
	b := PlaylistItem{UID: "b", Title: "Second"}
	c := PlaylistItem{UID: "c", Title: "Third"}

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{a, b}))
	require.NoError(t, s.AddPlaylistItem(ctx, c, "a"))

	assert.Equal(t, []string{"a", "c", "b"}, uids(s.Playlist()))
}

func TestAddPlaylistItem_AppendOnEmptyAfterUID(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a"}}))
	require.NoError(t, s.AddPlaylistItem(ctx, PlaylistItem{UID: "b"}, ""))

	assert.Equal(t, []string{"a", "b"}, uids(s.Playlist()))
}

func TestAddPlaylistItem_AppendOnMissingAfterUID(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a"}, {UID: "b"}}))
	require.NoError(t, s.AddPlaylistItem(ctx, PlaylistItem{UID: "c"}, "missing"))

	assert.Equal(t, []string{"a", "b", "c"}, uids(s.Playlist()))
}

func TestRemovePlaylistItem(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a"}, {UID: "b"}}))
	require.NoError(t, s.RemovePlaylistItem(ctx, "a"))
	assert.Equal(t, []string{"b"}, uids(s.Playlist()))

	// Absent uid is an idempotent no-op.
	require.NoError(t, s.RemovePlaylistItem(ctx, "zzz"))
	assert.Equal(t, []string{"b"}, uids(s.Playlist()))
}

func TestMovePlaylistItem(t *testing.T) {
	ctx := context.Background()
	base := []PlaylistItem{{UID: "a"}, {UID: "b"}, {UID: "c"}}

	tests := []struct {
		name  string
		uid   string
		after string
		want  []string
	}{
		{"prepend", "c", MovePrepend, []string{"c", "a", "b"}},
		{"append", "a", MoveAppend, []string{"b", "c", "a"}},
		{"after uid", "a", "b", []string{"b", "a", "c"}},
		{"missing destination appends", "a", "zzz", []string{"b", "c", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newStartedStore(t)
			require.NoError(t, s.SetPlaylist(ctx, base))
			require.NoError(t, s.MovePlaylistItem(ctx, tt.uid, tt.after))
			assert.Equal(t, tt.want, uids(s.Playlist()))
		})
	}
}

func TestMovePlaylistItem_MissingUIDIsNoOp(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a"}, {UID: "b"}}))
	require.NoError(t, s.MovePlaylistItem(ctx, "zzz", MovePrepend))

	assert.Equal(t, []string{"a", "b"}, uids(s.Playlist()))
}

func TestUserRoster(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUsers(ctx, []User{
		{Name: "alice", Rank: 3},
		{Name: "bob", Rank: 1},
		{Name: "", Rank: 9}, // unnamed entries are dropped
	}))
	assert.Len(t, s.Users(), 2)

	require.NoError(t, s.AddUser(ctx, User{Name: "carol", Rank: 2}))
	require.NoError(t, s.UpdateUser(ctx, User{Name: "bob", Rank: 5}))

	bob, ok := s.User("bob")
	require.True(t, ok)
	assert.Equal(t, 5, bob.Rank)

	require.NoError(t, s.RemoveUser(ctx, "alice"))
	_, ok = s.User("alice")
	assert.False(t, ok)

	// Removing an absent user is a no-op.
	require.NoError(t, s.RemoveUser(ctx, "nobody"))
	assert.Len(t, s.Users(), 2)
}

func TestSetPlaylistItemTemp(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a"}, {UID: "b"}}))
	require.NoError(t, s.SetPlaylistItemTemp(ctx, "b", true))

	items := s.Playlist()
	assert.False(t, items[0].Temp)
	assert.True(t, items[1].Temp)

	// Unknown UID is a no-op.
	require.NoError(t, s.SetPlaylistItemTemp(ctx, "zzz", true))
	assert.Equal(t, []string{"a", "b"}, uids(s.Playlist()))
}

func TestSetUserRank(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUsers(ctx, []User{{Name: "alice", Rank: 1}}))
	require.NoError(t, s.SetUserRank(ctx, "alice", 4))

	alice, ok := s.User("alice")
	require.True(t, ok)
	assert.Equal(t, 4, alice.Rank)

	// Unknown user is a no-op.
	require.NoError(t, s.SetUserRank(ctx, "nobody", 9))
	assert.Len(t, s.Users(), 1)
}

func TestSetUserProfile(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUsers(ctx, []User{{Name: "alice", Rank: 1}}))
	require.NoError(t, s.SetUserProfile(ctx, "alice", Profile{Image: "a.png", Text: "hi"}))

	p, ok := s.Profile("alice")
	require.True(t, ok)
	assert.Equal(t, "hi", p.Text)

	require.NoError(t, s.SetUserProfile(ctx, "nobody", Profile{Text: "x"}))
	assert.Len(t, s.Profiles(), 1)
}

func TestSetUserAFK(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUsers(ctx, []User{{Name: "alice", Rank: 1}}))
	require.NoError(t, s.SetUserAFK(ctx, "alice", true))

	alice, ok := s.User("alice")
	require.True(t, ok)
	assert.Equal(t, true, alice.Meta["afk"])

	require.NoError(t, s.SetUserAFK(ctx, "alice", false))
	alice, _ = s.User("alice")
	assert.Equal(t, false, alice.Meta["afk"])

	require.NoError(t, s.SetUserAFK(ctx, "nobody", true))
	assert.Len(t, s.Users(), 1)
}

func TestProfiles(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUsers(ctx, []User{
		{Name: "alice", Rank: 3, Profile: &Profile{Image: "a.png", Text: "hi"}},
		{Name: "bob", Rank: 1},
	}))

	p, ok := s.Profile("alice")
	require.True(t, ok)
	assert.Equal(t, "a.png", p.Image)

	_, ok = s.Profile("bob")
	assert.False(t, ok)
	_, ok = s.Profile("nobody")
	assert.False(t, ok)

	all := s.Profiles()
	assert.Len(t, all, 1)
	assert.Contains(t, all, "alice")
}

func TestReadAccessorsReturnCopies(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEmotes(ctx, []Emote{{Name: "kappa"}}))
	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a", Raw: map[string]any{"k": "v"}}}))
	require.NoError(t, s.SetUsers(ctx, []User{{Name: "alice", Profile: &Profile{Text: "hi"}}}))

	s.Emotes()[0].Name = "corrupted"
	s.Playlist()[0].UID = "corrupted"
	s.Playlist()[0].Raw["k"] = "corrupted"
	users := s.Users()
	u := users["alice"]
	u.Profile.Text = "corrupted"
	users["alice"] = u

	assert.Equal(t, "kappa", s.Emotes()[0].Name)
	assert.Equal(t, "a", s.Playlist()[0].UID)
	assert.Equal(t, "v", s.Playlist()[0].Raw["k"])
	alice, _ := s.User("alice")
	assert.Equal(t, "hi", alice.Profile.Text)
}

func TestPersistFailureKeepsMemoryFresh(t *testing.T) {
	s, provider := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a"}}))

	provider.buckets["bridge_lounge_playlist"].failPut = true

	err := s.AddPlaylistItem(ctx, PlaylistItem{UID: "b"}, "")
	require.Error(t, err)

	// The write failed but readers see the new value.
	assert.Equal(t, []string{"a", "b"}, uids(s.Playlist()))
}

func TestMutationsBeforeStartReportStorageUnavailable(t *testing.T) {
	s := NewStore("cytu.be", "lounge", newFakeProvider())

	err := s.SetEmotes(context.Background(), []Emote{{Name: "kappa"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)

	// Memory still updated.
	assert.Len(t, s.Emotes(), 1)
}

func TestAll(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEmotes(ctx, []Emote{{Name: "kappa"}}))
	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "a"}, {UID: "b"}}))
	require.NoError(t, s.SetUsers(ctx, []User{{Name: "alice"}}))

	snap := s.All()
	assert.Len(t, snap.Emotes, 1)
	assert.Len(t, snap.Playlist, 2)
	assert.Len(t, snap.Users, 1)
}

func TestStats(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEmotes(ctx, []Emote{{Name: "a"}, {Name: "b"}}))
	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{{UID: "x"}}))
	require.NoError(t, s.SetUsers(ctx, []User{{Name: "alice"}, {Name: "bob"}, {Name: "carol"}}))

	assert.Equal(t, Stats{EmoteCount: 2, PlaylistCount: 1, UserCount: 3}, s.Stats())
}

// End to end through set, positional add, and read.
func TestPlaylistSequence(t *testing.T) {
	s, _ := newStartedStore(t)
	ctx := context.Background()

	a := PlaylistItem{UID: "a"}
	b := PlaylistItem{UID: "b"}
	c := PlaylistItem{UID: "c"}

	require.NoError(t, s.SetPlaylist(ctx, []PlaylistItem{a, b}))
	require.NoError(t, s.AddPlaylistItem(ctx, c, a.UID))

	assert.Equal(t, []string{"a", "c", "b"}, uids(s.Playlist()))
}

func uids(items []PlaylistItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.UID
	}
	return out
}
