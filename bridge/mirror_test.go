package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chanbridge/connector"
	"github.com/c360/chanbridge/natsclient"
	"github.com/c360/chanbridge/state"
)

// fakeSource feeds scripted events to the mirror.
type fakeSource struct {
	ch chan connector.Event
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan connector.Event, 16)}
}

func (f *fakeSource) Events() <-chan connector.Event { return f.ch }

func (f *fakeSource) emit(name, data string) {
	f.ch <- connector.Event{Name: name, Data: []byte(data)}
}

// fakePublisher records published subjects and payloads.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	subject string
	data    string
}

func (f *fakePublisher) Publish(_ context.Context, subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedEvent{subject: subj, data: string(data)})
	return nil
}

func (f *fakePublisher) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, p := range f.published {
		out[i] = p.subject
	}
	return out
}

// testBucket accepts every write; mirror tests assert against store memory.
type testBucket struct{}

func (testBucket) Get(_ context.Context, _ string) (jetstream.KeyValueEntry, error) {
	return nil, jetstream.ErrKeyNotFound
}
func (testBucket) Put(_ context.Context, _ string, _ []byte) (uint64, error)    { return 1, nil }
func (testBucket) Create(_ context.Context, _ string, _ []byte) (uint64, error) { return 1, nil }
func (testBucket) Update(_ context.Context, _ string, _ []byte, _ uint64) (uint64, error) {
	return 1, nil
}
func (testBucket) Delete(_ context.Context, _ string, _ ...jetstream.KVDeleteOpt) error { return nil }

type testProvider struct{}

func (testProvider) ProvisionBucket(_ context.Context, _ jetstream.KeyValueConfig) (natsclient.Bucket, error) {
	return testBucket{}, nil
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s := state.NewStore("cytu.be", "lounge", testProvider{})
	require.NoError(t, s.Start(context.Background()))
	return s
}

func newTestMirror(t *testing.T) (*Mirror, *fakeSource, *fakePublisher, *state.Store) {
	t.Helper()
	source := newFakeSource()
	publisher := &fakePublisher{}
	store := newTestStore(t)
	m := NewMirror("cytu.be", "lounge", source, publisher, store)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	return m, source, publisher, store
}

// drain stops the mirror so every queued event has been handled before
// assertions run.
func drain(t *testing.T, m *Mirror) {
	t.Helper()
	require.NoError(t, m.Stop())
}

func TestMirrorPublishesOnEventSubject(t *testing.T) {
	m, source, publisher, _ := newTestMirror(t)

	source.emit("chatMsg", `{"username":"alice","msg":"hi"}`)
	source.emit("mediaUpdate", `{"currentTime":12.5}`)
	close(source.ch)
	drain(t, m)

	assert.Equal(t, []string{
		"bridge.events.cytu.be.lounge.chatmsg",
		"bridge.events.cytu.be.lounge.mediaupdate",
	}, publisher.subjects())

	stats := m.StatsSnapshot()
	assert.Equal(t, int64(2), stats["events_received"])
	assert.Equal(t, int64(2), stats["events_published"])
	assert.Equal(t, int64(0), stats["events_failed"])
}

func TestMirrorAppliesEmoteList(t *testing.T) {
	m, source, _, store := newTestMirror(t)

	source.emit("emoteList", `[{"name":"pog","image":"https://img.example/pog.png"}]`)
	close(source.ch)
	drain(t, m)

	emotes := store.Emotes()
	require.Len(t, emotes, 1)
	assert.Equal(t, "pog", emotes[0].Name)
}

func TestMirrorAppliesPlaylistEvents(t *testing.T) {
	m, source, _, store := newTestMirror(t)

	source.emit("playlist", `[{"uid":"a","title":"first"},{"uid":"b","title":"second"}]`)
	source.emit("queue", `{"item":{"uid":"c","title":"third"},"after":"a"}`)
	source.emit("moveVideo", `{"from":"b","after":"prepend"}`)
	source.emit("setTemp", `{"uid":"c","temp":true}`)
	source.emit("delete", `{"uid":"a"}`)
	close(source.ch)
	drain(t, m)

	items := store.Playlist()
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].UID)
	assert.Equal(t, "c", items[1].UID)
	assert.True(t, items[1].Temp)
}

func TestMirrorQueuePrepend(t *testing.T) {
	m, source, _, store := newTestMirror(t)

	source.emit("playlist", `[{"uid":"a"}]`)
	source.emit("queue", `{"item":{"uid":"z"},"after":"prepend"}`)
	close(source.ch)
	drain(t, m)

	items := store.Playlist()
	require.Len(t, items, 2)
	assert.Equal(t, "z", items[0].UID)
}

func TestMirrorQueueAppendSynonyms(t *testing.T) {
	m, source, _, store := newTestMirror(t)

	source.emit("playlist", `[{"uid":"a"}]`)
	source.emit("queue", `{"item":{"uid":"b"},"after":"append"}`)
	source.emit("queue", `{"item":{"uid":"c"}}`)
	close(source.ch)
	drain(t, m)

	items := store.Playlist()
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[2].UID)
}

func TestMirrorAppliesUserEvents(t *testing.T) {
	m, source, _, store := newTestMirror(t)

	source.emit("userlist", `[{"name":"alice","rank":3},{"name":"bob","rank":1}]`)
	source.emit("addUser", `{"name":"carol","rank":2}`)
	source.emit("setUserRank", `{"name":"bob","rank":5}`)
	source.emit("setUserProfile", `{"name":"alice","profile":{"image":"a.png","text":"hi"}}`)
	source.emit("setAFK", `{"name":"carol","afk":true}`)
	source.emit("userLeave", `{"name":"alice"}`)
	close(source.ch)
	drain(t, m)

	users := store.Users()
	require.Len(t, users, 2)
	assert.Equal(t, 5, users["bob"].Rank)
	assert.Equal(t, true, users["carol"].Meta["afk"])
	_, present := users["alice"]
	assert.False(t, present)
}

func TestMirrorUnknownEventPublishedNotApplied(t *testing.T) {
	m, source, publisher, store := newTestMirror(t)

	source.emit("drinkCount", `{"count":3}`)
	close(source.ch)
	drain(t, m)

	assert.Equal(t, []string{"bridge.events.cytu.be.lounge.drinkcount"}, publisher.subjects())
	assert.Empty(t, store.Playlist())
	assert.Empty(t, store.Users())

	stats := m.StatsSnapshot()
	assert.Equal(t, int64(1), stats["events_published"])
	assert.Equal(t, int64(0), stats["events_failed"])
}

func TestMirrorMalformedStatePayloadCountsFailed(t *testing.T) {
	m, source, publisher, store := newTestMirror(t)

	source.emit("playlist", `{not json`)
	close(source.ch)
	drain(t, m)

	// Still published; only the state apply failed.
	assert.Len(t, publisher.subjects(), 1)
	assert.Empty(t, store.Playlist())

	stats := m.StatsSnapshot()
	assert.Equal(t, int64(1), stats["events_published"])
	assert.Equal(t, int64(1), stats["events_failed"])
}

func TestMirrorPublishFailureCountsFailed(t *testing.T) {
	source := newFakeSource()
	publisher := &fakePublisher{err: assert.AnError}
	store := newTestStore(t)
	m := NewMirror("cytu.be", "lounge", source, publisher, store)
	require.NoError(t, m.Start(context.Background()))

	source.emit("emoteList", `[]`)
	close(source.ch)
	drain(t, m)

	// The apply is skipped when the publish fails.
	assert.Empty(t, store.Emotes())

	stats := m.StatsSnapshot()
	assert.Equal(t, int64(1), stats["events_received"])
	assert.Equal(t, int64(0), stats["events_published"])
	assert.Equal(t, int64(1), stats["events_failed"])
}

func TestMirrorUnaddressableEventDropped(t *testing.T) {
	m, source, publisher, _ := newTestMirror(t)

	source.emit("", `{}`)
	close(source.ch)
	drain(t, m)

	assert.Empty(t, publisher.subjects())

	stats := m.StatsSnapshot()
	assert.Equal(t, int64(1), stats["events_failed"])
}

func TestMirrorStartStopLifecycle(t *testing.T) {
	source := newFakeSource()
	m := NewMirror("cytu.be", "lounge", source, &fakePublisher{}, newTestStore(t))

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	// A stopped mirror can be started again.
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
}

func TestMirrorStopDoesNotBlockOnOpenSource(t *testing.T) {
	source := newFakeSource()
	m := NewMirror("cytu.be", "lounge", source, &fakePublisher{}, newTestStore(t))
	require.NoError(t, m.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		_ = m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the source stayed open")
	}
}
