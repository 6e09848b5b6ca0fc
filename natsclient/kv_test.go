package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBucket is an in-memory Bucket with real revision semantics.
type memBucket struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	// Optional hook invoked before each write, used to inject contention.
	beforeWrite func()
}

type memEntry struct {
	value    []byte
	revision uint64
}

func newMemBucket() *memBucket {
	return &memBucket{entries: make(map[string]*memEntry)}
}

func (b *memBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &memKVEntry{key: key, value: append([]byte(nil), e.value...), revision: e.revision}, nil
}

func (b *memBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if b.beforeWrite != nil {
		b.beforeWrite()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		b.entries[key] = &memEntry{value: append([]byte(nil), value...), revision: 1}
		return 1, nil
	}
	e.value = append([]byte(nil), value...)
	e.revision++
	return e.revision, nil
}

func (b *memBucket) Create(_ context.Context, key string, value []byte) (uint64, error) {
	if b.beforeWrite != nil {
		b.beforeWrite()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	b.entries[key] = &memEntry{value: append([]byte(nil), value...), revision: 1}
	return 1, nil
}

func (b *memBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if b.beforeWrite != nil {
		b.beforeWrite()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return 0, jetstream.ErrKeyNotFound
	}
	if e.revision != revision {
		return 0, ErrKVRevisionMismatch
	}
	e.value = append([]byte(nil), value...)
	e.revision++
	return e.revision, nil
}

func (b *memBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(b.entries, key)
	return nil
}

type memKVEntry struct {
	key      string
	value    []byte
	revision uint64
}

func (e *memKVEntry) Bucket() string                  { return "test" }
func (e *memKVEntry) Key() string                     { return e.key }
func (e *memKVEntry) Value() []byte                   { return e.value }
func (e *memKVEntry) Revision() uint64                { return e.revision }
func (e *memKVEntry) Created() time.Time              { return time.Time{} }
func (e *memKVEntry) Delta() uint64                   { return 0 }
func (e *memKVEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func newTestKVStore(bucket Bucket) *KVStore {
	return NewKVStore(bucket, nil, func(o *KVOptions) {
		o.RetryDelay = time.Millisecond
	})
}

func TestKVStore_PutGet(t *testing.T) {
	bucket := newMemBucket()
	kv := newTestKVStore(bucket)
	ctx := context.Background()

	rev, err := kv.Put(ctx, "list", []byte(`{"emotes":[]}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	entry, err := kv.Get(ctx, "list")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"emotes":[]}`), entry.Value)
	assert.Equal(t, uint64(1), entry.Revision)
}

func TestKVStore_GetMissing(t *testing.T) {
	kv := newTestKVStore(newMemBucket())

	_, err := kv.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}

func TestKVStore_PutOverwrites(t *testing.T) {
	bucket := newMemBucket()
	kv := newTestKVStore(bucket)
	ctx := context.Background()

	_, err := kv.Put(ctx, "users", []byte("v1"))
	require.NoError(t, err)

	rev, err := kv.Put(ctx, "users", []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rev)

	entry, err := kv.Get(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)
}

func TestKVStore_PutRejectsOversize(t *testing.T) {
	kv := NewKVStore(newMemBucket(), nil, func(o *KVOptions) {
		o.MaxValueSize = 8
	})

	_, err := kv.Put(context.Background(), "k", []byte("way too large"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestKVStore_UpdateRevisionMismatch(t *testing.T) {
	bucket := newMemBucket()
	kv := newTestKVStore(bucket)
	ctx := context.Background()

	_, err := kv.Put(ctx, "items", []byte("v1"))
	require.NoError(t, err)
	_, err = kv.Put(ctx, "items", []byte("v2"))
	require.NoError(t, err)

	_, err = kv.Update(ctx, "items", []byte("v3"), 1)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	rev, err := kv.Update(ctx, "items", []byte("v3"), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rev)
}

func TestKVStore_Delete(t *testing.T) {
	bucket := newMemBucket()
	kv := newTestKVStore(bucket)
	ctx := context.Background()

	_, err := kv.Put(ctx, "k", []byte("v"))
	require.NoError(t, err)

	require.NoError(t, kv.Delete(ctx, "k"))
	assert.ErrorIs(t, kv.Delete(ctx, "k"), ErrKVKeyNotFound)
}

func TestKVStore_UpdateWithRetry_CreatesMissing(t *testing.T) {
	bucket := newMemBucket()
	kv := newTestKVStore(bucket)
	ctx := context.Background()

	err := kv.UpdateWithRetry(ctx, "list", func(current []byte) ([]byte, error) {
		assert.Nil(t, current)
		return []byte("created"), nil
	})
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "list")
	require.NoError(t, err)
	assert.Equal(t, []byte("created"), entry.Value)
}

func TestKVStore_UpdateWithRetry_RetriesOnConflict(t *testing.T) {
	bucket := newMemBucket()
	kv := newTestKVStore(bucket)
	ctx := context.Background()

	_, err := kv.Put(ctx, "counter", []byte("0"))
	require.NoError(t, err)

	// First write attempt loses to a concurrent writer.
	interfered := false
	bucket.beforeWrite = func() {
		if !interfered {
			interfered = true
			bucket.mu.Lock()
			e := bucket.entries["counter"]
			e.value = []byte("interloper")
			e.revision++
			bucket.mu.Unlock()
		}
	}

	err = kv.UpdateWithRetry(ctx, "counter", func(current []byte) ([]byte, error) {
		return append(current, '!'), nil
	})
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, []byte("interloper!"), entry.Value)
}

func TestKVStore_UpdateWithRetry_NonRetryableUpdateFn(t *testing.T) {
	bucket := newMemBucket()
	kv := newTestKVStore(bucket)
	ctx := context.Background()

	calls := 0
	err := kv.UpdateWithRetry(ctx, "k", func([]byte) ([]byte, error) {
		calls++
		return nil, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsKVNotFoundError(t *testing.T) {
	assert.False(t, IsKVNotFoundError(nil))
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyNotFound))
	assert.False(t, IsKVNotFoundError(assert.AnError))
}

func TestIsKVConflictError(t *testing.T) {
	assert.False(t, IsKVConflictError(nil))
	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(jetstream.ErrKeyExists))
	assert.False(t, IsKVConflictError(assert.AnError))
}
