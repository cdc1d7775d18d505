package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/taskhive/vecrag/blobstore"
	"github.com/taskhive/vecrag/chunkstore"
	"github.com/taskhive/vecrag/index"
	"github.com/taskhive/vecrag/metric"
	"github.com/taskhive/vecrag/snapshot"
)

// flakyStore wraps a Store and fails a configurable number of Puts.
type flakyStore struct {
	blobstore.Store

	mu       sync.Mutex
	failPuts int
	putCalls int
}

func (f *flakyStore) Put(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	f.putCalls++
	fail := f.failPuts > 0
	if fail {
		f.failPuts--
	}
	f.mu.Unlock()

	if fail {
		return errors.New("tier unavailable")
	}

	return f.Store.Put(ctx, name, data)
}

func newTestManager(t *testing.T, local, remote blobstore.Store) *Manager {
	t.Helper()

	m, err := NewManager(ManagerOptions{
		Local:              local,
		Remote:             remote,
		Dimension:          3,
		Metric:             metric.L2Squared,
		RemoteMaxRetries:   5,
		RemoteRetryBackoff: time.Millisecond,
		CloseFlushTimeout:  2 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = m.Close() })

	return m
}

func newTestState(t *testing.T) (*index.Flat, *chunkstore.Store) {
	t.Helper()

	idx, err := index.New(func(o *index.Options) {
		o.Dimension = 3
	})
	require.NoError(t, err)

	_, err = idx.Add(context.Background(), [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	})
	require.NoError(t, err)

	chunks := chunkstore.New()
	chunks.Put(0, chunkstore.Chunk{Text: "alpha", DocumentID: "doc-1", ChunkIndex: 0})
	chunks.Put(1, chunkstore.Chunk{Text: "beta", DocumentID: "doc-1", ChunkIndex: 1})

	return idx, chunks
}

func seedStore(t *testing.T, store blobstore.Store, seq uint64) *snapshot.Manifest {
	t.Helper()

	idx, chunks := newTestState(t)

	man, err := snapshot.Save(context.Background(), store, idx, chunks, seq)
	require.NoError(t, err)

	return man
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, blobstore.NewMemoryStore(), nil)

	assert.Equal(t, StateUninitialized, m.State())

	res, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "empty", res.Source)
	assert.False(t, res.Degraded)
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, uint64(0), m.Sequence())

	// Initialize is one-shot.
	_, err = m.Initialize(ctx)
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	idx, chunks := newTestState(t)

	man, err := m.Save(ctx, idx, chunks)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), man.Sequence)
	assert.Equal(t, uint64(1), m.Sequence())

	man, err = m.Save(ctx, idx, chunks)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), man.Sequence)

	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())

	_, err = m.Save(ctx, idx, chunks)
	require.ErrorIs(t, err, ErrManagerClosed)

	_, err = m.Initialize(ctx)
	require.ErrorIs(t, err, ErrManagerClosed)

	require.NoError(t, m.Close())
}

func TestSaveBeforeInitialize(t *testing.T) {
	m := newTestManager(t, blobstore.NewMemoryStore(), nil)

	idx, chunks := newTestState(t)

	_, err := m.Save(context.Background(), idx, chunks)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestInitialize_FromLocal(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	seeded := seedStore(t, local, 5)

	m := newTestManager(t, local, nil)

	res, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, TierLocal, res.Source)
	assert.Equal(t, seeded.SnapshotID, res.Manifest.SnapshotID)
	assert.Equal(t, 2, res.Index.Size())
	assert.Equal(t, 2, res.Chunks.Len())
	assert.Equal(t, uint64(5), m.Sequence())

	// The next save continues the sequence.
	man, err := m.Save(ctx, res.Index, res.Chunks)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), man.Sequence)
}

func TestInitialize_RemoteFallbackWritesThrough(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	remote := blobstore.NewMemoryStore()
	seeded := seedStore(t, remote, 3)

	m := newTestManager(t, local, remote)

	res, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, TierRemote, res.Source)
	assert.NoError(t, res.LocalErr)
	assert.Equal(t, uint64(3), m.Sequence())

	// The write-through mirrors the exact snapshot to the local tier.
	_, _, man, err := snapshot.Load(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, seeded.SnapshotID, man.SnapshotID)
}

func TestInitialize_CorruptLocalFallsBackToRemote(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	remote := blobstore.NewMemoryStore()
	seedStore(t, remote, 2)

	require.NoError(t, local.Put(ctx, snapshot.ManifestName, []byte("not json{")))

	m := newTestManager(t, local, remote)

	res, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, TierRemote, res.Source)
	assert.False(t, res.Degraded)

	var readErr *ReadError
	require.ErrorAs(t, res.LocalErr, &readErr)
	assert.Equal(t, TierLocal, readErr.Tier)
}

func TestInitialize_DegradedStart(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	require.NoError(t, local.Put(ctx, snapshot.ManifestName, []byte("garbage")))

	m := newTestManager(t, local, nil)

	res, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "empty", res.Source)
	assert.True(t, res.Degraded)
	assert.Error(t, res.LocalErr)
	assert.Equal(t, 0, res.Index.Size())

	// The degraded manager still accepts new data and saves.
	idx, chunks := newTestState(t)

	man, err := m.Save(ctx, idx, chunks)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), man.Sequence)
}

func TestInitialize_ShapeConflict(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	seedStore(t, local, 1) // dimension 3

	m, err := NewManager(ManagerOptions{
		Local:     local,
		Dimension: 4,
		Metric:    metric.L2Squared,
	})
	require.NoError(t, err)

	_, err = m.Initialize(ctx)
	require.ErrorIs(t, err, ErrConfigConflict)
}

func TestSave_RemoteSyncIsAsync(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	remote := blobstore.NewMemoryStore()

	m := newTestManager(t, local, remote)

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	idx, chunks := newTestState(t)

	man, err := m.Save(ctx, idx, chunks)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, _, err := snapshot.ReadManifest(ctx, remote)
		return err == nil && got.SnapshotID == man.SnapshotID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSave_RemoteFailureNeverSurfaces(t *testing.T) {
	ctx := context.Background()
	remote := &flakyStore{Store: blobstore.NewMemoryStore(), failPuts: 1 << 30}

	m := newTestManager(t, blobstore.NewMemoryStore(), remote)

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	idx, chunks := newTestState(t)

	_, err = m.Save(ctx, idx, chunks)
	require.NoError(t, err)
}

func TestSave_RemoteRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	remote := &flakyStore{Store: blobstore.NewMemoryStore(), failPuts: 2}

	m := newTestManager(t, blobstore.NewMemoryStore(), remote)

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	idx, chunks := newTestState(t)

	_, err = m.Save(ctx, idx, chunks)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, _, err := snapshot.ReadManifest(ctx, remote)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	remote.mu.Lock()
	calls := remote.putCalls
	remote.mu.Unlock()
	assert.Greater(t, calls, 2, "expected failed attempts before success")
}

func TestSave_LocalFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	local := &flakyStore{Store: blobstore.NewMemoryStore(), failPuts: 1 << 30}

	m := newTestManager(t, local, nil)

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	idx, chunks := newTestState(t)

	_, err = m.Save(ctx, idx, chunks)
	require.Error(t, err)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, TierLocal, writeErr.Tier)

	// A failed save does not advance the sequence.
	assert.Equal(t, uint64(0), m.Sequence())
}

func TestClose_FlushesPendingSync(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewMemoryStore()
	remote := blobstore.NewMemoryStore()

	m := newTestManager(t, local, remote)

	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	idx, chunks := newTestState(t)

	_, err = m.Save(ctx, idx, chunks)
	require.NoError(t, err)

	require.NoError(t, m.Close())

	// After Close the pending sync has either completed normally or
	// been flushed by the shutdown path.
	_, _, err = snapshot.ReadManifest(ctx, remote)
	require.NoError(t, err)
}

func TestWaitQuota_SplitsLargeRequests(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(1<<20), 1024)

	start := time.Now()
	require.NoError(t, waitQuota(context.Background(), limiter, 8*1024))
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, waitQuota(context.Background(), nil, 1<<30))
}
