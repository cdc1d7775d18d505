// Package persistence coordinates the durable snapshot tiers.
//
// The Manager owns a required local tier and an optional remote tier.
// Startup prefers local, falls back to remote with a write-through to
// local, and degrades to an empty state when no tier can be read. Saves
// are synchronous against the local tier; the remote tier is mirrored
// by a background worker that retries with backoff and never fails a
// caller.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskhive/vecrag/blobstore"
	"github.com/taskhive/vecrag/chunkstore"
	"github.com/taskhive/vecrag/codec"
	"github.com/taskhive/vecrag/index"
	"github.com/taskhive/vecrag/metric"
	"github.com/taskhive/vecrag/snapshot"
)

var (
	// ErrManagerClosed is returned when operations are attempted on a
	// closed manager.
	ErrManagerClosed = errors.New("persistence manager is closed")

	// ErrNotReady is returned when Save is called before Initialize.
	ErrNotReady = errors.New("persistence manager is not initialized")

	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("persistence manager is already initialized")

	// ErrSaveInProgress is returned when a save overlaps another save.
	ErrSaveInProgress = errors.New("save already in progress")

	// ErrConfigConflict is returned when a persisted snapshot disagrees
	// with the configured index shape. Starting empty would silently
	// shadow real data, so this is fatal.
	ErrConfigConflict = errors.New("snapshot conflicts with configured index shape")
)

// Tier names used in errors and log records.
const (
	TierLocal  = "local"
	TierRemote = "remote"
)

// ReadError wraps a failure to load persisted state from one tier.
type ReadError struct {
	Tier string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s snapshot: %v", e.Tier, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failure to persist state to one tier.
type WriteError struct {
	Tier string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s snapshot: %v", e.Tier, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// State is the lifecycle state of a Manager.
type State int32

const (
	// StateUninitialized is the state before Initialize.
	StateUninitialized State = iota
	// StateLoading is the state while Initialize reads the tiers.
	StateLoading
	// StateReady is the steady state.
	StateReady
	// StateSaving is the state while a save is writing the local tier.
	StateSaving
	// StateClosed is the terminal state.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSaving:
		return "saving"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ManagerOptions configures the persistence manager.
type ManagerOptions struct {
	// Local is the required synchronous tier.
	Local blobstore.Store

	// Remote is the optional durable tier, mirrored asynchronously.
	Remote blobstore.Store

	// Dimension is the configured vector dimensionality. A fresh empty
	// index starts with this shape, and loaded snapshots must match it.
	Dimension int

	// Metric is the configured distance metric.
	Metric metric.Metric

	// Compression selects the snapshot blob compression.
	Compression snapshot.CompressionType

	// Codec serializes the chunk records blob.
	Codec codec.Codec

	// Logger receives operational events. Defaults to a discard logger.
	Logger *slog.Logger

	// RemoteMaxRetries bounds sync attempts per scheduled remote sync.
	RemoteMaxRetries int

	// RemoteRetryBackoff is the initial backoff between sync attempts.
	// It doubles after every failed attempt.
	RemoteRetryBackoff time.Duration

	// RemoteUploadBytesPerSec throttles remote uploads. Zero disables
	// throttling.
	RemoteUploadBytesPerSec int

	// CloseFlushTimeout bounds how long Close waits for a pending
	// remote sync before abandoning it.
	CloseFlushTimeout time.Duration
}

// Manager coordinates snapshot persistence across the local and remote
// tiers. It is safe for concurrent use.
type Manager struct {
	local  blobstore.Store
	remote blobstore.Store

	dimension   int
	metric      metric.Metric
	compression snapshot.CompressionType
	codec       codec.Codec
	logger      *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
	flushTimeout time.Duration
	limiter      *rate.Limiter

	state atomic.Int32

	mu       sync.Mutex
	sequence uint64

	// Remote sync worker. A tick on syncCh means "the local tier is
	// ahead of the remote tier"; the worker always mirrors the newest
	// published state, so ticks coalesce.
	syncCh       chan struct{}
	stopCh       chan struct{}
	doneCh       chan struct{}
	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// NewManager creates a persistence manager. The remote sync worker is
// started immediately when a remote tier is configured.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("persistence: local tier is required")
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("persistence: dimension must be > 0, got %d", opts.Dimension)
	}

	if _, err := metric.Provider(opts.Metric); err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.RemoteMaxRetries <= 0 {
		opts.RemoteMaxRetries = 3
	}

	if opts.RemoteRetryBackoff <= 0 {
		opts.RemoteRetryBackoff = 500 * time.Millisecond
	}

	if opts.CloseFlushTimeout <= 0 {
		opts.CloseFlushTimeout = 5 * time.Second
	}

	m := &Manager{
		local:        opts.Local,
		remote:       opts.Remote,
		dimension:    opts.Dimension,
		metric:       opts.Metric,
		compression:  opts.Compression,
		codec:        opts.Codec,
		logger:       opts.Logger,
		maxRetries:   opts.RemoteMaxRetries,
		retryBackoff: opts.RemoteRetryBackoff,
		flushTimeout: opts.CloseFlushTimeout,
	}

	if opts.Remote != nil {
		if bps := opts.RemoteUploadBytesPerSec; bps > 0 {
			m.limiter = rate.NewLimiter(rate.Limit(bps), bps)
		}

		m.syncCh = make(chan struct{}, 1)
		m.stopCh = make(chan struct{})
		m.doneCh = make(chan struct{})
		m.workerCtx, m.workerCancel = context.WithCancel(context.Background())

		go m.remoteSyncLoop()
	}

	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) casState(from, to State) bool {
	return m.state.CompareAndSwap(int32(from), int32(to))
}

// Sequence returns the sequence number of the last saved or loaded
// snapshot. Zero means no snapshot exists yet.
func (m *Manager) Sequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sequence
}

// InitResult describes where Initialize found its state and which tiers
// failed along the way.
type InitResult struct {
	Index    *index.Flat
	Chunks   *chunkstore.Store
	Manifest *snapshot.Manifest // nil on a fresh start

	// Source is the tier that produced the state: "local", "remote" or
	// "empty".
	Source string

	// Degraded is true when the manager started empty even though at
	// least one tier failed with a real error. Persisted data may
	// exist that could not be read.
	Degraded bool

	LocalErr  error
	RemoteErr error
}

// Initialize loads persisted state. The local tier is consulted first,
// then the remote tier (with a write-through to local on success). When
// neither yields a snapshot the manager starts with a fresh empty index;
// if that happens because of read errors rather than absence, the
// result is flagged as degraded. Read failures never abort startup.
func (m *Manager) Initialize(ctx context.Context) (*InitResult, error) {
	if !m.casState(StateUninitialized, StateLoading) {
		if m.State() == StateClosed {
			return nil, ErrManagerClosed
		}

		return nil, ErrAlreadyInitialized
	}

	res, err := m.load(ctx)
	if err != nil {
		m.state.Store(int32(StateUninitialized))
		return nil, err
	}

	m.mu.Lock()
	if res.Manifest != nil {
		m.sequence = res.Manifest.Sequence
	}
	m.mu.Unlock()

	m.state.Store(int32(StateReady))

	return res, nil
}

func (m *Manager) load(ctx context.Context) (*InitResult, error) {
	res := &InitResult{}

	// Local tier first: cheapest and usually freshest.
	idx, chunks, man, err := snapshot.Load(ctx, m.local)
	switch {
	case err == nil:
		if err := m.verifyShape(man); err != nil {
			return nil, err
		}

		res.Index, res.Chunks, res.Manifest = idx, chunks, man
		res.Source = TierLocal

		m.logger.Info("loaded local snapshot",
			"sequence", man.Sequence, "vectors", man.VectorCount, "chunks", man.ChunkCount)

		return res, nil
	case errors.Is(err, blobstore.ErrNotFound):
		// No local snapshot. Not an error.
	default:
		res.LocalErr = &ReadError{Tier: TierLocal, Err: err}
		m.logger.Warn("local snapshot unreadable", "error", err)
	}

	// Remote tier next.
	if m.remote != nil {
		idx, chunks, man, err := snapshot.Load(ctx, m.remote)
		switch {
		case err == nil:
			if err := m.verifyShape(man); err != nil {
				return nil, err
			}

			res.Index, res.Chunks, res.Manifest = idx, chunks, man
			res.Source = TierRemote

			m.logger.Info("loaded remote snapshot",
				"sequence", man.Sequence, "vectors", man.VectorCount, "chunks", man.ChunkCount)

			// Write through so the next startup is served locally.
			if _, err := copySnapshot(ctx, m.remote, m.local, nil); err != nil {
				m.logger.Warn("local write-through failed", "error", err)

				if res.LocalErr == nil {
					res.LocalErr = &WriteError{Tier: TierLocal, Err: err}
				}
			}

			return res, nil
		case errors.Is(err, blobstore.ErrNotFound):
			// No remote snapshot either.
		default:
			res.RemoteErr = &ReadError{Tier: TierRemote, Err: err}
			m.logger.Warn("remote snapshot unreadable", "error", err)
		}
	}

	// Fresh start.
	idx, err = index.New(func(o *index.Options) {
		o.Dimension = m.dimension
		o.Metric = m.metric
	})
	if err != nil {
		return nil, err
	}

	res.Index = idx
	res.Chunks = chunkstore.New()
	res.Source = "empty"
	res.Degraded = res.LocalErr != nil || res.RemoteErr != nil

	if res.Degraded {
		m.logger.Error("starting empty: persisted snapshots exist but could not be read",
			"local_error", res.LocalErr, "remote_error", res.RemoteErr)
	} else {
		m.logger.Info("starting empty: no persisted snapshot found")
	}

	return res, nil
}

// verifyShape rejects snapshots whose shape disagrees with the
// configured one.
func (m *Manager) verifyShape(man *snapshot.Manifest) error {
	if man.Dimension != m.dimension {
		return fmt.Errorf("%w: snapshot dimension %d, configured %d",
			ErrConfigConflict, man.Dimension, m.dimension)
	}

	snapMetric, err := metric.Parse(man.Metric)
	if err != nil {
		return err
	}

	if snapMetric != m.metric {
		return fmt.Errorf("%w: snapshot metric %s, configured %s",
			ErrConfigConflict, snapMetric, m.metric)
	}

	return nil
}

// Save writes a new snapshot to the local tier. The local write decides
// the call's outcome; on success a remote sync is scheduled and old
// local snapshot blobs are pruned best-effort.
func (m *Manager) Save(ctx context.Context, idx *index.Flat, chunks *chunkstore.Store) (*snapshot.Manifest, error) {
	if !m.casState(StateReady, StateSaving) {
		switch m.State() {
		case StateClosed:
			return nil, ErrManagerClosed
		case StateSaving:
			return nil, ErrSaveInProgress
		default:
			return nil, ErrNotReady
		}
	}
	defer m.casState(StateSaving, StateReady)

	m.mu.Lock()
	seq := m.sequence + 1
	m.mu.Unlock()

	man, err := snapshot.Save(ctx, m.local, idx, chunks, seq, func(o *snapshot.SaveOptions) {
		o.Compression = m.compression
		o.Codec = m.codec
	})
	if err != nil {
		return nil, &WriteError{Tier: TierLocal, Err: err}
	}

	m.mu.Lock()
	m.sequence = seq
	m.mu.Unlock()

	m.logger.Info("snapshot saved",
		"sequence", seq, "vectors", man.VectorCount, "chunks", man.ChunkCount)

	if err := snapshot.Prune(ctx, m.local, seq); err != nil {
		m.logger.Warn("local snapshot prune failed", "sequence", seq, "error", err)
	}

	m.scheduleRemoteSync()

	return man, nil
}

// scheduleRemoteSync marks the remote tier as stale. The tick coalesces
// with any pending one; the worker always syncs the newest local state.
func (m *Manager) scheduleRemoteSync() {
	if m.remote == nil {
		return
	}

	select {
	case m.syncCh <- struct{}{}:
	default:
	}
}

func (m *Manager) remoteSyncLoop() {
	defer close(m.doneCh)

	for {
		select {
		case <-m.stopCh:
			// Final flush: one attempt for a pending sync, bounded by
			// the worker context which Close cancels on timeout.
			select {
			case <-m.syncCh:
				if err := m.syncRemote(m.workerCtx); err != nil {
					m.logger.Error("abandoning remote sync on close", "error", err)
				}
			default:
			}

			return
		case <-m.syncCh:
			m.syncRemoteWithRetries()
		}
	}
}

func (m *Manager) syncRemoteWithRetries() {
	backoff := m.retryBackoff

	for attempt := 1; ; attempt++ {
		err := m.syncRemote(m.workerCtx)
		if err == nil {
			return
		}

		if attempt >= m.maxRetries {
			m.logger.Error("remote sync failed, giving up until next save",
				"attempts", attempt, "error", err)

			return
		}

		m.logger.Warn("remote sync failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-m.workerCtx.Done():
			return
		case <-m.stopCh:
			// Shutting down: the loop's stop branch makes a final
			// attempt if the tick is still pending, so just requeue.
			m.scheduleRemoteSync()
			return
		case <-time.After(backoff):
		}

		backoff *= 2
	}
}

// syncRemote mirrors the newest published local snapshot to the remote
// tier, then prunes superseded remote blobs best-effort.
func (m *Manager) syncRemote(ctx context.Context) error {
	man, err := copySnapshot(ctx, m.local, m.remote, m.limiter)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil // nothing published yet
		}

		return err
	}

	m.logger.Info("remote sync complete", "sequence", man.Sequence)

	if err := snapshot.Prune(ctx, m.remote, man.Sequence); err != nil {
		m.logger.Warn("remote snapshot prune failed", "sequence", man.Sequence, "error", err)
	}

	return nil
}

// copySnapshot mirrors the snapshot published in src to dst byte for
// byte: blobs first, manifest last, so a dst reader never observes a
// manifest whose blobs are missing.
func copySnapshot(ctx context.Context, src, dst blobstore.Store, limiter *rate.Limiter) (*snapshot.Manifest, error) {
	man, manifestData, err := snapshot.ReadManifest(ctx, src)
	if err != nil {
		return nil, err
	}

	for _, info := range []snapshot.BlobInfo{man.Index, man.Chunks} {
		blob, err := snapshot.FetchBlob(ctx, src, info)
		if err != nil {
			return nil, err
		}

		if err := waitQuota(ctx, limiter, len(blob)); err != nil {
			return nil, err
		}

		if err := dst.Put(ctx, info.Name, blob); err != nil {
			return nil, fmt.Errorf("copy blob %s: %w", info.Name, err)
		}
	}

	if err := waitQuota(ctx, limiter, len(manifestData)); err != nil {
		return nil, err
	}

	if err := dst.Put(ctx, snapshot.ManifestName, manifestData); err != nil {
		return nil, fmt.Errorf("copy manifest: %w", err)
	}

	return man, nil
}

// waitQuota blocks until the limiter grants n bytes. Requests larger
// than the burst are split so WaitN never rejects them outright.
func waitQuota(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter == nil {
		return nil
	}

	burst := limiter.Burst()

	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}

		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}

		n -= chunk
	}

	return nil
}

// Close stops the remote sync worker, giving a pending sync one bounded
// chance to flush, and moves the manager to its terminal state. It is
// idempotent.
func (m *Manager) Close() error {
	prev := State(m.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}

	if m.remote == nil {
		return nil
	}

	close(m.stopCh)

	select {
	case <-m.doneCh:
	case <-time.After(m.flushTimeout):
		m.logger.Warn("remote sync did not finish in time, abandoning", "timeout", m.flushTimeout)
		m.workerCancel()
		<-m.doneCh
	}

	m.workerCancel()

	return nil
}
