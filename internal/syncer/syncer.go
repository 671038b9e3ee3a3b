package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/refcache/internal/logging"
	"github.com/dshills/refcache/internal/metrics"
	"github.com/dshills/refcache/internal/storage"
	"github.com/dshills/refcache/pkg/types"
)

// ErrBusy is returned by Clear while a sync is running
var ErrBusy = errors.New("sync in progress")

// Fetcher retrieves the whole remote catalog in one bulk call
type Fetcher interface {
	FetchAll(ctx context.Context, max int) ([]types.ReferenceRecord, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, max int) ([]types.ReferenceRecord, error)

// FetchAll calls f
func (f FetcherFunc) FetchAll(ctx context.Context, max int) ([]types.ReferenceRecord, error) {
	return f(ctx, max)
}

// Config contains configuration for the sync manager
type Config struct {
	FreshnessWindow time.Duration // Marker age below which syncs are skipped (default: 24h)
	InitialDelay    time.Duration // Delay before the startup sync (default: 1s)
	MaxRecords      int           // Bulk fetch ceiling (default: 50000)
	FetchTimeout    time.Duration // Bound on the bulk fetch (default: 60s)
}

// DefaultConfig returns the default sync configuration
func DefaultConfig() Config {
	return Config{
		FreshnessWindow: 24 * time.Hour,
		InitialDelay:    time.Second,
		MaxRecords:      50000,
		FetchTimeout:    60 * time.Second,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = d.FreshnessWindow
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = d.MaxRecords
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
}

// Outcome classifies a sync call
type Outcome string

const (
	OutcomeSynced       Outcome = "success"
	OutcomeFailed       Outcome = "error"
	OutcomeSkippedFresh Outcome = "skipped_fresh"
	OutcomeSkippedBusy  Outcome = "skipped_busy"
)

// Result describes one Sync call
type Result struct {
	RunID    string
	Outcome  Outcome
	Records  int
	Duration time.Duration
	Err      error // *types.SyncError when Outcome is OutcomeFailed
}

// Status is the observable state of the manager
type Status struct {
	State        types.SyncState
	LastSyncedAt time.Time // zero when never synced
	LastError    string
	RecordCount  int
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithClock replaces time.Now, used for freshness checks and markers
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// OnSynced registers a hook run whenever the replica content changes
func OnSynced(fn func()) Option {
	return func(m *Manager) {
		m.hooks = append(m.hooks, fn)
	}
}

// Manager coordinates full-replace syncs of the local replica
type Manager struct {
	store   storage.Storage
	fetcher Fetcher
	cfg     Config
	log     *logging.Logger
	now     func() time.Time
	hooks   []func()

	lock SyncLock

	// base is cancelled by Close and bounds scheduled syncs
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	status Status
	timer  *time.Timer
	closed bool
}

// New creates a sync manager over store. store may be nil when the replica
// failed to open; every sync then fails.
func New(store storage.Storage, fetcher Fetcher, cfg Config, opts ...Option) *Manager {
	cfg.setDefaults()
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		log:     logging.Noop(),
		now:     time.Now,
		base:    base,
		cancel:  cancel,
		status:  Status{State: types.SyncIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithComponent("syncer")
	return m
}

// Initialize reads the sync marker and schedules a sync after InitialDelay
// if the replica was never synced or is older than the freshness window.
// It never syncs inline. Returns whether a sync was scheduled.
func (m *Manager) Initialize(ctx context.Context) bool {
	if m.store == nil {
		m.log.WarnContext(ctx, "replica unavailable, sync disabled")
		return false
	}

	if count, err := m.store.CountRecords(ctx); err == nil {
		m.mu.Lock()
		m.status.RecordCount = count
		m.mu.Unlock()
		metrics.ReplicaRecords.Set(float64(count))
	}

	marker, err := m.store.GetMarker(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.log.WarnContext(ctx, "failed to read sync marker", "error", err)
	}
	if marker != nil {
		m.mu.Lock()
		m.status.LastSyncedAt = marker.Time()
		m.mu.Unlock()
		if marker.Fresh(m.now(), m.cfg.FreshnessWindow) {
			m.log.DebugContext(ctx, "replica is fresh", "last_synced_at", marker.Time())
			return false
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.cfg.InitialDelay, func() {
		m.Sync(m.base, false)
	})
	m.log.InfoContext(ctx, "sync scheduled", "delay", m.cfg.InitialDelay)
	return true
}

// Sync runs a full-replace sync. A call made while another sync is running
// returns immediately, even when forced. Without force the sync is skipped
// while the marker is within the freshness window.
func (m *Manager) Sync(ctx context.Context, force bool) *Result {
	runID := uuid.NewString()
	if !m.lock.TryAcquire() {
		metrics.SyncRuns.WithLabelValues(string(OutcomeSkippedBusy)).Inc()
		m.log.DebugContext(ctx, "sync already running", "run_id", runID)
		return &Result{RunID: runID, Outcome: OutcomeSkippedBusy}
	}
	defer m.lock.Release()

	return m.run(ctx, runID, force)
}

// ForceSync clears the marker, drops derived snapshots and syncs regardless
// of freshness
func (m *Manager) ForceSync(ctx context.Context) *Result {
	runID := uuid.NewString()
	if !m.lock.TryAcquire() {
		metrics.SyncRuns.WithLabelValues(string(OutcomeSkippedBusy)).Inc()
		return &Result{RunID: runID, Outcome: OutcomeSkippedBusy}
	}
	defer m.lock.Release()

	if m.store != nil {
		if err := m.store.ClearMarker(ctx); err != nil {
			m.log.WarnContext(ctx, "failed to clear sync marker", "run_id", runID, "error", err)
		}
	}
	m.notify()

	return m.run(ctx, runID, true)
}

// Clear wipes the replica, its marker and derived snapshots
func (m *Manager) Clear(ctx context.Context) error {
	if !m.lock.TryAcquire() {
		return ErrBusy
	}
	defer m.lock.Release()

	if m.store == nil {
		return types.ErrStoreInit
	}
	if err := storage.Clear(ctx, m.store); err != nil {
		return fmt.Errorf("failed to clear replica: %w", err)
	}

	m.mu.Lock()
	m.status = Status{State: types.SyncIdle}
	m.mu.Unlock()
	metrics.ReplicaRecords.Set(0)
	m.notify()

	m.log.InfoContext(ctx, "replica cleared")
	return nil
}

// ResetSchema recreates the replica schema, dropping every record and the
// marker. Stores that cannot reset fall back to Clear.
func (m *Manager) ResetSchema(ctx context.Context) error {
	rs, ok := m.store.(storage.SchemaResetter)
	if !ok {
		return m.Clear(ctx)
	}
	if !m.lock.TryAcquire() {
		return ErrBusy
	}
	defer m.lock.Release()

	if err := rs.ResetSchema(ctx); err != nil {
		return fmt.Errorf("failed to reset replica: %w", err)
	}

	m.mu.Lock()
	m.status = Status{State: types.SyncIdle}
	m.mu.Unlock()
	metrics.ReplicaRecords.Set(0)
	m.notify()

	m.log.InfoContext(ctx, "replica schema reset")
	return nil
}

// Status returns a copy of the current status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Syncing reports whether a sync is running
func (m *Manager) Syncing() bool {
	return m.lock.Held()
}

// Close cancels a pending scheduled sync
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.cancel()
	return nil
}

// run executes one sync with the lock held
func (m *Manager) run(ctx context.Context, runID string, force bool) *Result {
	log := m.log.WithRun(runID)
	result := &Result{RunID: runID}

	if m.store == nil {
		return m.fail(ctx, log, result, &types.SyncError{Op: "open", Err: types.ErrStoreInit})
	}

	if !force {
		marker, err := m.store.GetMarker(ctx)
		if err == nil && marker.Fresh(m.now(), m.cfg.FreshnessWindow) {
			result.Outcome = OutcomeSkippedFresh
			metrics.SyncRuns.WithLabelValues(string(OutcomeSkippedFresh)).Inc()
			log.DebugContext(ctx, "sync skipped, replica is fresh")
			return result
		}
	}

	m.setState(types.SyncSyncing)
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	records, err := m.fetcher.FetchAll(fetchCtx, m.cfg.MaxRecords)
	cancel()
	if err != nil {
		result.Duration = time.Since(start)
		return m.fail(ctx, log, result, &types.SyncError{Op: "fetch", Err: err})
	}

	if len(records) > m.cfg.MaxRecords {
		log.WarnContext(ctx, "catalog exceeds bulk fetch ceiling, truncating",
			"received", len(records),
			"max_records", m.cfg.MaxRecords,
		)
		records = records[:m.cfg.MaxRecords]
	}

	prepared := prepareRecords(records)
	marker := types.NewSyncMarker(m.now())
	if err := storage.ReplaceAll(ctx, m.store, prepared, marker); err != nil {
		result.Duration = time.Since(start)
		return m.fail(ctx, log, result, &types.SyncError{Op: "replace", Err: err})
	}

	result.Outcome = OutcomeSynced
	result.Records = len(prepared)
	result.Duration = time.Since(start)

	m.mu.Lock()
	m.status = Status{
		State:        types.SyncSuccess,
		LastSyncedAt: marker.Time(),
		RecordCount:  len(prepared),
	}
	m.mu.Unlock()

	metrics.SyncRuns.WithLabelValues(string(OutcomeSynced)).Inc()
	metrics.SyncDuration.Observe(result.Duration.Seconds())
	metrics.ReplicaRecords.Set(float64(len(prepared)))
	log.LogSync(ctx, len(prepared), result.Duration, nil)

	m.notify()
	return result
}

func (m *Manager) fail(ctx context.Context, log *logging.Logger, result *Result, err *types.SyncError) *Result {
	result.Outcome = OutcomeFailed
	result.Err = err

	m.mu.Lock()
	m.status.State = types.SyncFailed
	m.status.LastError = err.Error()
	m.mu.Unlock()

	metrics.SyncRuns.WithLabelValues(string(OutcomeFailed)).Inc()
	log.LogSync(ctx, 0, result.Duration, err)
	return result
}

func (m *Manager) setState(state types.SyncState) {
	m.mu.Lock()
	m.status.State = state
	m.mu.Unlock()
}

func (m *Manager) notify() {
	for _, fn := range m.hooks {
		fn()
	}
}

// prepareRecords copies the fetched batch and fills in search blobs
func prepareRecords(records []types.ReferenceRecord) []types.ReferenceRecord {
	out := make([]types.ReferenceRecord, len(records))
	for i := range records {
		out[i] = records[i]
		out[i].BuildSearchBlob()
	}
	return out
}
