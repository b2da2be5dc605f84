package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrollment-insight/internal/model"
)

// ErrNoSnapshot is returned before the first successful load.
var ErrNoSnapshot = eris.New("snapshot: no snapshot loaded")

// Source is the read side of the record store.
type Source interface {
	QueryEnrollments(ctx context.Context, f model.Filter) ([]model.EnrollmentRecord, error)
	QueryUpdates(ctx context.Context, f model.Filter, kind model.UpdateType) ([]model.UpdateRecord, error)
}

// Options configures a Manager.
type Options struct {
	// AsOf pins the reference time. Zero means "time of each load".
	AsOf       time.Time
	Population *Population
	// Now is the clock; tests override it.
	Now func() time.Time
	// OnRefresh runs after each successful swap.
	OnRefresh func(*Snapshot)
	// Retry controls retries of transient store errors during a load.
	Retry RetryConfig
}

// Manager loads snapshots from a Source and publishes them atomically.
// Readers call Current and keep the returned pointer for the whole request.
type Manager struct {
	src  Source
	opts Options

	current atomic.Pointer[Snapshot]
	gen     atomic.Uint64
	mu      sync.Mutex // serialises Refresh
}

// NewManager creates a manager. No snapshot is available until Refresh
// succeeds.
func NewManager(src Source, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{src: src, opts: opts}
}

// Current returns the active snapshot.
func (m *Manager) Current() (*Snapshot, error) {
	s := m.current.Load()
	if s == nil {
		return nil, ErrNoSnapshot
	}
	return s, nil
}

// Refresh loads a new snapshot in an isolated pass and swaps it in. On
// failure the previous snapshot stays active.
func (m *Manager) Refresh(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.opts.Now()
	var (
		enr       []model.EnrollmentRecord
		bio, demo []model.UpdateRecord
	)
	err := withRetry(ctx, m.opts.Retry, func(ctx context.Context) error {
		var err error
		enr, bio, demo, err = m.load(ctx)
		return err
	})
	if err != nil {
		zap.L().Error("snapshot: refresh failed", zap.Error(err))
		return nil, err
	}

	asOf := m.opts.AsOf
	if asOf.IsZero() {
		asOf = start
	}
	snap := New(m.gen.Add(1), asOf, enr, bio, demo, m.opts.Population)
	m.current.Store(snap)

	states, districts, pincodes := snap.Index.Counts()
	zap.L().Info("snapshot: refreshed",
		zap.Uint64("generation", snap.Generation),
		zap.Int("enrollments", len(enr)),
		zap.Int("biometric", len(bio)),
		zap.Int("demographic", len(demo)),
		zap.Int("states", states),
		zap.Int("districts", districts),
		zap.Int("pincodes", pincodes),
		zap.Duration("duration", m.opts.Now().Sub(start)),
	)
	if m.opts.OnRefresh != nil {
		m.opts.OnRefresh(snap)
	}
	return snap, nil
}

// load reads the three record tables concurrently.
func (m *Manager) load(ctx context.Context) (enr []model.EnrollmentRecord, bio, demo []model.UpdateRecord, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		enr, err = m.src.QueryEnrollments(gctx, model.Filter{})
		return eris.Wrap(err, "snapshot: load enrollments")
	})
	g.Go(func() error {
		var err error
		bio, err = m.src.QueryUpdates(gctx, model.Filter{}, model.UpdateBiometric)
		return eris.Wrap(err, "snapshot: load biometric updates")
	})
	g.Go(func() error {
		var err error
		demo, err = m.src.QueryUpdates(gctx, model.Filter{}, model.UpdateDemographic)
		return eris.Wrap(err, "snapshot: load demographic updates")
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return enr, bio, demo, nil
}

// Run refreshes on the given interval until ctx is cancelled. Failed
// refreshes are logged and retried on the next tick.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				zap.L().Warn("snapshot: scheduled refresh failed, keeping previous generation", zap.Error(err))
			}
		}
	}
}
