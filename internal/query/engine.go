// Package query is the read facade over the analytics engines. It pins one
// snapshot per request, resolves entity names, and serves results from a
// generation-keyed cache. Heavy computations run under a concurrency limit
// and a time budget.
package query

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/anomaly"
	"github.com/sells-group/enrollment-insight/internal/cluster"
	"github.com/sells-group/enrollment-insight/internal/composite"
	"github.com/sells-group/enrollment-insight/internal/forecast"
	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// Snapshots supplies the active snapshot.
type Snapshots interface {
	Current() (*snapshot.Snapshot, error)
}

// Options configures an Engine.
type Options struct {
	ComputeTimeout  time.Duration
	MaxConcurrent   int64
	CacheTTL        time.Duration
	CacheMaxEntries int

	ZScoreThreshold  float64
	MiragePercentile float64
	MirageRatio      float64
	Forest           anomaly.ForestConfig
	Cold             cluster.ColdParams
	Hot              cluster.HotParams
	Forecast         forecast.Options
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		ComputeTimeout:   30 * time.Second,
		MaxConcurrent:    4,
		CacheTTL:         5 * time.Minute,
		CacheMaxEntries:  512,
		ZScoreThreshold:  anomaly.DefaultZScoreThreshold,
		MiragePercentile: anomaly.DefaultMiragePct,
		MirageRatio:      anomaly.DefaultMirageRatio,
		Forest:           anomaly.DefaultForestConfig(),
		Cold:             cluster.DefaultColdParams(),
		Hot:              cluster.DefaultHotParams(),
		Forecast:         forecast.DefaultOptions(),
	}
}

// Result is a computed value with the generation it was computed from.
type Result[T any] struct {
	Value      T
	Generation uint64
	Cached     bool
}

// Engine answers read queries. It is safe for concurrent use.
type Engine struct {
	snaps    Snapshots
	clusters *cluster.Engine
	opts     Options
	cache    *Cache
	sem      *semaphore.Weighted
	flight   singleflight.Group
}

// NewEngine creates an engine. A nil cluster engine gets in-memory labels.
func NewEngine(snaps Snapshots, clusters *cluster.Engine, opts Options) *Engine {
	if clusters == nil {
		clusters = cluster.NewEngine(nil)
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Engine{
		snaps:    snaps,
		clusters: clusters,
		opts:     opts,
		cache:    NewCache(opts.CacheMaxEntries, opts.CacheTTL),
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
	}
}

// CacheStats reports response cache statistics.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// Snapshot returns the active snapshot or an unavailable error.
func (e *Engine) Snapshot() (*snapshot.Snapshot, error) {
	s, err := e.snaps.Current()
	if err != nil {
		return nil, classify("snapshot", err)
	}
	return s, nil
}

// Evict drops cached results older than the active generation. It is called
// after a refresh.
func (e *Engine) Evict() {
	s, err := e.snaps.Current()
	if err != nil {
		return
	}
	if n := e.cache.DropBefore(s.Generation); n > 0 {
		zap.L().Debug("query: evicted stale results",
			zap.Uint64("generation", s.Generation),
			zap.Int("entries", n),
		)
	}
}

// view is the snapshot a request reads, already restricted to its date
// range.
type view struct {
	e     *Engine
	snap  *snapshot.Snapshot
	dates string
}

func (e *Engine) view(p Params) (*view, error) {
	s, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return &view{e: e, snap: s.Filter(p.Dates), dates: p.datesKey()}, nil
}

// rollup returns the memoised rollup of the view at one level.
func (v *view) rollup(level model.Level) *aggregate.Rollup {
	key := cacheKey(v.snap.Generation, "rollup", string(level), v.dates)
	r, _ := memo(v.e, key, func() (*aggregate.Rollup, error) {
		return aggregate.Build(v.snap, level), nil
	})
	return r
}

// composite returns both composite indices computed together from one
// rollup.
func (v *view) composite(level model.Level) composite.Result {
	key := cacheKey(v.snap.Generation, "composite", string(level), v.dates)
	r, _ := memo(v.e, key, func() (composite.Result, error) {
		return composite.Compute(v.rollup(level), v.snap.Population), nil
	})
	return r
}

// fraud runs the isolation forest with the request's seed.
func (v *view) fraud(p Params) (anomaly.FraudResult, error) {
	cfg := v.e.opts.Forest
	if p.Seed != nil {
		cfg.Seed = *p.Seed
	}
	key := cacheKey(v.snap.Generation, "fraud", v.dates, fmtUint(cfg.Seed))
	return memo(v.e, key, func() (anomaly.FraudResult, error) {
		return anomaly.Fraud(v.snap, cfg)
	})
}

// memo returns a cached value or computes it once across concurrent
// callers. It does not take a compute slot; callers already hold one.
func memo[T any](e *Engine, key string, fn func() (T, error)) (T, error) {
	if v, ok := e.cache.Get(key); ok {
		return v.(T), nil
	}
	v, err, _ := e.flight.Do(key, func() (any, error) {
		out, err := fn()
		if err != nil {
			return nil, err
		}
		e.cache.Put(key, out)
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// compute serves key from the cache or runs fn under the compute budget.
// fn runs at most once per key across concurrent callers and finishes even
// when every waiting request has given up, so a retry finds it cached.
func compute[T any](ctx context.Context, e *Engine, label, key string, gen uint64, fn func() (T, error)) (Result[T], error) {
	if v, ok := e.cache.Get(key); ok {
		return Result[T]{Value: v.(T), Generation: gen, Cached: true}, nil
	}

	if e.opts.ComputeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ComputeTimeout)
		defer cancel()
	}

	ch := e.flight.DoChan(key, func() (any, error) {
		actx := context.Background()
		if e.opts.ComputeTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(actx, e.opts.ComputeTimeout)
			defer cancel()
		}
		if err := e.sem.Acquire(actx, 1); err != nil {
			return nil, eris.Wrap(errBudget, "query: no compute slot available")
		}
		defer e.sem.Release(1)

		start := time.Now()
		out, err := fn()
		if err != nil {
			return nil, err
		}
		e.cache.Put(key, out)
		zap.L().Debug("query: computed",
			zap.String("metric", label),
			zap.Uint64("generation", gen),
			zap.Duration("duration", time.Since(start)),
		)
		return out, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			err := classify(label, res.Err)
			if KindOf(err) == KindInternal {
				zap.L().Error("query: computation failed", zap.String("metric", label), zap.Error(res.Err))
			}
			return Result[T]{}, err
		}
		return Result[T]{Value: res.Val.(T), Generation: gen}, nil
	case <-ctx.Done():
		zap.L().Warn("query: computation exceeded budget",
			zap.String("metric", label),
			zap.Duration("budget", e.opts.ComputeTimeout),
		)
		return Result[T]{}, &Error{Kind: KindBudgetExceeded, Context: label, Err: eris.Wrap(errBudget, ctx.Err().Error())}
	}
}
