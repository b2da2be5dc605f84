package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrollment-insight/internal/anomaly"
	"github.com/sells-group/enrollment-insight/internal/cluster"
	"github.com/sells-group/enrollment-insight/internal/config"
	"github.com/sells-group/enrollment-insight/internal/forecast"
	"github.com/sells-group/enrollment-insight/internal/query"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
	"github.com/sells-group/enrollment-insight/internal/store"
)

// engineEnv holds the store, snapshot manager and query engine needed by
// the serve and compute commands.
type engineEnv struct {
	Store     store.Store
	Snapshots *snapshot.Manager
	Clusters  *cluster.Engine
	Engine    *query.Engine
}

// Close releases resources held by the engine environment.
func (ee *engineEnv) Close() {
	if ee.Clusters != nil {
		if err := ee.Clusters.Close(); err != nil {
			zap.L().Warn("close cluster label store", zap.Error(err))
		}
	}
	if ee.Store != nil {
		_ = ee.Store.Close()
	}
}

// initStore opens and migrates the configured record store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEngine opens the store, loads the first snapshot and builds the query
// engine. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	asOf, err := cfg.Engine.AsOfTime()
	if err != nil {
		return nil, err
	}
	pop, err := snapshot.LoadPopulation(cfg.Engine.PopulationFile)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &engineEnv{Store: st}

	labels, err := initLabelStore(cfg.Cluster.LabelStorePath)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Clusters = cluster.NewEngine(labels)

	// Each refresh drops cache entries from older generations.
	env.Snapshots = snapshot.NewManager(st, snapshot.Options{
		AsOf:       asOf,
		Population: pop,
		Retry: snapshot.RetryConfig{
			Attempts:       cfg.Engine.LoadAttempts,
			InitialBackoff: time.Duration(cfg.Engine.LoadBackoffMs) * time.Millisecond,
		},
		OnRefresh: func(*snapshot.Snapshot) {
			if env.Engine != nil {
				env.Engine.Evict()
			}
		},
	})
	env.Engine = query.NewEngine(env.Snapshots, env.Clusters, engineOptions(cfg))

	if _, err := env.Snapshots.Refresh(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "initial snapshot load")
	}
	return env, nil
}

func initLabelStore(path string) (cluster.LabelStore, error) {
	if path == "" {
		return cluster.NewMemoryLabelStore(), nil
	}
	ls, err := cluster.NewBoltLabelStore(path)
	if err != nil {
		return nil, eris.Wrap(err, "open cluster label store")
	}
	return ls, nil
}

// engineOptions maps configuration onto query engine options.
func engineOptions(c *config.Config) query.Options {
	return query.Options{
		ComputeTimeout:   time.Duration(c.Engine.ComputeTimeoutSecs) * time.Second,
		MaxConcurrent:    int64(c.Engine.MaxConcurrentComputations),
		CacheTTL:         time.Duration(c.Engine.CacheTTLSecs) * time.Second,
		CacheMaxEntries:  c.Engine.CacheMaxEntries,
		ZScoreThreshold:  c.Anomaly.ZScoreThreshold,
		MiragePercentile: c.Anomaly.MiragePercentile,
		MirageRatio:      c.Anomaly.MirageRatioCutoff,
		Forest: anomaly.ForestConfig{
			Trees:         c.Anomaly.Trees,
			SampleSize:    c.Anomaly.SampleSize,
			Contamination: c.Anomaly.Contamination,
			Seed:          c.Anomaly.Seed,
		},
		Cold: cluster.ColdParams{
			Eps:       c.Cluster.ColdEps,
			MinPoints: c.Cluster.ColdMinPoints,
			Limit:     c.Cluster.ColdLimit,
		},
		Hot: cluster.HotParams{
			K:        c.Cluster.HotK,
			Seed:     c.Cluster.Seed,
			Restarts: c.Cluster.KMeansRestarts,
			Limit:    c.Cluster.HotLimit,
		},
		Forecast: forecast.Options{
			Horizon:   c.Forecast.Horizon,
			Window:    c.Forecast.Window,
			MinPoints: c.Forecast.MinPoints,
		},
	}
}
