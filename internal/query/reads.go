package query

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/anomaly"
	"github.com/sells-group/enrollment-insight/internal/cluster"
	"github.com/sells-group/enrollment-insight/internal/forecast"
	"github.com/sells-group/enrollment-insight/internal/model"
)

func fmtUint(v uint64) string { return strconv.FormatUint(v, 10) }

// Metric evaluates /metrics/{slug}.
func (e *Engine) Metric(ctx context.Context, slug string, p Params) (Result[Envelope], error) {
	m, ok := Lookup(slug)
	if !ok {
		return Result[Envelope]{}, &Error{Kind: KindNotFound, Context: slug, Err: eris.Errorf("unknown metric %q", slug)}
	}
	level, err := m.level(p)
	if err != nil {
		return Result[Envelope]{}, err
	}
	if err := p.only(m.Slug, m.Params); err != nil {
		return Result[Envelope]{}, err
	}
	v, err := e.view(p)
	if err != nil {
		return Result[Envelope]{}, err
	}
	key := cacheKey(v.snap.Generation, "metric", slug, string(level), p.key())
	detached := context.WithoutCancel(ctx)
	return compute(ctx, e, slug, key, v.snap.Generation, func() (Envelope, error) {
		payload, err := m.compute(detached, v, p, level)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Metric: m.Name(), Description: m.Description, Payload: payload}, nil
	})
}

func (v *view) coldClusters(ctx context.Context, p Params) (cluster.Result, error) {
	params := v.e.opts.Cold
	if p.Eps != nil {
		params.Eps = *p.Eps
	}
	if p.MinPoints != nil {
		params.MinPoints = *p.MinPoints
	}
	key := cacheKey(v.snap.Generation, "clusters", cluster.KindCold, v.dates,
		fmt.Sprintf("%v/%d/%d", params.Eps, params.MinPoints, params.Limit))
	return memo(v.e, key, func() (cluster.Result, error) {
		return v.e.clusters.Cold(ctx, v.rollup(model.LevelPincode), params)
	})
}

func (v *view) hotClusters(ctx context.Context, p Params) (cluster.Result, error) {
	params := v.e.opts.Hot
	if p.K != nil {
		params.K = *p.K
	}
	if p.Seed != nil {
		params.Seed = *p.Seed
	}
	key := cacheKey(v.snap.Generation, "clusters", cluster.KindHot, v.dates,
		fmt.Sprintf("%d/%d/%d/%d", params.K, params.Seed, params.Restarts, params.Limit))
	return memo(v.e, key, func() (cluster.Result, error) {
		return v.e.clusters.Hot(ctx, v.rollup(model.LevelPincode), params)
	})
}

// read is the common path of the fixed-shape endpoints.
func read[T any](ctx context.Context, e *Engine, label string, p Params, accepts []string, fn func(v *view) (T, error)) (Result[T], error) {
	if p.Level != "" {
		return Result[T]{}, validation(label, "%s does not accept a level", label)
	}
	if err := p.only(label, accepts); err != nil {
		return Result[T]{}, err
	}
	v, err := e.view(p)
	if err != nil {
		return Result[T]{}, err
	}
	key := cacheKey(v.snap.Generation, label, p.key())
	return compute(ctx, e, label, key, v.snap.Generation, func() (T, error) {
		return fn(v)
	})
}

// Summary is the headline totals with the fraud-flag count.
func (e *Engine) Summary(ctx context.Context, p Params) (Result[aggregate.Summary], error) {
	return read(ctx, e, "trends/summary", p, seedParams, func(v *view) (aggregate.Summary, error) {
		s := aggregate.BuildSummary(v.snap)
		fraud, err := v.fraud(p)
		if err != nil {
			return aggregate.Summary{}, err
		}
		s.FraudCases = fraud.Flagged
		return s, nil
	})
}

// Forecast projects daily biometric load.
func (e *Engine) Forecast(ctx context.Context, p Params) (Result[forecast.Result], error) {
	opt := e.opts.Forecast
	if p.Window != nil {
		opt.Window = *p.Window
	}
	return read(ctx, e, "trends/forecast", p, []string{ParamWindow}, func(v *view) (forecast.Result, error) {
		return forecast.Forecast(aggregate.DailyBiometricLoad(v.snap), opt)
	})
}

// EnrollmentByAge is the daily enrollment series per age band.
func (e *Engine) EnrollmentByAge(ctx context.Context, p Params) (Result[aggregate.AgeSeries], error) {
	return read(ctx, e, "trends/enrollment-by-age", p, nil, func(v *view) (aggregate.AgeSeries, error) {
		return aggregate.EnrollmentByAge(v.snap), nil
	})
}

// StatePerformance is per-state completion rates.
func (e *Engine) StatePerformance(ctx context.Context, p Params) (Result[[]aggregate.PerformanceRow], error) {
	return read(ctx, e, "trends/state-performance", p, nil, func(v *view) ([]aggregate.PerformanceRow, error) {
		return aggregate.StatePerformance(v.rollup(model.LevelState)), nil
	})
}

// BottleneckDistricts lists large districts with low completion rates.
func (e *Engine) BottleneckDistricts(ctx context.Context, p Params) (Result[[]aggregate.BottleneckRow], error) {
	return read(ctx, e, "trends/bottleneck-districts", p, nil, func(v *view) ([]aggregate.BottleneckRow, error) {
		return aggregate.BottleneckDistricts(v.rollup(model.LevelDistrict)), nil
	})
}

// DailyVolume is the daily enrollment and update series.
func (e *Engine) DailyVolume(ctx context.Context, p Params) (Result[aggregate.VolumeSeries], error) {
	return read(ctx, e, "trends/daily-volume", p, nil, func(v *view) (aggregate.VolumeSeries, error) {
		return aggregate.DailyVolume(v.snap), nil
	})
}

// HighVolumePincodes lists the largest pincodes.
func (e *Engine) HighVolumePincodes(ctx context.Context, p Params) (Result[[]aggregate.HighVolumeRow], error) {
	return read(ctx, e, "trends/high-volume-pincodes", p, nil, func(v *view) ([]aggregate.HighVolumeRow, error) {
		return aggregate.HighVolumePincodes(v.rollup(model.LevelPincode)), nil
	})
}

// Fraud runs isolation-forest anomaly detection over districts.
func (e *Engine) Fraud(ctx context.Context, p Params) (Result[anomaly.FraudResult], error) {
	return read(ctx, e, "trends/fraud/anomalies", p, seedParams, func(v *view) (anomaly.FraudResult, error) {
		return v.fraud(p)
	})
}

// EnrollmentsByState is the [state, total] listing.
func (e *Engine) EnrollmentsByState(ctx context.Context, p Params) (Result[[]aggregate.StateTotal], error) {
	return read(ctx, e, "enrollments_by_state", p, nil, func(v *view) ([]aggregate.StateTotal, error) {
		return aggregate.EnrollmentsByState(v.rollup(model.LevelState)), nil
	})
}

// StatesMap is /map/states.
type StatesMap struct {
	Data []aggregate.StateMapRow `json:"data"`
}

// DistrictsMap is /map/districts/{state}.
type DistrictsMap struct {
	State string                     `json:"state"`
	Data  []aggregate.DistrictMapRow `json:"data"`
}

// PincodesMap is /map/pincodes/{district}.
type PincodesMap struct {
	District string                    `json:"district"`
	Data     []aggregate.PincodeMapRow `json:"data"`
}

// ClustersMap is /map/clusters/{kind}: every clustered pincode with its
// cluster id and position.
type ClustersMap struct {
	Type             string           `json:"type"`
	RunID            string           `json:"run_id"`
	InsufficientData bool             `json:"insufficient_data,omitempty"`
	Message          string           `json:"message,omitempty"`
	Data             []cluster.Member `json:"data"`
}

// MapStates projects every state.
func (e *Engine) MapStates(ctx context.Context, p Params) (Result[StatesMap], error) {
	return read(ctx, e, "map/states", p, nil, func(v *view) (StatesMap, error) {
		rows := aggregate.MapStates(v.rollup(model.LevelState))
		if rows == nil {
			rows = []aggregate.StateMapRow{}
		}
		return StatesMap{Data: rows}, nil
	})
}

// MapDistricts projects the districts of one state. The state name is
// percent-decoded and matched case-insensitively with alias resolution.
func (e *Engine) MapDistricts(ctx context.Context, state string, p Params) (Result[DistrictsMap], error) {
	s, err := e.Snapshot()
	if err != nil {
		return Result[DistrictsMap]{}, err
	}
	k, err := s.Index.State(state)
	if err != nil {
		return Result[DistrictsMap]{}, classify("map/districts", err)
	}
	return read(ctx, e, "map/districts/"+k.State, p, nil, func(v *view) (DistrictsMap, error) {
		return DistrictsMap{State: k.State, Data: aggregate.MapDistricts(v.rollup(model.LevelDistrict), k.State)}, nil
	})
}

// MapPincodes projects the pincodes of every district with the given name.
func (e *Engine) MapPincodes(ctx context.Context, district string, p Params) (Result[PincodesMap], error) {
	s, err := e.Snapshot()
	if err != nil {
		return Result[PincodesMap]{}, err
	}
	keys, err := s.Index.District(district, "")
	if err != nil {
		return Result[PincodesMap]{}, classify("map/pincodes", err)
	}
	name := keys[0].District
	return read(ctx, e, "map/pincodes/"+name, p, nil, func(v *view) (PincodesMap, error) {
		return PincodesMap{District: name, Data: aggregate.MapPincodes(v.rollup(model.LevelPincode), keys)}, nil
	})
}

// MapClusters projects the members of the current cold or hot clustering.
func (e *Engine) MapClusters(ctx context.Context, kind string, p Params) (Result[ClustersMap], error) {
	if kind != cluster.KindCold && kind != cluster.KindHot {
		return Result[ClustersMap]{}, validation("map/clusters", "cluster type must be %q or %q, got %q", cluster.KindCold, cluster.KindHot, kind)
	}
	label := "map/clusters/" + kind
	accepts := coldParams
	if kind == cluster.KindHot {
		accepts = hotParams
	}
	if err := p.only(label, accepts); err != nil {
		return Result[ClustersMap]{}, err
	}
	detached := context.WithoutCancel(ctx)
	v, err := e.view(p)
	if err != nil {
		return Result[ClustersMap]{}, err
	}
	key := cacheKey(v.snap.Generation, label, p.key())
	return compute(ctx, e, label, key, v.snap.Generation, func() (ClustersMap, error) {
		var (
			res cluster.Result
			err error
		)
		if kind == cluster.KindCold {
			res, err = v.coldClusters(detached, p)
		} else {
			res, err = v.hotClusters(detached, p)
		}
		if err != nil {
			return ClustersMap{}, err
		}
		return ClustersMap{
			Type:             kind,
			RunID:            res.RunID,
			InsufficientData: res.InsufficientData,
			Message:          res.Message,
			Data:             res.Members,
		}, nil
	})
}

// EntityProfile is the joined view of one entity: its sub-metrics plus both
// composite indices, all from the same rollup.
type EntityProfile struct {
	aggregate.Profile
	HealthIndex   *float64 `json:"health_index"`
	ExclusionRisk *float64 `json:"exclusion_risk"`
}

// Profile resolves an entity name at a level and returns its profile.
func (e *Engine) Profile(ctx context.Context, level, name string, p Params) (Result[EntityProfile], error) {
	lvl, err := model.ParseLevel(level, "")
	if err != nil || lvl == "" {
		return Result[EntityProfile]{}, validation("entities", "unknown level %q (want state, district or pincode)", level)
	}
	if p.Level != "" && p.Level != lvl {
		return Result[EntityProfile]{}, validation("entities", "level %q conflicts with path level %q", p.Level, lvl)
	}
	p.Level = ""

	s, err := e.Snapshot()
	if err != nil {
		return Result[EntityProfile]{}, err
	}
	k, err := s.Index.Resolve(lvl, name)
	if err != nil {
		return Result[EntityProfile]{}, classify("entities/"+string(lvl), err)
	}
	label := "entities/" + k.ID()
	return read(ctx, e, label, p, nil, func(v *view) (EntityProfile, error) {
		prof, ok := aggregate.BuildProfile(v.rollup(lvl), k, v.snap.Population)
		if !ok {
			return EntityProfile{}, &Error{Kind: KindNotFound, Context: label, Err: eris.Errorf("no records for %s in the requested range", k.ID())}
		}
		out := EntityProfile{Profile: prof}
		comp := v.composite(lvl)
		for _, h := range comp.Health {
			if h.Entity == prof.Entity {
				out.HealthIndex = &h.HealthIndex
				break
			}
		}
		for _, r := range comp.Risk {
			if r.Entity == prof.Entity {
				out.ExclusionRisk = &r.ExclusionRisk
				break
			}
		}
		return out, nil
	})
}

// Status describes the active snapshot and the cache.
type Status struct {
	Status      string     `json:"status"`
	Generation  uint64     `json:"generation"`
	AsOf        string     `json:"as_of"`
	LoadedAt    string     `json:"loaded_at"`
	Enrollments int        `json:"enrollment_records"`
	Biometric   int        `json:"biometric_records"`
	Demographic int        `json:"demographic_records"`
	States      int        `json:"states"`
	Districts   int        `json:"districts"`
	Pincodes    int        `json:"pincodes"`
	Metrics     int        `json:"core_endpoints"`
	Trends      int        `json:"trend_analysis_endpoints"`
	Cache       CacheStats `json:"cache"`
}

// Status reports the engine state. It fails with an unavailable error until
// the first snapshot loads.
func (e *Engine) Status() (Status, error) {
	s, err := e.Snapshot()
	if err != nil {
		return Status{}, err
	}
	enr, bio, demo := s.Counts()
	states, districts, pincodes := s.Index.Counts()
	return Status{
		Status:      "ok",
		Generation:  s.Generation,
		AsOf:        s.AsOf.Format(model.DateLayout),
		LoadedAt:    s.LoadedAt.Format(time.RFC3339),
		Enrollments: enr,
		Biometric:   bio,
		Demographic: demo,
		States:      states,
		Districts:   districts,
		Pincodes:    pincodes,
		Metrics:     len(metrics),
		Trends:      len(trendPaths),
		Cache:       e.cache.Stats(),
	}, nil
}
