package query

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrollment-insight/internal/cluster"
	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

var asOf = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func enr(state, district, pin string, d time.Time, a0, a5, a18 int64) model.EnrollmentRecord {
	return model.EnrollmentRecord{State: state, District: district, Pincode: pin, Date: d, Age0To5: a0, Age5To17: a5, Age18Plus: a18}
}

func bio(state, district, pin string, d time.Time, a5, a17 int64) model.UpdateRecord {
	return model.UpdateRecord{State: state, District: district, Pincode: pin, Date: d, Type: model.UpdateBiometric,
		Count: a5 + a17, Age5To17: a5, Age17Plus: a17}
}

func demo(state, district, pin string, d time.Time, n int64) model.UpdateRecord {
	return model.UpdateRecord{State: state, District: district, Pincode: pin, Date: d, Type: model.UpdateDemographic, Count: n, Age17Plus: n}
}

func fixture(gen uint64) *snapshot.Snapshot {
	enrollments := []model.EnrollmentRecord{
		enr("Odisha", "Khordha", "751001", day(2025, 1, 4), 10, 20, 70),
		enr("Odisha", "Khordha", "751002", day(2025, 2, 1), 5, 5, 40),
		enr("Odisha", "Cuttack", "753001", day(2025, 2, 2), 4, 0, 6),
		enr("Kerala", "Ernakulam", "682001", day(2025, 3, 1), 2, 8, 190),
		enr("Kerala", "Ernakulam", "682002", day(2025, 3, 2), 0, 0, 50),
	}
	biometric := []model.UpdateRecord{
		bio("Odisha", "Khordha", "751001", day(2025, 6, 20), 5, 15),
		bio("Odisha", "Khordha", "751002", day(2025, 1, 1), 1, 1),
		bio("Kerala", "Ernakulam", "682001", day(2025, 7, 10), 0, 4),
		bio("Kerala", "Ernakulam", "682001", day(2025, 8, 10), 0, 4),
		bio("Kerala", "Ernakulam", "682001", day(2025, 1, 10), 0, 2),
		bio("Kerala", "Ernakulam", "682099", day(2025, 5, 1), 0, 3),
	}
	demographic := []model.UpdateRecord{
		demo("Odisha", "Khordha", "751001", day(2025, 5, 1), 6),
		demo("Odisha", "Khordha", "751002", day(2022, 12, 1), 2),
		demo("Kerala", "Ernakulam", "682002", day(2023, 12, 15), 1),
	}
	return snapshot.New(gen, asOf, enrollments, biometric, demographic, nil)
}

// fakeSnapshots serves a swappable snapshot.
type fakeSnapshots struct {
	mu   sync.Mutex
	snap *snapshot.Snapshot
}

func (f *fakeSnapshots) Current() (*snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return nil, snapshot.ErrNoSnapshot
	}
	return f.snap, nil
}

func (f *fakeSnapshots) set(s *snapshot.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *fakeSnapshots) {
	t.Helper()
	snaps := &fakeSnapshots{snap: fixture(7)}
	e := NewEngine(snaps, cluster.NewEngine(nil), DefaultOptions())
	return e, snaps
}

func TestEngine_EveryMetricComputes(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.Len(t, Metrics(), 32)
	for _, m := range Metrics() {
		res, err := e.Metric(ctx, m.Slug, Params{})
		require.NoError(t, err, m.Slug)
		assert.Equal(t, uint64(7), res.Generation, m.Slug)

		b, err := json.Marshal(res.Value)
		require.NoError(t, err, m.Slug)
		var body map[string]any
		require.NoError(t, json.Unmarshal(b, &body), m.Slug)
		assert.Equal(t, m.Name(), body["metric"], m.Slug)
		assert.Equal(t, m.Description, body["description"], m.Slug)
	}
}

func TestEngine_MetricCachedPerGeneration(t *testing.T) {
	e, snaps := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Metric(ctx, "aadhaar-health-index", Params{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.Metric(ctx, "aadhaar-health-index", Params{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Value, second.Value)

	snaps.set(fixture(8))
	third, err := e.Metric(ctx, "aadhaar-health-index", Params{})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, uint64(8), third.Generation)

	e.Evict()
	for _, key := range e.cache.order {
		assert.Equal(t, uint64(8), keyGeneration(key), key)
	}
}

func TestEngine_UnknownMetric(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Metric(context.Background(), "no-such-metric", Params{})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestEngine_MetricLevels(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Metric(ctx, "pincode-gini", Params{Level: model.LevelState})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.Metric(ctx, "multi-update-penalty", Params{Level: model.LevelPincode})
	assert.Equal(t, KindValidation, KindOf(err))

	res, err := e.Metric(ctx, "biometric-freshness", Params{Level: model.LevelState})
	require.NoError(t, err)
	b, err := json.Marshal(res.Value)
	require.NoError(t, err)
	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Len(t, body.Data, 2)
}

func TestEngine_InvalidParametersAreValidationErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	neg := -1.0
	zero := 0

	_, err := e.Metric(ctx, "enrollment-cold-clusters", Params{Eps: &neg})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.Metric(ctx, "update-hot-clusters", Params{K: &zero})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.Metric(ctx, "enrollment-zscore", Params{Threshold: &neg})
	assert.Equal(t, KindValidation, KindOf(err))

	window := -3
	_, err = e.Forecast(ctx, Params{Window: &window})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestEngine_RejectsUnusedParameters(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	two := 2.0
	three := 3
	seed := uint64(9)

	_, err := e.Metric(ctx, "moran-i", Params{Threshold: &two})
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), `"threshold"`)

	_, err = e.Metric(ctx, "enrollment-cold-clusters", Params{K: &three})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.Metric(ctx, "update-hot-clusters", Params{Eps: &two})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.DailyVolume(ctx, Params{Window: &three})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.Forecast(ctx, Params{Seed: &seed})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.MapClusters(ctx, cluster.KindCold, Params{K: &three})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.MapDistricts(ctx, "odisha", Params{Threshold: &two})
	assert.Equal(t, KindValidation, KindOf(err))

	// Parameters an endpoint uses are still accepted.
	_, err = e.Metric(ctx, "enrollment-zscore", Params{Threshold: &two})
	assert.NoError(t, err)
	_, err = e.Metric(ctx, "update-hot-clusters", Params{K: &three, Seed: &seed})
	assert.NoError(t, err)
	_, err = e.Fraud(ctx, Params{Seed: &seed})
	assert.NoError(t, err)
	_, err = e.Forecast(ctx, Params{Window: &three})
	assert.NoError(t, err)
}

func TestEngine_NoSnapshotIsUnavailable(t *testing.T) {
	e := NewEngine(&fakeSnapshots{}, nil, DefaultOptions())
	_, err := e.Metric(context.Background(), "moran-i", Params{})
	assert.Equal(t, KindUnavailable, KindOf(err))

	_, err = e.Status()
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestEngine_BudgetExceeded(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxConcurrent = 1
	opts.ComputeTimeout = 30 * time.Millisecond
	e := NewEngine(&fakeSnapshots{snap: fixture(7)}, nil, opts)

	// Occupy the only compute slot.
	require.NoError(t, e.sem.Acquire(context.Background(), 1))
	defer e.sem.Release(1)

	_, err := e.Metric(context.Background(), "moran-i", Params{})
	require.Error(t, err)
	assert.Equal(t, KindBudgetExceeded, KindOf(err))
}

func TestEngine_SummaryDateRange(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	all, err := e.Summary(ctx, Params{})
	require.NoError(t, err)
	assert.Equal(t, int64(410), all.Value.TotalEnrollment)

	fraud, err := e.Fraud(ctx, Params{})
	require.NoError(t, err)
	assert.Equal(t, fraud.Value.Flagged, all.Value.FraudCases)

	dr, err := model.ParseDateRange("2025-03-01", "")
	require.NoError(t, err)
	kerala, err := e.Summary(ctx, Params{Dates: dr})
	require.NoError(t, err)
	assert.Equal(t, int64(250), kerala.Value.TotalEnrollment)
}

func TestEngine_FixedEndpointsRejectLevel(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.DailyVolume(context.Background(), Params{Level: model.LevelState})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestEngine_TrendEndpoints(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	fc, err := e.Forecast(ctx, Params{})
	require.NoError(t, err)
	assert.False(t, fc.Value.InsufficientData)
	assert.Len(t, fc.Value.Forecast, 7)

	perf, err := e.StatePerformance(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, perf.Value, 2)
	assert.Equal(t, "Kerala", perf.Value[0].State)

	byState, err := e.EnrollmentsByState(ctx, Params{})
	require.NoError(t, err)
	b, err := json.Marshal(byState.Value)
	require.NoError(t, err)
	assert.JSONEq(t, `[["Kerala",250],["Odisha",160]]`, string(b))

	vol, err := e.DailyVolume(ctx, Params{})
	require.NoError(t, err)
	assert.Len(t, vol.Value.Dates, 13)

	_, err = e.EnrollmentByAge(ctx, Params{})
	require.NoError(t, err)
	_, err = e.BottleneckDistricts(ctx, Params{})
	require.NoError(t, err)
	hv, err := e.HighVolumePincodes(ctx, Params{})
	require.NoError(t, err)
	assert.Len(t, hv.Value, 5)
}

func TestEngine_MapDistrictsResolvesAliases(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	odisha, err := e.MapDistricts(ctx, "odisha", Params{})
	require.NoError(t, err)
	orissa, err := e.MapDistricts(ctx, "Orissa", Params{})
	require.NoError(t, err)
	encoded, err := e.MapDistricts(ctx, "%4Frissa", Params{})
	require.NoError(t, err)

	assert.Equal(t, "Odisha", odisha.Value.State)
	assert.Len(t, odisha.Value.Data, 2)
	assert.Equal(t, odisha.Value, orissa.Value)
	assert.Equal(t, odisha.Value, encoded.Value)
	assert.True(t, orissa.Cached)

	_, err = e.MapDistricts(ctx, "Atlantis", Params{})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestEngine_MapPincodesAndStates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	pins, err := e.MapPincodes(ctx, "KHORDHA", Params{})
	require.NoError(t, err)
	assert.Equal(t, "Khordha", pins.Value.District)
	require.Len(t, pins.Value.Data, 2)
	assert.Equal(t, "751001", pins.Value.Data[0].Pincode)

	states, err := e.MapStates(ctx, Params{})
	require.NoError(t, err)
	assert.Len(t, states.Value.Data, 2)
}

func TestEngine_MapClusters(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.MapClusters(ctx, "lukewarm", Params{})
	assert.Equal(t, KindValidation, KindOf(err))

	cold, err := e.MapClusters(ctx, cluster.KindCold, Params{})
	require.NoError(t, err)
	assert.Equal(t, cluster.KindCold, cold.Value.Type)
	assert.Len(t, cold.Value.Data, 5)

	// The map and the metric share one clustering run.
	metric, err := e.Metric(ctx, "enrollment-cold-clusters", Params{})
	require.NoError(t, err)
	b, err := json.Marshal(metric.Value)
	require.NoError(t, err)
	var body struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Equal(t, cold.Value.RunID, body.RunID)

	hot, err := e.MapClusters(ctx, cluster.KindHot, Params{})
	require.NoError(t, err)
	assert.True(t, hot.Value.InsufficientData)
	assert.Empty(t, hot.Value.Data)
}

func TestEngine_Profile(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Profile(ctx, "district", "khordha", Params{})
	require.NoError(t, err)
	p := res.Value
	assert.Equal(t, "Khordha", p.District)
	assert.Equal(t, int64(150), p.Enrolled)
	require.NotNil(t, p.HealthIndex)
	require.NotNil(t, p.ExclusionRisk)
	assert.GreaterOrEqual(t, *p.HealthIndex, 0.0)
	assert.LessOrEqual(t, *p.HealthIndex, 100.0)

	state, err := e.Profile(ctx, "state", "orissa", Params{})
	require.NoError(t, err)
	assert.Equal(t, "Odisha", state.Value.State)
	assert.Equal(t, int64(160), state.Value.Enrolled)

	_, err = e.Profile(ctx, "village", "x", Params{})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.Profile(ctx, "pincode", "999999", Params{})
	assert.Equal(t, KindNotFound, KindOf(err))

	// Khordha has no records of any kind after June.
	dr, err := model.ParseDateRange("2025-08-01", "")
	require.NoError(t, err)
	_, err = e.Profile(ctx, "district", "khordha", Params{Dates: dr})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestEngine_Status(t *testing.T) {
	e, _ := newTestEngine(t)
	st, err := e.Status()
	require.NoError(t, err)
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, uint64(7), st.Generation)
	assert.Equal(t, "2025-06-30", st.AsOf)
	assert.Equal(t, 5, st.Enrollments)
	assert.Equal(t, 2, st.States)
	assert.Equal(t, 32, st.Metrics)
	assert.Equal(t, 8, st.Trends)
}

func TestEngine_ConcurrentRequestsShareComputation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result[Envelope], 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Metric(ctx, "exclusion-risk-index", Params{})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		assert.Equal(t, results[0].Value, r.Value)
	}
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(url.Values{
		"level":      {"State"},
		"from":       {"2025-01-01"},
		"to":         {"2025-03-31"},
		"threshold":  {"2.5"},
		"eps":        {"0.3"},
		"min_points": {"4"},
		"k":          {"3"},
		"seed":       {"7"},
		"window":     {"14"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.LevelState, p.Level)
	assert.Equal(t, day(2025, 1, 1), p.Dates.From)
	assert.Equal(t, 2.5, *p.Threshold)
	assert.Equal(t, 0.3, *p.Eps)
	assert.Equal(t, 4, *p.MinPoints)
	assert.Equal(t, 3, *p.K)
	assert.Equal(t, uint64(7), *p.Seed)
	assert.Equal(t, 14, *p.Window)
	assert.Equal(t, "state|2025-01-01..2025-03-31|t=2.5|e=0.3|m=4|k=3|s=7|w=14", p.key())

	empty, err := ParseParams(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "|-..-", empty.key())
}

func TestParseParams_Invalid(t *testing.T) {
	for name, q := range map[string]url.Values{
		"level":      {"level": {"village"}},
		"from":       {"from": {"01-02-2025"}},
		"reversed":   {"from": {"2025-03-01"}, "to": {"2025-01-01"}},
		"threshold":  {"threshold": {"high"}},
		"eps":        {"eps": {"x"}},
		"min_points": {"min_points": {"1.5"}},
		"k":          {"k": {"three"}},
		"seed":       {"seed": {"-1"}},
		"window":     {"window": {"w"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseParams(q)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestBuildCatalog(t *testing.T) {
	c := BuildCatalog()
	assert.Equal(t, 40, c.TotalEndpoints)
	assert.Len(t, c.Metrics, 32)
	assert.Len(t, c.Categories[CategoryComposite], 2)
	assert.Contains(t, c.Categories[CategoryTrends], "/api/trends/fraud/anomalies")
	assert.Contains(t, c.Categories[CategoryInsights], "/metrics/pincode-ghost-towns")

	m, ok := Lookup("aadhaar-health-index")
	require.True(t, ok)
	assert.Equal(t, "aadhaar_health_index", m.Name())
	assert.Equal(t, model.LevelDistrict, m.Levels[0])

	cold, ok := Lookup("enrollment-cold-clusters")
	require.True(t, ok)
	assert.Equal(t, []string{ParamEps, ParamMinPoints}, cold.Params)
}

func TestEnvelope_MarshalJSON(t *testing.T) {
	obj, err := json.Marshal(Envelope{Metric: "moran_i", Payload: struct {
		Value float64 `json:"value"`
	}{0.5}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"moran_i","value":0.5}`, string(obj))

	rows, err := json.Marshal(Envelope{Metric: "x", Description: "d", Payload: []int{1, 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"x","description":"d","data":[1,2]}`, string(rows))

	var none []int
	empty, err := json.Marshal(Envelope{Metric: "x", Payload: none})
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"x","data":[]}`, string(empty))

	bare, err := json.Marshal(Envelope{Metric: "x", Payload: struct{}{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"x"}`, string(bare))

	counted, err := json.Marshal(Envelope{Metric: "x", Payload: countRows[int](nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"x","count":0,"data":[]}`, string(counted))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify("x", nil))
	err := classify("moran-i", context.DeadlineExceeded)
	assert.Equal(t, KindBudgetExceeded, KindOf(err))
	assert.Equal(t, "moran-i: context deadline exceeded", err.Error())

	again := classify("other", err)
	assert.Same(t, err, again)

	assert.Equal(t, KindUnavailable, KindOf(classify("s", snapshot.ErrNoSnapshot)))
}
