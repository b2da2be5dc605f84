package composite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

var asOf = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func testSnapshot() *snapshot.Snapshot {
	enr := []model.EnrollmentRecord{
		{State: "A", District: "X", Pincode: "100001", Date: day(2025, 1, 1), Age18Plus: 100},
		{State: "A", District: "Y", Pincode: "100002", Date: day(2025, 1, 1), Age18Plus: 50},
		{State: "B", District: "Z", Pincode: "200001", Date: day(2025, 1, 1), Age18Plus: 10},
	}
	bio := []model.UpdateRecord{
		{State: "A", District: "X", Pincode: "100001", Date: day(2025, 6, 20), Type: model.UpdateBiometric, Count: 50, Age17Plus: 50},
		{State: "A", District: "Y", Pincode: "100002", Date: day(2025, 3, 12), Type: model.UpdateBiometric, Count: 5, Age17Plus: 5},
	}
	demo := []model.UpdateRecord{
		{State: "A", District: "X", Pincode: "100001", Date: day(2025, 6, 1), Type: model.UpdateDemographic, Count: 50, Age17Plus: 50},
	}
	return snapshot.New(1, asOf, enr, bio, demo, nil)
}

func byDistrict[T any](rows []T, name func(T) string) map[string]T {
	out := make(map[string]T, len(rows))
	for _, r := range rows {
		out[name(r)] = r
	}
	return out
}

func TestCompute_Health(t *testing.T) {
	res := Compute(aggregate.Build(testSnapshot(), model.LevelDistrict), nil)
	require.Len(t, res.Health, 3)
	assert.Equal(t, model.LevelDistrict, res.Level)

	assert.Equal(t, "X", res.Health[0].District)
	assert.Equal(t, 100.0, res.Health[0].HealthIndex)

	h := byDistrict(res.Health, func(r HealthRow) string { return r.District })
	assert.Equal(t, 44.44, h["Y"].VolumeScore)
	assert.Equal(t, 0.0, h["Y"].FreshnessPct)
	assert.Equal(t, 10.0, h["Y"].UpdatePct)
	assert.Equal(t, 20.78, h["Y"].HealthIndex)
	require.NotNil(t, h["Y"].AvgDaysSinceBio)
	assert.Equal(t, 110.0, *h["Y"].AvgDaysSinceBio)

	assert.Nil(t, h["Z"].AvgDaysSinceBio)
	assert.Equal(t, 0.0, h["Z"].HealthIndex)
	assert.Equal(t, map[string]float64{"volume": 0, "freshness": 0, "activity": 0}, h["Z"].ComponentScores)
}

func TestCompute_Risk(t *testing.T) {
	res := Compute(aggregate.Build(testSnapshot(), model.LevelDistrict), nil)
	require.Len(t, res.Risk, 3)

	assert.Equal(t, "Z", res.Risk[0].District)
	assert.Equal(t, 90.0, res.Risk[0].DeficitPct)
	assert.Equal(t, 96.0, res.Risk[0].ExclusionRisk)
	assert.Equal(t, aggregate.DeficitRelative, res.Risk[0].DeficitSource)

	r := byDistrict(res.Risk, func(r RiskRow) string { return r.District })
	assert.Equal(t, 80.0, r["Y"].ExclusionRisk)
	assert.Equal(t, 100.0, r["Y"].StalenessPct)
	assert.Equal(t, 100.0, r["Y"].DesertPct)
	assert.Equal(t, 0.0, r["X"].ExclusionRisk)
}

func TestCompute_Bounded(t *testing.T) {
	for _, level := range []model.Level{model.LevelState, model.LevelDistrict, model.LevelPincode} {
		res := Compute(aggregate.Build(testSnapshot(), level), nil)
		for _, h := range res.Health {
			assert.GreaterOrEqual(t, h.HealthIndex, 0.0)
			assert.LessOrEqual(t, h.HealthIndex, 100.0)
		}
		for _, r := range res.Risk {
			assert.GreaterOrEqual(t, r.ExclusionRisk, 0.0)
			assert.LessOrEqual(t, r.ExclusionRisk, 100.0)
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	snap := testSnapshot()
	a := Compute(aggregate.Build(snap, model.LevelDistrict), nil)
	b := Compute(aggregate.Build(snap, model.LevelDistrict), nil)
	assert.Equal(t, a, b)
}

func TestCompute_Empty(t *testing.T) {
	res := Compute(aggregate.Build(snapshot.New(1, asOf, nil, nil, nil, nil), model.LevelState), nil)
	assert.Empty(t, res.Health)
	assert.Empty(t, res.Risk)
	assert.NotNil(t, res.Health)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, []float64{}},
		{"spread", []float64{0, 5, 10}, []float64{0, 50, 100}},
		{"constant positive", []float64{3, 3}, []float64{100, 100}},
		{"constant zero", []float64{0, 0}, []float64{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize(tt.in))
		})
	}
}

func TestInverse(t *testing.T) {
	assert.Equal(t, 100.0, inverse(10, 10, 110))
	assert.Equal(t, 0.0, inverse(110, 10, 110))
	assert.Equal(t, 100.0, inverse(7, 7, 7))
}
