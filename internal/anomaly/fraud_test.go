package anomaly

import (
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

func clusterWithOutlier() [][]float64 {
	var data [][]float64
	for i := range 10 {
		for j := range 5 {
			data = append(data, []float64{float64(i), float64(j)})
		}
	}
	return append(data, []float64{100, 100})
}

func TestForest_IsolatesOutlier(t *testing.T) {
	f, err := NewForest(DefaultForestConfig())
	require.NoError(t, err)
	data := clusterWithOutlier()
	require.NoError(t, f.Fit(data))

	scores := f.Predict(data)
	outlier := scores[len(scores)-1]
	for i, s := range scores[:len(scores)-1] {
		assert.Less(t, s, outlier, "sample %d", i)
		assert.Greater(t, s, 0.0)
	}
	assert.LessOrEqual(t, outlier, 1.0)
}

func TestForest_SeedDeterminism(t *testing.T) {
	data := clusterWithOutlier()
	run := func(seed uint64) []float64 {
		cfg := DefaultForestConfig()
		cfg.Seed = seed
		f, err := NewForest(cfg)
		require.NoError(t, err)
		require.NoError(t, f.Fit(data))
		return f.Predict(data)
	}
	assert.Equal(t, run(7), run(7))
	assert.NotEqual(t, run(7), run(8))
}

func TestForest_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ForestConfig
	}{
		{"no trees", ForestConfig{Trees: 0, SampleSize: 256, Contamination: 0.01}},
		{"tiny sample", ForestConfig{Trees: 10, SampleSize: 1, Contamination: 0.01}},
		{"zero contamination", ForestConfig{Trees: 10, SampleSize: 256, Contamination: 0}},
		{"huge contamination", ForestConfig{Trees: 10, SampleSize: 256, Contamination: 0.9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewForest(tt.cfg)
			assert.True(t, eris.Is(err, ErrInvalidParameter))
		})
	}

	f, err := NewForest(DefaultForestConfig())
	require.NoError(t, err)
	assert.Error(t, f.Fit([][]float64{{1, 2}}))
	assert.Error(t, f.Fit([][]float64{{1, 2}, {1}}))
}

func TestFlagCount(t *testing.T) {
	cfg := ForestConfig{Contamination: 0.01}
	assert.Equal(t, 0, cfg.FlagCount(0))
	assert.Equal(t, 1, cfg.FlagCount(5))
	assert.Equal(t, 2, cfg.FlagCount(101))
	cfg.Contamination = 0.5
	assert.Equal(t, 3, cfg.FlagCount(5))
}

func TestMaxSpike(t *testing.T) {
	days := map[time.Time]int64{
		day(2025, 1, 1): 10,
		day(2025, 1, 2): 10,
		day(2025, 1, 3): 100,
	}
	score, at := maxSpike(days)
	assert.InDelta(t, 100.0/41.0, score, 1e-9)
	assert.Equal(t, day(2025, 1, 3), at)

	score, at = maxSpike(nil)
	assert.Zero(t, score)
	assert.True(t, at.IsZero())
}

func fraudSnapshot() *snapshot.Snapshot {
	var enr []model.EnrollmentRecord
	var bio []model.UpdateRecord
	for i := range 20 {
		district := fmt.Sprintf("D%02d", i)
		pin := fmt.Sprintf("5%05d", i)
		for d := 1; d <= 3; d++ {
			enr = append(enr, adults("S", district, pin, day(2025, 1, d), 10))
		}
		bio = append(bio, bioUpdate("S", district, pin, day(2025, 2, 1), 5))
	}
	enr = append(enr,
		adults("S", "Spike", "599999", day(2025, 1, 1), 10),
		adults("S", "Spike", "599999", day(2025, 1, 2), 10),
		adults("S", "Spike", "599999", day(2025, 1, 3), 5000),
	)
	bio = append(bio, bioUpdate("S", "Spike", "599999", day(2025, 2, 1), 5))
	return snapshot.New(1, asOf, enr, bio, nil, nil)
}

func TestFraud_FlagsSpikeDistrict(t *testing.T) {
	cfg := DefaultForestConfig()
	cfg.Contamination = 0.05
	res, err := Fraud(fraudSnapshot(), cfg)
	require.NoError(t, err)
	assert.False(t, res.InsufficientData)
	assert.Equal(t, 21, res.Districts)
	assert.Equal(t, 2, res.Flagged)
	require.Len(t, res.Data, 2)

	top := res.Data[0]
	assert.Equal(t, "Spike", top.District)
	assert.Equal(t, int64(5020), top.AdultEnrollments)
	assert.Equal(t, 2.99, top.SpikeScore)
	require.NotNil(t, top.LastDetected)
	assert.Equal(t, "2025-01-03", *top.LastDetected)
	assert.Greater(t, top.AnomalyScore, res.Data[1].AnomalyScore)
	assert.Equal(t, uint64(42), res.Seed)
}

func TestFraud_Deterministic(t *testing.T) {
	snap := fraudSnapshot()
	a, err := Fraud(snap, DefaultForestConfig())
	require.NoError(t, err)
	b, err := Fraud(snap, DefaultForestConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, a.Flagged)
}

func TestFraud_Sparse(t *testing.T) {
	snap := snapshot.New(1, asOf, []model.EnrollmentRecord{adults("S", "D", "1", day(2025, 1, 1), 5)}, nil, nil, nil)
	res, err := Fraud(snap, DefaultForestConfig())
	require.NoError(t, err)
	assert.True(t, res.InsufficientData)
	assert.Empty(t, res.Data)

	_, err = Fraud(snap, ForestConfig{})
	assert.True(t, eris.Is(err, ErrInvalidParameter))
}
