package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

func TestMonsoonSpike(t *testing.T) {
	rows := MonsoonSpike(fixture())
	require.Len(t, rows, 2)
	// Kerala 2025: Jan 2, May 3, Jul 4, Aug 4 -> (8/2) / 3.25.
	assert.Equal(t, "Kerala", rows[0].State)
	assert.Equal(t, 2025, rows[0].Year)
	assert.Equal(t, 3.25, rows[0].AvgMonthly)
	assert.Equal(t, int64(8), rows[0].JulAug)
	assert.Equal(t, 1.23, rows[0].SpikeRatio)
	assert.True(t, rows[0].Surge)

	assert.Equal(t, "Odisha", rows[1].State)
	assert.Equal(t, 0.0, rows[1].SpikeRatio)
	assert.False(t, rows[1].Surge)
}

func TestMonsoonIndex(t *testing.T) {
	rows := MonsoonIndex(fixture())
	require.Len(t, rows, 2)
	assert.Equal(t, "Odisha", rows[0].State)
	assert.Equal(t, 10.0, rows[0].Ratio)
	assert.Equal(t, "High Impact", rows[0].Impact)
	assert.Equal(t, 1.6, rows[1].Ratio)
}

func TestMonsoonIndex_Bands(t *testing.T) {
	mk := func(state string, monsoon, rest int64) []model.UpdateRecord {
		return []model.UpdateRecord{
			bio(state, "D", "1", day(2024, 7, 1), 0, monsoon),
			bio(state, "D", "1", day(2024, 2, 1), 0, rest),
		}
	}
	var upd []model.UpdateRecord
	upd = append(upd, mk("Low", 7, 10)...)
	upd = append(upd, mk("Mid", 10, 10)...)
	upd = append(upd, mk("Only", 10, 0)...)
	rows := MonsoonIndex(snapshot.New(1, asOf, nil, upd, nil, nil))
	require.Len(t, rows, 2)
	assert.Equal(t, "Normal", rows[0].Impact)
	assert.Equal(t, "Low Impact", rows[1].Impact)
}

func TestUpdateSeasonality(t *testing.T) {
	rows := UpdateSeasonality(fixture())
	require.Len(t, rows, 2)
	assert.Equal(t, "Odisha", rows[0].State)
	require.NotNil(t, rows[0].SeasonalityIndex)
	assert.Equal(t, 10.0, *rows[0].SeasonalityIndex)
	assert.Equal(t, int64(4), rows[1].Max)
	assert.Equal(t, int64(2), rows[1].Min)
	assert.Equal(t, 3.25, rows[1].Avg)
}

func TestEnrollmentVelocity(t *testing.T) {
	rows := EnrollmentVelocity(fixture())
	require.Len(t, rows, 1)
	assert.Equal(t, "Odisha", rows[0].State)
	assert.Equal(t, "2025-02", rows[0].Month)
	assert.Equal(t, int64(60), rows[0].Total)
	assert.Equal(t, int64(100), rows[0].Prev)
	require.NotNil(t, rows[0].GrowthPct)
	assert.Equal(t, -40.0, *rows[0].GrowthPct)
}

func TestWeekendEffect(t *testing.T) {
	// 2025-03-01 is a Saturday, 2025-03-03 a Monday.
	recs := []model.EnrollmentRecord{
		enr("A", "D", "1", day(2025, 3, 1), 0, 0, 30),
		enr("A", "D", "1", day(2025, 3, 3), 0, 0, 10),
		enr("A", "D", "2", day(2025, 3, 3), 0, 0, 10),
		enr("A", "D", "1", day(2025, 3, 4), 0, 0, 20),
		enr("B", "D", "3", day(2025, 3, 1), 0, 0, 5),
	}
	rows := WeekendEffect(snapshot.New(1, asOf, recs, nil, nil, nil))
	require.Len(t, rows, 1, "states without weekdays are omitted")
	assert.Equal(t, 30.0, rows[0].WeekendAvg)
	assert.Equal(t, 20.0, rows[0].WeekdayAvg)
	assert.Equal(t, 10.0, rows[0].Diff)
	require.NotNil(t, rows[0].EffectPct)
	assert.Equal(t, 50.0, *rows[0].EffectPct)
}

func TestCohortAging(t *testing.T) {
	rows := CohortAging(Build(fixture(), model.LevelState))
	require.Len(t, rows, 2)
	assert.Equal(t, "Kerala", rows[0].State)
	assert.Equal(t, 96.0, rows[0].EnrollPct18)
	assert.Equal(t, int64(13), rows[0].Bio17Plus)
}

func TestBuildSummary(t *testing.T) {
	s := BuildSummary(fixture())
	assert.Equal(t, int64(410), s.TotalEnrollment)
	assert.Equal(t, int64(9), s.TotalDemographic)
	assert.Equal(t, int64(35), s.TotalBiometric)
	assert.Equal(t, 2.2, s.DemographicCompletionRate)
	assert.Equal(t, 8.54, s.BiometricCompletionRate)
	assert.Equal(t, 2, s.StatesCovered)
	assert.Equal(t, 3, s.DistrictsCovered)
	assert.Equal(t, 6, s.PincodesCovered)
	require.NotNil(t, s.DateRange.Start)
	assert.Equal(t, "2022-12-01", *s.DateRange.Start)
	assert.Equal(t, "2025-08-10", *s.DateRange.End)
	assert.Equal(t, uint64(7), s.Generation)
	assert.Equal(t, "2025-06-30", s.AsOf)
}

func TestDailySeries(t *testing.T) {
	snap := fixture()

	age := EnrollmentByAge(snap)
	require.Len(t, age.Dates, 5)
	assert.Equal(t, "2025-01-04", age.Dates[0])
	assert.Equal(t, int64(70), age.Age18Plus[0])

	vol := DailyVolume(snap)
	// Demographic and biometric updates share 2025-05-01.
	assert.Len(t, vol.Dates, 13)
	assert.Equal(t, "2022-12-01", vol.Dates[0])
	assert.Equal(t, int64(2), vol.Demographics[0])
	assert.Len(t, vol.Biometrics, len(vol.Dates))

	load := DailyBiometricLoad(snap)
	require.Len(t, load, 6)
	assert.True(t, load[0].Date.Equal(day(2025, 1, 1)))
	for i := 1; i < len(load); i++ {
		assert.True(t, load[i-1].Date.Before(load[i].Date))
	}

	enrol := DailyEnrollment(snap)
	require.Len(t, enrol, 5)
	assert.Equal(t, 100.0, enrol[0].Value)
}

func TestStatePerformanceAndBottlenecks(t *testing.T) {
	perf := StatePerformance(Build(fixture(), model.LevelState))
	require.Len(t, perf, 2)
	assert.Equal(t, "Kerala", perf[0].State)
	assert.Equal(t, int64(250-13), perf[0].PendingBiometrics)

	b := BottleneckDistricts(Build(fixture(), model.LevelDistrict))
	// Cuttack is too small to count.
	require.Len(t, b, 2)
	assert.Equal(t, "Ernakulam", b[0].District)
	assert.Equal(t, "Demographic Backlog", b[0].Issue)
	assert.Equal(t, "Khordha", b[1].District)
}

func TestHighVolumePincodes(t *testing.T) {
	rows := HighVolumePincodes(Build(fixture(), model.LevelPincode))
	require.Len(t, rows, 5)
	assert.Equal(t, "682001", rows[0].Pincode)
	assert.Equal(t, int64(190), rows[0].Adults)
}

func TestEnrollmentsByState_Pairs(t *testing.T) {
	pairs := EnrollmentsByState(Build(fixture(), model.LevelState))
	b, err := json.Marshal(pairs)
	require.NoError(t, err)
	assert.JSONEq(t, `[["Kerala",250],["Odisha",160]]`, string(b))
}

func TestMaps(t *testing.T) {
	snap := fixture()

	states := MapStates(Build(snap, model.LevelState))
	require.Len(t, states, 2)
	assert.Equal(t, "Kerala", states[0].State)
	assert.NotZero(t, states[0].Lat)

	districts := MapDistricts(Build(snap, model.LevelDistrict), "Odisha")
	require.Len(t, districts, 2)
	assert.Equal(t, "Khordha", districts[0].District)
	assert.Equal(t, int64(30), districts[0].Updates)

	assert.Empty(t, MapDistricts(Build(snap, model.LevelDistrict), "Goa"))

	pins := MapPincodes(Build(snap, model.LevelPincode), []model.EntityKey{districtKey("Odisha", "Khordha")})
	require.Len(t, pins, 2)
	assert.Equal(t, "751001", pins[0].Pincode)
	lat, lng := pins[0].Lat, pins[0].Lng
	again := MapPincodes(Build(snap, model.LevelPincode), []model.EntityKey{districtKey("Odisha", "Khordha")})
	assert.Equal(t, lat, again[0].Lat)
	assert.Equal(t, lng, again[0].Lng)
}

func TestBuildProfile(t *testing.T) {
	r := Build(fixture(), model.LevelDistrict)
	p, ok := BuildProfile(r, districtKey("Odisha", "Khordha"), nil)
	require.True(t, ok)
	assert.Equal(t, model.LevelDistrict, p.Level)
	assert.Equal(t, int64(150), p.Enrolled)
	assert.Equal(t, 40.0, p.DeficitPct)
	assert.Equal(t, 50.0, p.StalenessPct)
	assert.Equal(t, 33.33, p.PhantomChildrenPct)
	require.NotNil(t, p.AvgDaysSinceBio)
	assert.Equal(t, 95.0, *p.AvgDaysSinceBio)
	assert.Equal(t, 0.2, p.DependencyRatio)
	assert.Zero(t, p.Districts)

	_, ok = BuildProfile(r, districtKey("Goa", "North Goa"), nil)
	assert.False(t, ok)
}
