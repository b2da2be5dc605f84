package aggregate

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// DateSpan is the first and last record date of a snapshot.
type DateSpan struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

// Summary is the trends dashboard headline.
type Summary struct {
	TotalEnrollment           int64    `json:"total_enrollment"`
	TotalDemographic          int64    `json:"total_demographic_updates"`
	TotalBiometric            int64    `json:"total_biometric_updates"`
	DemographicCompletionRate float64  `json:"demographic_completion_rate"`
	BiometricCompletionRate   float64  `json:"biometric_completion_rate"`
	FraudCases                int      `json:"fraud_cases"`
	DistrictsCovered          int      `json:"districts_covered"`
	StatesCovered             int      `json:"states_covered"`
	PincodesCovered           int      `json:"pincodes_covered"`
	DateRange                 DateSpan `json:"date_range"`
	Generation                uint64   `json:"generation"`
	AsOf                      string   `json:"as_of"`
}

// BuildSummary computes the headline totals. FraudCases is left for the
// caller, which owns the anomaly model.
func BuildSummary(s *snapshot.Snapshot) Summary {
	var sum Summary
	var first, last time.Time
	see := func(t time.Time) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	for _, r := range s.Enrollments {
		sum.TotalEnrollment += r.Total()
		see(r.Date)
	}
	for _, u := range s.Demographic {
		sum.TotalDemographic += u.Count
		see(u.Date)
	}
	for _, u := range s.Biometric {
		sum.TotalBiometric += u.Count
		see(u.Date)
	}
	sum.DemographicCompletionRate = Pct(sum.TotalDemographic, sum.TotalEnrollment)
	sum.BiometricCompletionRate = Pct(sum.TotalBiometric, sum.TotalEnrollment)
	sum.StatesCovered, sum.DistrictsCovered, sum.PincodesCovered = s.Index.Counts()
	sum.DateRange = DateSpan{Start: DateString(first), End: DateString(last)}
	sum.Generation = s.Generation
	sum.AsOf = s.AsOf.Format(model.DateLayout)
	return sum
}

// dailyTotals is a per-day accumulator keyed by date string so results
// serialise in calendar order.
type dailyTotals map[string]*[6]int64

func (d dailyTotals) at(t time.Time) *[6]int64 {
	k := t.Format(model.DateLayout)
	v, ok := d[k]
	if !ok {
		v = &[6]int64{}
		d[k] = v
	}
	return v
}

func (d dailyTotals) dates() []string { return sortedKeys(d) }

// Column slots in dailyTotals.
const (
	colAge0To5 = iota
	colAge5To17
	colAge18Plus
	colEnrollments
	colDemographics
	colBiometrics
)

func daily(s *snapshot.Snapshot) dailyTotals {
	d := make(dailyTotals)
	for _, r := range s.Enrollments {
		v := d.at(r.Date)
		v[colAge0To5] += r.Age0To5
		v[colAge5To17] += r.Age5To17
		v[colAge18Plus] += r.Age18Plus
		v[colEnrollments] += r.Total()
	}
	for _, u := range s.Demographic {
		d.at(u.Date)[colDemographics] += u.Count
	}
	for _, u := range s.Biometric {
		d.at(u.Date)[colBiometrics] += u.Count
	}
	return d
}

// AgeSeries is enrollment-by-age: parallel per-day series.
type AgeSeries struct {
	Dates     []string `json:"dates"`
	Age0To5   []int64  `json:"age_0_5"`
	Age5To17  []int64  `json:"age_5_17"`
	Age18Plus []int64  `json:"age_18_plus"`
}

// EnrollmentByAge returns daily enrollments split by cohort. Only days with
// enrollment records appear.
func EnrollmentByAge(s *snapshot.Snapshot) AgeSeries {
	d := make(dailyTotals)
	for _, r := range s.Enrollments {
		v := d.at(r.Date)
		v[colAge0To5] += r.Age0To5
		v[colAge5To17] += r.Age5To17
		v[colAge18Plus] += r.Age18Plus
	}
	out := AgeSeries{Dates: []string{}, Age0To5: []int64{}, Age5To17: []int64{}, Age18Plus: []int64{}}
	for _, day := range d.dates() {
		v := d[day]
		out.Dates = append(out.Dates, day)
		out.Age0To5 = append(out.Age0To5, v[colAge0To5])
		out.Age5To17 = append(out.Age5To17, v[colAge5To17])
		out.Age18Plus = append(out.Age18Plus, v[colAge18Plus])
	}
	return out
}

// VolumeSeries is daily-volume: parallel per-day series.
type VolumeSeries struct {
	Dates        []string `json:"dates"`
	Enrollments  []int64  `json:"enrollments"`
	Demographics []int64  `json:"demographics"`
	Biometrics   []int64  `json:"biometrics"`
}

// DailyVolume returns per-day enrollment, demographic and biometric volume
// over every day that has any record.
func DailyVolume(s *snapshot.Snapshot) VolumeSeries {
	d := daily(s)
	out := VolumeSeries{Dates: []string{}, Enrollments: []int64{}, Demographics: []int64{}, Biometrics: []int64{}}
	for _, day := range d.dates() {
		v := d[day]
		out.Dates = append(out.Dates, day)
		out.Enrollments = append(out.Enrollments, v[colEnrollments])
		out.Demographics = append(out.Demographics, v[colDemographics])
		out.Biometrics = append(out.Biometrics, v[colBiometrics])
	}
	return out
}

// DailyPoint is one day of a load series.
type DailyPoint struct {
	Date  time.Time
	Value float64
}

// DailyBiometricLoad returns the total biometric updates per day, in date
// order. Only days with updates appear.
func DailyBiometricLoad(s *snapshot.Snapshot) []DailyPoint {
	byDay := make(map[time.Time]int64)
	for _, u := range s.Biometric {
		byDay[model.Day(u.Date)] += u.Count
	}
	out := make([]DailyPoint, 0, len(byDay))
	for d, n := range byDay {
		out = append(out, DailyPoint{Date: d, Value: float64(n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// DailyEnrollment returns total enrollments per day, in date order.
func DailyEnrollment(s *snapshot.Snapshot) []DailyPoint {
	byDay := make(map[time.Time]int64)
	for _, r := range s.Enrollments {
		byDay[model.Day(r.Date)] += r.Total()
	}
	out := make([]DailyPoint, 0, len(byDay))
	for d, n := range byDay {
		out = append(out, DailyPoint{Date: d, Value: float64(n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// PerformanceRow is one state of state-performance.
type PerformanceRow struct {
	State               string  `json:"state"`
	TotalEnrolled       int64   `json:"total_enrolled"`
	DemographicRate     float64 `json:"demographic_rate"`
	BiometricRate       float64 `json:"biometric_rate"`
	PendingDemographics int64   `json:"pending_demographics"`
	PendingBiometrics   int64   `json:"pending_biometrics"`
}

// StatePerformance reports update completion per state, largest first.
func StatePerformance(states *Rollup) []PerformanceRow {
	var rows []PerformanceRow
	for _, s := range states.Enrolled() {
		rows = append(rows, PerformanceRow{
			State:               s.Key.State,
			TotalEnrolled:       s.Enrolled,
			DemographicRate:     Pct(s.DemoUpdates, s.Enrolled),
			BiometricRate:       Pct(s.BioUpdates, s.Enrolled),
			PendingDemographics: max(0, s.Enrolled-s.DemoUpdates),
			PendingBiometrics:   max(0, s.Enrolled-s.BioUpdates),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TotalEnrolled > rows[j].TotalEnrolled })
	return rows
}

// BottleneckRow is one district of bottleneck-districts.
type BottleneckRow struct {
	State           string  `json:"state"`
	District        string  `json:"district"`
	TotalEnrolled   int64   `json:"total_enrolled"`
	DemographicRate float64 `json:"demographic_rate"`
	BiometricRate   float64 `json:"biometric_rate"`
	Issue           string  `json:"issue"`
}

const (
	bottleneckMinEnrolled = 50
	bottleneckRate        = 80
	bottleneckLimit       = 20
)

// BottleneckDistricts lists the largest districts whose biometric or
// demographic completion rate is below 80%.
func BottleneckDistricts(districts *Rollup) []BottleneckRow {
	var rows []BottleneckRow
	for _, s := range districts.Enrolled() {
		if s.Enrolled <= bottleneckMinEnrolled {
			continue
		}
		demo, bio := Pct(s.DemoUpdates, s.Enrolled), Pct(s.BioUpdates, s.Enrolled)
		if bio >= bottleneckRate && demo >= bottleneckRate {
			continue
		}
		issue := "Demographic Backlog"
		if bio < demo {
			issue = "Biometric Backlog"
		}
		rows = append(rows, BottleneckRow{
			State:           s.Key.State,
			District:        s.Key.District,
			TotalEnrolled:   s.Enrolled,
			DemographicRate: demo,
			BiometricRate:   bio,
			Issue:           issue,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TotalEnrolled > rows[j].TotalEnrolled })
	if len(rows) > bottleneckLimit {
		rows = rows[:bottleneckLimit]
	}
	return rows
}

// HighVolumeRow is one pincode of high-volume-pincodes.
type HighVolumeRow struct {
	Pincode          string `json:"pincode"`
	District         string `json:"district"`
	State            string `json:"state"`
	TotalEnrollments int64  `json:"total_enrollments"`
	Children0To5     int64  `json:"children_0_5"`
	Children5To17    int64  `json:"children_5_17"`
	Adults           int64  `json:"adults"`
}

const highVolumeLimit = 30

// HighVolumePincodes returns the top pincodes by enrollment.
func HighVolumePincodes(pincodes *Rollup) []HighVolumeRow {
	rows := make([]HighVolumeRow, 0, len(pincodes.Rows))
	for _, s := range pincodes.Enrolled() {
		rows = append(rows, HighVolumeRow{
			Pincode:          s.Key.Pincode,
			District:         s.Key.District,
			State:            s.Key.State,
			TotalEnrollments: s.Enrolled,
			Children0To5:     s.Age0To5,
			Children5To17:    s.Age5To17,
			Adults:           s.Age18Plus,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TotalEnrollments > rows[j].TotalEnrollments })
	if len(rows) > highVolumeLimit {
		rows = rows[:highVolumeLimit]
	}
	return rows
}

// StateTotal is one [state_name, total] pair.
type StateTotal struct {
	State string
	Total int64
}

// MarshalJSON encodes the pair as a two-element array.
func (p StateTotal) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.State, p.Total})
}

// EnrollmentsByState returns state totals, largest first.
func EnrollmentsByState(states *Rollup) []StateTotal {
	out := make([]StateTotal, 0, len(states.Rows))
	for _, s := range states.Enrolled() {
		out = append(out, StateTotal{State: s.Key.State, Total: s.Enrolled})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}
