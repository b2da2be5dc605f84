package aggregate

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// Deficit sources.
const (
	DeficitFromPopulation = "population"
	DeficitRelative       = "relative_to_max"
)

// Deficit computes the enrollment deficit ratio in [0,1] for one entity.
// With a reference population the ratio is (expected - enrolled) / expected;
// without one it is measured against the best-enrolled entity of the set.
func Deficit(s *EntityStats, maxEnrolled int64, pop *snapshot.Population) (ratio float64, source string, expected *int64) {
	if n, ok := pop.Expected(s.Key); ok {
		return Clamp(float64(n-s.Enrolled)/float64(n), 0, 1), DeficitFromPopulation, &n
	}
	if maxEnrolled <= 0 {
		return 0, DeficitRelative, nil
	}
	return Clamp(1-float64(s.Enrolled)/float64(maxEnrolled), 0, 1), DeficitRelative, nil
}

// DeficitRow is one row of enrollment-deficit-ratio.
type DeficitRow struct {
	Entity
	Enrolled           int64   `json:"enrolled"`
	ExpectedPopulation *int64  `json:"expected_population"`
	DeficitRatio       float64 `json:"deficit_ratio"`
	DeficitPct         float64 `json:"deficit_pct"`
	Source             string  `json:"source"`
}

// EnrollmentDeficit ranks entities by deficit, worst first.
func EnrollmentDeficit(r *Rollup, pop *snapshot.Population) []DeficitRow {
	maxEnrolled := r.MaxEnrolled()
	rows := make([]DeficitRow, 0, len(r.Rows))
	for _, s := range r.Enrolled() {
		ratio, src, expected := Deficit(s, maxEnrolled, pop)
		rows = append(rows, DeficitRow{
			Entity:             EntityOf(s.Key),
			Enrolled:           s.Enrolled,
			ExpectedPopulation: expected,
			DeficitRatio:       Round4(ratio),
			DeficitPct:         Round2(ratio * 100),
			Source:             src,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].DeficitRatio > rows[j].DeficitRatio })
	return rows
}

// AgeImbalanceRow is one row of age-cohort-imbalance.
type AgeImbalanceRow struct {
	Entity
	Age0To5      int64   `json:"age_0_5"`
	Age5To17     int64   `json:"age_5_17"`
	Age18Plus    int64   `json:"age_18_plus"`
	Total        int64   `json:"total"`
	ImbalancePct float64 `json:"imbalance_pct"`
}

// AgeCohortImbalance is |pct(children 0-17) - pct(adults)| per entity.
func AgeCohortImbalance(r *Rollup) []AgeImbalanceRow {
	var rows []AgeImbalanceRow
	for _, s := range r.Enrolled() {
		var imbalance float64
		if s.Enrolled > 0 {
			children := float64(s.Age0To5+s.Age5To17) / float64(s.Enrolled) * 100
			adults := float64(s.Age18Plus) / float64(s.Enrolled) * 100
			imbalance = Round2(Clamp(math.Abs(children-adults), 0, 100))
		}
		rows = append(rows, AgeImbalanceRow{
			Entity:       EntityOf(s.Key),
			Age0To5:      s.Age0To5,
			Age5To17:     s.Age5To17,
			Age18Plus:    s.Age18Plus,
			Total:        s.Enrolled,
			ImbalancePct: imbalance,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ImbalancePct > rows[j].ImbalancePct })
	return rows
}

// StateSummaryRow is one row of rural-urban-disparity. The source data
// carries no rural/urban flag, so the metric compares states.
type StateSummaryRow struct {
	State         string  `json:"state"`
	Districts     int     `json:"districts"`
	TotalEnrolled int64   `json:"total_enrolled"`
	AvgPerPincode float64 `json:"avg_per_pincode"`
}

// StateSummary summarises enrollment per state, largest first.
func StateSummary(states *Rollup) []StateSummaryRow {
	var rows []StateSummaryRow
	for _, s := range states.Enrolled() {
		var avg float64
		if s.EnrolledPincodes > 0 {
			avg = Round2(float64(s.Enrolled) / float64(s.EnrolledPincodes))
		}
		rows = append(rows, StateSummaryRow{
			State:         s.Key.State,
			Districts:     s.Districts,
			TotalEnrolled: s.Enrolled,
			AvgPerPincode: avg,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TotalEnrolled > rows[j].TotalEnrolled })
	return rows
}

// GiniResult is the pincode-gini scalar.
type GiniResult struct {
	Gini     *float64 `json:"gini_coefficient"`
	Pincodes int      `json:"pincodes"`
	Min      int64    `json:"min"`
	Max      int64    `json:"max"`
	Median   int64    `json:"median"`
}

// PincodeGini measures inequality of enrollment across pincodes. The
// coefficient is null when no pincode has enrollments.
func PincodeGini(pincodes *Rollup) GiniResult {
	var values []float64
	for _, s := range pincodes.Enrolled() {
		values = append(values, float64(s.Enrolled))
	}
	if len(values) == 0 {
		return GiniResult{}
	}
	sort.Float64s(values)
	n := float64(len(values))
	var weighted, sum float64
	for i, v := range values {
		weighted += float64(i+1) * v
		sum += v
	}
	median, _ := stats.Median(values)
	res := GiniResult{
		Pincodes: len(values),
		Min:      int64(values[0]),
		Max:      int64(values[len(values)-1]),
		Median:   int64(median),
	}
	g := 0.0
	if sum > 0 {
		g = Clamp(2*weighted/(n*sum)-(n+1)/n, 0, 1)
	}
	res.Gini = floatPtr(Round4(g))
	return res
}

// DesertRow is one pincode of demographic-deserts.
type DesertRow struct {
	Entity
	LastUpdate string `json:"last_update"`
}

// DemographicDeserts lists enrolled pincodes with no demographic update in
// the trailing DesertMonths, ordered by location.
func DemographicDeserts(pincodes *Rollup) []DesertRow {
	var rows []DesertRow
	for _, s := range pincodes.Enrolled() {
		if s.DesertPincodes == 0 {
			continue
		}
		last := "Never"
		if d := DateString(s.LastDemo); d != nil {
			last = *d
		}
		rows = append(rows, DesertRow{Entity: EntityOf(s.Key), LastUpdate: last})
	}
	return rows
}
