package aggregate

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// Moran interpretation thresholds.
const (
	moranPositive = 0.1
	moranNegative = -0.1
	moranMinN     = 5
)

// MoranResult is the moran-i scalar.
type MoranResult struct {
	Value            float64 `json:"value"`
	Interpretation   string  `json:"interpretation"`
	Districts        int     `json:"districts"`
	InsufficientData bool    `json:"insufficient_data,omitempty"`
	Message          string  `json:"message,omitempty"`
}

// MoranI computes Moran's I over district enrollment totals. Districts are
// ordered by (state, district); two districts are neighbours with weight 1
// when they share a state and 0.5 when they are adjacent in that order across
// a state boundary. Weights are row-standardised.
func MoranI(districts *Rollup) MoranResult {
	rows := districts.Enrolled()
	n := len(rows)
	if n < moranMinN {
		return MoranResult{Districts: n, Interpretation: "random", InsufficientData: true, Message: "Insufficient data"}
	}

	x := make([]float64, n)
	for i, s := range rows {
		x[i] = float64(s.Enrolled)
	}
	mean := floats.Sum(x) / float64(n)
	floats.AddConst(-mean, x)

	stateSum := make(map[string]float64)
	stateCount := make(map[string]int)
	for i, s := range rows {
		stateSum[s.Key.State] += x[i]
		stateCount[s.Key.State]++
	}

	var numerator, s0 float64
	for i, s := range rows {
		st := s.Key.State
		rowSum := float64(stateCount[st] - 1)
		lag := stateSum[st] - x[i]
		for _, j := range []int{i - 1, i + 1} {
			if j >= 0 && j < n && rows[j].Key.State != st {
				rowSum += 0.5
				lag += 0.5 * x[j]
			}
		}
		if rowSum == 0 {
			continue
		}
		numerator += x[i] * lag / rowSum
		s0++
	}
	denominator := floats.Dot(x, x)

	var value float64
	if denominator != 0 && s0 != 0 {
		value = float64(n) / s0 * numerator / denominator
	}
	value = Round4(value)
	interp := "random"
	switch {
	case value > moranPositive:
		interp = "positive clustering"
	case value < moranNegative:
		interp = "negative/dispersed"
	}
	return MoranResult{Value: value, Interpretation: interp, Districts: n}
}

// ContiguityRow is one sampled district of contiguity-ratio.
type ContiguityRow struct {
	District     string  `json:"district"`
	State        string  `json:"state"`
	Total        int64   `json:"total"`
	StateAvg     float64 `json:"state_avg"`
	DeviationPct float64 `json:"deviation_pct"`
}

// ContiguityResult is the contiguity-ratio scalar plus a sample.
type ContiguityResult struct {
	TotalDistricts int             `json:"total_districts"`
	Contiguous     int             `json:"contiguous"`
	RatioPct       float64         `json:"ratio_pct"`
	Sample         []ContiguityRow `json:"sample"`
}

const (
	contiguityTolerance = 0.10
	contiguitySample    = 20
)

// ContiguityRatio reports the share of districts whose enrollment total lies
// within 10% of their state's district average. DeviationPct is a signed
// distance from the mean, not a share, so it is not bounded by 100.
func ContiguityRatio(districts *Rollup) ContiguityResult {
	rows := districts.Enrolled()
	sum := make(map[string]float64)
	count := make(map[string]int)
	for _, s := range rows {
		sum[s.Key.State] += float64(s.Enrolled)
		count[s.Key.State]++
	}

	res := ContiguityResult{TotalDistricts: len(rows), Sample: []ContiguityRow{}}
	for _, s := range rows {
		avg := sum[s.Key.State] / float64(count[s.Key.State])
		var dev float64
		if avg > 0 {
			dev = math.Abs(float64(s.Enrolled)-avg) / avg
		}
		if dev <= contiguityTolerance {
			res.Contiguous++
		}
		if len(res.Sample) < contiguitySample {
			res.Sample = append(res.Sample, ContiguityRow{
				District:     s.Key.District,
				State:        s.Key.State,
				Total:        s.Enrolled,
				StateAvg:     Round2(avg),
				DeviationPct: Round2(dev * 100),
			})
		}
	}
	res.RatioPct = Pct(int64(res.Contiguous), int64(res.TotalDistricts))
	return res
}

// DensityRow is one state of enrollment-density-variance.
type DensityRow struct {
	State    string  `json:"state"`
	Pincodes int     `json:"pincodes"`
	Avg      float64 `json:"avg"`
	Stddev   float64 `json:"stddev"`
	Min      int64   `json:"min"`
	Max      int64   `json:"max"`
}

// DensityVariance reports per-state spread of pincode enrollment totals,
// most uneven first. Stddev is the sample deviation; 0 for a single pincode.
func DensityVariance(pincodes *Rollup) []DensityRow {
	byState := make(map[string][]float64)
	var order []string
	for _, s := range pincodes.Enrolled() {
		if _, ok := byState[s.Key.State]; !ok {
			order = append(order, s.Key.State)
		}
		byState[s.Key.State] = append(byState[s.Key.State], float64(s.Enrolled))
	}

	rows := make([]DensityRow, 0, len(order))
	for _, st := range order {
		vals := byState[st]
		mean, _ := stats.Mean(vals)
		lo, _ := stats.Min(vals)
		hi, _ := stats.Max(vals)
		var sd float64
		if len(vals) > 1 {
			sd, _ = stats.StandardDeviationSample(vals)
		}
		rows = append(rows, DensityRow{
			State:    st,
			Pincodes: len(vals),
			Avg:      Round2(mean),
			Stddev:   Round2(sd),
			Min:      int64(lo),
			Max:      int64(hi),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Stddev > rows[j].Stddev })
	return rows
}
