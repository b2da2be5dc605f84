// Package anomaly flags unusual entities and days in a snapshot. Every
// detector is a stateless pass: nothing is carried between calls.
package anomaly

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// ErrInvalidParameter marks a detector parameter outside its valid range.
var ErrInvalidParameter = eris.New("anomaly: invalid parameter")

// Defaults for detector parameters.
const (
	DefaultZScoreThreshold = 2.0
	DefaultMirageRatio     = 0.05
	DefaultMiragePct       = 90.0
	DefaultContamination   = 0.01
	DefaultSeed            = 42

	zscoreLimit   = 100
	mismatchLimit = 100
	ghostLimit    = 100
	orphanLimit   = 50
	mirageLimit   = 50
	twinLimit     = 20
	fraudLimit    = 20

	bulkSigma     = 3.0
	twinCosine    = 0.995
	skewSmoothing = 0.001
)

// Flags are carried by results that can be legitimately empty because the
// input is too sparse.
type Flags struct {
	InsufficientData bool   `json:"insufficient_data,omitempty"`
	Message          string `json:"message,omitempty"`
}

func insufficient(msg string) Flags { return Flags{InsufficientData: true, Message: msg} }

// ZScoreRow is one pincode of enrollment-zscore.
type ZScoreRow struct {
	aggregate.Entity
	Total   int64   `json:"total"`
	Avg     float64 `json:"avg"`
	Std     float64 `json:"std"`
	ZScore  float64 `json:"zscore"`
	Outlier bool    `json:"outlier"`
}

// ZScoreResult lists the pincodes furthest from their group mean.
type ZScoreResult struct {
	Flags
	Threshold float64     `json:"threshold"`
	GroupBy   model.Level `json:"group_by"`
	Count     int         `json:"count"`
	Data      []ZScoreRow `json:"data"`
}

// ZScore compares each pincode's enrollment total with the mean and
// population standard deviation of its group (district or state). Pincodes
// with |z| >= threshold are outliers. Groups with one member or no spread
// score zero.
func ZScore(pincodes *aggregate.Rollup, group model.Level, threshold float64) (ZScoreResult, error) {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return ZScoreResult{}, eris.Wrapf(ErrInvalidParameter, "threshold %v must be a positive number", threshold)
	}
	if group != model.LevelDistrict && group != model.LevelState {
		return ZScoreResult{}, eris.Wrapf(ErrInvalidParameter, "cannot group z-scores by %q", group)
	}

	groups := make(map[model.EntityKey][]*aggregate.EntityStats)
	for _, s := range pincodes.Enrolled() {
		k := model.KeyFor(group, s.Key.State, s.Key.District, s.Key.Pincode)
		groups[k] = append(groups[k], s)
	}

	res := ZScoreResult{Threshold: threshold, GroupBy: group, Data: []ZScoreRow{}}
	spread := false
	for _, members := range groups {
		values := make(stats.Float64Data, len(members))
		for i, s := range members {
			values[i] = float64(s.Enrolled)
		}
		mean, _ := stats.Mean(values)
		std, _ := stats.StandardDeviationPopulation(values)
		if len(members) > 1 {
			spread = true
		}
		for i, s := range members {
			var z float64
			if std > 0 {
				z = (values[i] - mean) / std
			}
			outlier := std > 0 && math.Abs(z) >= threshold
			if outlier {
				res.Count++
			}
			res.Data = append(res.Data, ZScoreRow{
				Entity:  aggregate.EntityOf(s.Key),
				Total:   s.Enrolled,
				Avg:     aggregate.Round2(mean),
				Std:     aggregate.Round2(std),
				ZScore:  aggregate.Round2(z),
				Outlier: outlier,
			})
		}
	}
	if !spread {
		res.Flags = insufficient("no group has more than one pincode")
	}
	sort.SliceStable(res.Data, func(i, j int) bool {
		a, b := math.Abs(res.Data[i].ZScore), math.Abs(res.Data[j].ZScore)
		if a != b {
			return a > b
		}
		return res.Data[i].Pincode < res.Data[j].Pincode
	})
	if len(res.Data) > zscoreLimit {
		res.Data = res.Data[:zscoreLimit]
	}
	return res, nil
}

// BulkDay is one day of bulk-enrollment-days.
type BulkDay struct {
	Date  string  `json:"date"`
	Total int64   `json:"total"`
	Avg   float64 `json:"avg"`
	Sigma float64 `json:"sigma"`
}

// BulkResult lists days far above the daily enrollment mean.
type BulkResult struct {
	Flags
	Count int       `json:"count"`
	Mean  float64   `json:"mean"`
	Std   float64   `json:"std"`
	Data  []BulkDay `json:"data"`
}

// BulkDays flags calendar days whose total enrollment exceeds the mean plus
// three sample standard deviations over the whole daily series.
func BulkDays(daily []aggregate.DailyPoint) BulkResult {
	res := BulkResult{Data: []BulkDay{}}
	if len(daily) < 2 {
		res.Flags = insufficient("need at least two days of enrollments")
		return res
	}
	values := make(stats.Float64Data, len(daily))
	for i, p := range daily {
		values[i] = p.Value
	}
	mean, _ := stats.Mean(values)
	std, _ := stats.StandardDeviationSample(values)
	res.Mean, res.Std = aggregate.Round2(mean), aggregate.Round2(std)
	if std == 0 {
		return res
	}
	cut := mean + bulkSigma*std
	for _, p := range daily {
		if p.Value <= cut {
			continue
		}
		res.Data = append(res.Data, BulkDay{
			Date:  p.Date.Format(model.DateLayout),
			Total: int64(p.Value),
			Avg:   aggregate.Round2(mean),
			Sigma: aggregate.Round2((p.Value - mean) / std),
		})
	}
	sort.SliceStable(res.Data, func(i, j int) bool { return res.Data[i].Total > res.Data[j].Total })
	res.Count = len(res.Data)
	return res
}

// MismatchRow is one pincode of population-mismatch.
type MismatchRow struct {
	aggregate.Entity
	Enrolled     int64    `json:"enrolled"`
	Deviation    float64  `json:"deviation"`
	DeviationPct *float64 `json:"deviation_pct"`
}

// PopulationMismatch ranks pincodes by absolute distance from the mean
// pincode enrollment. DeviationPct is signed and relative to the mean.
func PopulationMismatch(pincodes *aggregate.Rollup) []MismatchRow {
	rows := pincodes.Enrolled()
	out := make([]MismatchRow, 0, len(rows))
	if len(rows) == 0 {
		return out
	}
	values := make(stats.Float64Data, len(rows))
	for i, s := range rows {
		values[i] = float64(s.Enrolled)
	}
	mean, _ := stats.Mean(values)
	for i, s := range rows {
		row := MismatchRow{
			Entity:    aggregate.EntityOf(s.Key),
			Enrolled:  s.Enrolled,
			Deviation: aggregate.Round2(math.Abs(values[i] - mean)),
		}
		if mean > 0 {
			row.DeviationPct = ptr(aggregate.Round2((values[i] - mean) / mean * 100))
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Deviation > out[j].Deviation })
	if len(out) > mismatchLimit {
		out = out[:mismatchLimit]
	}
	return out
}

// SkewRow is one entity of age-distribution-skew.
type SkewRow struct {
	aggregate.Entity
	Pct0To5  float64 `json:"pct_0_5"`
	Pct5To17 float64 `json:"pct_5_17"`
	Pct18    float64 `json:"pct_18"`
	Skew     float64 `json:"skew"`
}

// AgeSkew scores how far each entity's enrollment leans towards adults
// (positive) or infants (negative), relative to the spread of its cohort
// shares.
func AgeSkew(r *aggregate.Rollup) []SkewRow {
	var out []SkewRow
	for _, s := range r.Enrolled() {
		if s.Enrolled <= 0 {
			continue
		}
		total := float64(s.Enrolled)
		shares := []float64{float64(s.Age0To5) / total, float64(s.Age5To17) / total, float64(s.Age18Plus) / total}
		hi, _ := stats.Max(shares)
		lo, _ := stats.Min(shares)
		skew := (shares[2] - shares[0]) / (hi - lo + skewSmoothing)
		out = append(out, SkewRow{
			Entity:   aggregate.EntityOf(s.Key),
			Pct0To5:  aggregate.Round2(shares[0] * 100),
			Pct5To17: aggregate.Round2(shares[1] * 100),
			Pct18:    aggregate.Round2(shares[2] * 100),
			Skew:     math.Round(skew*1000) / 1000,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return math.Abs(out[i].Skew) > math.Abs(out[j].Skew) })
	return out
}

func ptr[T any](v T) *T { return &v }
