// Package composite derives the health and exclusion-risk indices. Both are
// computed in one pass over a single rollup so views that join them always
// read consistent values.
package composite

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// Health index component weights.
const (
	WeightVolume    = 0.4
	WeightFreshness = 0.3
	WeightActivity  = 0.3
)

// Exclusion risk component weights.
const (
	WeightDeficit   = 0.4
	WeightStaleness = 0.35
	WeightDesert    = 0.25
)

// HealthRow is one entity of aadhaar-health-index.
type HealthRow struct {
	aggregate.Entity
	Enrolled        int64              `json:"enrolled"`
	AvgDaysSinceBio *float64           `json:"avg_days_since_update"`
	UpdateRatio     float64            `json:"update_ratio"`
	VolumeScore     float64            `json:"volume_score"`
	FreshnessPct    float64            `json:"freshness_pct"`
	UpdatePct       float64            `json:"update_pct"`
	HealthIndex     float64            `json:"health_index"`
	ComponentScores map[string]float64 `json:"component_scores"`
}

// RiskRow is one entity of exclusion-risk-index.
type RiskRow struct {
	aggregate.Entity
	DeficitPct    float64 `json:"deficit_pct"`
	DeficitSource string  `json:"deficit_source"`
	StalenessPct  float64 `json:"staleness_pct"`
	DesertPct     float64 `json:"desert_pct"`
	ExclusionRisk float64 `json:"exclusion_risk"`
}

// Result holds both indices for one rollup. Health and Risk are sorted best
// first and worst first respectively.
type Result struct {
	Level  model.Level `json:"level"`
	Health []HealthRow `json:"health"`
	Risk   []RiskRow   `json:"risk"`
}

// Compute evaluates the health and exclusion-risk indices over every
// enrolled entity of the rollup.
func Compute(r *aggregate.Rollup, pop *snapshot.Population) Result {
	rows := r.Enrolled()
	res := Result{Level: r.Level, Health: make([]HealthRow, 0, len(rows)), Risk: make([]RiskRow, 0, len(rows))}
	if len(rows) == 0 {
		return res
	}

	volume := make([]float64, len(rows))
	activity := make([]float64, len(rows))
	days := make([]float64, 0, len(rows))
	hasBio := make([]bool, len(rows))
	dayOf := make([]float64, len(rows))
	for i, s := range rows {
		volume[i] = float64(s.Enrolled)
		activity[i] = s.DependencyRatio()
		if d, ok := s.FreshnessDays(); ok {
			hasBio[i] = true
			dayOf[i] = d
			days = append(days, d)
		}
	}

	volumeScores := normalize(volume)
	activityScores := normalize(activity)
	freshScores := make([]float64, len(rows))
	if len(days) > 0 {
		lo, hi := floats.Min(days), floats.Max(days)
		for i := range rows {
			if hasBio[i] {
				freshScores[i] = inverse(dayOf[i], lo, hi)
			}
		}
	}

	maxEnrolled := r.MaxEnrolled()
	for i, s := range rows {
		components := map[string]float64{
			"volume":    aggregate.Round2(volumeScores[i]),
			"freshness": aggregate.Round2(freshScores[i]),
			"activity":  aggregate.Round2(activityScores[i]),
		}
		health := WeightVolume*volumeScores[i] + WeightFreshness*freshScores[i] + WeightActivity*activityScores[i]
		row := HealthRow{
			Entity:          aggregate.EntityOf(s.Key),
			Enrolled:        s.Enrolled,
			UpdateRatio:     aggregate.Round4(activity[i]),
			VolumeScore:     components["volume"],
			FreshnessPct:    components["freshness"],
			UpdatePct:       components["activity"],
			HealthIndex:     aggregate.Round2(aggregate.Clamp(health, 0, 100)),
			ComponentScores: components,
		}
		if hasBio[i] {
			d := aggregate.Round2(dayOf[i])
			row.AvgDaysSinceBio = &d
		}
		res.Health = append(res.Health, row)

		deficit, source, _ := aggregate.Deficit(s, maxEnrolled, pop)
		stale := s.StalenessPct()
		desert := s.DesertPct()
		risk := WeightDeficit*deficit*100 + WeightStaleness*stale + WeightDesert*desert
		res.Risk = append(res.Risk, RiskRow{
			Entity:        aggregate.EntityOf(s.Key),
			DeficitPct:    aggregate.Round2(deficit * 100),
			DeficitSource: source,
			StalenessPct:  stale,
			DesertPct:     desert,
			ExclusionRisk: aggregate.Round2(aggregate.Clamp(risk, 0, 100)),
		})
	}

	sort.SliceStable(res.Health, func(i, j int) bool { return res.Health[i].HealthIndex > res.Health[j].HealthIndex })
	sort.SliceStable(res.Risk, func(i, j int) bool { return res.Risk[i].ExclusionRisk > res.Risk[j].ExclusionRisk })
	return res
}

// normalize min-max scales values to [0,100]. A constant series scores 100
// for positive values and 0 otherwise.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := floats.Min(values), floats.Max(values)
	for i, v := range values {
		switch {
		case hi == lo && v > 0:
			out[i] = 100
		case hi == lo:
			out[i] = 0
		default:
			out[i] = (v - lo) / (hi - lo) * 100
		}
	}
	return out
}

// inverse scores v where lower is better: lo maps to 100 and hi to 0.
func inverse(v, lo, hi float64) float64 {
	if hi == lo {
		return 100
	}
	return (hi - v) / (hi - lo) * 100
}
