package aggregate

import "sort"

// FreshnessRow is one row of biometric-freshness. Entities with no biometric
// updates carry a null average and has_data false instead of zero days.
type FreshnessRow struct {
	Entity
	AvgDaysSinceUpdate *float64 `json:"avg_days_since_update"`
	HasData            bool     `json:"has_data"`
	Oldest             *string  `json:"oldest"`
	Newest             *string  `json:"newest"`
	Records            int64    `json:"records"`
}

// BiometricFreshness reports average days since the latest biometric update,
// stalest first; entities without data sort last.
func BiometricFreshness(r *Rollup) []FreshnessRow {
	rows := make([]FreshnessRow, 0, len(r.Rows))
	for _, s := range r.Rows {
		row := FreshnessRow{
			Entity:  EntityOf(s.Key),
			Oldest:  DateString(s.FirstBio),
			Newest:  DateString(s.LastBio),
			Records: s.BioRecords,
		}
		if days, ok := s.FreshnessDays(); ok {
			row.AvgDaysSinceUpdate = floatPtr(Round2(days))
			row.HasData = true
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].AvgDaysSinceUpdate, rows[j].AvgDaysSinceUpdate
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a > *b
	})
	return rows
}

// StalenessRow is one row of demographic-staleness.
type StalenessRow struct {
	Entity
	TotalPincodes int     `json:"total_pincodes"`
	Stale         int     `json:"stale"`
	StalenessPct  float64 `json:"staleness_pct"`
}

// DemographicStaleness reports the share of enrolled pincodes whose latest
// demographic update is older than StaleMonths (or missing), worst first.
func DemographicStaleness(r *Rollup) []StalenessRow {
	var rows []StalenessRow
	for _, s := range r.Enrolled() {
		rows = append(rows, StalenessRow{
			Entity:        EntityOf(s.Key),
			TotalPincodes: s.EnrolledPincodes,
			Stale:         s.StalePincodes,
			StalenessPct:  s.StalenessPct(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].StalenessPct > rows[j].StalenessPct })
	return rows
}

// DependencyRow is one row of update-dependency-ratio.
type DependencyRow struct {
	Entity
	Enrolled    int64   `json:"enrolled"`
	BioUpdates  int64   `json:"bio_updates"`
	DemoUpdates int64   `json:"demo_updates"`
	Ratio       float64 `json:"ratio"`
}

// UpdateDependency reports total updates per enrollment, highest first.
// Entities with nothing enrolled report exactly 0.
func UpdateDependency(r *Rollup) []DependencyRow {
	rows := make([]DependencyRow, 0, len(r.Rows))
	for _, s := range r.Rows {
		rows = append(rows, DependencyRow{
			Entity:      EntityOf(s.Key),
			Enrolled:    s.Enrolled,
			BioUpdates:  s.BioUpdates,
			DemoUpdates: s.DemoUpdates,
			Ratio:       Round4(s.DependencyRatio()),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Ratio > rows[j].Ratio })
	return rows
}

// TransitionRow is one row of child-adult-transition.
type TransitionRow struct {
	Entity
	Enrolled5To17  int64   `json:"enrolled_5_17"`
	Bio17Plus      int64   `json:"bio_17_plus"`
	TransitionRate float64 `json:"transition_rate"`
}

// ChildAdultTransition compares adult biometric updates against 5-17
// enrollments, highest rate first.
func ChildAdultTransition(r *Rollup) []TransitionRow {
	var rows []TransitionRow
	for _, s := range r.Enrolled() {
		var rate float64
		if s.Age5To17 > 0 {
			rate = Round4(float64(s.Bio17Plus) / float64(s.Age5To17))
		}
		rows = append(rows, TransitionRow{
			Entity:         EntityOf(s.Key),
			Enrolled5To17:  s.Age5To17,
			Bio17Plus:      s.Bio17Plus,
			TransitionRate: rate,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TransitionRate > rows[j].TransitionRate })
	return rows
}

// MultiUpdateRow is one row of multi-update-penalty.
type MultiUpdateRow struct {
	Entity
	Total      int     `json:"total"`
	HighUpdate int     `json:"high_update"`
	PenaltyPct float64 `json:"penalty_pct"`
}

// MultiUpdatePenalty reports the share of enrolled pincodes with at least
// MultiUpdates update records, highest first.
func MultiUpdatePenalty(r *Rollup) []MultiUpdateRow {
	var rows []MultiUpdateRow
	for _, s := range r.Enrolled() {
		rows = append(rows, MultiUpdateRow{
			Entity:     EntityOf(s.Key),
			Total:      s.EnrolledPincodes,
			HighUpdate: s.MultiUpdatePincodes,
			PenaltyPct: s.MultiUpdatePct(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].PenaltyPct > rows[j].PenaltyPct })
	return rows
}
