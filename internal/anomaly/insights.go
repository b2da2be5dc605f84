package anomaly

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// MirageRow is one pincode of enrollment-mirage.
type MirageRow struct {
	aggregate.Entity
	Enrolled int64   `json:"enrolled"`
	Updates  int64   `json:"updates"`
	Ratio    float64 `json:"ratio"`
}

// MirageResult lists high-enrollment pincodes with little follow-up
// maintenance.
type MirageResult struct {
	Flags
	EnrolledCutoff float64     `json:"enrolled_cutoff"`
	RatioCutoff    float64     `json:"ratio_cutoff"`
	Data           []MirageRow `json:"data"`
}

// Mirage flags pincodes whose enrollment is at or above the given
// percentile of all pincodes while their update/enrolled ratio is below
// ratioCutoff.
func Mirage(pincodes *aggregate.Rollup, percentile, ratioCutoff float64) (MirageResult, error) {
	if percentile <= 0 || percentile > 100 {
		return MirageResult{}, eris.Wrapf(ErrInvalidParameter, "mirage percentile %v must be in (0, 100]", percentile)
	}
	if ratioCutoff <= 0 {
		return MirageResult{}, eris.Wrapf(ErrInvalidParameter, "mirage ratio cutoff %v must be positive", ratioCutoff)
	}
	res := MirageResult{RatioCutoff: ratioCutoff, Data: []MirageRow{}}
	rows := pincodes.Enrolled()
	if len(rows) == 0 {
		res.Flags = insufficient("no enrolled pincodes")
		return res, nil
	}
	values := make([]float64, len(rows))
	for i, s := range rows {
		values[i] = float64(s.Enrolled)
	}
	cut, err := stats.Percentile(values, percentile)
	if err != nil {
		// Percentiles below the first rank fall back to the smallest value.
		cut, _ = stats.Min(values)
	}
	res.EnrolledCutoff = aggregate.Round2(cut)

	for _, s := range rows {
		if s.Enrolled <= 0 || float64(s.Enrolled) < cut {
			continue
		}
		ratio := float64(s.TotalUpdates()) / float64(s.Enrolled)
		if ratio >= ratioCutoff {
			continue
		}
		res.Data = append(res.Data, MirageRow{
			Entity:   aggregate.EntityOf(s.Key),
			Enrolled: s.Enrolled,
			Updates:  s.TotalUpdates(),
			Ratio:    aggregate.Round4(ratio),
		})
	}
	sort.SliceStable(res.Data, func(i, j int) bool { return res.Data[i].Enrolled > res.Data[j].Enrolled })
	if len(res.Data) > mirageLimit {
		res.Data = res.Data[:mirageLimit]
	}
	return res, nil
}

// PhantomRow is one entity of phantom-children.
type PhantomRow struct {
	aggregate.Entity
	Enrolled   int64   `json:"enrolled"`
	BioUpdated int64   `json:"bio_updated"`
	Phantom    int64   `json:"phantom"`
	Pct        float64 `json:"pct"`
}

// PhantomChildren reports age 0-5 enrollments whose pincode saw no
// biometric update on or after the enrollment date.
func PhantomChildren(r *aggregate.Rollup) []PhantomRow {
	var out []PhantomRow
	for _, s := range r.Enrolled() {
		if s.Age0To5 <= 0 || s.PhantomChildren <= 0 {
			continue
		}
		out = append(out, PhantomRow{
			Entity:     aggregate.EntityOf(s.Key),
			Enrolled:   s.Age0To5,
			BioUpdated: s.Age0To5 - s.PhantomChildren,
			Phantom:    s.PhantomChildren,
			Pct:        s.PhantomPct(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Phantom > out[j].Phantom })
	return out
}

// GhostRow is one pincode of pincode-ghost-towns.
type GhostRow struct {
	aggregate.Entity
	Enrolled     int64   `json:"enrolled"`
	LastBio      *string `json:"last_bio"`
	LastDemo     *string `json:"last_demo"`
	LastActivity string  `json:"last_activity"`
}

// GhostResult lists enrolled pincodes with no update activity in the
// trailing GhostMonths.
type GhostResult struct {
	Count int        `json:"count"`
	Data  []GhostRow `json:"data"`
}

// GhostTowns flags enrolled pincodes whose latest update of either kind is
// older than aggregate.GhostMonths before the rollup's reference time, or
// that have never been updated.
func GhostTowns(pincodes *aggregate.Rollup) GhostResult {
	cutoff := pincodes.AsOf.AddDate(0, -aggregate.GhostMonths, 0)
	res := GhostResult{Data: []GhostRow{}}
	for _, s := range pincodes.Enrolled() {
		if s.Enrolled <= 0 {
			continue
		}
		last := s.LastActivity()
		if !last.IsZero() && !last.Before(cutoff) {
			continue
		}
		activity := "Never"
		if d := aggregate.DateString(last); d != nil {
			activity = *d
		}
		res.Data = append(res.Data, GhostRow{
			Entity:       aggregate.EntityOf(s.Key),
			Enrolled:     s.Enrolled,
			LastBio:      aggregate.DateString(s.LastBio),
			LastDemo:     aggregate.DateString(s.LastDemo),
			LastActivity: activity,
		})
	}
	sort.SliceStable(res.Data, func(i, j int) bool { return res.Data[i].Enrolled > res.Data[j].Enrolled })
	res.Count = len(res.Data)
	if len(res.Data) > ghostLimit {
		res.Data = res.Data[:ghostLimit]
	}
	return res
}

// OrphanRow is one pincode with updates but no enrollments.
type OrphanRow struct {
	aggregate.Entity
	Count int64 `json:"count"`
}

// OrphanResult is orphan-updates.
type OrphanResult struct {
	Biometric   []OrphanRow `json:"biometric_orphans"`
	Demographic []OrphanRow `json:"demographic_orphans"`
}

// OrphanUpdates lists pincodes that received update records without any
// enrollment record, ranked by record count.
func OrphanUpdates(pincodes *aggregate.Rollup) OrphanResult {
	res := OrphanResult{Biometric: []OrphanRow{}, Demographic: []OrphanRow{}}
	for _, s := range pincodes.Rows {
		if s.EnrollmentRecords > 0 {
			continue
		}
		if s.BioRecords > 0 {
			res.Biometric = append(res.Biometric, OrphanRow{Entity: aggregate.EntityOf(s.Key), Count: s.BioRecords})
		}
		if s.DemoRecords > 0 {
			res.Demographic = append(res.Demographic, OrphanRow{Entity: aggregate.EntityOf(s.Key), Count: s.DemoRecords})
		}
	}
	for _, list := range []*[]OrphanRow{&res.Biometric, &res.Demographic} {
		rows := *list
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
		if len(rows) > orphanLimit {
			*list = rows[:orphanLimit]
		}
	}
	return res
}

// TwinRow pairs an entity with its most similar peer.
type TwinRow struct {
	First      aggregate.Entity `json:"first"`
	Second     aggregate.Entity `json:"second"`
	Similarity float64          `json:"sim"`
}

// TwinResult is district-twins.
type TwinResult struct {
	Flags
	Twins []TwinRow `json:"twins"`
}

// DistrictTwins pairs each entity with the peer whose age-cohort mix has the
// highest cosine similarity, keeping pairs above 0.995.
func DistrictTwins(r *aggregate.Rollup) TwinResult {
	res := TwinResult{Twins: []TwinRow{}}
	var keys []model.EntityKey
	var mixes [][]float64
	for _, s := range r.Enrolled() {
		if s.Enrolled <= 0 {
			continue
		}
		total := float64(s.Enrolled)
		keys = append(keys, s.Key)
		mixes = append(mixes, []float64{float64(s.Age0To5) / total, float64(s.Age5To17) / total, float64(s.Age18Plus) / total})
	}
	if len(mixes) < 2 {
		res.Flags = insufficient("need at least two entities with enrollments")
		return res
	}
	norms := make([]float64, len(mixes))
	for i, m := range mixes {
		norms[i] = floats.Norm(m, 2)
	}
	for i := range mixes {
		best, bestSim := -1, math.Inf(-1)
		for j := range mixes {
			if i == j || norms[i] == 0 || norms[j] == 0 {
				continue
			}
			sim := floats.Dot(mixes[i], mixes[j]) / (norms[i] * norms[j])
			if sim > bestSim {
				best, bestSim = j, sim
			}
		}
		if best < 0 || bestSim <= twinCosine {
			continue
		}
		res.Twins = append(res.Twins, TwinRow{
			First:      aggregate.EntityOf(keys[i]),
			Second:     aggregate.EntityOf(keys[best]),
			Similarity: aggregate.Round4(bestSim),
		})
		if len(res.Twins) == twinLimit {
			break
		}
	}
	return res
}
