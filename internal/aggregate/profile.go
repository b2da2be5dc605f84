package aggregate

import (
	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// Profile is the joined per-entity view: every sub-metric of one entity
// read from a single rollup.
type Profile struct {
	Entity
	Level              model.Level `json:"level"`
	Enrolled           int64       `json:"enrolled"`
	Age0To5            int64       `json:"age_0_5"`
	Age5To17           int64       `json:"age_5_17"`
	Age18Plus          int64       `json:"age_18_plus"`
	BioUpdates         int64       `json:"bio_updates"`
	DemoUpdates        int64       `json:"demo_updates"`
	Districts          int         `json:"districts,omitempty"`
	Pincodes           int         `json:"pincodes"`
	DeficitPct         float64     `json:"deficit_pct"`
	DeficitSource      string      `json:"deficit_source"`
	AvgDaysSinceBio    *float64    `json:"avg_days_since_update"`
	HasBiometricData   bool        `json:"has_biometric_data"`
	StalenessPct       float64     `json:"staleness_pct"`
	DesertPct          float64     `json:"desert_pct"`
	DependencyRatio    float64     `json:"dependency_ratio"`
	PhantomChildrenPct float64     `json:"phantom_children_pct"`
	MultiUpdatePct     float64     `json:"multi_update_pct"`
	LastBio            *string     `json:"last_bio"`
	LastDemo           *string     `json:"last_demo"`
}

// BuildProfile materialises the profile of one entity. ok is false when the
// entity has no records in the rollup.
func BuildProfile(r *Rollup, k model.EntityKey, pop *snapshot.Population) (Profile, bool) {
	s, ok := r.Get(k)
	if !ok {
		return Profile{}, false
	}
	deficit, source, _ := Deficit(s, r.MaxEnrolled(), pop)
	p := Profile{
		Entity:             EntityOf(k),
		Level:              k.Level,
		Enrolled:           s.Enrolled,
		Age0To5:            s.Age0To5,
		Age5To17:           s.Age5To17,
		Age18Plus:          s.Age18Plus,
		BioUpdates:         s.BioUpdates,
		DemoUpdates:        s.DemoUpdates,
		Pincodes:           s.Pincodes,
		DeficitPct:         Round2(deficit * 100),
		DeficitSource:      source,
		StalenessPct:       s.StalenessPct(),
		DesertPct:          s.DesertPct(),
		DependencyRatio:    Round4(s.DependencyRatio()),
		PhantomChildrenPct: s.PhantomPct(),
		MultiUpdatePct:     s.MultiUpdatePct(),
		LastBio:            DateString(s.LastBio),
		LastDemo:           DateString(s.LastDemo),
	}
	if k.Level == model.LevelState {
		p.Districts = s.Districts
	}
	if days, ok := s.FreshnessDays(); ok {
		p.AvgDaysSinceBio = floatPtr(Round2(days))
		p.HasBiometricData = true
	}
	return p, true
}
