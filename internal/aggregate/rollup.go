// Package aggregate computes grouped sums, ratios and averages at state,
// district and pincode granularity. Every function is a pure function of a
// snapshot and its explicit parameters.
package aggregate

import (
	"sort"
	"time"

	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// Activity windows relative to the snapshot's reference time.
const (
	StaleMonths  = 24 // demographic data older than this is stale
	DesertMonths = 12 // no demographic update inside this window makes a desert
	GhostMonths  = 24 // no activity of any kind inside this window makes a ghost town
	MultiUpdates = 3  // update records per pincode that count as "multi-update"
)

// EntityStats holds every per-entity sub-metric, materialised in one pass
// over the snapshot. Update totals are sums of record counts.
type EntityStats struct {
	Key model.EntityKey

	Enrolled          int64
	Age0To5           int64
	Age5To17          int64
	Age18Plus         int64
	EnrollmentRecords int64

	BioUpdates  int64
	DemoUpdates int64
	BioRecords  int64
	DemoRecords int64
	Bio5To17    int64
	Bio17Plus   int64
	LastBio     time.Time
	LastDemo    time.Time
	FirstBio    time.Time

	Pincodes            int // every pincode seen, including orphan-update pincodes
	EnrolledPincodes    int // pincodes with at least one enrollment record
	Districts           int
	FreshPincodes       int     // pincodes with a biometric update
	freshDays           float64 // sum of days-since-latest-bio over FreshPincodes
	StalePincodes       int     // enrolled pincodes whose demographic data is stale
	DesertPincodes      int     // enrolled pincodes with no recent demographic update
	MultiUpdatePincodes int     // enrolled pincodes with >= MultiUpdates update records
	PhantomChildren     int64   // age 0-5 enrollments never followed by a biometric update
}

// TotalUpdates returns biometric plus demographic updates.
func (s *EntityStats) TotalUpdates() int64 { return s.BioUpdates + s.DemoUpdates }

// UpdateRecords returns the number of biometric and demographic update
// records, regardless of their counts.
func (s *EntityStats) UpdateRecords() int64 { return s.BioRecords + s.DemoRecords }

// DependencyRatio is total updates per enrollment; 0 when nothing is enrolled.
func (s *EntityStats) DependencyRatio() float64 {
	if s.Enrolled <= 0 {
		return 0
	}
	return float64(s.TotalUpdates()) / float64(s.Enrolled)
}

// FreshnessDays is the mean over pincodes of days since the latest biometric
// update. ok is false when the entity has no biometric updates at all.
func (s *EntityStats) FreshnessDays() (days float64, ok bool) {
	if s.FreshPincodes == 0 {
		return 0, false
	}
	return s.freshDays / float64(s.FreshPincodes), true
}

// StalenessPct is the share of enrolled pincodes with stale demographic data.
func (s *EntityStats) StalenessPct() float64 {
	return Pct(int64(s.StalePincodes), int64(s.EnrolledPincodes))
}

// DesertPct is the share of enrolled pincodes that are demographic deserts.
func (s *EntityStats) DesertPct() float64 {
	return Pct(int64(s.DesertPincodes), int64(s.EnrolledPincodes))
}

// PhantomPct is phantom children as a share of age 0-5 enrollments.
func (s *EntityStats) PhantomPct() float64 { return Pct(s.PhantomChildren, s.Age0To5) }

// MultiUpdatePct is the share of enrolled pincodes with repeated updates.
func (s *EntityStats) MultiUpdatePct() float64 {
	return Pct(int64(s.MultiUpdatePincodes), int64(s.EnrolledPincodes))
}

// LastActivity is the latest update of either kind; zero when none.
func (s *EntityStats) LastActivity() time.Time {
	if s.LastDemo.After(s.LastBio) {
		return s.LastDemo
	}
	return s.LastBio
}

// Rollup is the set of entity stats for one level of one snapshot.
type Rollup struct {
	Level model.Level
	AsOf  time.Time
	Rows  []*EntityStats // ordered by key
	index map[model.EntityKey]*EntityStats
}

// Get returns the stats for an entity.
func (r *Rollup) Get(k model.EntityKey) (*EntityStats, bool) {
	s, ok := r.index[k]
	return s, ok
}

// Enrolled returns the rows with at least one enrollment record.
func (r *Rollup) Enrolled() []*EntityStats {
	out := make([]*EntityStats, 0, len(r.Rows))
	for _, s := range r.Rows {
		if s.EnrollmentRecords > 0 {
			out = append(out, s)
		}
	}
	return out
}

// MaxEnrolled returns the largest enrollment total in the rollup.
func (r *Rollup) MaxEnrolled() int64 {
	var m int64
	for _, s := range r.Rows {
		if s.Enrolled > m {
			m = s.Enrolled
		}
	}
	return m
}

// pincodeFacts accumulates one pincode. Updates join enrollments on the
// pincode alone; the location of the first record seen names the pincode.
type pincodeFacts struct {
	EntityStats
	hasEnrollment bool
}

func (f *pincodeFacts) addBio(u model.UpdateRecord) {
	f.BioUpdates += u.Count
	f.BioRecords++
	f.Bio5To17 += u.Age5To17
	f.Bio17Plus += u.Age17Plus
	if u.Date.After(f.LastBio) {
		f.LastBio = u.Date
	}
	if f.FirstBio.IsZero() || u.Date.Before(f.FirstBio) {
		f.FirstBio = u.Date
	}
}

func (f *pincodeFacts) addDemo(u model.UpdateRecord) {
	f.DemoUpdates += u.Count
	f.DemoRecords++
	if u.Date.After(f.LastDemo) {
		f.LastDemo = u.Date
	}
}

// pincodeTable builds per-pincode facts for the whole snapshot.
func pincodeTable(s *snapshot.Snapshot) (map[string]*pincodeFacts, []string) {
	facts := make(map[string]*pincodeFacts)
	var order []string
	get := func(state, district, pincode string) *pincodeFacts {
		f, ok := facts[pincode]
		if !ok {
			f = &pincodeFacts{}
			f.Key = model.KeyFor(model.LevelPincode, state, district, pincode)
			facts[pincode] = f
			order = append(order, pincode)
		}
		return f
	}

	for _, r := range s.Enrollments {
		f := get(r.State, r.District, r.Pincode)
		f.hasEnrollment = true
		f.Enrolled += r.Total()
		f.Age0To5 += r.Age0To5
		f.Age5To17 += r.Age5To17
		f.Age18Plus += r.Age18Plus
		f.EnrollmentRecords++
	}
	for _, u := range s.Biometric {
		get(u.State, u.District, u.Pincode).addBio(u)
	}
	for _, u := range s.Demographic {
		get(u.State, u.District, u.Pincode).addDemo(u)
	}

	// Phantom children need the latest biometric date per pincode, so they
	// take a second pass over enrollments.
	for _, r := range s.Enrollments {
		f := facts[r.Pincode]
		if f.LastBio.IsZero() || f.LastBio.Before(r.Date) {
			f.PhantomChildren += r.Age0To5
		}
	}

	staleCutoff := s.AsOf.AddDate(0, -StaleMonths, 0)
	desertCutoff := s.AsOf.AddDate(0, -DesertMonths, 0)
	for _, f := range facts {
		f.Pincodes = 1
		if !f.LastBio.IsZero() {
			f.FreshPincodes = 1
			f.freshDays = float64(max(0, model.DaysBetween(f.LastBio, s.AsOf)))
		}
		if !f.hasEnrollment {
			continue
		}
		f.EnrolledPincodes = 1
		if f.LastDemo.IsZero() || f.LastDemo.Before(staleCutoff) {
			f.StalePincodes = 1
		}
		if f.LastDemo.IsZero() || f.LastDemo.Before(desertCutoff) {
			f.DesertPincodes = 1
		}
		if f.BioRecords+f.DemoRecords >= MultiUpdates {
			f.MultiUpdatePincodes = 1
		}
	}
	return facts, order
}

// Build rolls the snapshot up to the given level.
func Build(s *snapshot.Snapshot, level model.Level) *Rollup {
	facts, order := pincodeTable(s)
	r := &Rollup{Level: level, AsOf: s.AsOf, index: make(map[model.EntityKey]*EntityStats)}

	districtSeen := make(map[model.EntityKey]map[string]struct{})
	for _, pin := range order {
		f := facts[pin]
		k := model.KeyFor(level, f.Key.State, f.Key.District, f.Key.Pincode)
		agg, ok := r.index[k]
		if !ok {
			agg = &EntityStats{Key: k}
			r.index[k] = agg
			r.Rows = append(r.Rows, agg)
		}
		merge(agg, &f.EntityStats)
		if level == model.LevelState {
			if districtSeen[k] == nil {
				districtSeen[k] = make(map[string]struct{})
			}
			districtSeen[k][f.Key.District] = struct{}{}
		}
	}
	for _, agg := range r.Rows {
		switch level {
		case model.LevelState:
			agg.Districts = len(districtSeen[agg.Key])
		default:
			agg.Districts = 1
		}
	}
	sort.Slice(r.Rows, func(i, j int) bool { return r.Rows[i].Key.Less(r.Rows[j].Key) })
	return r
}

func merge(dst, src *EntityStats) {
	dst.Enrolled += src.Enrolled
	dst.Age0To5 += src.Age0To5
	dst.Age5To17 += src.Age5To17
	dst.Age18Plus += src.Age18Plus
	dst.EnrollmentRecords += src.EnrollmentRecords
	dst.BioUpdates += src.BioUpdates
	dst.DemoUpdates += src.DemoUpdates
	dst.BioRecords += src.BioRecords
	dst.DemoRecords += src.DemoRecords
	dst.Bio5To17 += src.Bio5To17
	dst.Bio17Plus += src.Bio17Plus
	if src.LastBio.After(dst.LastBio) {
		dst.LastBio = src.LastBio
	}
	if src.LastDemo.After(dst.LastDemo) {
		dst.LastDemo = src.LastDemo
	}
	if !src.FirstBio.IsZero() && (dst.FirstBio.IsZero() || src.FirstBio.Before(dst.FirstBio)) {
		dst.FirstBio = src.FirstBio
	}
	dst.Pincodes += src.Pincodes
	dst.EnrolledPincodes += src.EnrolledPincodes
	dst.FreshPincodes += src.FreshPincodes
	dst.freshDays += src.freshDays
	dst.StalePincodes += src.StalePincodes
	dst.DesertPincodes += src.DesertPincodes
	dst.MultiUpdatePincodes += src.MultiUpdatePincodes
	dst.PhantomChildren += src.PhantomChildren
}
