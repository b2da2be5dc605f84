// Package snapshot holds immutable, generation-numbered views of the record
// store. Every metric is computed from exactly one snapshot.
package snapshot

import (
	"slices"
	"strings"
	"time"

	"github.com/sells-group/enrollment-insight/internal/geo"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// Snapshot is a read-only copy of the record store taken at one point in
// time. Nothing mutates a snapshot after Build returns it, so it may be shared
// freely between goroutines.
type Snapshot struct {
	Generation  uint64
	AsOf        time.Time // reference time for "trailing N months" metrics
	LoadedAt    time.Time
	Enrollments []model.EnrollmentRecord
	Biometric   []model.UpdateRecord
	Demographic []model.UpdateRecord
	Index       *geo.Index
	Population  *Population
	Dates       model.DateRange // non-zero for a date-filtered view
}

// New assembles a snapshot from already-loaded records and indexes every
// location they mention. State aliases and district spellings that differ
// only in case or spacing are rewritten to one canonical name, so every
// variant resolves to the same entity. The input slices are not modified.
func New(gen uint64, asOf time.Time, enr []model.EnrollmentRecord, bio, demo []model.UpdateRecord, pop *Population) *Snapshot {
	idx := geo.NewIndex()
	names := geo.NewNames()
	enr = slices.Clone(enr)
	for i := range enr {
		r := &enr[i]
		r.State, r.District = names.Location(r.State, r.District)
		r.Pincode = strings.TrimSpace(r.Pincode)
		idx.Add(r.State, r.District, r.Pincode)
	}
	bio = canonicalUpdates(bio, names, idx)
	demo = canonicalUpdates(demo, names, idx)
	if pop == nil {
		pop = &Population{}
	}
	return &Snapshot{
		Generation:  gen,
		AsOf:        model.Day(asOf),
		LoadedAt:    time.Now().UTC(),
		Enrollments: enr,
		Biometric:   bio,
		Demographic: demo,
		Index:       idx,
		Population:  pop,
	}
}

func canonicalUpdates(recs []model.UpdateRecord, names *geo.Names, idx *geo.Index) []model.UpdateRecord {
	recs = slices.Clone(recs)
	for i := range recs {
		r := &recs[i]
		r.State, r.District = names.Location(r.State, r.District)
		r.Pincode = strings.TrimSpace(r.Pincode)
		idx.Add(r.State, r.District, r.Pincode)
	}
	return recs
}

// Updates returns the update records of the given type.
func (s *Snapshot) Updates(t model.UpdateType) []model.UpdateRecord {
	if t == model.UpdateDemographic {
		return s.Demographic
	}
	return s.Biometric
}

// Counts reports record totals.
func (s *Snapshot) Counts() (enrollments, biometric, demographic int) {
	return len(s.Enrollments), len(s.Biometric), len(s.Demographic)
}

// Filter returns a view restricted to the date range. The view shares the
// generation, reference time and entity index of its parent, so entity names
// resolve identically whatever range is requested.
func (s *Snapshot) Filter(dr model.DateRange) *Snapshot {
	if dr.IsZero() {
		return s
	}
	view := *s
	view.Dates = dr
	view.Enrollments = filterRecords(s.Enrollments, dr, func(r model.EnrollmentRecord) time.Time { return r.Date })
	view.Biometric = filterRecords(s.Biometric, dr, func(r model.UpdateRecord) time.Time { return r.Date })
	view.Demographic = filterRecords(s.Demographic, dr, func(r model.UpdateRecord) time.Time { return r.Date })
	return &view
}

func filterRecords[T any](recs []T, dr model.DateRange, date func(T) time.Time) []T {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		if dr.Contains(date(r)) {
			out = append(out, r)
		}
	}
	return out
}
