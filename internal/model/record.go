package model

import "time"

// UpdateType distinguishes the two kinds of post-enrollment updates.
type UpdateType string

const (
	UpdateBiometric   UpdateType = "biometric"
	UpdateDemographic UpdateType = "demographic"
)

// Valid reports whether t is a known update type.
func (t UpdateType) Valid() bool {
	return t == UpdateBiometric || t == UpdateDemographic
}

// EnrollmentRecord is one batch-loaded row of new enrollments for a pincode
// on a date, split by age cohort. Records are immutable once ingested.
type EnrollmentRecord struct {
	Pincode   string    `json:"pincode"`
	District  string    `json:"district"`
	State     string    `json:"state"`
	Date      time.Time `json:"date"`
	Age0To5   int64     `json:"age_0_5"`
	Age5To17  int64     `json:"age_5_17"`
	Age18Plus int64     `json:"age_18_plus"`
}

// Total returns the enrollment count across all cohorts.
func (r EnrollmentRecord) Total() int64 {
	return r.Age0To5 + r.Age5To17 + r.Age18Plus
}

// UpdateRecord is one batch-loaded row of biometric or demographic updates.
// Count is the total; the cohort fields carry the split when the source
// provides one. Updates are linked to enrollments only by (pincode, date), so
// a pincode may have updates with no enrollment history (an orphan update).
type UpdateRecord struct {
	Pincode   string     `json:"pincode"`
	District  string     `json:"district"`
	State     string     `json:"state"`
	Date      time.Time  `json:"date"`
	Type      UpdateType `json:"update_type"`
	Count     int64      `json:"count"`
	Age5To17  int64      `json:"age_5_17"`
	Age17Plus int64      `json:"age_17_plus"`
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
