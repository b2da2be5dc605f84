package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DateRange is an inclusive calendar-day range. Zero bounds are open.
type DateRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

// ParseDateRange parses YYYY-MM-DD bounds; either may be empty.
func ParseDateRange(from, to string) (DateRange, error) {
	var dr DateRange
	if from != "" {
		t, err := time.Parse(DateLayout, from)
		if err != nil {
			return DateRange{}, eris.Wrapf(err, "model: malformed from date %q", from)
		}
		dr.From = t
	}
	if to != "" {
		t, err := time.Parse(DateLayout, to)
		if err != nil {
			return DateRange{}, eris.Wrapf(err, "model: malformed to date %q", to)
		}
		dr.To = t
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.To.Before(dr.From) {
		return DateRange{}, eris.Errorf("model: date range ends (%s) before it starts (%s)", to, from)
	}
	return dr, nil
}

// IsZero reports whether the range is unbounded on both sides.
func (d DateRange) IsZero() bool {
	return d.From.IsZero() && d.To.IsZero()
}

// Contains reports whether t falls inside the range.
func (d DateRange) Contains(t time.Time) bool {
	day := Day(t)
	if !d.From.IsZero() && day.Before(Day(d.From)) {
		return false
	}
	if !d.To.IsZero() && day.After(Day(d.To)) {
		return false
	}
	return true
}

// Filter selects records from the record store.
type Filter struct {
	Level      Level     `json:"level,omitempty"`
	EntityName string    `json:"entity_name,omitempty"`
	Dates      DateRange `json:"date_range"`
}
