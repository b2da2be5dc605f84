package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrollment-insight/internal/geo"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// Kind names one of the three batch exports.
type Kind string

const (
	KindEnrollment  Kind = "enrollment"
	KindBiometric   Kind = "biometric"
	KindDemographic Kind = "demographic"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindEnrollment, KindBiometric, KindDemographic:
		return k, nil
	}
	return "", eris.Errorf("ingest: unknown kind %q (want enrollment, biometric or demographic)", s)
}

// Column names in the export files. Update exports prefix the cohort columns
// with "bio_" or "demo_".
var (
	locationColumns   = []string{"date", "state", "district", "pincode"}
	enrollmentCohorts = []string{"age_0_5", "age_5_17", "age_18_greater"}
)

func cohortColumns(k Kind) []string {
	switch k {
	case KindBiometric:
		return []string{"bio_age_5_17", "bio_age_17_"}
	case KindDemographic:
		return []string{"demo_age_5_17", "demo_age_17_"}
	default:
		return enrollmentCohorts
	}
}

// exportDateLayouts are tried in order; the exports use day-first dates.
var exportDateLayouts = []string{"02-01-2006", "2-1-2006", "02/01/2006", model.DateLayout}

func parseExportDate(s string) (time.Time, error) {
	for _, layout := range exportDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("ingest: malformed date %q", s)
}

func parseCount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	// Some exports write counts as floats ("12.0").
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
			return 0, eris.Errorf("ingest: malformed count %q", s)
		}
		if f < 0 {
			return 0, eris.Errorf("ingest: negative count %q", s)
		}
		return int64(f), nil
	}
	return 0, eris.Errorf("ingest: malformed count %q", s)
}

// columnIndex maps the required columns to their header positions.
type columnIndex map[string]int

func newColumnIndex(k Kind, header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	idx := make(columnIndex)
	for _, col := range append(append([]string{}, locationColumns...), cohortColumns(k)...) {
		i, ok := pos[col]
		if !ok {
			return nil, eris.Errorf("ingest: %s export missing column %q", k, col)
		}
		idx[col] = i
	}
	return idx, nil
}

func (c columnIndex) get(row []string, col string) string {
	i := c[col]
	if i >= len(row) {
		return ""
	}
	return row[i]
}

type location struct {
	date     time.Time
	state    string
	district string
	pincode  string
}

func (c columnIndex) location(row []string) (location, error) {
	d, err := parseExportDate(c.get(row, "date"))
	if err != nil {
		return location{}, err
	}
	loc := location{
		date:     d,
		state:    geo.CanonicalState(c.get(row, "state")),
		district: geo.CleanName(c.get(row, "district")),
		pincode:  strings.TrimSpace(c.get(row, "pincode")),
	}
	if loc.state == "" || loc.district == "" || loc.pincode == "" {
		return location{}, eris.New("ingest: row missing state, district or pincode")
	}
	return loc, nil
}

func (c columnIndex) counts(row []string, cols []string) ([]int64, error) {
	out := make([]int64, len(cols))
	for i, col := range cols {
		n, err := parseCount(c.get(row, col))
		if err != nil {
			return nil, eris.Wrapf(err, "column %s", col)
		}
		out[i] = n
	}
	return out, nil
}

func (c columnIndex) enrollment(row []string) (model.EnrollmentRecord, error) {
	loc, err := c.location(row)
	if err != nil {
		return model.EnrollmentRecord{}, err
	}
	n, err := c.counts(row, enrollmentCohorts)
	if err != nil {
		return model.EnrollmentRecord{}, err
	}
	return model.EnrollmentRecord{
		Pincode: loc.pincode, District: loc.district, State: loc.state, Date: loc.date,
		Age0To5: n[0], Age5To17: n[1], Age18Plus: n[2],
	}, nil
}

func (c columnIndex) update(k Kind, row []string) (model.UpdateRecord, error) {
	loc, err := c.location(row)
	if err != nil {
		return model.UpdateRecord{}, err
	}
	n, err := c.counts(row, cohortColumns(k))
	if err != nil {
		return model.UpdateRecord{}, err
	}
	typ := model.UpdateBiometric
	if k == KindDemographic {
		typ = model.UpdateDemographic
	}
	return model.UpdateRecord{
		Pincode: loc.pincode, District: loc.district, State: loc.state, Date: loc.date,
		Type: typ, Count: n[0] + n[1], Age5To17: n[0], Age17Plus: n[1],
	}, nil
}
