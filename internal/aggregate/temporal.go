package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// monthKey identifies a calendar month.
type monthKey struct {
	year  int
	month time.Month
}

func (m monthKey) String() string { return fmt.Sprintf("%04d-%02d", m.year, int(m.month)) }

func (m monthKey) before(o monthKey) bool {
	if m.year != o.year {
		return m.year < o.year
	}
	return m.month < o.month
}

func monthOf(t time.Time) monthKey { return monthKey{t.Year(), t.Month()} }

// stateMonthly sums biometric update counts per state and calendar month.
func stateMonthly(bio []model.UpdateRecord) (map[string]map[monthKey]int64, []string) {
	out := make(map[string]map[monthKey]int64)
	for _, u := range bio {
		m, ok := out[u.State]
		if !ok {
			m = make(map[monthKey]int64)
			out[u.State] = m
		}
		m[monthOf(u.Date)] += u.Count
	}
	return out, sortedKeys(out)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MonsoonSpikeRow is one (state, year) row of monsoon-fingerprint-spike.
type MonsoonSpikeRow struct {
	State      string  `json:"state"`
	Year       int     `json:"year"`
	AvgMonthly float64 `json:"avg_monthly"`
	JulAug     int64   `json:"jul_aug"`
	SpikeRatio float64 `json:"spike_ratio"`
	Surge      bool    `json:"seasonal_surge"`
}

// MonsoonSpike is (Jul+Aug biometric updates / 2) over the year's average
// monthly biometric updates, per state and year. Months without updates do
// not count towards the average. Ratios above 1 are a seasonal surge.
func MonsoonSpike(s *snapshot.Snapshot) []MonsoonSpikeRow {
	monthly, states := stateMonthly(s.Biometric)
	var rows []MonsoonSpikeRow
	for _, st := range states {
		type yearAcc struct {
			total  int64
			months int
			julAug int64
		}
		years := make(map[int]*yearAcc)
		for mk, n := range monthly[st] {
			acc, ok := years[mk.year]
			if !ok {
				acc = &yearAcc{}
				years[mk.year] = acc
			}
			acc.total += n
			acc.months++
			if mk.month == time.July || mk.month == time.August {
				acc.julAug += n
			}
		}
		for year, acc := range years {
			avg := float64(acc.total) / float64(acc.months)
			var ratio float64
			if avg > 0 {
				ratio = Round2(float64(acc.julAug) / 2 / avg)
			}
			rows = append(rows, MonsoonSpikeRow{
				State:      st,
				Year:       year,
				AvgMonthly: Round2(avg),
				JulAug:     acc.julAug,
				SpikeRatio: ratio,
				Surge:      ratio > 1,
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SpikeRatio != rows[j].SpikeRatio {
			return rows[i].SpikeRatio > rows[j].SpikeRatio
		}
		if rows[i].State != rows[j].State {
			return rows[i].State < rows[j].State
		}
		return rows[i].Year < rows[j].Year
	})
	return rows
}

// VelocityRow is one month of enrollment-velocity.
type VelocityRow struct {
	State     string   `json:"state"`
	Month     string   `json:"month"`
	Total     int64    `json:"total"`
	Prev      int64    `json:"prev"`
	GrowthPct *float64 `json:"growth_pct"`
}

const velocityLimit = 100

// EnrollmentVelocity reports month-over-month enrollment growth per state,
// newest month first within each state. Growth is a signed change and is
// null when the previous month had no enrollments.
func EnrollmentVelocity(s *snapshot.Snapshot) []VelocityRow {
	monthly := make(map[string]map[monthKey]int64)
	for _, r := range s.Enrollments {
		m, ok := monthly[r.State]
		if !ok {
			m = make(map[monthKey]int64)
			monthly[r.State] = m
		}
		m[monthOf(r.Date)] += r.Total()
	}

	var rows []VelocityRow
	for _, st := range sortedKeys(monthly) {
		months := make([]monthKey, 0, len(monthly[st]))
		for mk := range monthly[st] {
			months = append(months, mk)
		}
		sort.Slice(months, func(i, j int) bool { return months[j].before(months[i]) })
		for i := 0; i+1 < len(months); i++ {
			cur, prev := monthly[st][months[i]], monthly[st][months[i+1]]
			row := VelocityRow{State: st, Month: months[i].String(), Total: cur, Prev: prev}
			if prev > 0 {
				row.GrowthPct = floatPtr(Round2(float64(cur-prev) / float64(prev) * 100))
			}
			rows = append(rows, row)
			if len(rows) == velocityLimit {
				return rows
			}
		}
	}
	return rows
}

// SeasonalityRow is one state of update-seasonality-index.
type SeasonalityRow struct {
	State            string   `json:"state"`
	Max              int64    `json:"max"`
	Min              int64    `json:"min"`
	Avg              float64  `json:"avg"`
	SeasonalityIndex *float64 `json:"seasonality_index"`
}

// UpdateSeasonality is the ratio of the busiest to the quietest calendar
// month of biometric updates per state, pooled across years.
func UpdateSeasonality(s *snapshot.Snapshot) []SeasonalityRow {
	byMonth := make(map[string]map[time.Month]int64)
	for _, u := range s.Biometric {
		m, ok := byMonth[u.State]
		if !ok {
			m = make(map[time.Month]int64)
			byMonth[u.State] = m
		}
		m[u.Date.Month()] += u.Count
	}

	var rows []SeasonalityRow
	for _, st := range sortedKeys(byMonth) {
		row := SeasonalityRow{State: st}
		var sum int64
		first := true
		for _, n := range byMonth[st] {
			sum += n
			if first || n > row.Max {
				row.Max = n
			}
			if first || n < row.Min {
				row.Min = n
			}
			first = false
		}
		row.Avg = Round2(float64(sum) / float64(len(byMonth[st])))
		if row.Min > 0 {
			row.SeasonalityIndex = floatPtr(Round2(float64(row.Max) / float64(row.Min)))
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].SeasonalityIndex, rows[j].SeasonalityIndex
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a > *b
	})
	return rows
}

// WeekendRow is one state of weekend-effect.
type WeekendRow struct {
	State      string   `json:"state"`
	WeekendAvg float64  `json:"weekend_avg"`
	WeekdayAvg float64  `json:"weekday_avg"`
	Diff       float64  `json:"diff"`
	EffectPct  *float64 `json:"effect_pct"`
}

// WeekendEffect compares average enrollments per active weekend day with
// average enrollments per active weekday. States lacking either kind of day
// are omitted.
func WeekendEffect(s *snapshot.Snapshot) []WeekendRow {
	type acc struct {
		total int64
		days  map[time.Time]struct{}
	}
	newAcc := func() *acc { return &acc{days: make(map[time.Time]struct{})} }
	weekend := make(map[string]*acc)
	weekday := make(map[string]*acc)
	for _, r := range s.Enrollments {
		target := weekday
		if wd := r.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			target = weekend
		}
		a, ok := target[r.State]
		if !ok {
			a = newAcc()
			target[r.State] = a
		}
		a.total += r.Total()
		a.days[model.Day(r.Date)] = struct{}{}
	}

	var rows []WeekendRow
	for _, st := range sortedKeys(weekend) {
		we, wd := weekend[st], weekday[st]
		if wd == nil {
			continue
		}
		weAvg := float64(we.total) / float64(len(we.days))
		wdAvg := float64(wd.total) / float64(len(wd.days))
		row := WeekendRow{
			State:      st,
			WeekendAvg: Round2(weAvg),
			WeekdayAvg: Round2(wdAvg),
			Diff:       Round2(weAvg - wdAvg),
		}
		if wdAvg > 0 {
			row.EffectPct = floatPtr(Round2((weAvg - wdAvg) / wdAvg * 100))
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].EffectPct, rows[j].EffectPct
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a > *b
	})
	return rows
}

// CohortAgingRow is one state of cohort-aging-progress.
type CohortAgingRow struct {
	State          string  `json:"state"`
	EnrollPct0To5  float64 `json:"enroll_pct_0_5"`
	EnrollPct5To17 float64 `json:"enroll_pct_5_17"`
	EnrollPct18    float64 `json:"enroll_pct_18"`
	Bio5To17       int64   `json:"bio_5_17"`
	Bio17Plus      int64   `json:"bio_17_plus"`
}

// CohortAging sets each state's enrollment age mix beside its biometric
// update age mix.
func CohortAging(states *Rollup) []CohortAgingRow {
	var rows []CohortAgingRow
	for _, s := range states.Enrolled() {
		if s.Enrolled <= 0 {
			continue
		}
		rows = append(rows, CohortAgingRow{
			State:          s.Key.State,
			EnrollPct0To5:  Pct(s.Age0To5, s.Enrolled),
			EnrollPct5To17: Pct(s.Age5To17, s.Enrolled),
			EnrollPct18:    Pct(s.Age18Plus, s.Enrolled),
			Bio5To17:       s.Bio5To17,
			Bio17Plus:      s.Bio17Plus,
		})
	}
	return rows
}

// Monsoon impact bands.
const (
	monsoonHigh = 1.2
	monsoonLow  = 0.8
)

// MonsoonIndexRow is one state of monsoon-fingerprint-index.
type MonsoonIndexRow struct {
	State      string  `json:"state"`
	Monsoon    int64   `json:"monsoon"`
	NonMonsoon int64   `json:"non_monsoon"`
	Ratio      float64 `json:"ratio"`
	Impact     string  `json:"impact"`
}

// MonsoonIndex compares June-September biometric updates with the rest of
// the year. States without updates in both seasons are omitted.
func MonsoonIndex(s *snapshot.Snapshot) []MonsoonIndexRow {
	monthly, states := stateMonthly(s.Biometric)
	var rows []MonsoonIndexRow
	for _, st := range states {
		var monsoon, rest int64
		for mk, n := range monthly[st] {
			if mk.month >= time.June && mk.month <= time.September {
				monsoon += n
			} else {
				rest += n
			}
		}
		if monsoon == 0 || rest == 0 {
			continue
		}
		ratio := float64(monsoon) / float64(rest)
		impact := "Normal"
		switch {
		case ratio > monsoonHigh:
			impact = "High Impact"
		case ratio < monsoonLow:
			impact = "Low Impact"
		}
		rows = append(rows, MonsoonIndexRow{
			State:      st,
			Monsoon:    monsoon,
			NonMonsoon: rest,
			Ratio:      Round2(ratio),
			Impact:     impact,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Ratio > rows[j].Ratio })
	return rows
}
