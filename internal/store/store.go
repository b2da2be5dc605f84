// Package store is the read-mostly record store holding batch-loaded
// enrollment and update records. Downstream components only read from it.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrollment-insight/internal/model"
)

// GroupTotal is one row of a grouped enrollment aggregation.
type GroupTotal struct {
	Key      model.EntityKey `json:"key"`
	Enrolled int64           `json:"enrolled"`
	Records  int64           `json:"records"`
}

// Store defines the record store contract. Query results are ordered by
// date, state, district, pincode.
type Store interface {
	// QueryEnrollments returns enrollment records matching the filter.
	QueryEnrollments(ctx context.Context, f model.Filter) ([]model.EnrollmentRecord, error)

	// QueryUpdates returns update records matching the filter. An empty
	// update type selects both kinds.
	QueryUpdates(ctx context.Context, f model.Filter, kind model.UpdateType) ([]model.UpdateRecord, error)

	// TotalsByLevel sums enrollments grouped at the given level.
	TotalsByLevel(ctx context.Context, level model.Level, dates model.DateRange) ([]GroupTotal, error)

	// InsertEnrollments appends enrollment records (batch load).
	InsertEnrollments(ctx context.Context, recs []model.EnrollmentRecord) (int64, error)

	// InsertUpdates appends update records (batch load).
	InsertUpdates(ctx context.Context, recs []model.UpdateRecord) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects the store named by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "insight.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		if dsn == "" {
			return nil, eris.New("store: postgres driver requires store.database_url")
		}
		return NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

var enrollmentColumns = []string{"date", "state", "district", "pincode", "age_0_5", "age_5_17", "age_18_plus"}

var updateColumns = []string{"date", "state", "district", "pincode", "update_type", "count", "age_5_17", "age_17_plus"}

// levelColumn returns the column holding the entity name at a level.
func levelColumn(level model.Level) string {
	switch level {
	case model.LevelState:
		return "state"
	case model.LevelDistrict:
		return "district"
	default:
		return "pincode"
	}
}

// groupColumns returns the GROUP BY columns for a level.
func groupColumns(level model.Level) []string {
	switch level {
	case model.LevelState:
		return []string{"state"}
	case model.LevelDistrict:
		return []string{"state", "district"}
	default:
		return []string{"state", "district", "pincode"}
	}
}

// whereBuilder accumulates predicates with driver-specific placeholders.
type whereBuilder struct {
	placeholder func(n int) string
	dateArg     func(d model.DateRange, from bool) any
	clauses     []string
	args        []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, w.placeholder(len(w.args))))
}

func (w *whereBuilder) filter(f model.Filter) *whereBuilder {
	if f.EntityName != "" {
		level := f.Level
		if level == "" {
			level = model.LevelState
		}
		w.add("LOWER("+levelColumn(level)+") = LOWER(%s)", f.EntityName)
	}
	w.dates(f.Dates)
	return w
}

func (w *whereBuilder) dates(d model.DateRange) *whereBuilder {
	if !d.From.IsZero() {
		w.add("date >= %s", w.dateArg(d, true))
	}
	if !d.To.IsZero() {
		w.add("date <= %s", w.dateArg(d, false))
	}
	return w
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

const orderByLocation = " ORDER BY date, state, district, pincode"

func selectEnrollments(table, where string) string {
	return "SELECT " + strings.Join(enrollmentColumns, ", ") + " FROM " + table + where + orderByLocation
}

func selectUpdates(table, where string) string {
	return "SELECT " + strings.Join(updateColumns, ", ") + " FROM " + table + where + orderByLocation
}

func selectTotals(table string, level model.Level, where string) string {
	cols := strings.Join(groupColumns(level), ", ")
	return "SELECT " + cols + ", CAST(SUM(age_0_5 + age_5_17 + age_18_plus) AS BIGINT) AS enrolled, COUNT(*) AS records" +
		" FROM " + table + where + " GROUP BY " + cols + " ORDER BY enrolled DESC, " + cols
}

// totalKey builds the entity key from scanned group columns.
func totalKey(level model.Level, parts []string) model.EntityKey {
	var state, district, pincode string
	if len(parts) > 0 {
		state = parts[0]
	}
	if len(parts) > 1 {
		district = parts[1]
	}
	if len(parts) > 2 {
		pincode = parts[2]
	}
	return model.KeyFor(level, state, district, pincode)
}
