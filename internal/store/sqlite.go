package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrollment-insight/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// embedded analytical backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrollment (
	date        TEXT NOT NULL,
	state       TEXT NOT NULL,
	district    TEXT NOT NULL,
	pincode     TEXT NOT NULL,
	age_0_5     INTEGER NOT NULL DEFAULT 0 CHECK (age_0_5 >= 0),
	age_5_17    INTEGER NOT NULL DEFAULT 0 CHECK (age_5_17 >= 0),
	age_18_plus INTEGER NOT NULL DEFAULT 0 CHECK (age_18_plus >= 0)
);

CREATE TABLE IF NOT EXISTS updates (
	date        TEXT NOT NULL,
	state       TEXT NOT NULL,
	district    TEXT NOT NULL,
	pincode     TEXT NOT NULL,
	update_type TEXT NOT NULL CHECK (update_type IN ('biometric', 'demographic')),
	count       INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
	age_5_17    INTEGER NOT NULL DEFAULT 0,
	age_17_plus INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_enrollment_location ON enrollment(state, district, pincode);
CREATE INDEX IF NOT EXISTS idx_enrollment_date ON enrollment(date);
CREATE INDEX IF NOT EXISTS idx_updates_location ON updates(state, district, pincode);
CREATE INDEX IF NOT EXISTS idx_updates_type_date ON updates(update_type, date);
`

// Migrate creates the record tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteWhere() *whereBuilder {
	return &whereBuilder{
		placeholder: func(int) string { return "?" },
		dateArg: func(d model.DateRange, from bool) any {
			if from {
				return d.From.Format(model.DateLayout)
			}
			return d.To.Format(model.DateLayout)
		},
	}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse date %q", s)
	}
	return t, nil
}

// QueryEnrollments implements Store.
func (s *SQLiteStore) QueryEnrollments(ctx context.Context, f model.Filter) ([]model.EnrollmentRecord, error) {
	w := sqliteWhere().filter(f)
	rows, err := s.db.QueryContext(ctx, selectEnrollments("enrollment", w.String()), w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query enrollments")
	}
	defer rows.Close()

	var out []model.EnrollmentRecord
	for rows.Next() {
		var r model.EnrollmentRecord
		var date string
		if err := rows.Scan(&date, &r.State, &r.District, &r.Pincode, &r.Age0To5, &r.Age5To17, &r.Age18Plus); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan enrollment row")
		}
		if r.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate enrollment rows")
}

// QueryUpdates implements Store.
func (s *SQLiteStore) QueryUpdates(ctx context.Context, f model.Filter, kind model.UpdateType) ([]model.UpdateRecord, error) {
	w := sqliteWhere().filter(f)
	if kind != "" {
		w.add("update_type = %s", string(kind))
	}
	rows, err := s.db.QueryContext(ctx, selectUpdates("updates", w.String()), w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query updates")
	}
	defer rows.Close()

	var out []model.UpdateRecord
	for rows.Next() {
		var r model.UpdateRecord
		var date, typ string
		if err := rows.Scan(&date, &r.State, &r.District, &r.Pincode, &typ, &r.Count, &r.Age5To17, &r.Age17Plus); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan update row")
		}
		if r.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		r.Type = model.UpdateType(typ)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate update rows")
}

// TotalsByLevel implements Store.
func (s *SQLiteStore) TotalsByLevel(ctx context.Context, level model.Level, dates model.DateRange) ([]GroupTotal, error) {
	w := sqliteWhere().dates(dates)
	rows, err := s.db.QueryContext(ctx, selectTotals("enrollment", level, w.String()), w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query totals")
	}
	defer rows.Close()

	n := len(groupColumns(level))
	var out []GroupTotal
	for rows.Next() {
		parts := make([]string, n)
		dest := make([]any, 0, n+2)
		for i := range parts {
			dest = append(dest, &parts[i])
		}
		var g GroupTotal
		dest = append(dest, &g.Enrolled, &g.Records)
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan totals row")
		}
		g.Key = totalKey(level, parts)
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate totals rows")
}

// InsertEnrollments implements Store.
func (s *SQLiteStore) InsertEnrollments(ctx context.Context, recs []model.EnrollmentRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin enrollment insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO enrollment (date, state, district, pincode, age_0_5, age_5_17, age_18_plus) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare enrollment insert")
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.Date.Format(model.DateLayout), r.State, r.District, r.Pincode,
			r.Age0To5, r.Age5To17, r.Age18Plus); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert enrollment %s", r.Pincode)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit enrollment insert")
	}
	return int64(len(recs)), nil
}

// InsertUpdates implements Store.
func (s *SQLiteStore) InsertUpdates(ctx context.Context, recs []model.UpdateRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin update insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO updates (date, state, district, pincode, update_type, count, age_5_17, age_17_plus) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare update insert")
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.Date.Format(model.DateLayout), r.State, r.District, r.Pincode,
			string(r.Type), r.Count, r.Age5To17, r.Age17Plus); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert update %s", r.Pincode)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit update insert")
	}
	return int64(len(recs)), nil
}
