package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrollment-insight/internal/db"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// Schema is the Postgres schema holding the record tables.
const Schema = "insight"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

var postgresMigration = fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.enrollment (
	date        DATE NOT NULL,
	state       TEXT NOT NULL,
	district    TEXT NOT NULL,
	pincode     TEXT NOT NULL,
	age_0_5     BIGINT NOT NULL DEFAULT 0 CHECK (age_0_5 >= 0),
	age_5_17    BIGINT NOT NULL DEFAULT 0 CHECK (age_5_17 >= 0),
	age_18_plus BIGINT NOT NULL DEFAULT 0 CHECK (age_18_plus >= 0)
);

CREATE TABLE IF NOT EXISTS %[1]s.updates (
	date        DATE NOT NULL,
	state       TEXT NOT NULL,
	district    TEXT NOT NULL,
	pincode     TEXT NOT NULL,
	update_type TEXT NOT NULL CHECK (update_type IN ('biometric', 'demographic')),
	count       BIGINT NOT NULL DEFAULT 0 CHECK (count >= 0),
	age_5_17    BIGINT NOT NULL DEFAULT 0,
	age_17_plus BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_enrollment_location ON %[1]s.enrollment(state, district, pincode);
CREATE INDEX IF NOT EXISTS idx_enrollment_date ON %[1]s.enrollment(date);
CREATE INDEX IF NOT EXISTS idx_updates_location ON %[1]s.updates(state, district, pincode);
CREATE INDEX IF NOT EXISTS idx_updates_type_date ON %[1]s.updates(update_type, date);
`, Schema)

// Migrate creates the schema and record tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks the pool can reach the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func postgresWhere() *whereBuilder {
	return &whereBuilder{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		dateArg: func(d model.DateRange, from bool) any {
			if from {
				return model.Day(d.From)
			}
			return model.Day(d.To)
		},
	}
}

// QueryEnrollments implements Store.
func (s *PostgresStore) QueryEnrollments(ctx context.Context, f model.Filter) ([]model.EnrollmentRecord, error) {
	w := postgresWhere().filter(f)
	rows, err := s.pool.Query(ctx, selectEnrollments(Schema+".enrollment", w.String()), w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query enrollments")
	}
	defer rows.Close()

	var out []model.EnrollmentRecord
	for rows.Next() {
		var r model.EnrollmentRecord
		if err := rows.Scan(&r.Date, &r.State, &r.District, &r.Pincode, &r.Age0To5, &r.Age5To17, &r.Age18Plus); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrollment row")
		}
		r.Date = model.Day(r.Date)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate enrollment rows")
}

// QueryUpdates implements Store.
func (s *PostgresStore) QueryUpdates(ctx context.Context, f model.Filter, kind model.UpdateType) ([]model.UpdateRecord, error) {
	w := postgresWhere().filter(f)
	if kind != "" {
		w.add("update_type = %s", string(kind))
	}
	rows, err := s.pool.Query(ctx, selectUpdates(Schema+".updates", w.String()), w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query updates")
	}
	defer rows.Close()

	var out []model.UpdateRecord
	for rows.Next() {
		var r model.UpdateRecord
		var typ string
		if err := rows.Scan(&r.Date, &r.State, &r.District, &r.Pincode, &typ, &r.Count, &r.Age5To17, &r.Age17Plus); err != nil {
			return nil, eris.Wrap(err, "postgres: scan update row")
		}
		r.Date = model.Day(r.Date)
		r.Type = model.UpdateType(typ)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate update rows")
}

// TotalsByLevel implements Store.
func (s *PostgresStore) TotalsByLevel(ctx context.Context, level model.Level, dates model.DateRange) ([]GroupTotal, error) {
	w := postgresWhere().dates(dates)
	rows, err := s.pool.Query(ctx, selectTotals(Schema+".enrollment", level, w.String()), w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query totals")
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
			return nil, eris.Wrap(err, "postgres: scan totals row")
		}
		g.Key = totalKey(level, parts)
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate totals rows")
}

// InsertEnrollments bulk-loads enrollment records with COPY.
func (s *PostgresStore) InsertEnrollments(ctx context.Context, recs []model.EnrollmentRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []any{model.Day(r.Date), r.State, r.District, r.Pincode, r.Age0To5, r.Age5To17, r.Age18Plus})
	}
	n, err := db.CopyInto(ctx, s.pool, Schema, "enrollment", enrollmentColumns, rows)
	return n, eris.Wrap(err, "postgres: insert enrollments")
}

// InsertUpdates bulk-loads update records with COPY.
func (s *PostgresStore) InsertUpdates(ctx context.Context, recs []model.UpdateRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []any{model.Day(r.Date), r.State, r.District, r.Pincode, string(r.Type), r.Count, r.Age5To17, r.Age17Plus})
	}
	n, err := db.CopyInto(ctx, s.pool, Schema, "updates", updateColumns, rows)
	return n, eris.Wrap(err, "postgres: insert updates")
}
