package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrollment-insight/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func seedSQLite(t *testing.T, st *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	n, err := st.InsertEnrollments(ctx, []model.EnrollmentRecord{
		{Date: day("2025-03-02"), State: "Odisha", District: "Khordha", Pincode: "751002", Age0To5: 4, Age5To17: 2, Age18Plus: 1},
		{Date: day("2025-03-01"), State: "Odisha", District: "Khordha", Pincode: "751001", Age0To5: 10, Age5To17: 5, Age18Plus: 3},
		{Date: day("2025-03-01"), State: "Kerala", District: "Ernakulam", Pincode: "682001", Age0To5: 1, Age5To17: 1, Age18Plus: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = st.InsertUpdates(ctx, []model.UpdateRecord{
		{Date: day("2025-03-05"), State: "Odisha", District: "Khordha", Pincode: "751001", Type: model.UpdateBiometric, Count: 7, Age5To17: 2, Age17Plus: 5},
		{Date: day("2025-03-04"), State: "Odisha", District: "Khordha", Pincode: "751001", Type: model.UpdateDemographic, Count: 3, Age5To17: 1, Age17Plus: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLite_QueryEnrollments_Ordered(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedSQLite(t, st)

	recs, err := st.QueryEnrollments(context.Background(), model.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "Kerala", recs[0].State)
	assert.Equal(t, "751001", recs[1].Pincode)
	assert.Equal(t, "751002", recs[2].Pincode)
	assert.Equal(t, int64(18), recs[1].Total())
	assert.True(t, recs[2].Date.Equal(day("2025-03-02")))
}

func TestSQLite_QueryEnrollments_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedSQLite(t, st)
	ctx := context.Background()

	recs, err := st.QueryEnrollments(ctx, model.Filter{Level: model.LevelState, EntityName: "odisha"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	dr, err := model.ParseDateRange("2025-03-02", "2025-03-31")
	require.NoError(t, err)
	recs, err = st.QueryEnrollments(ctx, model.Filter{Dates: dr})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "751002", recs[0].Pincode)
}

func TestSQLite_QueryEnrollments_NoMatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedSQLite(t, st)

	recs, err := st.QueryEnrollments(context.Background(), model.Filter{Level: model.LevelPincode, EntityName: "000000"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLite_QueryUpdates_ByType(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedSQLite(t, st)
	ctx := context.Background()

	all, err := st.QueryUpdates(ctx, model.Filter{}, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.UpdateDemographic, all[0].Type)

	bio, err := st.QueryUpdates(ctx, model.Filter{}, model.UpdateBiometric)
	require.NoError(t, err)
	require.Len(t, bio, 1)
	assert.Equal(t, int64(7), bio[0].Count)
	assert.Equal(t, int64(5), bio[0].Age17Plus)
}

func TestSQLite_TotalsByLevel(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedSQLite(t, st)
	ctx := context.Background()

	totals, err := st.TotalsByLevel(ctx, model.LevelState, model.DateRange{})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "Odisha", totals[0].Key.State)
	assert.Equal(t, int64(25), totals[0].Enrolled)
	assert.Equal(t, int64(2), totals[0].Records)

	totals, err = st.TotalsByLevel(ctx, model.LevelPincode, model.DateRange{})
	require.NoError(t, err)
	require.Len(t, totals, 3)
	assert.Equal(t, model.EntityKey{Level: model.LevelPincode, State: "Odisha", District: "Khordha", Pincode: "751001"}, totals[0].Key)
}

func TestSQLite_InsertEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.InsertEnrollments(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_PostgresRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}
