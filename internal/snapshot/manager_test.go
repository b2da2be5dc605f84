package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrollment-insight/internal/model"
)

type fakeSource struct {
	mu   sync.Mutex
	enr  []model.EnrollmentRecord
	upd  []model.UpdateRecord
	err  error
	hits int
}

func (f *fakeSource) QueryEnrollments(_ context.Context, _ model.Filter) ([]model.EnrollmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	return f.enr, nil
}

func (f *fakeSource) QueryUpdates(_ context.Context, _ model.Filter, kind model.UpdateType) ([]model.UpdateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UpdateRecord
	for _, u := range f.upd {
		if u.Type == kind {
			out = append(out, u)
		}
	}
	return out, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testSource() *fakeSource {
	return &fakeSource{
		enr: []model.EnrollmentRecord{
			{State: "Odisha", District: "Khordha", Pincode: "751001", Date: date(2025, 1, 10), Age0To5: 5},
			{State: "Kerala", District: "Ernakulam", Pincode: "682001", Date: date(2025, 3, 10), Age18Plus: 2},
		},
		upd: []model.UpdateRecord{
			{State: "Odisha", District: "Khordha", Pincode: "751001", Date: date(2025, 2, 1), Type: model.UpdateBiometric, Count: 3},
			{State: "Odisha", District: "Khordha", Pincode: "751003", Date: date(2025, 2, 2), Type: model.UpdateDemographic, Count: 1},
		},
	}
}

func TestManager_CurrentBeforeRefresh(t *testing.T) {
	m := NewManager(testSource(), Options{})
	_, err := m.Current()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestManager_RefreshBumpsGeneration(t *testing.T) {
	asOf := date(2025, 6, 1)
	m := NewManager(testSource(), Options{AsOf: asOf})

	s1, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s1.Generation)
	assert.Equal(t, asOf, s1.AsOf)

	enr, bio, demo := s1.Counts()
	assert.Equal(t, 2, enr)
	assert.Equal(t, 1, bio)
	assert.Equal(t, 1, demo)

	// Orphan-update pincodes are still indexed.
	_, err = s1.Index.Pincode("751003")
	assert.NoError(t, err)

	s2, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s2.Generation)

	cur, err := m.Current()
	require.NoError(t, err)
	assert.Same(t, s2, cur)
	// A reader holding the old generation still sees it unchanged.
	assert.Equal(t, uint64(1), s1.Generation)
}

func TestManager_AsOfDefaultsToLoadTime(t *testing.T) {
	now := time.Date(2025, 7, 4, 15, 30, 0, 0, time.UTC)
	m := NewManager(testSource(), Options{Now: func() time.Time { return now }})
	s, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, date(2025, 7, 4), s.AsOf)
}

func TestManager_FailedRefreshKeepsPrevious(t *testing.T) {
	src := testSource()
	m := NewManager(src, Options{})
	first, err := m.Refresh(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	_, err = m.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot: load enrollments")

	cur, err := m.Current()
	require.NoError(t, err)
	assert.Same(t, first, cur)
}

func TestManager_OnRefresh(t *testing.T) {
	src := testSource()
	var seen []uint64
	m := NewManager(src, Options{OnRefresh: func(s *Snapshot) { seen = append(seen, s.Generation) }})

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("timeout")
	src.mu.Unlock()
	_, err = m.Refresh(context.Background())
	require.Error(t, err)

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	_, err = m.Refresh(context.Background())
	require.NoError(t, err)

	// Failed refreshes do not consume a generation or fire the hook.
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	src := testSource()
	m := NewManager(src, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := m.Current()
		return err == nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSnapshot_Filter(t *testing.T) {
	m := NewManager(testSource(), Options{AsOf: date(2025, 6, 1)})
	s, err := m.Refresh(context.Background())
	require.NoError(t, err)

	assert.Same(t, s, s.Filter(model.DateRange{}))

	view := s.Filter(model.DateRange{From: date(2025, 2, 1), To: date(2025, 3, 31)})
	assert.Len(t, view.Enrollments, 1)
	assert.Equal(t, "Kerala", view.Enrollments[0].State)
	assert.Len(t, view.Biometric, 1)
	assert.Equal(t, s.Generation, view.Generation)
	assert.Same(t, s.Index, view.Index)
	assert.Len(t, s.Enrollments, 2)
}

func TestLoadPopulation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "population.yaml")
	content := `states:
  Orissa: 46000000
  Kerala: 35000000
districts:
  Odisha/Khordha: 2500000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	pop, err := LoadPopulation(path)
	require.NoError(t, err)
	assert.False(t, pop.Empty())

	n, ok := pop.Expected(model.EntityKey{Level: model.LevelState, State: "Odisha"})
	assert.True(t, ok)
	assert.Equal(t, int64(46000000), n)

	n, ok = pop.Expected(model.EntityKey{Level: model.LevelDistrict, State: "Orissa", District: "KHORDHA"})
	assert.True(t, ok)
	assert.Equal(t, int64(2500000), n)

	_, ok = pop.Expected(model.EntityKey{Level: model.LevelPincode, Pincode: "751001"})
	assert.False(t, ok)
}

func TestLoadPopulation_Errors(t *testing.T) {
	pop, err := LoadPopulation("")
	require.NoError(t, err)
	assert.True(t, pop.Empty())

	_, err = LoadPopulation(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "neg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("states:\n  Kerala: -1\n"), 0o600))
	_, err = LoadPopulation(path)
	assert.Error(t, err)
}
