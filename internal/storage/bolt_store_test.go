package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landmarkload/internal/report"
	"landmarkload/internal/runner"
	"landmarkload/internal/stats"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, at time.Time) Record {
	return Record{
		ID:        id,
		Timestamp: at,
		Config:    runner.Config{URL: "http://localhost:8080/predict_landmarks", Users: 2, RequestsPerUser: 3, Timeout: time.Second},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openTemp(t)

	rec := record("a", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec.Successful = 5
	rec.ResponseFailures = 1
	rec.Summary = &stats.Summary{Count: 5, Mean: 0.12, Max: 0.4}
	require.NoError(t, s.Save(rec))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, rec.Config, got.Config)
	assert.Equal(t, 5, got.Successful)
	assert.Equal(t, 1, got.ResponseFailures)
	assert.Equal(t, rec.Summary, got.Summary)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTemp(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(record("second", base.Add(time.Minute))))
	require.NoError(t, s.Save(record("first", base)))
	require.NoError(t, s.Save(record("third", base.Add(2*time.Minute))))

	all, err := s.List(0)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"third", "second", "first"}, ids)

	limited, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "third", limited[0].ID)
	assert.Equal(t, "second", limited[1].ID)
}

func TestStore_ListEmpty(t *testing.T) {
	s := openTemp(t)
	all, err := s.List(10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(record("kept", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].ID)
}

func TestNewRecord(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &runner.RunResult{ID: "r", Config: runner.DefaultConfig(), Started: start}
	rep := &report.Report{
		Successful:        4,
		TransportFailures: 1,
		ResponseFailures:  2,
		Elapsed:           3 * time.Second,
		Summary:           &stats.Summary{Count: 4, Mean: 0.1, Max: 0.2},
	}

	rec := NewRecord(res, rep)
	assert.Equal(t, "r", rec.ID)
	assert.Equal(t, start, rec.Timestamp)
	assert.Equal(t, runner.DefaultConfig(), rec.Config)
	assert.Equal(t, 4, rec.Successful)
	assert.Equal(t, 1, rec.TransportFailures)
	assert.Equal(t, 2, rec.ResponseFailures)
	assert.Equal(t, 3*time.Second, rec.Elapsed)
	assert.Same(t, rep.Summary, rec.Summary)
}
