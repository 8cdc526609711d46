package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s
}

func TestReadAll_EmptyDirIsEmptyNotError(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)

	all, err := s.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWriteThenRead_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	task := "fg-123"
	rec := &types.WorkerStatusInfo{
		WorkerID:     "w1",
		Status:       types.WorkerActive,
		Model:        "sonnet",
		Workspace:    "/ws",
		PID:          42,
		StartedAt:    &now,
		LastActivity: &now,
		CurrentTask:  &task,
	}
	require.NoError(t, s.Write(rec))

	got, err := s.Read("w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.WorkerID, got.WorkerID)
	assert.Equal(t, rec.Status, got.Status)
	require.NotNil(t, got.CurrentTask)
	assert.Equal(t, task, *got.CurrentTask)
}

func TestCurrentTask_AcceptsBareStringAndObjectForm(t *testing.T) {
	stringForm := []byte(`{"worker_id":"w1","status":"Active","current_task":"fg-1","tasks_completed":0}`)
	objectForm := []byte(`{"worker_id":"w1","status":"Active","current_task":{"bead_id":"fg-1","extra":"ignored"},"tasks_completed":0}`)

	for _, data := range [][]byte{stringForm, objectForm} {
		rec, err := decodeRecord(data)
		require.NoError(t, err)
		require.NotNil(t, rec.CurrentTask)
		assert.Equal(t, "fg-1", *rec.CurrentTask)
	}
}

func TestCurrentTask_ObjectMissingBeadIDIsAnError(t *testing.T) {
	data := []byte(`{"worker_id":"w1","status":"Active","current_task":{"other":"x"},"tasks_completed":0}`)
	_, err := decodeRecord(data)
	assert.Error(t, err)
}

func TestRead_CorruptFileYieldsErrorStatusNotFailure(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "w1.json"), []byte("{not json"), 0o644))

	rec, err := s.Read("w1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.WorkerError, rec.Status)
	assert.Equal(t, "w1", rec.WorkerID)
}

func TestReadAll_SortsByWorkerIDAndIgnoresNonJSON(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"zebra", "alpha", "mid"} {
		require.NoError(t, s.Write(&types.WorkerStatusInfo{WorkerID: id, Status: types.WorkerIdle}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("hi"), 0o644))

	all, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"alpha", "mid", "zebra"}, []string{all[0].WorkerID, all[1].WorkerID, all[2].WorkerID})
}

func TestUpdateStatus_SetsLastActivityAndPreservesFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.WorkerStatusInfo{WorkerID: "w1", Status: types.WorkerStarting, Model: "opus"}))

	require.NoError(t, s.UpdateStatus("w1", types.WorkerActive))

	got, err := s.Read("w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerActive, got.Status)
	assert.Equal(t, "opus", got.Model)
	require.NotNil(t, got.LastActivity)
	assert.WithinDuration(t, time.Now(), *got.LastActivity, 5*time.Second)
}

func TestPauseAll_SkipsTerminalStates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.WorkerStatusInfo{WorkerID: "active", Status: types.WorkerActive}))
	require.NoError(t, s.Write(&types.WorkerStatusInfo{WorkerID: "stopped", Status: types.WorkerStopped}))
	require.NoError(t, s.Write(&types.WorkerStatusInfo{WorkerID: "failed", Status: types.WorkerFailed}))

	n, err := s.PauseAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := s.Read("active")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerPaused, active.Status)

	stopped, err := s.Read("stopped")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStopped, stopped.Status)
}

func TestResumeAll_OnlyAffectsPaused(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.WorkerStatusInfo{WorkerID: "paused", Status: types.WorkerPaused}))
	require.NoError(t, s.Write(&types.WorkerStatusInfo{WorkerID: "idle", Status: types.WorkerIdle}))

	n, err := s.ResumeAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	paused, err := s.Read("paused")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerIdle, paused.Status)
}
