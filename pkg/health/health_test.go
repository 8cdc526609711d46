package health

import (
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePidProber struct {
	alive map[int]bool
}

func (f fakePidProber) PidExists(pid int) bool { return f.alive[pid] }

type fakeMemoryProber struct {
	severity map[string]types.MemorySeverity
}

func (f fakeMemoryProber) Severity(workerID string) (types.MemorySeverity, bool) {
	s, ok := f.severity[workerID]
	return s, ok
}

func TestMonitorCheck_Healthy(t *testing.T) {
	now := time.Now()
	m := NewMonitor(DefaultConfig(), fakePidProber{alive: map[int]bool{123: true}}, fakeMemoryProber{}, nil)
	m.now = func() time.Time { return now }

	w := &types.WorkerStatusInfo{WorkerID: "w1", PID: 123, LastActivity: &now}
	v := m.Check(w)

	require.True(t, v.IsHealthy)
	assert.Equal(t, types.HealthHealthy, v.Level)
	assert.False(t, v.HasPrimary)
}

func TestMonitorCheck_PidExistsTakesPrecedence(t *testing.T) {
	now := time.Now()
	m := NewMonitor(DefaultConfig(),
		fakePidProber{alive: map[int]bool{123: false}},
		fakeMemoryProber{severity: map[string]types.MemorySeverity{"w1": types.MemoryWarning}},
		nil,
	)
	m.now = func() time.Time { return now }

	w := &types.WorkerStatusInfo{WorkerID: "w1", PID: 123, LastActivity: &now}
	v := m.Check(w)

	require.False(t, v.IsHealthy)
	assert.Equal(t, types.HealthUnhealthy, v.Level)
	assert.Equal(t, types.CheckPidExists, v.PrimaryError)
	_, memFailed := v.FailedChecks[types.CheckMemoryUsage]
	assert.True(t, memFailed, "memory check should still be recorded as failed")
}

func TestMonitorCheck_StaleIsDegradedNotUnhealthy(t *testing.T) {
	now := time.Now()
	stale := now.Add(-10 * time.Minute)
	m := NewMonitor(DefaultConfig(), fakePidProber{alive: map[int]bool{123: true}}, fakeMemoryProber{}, nil)
	m.now = func() time.Time { return now }

	w := &types.WorkerStatusInfo{WorkerID: "w1", PID: 123, LastActivity: &stale}
	v := m.Check(w)

	require.False(t, v.IsHealthy)
	assert.Equal(t, types.HealthDegraded, v.Level)
	assert.Equal(t, types.CheckStatusFresh, v.PrimaryError)
}

func TestMonitorCheckAll_PreservesOrder(t *testing.T) {
	now := time.Now()
	m := NewMonitor(DefaultConfig(), fakePidProber{alive: map[int]bool{}}, fakeMemoryProber{}, nil)
	m.now = func() time.Time { return now }

	workers := []*types.WorkerStatusInfo{
		{WorkerID: "a", LastActivity: &now},
		{WorkerID: "b", LastActivity: &now},
	}
	verdicts := m.CheckAll(workers)
	require.Len(t, verdicts, 2)
	assert.Equal(t, "a", verdicts[0].WorkerID)
	assert.Equal(t, "b", verdicts[1].WorkerID)
}
