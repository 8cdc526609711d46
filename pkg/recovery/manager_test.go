package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/health"
	"github.com/jedarden/forge/pkg/memory"
	"github.com/jedarden/forge/pkg/stuck"
	"github.com/jedarden/forge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct {
	verdicts map[string]health.Verdict
}

func (f *fakeHealth) CheckAll(workers []*types.WorkerStatusInfo) []health.Verdict {
	out := make([]health.Verdict, 0, len(workers))
	for _, w := range workers {
		if v, ok := f.verdicts[w.WorkerID]; ok {
			out = append(out, v)
		}
	}
	return out
}

type fakeMemory struct {
	runaway map[string]bool
	last    map[string]memory.Reading
	forgot  []string
}

func (f *fakeMemory) IsRunaway(workerID string) bool { return f.runaway[workerID] }
func (f *fakeMemory) Last(workerID string) (memory.Reading, bool) {
	r, ok := f.last[workerID]
	return r, ok
}
func (f *fakeMemory) Forget(workerID string) { f.forgot = append(f.forgot, workerID) }

type fakeStuckDetector struct {
	tasks []stuck.Task
}

func (f *fakeStuckDetector) Detect(context.Context) ([]stuck.Task, error) { return f.tasks, nil }
func (f *fakeStuckDetector) Timeout(context.Context, string, string) error { return nil }

type fakeStatus struct {
	workers map[string]*types.WorkerStatusInfo
}

func (f *fakeStatus) ReadAll() ([]*types.WorkerStatusInfo, error) {
	out := make([]*types.WorkerStatusInfo, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, w)
	}
	return out, nil
}
func (f *fakeStatus) Read(workerID string) (*types.WorkerStatusInfo, error) {
	return f.workers[workerID], nil
}

type fakeIssues struct {
	assigneeUpdates []string
	statusUpdates   []string
}

func (f *fakeIssues) List(context.Context, string, types.IssueStatus) ([]types.Issue, error) {
	return nil, nil
}
func (f *fakeIssues) UpdateStatus(_ context.Context, _ string, id string, _ types.IssueStatus) error {
	f.statusUpdates = append(f.statusUpdates, id)
	return nil
}
func (f *fakeIssues) UpdateAssignee(_ context.Context, _ string, id string, _ string) error {
	f.assigneeUpdates = append(f.assigneeUpdates, id)
	return nil
}

type fakeProc struct {
	killedPIDs  []int
	killSuccess bool
	tmuxAlive   map[string]bool
}

func (f *fakeProc) TmuxSessionExists(name string) bool { return f.tmuxAlive[name] }
func (f *fakeProc) KillTmuxSession(name string) error  { return nil }
func (f *fakeProc) KillProcess(pid int) (bool, error) {
	f.killedPIDs = append(f.killedPIDs, pid)
	return f.killSuccess, nil
}

func newTestManager(t *testing.T, cfg Config, h *fakeHealth, mem *fakeMemory, sd *fakeStuckDetector, st *fakeStatus, issues *fakeIssues, proc *fakeProc) *Manager {
	m, err := NewManager(cfg, h, mem, sd, st, issues, proc, nil)
	require.NoError(t, err)
	return m
}

func TestCheckAndRecover_RunawayOverridesNotifyOnlyPolicyAndIsUnconditional(t *testing.T) {
	w := &types.WorkerStatusInfo{WorkerID: "w1", PID: 123, Workspace: "/ws", CurrentTask: strPtr("fg-9")}
	cfg := Config{Enabled: true, CheckInterval: 0, DeadWorkerPolicy: Policy{Kind: NotifyOnly}, MaxRecentActions: 50}

	h := &fakeHealth{verdicts: map[string]health.Verdict{"w1": {WorkerID: "w1", IsHealthy: true}}}
	mem := &fakeMemory{runaway: map[string]bool{"w1": true}, last: map[string]memory.Reading{"w1": {RSSBytes: 9000 * 1024 * 1024}}}
	sd := &fakeStuckDetector{}
	st := &fakeStatus{workers: map[string]*types.WorkerStatusInfo{"w1": w}}
	issues := &fakeIssues{}
	proc := &fakeProc{killSuccess: true}

	m := newTestManager(t, cfg, h, mem, sd, st, issues, proc)
	actions, err := m.CheckAndRecover(context.Background())
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, TerminateWorker, actions[0].Type)
	assert.Equal(t, "w1", actions[0].Target)
	assert.True(t, actions[0].Executed)
	assert.Contains(t, actions[0].Result, "Runaway worker terminated")
	assert.Equal(t, []string{"fg-9"}, issues.assigneeUpdates)
	assert.Equal(t, []int{123}, proc.killedPIDs)

	// The kill is unconditional, not a policy-gated recovery attempt.
	assert.Equal(t, uint8(0), m.WorkerAttempts("w1"))
}

func TestCheckAndRecover_RecoveryGateStopsAtMaxAttempts(t *testing.T) {
	w := &types.WorkerStatusInfo{WorkerID: "w1", PID: 123, Workspace: "/ws", Model: "claude-sonnet-4"}
	cfg := Config{
		Enabled:          true,
		CheckInterval:    0,
		DeadWorkerPolicy: AutoRecoverPolicy(3, 0),
		MaxRecentActions: 50,
	}

	h := &fakeHealth{verdicts: map[string]health.Verdict{
		"w1": {WorkerID: "w1", IsHealthy: false, HasPrimary: true, PrimaryError: types.CheckPidExists},
	}}
	mem := &fakeMemory{runaway: map[string]bool{}, last: map[string]memory.Reading{}}
	sd := &fakeStuckDetector{}
	st := &fakeStatus{workers: map[string]*types.WorkerStatusInfo{"w1": w}}
	issues := &fakeIssues{}
	proc := &fakeProc{tmuxAlive: map[string]bool{}}

	m := newTestManager(t, cfg, h, mem, sd, st, issues, proc)

	executed := 0
	unexecuted := 0
	for i := 0; i < 4; i++ {
		actions, err := m.CheckAndRecover(context.Background())
		require.NoError(t, err)
		require.Len(t, actions, 1)
		if actions[0].Executed {
			executed++
		} else {
			unexecuted++
		}
	}

	assert.Equal(t, 3, executed)
	assert.Equal(t, 1, unexecuted)
	assert.Equal(t, uint8(3), m.WorkerAttempts("w1"))
}

func TestCheckAndRecover_HealthyWorkerResetsTracker(t *testing.T) {
	w := &types.WorkerStatusInfo{WorkerID: "w1"}
	cfg := Config{Enabled: true, CheckInterval: 0, MaxRecentActions: 50}

	h := &fakeHealth{verdicts: map[string]health.Verdict{"w1": {WorkerID: "w1", IsHealthy: true}}}
	mem := &fakeMemory{runaway: map[string]bool{}}
	sd := &fakeStuckDetector{}
	st := &fakeStatus{workers: map[string]*types.WorkerStatusInfo{"w1": w}}
	issues := &fakeIssues{}
	proc := &fakeProc{}

	m := newTestManager(t, cfg, h, mem, sd, st, issues, proc)
	m.workerAttempts["w1"] = &AttemptTracker{Attempts: 2}

	actions, err := m.CheckAndRecover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, uint8(0), m.WorkerAttempts("w1"))
}

func TestCheckAndRecover_SkipsCycleBeforeIntervalElapses(t *testing.T) {
	cfg := Config{Enabled: true, CheckInterval: time.Minute, MaxRecentActions: 50}
	h := &fakeHealth{verdicts: map[string]health.Verdict{}}
	mem := &fakeMemory{}
	sd := &fakeStuckDetector{}
	st := &fakeStatus{workers: map[string]*types.WorkerStatusInfo{}}
	issues := &fakeIssues{}
	proc := &fakeProc{}

	m := newTestManager(t, cfg, h, mem, sd, st, issues, proc)
	now := time.Now()
	m.now = func() time.Time { return now }

	_, err := m.CheckAndRecover(context.Background())
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(30 * time.Second) }
	actions, err := m.CheckAndRecover(context.Background())
	require.NoError(t, err)
	assert.Nil(t, actions)
}

func TestCheckAndRecover_StuckTaskTimesOutUnderAutoRecover(t *testing.T) {
	cfg := Config{
		Enabled:         true,
		CheckInterval:   0,
		StuckTaskPolicy: AutoRecoverPolicy(1, 0),
		MaxRecentActions: 50,
	}
	h := &fakeHealth{verdicts: map[string]health.Verdict{}}
	mem := &fakeMemory{}
	sd := &fakeStuckDetector{tasks: []stuck.Task{{BeadID: "fg-1", Workspace: "/ws", Reason: "no activity for 45m0s"}}}
	st := &fakeStatus{workers: map[string]*types.WorkerStatusInfo{}}
	issues := &fakeIssues{}
	proc := &fakeProc{}

	m := newTestManager(t, cfg, h, mem, sd, st, issues, proc)
	actions, err := m.CheckAndRecover(context.Background())
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, TimeoutTask, actions[0].Type)
	assert.True(t, actions[0].Executed)
	assert.Equal(t, "Task timed out, status set to open", actions[0].Result)
}

func TestCheckAndRecover_StaleAssigneeClearedWhenWorkerNotAlive(t *testing.T) {
	cfg := Config{
		Enabled:              true,
		CheckInterval:        0,
		StaleAssigneePolicy:  AutoRecoverPolicy(1, 0),
		StaleAssigneeTimeout: time.Hour,
		MonitoredWorkspaces:  []string{"/ws"},
		MaxRecentActions:     50,
	}
	h := &fakeHealth{verdicts: map[string]health.Verdict{}}
	mem := &fakeMemory{}
	sd := &fakeStuckDetector{}
	st := &fakeStatus{workers: map[string]*types.WorkerStatusInfo{}}
	issues := &listingFakeIssues{issues: []types.Issue{
		{ID: "fg-2", Status: types.IssueInProgress, Assignee: "w-dead", UpdatedAt: time.Now().Add(-2 * time.Hour)},
	}}
	proc := &fakeProc{tmuxAlive: map[string]bool{}}

	m := newTestManager(t, cfg, h, mem, sd, st, issues, proc)
	actions, err := m.CheckAndRecover(context.Background())
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, ClearAssignee, actions[0].Type)
	assert.True(t, actions[0].Executed)
	assert.Equal(t, []string{"fg-2"}, issues.assigneeUpdates)
}

type listingFakeIssues struct {
	fakeIssues
	issues []types.Issue
}

func (f *listingFakeIssues) List(_ context.Context, _ string, status types.IssueStatus) ([]types.Issue, error) {
	var out []types.Issue
	for _, iss := range f.issues {
		if iss.Status == status {
			out = append(out, iss)
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }
