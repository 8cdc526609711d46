package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jedarden/forge/pkg/health"
	"github.com/jedarden/forge/pkg/log"
	"github.com/jedarden/forge/pkg/memory"
	"github.com/jedarden/forge/pkg/stuck"
	"github.com/jedarden/forge/pkg/types"
)

// HealthChecker evaluates every known worker's health verdict.
type HealthChecker interface {
	CheckAll(workers []*types.WorkerStatusInfo) []health.Verdict
}

// MemoryChecker answers whether a worker's memory is in the runaway
// (unconditional-kill) band and what its last reading was.
type MemoryChecker interface {
	IsRunaway(workerID string) bool
	Last(workerID string) (memory.Reading, bool)
	Forget(workerID string)
}

// StatusReader is the subset of the status store the manager needs.
type StatusReader interface {
	ReadAll() ([]*types.WorkerStatusInfo, error)
	Read(workerID string) (*types.WorkerStatusInfo, error)
}

// IssueStore is the subset of the issue-store adapter the manager needs.
type IssueStore interface {
	List(ctx context.Context, workspace string, status types.IssueStatus) ([]types.Issue, error)
	UpdateStatus(ctx context.Context, workspace, id string, status types.IssueStatus) error
	UpdateAssignee(ctx context.Context, workspace, id, assignee string) error
}

// StuckDetector finds and reopens stuck in-progress tasks.
type StuckDetector interface {
	Detect(ctx context.Context) ([]stuck.Task, error)
	Timeout(ctx context.Context, workspace, beadID string) error
}

// ProcessController kills processes and tmux sessions.
type ProcessController interface {
	TmuxSessionExists(name string) bool
	KillTmuxSession(name string) error
	KillProcess(pid int) (killed bool, err error)
}

// Persister durably stores attempt trackers and action history across
// restarts. A nil Persister means in-memory only.
type Persister interface {
	SaveWorkerAttempts(workerID string, t AttemptTracker) error
	SaveBeadAttempts(beadID string, t AttemptTracker) error
	LoadWorkerAttempts() (map[string]AttemptTracker, error)
	LoadBeadAttempts() (map[string]AttemptTracker, error)
	AppendAction(a Action, maxRecent int) error
}

// Manager is the auto-recovery manager: the orchestration heart that turns
// health, memory, and stuck-task verdicts into recovery actions under
// per-issue-type policies.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	health  HealthChecker
	memory  MemoryChecker
	stuck   StuckDetector
	status  StatusReader
	issues  IssueStore
	proc    ProcessController
	persist Persister

	workerAttempts map[string]*AttemptTracker
	beadAttempts   map[string]*AttemptTracker
	recentActions  []Action

	lastCheck    time.Time
	hasLastCheck bool
	now          func() time.Time
}

// NewManager constructs a Manager, loading any persisted attempt trackers
// from persist (which may be nil for an in-memory-only manager).
func NewManager(cfg Config, h HealthChecker, mem MemoryChecker, sd StuckDetector, st StatusReader, issues IssueStore, proc ProcessController, persist Persister) (*Manager, error) {
	m := &Manager{
		cfg:            cfg,
		health:         h,
		memory:         mem,
		stuck:          sd,
		status:         st,
		issues:         issues,
		proc:           proc,
		persist:        persist,
		workerAttempts: make(map[string]*AttemptTracker),
		beadAttempts:   make(map[string]*AttemptTracker),
		now:            time.Now,
	}
	if persist != nil {
		workers, err := persist.LoadWorkerAttempts()
		if err != nil {
			return nil, fmt.Errorf("load worker attempts: %w", err)
		}
		for id, t := range workers {
			t := t
			m.workerAttempts[id] = &t
		}
		beads, err := persist.LoadBeadAttempts()
		if err != nil {
			return nil, fmt.Errorf("load bead attempts: %w", err)
		}
		for id, t := range beads {
			t := t
			m.beadAttempts[id] = &t
		}
	}
	return m, nil
}

func (m *Manager) workerTracker(id string) *AttemptTracker {
	t, ok := m.workerAttempts[id]
	if !ok {
		t = &AttemptTracker{}
		m.workerAttempts[id] = t
	}
	return t
}

func (m *Manager) beadTracker(id string) *AttemptTracker {
	t, ok := m.beadAttempts[id]
	if !ok {
		t = &AttemptTracker{}
		m.beadAttempts[id] = t
	}
	return t
}

func (m *Manager) saveWorkerTracker(id string, t *AttemptTracker) {
	if m.persist == nil {
		return
	}
	if err := m.persist.SaveWorkerAttempts(id, *t); err != nil {
		log.WithComponent("recovery").Warn().Str("worker", id).Err(err).Msg("failed to persist attempt tracker")
	}
}

func (m *Manager) saveBeadTracker(id string, t *AttemptTracker) {
	if m.persist == nil {
		return
	}
	if err := m.persist.SaveBeadAttempts(id, *t); err != nil {
		log.WithComponent("recovery").Warn().Str("bead", id).Err(err).Msg("failed to persist attempt tracker")
	}
}

// CheckAndRecover runs one recovery cycle if enabled and the configured
// check interval has elapsed since the last cycle, and returns every action
// taken or reported this cycle (nil if the cycle was skipped).
func (m *Manager) CheckAndRecover(ctx context.Context) ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Enabled {
		return nil, nil
	}
	now := m.now()
	if m.hasLastCheck && now.Sub(m.lastCheck) < m.cfg.CheckInterval {
		return nil, nil
	}
	m.lastCheck = now
	m.hasLastCheck = true

	var actions []Action
	actions = append(actions, m.checkWorkerHealth(ctx, now)...)
	actions = append(actions, m.checkStuckTasks(ctx, now)...)
	actions = append(actions, m.checkStaleAssignees(ctx, now)...)

	for _, a := range actions {
		m.recordAction(a)
	}
	return actions, nil
}

func (m *Manager) recordAction(a Action) {
	m.recentActions = append(m.recentActions, a)
	limit := m.cfg.MaxRecentActions
	if limit <= 0 {
		limit = 50
	}
	if len(m.recentActions) > limit {
		m.recentActions = m.recentActions[len(m.recentActions)-limit:]
	}
	if m.persist != nil {
		if err := m.persist.AppendAction(a, limit); err != nil {
			log.WithComponent("recovery").Warn().Err(err).Msg("failed to persist recovery action")
		}
	}
}

// checkWorkerHealth runs the two-pass worker check: an unconditional
// runaway-memory kill pass, then a policy-gated classify-and-dispatch pass
// over every worker not already handled as runaway.
func (m *Manager) checkWorkerHealth(ctx context.Context, now time.Time) []Action {
	workers, err := m.status.ReadAll()
	if err != nil {
		log.WithComponent("recovery").Warn().Err(err).Msg("failed to read worker status")
		return nil
	}

	var actions []Action
	handled := make(map[string]struct{})

	for _, w := range workers {
		if !m.memory.IsRunaway(w.WorkerID) {
			continue
		}
		actions = append(actions, m.handleRunaway(ctx, w, now))
		handled[w.WorkerID] = struct{}{}
	}

	verdicts := m.health.CheckAll(workers)
	byID := make(map[string]*types.WorkerStatusInfo, len(workers))
	for _, w := range workers {
		byID[w.WorkerID] = w
	}

	for _, v := range verdicts {
		if _, done := handled[v.WorkerID]; done {
			continue
		}
		if v.IsHealthy {
			m.workerTracker(v.WorkerID).Reset()
			continue
		}
		w, ok := byID[v.WorkerID]
		if !ok {
			continue
		}
		switch classifyHealthIssue(v) {
		case TerminateWorker:
			actions = append(actions, m.handleMemoryLeak(ctx, w, now))
		default:
			actions = append(actions, m.handleDeadWorker(ctx, w, now))
		}
	}

	return actions
}

// classifyHealthIssue decides the recovery action for an unhealthy
// worker: a failed PidExists check or anything outside the fixed set
// restarts the worker; a failed MemoryUsage check (with PidExists intact)
// terminates it, per the health verdict's own PidExists-beats-MemoryUsage
// precedence.
func classifyHealthIssue(v health.Verdict) ActionType {
	if v.HasPrimary && v.PrimaryError == types.CheckMemoryUsage {
		return TerminateWorker
	}
	return RestartWorker
}

func (m *Manager) handleRunaway(ctx context.Context, w *types.WorkerStatusInfo, now time.Time) Action {
	mb := uint64(0)
	if r, ok := m.memory.Last(w.WorkerID); ok {
		mb = r.RSSBytes / (1024 * 1024)
	}
	reason := fmt.Sprintf("RUNAWAY: memory usage exceeds kill limit (%d MB)", mb)
	action := NewAction(TerminateWorker, w.WorkerID, reason, now).WithWorkspace(w.Workspace)

	if w.CurrentTask != nil && w.Workspace != "" {
		_ = m.issues.UpdateAssignee(ctx, w.Workspace, *w.CurrentTask, "")
	}

	if w.PID == 0 {
		return action.WithResult("Failed to kill runaway worker (no pid on record)")
	}
	killed, err := m.proc.KillProcess(w.PID)
	m.memory.Forget(w.WorkerID)
	switch {
	case err != nil:
		log.WithComponent("recovery").Error().Str("worker", w.WorkerID).Err(err).Msg("error killing runaway worker")
		return action.WithResult(fmt.Sprintf("Error killing runaway worker: %s", err))
	case !killed:
		return action.WithResult("Failed to kill runaway worker (process may have exited)")
	default:
		log.WithComponent("recovery").Info().Str("worker", w.WorkerID).Msg("runaway worker terminated")
		return action.WithResult(fmt.Sprintf("Runaway worker terminated (was using %d MB)", mb))
	}
}

func (m *Manager) handleDeadWorker(ctx context.Context, w *types.WorkerStatusInfo, now time.Time) Action {
	_ = ctx
	tracker := m.workerTracker(w.WorkerID)
	reason := "Worker process not found (pid check failed)"
	action := NewAction(RestartWorker, w.WorkerID, reason, now).WithWorkspace(w.Workspace)

	if !tracker.CanAttempt(m.cfg.DeadWorkerPolicy, now) {
		return action
	}
	tracker.RecordAttempt(now)
	m.saveWorkerTracker(w.WorkerID, tracker)

	if err := m.restartWorker(w.WorkerID); err != nil {
		log.WithComponent("recovery").Error().Str("worker", w.WorkerID).Err(err).Msg("failed to restart worker")
		return action.WithResult(fmt.Sprintf("Failed to restart: %s", err))
	}
	m.memory.Forget(w.WorkerID)
	log.WithComponent("recovery").Info().Str("worker", w.WorkerID).Msg("worker restarted via launcher")
	return action.WithResult("Worker restarted successfully")
}

func (m *Manager) handleMemoryLeak(ctx context.Context, w *types.WorkerStatusInfo, now time.Time) Action {
	_ = ctx
	tracker := m.workerTracker(w.WorkerID)
	reason := "Memory usage exceeds warning threshold"
	action := NewAction(TerminateWorker, w.WorkerID, reason, now).WithWorkspace(w.Workspace)

	if !tracker.CanAttempt(m.cfg.MemoryLeakPolicy, now) {
		return action
	}
	tracker.RecordAttempt(now)
	m.saveWorkerTracker(w.WorkerID, tracker)

	if err := m.terminateWorker(w); err != nil {
		log.WithComponent("recovery").Error().Str("worker", w.WorkerID).Err(err).Msg("failed to terminate worker")
		return action.WithResult(fmt.Sprintf("Failed to terminate: %s", err))
	}
	m.memory.Forget(w.WorkerID)
	return action.WithResult("Worker terminated")
}

// restartWorker kills any existing tmux session for workerID, then
// relaunches it via the configured launcher using the worker's last known
// workspace and model.
func (m *Manager) restartWorker(workerID string) error {
	if m.proc.TmuxSessionExists(workerID) {
		_ = m.proc.KillTmuxSession(workerID)
	}

	info, err := m.status.Read(workerID)
	if err != nil {
		return fmt.Errorf("read worker status: %w", err)
	}
	if info == nil {
		return fmt.Errorf("worker not found: %s", workerID)
	}
	if info.Workspace == "" || info.Model == "" {
		return fmt.Errorf("worker %s has no recorded workspace/model to restart with", workerID)
	}

	launcherPath, err := findLauncher(info.Workspace)
	if err != nil {
		return err
	}
	return invokeLauncher(launcherPath, info.Model, info.Workspace, workerID)
}

// terminateWorker clears the worker's current task assignment, then kills
// its tmux session.
func (m *Manager) terminateWorker(w *types.WorkerStatusInfo) error {
	if w.CurrentTask != nil && w.Workspace != "" {
		_ = m.issues.UpdateAssignee(context.Background(), w.Workspace, *w.CurrentTask, "")
	}
	return m.proc.KillTmuxSession(w.WorkerID)
}

func (m *Manager) checkStuckTasks(ctx context.Context, now time.Time) []Action {
	tasks, err := m.stuck.Detect(ctx)
	if err != nil {
		log.WithComponent("recovery").Warn().Err(err).Msg("failed to detect stuck tasks")
		return nil
	}

	actions := make([]Action, 0, len(tasks))
	for _, t := range tasks {
		tracker := m.beadTracker(t.BeadID)
		action := NewAction(TimeoutTask, t.BeadID, t.Reason, now).WithWorkspace(t.Workspace)

		if tracker.CanAttempt(m.cfg.StuckTaskPolicy, now) {
			tracker.RecordAttempt(now)
			m.saveBeadTracker(t.BeadID, tracker)

			if err := m.stuck.Timeout(ctx, t.Workspace, t.BeadID); err != nil {
				action = action.WithResult(fmt.Sprintf("Failed to timeout task: %s", err))
			} else {
				action = action.WithResult("Task timed out, status set to open")
			}
		}
		actions = append(actions, action)
	}
	return actions
}

func (m *Manager) checkStaleAssignees(ctx context.Context, now time.Time) []Action {
	var actions []Action

	for _, ws := range m.cfg.MonitoredWorkspaces {
		issues, err := m.issues.List(ctx, ws, types.IssueInProgress)
		if err != nil {
			log.WithComponent("recovery").Warn().Str("workspace", ws).Err(err).Msg("failed to list in-progress issues")
			continue
		}

		for _, iss := range issues {
			if iss.Assignee == "" {
				continue
			}
			elapsed := now.Sub(iss.UpdatedAt)
			if elapsed <= m.cfg.StaleAssigneeTimeout {
				continue
			}
			if m.proc.TmuxSessionExists(iss.Assignee) {
				continue
			}
			actions = append(actions, m.handleStaleAssignee(ctx, ws, iss.ID, iss.Assignee, elapsed, now))
		}
	}
	return actions
}

func (m *Manager) handleStaleAssignee(ctx context.Context, workspace, beadID, assignee string, elapsed time.Duration, now time.Time) Action {
	tracker := m.beadTracker(beadID)
	reason := fmt.Sprintf("Assignee '%s' is stale (%s, worker not responding)", assignee, elapsed.Round(time.Minute))
	action := NewAction(ClearAssignee, beadID, reason, now).WithWorkspace(workspace)

	if !tracker.CanAttempt(m.cfg.StaleAssigneePolicy, now) {
		return action
	}
	tracker.RecordAttempt(now)
	m.saveBeadTracker(beadID, tracker)

	if err := m.clearAssignee(ctx, workspace, beadID); err != nil {
		log.WithComponent("recovery").Error().Str("bead", beadID).Err(err).Msg("failed to clear stale assignee")
		return action.WithResult(fmt.Sprintf("Failed to clear assignee: %s", err))
	}
	log.WithComponent("recovery").Info().Str("bead", beadID).Str("assignee", assignee).Msg("cleared stale assignee")
	return action.WithResult("Assignee cleared, task available for reassignment")
}

// clearAssignee reopens the issue and clears its assignee. The status
// update is best-effort (only logged on failure); the assignee clear is
// the operation whose failure is reported back to the caller.
func (m *Manager) clearAssignee(ctx context.Context, workspace, beadID string) error {
	if err := m.issues.UpdateStatus(ctx, workspace, beadID, types.IssueOpen); err != nil {
		log.WithComponent("recovery").Warn().Str("bead", beadID).Err(err).Msg("failed to reopen bead status")
	}
	return m.issues.UpdateAssignee(ctx, workspace, beadID, "")
}

// RecentActions returns a copy of the bounded recent-actions buffer for
// display by external observers.
func (m *Manager) RecentActions() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Action, len(m.recentActions))
	copy(out, m.recentActions)
	return out
}

// ClearRecentActions empties the in-memory recent-actions buffer.
func (m *Manager) ClearRecentActions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentActions = nil
}

// WorkerAttempts returns the number of recovery attempts recorded for a
// worker.
func (m *Manager) WorkerAttempts(workerID string) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.workerAttempts[workerID]; ok {
		return t.Attempts
	}
	return 0
}

// BeadAttempts returns the number of recovery attempts recorded for a bead.
func (m *Manager) BeadAttempts(beadID string) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.beadAttempts[beadID]; ok {
		return t.Attempts
	}
	return 0
}

// ResetAttempts clears recovery attempt tracking for a single entity
// (worker_id or bead_id), whichever map it appears in.
func (m *Manager) ResetAttempts(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.workerAttempts[entityID]; ok {
		t.Reset()
		m.saveWorkerTracker(entityID, t)
	}
	if t, ok := m.beadAttempts[entityID]; ok {
		t.Reset()
		m.saveBeadTracker(entityID, t)
	}
}

// ResetAllAttempts clears all recovery attempt tracking.
func (m *Manager) ResetAllAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workerAttempts = make(map[string]*AttemptTracker)
	m.beadAttempts = make(map[string]*AttemptTracker)
}
