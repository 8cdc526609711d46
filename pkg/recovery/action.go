package recovery

import (
	"fmt"
	"time"
)

// ActionType names the kind of recovery action taken against an entity.
type ActionType string

const (
	RestartWorker   ActionType = "RestartWorker"
	TerminateWorker ActionType = "TerminateWorker"
	TimeoutTask     ActionType = "TimeoutTask"
	ClearAssignee   ActionType = "ClearAssignee"
)

// String renders a human label, matching the lowercase phrasing used in
// operator-facing output.
func (a ActionType) String() string {
	switch a {
	case RestartWorker:
		return "restart worker"
	case TerminateWorker:
		return "terminate worker"
	case TimeoutTask:
		return "timeout task"
	case ClearAssignee:
		return "clear assignee"
	default:
		return string(a)
	}
}

// Action records one recovery decision, whether or not it was executed.
type Action struct {
	Type      ActionType
	Target    string
	Reason    string
	Executed  bool
	Result    string
	HasResult bool
	Timestamp time.Time
	Workspace string
}

// NewAction builds a pending (unexecuted) action.
func NewAction(actionType ActionType, target, reason string, now time.Time) Action {
	return Action{Type: actionType, Target: target, Reason: reason, Timestamp: now}
}

// WithResult marks the action executed and attaches its outcome.
func (a Action) WithResult(result string) Action {
	a.Executed = true
	a.Result = result
	a.HasResult = true
	return a
}

// WithWorkspace attaches the workspace the action was taken in.
func (a Action) WithWorkspace(workspace string) Action {
	a.Workspace = workspace
	return a
}

// FormatForDisplay renders the action as a single line for operator UIs.
func (a Action) FormatForDisplay() string {
	status := "PENDING"
	if a.Executed {
		status = "DONE"
	}
	if a.HasResult {
		return fmt.Sprintf("[%s] %s %s: %s (%s)", status, a.Type, a.Target, a.Reason, a.Result)
	}
	return fmt.Sprintf("[%s] %s %s: %s", status, a.Type, a.Target, a.Reason)
}
