// Package stuck reasons over the external issue store to find in-progress
// work that has sat untouched too long: issues whose last activity predates
// a configured timeout, in any of a configured set of workspaces.
package stuck

import (
	"context"
	"time"

	"github.com/jedarden/forge/pkg/log"
	"github.com/jedarden/forge/pkg/types"
)

// IssueStore is the subset of the issue-store adapter the detector needs:
// listing in-progress work and reopening a stuck one.
type IssueStore interface {
	List(ctx context.Context, workspace string, status types.IssueStatus) ([]types.Issue, error)
	UpdateStatus(ctx context.Context, workspace, id string, status types.IssueStatus) error
}

// Config controls which workspaces are scanned and how stale counts as stuck.
type Config struct {
	Workspaces           []string
	StuckTimeout         time.Duration
	ActivityCheckWindow  time.Duration
}

// DefaultConfig matches the commonly cited 30-minute stuck timeout and sets
// a 5-minute ActivityCheckWindow. Detect does not read ActivityCheckWindow:
// a task is flagged on its elapsed time since updated_at alone.
func DefaultConfig(workspaces []string) Config {
	return Config{
		Workspaces:          workspaces,
		StuckTimeout:        30 * time.Minute,
		ActivityCheckWindow: 5 * time.Minute,
	}
}

// Task describes one stuck in-progress issue.
type Task struct {
	BeadID    string
	Workspace string
	Assignee  string
	Reason    string
	Elapsed   time.Duration
}

// Detector finds stuck tasks across the configured workspaces.
type Detector struct {
	cfg    Config
	issues IssueStore
	now    func() time.Time
}

// NewDetector constructs a Detector.
func NewDetector(cfg Config, issues IssueStore) *Detector {
	return &Detector{cfg: cfg, issues: issues, now: time.Now}
}

// Detect lists in-progress issues in every configured workspace and returns
// the ones whose elapsed time since updated_at exceeds the stuck timeout.
func (d *Detector) Detect(ctx context.Context) ([]Task, error) {
	now := d.now()
	var stuck []Task

	for _, ws := range d.cfg.Workspaces {
		issues, err := d.issues.List(ctx, ws, types.IssueInProgress)
		if err != nil {
			log.WithComponent("stuck").Warn().Str("workspace", ws).Err(err).Msg("failed to list in-progress issues")
			continue
		}

		for _, iss := range issues {
			elapsed := now.Sub(iss.UpdatedAt)
			if elapsed <= d.cfg.StuckTimeout {
				continue
			}
			stuck = append(stuck, Task{
				BeadID:    iss.ID,
				Workspace: ws,
				Assignee:  iss.Assignee,
				Reason:    "no activity for " + elapsed.Round(time.Second).String(),
				Elapsed:   elapsed,
			})
		}
	}

	return stuck, nil
}

// Timeout reopens a stuck task, satisfying the auto-recovery manager's
// TimeoutTask action.
func (d *Detector) Timeout(ctx context.Context, workspace, beadID string) error {
	return d.issues.UpdateStatus(ctx, workspace, beadID, types.IssueOpen)
}
