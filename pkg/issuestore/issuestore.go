// Package issuestore wraps the external issue-store CLI ("br"): every
// invocation is a bounded subprocess call whose stdout is parsed as JSON.
// Timeouts and "no workspace configured" failures are absorbed as empty
// results; every other non-zero exit surfaces as an error carrying stderr.
package issuestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jedarden/forge/pkg/log"
	"github.com/jedarden/forge/pkg/types"
)

// DefaultTimeout is the hard wall-clock bound on every CLI invocation.
const DefaultTimeout = 2 * time.Second

// DefaultNoWorkspacePatterns are the stderr substrings that classify a
// failure as "no workspace configured" rather than a real error. This set is
// load-bearing configuration, not hard-coded magic, so
// callers may override it via Config.
var DefaultNoWorkspacePatterns = []string{"no .beads", "beads workspace", "not a beads workspace"}

// Config controls adapter behavior.
type Config struct {
	Binary               string
	Timeout              time.Duration
	NoWorkspacePatterns  []string
}

// DefaultConfig returns the adapter's default CLI name, timeout, and
// no-workspace detection patterns.
func DefaultConfig() Config {
	return Config{
		Binary:              "br",
		Timeout:             DefaultTimeout,
		NoWorkspacePatterns: DefaultNoWorkspacePatterns,
	}
}

// Adapter invokes the issue-store CLI inside a workspace directory.
type Adapter struct {
	cfg Config
}

// NewAdapter constructs an Adapter.
func NewAdapter(cfg Config) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "br"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.NoWorkspacePatterns) == 0 {
		cfg.NoWorkspacePatterns = DefaultNoWorkspacePatterns
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) isNoWorkspace(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, p := range a.cfg.NoWorkspacePatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// run executes `br <args...>` inside workspace with the configured timeout.
// On timeout it returns (nil, nil) — the caller treats that identically to
// an empty JSON array. On a "no workspace" stderr match it also returns
// (nil, nil). Any other non-zero exit returns an error carrying stderr.
func (a *Adapter) run(ctx context.Context, workspace string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, a.cfg.Binary, args...)
	if workspace != "" {
		cmd.Dir = workspace
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		log.WithComponent("issuestore").Debug().Str("workspace", workspace).Strs("args", args).Msg("issue-store invocation timed out")
		return nil, nil
	}
	if err == nil {
		return stdout.Bytes(), nil
	}
	if a.isNoWorkspace(stderr.String()) {
		return nil, nil
	}
	return nil, fmt.Errorf("br %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
}

func parseIssues(data []byte) ([]types.Issue, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var issues []types.Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("parse issue-store output: %w", err)
	}
	return issues, nil
}

// Ready returns issues the issue-store reports as ready (`br ready`).
func (a *Adapter) Ready(ctx context.Context, workspace string) ([]types.Issue, error) {
	out, err := a.run(ctx, workspace, "ready", "--format", "json")
	if err != nil || out == nil {
		return nil, err
	}
	return parseIssues(out)
}

// Blocked returns blocked issues (`br blocked`).
func (a *Adapter) Blocked(ctx context.Context, workspace string) ([]types.Issue, error) {
	out, err := a.run(ctx, workspace, "blocked", "--format", "json")
	if err != nil || out == nil {
		return nil, err
	}
	return parseIssues(out)
}

// List returns issues optionally filtered by status (`br list [--status s]`).
// An empty status lists all issues.
func (a *Adapter) List(ctx context.Context, workspace string, status types.IssueStatus) ([]types.Issue, error) {
	args := []string{"list", "--format", "json"}
	if status != "" {
		args = append(args, "--status", string(status))
	}
	out, err := a.run(ctx, workspace, args...)
	if err != nil || out == nil {
		return nil, err
	}
	return parseIssues(out)
}

// Stats returns the raw JSON object from `br stats`; its schema is
// deployment-specific, so it is left unparsed beyond "an object".
func (a *Adapter) Stats(ctx context.Context, workspace string) (map[string]any, error) {
	out, err := a.run(ctx, workspace, "stats", "--format", "json")
	if err != nil || out == nil {
		return nil, err
	}
	var stats map[string]any
	if err := json.Unmarshal(out, &stats); err != nil {
		return nil, fmt.Errorf("parse issue-store stats: %w", err)
	}
	return stats, nil
}

// UpdateStatus sets an issue's status (`br update <id> --status <s>`).
func (a *Adapter) UpdateStatus(ctx context.Context, workspace, id string, status types.IssueStatus) error {
	_, err := a.run(ctx, workspace, "update", id, "--status", string(status))
	return err
}

// UpdateAssignee sets (or clears, with assignee="") an issue's assignee
// (`br update <id> --assignee <a|"">`).
func (a *Adapter) UpdateAssignee(ctx context.Context, workspace, id, assignee string) error {
	_, err := a.run(ctx, workspace, "update", id, "--assignee", assignee)
	return err
}

// IsInProgress reports whether beadID is currently in_progress in workspace,
// satisfying pkg/health's TaskProber interface.
func (a *Adapter) IsInProgress(workspace, beadID string) (bool, error) {
	ctx := context.Background()
	issues, err := a.List(ctx, workspace, types.IssueInProgress)
	if err != nil {
		return false, err
	}
	for _, iss := range issues {
		if iss.ID == beadID {
			return true, nil
		}
	}
	return false, nil
}
