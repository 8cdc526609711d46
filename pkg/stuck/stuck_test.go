package stuck

import (
	"context"
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	issues  map[string][]types.Issue
	updated []string
}

func (f *fakeStore) List(_ context.Context, workspace string, status types.IssueStatus) ([]types.Issue, error) {
	var out []types.Issue
	for _, iss := range f.issues[workspace] {
		if iss.Status == status {
			out = append(out, iss)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, workspace, id string, status types.IssueStatus) error {
	f.updated = append(f.updated, id)
	return nil
}

func TestDetect_FlagsOnlyIssuesPastStuckTimeout(t *testing.T) {
	now := time.Now()
	store := &fakeStore{issues: map[string][]types.Issue{
		"ws1": {
			{ID: "fg-1", Status: types.IssueInProgress, Assignee: "w1", UpdatedAt: now.Add(-45 * time.Minute)},
			{ID: "fg-2", Status: types.IssueInProgress, Assignee: "w2", UpdatedAt: now.Add(-5 * time.Minute)},
			{ID: "fg-3", Status: types.IssueOpen, UpdatedAt: now.Add(-2 * time.Hour)},
		},
	}}

	d := NewDetector(Config{Workspaces: []string{"ws1"}, StuckTimeout: 30 * time.Minute}, store)
	d.now = func() time.Time { return now }

	tasks, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "fg-1", tasks[0].BeadID)
	assert.Equal(t, "ws1", tasks[0].Workspace)
}

func TestTimeout_ReopensTheIssue(t *testing.T) {
	store := &fakeStore{issues: map[string][]types.Issue{}}
	d := NewDetector(Config{}, store)

	require.NoError(t, d.Timeout(context.Background(), "ws1", "fg-1"))
	assert.Equal(t, []string{"fg-1"}, store.updated)
}
