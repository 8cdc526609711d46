// Package status implements the on-disk worker status store: one JSON file
// per worker under a status directory, written atomically via a temp file
// plus rename, and read tolerantly (a corrupt file yields an Error-status
// record rather than propagating a parse failure).
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedarden/forge/pkg/log"
	"github.com/jedarden/forge/pkg/types"
)

// decodeCurrentTask decodes the dual-shape current_task field: either a bare
// JSON string, or an object carrying a bead_id field. Both normalize to the
// same *string at the WorkerStatusInfo boundary.
func decodeCurrentTask(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("current_task must be a string or object: %w", err)
	}
	beadID, ok := obj["bead_id"].(string)
	if !ok {
		return nil, fmt.Errorf("current_task object must have bead_id field")
	}
	return &beadID, nil
}

// wireRecord mirrors WorkerStatusInfo but with current_task left as a raw
// message so it can take either shape on the wire.
type wireRecord struct {
	WorkerID       string          `json:"worker_id"`
	Status         types.WorkerStatus `json:"status"`
	Model          string          `json:"model,omitempty"`
	Workspace      string          `json:"workspace,omitempty"`
	PID            int             `json:"pid,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	LastActivity   *time.Time      `json:"last_activity,omitempty"`
	CurrentTask    json.RawMessage `json:"current_task,omitempty"`
	TasksCompleted int             `json:"tasks_completed"`
}

func decodeRecord(data []byte) (*types.WorkerStatusInfo, error) {
	var wr wireRecord
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, err
	}
	currentTask, err := decodeCurrentTask(wr.CurrentTask)
	if err != nil {
		return nil, err
	}
	return &types.WorkerStatusInfo{
		WorkerID:       wr.WorkerID,
		Status:         wr.Status,
		Model:          wr.Model,
		Workspace:      wr.Workspace,
		PID:            wr.PID,
		StartedAt:      wr.StartedAt,
		LastActivity:   wr.LastActivity,
		CurrentTask:    currentTask,
		TasksCompleted: wr.TasksCompleted,
	}, nil
}

func encodeRecord(w *types.WorkerStatusInfo) ([]byte, error) {
	wr := wireRecord{
		WorkerID:       w.WorkerID,
		Status:         w.Status,
		Model:          w.Model,
		Workspace:      w.Workspace,
		PID:            w.PID,
		StartedAt:      w.StartedAt,
		LastActivity:   w.LastActivity,
		TasksCompleted: w.TasksCompleted,
	}
	if w.CurrentTask != nil {
		raw, err := json.Marshal(*w.CurrentTask)
		if err != nil {
			return nil, err
		}
		wr.CurrentTask = raw
	}
	return json.MarshalIndent(wr, "", "  ")
}

// DefaultStatusDir returns ~/.forge/status, derived from the HOME
// environment variable, matching the external interface contract in
// the status directory contract.
func DefaultStatusDir() (string, error) {
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("HOME environment variable not set")
	}
	return filepath.Join(home, ".forge", "status"), nil
}

// Store reads and writes worker status files under a single directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. If dir is empty, DefaultStatusDir
// is used.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		d, err := DefaultStatusDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &Store{dir: dir}, nil
}

// Dir returns the status directory this store reads and writes.
func (s *Store) Dir() string {
	return s.dir
}

// DirExists reports whether the status directory currently exists.
func (s *Store) DirExists() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

func (s *Store) filePath(workerID string) string {
	return filepath.Join(s.dir, workerID+".json")
}

// Read returns the status record for a single worker, or nil if no file
// exists. A corrupt file yields an Error-status record carrying the
// worker_id derived from the filename; it never returns a parse error to
// the caller.
func (s *Store) Read(workerID string) (*types.WorkerStatusInfo, error) {
	data, err := os.ReadFile(s.filePath(workerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status file for %s: %w", workerID, err)
	}
	rec, perr := decodeRecord(data)
	if perr != nil {
		return &types.WorkerStatusInfo{WorkerID: workerID, Status: types.WorkerError}, nil
	}
	return rec, nil
}

// ReadAll returns every worker's status record, sorted by worker_id. A
// missing status directory yields an empty slice, not an error. Files that
// fail to parse become Error-status records rather than aborting the scan.
func (s *Store) ReadAll() ([]*types.WorkerStatusInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list status dir %s: %w", s.dir, err)
	}

	var out []*types.WorkerStatusInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		workerID := strings.TrimSuffix(e.Name(), ".json")
		data, rerr := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if rerr != nil {
			log.WithComponent("status").Warn().Err(rerr).Str("worker_id", workerID).Msg("skipping unreadable status file")
			continue
		}
		rec, perr := decodeRecord(data)
		if perr != nil {
			rec = &types.WorkerStatusInfo{WorkerID: workerID, Status: types.WorkerError}
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

// ListWorkers returns the worker ids with a status file, sorted.
func (s *Store) ListWorkers() ([]string, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for _, w := range all {
		ids = append(ids, w.WorkerID)
	}
	return ids, nil
}

// Write atomically persists a worker status record: serialize to a sibling
// ".json.tmp" file, then rename over the target. Readers never observe a
// partially written file.
func (s *Store) Write(w *types.WorkerStatusInfo) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create status dir %s: %w", s.dir, err)
	}

	data, err := encodeRecord(w)
	if err != nil {
		return fmt.Errorf("encode status for %s: %w", w.WorkerID, err)
	}

	target := s.filePath(w.WorkerID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp status file for %s: %w", w.WorkerID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename status file for %s: %w", w.WorkerID, err)
	}
	return nil
}

// UpdateStatus performs a read-modify-write transition: it loads the
// existing record (or starts a fresh Starting record if none/corrupt exists),
// sets Status and LastActivity=now, and writes it back.
func (s *Store) UpdateStatus(workerID string, newStatus types.WorkerStatus) error {
	existing, err := s.Read(workerID)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &types.WorkerStatusInfo{WorkerID: workerID, Status: types.WorkerStarting}
	}
	existing.Status = newStatus
	now := time.Now()
	existing.LastActivity = &now
	return s.Write(existing)
}

// PauseWorker transitions a single worker to Paused.
func (s *Store) PauseWorker(workerID string) error {
	return s.UpdateStatus(workerID, types.WorkerPaused)
}

// ResumeWorker transitions a single worker to Idle.
func (s *Store) ResumeWorker(workerID string) error {
	return s.UpdateStatus(workerID, types.WorkerIdle)
}

// PauseAll pauses every worker not already in {Paused, Stopped, Failed}, in
// sorted worker_id order, and returns the number paused.
func (s *Store) PauseAll() (int, error) {
	all, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, w := range all {
		switch w.Status {
		case types.WorkerPaused, types.WorkerStopped, types.WorkerFailed:
			continue
		}
		if err := s.PauseWorker(w.WorkerID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ResumeAll resumes every worker currently Paused, in sorted worker_id
// order, and returns the number resumed.
func (s *Store) ResumeAll() (int, error) {
	all, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, w := range all {
		if w.Status != types.WorkerPaused {
			continue
		}
		if err := s.ResumeWorker(w.WorkerID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
