package recovery

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkerAttempts = []byte("worker_attempts")
	bucketBeadAttempts   = []byte("bead_attempts")
	bucketRecentActions  = []byte("recent_actions")
)

// trackerRecord is AttemptTracker's wire shape; the unexported hasAttempt
// field is carried explicitly as has_attempt.
type trackerRecord struct {
	Attempts    uint8     `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	HasAttempt  bool      `json:"has_attempt"`
}

func toRecord(t AttemptTracker) trackerRecord {
	return trackerRecord{Attempts: t.Attempts, LastAttempt: t.LastAttempt, HasAttempt: t.hasAttempt}
}

func fromRecord(r trackerRecord) AttemptTracker {
	return AttemptTracker{Attempts: r.Attempts, LastAttempt: r.LastAttempt, hasAttempt: r.HasAttempt}
}

// actionRecord is Action's wire shape, keyed by an incrementing sequence
// number so ordering survives a restart.
type actionRecord struct {
	Seq    uint64 `json:"seq"`
	Action Action `json:"action"`
}

// Store persists attempt trackers and the recent-actions buffer across
// process restarts, so a crashed and relaunched manager doesn't forget
// cooldowns or reset a worker's attempt budget.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) a bbolt database at path with the
// buckets this package needs.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open recovery store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWorkerAttempts, bucketBeadAttempts, bucketRecentActions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) saveTracker(bucket []byte, entityID string, t AttemptTracker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(toRecord(t))
		if err != nil {
			return err
		}
		return b.Put([]byte(entityID), data)
	})
}

func (s *Store) loadTrackers(bucket []byte) (map[string]AttemptTracker, error) {
	out := make(map[string]AttemptTracker)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.ForEach(func(k, v []byte) error {
			var rec trackerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[string(k)] = fromRecord(rec)
			return nil
		})
	})
	return out, err
}

// SaveWorkerAttempts persists a single worker's attempt tracker.
func (s *Store) SaveWorkerAttempts(workerID string, t AttemptTracker) error {
	return s.saveTracker(bucketWorkerAttempts, workerID, t)
}

// SaveBeadAttempts persists a single bead's attempt tracker.
func (s *Store) SaveBeadAttempts(beadID string, t AttemptTracker) error {
	return s.saveTracker(bucketBeadAttempts, beadID, t)
}

// LoadWorkerAttempts returns every persisted worker attempt tracker, keyed
// by worker_id.
func (s *Store) LoadWorkerAttempts() (map[string]AttemptTracker, error) {
	return s.loadTrackers(bucketWorkerAttempts)
}

// LoadBeadAttempts returns every persisted bead attempt tracker, keyed by
// bead_id.
func (s *Store) LoadBeadAttempts() (map[string]AttemptTracker, error) {
	return s.loadTrackers(bucketBeadAttempts)
}

// AppendAction records an action in the persisted history, trimming the
// oldest entries once the bucket exceeds maxRecent.
func (s *Store) AppendAction(a Action, maxRecent int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecentActions)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(actionRecord{Seq: seq, Action: a})
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		return trimOldest(b, maxRecent)
	})
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

func trimOldest(b *bolt.Bucket, maxRecent int) error {
	if maxRecent <= 0 {
		return nil
	}
	count := b.Stats().KeyN
	excess := count - maxRecent
	if excess <= 0 {
		return nil
	}
	c := b.Cursor()
	k, _ := c.First()
	for i := 0; i < excess && k != nil; i++ {
		next, _ := c.Next()
		if err := b.Delete(k); err != nil {
			return err
		}
		k = next
	}
	return nil
}

// RecentActions returns every persisted action in insertion order.
func (s *Store) RecentActions() ([]Action, error) {
	var out []Action
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecentActions)
		return b.ForEach(func(_, v []byte) error {
			var rec actionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec.Action)
			return nil
		})
	})
	return out, err
}
