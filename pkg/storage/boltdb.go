package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/wardflux/netmon/pkg/types"
)

var (
	bucketTasks     = []byte("tasks")
	bucketScheduler = []byte("scheduler")
)

// BoltStore is the embedded-database Store implementation: a single
// local file, no network round trip, adequate for mirroring tens of
// thousands of in-flight tasks and a handful of cadence timestamps.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "netmon-scheduler.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketScheduler} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// taskKey sorts lexicographically in enqueue order: a zero-padded
// nanosecond timestamp prefix followed by the task ID disambiguates
// same-instant enqueues without requiring a separate sequence counter.
func taskKey(task types.Task) []byte {
	return []byte(fmt.Sprintf("%020d_%s", task.EnqueuedAt.UnixNano(), task.ID))
}

// EnqueueTask mirrors task into the durable bucket.
func (s *BoltStore) EnqueueTask(task types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", task.ID, err)
		}
		return tx.Bucket(bucketTasks).Put(taskKey(task), data)
	})
}

// CompleteTask removes task's mirror once its result has been published.
// It scans for the key since the caller only has the task ID, not the
// full enqueue-time key; the task bucket is small enough (bounded by
// in-flight tasks, not historical ones) that this is not a hot path.
func (s *BoltStore) CompleteTask(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		c := b.Cursor()
		suffix := []byte("_" + taskID)
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if hasSuffix(k, suffix) {
				return b.Delete(k)
			}
		}
		return nil
	})
}

func hasSuffix(b, suffix []byte) bool {
	if len(b) < len(suffix) {
		return false
	}
	return string(b[len(b)-len(suffix):]) == string(suffix)
}

// PendingTasks returns every durably-mirrored, not-yet-completed task in
// enqueue order.
func (s *BoltStore) PendingTasks() ([]types.Task, error) {
	var tasks []types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("unmarshal task at key %s: %w", k, err)
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	return tasks, err
}

// SetLastFire records the last time kind fired.
func (s *BoltStore) SetLastFire(kind types.TaskKind, unixSec int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := []byte(fmt.Sprintf("%d", unixSec))
		return tx.Bucket(bucketScheduler).Put([]byte(kind), buf)
	})
}

// LastFire returns the last recorded fire time for kind.
func (s *BoltStore) LastFire(kind types.TaskKind) (int64, bool, error) {
	var unixSec int64
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketScheduler).Get([]byte(kind))
		if data == nil {
			return nil
		}
		found = true
		_, err := fmt.Sscanf(string(data), "%d", &unixSec)
		return err
	})
	return unixSec, found, err
}
