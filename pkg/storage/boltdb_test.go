package storage

import (
	"testing"
	"time"

	"github.com/wardflux/netmon/pkg/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnqueueAndPendingTasks(t *testing.T) {
	store := openTestStore(t)

	t1 := types.Task{ID: "t1", Kind: types.TaskICMPBatch, Queue: types.QueueMonitoring, EnqueuedAt: time.Unix(100, 0)}
	t2 := types.Task{ID: "t2", Kind: types.TaskSNMPBatch, Queue: types.QueueSNMP, EnqueuedAt: time.Unix(200, 0)}

	if err := store.EnqueueTask(t1); err != nil {
		t.Fatalf("EnqueueTask(t1) error = %v", err)
	}
	if err := store.EnqueueTask(t2); err != nil {
		t.Fatalf("EnqueueTask(t2) error = %v", err)
	}

	pending, err := store.PendingTasks()
	if err != nil {
		t.Fatalf("PendingTasks() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("PendingTasks() returned %d tasks, want 2", len(pending))
	}
	if pending[0].ID != "t1" || pending[1].ID != "t2" {
		t.Errorf("PendingTasks() order = [%s, %s], want [t1, t2]", pending[0].ID, pending[1].ID)
	}
}

func TestCompleteTaskRemovesMirror(t *testing.T) {
	store := openTestStore(t)

	task := types.Task{ID: "t1", Kind: types.TaskICMPBatch, Queue: types.QueueMonitoring, EnqueuedAt: time.Unix(100, 0)}
	if err := store.EnqueueTask(task); err != nil {
		t.Fatalf("EnqueueTask() error = %v", err)
	}
	if err := store.CompleteTask("t1"); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	pending, err := store.PendingTasks()
	if err != nil {
		t.Fatalf("PendingTasks() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("PendingTasks() after CompleteTask = %d tasks, want 0", len(pending))
	}
}

func TestLastFireRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if _, found, err := store.LastFire(types.TaskAlertEvaluation); err != nil || found {
		t.Fatalf("LastFire() on unseen kind: found=%v err=%v, want found=false", found, err)
	}

	if err := store.SetLastFire(types.TaskAlertEvaluation, 1234567890); err != nil {
		t.Fatalf("SetLastFire() error = %v", err)
	}

	got, found, err := store.LastFire(types.TaskAlertEvaluation)
	if err != nil {
		t.Fatalf("LastFire() error = %v", err)
	}
	if !found {
		t.Fatal("LastFire() found = false, want true")
	}
	if got != 1234567890 {
		t.Errorf("LastFire() = %d, want 1234567890", got)
	}
}
