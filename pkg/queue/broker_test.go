package queue

import (
	"context"
	"testing"

	"github.com/wardflux/netmon/pkg/types"
)

type fakeStore struct {
	tasks    map[string]types.Task
	lastFire map[types.TaskKind]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]types.Task{}, lastFire: map[types.TaskKind]int64{}}
}

func (f *fakeStore) EnqueueTask(task types.Task) error {
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) CompleteTask(taskID string) error {
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeStore) PendingTasks() ([]types.Task, error) {
	var out []types.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) SetLastFire(kind types.TaskKind, unixSec int64) error {
	f.lastFire[kind] = unixSec
	return nil
}

func (f *fakeStore) LastFire(kind types.TaskKind) (int64, bool, error) {
	v, ok := f.lastFire[kind]
	return v, ok, nil
}

func (f *fakeStore) Close() error { return nil }

func TestEnqueueRoutesToDeclaredQueue(t *testing.T) {
	store := newFakeStore()
	b, err := NewBroker(store)
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}

	task := types.Task{ID: "t1", Kind: types.TaskICMPBatch, Queue: types.QueueMonitoring}
	if err := b.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case got := <-b.Channel(types.QueueMonitoring):
		if got.ID != "t1" {
			t.Errorf("got task %s, want t1", got.ID)
		}
	default:
		t.Fatal("expected task on monitoring queue")
	}

	select {
	case <-b.Channel(types.QueueAlerts):
		t.Fatal("task should not have been routed to alerts queue")
	default:
	}
}

func TestEnqueueUnknownQueueErrors(t *testing.T) {
	store := newFakeStore()
	b, err := NewBroker(store)
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}

	task := types.Task{ID: "t1", Queue: types.QueueName("bogus")}
	if err := b.Enqueue(context.Background(), task); err == nil {
		t.Error("Enqueue() with an unknown queue should error")
	}
}

func TestReplayOnRestart(t *testing.T) {
	store := newFakeStore()
	leftover := types.Task{ID: "t1", Kind: types.TaskSNMPBatch, Queue: types.QueueSNMP}
	if err := store.EnqueueTask(leftover); err != nil {
		t.Fatalf("EnqueueTask() error = %v", err)
	}

	b, err := NewBroker(store)
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}

	select {
	case got := <-b.Channel(types.QueueSNMP):
		if got.ID != "t1" {
			t.Errorf("replayed task ID = %s, want t1", got.ID)
		}
	default:
		t.Fatal("expected the leftover task to be replayed onto the snmp queue")
	}
}

func TestCompleteClearsMirror(t *testing.T) {
	store := newFakeStore()
	b, err := NewBroker(store)
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}

	task := types.Task{ID: "t1", Queue: types.QueueAlerts}
	if err := b.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := b.Complete("t1"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	pending, _ := store.PendingTasks()
	if len(pending) != 0 {
		t.Errorf("PendingTasks() after Complete = %d, want 0", len(pending))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store := newFakeStore()
	b, err := NewBroker(store)
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}

	b.Close()
	b.Close()

	if !b.Closed() {
		t.Error("Closed() = false after Close()")
	}
}
