package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wardflux/netmon/pkg/batch"
	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/types"
)

type fakeStore struct {
	mu       sync.Mutex
	lastFire map[types.TaskKind]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{lastFire: make(map[types.TaskKind]int64)}
}

func (f *fakeStore) EnqueueTask(types.Task) error   { return nil }
func (f *fakeStore) CompleteTask(string) error      { return nil }
func (f *fakeStore) PendingTasks() ([]types.Task, error) { return nil, nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) SetLastFire(kind types.TaskKind, unixSec int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFire[kind] = unixSec
	return nil
}

func (f *fakeStore) LastFire(kind types.TaskKind) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.lastFire[kind]
	return v, ok, nil
}

// fakeBroker is a bare-bones Enqueuer backed by unbuffered-enough plain
// channels, so tests can both enqueue and inspect queue depth directly.
type fakeBroker struct {
	mu      sync.Mutex
	queues  map[types.QueueName]chan types.Task
	enqueued []types.Task
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues: map[types.QueueName]chan types.Task{
			types.QueueAlerts:      make(chan types.Task, 64),
			types.QueueMonitoring:  make(chan types.Task, 64),
			types.QueueSNMP:        make(chan types.Task, 64),
			types.QueueMaintenance: make(chan types.Task, 64),
		},
	}
}

func (f *fakeBroker) Enqueue(ctx context.Context, task types.Task) error {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, task)
	f.mu.Unlock()
	f.queues[task.Queue] <- task
	return nil
}

func (f *fakeBroker) Channel(name types.QueueName) <-chan types.Task {
	return f.queues[name]
}

func (f *fakeBroker) drain(name types.QueueName, n int) {
	for i := 0; i < n; i++ {
		<-f.queues[name]
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ICMP.IntervalSec = 10
	cfg.SNMP.IntervalSec = 60
	cfg.Alert.EvaluationIntervalSec = 10
	return cfg
}

func devicesOf(ids ...string) DeviceSource {
	return func(ctx context.Context) ([]types.DeviceID, error) {
		out := make([]types.DeviceID, len(ids))
		for i, id := range ids {
			out[i] = types.DeviceID(id)
		}
		return out, nil
	}
}

func TestFirePartitionsDeviceScopedCadence(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	planner := batch.NewPlanner()
	s := New(testConfig(), store, broker, planner, devicesOf("d1", "d2", "d3"), devicesOf())

	cad := s.cadences()[0] // icmp
	s.fire(context.Background(), cad)

	if len(broker.enqueued) == 0 {
		t.Fatal("fire() enqueued no tasks for a non-empty device set")
	}
	var total int
	for _, task := range broker.enqueued {
		total += len(task.DeviceIDs)
		if task.Kind != types.TaskICMPBatch {
			t.Errorf("task.Kind = %q, want %q", task.Kind, types.TaskICMPBatch)
		}
		if task.Queue != types.QueueMonitoring {
			t.Errorf("task.Queue = %q, want %q", task.Queue, types.QueueMonitoring)
		}
	}
	if total != 3 {
		t.Errorf("partitioned %d device IDs total, want 3", total)
	}

	if _, ok, _ := store.LastFire(types.TaskICMPBatch); !ok {
		t.Error("fire() did not persist a last-fire time")
	}
}

func TestFireWholeSystemCadenceIgnoresDevices(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	planner := batch.NewPlanner()
	s := New(testConfig(), store, broker, planner, devicesOf(), devicesOf())

	var alertCad cadence
	for _, c := range s.cadences() {
		if c.name == "alert_evaluation" {
			alertCad = c
		}
	}
	s.fire(context.Background(), alertCad)

	if len(broker.enqueued) != 1 {
		t.Fatalf("enqueued %d tasks for a whole-system cadence, want 1", len(broker.enqueued))
	}
	if len(broker.enqueued[0].DeviceIDs) != 0 {
		t.Errorf("whole-system task carries %d device IDs, want 0", len(broker.enqueued[0].DeviceIDs))
	}
}

func TestFireEmptyDeviceSetEnqueuesNothing(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	planner := batch.NewPlanner()
	s := New(testConfig(), store, broker, planner, devicesOf(), devicesOf())

	s.fire(context.Background(), s.cadences()[0])

	if len(broker.enqueued) != 0 {
		t.Errorf("enqueued %d tasks for an empty device set, want 0", len(broker.enqueued))
	}
}

func TestFireSkipsWhenPreviousBatchStillDraining(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	planner := batch.NewPlanner()
	s := New(testConfig(), store, broker, planner, devicesOf("d1"), devicesOf())

	base := time.Now()
	s.now = func() time.Time { return base }

	cad := s.cadences()[0]
	s.fire(context.Background(), cad) // first fire, leaves one task sitting in the channel

	before := len(broker.enqueued)
	s.now = func() time.Time { return base.Add(cad.interval) } // one interval later, still well under 2x
	s.fire(context.Background(), cad)

	if len(broker.enqueued) != before {
		t.Errorf("fire() enqueued while the previous batch's queue was still non-empty")
	}
}

func TestFireForcesAfterStallExceeds2xCadence(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	planner := batch.NewPlanner()
	s := New(testConfig(), store, broker, planner, devicesOf("d1"), devicesOf())

	base := time.Now()
	s.now = func() time.Time { return base }

	cad := s.cadences()[0]
	s.fire(context.Background(), cad)

	before := len(broker.enqueued)
	s.now = func() time.Time { return base.Add(3 * cad.interval) }
	s.fire(context.Background(), cad)

	if len(broker.enqueued) <= before {
		t.Error("fire() did not force a new cycle once the stall exceeded 2x cadence")
	}
}

func TestFireDrainedQueueDoesNotSkip(t *testing.T) {
	store := newFakeStore()
	broker := newFakeBroker()
	planner := batch.NewPlanner()
	s := New(testConfig(), store, broker, planner, devicesOf("d1"), devicesOf())

	base := time.Now()
	s.now = func() time.Time { return base }

	cad := s.cadences()[0]
	s.fire(context.Background(), cad)
	broker.drain(cad.queue, len(broker.enqueued))

	before := len(broker.enqueued)
	s.now = func() time.Time { return base.Add(cad.interval) }
	s.fire(context.Background(), cad)

	if len(broker.enqueued) <= before {
		t.Error("fire() skipped even though the previous batch's queue had fully drained")
	}
}

// A fresh Scheduler instance (as built after a process restart) must
// still honor the pile-up guard for a cadence whose last-fire time was
// persisted by the previous process, not start blind with an empty map.
func TestNewLoadsPersistedLastFireSoRestartDoesNotDoubleFire(t *testing.T) {
	store := newFakeStore()
	base := time.Now()

	planner := batch.NewPlanner()
	cfg := testConfig()
	icmpInterval := cfg.ICMP.Interval()
	if err := store.SetLastFire(types.TaskICMPBatch, base.Unix()); err != nil {
		t.Fatalf("SetLastFire: %v", err)
	}

	broker := newFakeBroker()
	s := New(cfg, store, broker, planner, devicesOf("d1"), devicesOf())
	s.now = func() time.Time { return base.Add(icmpInterval) } // one interval later, well under 2x

	cad := s.cadences()[0] // icmp
	broker.queues[cad.queue] <- types.Task{} // a task "left over" from before the restart

	s.fire(context.Background(), cad)

	if len(broker.enqueued) != 0 {
		t.Error("fire() should have skipped: the persisted last-fire time from before the restart should still be honored")
	}
}

func TestNextDailyOccurrence(t *testing.T) {
	now := time.Date(2026, 7, 29, 1, 0, 0, 0, time.UTC)
	next := nextDailyOccurrence(now, 3)
	want := time.Date(2026, 7, 29, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextDailyOccurrence(01:00, 3) = %v, want %v", next, want)
	}

	now = time.Date(2026, 7, 29, 5, 0, 0, 0, time.UTC)
	next = nextDailyOccurrence(now, 3)
	want = time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextDailyOccurrence(05:00, 3) = %v, want %v (next day)", next, want)
	}
}
