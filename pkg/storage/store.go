package storage

import "github.com/wardflux/netmon/pkg/types"

// Store is the durable-mirror contract backing the queue broker and the
// scheduler. It exists so a process restart can tell which tasks were
// durably enqueued but never picked up, and when each cadence last fired
// — see spec.md §4.1's failure-semantics paragraph on broker restarts.
type Store interface {
	// EnqueueTask durably mirrors a task at enqueue time, before it is
	// handed to the in-memory channel.
	EnqueueTask(task types.Task) error

	// CompleteTask removes a task's durable mirror once a worker has
	// published its result. A task still present after a restart is
	// replayed.
	CompleteTask(taskID string) error

	// PendingTasks returns every durably-mirrored task not yet completed,
	// in enqueue order, for replay after a restart.
	PendingTasks() ([]types.Task, error)

	// SetLastFire records the time a given cadence last fired, keyed by
	// TaskKind, so a restart does not double-fire a cadence.
	SetLastFire(kind types.TaskKind, unixSec int64) error

	// LastFire returns the last recorded fire time for kind, and false
	// if the cadence has never fired in this store's lifetime.
	LastFire(kind types.TaskKind) (int64, bool, error)

	Close() error
}
