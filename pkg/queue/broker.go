// Package queue implements the Queue Broker (part of component C1): four
// physically distinct named queues (alerts, monitoring, snmp,
// maintenance), each an independent Go channel with its own capacity —
// there is deliberately no shared channel and no work-stealing between
// queues, which is what gives the isolation guarantee its teeth (a SNMP
// backlog cannot starve alert evaluation). Every enqueue is additionally
// mirrored to a storage.Store so a broker restart can replay tasks that
// were durably enqueued but never picked up.
package queue

import (
	"context"
	"fmt"

	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/metrics"
	"github.com/wardflux/netmon/pkg/storage"
	"github.com/wardflux/netmon/pkg/types"
)

// defaultCapacity is the channel buffer size for one named queue. Tasks beyond
// this depth are rejected rather than blocking the scheduler tick that
// produced them.
const defaultCapacity = 1024

// Broker owns the four named queues and their durable mirror.
type Broker struct {
	queues map[types.QueueName]chan types.Task
	store  storage.Store
	closed chan struct{}
}

// NewBroker creates a Broker with one buffered channel per QueueName and
// replays any tasks left over in store from a previous process's
// unfinished work.
func NewBroker(store storage.Store) (*Broker, error) {
	b := &Broker{
		queues: map[types.QueueName]chan types.Task{
			types.QueueAlerts:      make(chan types.Task, defaultCapacity),
			types.QueueMonitoring:  make(chan types.Task, defaultCapacity),
			types.QueueSNMP:        make(chan types.Task, defaultCapacity),
			types.QueueMaintenance: make(chan types.Task, defaultCapacity),
		},
		store:  store,
		closed: make(chan struct{}),
	}

	if err := b.replay(); err != nil {
		return nil, fmt.Errorf("replay pending tasks: %w", err)
	}
	return b, nil
}

func (b *Broker) replay() error {
	pending, err := b.store.PendingTasks()
	if err != nil {
		return err
	}
	logger := log.WithComponent("queue")
	for _, task := range pending {
		ch, ok := b.queues[task.Queue]
		if !ok {
			continue
		}
		select {
		case ch <- task:
			logger.Info().Str("task_id", task.ID).Str("queue", string(task.Queue)).Msg("replayed durably-mirrored task after restart")
		default:
			logger.Warn().Str("task_id", task.ID).Str("queue", string(task.Queue)).Msg("dropped replayed task: queue full")
		}
	}
	return nil
}

// Enqueue durably mirrors task and then routes it to its declared queue.
// A full queue drops the task and increments TasksDroppedTotal — the
// next scheduler tick will produce a fresh batch rather than blocking
// the caller.
func (b *Broker) Enqueue(ctx context.Context, task types.Task) error {
	if b.Closed() {
		return fmt.Errorf("broker closed, rejecting task %s", task.ID)
	}
	ch, ok := b.queues[task.Queue]
	if !ok {
		return fmt.Errorf("unknown queue %q for task %s", task.Queue, task.ID)
	}

	if err := b.store.EnqueueTask(task); err != nil {
		return fmt.Errorf("mirror task %s: %w", task.ID, err)
	}

	select {
	case ch <- task:
		metrics.TasksEnqueuedTotal.WithLabelValues(string(task.Queue), string(task.Kind)).Inc()
		metrics.QueueDepth.WithLabelValues(string(task.Queue)).Set(float64(len(ch)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		metrics.TasksDroppedTotal.WithLabelValues(string(task.Queue)).Inc()
		if err := b.store.CompleteTask(task.ID); err != nil {
			log.WithComponent("queue").Warn().Err(err).Str("task_id", task.ID).Msg("failed to clear mirror for dropped task")
		}
		return fmt.Errorf("queue %s full, dropped task %s", task.Queue, task.ID)
	}
}

// Channel returns the receive-only channel for name, for a worker pool
// to range over. Calling Channel does not remove it from the broker's
// bookkeeping — there is exactly one consumer pool per queue.
func (b *Broker) Channel(name types.QueueName) <-chan types.Task {
	return b.queues[name]
}

// Complete clears task's durable mirror once its result has been
// published by the worker that processed it.
func (b *Broker) Complete(taskID string) error {
	return b.store.CompleteTask(taskID)
}

// Close stops accepting new enqueues. It does not close the per-queue
// channels — in-flight workers continue draining whatever is already
// buffered until their own drain deadline elapses.
func (b *Broker) Close() {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
}

// Closed reports whether Close has been called.
func (b *Broker) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}
