// Package worker implements the Worker Pools (component F): one fixed-size
// goroutine pool per named queue, draining that queue's channel and
// invoking a Handler for each task with a deadline derived from the
// task's cadence. Workers are recycled after a configurable task count
// to bound resident memory, and every worker-level error is caught at
// the task boundary — a handler failure becomes a logged warning, never
// a dropped task or a crashed pool.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/metrics"
	"github.com/wardflux/netmon/pkg/types"
)

// Handler processes one Task to completion. It must not suspend while
// holding a store transaction (see the worker contract's "acquire
// handle, read, release, do I/O, acquire, write" ordering) and must
// itself enforce ctx's deadline on any network probe it issues.
type Handler func(ctx context.Context, task types.Task) error

// Pool drains one named queue with a fixed number of worker goroutines.
type Pool struct {
	queue        types.QueueName
	handler      Handler
	size         int
	tasksPerChild int
	drainTimeout time.Duration

	wg sync.WaitGroup
}

// NewPool returns a Pool of size goroutines consuming from ch and
// invoking handler for each task. tasksPerChild bounds how many tasks a
// single goroutine processes before it exits and is replaced — this is
// the "worker recycling" mechanism, not a process restart.
func NewPool(queue types.QueueName, size, tasksPerChild int, drainTimeout time.Duration, handler Handler) *Pool {
	return &Pool{
		queue:         queue,
		handler:       handler,
		size:          size,
		tasksPerChild: tasksPerChild,
		drainTimeout:  drainTimeout,
	}
}

// Run launches size goroutines draining ch until ch is closed or ctx is
// cancelled. Run blocks until every goroutine has exited; callers
// typically invoke it in its own goroutine per pool.
func (p *Pool) Run(ctx context.Context, ch <-chan types.Task) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, ch)
	}
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, ch <-chan types.Task) {
	defer p.wg.Done()
	logger := log.WithComponent("worker." + string(p.queue))

	for processed := 0; ; {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-ch:
			if !ok {
				return
			}
			p.process(ctx, logger, task)

			processed++
			if p.tasksPerChild > 0 && processed >= p.tasksPerChild {
				metrics.WorkerRecycledTotal.WithLabelValues(string(p.queue)).Inc()
				logger.Info().Int("tasks_processed", processed).Msg("recycling worker goroutine")
				p.wg.Add(1)
				go p.runWorker(ctx, ch)
				return
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, logger zerolog.Logger, task types.Task) {
	timer := metrics.NewTimer()

	taskCtx := ctx
	var cancel context.CancelFunc
	if !task.Deadline.IsZero() {
		taskCtx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}

	err := p.handler(taskCtx, task)
	timer.ObserveDurationVec(metrics.WorkerTaskDuration, string(p.queue), string(task.Kind))

	if err != nil {
		logger.Warn().Err(err).Str("task_id", task.ID).Str("kind", string(task.Kind)).
			Int("device_count", len(task.DeviceIDs)).Msg("task handler returned an error")
		return
	}
	logger.Info().Str("task_id", task.ID).Str("kind", string(task.Kind)).
		Int("device_count", len(task.DeviceIDs)).Dur("duration", timer.Duration()).Msg("task completed")
}
