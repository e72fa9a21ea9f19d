package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardflux/netmon/pkg/batch"
	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/metrics"
	"github.com/wardflux/netmon/pkg/storage"
	"github.com/wardflux/netmon/pkg/types"
)

// Enqueuer is the slice of queue.Broker the scheduler depends on. Kept
// as an interface so tests can substitute an in-memory fake.
type Enqueuer interface {
	Enqueue(ctx context.Context, task types.Task) error
	Channel(name types.QueueName) <-chan types.Task
}

// DeviceSource returns the device IDs a device-scoped cadence should
// sweep this tick (e.g. all enabled devices, or only those with SNMP
// monitoring enabled).
type DeviceSource func(ctx context.Context) ([]types.DeviceID, error)

// cadence describes one named timer: how often it fires, which queue and
// task kind it produces, how long a fired task may run before its
// context is cancelled, and (for device-scoped cadences) where to pull
// the device set from.
type cadence struct {
	name     string
	interval time.Duration
	queue    types.QueueName
	kind     types.TaskKind
	deadline time.Duration
	devices  DeviceSource
}

// Scheduler owns one timer per cadence and turns each fire into one or
// more Tasks on the broker.
type Scheduler struct {
	cfg     config.Config
	store   storage.Store
	broker  Enqueuer
	planner *batch.Planner
	logger  zerolog.Logger

	icmpDevices DeviceSource
	snmpDevices DeviceSource

	now func() time.Time

	mu         sync.Mutex
	lastFireAt map[string]time.Time
	tick       map[string]uint64
}

// New builds a Scheduler for every cadence named in spec.md §5's table.
// icmpDevices should return every enabled device; snmpDevices should
// return only those with MonitoringMode snmp or both.
func New(cfg config.Config, store storage.Store, broker Enqueuer, planner *batch.Planner, icmpDevices, snmpDevices DeviceSource) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		store:       store,
		broker:      broker,
		planner:     planner,
		logger:      log.WithComponent("scheduler"),
		icmpDevices: icmpDevices,
		snmpDevices: snmpDevices,
		now:         time.Now,
		lastFireAt:  make(map[string]time.Time),
		tick:        make(map[string]uint64),
	}
	s.loadLastFireAt()
	return s
}

// loadLastFireAt seeds lastFireAt from each cadence's persisted last-fire
// time, so the pile-up guard in fire() still applies on the very first
// tick after a process restart instead of starting blind (spec.md's
// "persists its last-fire times so a restart does not double-fire").
func (s *Scheduler) loadLastFireAt() {
	cads := append(s.cadences(), cadence{name: "cleanup", kind: types.TaskCleanup})
	for _, cad := range cads {
		unixSec, ok, err := s.store.LastFire(cad.kind)
		if err != nil {
			s.logger.Error().Err(err).Str("cadence", cad.name).Msg("failed to load persisted last fire time")
			continue
		}
		if !ok {
			continue
		}
		s.lastFireAt[cad.name] = time.Unix(unixSec, 0).UTC()
	}
}

func (s *Scheduler) cadences() []cadence {
	return []cadence{
		{
			name:     "icmp",
			interval: s.cfg.ICMP.Interval(),
			queue:    types.QueueMonitoring,
			kind:     types.TaskICMPBatch,
			deadline: s.cfg.ICMP.Interval(),
			devices:  s.icmpDevices,
		},
		{
			name:     "snmp_poll",
			interval: s.cfg.SNMP.Interval(),
			queue:    types.QueueSNMP,
			kind:     types.TaskSNMPBatch,
			deadline: s.cfg.SNMP.Interval(),
			devices:  s.snmpDevices,
		},
		{
			name:     "interface_metrics",
			interval: s.cfg.SNMP.Interval(),
			queue:    types.QueueSNMP,
			kind:     types.TaskInterfaceMetrics,
			deadline: s.cfg.SNMP.Interval(),
			devices:  s.snmpDevices,
		},
		{
			name:     "alert_evaluation",
			interval: s.cfg.Alert.EvaluationInterval(),
			queue:    types.QueueAlerts,
			kind:     types.TaskAlertEvaluation,
			deadline: s.cfg.Alert.EvaluationInterval(),
			devices:  nil,
		},
		{
			name:     "interface_discovery",
			interval: time.Duration(s.cfg.Scheduler.InterfaceDiscoveryHours) * time.Hour,
			queue:    types.QueueSNMP,
			kind:     types.TaskInterfaceDiscover,
			deadline: 10 * time.Minute,
			devices:  s.snmpDevices,
		},
		{
			name:     "health_self_check",
			interval: time.Duration(s.cfg.Scheduler.HealthSelfCheckMinutes) * time.Minute,
			queue:    types.QueueMaintenance,
			kind:     types.TaskHealthSelfCheck,
			deadline: time.Minute,
			devices:  nil,
		},
	}
}

// Run starts every cadence's timer and blocks until ctx is cancelled.
// Cleanup is scheduled separately since it fires at a fixed local clock
// hour rather than on a fixed interval.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, cad := range s.cadences() {
		cad := cad
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTicker(ctx, cad)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runDaily(ctx, cadence{
			name:     "cleanup",
			queue:    types.QueueMaintenance,
			kind:     types.TaskCleanup,
			deadline: 30 * time.Minute,
		}, s.cfg.Scheduler.CleanupHourLocal)
	}()

	wg.Wait()
}

func (s *Scheduler) runTicker(ctx context.Context, cad cadence) {
	if cad.interval <= 0 {
		s.logger.Warn().Str("cadence", cad.name).Msg("cadence interval is zero, not scheduling")
		return
	}

	ticker := time.NewTicker(cad.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, cad)
		}
	}
}

// runDaily fires cad once per day at hourLocal:00 in the process's local
// timezone, re-arming a fresh timer for the following day after each
// fire. At startup, if today's slot has already passed, the first fire
// is at that hour on the following day.
func (s *Scheduler) runDaily(ctx context.Context, cad cadence, hourLocal int) {
	for {
		next := nextDailyOccurrence(s.now(), hourLocal)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			cad.interval = 24 * time.Hour
			s.fire(ctx, cad)
		}
	}
}

func nextDailyOccurrence(now time.Time, hourLocal int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourLocal, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// fire runs one cycle of cad: it checks the pile-up guard, pulls the
// device set (if any), asks the Batch Planner to partition it, and
// enqueues one Task per partition (or a single whole-system Task for
// cadences with no device source).
func (s *Scheduler) fire(ctx context.Context, cad cadence) {
	now := s.now()

	s.mu.Lock()
	last, seen := s.lastFireAt[cad.name]
	s.mu.Unlock()

	if seen && len(s.broker.Channel(cad.queue)) > 0 {
		elapsed := now.Sub(last)
		if elapsed < 2*cad.interval {
			metrics.SchedulerSkippedTotal.WithLabelValues(cad.name).Inc()
			s.logger.Warn().Str("cadence", cad.name).Dur("elapsed", elapsed).
				Msg("previous batch still draining, skipping this tick")
			return
		}
		s.logger.Error().Str("cadence", cad.name).Dur("elapsed", elapsed).
			Msg("previous batch exceeded 2x cadence without draining, forcing a new cycle anyway")
	}

	var tasks []types.Task
	if cad.devices != nil {
		ids, err := cad.devices(ctx)
		if err != nil {
			s.logger.Error().Err(err).Str("cadence", cad.name).Msg("failed to load device set for cadence")
			return
		}
		if len(ids) == 0 {
			return
		}

		s.mu.Lock()
		s.tick[cad.name]++
		tick := s.tick[cad.name]
		s.mu.Unlock()

		plan := s.planner.Plan(ids, tick)
		for _, partition := range plan.Partitions {
			if len(partition) == 0 {
				continue
			}
			tasks = append(tasks, types.Task{
				ID:         uuid.New().String(),
				Kind:       cad.kind,
				Queue:      cad.queue,
				DeviceIDs:  partition,
				Deadline:   now.Add(cad.deadline),
				EnqueuedAt: now,
			})
		}
	} else {
		tasks = append(tasks, types.Task{
			ID:         uuid.New().String(),
			Kind:       cad.kind,
			Queue:      cad.queue,
			Deadline:   now.Add(cad.deadline),
			EnqueuedAt: now,
		})
	}

	for _, task := range tasks {
		if err := s.broker.Enqueue(ctx, task); err != nil {
			s.logger.Error().Err(err).Str("cadence", cad.name).Str("task_id", task.ID).
				Msg("failed to enqueue task")
		}
	}

	metrics.SchedulerCyclesTotal.WithLabelValues(cad.name).Inc()

	s.mu.Lock()
	s.lastFireAt[cad.name] = now
	s.mu.Unlock()

	if err := s.store.SetLastFire(cad.kind, now.Unix()); err != nil {
		s.logger.Error().Err(err).Str("cadence", cad.name).Msg("failed to persist last fire time")
	}
}
