package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/wardflux/netmon/pkg/ifclass"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/probe"
	"github.com/wardflux/netmon/pkg/tsdb"
	"github.com/wardflux/netmon/pkg/types"
)

// InterfaceWalker is the slice of *probe.Walker the interface tasks need.
type InterfaceWalker interface {
	Interfaces(dev types.Device, cred types.SNMPCredential) ([]probe.InterfaceSample, error)
}

// CredentialResolver resolves the SNMP credential record assigned to a
// device, the same narrow shape probe.NewSNMPDriver already takes.
type CredentialResolver func(types.Device) (types.SNMPCredential, bool)

// InterfaceMetricsSink publishes one interface's counters for one poll;
// implementations typically close over a *gateway.Gateway.
type InterfaceMetricsSink func(sample tsdb.InterfaceSample)

// InterfaceMetricsHandler returns a Handler that walks each batch
// device's interface table and publishes HC octet/error/discard counters
// to the TSDB, per the interface-metrics cadence in spec.md §3.
func InterfaceMetricsHandler(walker InterfaceWalker, credentialOf CredentialResolver, lookup DeviceLookup, sink InterfaceMetricsSink) Handler {
	return func(ctx context.Context, task types.Task) error {
		devices, err := lookup(ctx, task.DeviceIDs)
		if err != nil {
			return fmt.Errorf("look up devices for task %s: %w", task.ID, err)
		}
		now := time.Now().UTC()
		logger := log.WithComponent("worker.interface_metrics")
		for _, dev := range devices {
			cred, ok := credentialOf(dev)
			if !ok {
				continue
			}
			samples, err := walker.Interfaces(dev, cred)
			if err != nil {
				logger.Warn().Err(err).Str("device_id", string(dev.ID)).Msg("interface metrics walk failed")
				continue
			}
			for _, s := range samples {
				sink(tsdb.InterfaceSample{
					DeviceID:    dev.ID,
					IfIndex:     s.IfIndex,
					Timestamp:   now,
					InOctets:    s.HCInOctets,
					OutOctets:   s.HCOutOctets,
					InErrors:    s.InErrors,
					OutErrors:   s.OutErrors,
					InDiscards:  s.InDiscards,
					OutDiscards: s.OutDiscards,
				})
			}
		}
		return nil
	}
}

// InterfaceStore persists a device's discovered interfaces.
type InterfaceStore interface {
	UpsertInterfaces(ctx context.Context, deviceID types.DeviceID, ifaces []types.Interface) error
}

// InterfaceDiscoveryHandler returns a Handler that walks each batch
// device's interface table, classifies every interface found (see
// pkg/ifclass), and replaces its stored interface set.
func InterfaceDiscoveryHandler(walker InterfaceWalker, credentialOf CredentialResolver, lookup DeviceLookup, store InterfaceStore) Handler {
	return func(ctx context.Context, task types.Task) error {
		devices, err := lookup(ctx, task.DeviceIDs)
		if err != nil {
			return fmt.Errorf("look up devices for task %s: %w", task.ID, err)
		}
		logger := log.WithComponent("worker.interface_discovery")
		for _, dev := range devices {
			cred, ok := credentialOf(dev)
			if !ok {
				continue
			}
			samples, err := walker.Interfaces(dev, cred)
			if err != nil {
				logger.Warn().Err(err).Str("device_id", string(dev.ID)).Msg("interface discovery walk failed")
				continue
			}
			ifaces := make([]types.Interface, 0, len(samples))
			for _, s := range samples {
				kind, ispProvider, critical := ifclass.Classify(s.IfDescr, s.IfAlias)
				ifaces = append(ifaces, types.Interface{
					DeviceID:    dev.ID,
					IfIndex:     s.IfIndex,
					IfName:      s.IfDescr,
					IfAlias:     s.IfAlias,
					AdminStatus: s.AdminStatus,
					OperStatus:  s.OperStatus,
					SpeedBps:    s.SpeedBps,
					Type:        kind,
					ISPProvider: ispProvider,
					IsCritical:  critical,
				})
			}
			if err := store.UpsertInterfaces(ctx, dev.ID, ifaces); err != nil {
				return fmt.Errorf("persist interfaces for device %s: %w", dev.ID, err)
			}
		}
		return nil
	}
}

// AlertRunner is the slice of *alert.Evaluator the alerts-queue handler
// drives.
type AlertRunner interface {
	RunCycle(ctx context.Context) error
}

// AlertEvaluationHandler returns a Handler that runs one alert
// evaluation pass. Alert evaluation also runs on its own in-process
// ticker (alert.Evaluator.Run); scheduling it as a task in addition
// guarantees it still executes under the worker pool's metrics,
// deadline, and recycling machinery like every other task kind.
func AlertEvaluationHandler(evaluator AlertRunner) Handler {
	return func(ctx context.Context, task types.Task) error {
		return evaluator.RunCycle(ctx)
	}
}

// RetentionCleaner runs the daily retention sweep over relational history.
type RetentionCleaner interface {
	CleanupExpired(ctx context.Context, retentionDays int) (int64, error)
}

// TriggerDecayer decays alert_rules.count_24h/count_7d counters.
type TriggerDecayer interface {
	DecayTriggerStats(ctx context.Context, resetWeekly bool) error
}

// CleanupHandler returns a Handler for the daily retention cadence: it
// runs cleaner's retention sweep with a retentionDays cutoff (the
// Gateway's sweep deletes resolved alert_history rows) and decays the
// rolling trigger-count windows every rule carries, per spec.md §4.2's
// count_24h/count_7d fields. resetWeekly is true once a week so count_7d
// decays on its own slower cadence instead of every run.
func CleanupHandler(cleaner RetentionCleaner, decayer TriggerDecayer, retentionDays int, weeklyResetDay time.Weekday) Handler {
	return func(ctx context.Context, task types.Task) error {
		deleted, err := cleaner.CleanupExpired(ctx, retentionDays)
		if err != nil {
			return fmt.Errorf("cleanup expired history: %w", err)
		}
		log.WithComponent("worker.cleanup").Info().Int64("rows_deleted", deleted).Msg("retention cleanup complete")

		resetWeekly := time.Now().UTC().Weekday() == weeklyResetDay
		if err := decayer.DecayTriggerStats(ctx, resetWeekly); err != nil {
			return fmt.Errorf("decay alert trigger stats: %w", err)
		}
		return nil
	}
}

// ComponentPinger exercises one dependency enough to prove it is alive;
// implementations wrap a cheap read against their own store.
type ComponentPinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter records a dependency's health for the readiness surface.
type HealthReporter func(component string, healthy bool, message string)

// HealthSelfCheckHandler returns a Handler that probes every registered
// dependency and republishes its status through report, so a degraded
// relational pool or TSDB connection shows up on /ready within one
// health-self-check cadence even between probe cycles.
func HealthSelfCheckHandler(components map[string]ComponentPinger, report HealthReporter) Handler {
	return func(ctx context.Context, task types.Task) error {
		var firstErr error
		for name, pinger := range components {
			err := pinger.Ping(ctx)
			msg := "ok"
			if err != nil {
				msg = err.Error()
				if firstErr == nil {
					firstErr = err
				}
			}
			report(name, err == nil, msg)
		}
		return firstErr
	}
}
