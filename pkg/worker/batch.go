package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wardflux/netmon/pkg/metrics"
	"github.com/wardflux/netmon/pkg/probe"
	"github.com/wardflux/netmon/pkg/types"
)

// DeviceLookup reads the minimum device state a batch task needs (IP,
// monitoring mode) without holding a store transaction past the lookup
// itself — step (ii)/(iii) of the worker contract.
type DeviceLookup func(ctx context.Context, ids []types.DeviceID) ([]types.Device, error)

// ResultSink publishes completed ProbeResults, reopening a store handle
// per the worker contract's step (v). Implementations typically fan out
// to both the State Machine and the Gateway.
type ResultSink func(ctx context.Context, results []types.ProbeResult) error

// maxConcurrentProbes bounds in-flight probes within one worker's batch
// task so a 500-device batch does not spawn 500 OS threads; probe I/O
// itself is cooperative (network round trips), only the fan-out width
// is capped.
const maxConcurrentProbes = 64

// ICMPBatchHandler returns a Handler that looks up the batch's devices,
// pings each one concurrently (bounded by maxConcurrentProbes), and
// publishes the resulting ProbeResults.
func ICMPBatchHandler(driver *probe.ICMPDriver, lookup DeviceLookup, sink ResultSink) Handler {
	return func(ctx context.Context, task types.Task) error {
		return runBatch(ctx, task, driver, lookup, sink)
	}
}

// SNMPBatchHandler returns a Handler identical in shape to
// ICMPBatchHandler but driving SNMP GETs instead of ICMP echoes.
func SNMPBatchHandler(driver *probe.SNMPDriver, lookup DeviceLookup, sink ResultSink) Handler {
	return func(ctx context.Context, task types.Task) error {
		return runBatch(ctx, task, driver, lookup, sink)
	}
}

func runBatch(ctx context.Context, task types.Task, driver probe.Driver, lookup DeviceLookup, sink ResultSink) error {
	devices, err := lookup(ctx, task.DeviceIDs)
	if err != nil {
		return fmt.Errorf("look up devices for task %s: %w", task.ID, err)
	}

	results := make([]types.ProbeResult, len(devices))
	sem := semaphore.NewWeighted(maxConcurrentProbes)
	g, gctx := errgroup.WithContext(ctx)

	for i, dev := range devices {
		i, dev := i, dev
		if err := sem.Acquire(gctx, 1); err != nil {
			_ = g.Wait()
			return fmt.Errorf("batch task %s: %w", task.ID, err)
		}
		g.Go(func() error {
			defer sem.Release(1)

			timer := metrics.NewTimer()
			result, err := driver.Probe(gctx, dev)
			timer.ObserveDurationVec(metrics.ProbeDuration, string(driver.Kind()))

			reachable := "false"
			if result.Reachable {
				reachable = "true"
			}
			metrics.ProbesTotal.WithLabelValues(string(driver.Kind()), reachable).Inc()
			if !result.Reachable && result.ReasonCode != "" {
				metrics.ProbeFailuresTotal.WithLabelValues(string(driver.Kind()), result.ReasonCode).Inc()
			}

			if err != nil {
				// The driver could not attempt the probe at all (e.g.
				// credential resolution failure); still record a failure
				// result rather than silently dropping this device.
				result.Reachable = false
				if result.ReasonCode == "" {
					result.ReasonCode = probe.ReasonBadRequest
				}
			}
			results[i] = result
			return nil
		})
	}

	// errgroup.Wait only returns an error if a Go func returned one;
	// every probe failure is captured as a ProbeResult, never as an
	// error. Context cancellation is reported from sem.Acquire above,
	// before any result is published.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("batch task %s: %w", task.ID, err)
	}

	if err := sink(ctx, results); err != nil {
		return fmt.Errorf("publish results for task %s: %w", task.ID, err)
	}
	return nil
}
