// Package gateway implements the Hybrid Metric Store Gateway (component
// C3/I): the single fixed surface every other component uses to read or
// write device state, alert history, and time series. Callers never
// construct SQL or Flux themselves and never choose which backend to
// hit — that split (spec.md §4.3) is entirely this package's job.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/wardflux/netmon/pkg/cache"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/metrics"
	"github.com/wardflux/netmon/pkg/tsdb"
	"github.com/wardflux/netmon/pkg/types"
)

// relationalStore is the slice of *relational.Store the Gateway depends
// on. Narrowed to an interface so tests can substitute a fake without a
// live Postgres.
type relationalStore interface {
	UpsertLatestPing(ctx context.Context, result types.ProbeResult) (bool, error)
	OpenAlertInstance(ctx context.Context, inst types.AlertInstance) error
	ResolveAlertInstance(ctx context.Context, id types.InstanceID, resolvedAt time.Time) error
	LatestState(ctx context.Context, id types.DeviceID) (types.Device, error)
	LatestStateBulk(ctx context.Context, ids []types.DeviceID) (map[types.DeviceID]types.Device, error)
	CleanupPingHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// tsdbClient is the slice of *tsdb.Client the Gateway depends on.
type tsdbClient interface {
	WriteProbeSample(result types.ProbeResult)
	WriteInterfaceSample(s tsdb.InterfaceSample)
	WindowAggregate(ctx context.Context, measurement, field string, tags map[string]string, window time.Duration, function string) (tsdb.AggregateResult, error)
	History(ctx context.Context, measurement, field string, tags map[string]string, from, to time.Time, step time.Duration, limit int) ([]tsdb.HistoryPoint, error)
}

// readCache is the slice of *cache.Cache the Gateway depends on.
type readCache interface {
	Get(ctx context.Context, ns cache.Namespace, key string, dest any) bool
	Set(ctx context.Context, ns cache.Namespace, key string, value any)
	InvalidateDevice(ctx context.Context, deviceID string)
	InvalidateRule(ctx context.Context, ruleID string)
}

// Gateway composes the relational store, the TSDB client, and the read
// cache behind the fixed operation set spec.md §4.3 names.
type Gateway struct {
	rel   relationalStore
	ts    tsdbClient
	cache readCache
}

func New(rel relationalStore, ts tsdbClient, c readCache) *Gateway {
	return &Gateway{rel: rel, ts: ts, cache: c}
}

// WriteProbe is write_probe: the relational commit (latest_ping row +
// down_since flip, in one transaction) happens first and is the only
// part that can fail this call; the TSDB write is fire-and-forget via
// the client's async API so a TSDB stall never blocks it, per spec.md
// §4.3. flipped tells the caller (the State Machine) whether the
// device's up/down state actually changed, so it knows whether to run
// flap classification and emit a transition event.
func (g *Gateway) WriteProbe(ctx context.Context, result types.ProbeResult) (flipped bool, err error) {
	flipped, err = g.rel.UpsertLatestPing(ctx, result)
	if err != nil {
		return false, fmt.Errorf("write_probe: %w", err)
	}
	g.ts.WriteProbeSample(result)
	return flipped, nil
}

// WriteInterfaceMetrics persists one interface poll's counters to the
// TSDB only — interface counters have no relational "current state"
// analogous to down_since.
func (g *Gateway) WriteInterfaceMetrics(sample tsdb.InterfaceSample) {
	g.ts.WriteInterfaceSample(sample)
}

// WriteAlertOpen is the open half of write_alert_event: relational
// only, per spec.md §4.3. It also evicts the rule's cached aggregate
// keys so a dashboard read immediately reflects the new firing.
func (g *Gateway) WriteAlertOpen(ctx context.Context, inst types.AlertInstance) error {
	if err := g.rel.OpenAlertInstance(ctx, inst); err != nil {
		return fmt.Errorf("write_alert_event (open): %w", err)
	}
	g.cache.InvalidateRule(ctx, string(inst.RuleID))
	return nil
}

// WriteAlertResolve is the resolve half of write_alert_event.
func (g *Gateway) WriteAlertResolve(ctx context.Context, id types.InstanceID, ruleID types.RuleID, resolvedAt time.Time) error {
	if err := g.rel.ResolveAlertInstance(ctx, id, resolvedAt); err != nil {
		return fmt.Errorf("write_alert_event (resolve): %w", err)
	}
	g.cache.InvalidateRule(ctx, string(ruleID))
	return nil
}

// LatestState is latest_state: relational only, fronted by the read
// cache's device-detail namespace.
func (g *Gateway) LatestState(ctx context.Context, id types.DeviceID) (types.Device, error) {
	var cached types.Device
	if g.cache.Get(ctx, cache.NamespaceDeviceDetail, string(id), &cached) {
		return cached, nil
	}
	dev, err := g.rel.LatestState(ctx, id)
	if err != nil {
		return types.Device{}, fmt.Errorf("latest_state(%s): %w", id, err)
	}
	g.cache.Set(ctx, cache.NamespaceDeviceDetail, string(id), dev)
	return dev, nil
}

// LatestStateBulk is latest_state_bulk: relational only, chunked at the
// store layer. Bulk reads bypass the cache — the set of IDs varies per
// call, so per-ID caching would thrash without the list-level TTL
// actually saving a round trip.
func (g *Gateway) LatestStateBulk(ctx context.Context, ids []types.DeviceID) (map[types.DeviceID]types.Device, error) {
	out, err := g.rel.LatestStateBulk(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("latest_state_bulk: %w", err)
	}
	return out, nil
}

// WindowAggregate is window_aggregate: TSDB only, 2s timeout enforced
// inside pkg/tsdb. An unavailable result increments a counter so
// operators can see TSDB degradation without the Evaluator surfacing an
// error to rule evaluation.
func (g *Gateway) WindowAggregate(ctx context.Context, measurement, field string, tags map[string]string, window time.Duration, function string) (tsdb.AggregateResult, error) {
	result, err := g.ts.WindowAggregate(ctx, measurement, field, tags, window, function)
	if err != nil {
		result = tsdb.AggregateResult{Unavailable: true}
	}
	if result.Unavailable {
		metrics.TSDBUnavailableTotal.Inc()
		log.WithComponent("gateway").Warn().Str("measurement", measurement).Str("field", field).
			Msg("window_aggregate: tsdb unavailable")
	}
	return result, nil
}

// History is history: TSDB only, paginated via step/limit.
func (g *Gateway) History(ctx context.Context, measurement, field string, tags map[string]string, from, to time.Time, step time.Duration, limit int) ([]tsdb.HistoryPoint, error) {
	points, err := g.ts.History(ctx, measurement, field, tags, from, to, step, limit)
	if err != nil {
		metrics.TSDBUnavailableTotal.Inc()
		return nil, nil
	}
	return points, nil
}

// InvalidateDevice evicts every cache key touching one device, on a
// went_down/recovered transition.
func (g *Gateway) InvalidateDevice(ctx context.Context, id types.DeviceID) {
	g.cache.InvalidateDevice(ctx, string(id))
}

// CleanupExpired runs the daily relational retention sweep.
func (g *Gateway) CleanupExpired(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := g.rel.CleanupPingHistory(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup_expired: %w", err)
	}
	return n, nil
}
