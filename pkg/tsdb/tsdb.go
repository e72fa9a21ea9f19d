// Package tsdb implements the time-series half of the Hybrid Metric
// Store Gateway (component I): per-probe ICMP/SNMP samples and
// per-interface counters, backed by InfluxDB via
// github.com/influxdata/influxdb-client-go/v2. Writes go through the
// client's non-blocking write API so a TSDB stall never blocks the
// relational commit in write_probe (spec.md §4.3). window_aggregate and
// history bound every query with an explicit context deadline.
// window_aggregate returns a structured "unavailable" result rather than
// propagating a raw client error the Alert Evaluator would have to
// interpret; history returns the wrapped client error.
package tsdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/types"
)

const (
	measurementPing      = "ping"
	measurementInterface = "interface"
)

// Client wraps an InfluxDB client scoped to one org/bucket.
type Client struct {
	client        influxdb2.Client
	writeAPI      api.WriteAPI
	queryAPI      api.QueryAPI
	org           string
	bucket        string
	queryTimeout  time.Duration
}

// Open constructs a Client and starts its background async write
// worker. The worker's own error channel is drained into the component
// logger so a dropped write is observable without blocking callers.
func Open(cfg config.TSDB) *Client {
	raw := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := raw.WriteAPI(cfg.Org, cfg.Bucket)

	c := &Client{
		client:       raw,
		writeAPI:     writeAPI,
		queryAPI:     raw.QueryAPI(cfg.Org),
		org:          cfg.Org,
		bucket:       cfg.Bucket,
		queryTimeout: cfg.QueryTimeout(),
	}

	logger := log.WithComponent("tsdb")
	go func() {
		for err := range writeAPI.Errors() {
			logger.Error().Err(err).Msg("async tsdb write failed")
		}
	}()
	return c
}

// Close flushes any buffered points and releases the client.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Ping checks the InfluxDB server's health endpoint, for the
// health-self-check cadence.
func (c *Client) Ping(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	if string(health.Status) != "pass" {
		msg := "unknown"
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("tsdb unhealthy: %s", msg)
	}
	return nil
}

// WriteProbeSample records one ICMP/SNMP probe's RTT and packet-loss
// metrics. Called outside the relational transaction so a TSDB stall
// cannot hold that transaction open.
func (c *Client) WriteProbeSample(result types.ProbeResult) {
	fields := map[string]any{
		"reachable":      result.Reachable,
		"packet_loss_pc": result.PacketLossPC,
	}
	if result.RTTAvgMS != nil {
		fields["rtt_avg_ms"] = *result.RTTAvgMS
	}
	if result.RTTMinMS != nil {
		fields["rtt_min_ms"] = *result.RTTMinMS
	}
	if result.RTTMaxMS != nil {
		fields["rtt_max_ms"] = *result.RTTMaxMS
	}

	p := write.NewPoint(measurementPing,
		map[string]string{"device_id": string(result.DeviceID), "device_ip": result.DeviceIP},
		fields,
		result.Timestamp,
	)
	c.writeAPI.WritePoint(p)
}

// InterfaceSample is one SNMP-polled interface counter snapshot.
type InterfaceSample struct {
	DeviceID    types.DeviceID
	IfIndex     int
	Timestamp   time.Time
	InOctets    uint64
	OutOctets   uint64
	InErrors    uint64
	OutErrors   uint64
	InDiscards  uint64
	OutDiscards uint64
}

// WriteInterfaceSample records one interface's counters for one poll.
func (c *Client) WriteInterfaceSample(s InterfaceSample) {
	p := write.NewPoint(measurementInterface,
		map[string]string{"device_id": string(s.DeviceID), "if_index": fmt.Sprintf("%d", s.IfIndex)},
		map[string]any{
			"in_octets":    s.InOctets,
			"out_octets":   s.OutOctets,
			"in_errors":    s.InErrors,
			"out_errors":   s.OutErrors,
			"in_discards":  s.InDiscards,
			"out_discards": s.OutDiscards,
		},
		s.Timestamp,
	)
	c.writeAPI.WritePoint(p)
}

// AggregateResult is window_aggregate's return shape: either a value, or
// Unavailable set when the TSDB could not be reached within the query
// deadline.
type AggregateResult struct {
	Value       float64
	Unavailable bool
}

// WindowAggregate runs function (mean, max, ...) over metric for the
// given device/labels across a trailing window, bounded by a 2s context
// deadline per spec.md §4.3.
func (c *Client) WindowAggregate(ctx context.Context, measurement, field string, tags map[string]string, window time.Duration, function string) (AggregateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	flux := buildAggregateFlux(c.bucket, measurement, field, tags, window, function)
	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return AggregateResult{Unavailable: true}, nil
	}
	defer result.Close()

	if result.Next() {
		v, ok := result.Record().Value().(float64)
		if !ok {
			return AggregateResult{Unavailable: true}, nil
		}
		return AggregateResult{Value: v}, nil
	}
	if result.Err() != nil {
		return AggregateResult{Unavailable: true}, nil
	}
	// No rows: a legitimate "no data in window" answer, distinct from
	// "could not reach the TSDB".
	return AggregateResult{Value: 0}, nil
}

func buildAggregateFlux(bucket, measurement, field string, tags map[string]string, window time.Duration, function string) string {
	filters := fmt.Sprintf(`r._measurement == "%s" and r._field == "%s"`, measurement, field)
	for k, v := range tags {
		filters += fmt.Sprintf(` and r.%s == "%s"`, k, v)
	}
	return fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -%s)
			|> filter(fn: (r) => %s)
			|> %s()`,
		bucket, window.String(), filters, function)
}

// HistoryPoint is one sample returned by History.
type HistoryPoint struct {
	Timestamp time.Time
	Value     float64
}

// History returns paginated samples for (device, metric) between from
// and to, stepping by step and capped at limit points.
func (c *Client) History(ctx context.Context, measurement, field string, tags map[string]string, from, to time.Time, step time.Duration, limit int) ([]HistoryPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	filters := fmt.Sprintf(`r._measurement == "%s" and r._field == "%s"`, measurement, field)
	for k, v := range tags {
		filters += fmt.Sprintf(` and r.%s == "%s"`, k, v)
	}
	flux := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => %s)
			|> aggregateWindow(every: %s, fn: mean, createEmpty: false)
			|> limit(n: %d)`,
		c.bucket, from.Format(time.RFC3339), to.Format(time.RFC3339), filters, step.String(), limit)

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer result.Close()

	var out []HistoryPoint
	for result.Next() {
		v, ok := result.Record().Value().(float64)
		if !ok {
			continue
		}
		out = append(out, HistoryPoint{Timestamp: result.Record().Time(), Value: v})
	}
	return out, result.Err()
}
