package probe

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/types"
)

// ICMPDriver issues ICMP echo requests via raw sockets. One ICMPDriver is
// shared across every worker in the monitoring pool; it holds no
// per-device state.
type ICMPDriver struct {
	// Timeout bounds a single probe round, independent of Count.
	Timeout time.Duration

	// Count is the number of echoes sent per probe; RTT avg/min/max and
	// packet loss are derived from this sample, not a single echo.
	Count int

	// Privileged selects raw ICMP sockets (requires CAP_NET_RAW) over the
	// unprivileged datagram-socket fallback.
	Privileged bool
}

// NewICMPDriver returns an ICMPDriver using the given per-probe timeout.
// Count defaults to 3 echoes and Privileged to true, matching the
// teacher's discovery sweep defaults.
func NewICMPDriver(timeout time.Duration) *ICMPDriver {
	return &ICMPDriver{
		Timeout:    timeout,
		Count:      3,
		Privileged: true,
	}
}

// Kind reports KindICMP.
func (d *ICMPDriver) Kind() Kind { return KindICMP }

// Probe sends Count ICMP echoes to dev.IP and reports the aggregate RTT
// and packet loss. It retries once on a bare timeout before giving up,
// per the worker contract's ICMP retry policy.
func (d *ICMPDriver) Probe(ctx context.Context, dev types.Device) (types.ProbeResult, error) {
	logger := log.WithComponent("probe.icmp").With().Str("device_id", string(dev.ID)).Logger()

	result, err := d.attempt(ctx, dev)
	if err != nil || result.Reachable {
		return result, err
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("icmp probe %s: %w", dev.IP, ctx.Err())
	}

	logger.Debug().Msg("icmp echo failed, retrying once")
	return d.attempt(ctx, dev)
}

func (d *ICMPDriver) attempt(ctx context.Context, dev types.Device) (types.ProbeResult, error) {
	now := time.Now().UTC()
	result := newResult(dev, now)

	pinger, err := probing.NewPinger(dev.IP)
	if err != nil {
		return result, fmt.Errorf("icmp probe %s: %w", dev.IP, err)
	}
	pinger.Count = d.Count
	pinger.Timeout = d.Timeout
	pinger.SetPrivileged(d.Privileged)

	runErr := pinger.RunWithContext(ctx)
	stats := pinger.Statistics()

	if runErr != nil || stats == nil || stats.PacketsRecv == 0 {
		result.Reachable = false
		result.PacketLossPC = 100
		if ctx.Err() != nil {
			result.ReasonCode = ReasonTimeout
		} else {
			result.ReasonCode = ReasonUnreachable
		}
		return result, nil
	}

	avg := stats.AvgRtt.Seconds() * 1000
	min := stats.MinRtt.Seconds() * 1000
	max := stats.MaxRtt.Seconds() * 1000

	result.Reachable = true
	result.RTTAvgMS = &avg
	result.RTTMinMS = &min
	result.RTTMaxMS = &max
	result.PacketLossPC = stats.PacketLoss
	return result, nil
}
