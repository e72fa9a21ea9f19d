// Package probe implements the Probe Drivers (component A): the ICMP and
// SNMP engines that turn a Device into a ProbeResult. Drivers never touch
// the relational store, the TSDB, or the cache directly — a driver's
// only job is to run one round trip against the network and return the
// outcome, leaving persistence to the Gateway and the caller's worker
// goroutine.
package probe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wardflux/netmon/pkg/types"
)

// Kind identifies which wire protocol a Driver speaks.
type Kind string

const (
	KindICMP Kind = "icmp"
	KindSNMP Kind = "snmp"
)

// Driver performs one probe against a single device and returns its
// result. Implementations must honor ctx's deadline and return promptly
// on cancellation rather than blocking past it.
type Driver interface {
	// Probe performs a single probe round against dev and returns the
	// outcome. It never returns an error for a normal probe failure
	// (timeout, unreachable, auth failure) — those are reported via
	// ProbeResult.Reachable and ReasonCode. A non-nil error indicates the
	// driver itself could not attempt the probe (e.g. malformed IP,
	// credential resolution failure).
	Probe(ctx context.Context, dev types.Device) (types.ProbeResult, error)

	// Kind reports which wire protocol this Driver speaks.
	Kind() Kind
}

// Reason codes set on ProbeResult.ReasonCode when !Reachable.
const (
	ReasonTimeout     = "timeout"
	ReasonUnreachable = "unreachable"
	ReasonAuthFailure = "auth_failure"
	ReasonNoAccess    = "no_access"
	ReasonBadRequest  = "bad_request"
)

// sequenceCounter hands out the monotonic tiebreaker UpsertLatestPing's
// ordering guard uses to resolve two probes that land on the same
// Timestamp — process-wide and shared by every driver, since it only
// needs to be unique and increasing, not per-device.
var sequenceCounter uint64

func nextSequence() uint64 { return atomic.AddUint64(&sequenceCounter, 1) }

func newResult(dev types.Device, at time.Time) types.ProbeResult {
	return types.ProbeResult{
		DeviceID:  dev.ID,
		DeviceIP:  dev.IP,
		Timestamp: at,
		Sequence:  nextSequence(),
		Varbinds:  map[string]string{},
	}
}
