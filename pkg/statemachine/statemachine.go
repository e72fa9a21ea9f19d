// Package statemachine implements the Device State Machine (component
// C2/G): the sole writer of Device.down_since and flap_state. It
// converts each ProbeResult into an authoritative UP/DOWN transition,
// classifies flapping, invalidates the Read Cache on transition, and
// emits went_down/recovered/flapping events for the Alert Evaluator to
// consume — mirroring spec.md §4.2's ownership split ("the State
// Machine is the sole writer of Device.down_since / flap_state").
//
// Flap bookkeeping and the per-device transition window live in a
// narrow in-process map guarded by a sync.RWMutex (devices are read far
// more often than transitioned), reloaded from the Gateway at startup
// via Load so a restart does not forget in-flight flap_until deadlines.
package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/types"
)

// Gateway is the slice of the Hybrid Metric Store Gateway the State
// Machine depends on.
type Gateway interface {
	WriteProbe(ctx context.Context, result types.ProbeResult) (flipped bool, err error)
	InvalidateDevice(ctx context.Context, id types.DeviceID)
}

// EventKind distinguishes the three events the State Machine can emit.
type EventKind string

const (
	EventWentDown  EventKind = "went_down"
	EventRecovered EventKind = "recovered"
	EventFlapping  EventKind = "flapping"
)

// Event is handed to the Alert Evaluator on every authoritative
// transition or flap-state change.
type Event struct {
	Kind             EventKind
	DeviceID         types.DeviceID
	At               time.Time
	DowntimeDuration time.Duration // set only on EventRecovered; UTC wall-clock difference, per spec.md §4.2
}

// FlapThresholds holds the K/window/suppression parameters, split
// between regular devices and ISP links per spec.md §4.2's reference
// defaults (K=3/W=5min regular, K=2/W=5min ISP).
type FlapThresholds struct {
	Window             time.Duration
	Transitions        int
	ISPTransitions     int
	SuppressionWindow  time.Duration
}

type deviceState struct {
	device       types.Device
	transitions  []time.Time
	lastProbeAt  time.Time
	lastSequence uint64
}

// StateMachine owns the in-process authoritative Device view for one
// process. Construct with Load to seed it from the Gateway's current
// relational state before processing any probes.
type StateMachine struct {
	gw     Gateway
	flap   FlapThresholds
	events chan Event

	mu      sync.RWMutex
	devices map[types.DeviceID]*deviceState
}

// New constructs a StateMachine. eventBuffer sizes the Events() channel;
// a full channel drops the oldest-pending event rather than blocking
// probe processing, logging the drop.
func New(gw Gateway, flap FlapThresholds, eventBuffer int) *StateMachine {
	return &StateMachine{
		gw:      gw,
		flap:    flap,
		events:  make(chan Event, eventBuffer),
		devices: make(map[types.DeviceID]*deviceState),
	}
}

// Load seeds the in-process device map from a known-good snapshot,
// normally the full device list fetched via the Gateway at startup.
func (sm *StateMachine) Load(devices []types.Device) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, d := range devices {
		sm.devices[d.ID] = &deviceState{device: d}
	}
}

// Events returns the channel the Alert Evaluator reads transition and
// flap events from.
func (sm *StateMachine) Events() <-chan Event {
	return sm.events
}

// ProcessProbe is the State Machine's single entrypoint: persist the
// probe via the Gateway, then, if the Gateway reports a state flip,
// apply the transition locally, classify flapping, invalidate the
// device's Read Cache entries, and emit the resulting event(s). A probe
// older than the last one seen for this device is still persisted (the
// relational store's own ordering guard makes that a safe no-op) but is
// never allowed to perturb local flap bookkeeping or emit an event.
func (sm *StateMachine) ProcessProbe(ctx context.Context, result types.ProbeResult) (types.Device, error) {
	flipped, err := sm.gw.WriteProbe(ctx, result)
	if err != nil {
		return types.Device{}, fmt.Errorf("process probe for %s: %w", result.DeviceID, err)
	}

	sm.mu.Lock()
	st, ok := sm.devices[result.DeviceID]
	if !ok {
		st = &deviceState{device: types.Device{ID: result.DeviceID, IP: result.DeviceIP}}
		sm.devices[result.DeviceID] = st
	}

	if isStale(st, result) {
		current := st.device
		sm.mu.Unlock()
		return current, nil
	}

	prevDownSince := st.device.DownSince
	wasUp := st.device.IsUp()
	st.device = st.device.WithTransition(result.Timestamp, result.Reachable)
	st.lastProbeAt = result.Timestamp
	st.lastSequence = result.Sequence

	var toEmit []Event
	if flipped {
		st.transitions = pruneOld(append(st.transitions, result.Timestamp), result.Timestamp, sm.flap.Window)

		if wasUp && !result.Reachable {
			toEmit = append(toEmit, Event{Kind: EventWentDown, DeviceID: result.DeviceID, At: result.Timestamp})
		} else if !wasUp && result.Reachable {
			var downtime time.Duration
			if prevDownSince != nil {
				downtime = result.Timestamp.Sub(*prevDownSince)
			}
			toEmit = append(toEmit, Event{Kind: EventRecovered, DeviceID: result.DeviceID, At: result.Timestamp, DowntimeDuration: downtime})
		}

		threshold := sm.flap.Transitions
		if st.device.IsISPLink {
			threshold = sm.flap.ISPTransitions
		}
		if len(st.transitions) >= threshold && !st.device.IsFlapping(result.Timestamp) {
			until := result.Timestamp.Add(sm.flap.SuppressionWindow)
			st.device = st.device.WithFlap(types.FlapFlapping, &until)
			toEmit = append(toEmit, Event{Kind: EventFlapping, DeviceID: result.DeviceID, At: result.Timestamp})
		} else if st.device.FlapState == types.FlapFlapping && !st.device.IsFlapping(result.Timestamp) {
			st.device = st.device.WithFlap(types.FlapStable, nil)
		}
	}
	current := st.device
	sm.mu.Unlock()

	if flipped {
		sm.gw.InvalidateDevice(ctx, result.DeviceID)
	}
	for _, ev := range toEmit {
		sm.emit(ev)
	}
	return current, nil
}

func (sm *StateMachine) emit(ev Event) {
	select {
	case sm.events <- ev:
	default:
		log.WithComponent("statemachine").Warn().
			Str("device_id", string(ev.DeviceID)).
			Str("kind", string(ev.Kind)).
			Msg("event channel full, dropping oldest-pending transition event")
		select {
		case <-sm.events:
		default:
		}
		select {
		case sm.events <- ev:
		default:
		}
	}
}

// isStale reports whether result is older than the last probe already
// applied to st, by timestamp and then by sequence number as a
// same-timestamp tiebreaker.
func isStale(st *deviceState, result types.ProbeResult) bool {
	if st.lastProbeAt.IsZero() {
		return false
	}
	if result.Timestamp.Before(st.lastProbeAt) {
		return true
	}
	if result.Timestamp.Equal(st.lastProbeAt) && result.Sequence <= st.lastSequence {
		return true
	}
	return false
}

// pruneOld drops transition timestamps older than window before now,
// bounding the slice that backs flap classification.
func pruneOld(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Device returns the State Machine's current in-process view of a
// device, for callers (the Alert Evaluator's is_down/is_down_for
// predicates) that need it without a relational round trip.
func (sm *StateMachine) Device(id types.DeviceID) (types.Device, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	st, ok := sm.devices[id]
	if !ok {
		return types.Device{}, false
	}
	return st.device, true
}
