package worker

import (
	"context"
	"testing"

	"github.com/wardflux/netmon/pkg/probe"
	"github.com/wardflux/netmon/pkg/types"
)

type fakeDriver struct {
	kind    probe.Kind
	healthy map[types.DeviceID]bool
}

func (f *fakeDriver) Kind() probe.Kind { return f.kind }

func (f *fakeDriver) Probe(ctx context.Context, dev types.Device) (types.ProbeResult, error) {
	reachable := f.healthy[dev.ID]
	result := types.ProbeResult{
		DeviceID:  dev.ID,
		DeviceIP:  dev.IP,
		Reachable: reachable,
		Varbinds:  map[string]string{},
	}
	if !reachable {
		result.PacketLossPC = 100
		result.ReasonCode = probe.ReasonUnreachable
	}
	return result, nil
}

func TestRunBatchPublishesAllResults(t *testing.T) {
	devices := []types.Device{
		{ID: "d1", IP: "10.0.0.1"},
		{ID: "d2", IP: "10.0.0.2"},
		{ID: "d3", IP: "10.0.0.3"},
	}
	driver := &fakeDriver{kind: probe.KindICMP, healthy: map[types.DeviceID]bool{"d1": true, "d3": true}}

	lookup := DeviceLookup(func(ctx context.Context, ids []types.DeviceID) ([]types.Device, error) {
		return devices, nil
	})

	var published []types.ProbeResult
	sink := ResultSink(func(ctx context.Context, results []types.ProbeResult) error {
		published = results
		return nil
	})

	task := types.Task{ID: "task-1", Kind: types.TaskICMPBatch, Queue: types.QueueMonitoring,
		DeviceIDs: []types.DeviceID{"d1", "d2", "d3"}}

	if err := runBatch(context.Background(), task, driver, lookup, sink); err != nil {
		t.Fatalf("runBatch() error = %v", err)
	}

	if len(published) != 3 {
		t.Fatalf("published %d results, want 3", len(published))
	}
	if !published[0].Reachable || published[1].Reachable || !published[2].Reachable {
		t.Errorf("published reachability = [%v, %v, %v], want [true, false, true]",
			published[0].Reachable, published[1].Reachable, published[2].Reachable)
	}
}

func TestRunBatchLookupFailure(t *testing.T) {
	driver := &fakeDriver{kind: probe.KindICMP}
	lookup := DeviceLookup(func(ctx context.Context, ids []types.DeviceID) ([]types.Device, error) {
		return nil, context.DeadlineExceeded
	})
	sink := ResultSink(func(ctx context.Context, results []types.ProbeResult) error { return nil })

	task := types.Task{ID: "task-2", DeviceIDs: []types.DeviceID{"d1"}}
	if err := runBatch(context.Background(), task, driver, lookup, sink); err == nil {
		t.Error("runBatch() should propagate a device lookup failure")
	}
}
