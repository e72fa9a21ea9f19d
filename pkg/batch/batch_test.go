package batch

import (
	"testing"

	"github.com/wardflux/netmon/pkg/types"
)

func TestSize(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{name: "reference fleet", n: 875, want: 100},
		{name: "1500 devices", n: 1500, want: 150},
		{name: "3000 devices", n: 3000, want: 300},
		{name: "10000 devices clamps at max", n: 10000, want: 500},
		{name: "zero devices floors at min", n: 0, want: 50},
		{name: "tiny fleet floors at min", n: 3, want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Size(tt.n); got != tt.want {
				t.Errorf("Size(%d) = %d, want %d", tt.n, got, tt.want)
			}
		})
	}
}

func TestPlanPartitionsCoverAllDevices(t *testing.T) {
	ids := make([]types.DeviceID, 875)
	for i := range ids {
		ids[i] = types.DeviceID(fmtDeviceID(i))
	}

	p := NewPlanner()
	plan := p.Plan(ids, 1)

	seen := map[types.DeviceID]bool{}
	for _, partition := range plan.Partitions {
		for _, id := range partition {
			if seen[id] {
				t.Fatalf("device %s appears in more than one partition", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != len(ids) {
		t.Errorf("partitions cover %d devices, want %d", len(seen), len(ids))
	}
	if plan.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", plan.BatchSize)
	}
}

func TestPlanRotatesAcrossTicks(t *testing.T) {
	ids := make([]types.DeviceID, 200)
	for i := range ids {
		ids[i] = types.DeviceID(fmtDeviceID(i))
	}

	p := NewPlanner()
	plan1 := p.Plan(ids, 1)
	plan2 := p.Plan(ids, 2)

	if len(plan1.Partitions) == 0 || len(plan2.Partitions) == 0 {
		t.Fatal("expected non-empty partitions")
	}

	identical := true
	for i := range plan1.Partitions {
		if !sameMembers(plan1.Partitions[i], plan2.Partitions[i]) {
			identical = false
			break
		}
	}
	if identical {
		t.Error("partition membership did not rotate across ticks")
	}
}

func sameMembers(a, b []types.DeviceID) bool {
	if len(a) != len(b) {
		return false
	}
	set := map[types.DeviceID]bool{}
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

func fmtDeviceID(i int) string {
	const hex = "0123456789abcdef"
	b := []byte("dev-0000")
	for pos := len(b) - 1; i > 0 && pos >= 4; pos-- {
		b[pos] = hex[i%16]
		i /= 16
	}
	return string(b)
}
