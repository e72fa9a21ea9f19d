package probe

import (
	"context"
	"testing"
	"time"
)

func TestNewICMPDriverDefaults(t *testing.T) {
	d := NewICMPDriver(10 * time.Second)

	if d.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", d.Timeout)
	}
	if d.Count != 3 {
		t.Errorf("Count = %d, want 3", d.Count)
	}
	if !d.Privileged {
		t.Error("Privileged should default to true")
	}
	if d.Kind() != KindICMP {
		t.Errorf("Kind() = %v, want %v", d.Kind(), KindICMP)
	}
}

func TestICMPDriverInvalidAddress(t *testing.T) {
	d := NewICMPDriver(time.Second)
	dev := testDevice("not-an-ip-or-host!!")

	result, err := d.attempt(context.Background(), dev)
	if err == nil {
		t.Fatal("attempt() with an invalid address should return an error")
	}
	if result.Reachable {
		t.Error("result for an invalid address should not be Reachable")
	}
}
