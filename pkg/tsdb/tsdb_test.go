package tsdb

import (
	"strings"
	"testing"
	"time"
)

func TestBuildAggregateFluxIncludesTagFilters(t *testing.T) {
	flux := buildAggregateFlux("netmon", measurementPing, "packet_loss_pc",
		map[string]string{"device_id": "dev-1"}, 5*time.Minute, "mean")

	for _, want := range []string{`bucket: "netmon"`, `r._measurement == "ping"`, `r._field == "packet_loss_pc"`, `r.device_id == "dev-1"`, `mean()`} {
		if !strings.Contains(flux, want) {
			t.Errorf("flux query missing %q:\n%s", want, flux)
		}
	}
}

func TestBuildAggregateFluxNoTags(t *testing.T) {
	flux := buildAggregateFlux("netmon", measurementInterface, "in_octets", nil, time.Minute, "max")
	if strings.Contains(flux, "r. ==") {
		t.Errorf("flux query has a malformed empty tag filter:\n%s", flux)
	}
}
