package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() config should validate, got error: %v", err)
	}
}

func TestValidateBatchBounds(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{name: "valid", batch: Batch{MinSize: 50, MaxSize: 500, TargetCount: 10}, wantErr: false},
		{name: "min greater than max", batch: Batch{MinSize: 500, MaxSize: 50, TargetCount: 10}, wantErr: true},
		{name: "zero min", batch: Batch{MinSize: 0, MaxSize: 500, TargetCount: 10}, wantErr: true},
		{name: "zero target", batch: Batch{MinSize: 50, MaxSize: 500, TargetCount: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Batch = tt.batch
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUnknownPredicate(t *testing.T) {
	cfg := Default()
	cfg.Rules = []RuleSeed{{ID: "r1", Predicate: "free_form_expression"}}

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an unknown predicate kind")
	}
}

func TestValidateDependencyCycle(t *testing.T) {
	cfg := Default()
	cfg.Dependencies = []DependencyEdge{
		{Upstream: "core_switch", Downstream: "branch_router"},
		{Upstream: "branch_router", Downstream: "access_point"},
		{Upstream: "access_point", Downstream: "core_switch"},
	}

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a cyclic dependency graph")
	}
}

func TestValidateAcyclicDependency(t *testing.T) {
	cfg := Default()
	cfg.Dependencies = []DependencyEdge{
		{Upstream: "core_switch", Downstream: "branch_router"},
		{Upstream: "branch_router", Downstream: "access_point"},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() should accept an acyclic dependency graph, got: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netmon.yaml")
	contents := []byte("icmp:\n  interval_sec: 15\nbatch:\n  min_size: 50\n  max_size: 500\n  target_count: 10\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ICMP.IntervalSec != 15 {
		t.Errorf("ICMP.IntervalSec = %d, want 15", cfg.ICMP.IntervalSec)
	}
	// Unrelated defaults should survive the partial override.
	if cfg.SNMP.IntervalSec != 60 {
		t.Errorf("SNMP.IntervalSec = %d, want default 60", cfg.SNMP.IntervalSec)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/netmon.yaml"); err == nil {
		t.Error("Load() on a missing file should return an error")
	}
}
