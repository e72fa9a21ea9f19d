package probe

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "auth failure", err: errors.New("usm stats wrong digests"), want: ReasonAuthFailure},
		{name: "timeout", err: errors.New("request timeout (after 3 retries)"), want: ReasonTimeout},
		{name: "connection refused", err: errors.New("connection refused"), want: ReasonUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestSNMPString(t *testing.T) {
	if s, ok := snmpString("router-1"); !ok || s != "router-1" {
		t.Errorf("snmpString(string) = %q, %v", s, ok)
	}
	if s, ok := snmpString([]byte("router-2")); !ok || s != "router-2" {
		t.Errorf("snmpString([]byte) = %q, %v", s, ok)
	}
	if _, ok := snmpString(42); ok {
		t.Error("snmpString(int) should report ok=false")
	}
}

func TestIfIndexFromOID(t *testing.T) {
	tests := []struct {
		name     string
		returned string
		base     string
		want     int
		wantOK   bool
	}{
		{name: "leading dot", returned: "." + oidIfDescr + ".3", base: oidIfDescr, want: 3, wantOK: true},
		{name: "no leading dot", returned: oidIfDescr + ".12", base: oidIfDescr, want: 12, wantOK: true},
		{name: "unrelated oid", returned: ".1.3.6.1.2.1.2.2.1.99.1", base: oidIfDescr, want: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ifIndexFromOID(tt.returned, tt.base)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("ifIndexFromOID(%q, %q) = %d, %v; want %d, %v", tt.returned, tt.base, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIfStatusString(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{value: 1, want: "up"},
		{value: 2, want: "down"},
		{value: 3, want: "testing"},
		{value: 7, want: "unknown"},
		{value: "bogus", want: "unknown"},
	}

	for _, tt := range tests {
		if got := ifStatusString(tt.value); got != tt.want {
			t.Errorf("ifStatusString(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
