package ifclass

import (
	"testing"

	"github.com/wardflux/netmon/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		ifDescr         string
		ifAlias         string
		wantType        types.InterfaceType
		wantISPProvider string
		wantCritical    bool
	}{
		{"loopback by descr", "Loopback0", "", types.InterfaceLoopback, "", false},
		{"mgmt by descr", "fxp0", "", types.InterfaceMgmt, "", false},
		{"mgmt by alias", "GigabitEthernet0/1", "OOB-MGMT", types.InterfaceMgmt, "", false},
		{"isp with known provider", "GigabitEthernet0/0", "ISP-Comcast-Circuit", types.InterfaceISP, "Comcast", true},
		{"isp uplink unknown provider", "GigabitEthernet0/0", "ISP Uplink", types.InterfaceISP, "", true},
		{"wan with provider", "TenGigabitEthernet1/1", "WAN-ATT-Primary", types.InterfaceWAN, "AT&T", true},
		{"trunk by alias", "Port-channel1", "Trunk to core switch", types.InterfaceTrunk, "", true},
		{"server by alias", "GigabitEthernet0/5", "ESX-Host-01", types.InterfaceServer, "", false},
		{"lan by alias", "GigabitEthernet0/10", "LAN Access VLAN10", types.InterfaceLAN, "", false},
		{"unknown falls back to access", "GigabitEthernet0/20", "Printer Room 3", types.InterfaceAccess, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotProvider, gotCritical := Classify(tt.ifDescr, tt.ifAlias)
			if gotType != tt.wantType {
				t.Errorf("Classify(%q, %q) type = %q, want %q", tt.ifDescr, tt.ifAlias, gotType, tt.wantType)
			}
			if gotProvider != tt.wantISPProvider {
				t.Errorf("Classify(%q, %q) ispProvider = %q, want %q", tt.ifDescr, tt.ifAlias, gotProvider, tt.wantISPProvider)
			}
			if gotCritical != tt.wantCritical {
				t.Errorf("Classify(%q, %q) isCritical = %v, want %v", tt.ifDescr, tt.ifAlias, gotCritical, tt.wantCritical)
			}
		})
	}
}

func TestMatchProviderIsCaseInsensitive(t *testing.T) {
	_, provider, _ := Classify("GigabitEthernet0/0", "isp-CENTURYLINK-backup")
	if provider != "CenturyLink" {
		t.Errorf("provider = %q, want CenturyLink", provider)
	}
}
