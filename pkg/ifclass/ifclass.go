// Package ifclass classifies a discovered SNMP interface into one of the
// fixed InterfaceType buckets and, for links that look like a carrier
// circuit, tags the ISP provider named in the interface's alias. Per
// spec.md's SNMP section, the classification rules are an embedded regex
// library and the provider lookup is a static dictionary keyed by
// substring match against ifAlias — there is no per-deployment
// configuration for this, matching the teacher's preference for
// compiled-in tables over a rules DSL wherever the rule set is small and
// changes rarely.
package ifclass

import (
	"regexp"
	"strings"

	"github.com/wardflux/netmon/pkg/types"
)

var (
	loopbackPattern = regexp.MustCompile(`(?i)\blo\d+\b|loopback`)
	mgmtPattern     = regexp.MustCompile(`(?i)\b(mgmt|fxp\d*|em\d+|oob\d*)\b|management`)
	ispPattern      = regexp.MustCompile(`(?i)\bisp\b|uplink|internet|\bcarrier\b|circuit`)
	wanPattern      = regexp.MustCompile(`(?i)\bwan\b`)
	trunkPattern    = regexp.MustCompile(`(?i)trunk|\bpo\d+\b|port-channel|\blag\d*\b`)
	serverPattern   = regexp.MustCompile(`(?i)\bsrv\b|server|\besx\b|hypervisor`)
	lanPattern      = regexp.MustCompile(`(?i)\blan\b|\baccess\b|workstation|vlan\d+`)
)

// ispProviders maps a lowercase substring found in ifAlias to the
// canonical provider name reported on the Interface record. Entries are
// tried in list order and the first substring match wins; the short keys
// "cox" and "att" sit near the end of the list.
var ispProviders = []struct {
	substr   string
	provider string
}{
	{"centurylink", "CenturyLink"},
	{"spectrum", "Charter Spectrum"},
	{"comcast", "Comcast"},
	{"verizon", "Verizon"},
	{"frontier", "Frontier"},
	{"lumen", "Lumen"},
	{"zayo", "Zayo"},
	{"cox", "Cox"},
	{"att", "AT&T"},
	{"t-mobile", "T-Mobile"},
}

// Classify inspects ifDescr and ifAlias (as read by an interface-table
// walk) and returns the interface's type, its ISP provider tag (empty if
// none matched), and whether it should be treated as critical — a link
// whose down/oper-status a SNMP batch task should report on every
// routine poll, not just at discovery time.
func Classify(ifDescr, ifAlias string) (kind types.InterfaceType, ispProvider string, isCritical bool) {
	combined := ifDescr + " " + ifAlias

	switch {
	case loopbackPattern.MatchString(combined):
		return types.InterfaceLoopback, "", false
	case mgmtPattern.MatchString(combined):
		return types.InterfaceMgmt, "", false
	case ispPattern.MatchString(combined):
		return types.InterfaceISP, matchProvider(ifAlias), true
	case wanPattern.MatchString(combined):
		return types.InterfaceWAN, matchProvider(ifAlias), true
	case trunkPattern.MatchString(combined):
		return types.InterfaceTrunk, "", true
	case serverPattern.MatchString(combined):
		return types.InterfaceServer, "", false
	case lanPattern.MatchString(combined):
		return types.InterfaceLAN, "", false
	default:
		return types.InterfaceAccess, "", false
	}
}

func matchProvider(ifAlias string) string {
	lower := strings.ToLower(ifAlias)
	for _, p := range ispProviders {
		if strings.Contains(lower, p.substr) {
			return p.provider
		}
	}
	return ""
}
