package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/wardflux/netmon/pkg/credential"
	"github.com/wardflux/netmon/pkg/types"
)

// InterfaceSample is one row of the interface table as read by a single
// Walk, before classification (see pkg/ifclass).
type InterfaceSample struct {
	IfIndex     int
	IfDescr     string
	IfAlias     string
	AdminStatus string
	OperStatus  string
	SpeedBps    uint64
	HCInOctets  uint64
	HCOutOctets uint64
	InErrors    uint64
	OutErrors   uint64
	InDiscards  uint64
	OutDiscards uint64
}

// Walker walks ifTable/ifXTable on a device using GETBULK (v2c/v3) or
// repeated GETNEXT (v1), per spec.md's interface discovery and metrics
// tasks. It is invoked on the interface-discovery (hourly) and
// interface-metrics (per-batch) cadences, never on the plain reachability
// probe path.
type Walker struct {
	WalkTimeout time.Duration
	Credentials *credential.Store
}

// NewWalker returns a Walker bounded by walkTimeout (default 30s per
// spec.md's configuration table).
func NewWalker(walkTimeout time.Duration, store *credential.Store) *Walker {
	return &Walker{WalkTimeout: walkTimeout, Credentials: store}
}

// SystemInfo is the result of walking sysDescr/sysName/sysLocation.
type SystemInfo struct {
	SysDescr    string
	SysName     string
	SysLocation string
}

// System reads the three system-identification scalars used by interface
// discovery to label a device's interfaces.
func (w *Walker) System(dev types.Device, cred types.SNMPCredential) (SystemInfo, error) {
	params, err := w.connect(dev, cred)
	if err != nil {
		return SystemInfo{}, err
	}
	defer closeConn(params)

	resp, err := params.Get([]string{oidSysDescr, oidSysName, oidSysLocation})
	if err != nil {
		return SystemInfo{}, fmt.Errorf("walk system %s: %w", dev.IP, err)
	}
	if len(resp.Variables) < 3 {
		return SystemInfo{}, fmt.Errorf("walk system %s: incomplete response", dev.IP)
	}

	info := SystemInfo{}
	info.SysDescr, _ = snmpString(resp.Variables[0].Value)
	info.SysName, _ = snmpString(resp.Variables[1].Value)
	info.SysLocation, _ = snmpString(resp.Variables[2].Value)
	return info, nil
}

// Interfaces walks the full set of required interface-table OIDs and
// returns one InterfaceSample per ifIndex discovered via ifDescr.
func (w *Walker) Interfaces(dev types.Device, cred types.SNMPCredential) ([]InterfaceSample, error) {
	params, err := w.connect(dev, cred)
	if err != nil {
		return nil, err
	}
	defer closeConn(params)

	samples := map[int]*InterfaceSample{}

	bulkWalk := func(oid string, assign func(s *InterfaceSample, pdu gosnmp.SnmpPDU)) error {
		walkFn := params.BulkWalk
		if params.Version == gosnmp.Version1 {
			walkFn = params.Walk
		}
		return walkFn(oid, func(pdu gosnmp.SnmpPDU) error {
			idx, ok := ifIndexFromOID(pdu.Name, oid)
			if !ok {
				return nil
			}
			s, exists := samples[idx]
			if !exists {
				s = &InterfaceSample{IfIndex: idx}
				samples[idx] = s
			}
			assign(s, pdu)
			return nil
		})
	}

	steps := []struct {
		oid    string
		assign func(s *InterfaceSample, pdu gosnmp.SnmpPDU)
	}{
		{oidIfDescr, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.IfDescr, _ = snmpString(pdu.Value) }},
		{oidIfAlias, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.IfAlias, _ = snmpString(pdu.Value) }},
		{oidIfAdminStatus, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.AdminStatus = ifStatusString(pdu.Value) }},
		{oidIfOperStatus, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.OperStatus = ifStatusString(pdu.Value) }},
		{oidIfHighSpeed, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.SpeedBps = gosnmp.ToBigInt(pdu.Value).Uint64() * 1_000_000 }},
		{oidIfHCInOctets, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.HCInOctets = gosnmp.ToBigInt(pdu.Value).Uint64() }},
		{oidIfHCOutOctets, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.HCOutOctets = gosnmp.ToBigInt(pdu.Value).Uint64() }},
		{oidIfInErrors, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.InErrors = gosnmp.ToBigInt(pdu.Value).Uint64() }},
		{oidIfOutErrors, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.OutErrors = gosnmp.ToBigInt(pdu.Value).Uint64() }},
		{oidIfInDiscards, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.InDiscards = gosnmp.ToBigInt(pdu.Value).Uint64() }},
		{oidIfOutDiscards, func(s *InterfaceSample, pdu gosnmp.SnmpPDU) { s.OutDiscards = gosnmp.ToBigInt(pdu.Value).Uint64() }},
	}

	for _, step := range steps {
		if err := bulkWalk(step.oid, step.assign); err != nil {
			return nil, fmt.Errorf("walk %s on %s: %w", step.oid, dev.IP, err)
		}
	}

	out := make([]InterfaceSample, 0, len(samples))
	for _, s := range samples {
		out = append(out, *s)
	}
	return out, nil
}

func (w *Walker) connect(dev types.Device, cred types.SNMPCredential) (*gosnmp.GoSNMP, error) {
	mat, err := w.Credentials.Resolve(cred)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	params := &gosnmp.GoSNMP{
		Target:  dev.IP,
		Port:    161,
		Timeout: w.WalkTimeout,
		Retries: 1,
		MaxOids: 10,
	}

	switch cred.Version {
	case types.SNMPv1:
		params.Version = gosnmp.Version1
		params.Community = mat.Community
	case types.SNMPv2c:
		params.Version = gosnmp.Version2c
		params.Community = mat.Community
	case types.SNMPv3:
		params.Version = gosnmp.Version3
		params.SecurityModel = gosnmp.UserSecurityModel
		params.MsgFlags = gosnmp.AuthPriv
		params.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 mat.V3User,
			AuthenticationProtocol:   gosnmp.SHA,
			AuthenticationPassphrase: mat.V3Auth,
			PrivacyProtocol:          gosnmp.AES,
			PrivacyPassphrase:        mat.V3Priv,
		}
	default:
		return nil, fmt.Errorf("unknown SNMP version %q", cred.Version)
	}

	if err := params.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return params, nil
}

func closeConn(params *gosnmp.GoSNMP) {
	if params.Conn != nil {
		_ = params.Conn.Close()
	}
}

// ifIndexFromOID extracts the trailing ifIndex instance suffix from a
// returned OID, validating it is under the expected base OID.
func ifIndexFromOID(returned, base string) (int, bool) {
	if !strings.HasPrefix(returned, "."+base) && !strings.HasPrefix(returned, base) {
		return 0, false
	}
	trimmed := strings.TrimPrefix(returned, ".")
	parts := strings.Split(trimmed, ".")
	if len(parts) == 0 {
		return 0, false
	}
	idx, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	return idx, true
}

func ifStatusString(value interface{}) string {
	n, ok := value.(int)
	if !ok {
		return "unknown"
	}
	switch n {
	case 1:
		return "up"
	case 2:
		return "down"
	case 3:
		return "testing"
	default:
		return "unknown"
	}
}
