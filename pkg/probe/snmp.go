package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/wardflux/netmon/pkg/credential"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/types"
)

// Well-known MIB-II OIDs required by the interface and system polling task.
const (
	oidSysDescr    = "1.3.6.1.2.1.1.1.0"
	oidSysName     = "1.3.6.1.2.1.1.5.0"
	oidSysLocation = "1.3.6.1.2.1.1.6.0"

	oidIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	oidIfAdminStatus = "1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = "1.3.6.1.2.1.2.2.1.8"
	oidIfInErrors    = "1.3.6.1.2.1.2.2.1.14"
	oidIfOutErrors   = "1.3.6.1.2.1.2.2.1.20"
	oidIfInDiscards  = "1.3.6.1.2.1.2.2.1.13"
	oidIfOutDiscards = "1.3.6.1.2.1.2.2.1.19"

	// ifXTable (64-bit counters and alias), needed for HC octet counters
	// and ifAlias/ifHighSpeed on gigabit-and-above links.
	oidIfAlias     = "1.3.6.1.2.1.31.1.1.1.18"
	oidIfHCInOctets  = "1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOutOctets = "1.3.6.1.2.1.31.1.1.1.10"
	oidIfHighSpeed   = "1.3.6.1.2.1.31.1.1.1.15"
)

// SNMPDriver polls sysDescr/sysName/sysLocation and reports reachability
// based on whether the SNMP agent answers at all. Interface-table walking
// lives in Walker, invoked separately by the interface metrics and
// discovery tasks rather than by every routine probe.
type SNMPDriver struct {
	Timeout      time.Duration
	Retries      int
	Credentials  *credential.Store
	credentialOf func(types.Device) (types.SNMPCredential, bool)
}

// NewSNMPDriver returns an SNMPDriver. credentialOf resolves the
// credential record assigned to a device's SNMPProfileID; it is supplied
// by the caller (the relational store knows the device→credential
// mapping, not the driver).
func NewSNMPDriver(timeout time.Duration, store *credential.Store, credentialOf func(types.Device) (types.SNMPCredential, bool)) *SNMPDriver {
	return &SNMPDriver{
		Timeout:      timeout,
		Retries:      2,
		Credentials:  store,
		credentialOf: credentialOf,
	}
}

// Kind reports KindSNMP.
func (d *SNMPDriver) Kind() Kind { return KindSNMP }

// Probe issues an SNMP GET for sysDescr/sysName/sysLocation. A GET
// failure on a valid device is distinguished from "device down" by
// ReasonCode: a connection-level failure yields ReasonUnreachable, a
// v3 auth mismatch yields ReasonAuthFailure.
func (d *SNMPDriver) Probe(ctx context.Context, dev types.Device) (types.ProbeResult, error) {
	now := time.Now().UTC()
	result := newResult(dev, now)
	logger := log.WithComponent("probe.snmp").With().Str("device_id", string(dev.ID)).Logger()

	params, err := d.connect(dev)
	if err != nil {
		return result, fmt.Errorf("snmp probe %s: %w", dev.IP, err)
	}
	defer func() {
		if params.Conn != nil {
			_ = params.Conn.Close()
		}
	}()

	oids := []string{oidSysName, oidSysDescr, oidSysLocation}
	resp, err := d.getWithBackoff(ctx, params, oids)
	if err != nil {
		result.Reachable = false
		result.PacketLossPC = 100
		result.ReasonCode = classifyError(err)
		logger.Debug().Err(err).Msg("snmp get failed")
		return result, nil
	}

	result.Reachable = true
	result.PacketLossPC = 0
	for i, name := range []string{"sysName", "sysDescr", "sysLocation"} {
		if i >= len(resp.Variables) {
			break
		}
		if s, ok := snmpString(resp.Variables[i].Value); ok {
			result.Varbinds[name] = s
		}
	}
	return result, nil
}

// connect builds a gosnmp.GoSNMP client for dev using its resolved
// credential and opens the UDP socket. Callers must close params.Conn.
func (d *SNMPDriver) connect(dev types.Device) (*gosnmp.GoSNMP, error) {
	cred, ok := d.credentialOf(dev)
	if !ok {
		return nil, fmt.Errorf("no SNMP credential assigned to device %s", dev.ID)
	}
	mat, err := d.Credentials.Resolve(cred)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	params := &gosnmp.GoSNMP{
		Target:  dev.IP,
		Port:    161,
		Timeout: d.Timeout,
		Retries: 0, // retries are handled by getWithBackoff
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

// getWithBackoff issues a Get, retrying up to d.Retries times with
// jittered exponential backoff between attempts, per the worker
// contract's SNMP retry policy.
func (d *SNMPDriver) getWithBackoff(ctx context.Context, params *gosnmp.GoSNMP, oids []string) (*gosnmp.SnmpPacket, error) {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt <= d.Retries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(attempt*37) * time.Millisecond % (backoff / 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
			backoff *= 2
		}

		resp, err := params.Get(oids)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "auth") || strings.Contains(msg, "usm"):
		return ReasonAuthFailure
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ReasonTimeout
	default:
		return ReasonUnreachable
	}
}

func snmpString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}
