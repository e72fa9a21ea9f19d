package types

import "time"

// DeviceID is the opaque stable identifier for a monitored device.
type DeviceID string

// RuleID identifies an AlertRule.
type RuleID string

// InstanceID identifies a single AlertInstance.
type InstanceID string

// MonitoringMode controls which probe drivers run against a device.
type MonitoringMode string

const (
	MonitoringICMPOnly MonitoringMode = "icmp_only"
	MonitoringSNMP     MonitoringMode = "snmp"
	MonitoringBoth     MonitoringMode = "both"
)

// FlapState classifies how recently a device has been alternating UP/DOWN.
type FlapState string

const (
	FlapStable    FlapState = "stable"
	FlapSuspected FlapState = "suspected"
	FlapFlapping  FlapState = "flapping"
)

// InterfaceType is the classification assigned to a discovered SNMP interface.
type InterfaceType string

const (
	InterfaceISP      InterfaceType = "isp"
	InterfaceTrunk    InterfaceType = "trunk"
	InterfaceAccess   InterfaceType = "access"
	InterfaceMgmt     InterfaceType = "mgmt"
	InterfaceLoopback InterfaceType = "loopback"
	InterfaceWAN      InterfaceType = "wan"
	InterfaceLAN      InterfaceType = "lan"
	InterfaceServer   InterfaceType = "server"
	InterfaceUnknown  InterfaceType = "unknown"
)

// Device is the inventory record for one monitored host. It is immutable;
// the State Machine produces a new value (via WithTransition/WithFlap) on
// every authoritative change rather than mutating a shared instance.
type Device struct {
	ID             DeviceID
	IP             string
	Name           string
	DeviceType     string
	Branch         string
	Region         string
	Enabled        bool
	SNMPProfileID  string
	MonitoringMode MonitoringMode
	IsISPLink      bool
	DownSince      *time.Time
	FlapState      FlapState
	FlapUntil      *time.Time
	CustomFields   map[string]string
}

// IsUp reports whether the device's last probe window ended UP.
func (d Device) IsUp() bool {
	return d.DownSince == nil
}

// IsFlapping reports whether the device is currently in the flapping window.
func (d Device) IsFlapping(now time.Time) bool {
	return d.FlapState == FlapFlapping && d.FlapUntil != nil && d.FlapUntil.After(now)
}

// WithTransition returns a copy of d with its down_since authority updated
// for a probe observed at at: reachable clears it, unreachable sets it
// (unless already down, in which case the earlier down_since wins).
func (d Device) WithTransition(at time.Time, reachable bool) Device {
	next := d
	if reachable {
		next.DownSince = nil
		return next
	}
	if next.DownSince == nil {
		downSince := at
		next.DownSince = &downSince
	}
	return next
}

// WithFlap returns a copy of d with its flap classification updated.
func (d Device) WithFlap(state FlapState, until *time.Time) Device {
	next := d
	next.FlapState = state
	next.FlapUntil = until
	return next
}

// ProbeResult is the immutable outcome of a single ICMP echo or SNMP probe.
type ProbeResult struct {
	DeviceID     DeviceID
	DeviceIP     string
	Timestamp    time.Time
	Sequence     uint64 // secondary tiebreaker for same-timestamp probes
	Reachable    bool
	RTTAvgMS     *float64
	RTTMinMS     *float64
	RTTMaxMS     *float64
	PacketLossPC float64
	ReasonCode   string // set when !Reachable; e.g. "timeout", "auth_failure", "no_access"
	Varbinds     map[string]string
}

// SNMPVersion is the wire protocol version used for an SNMP credential.
type SNMPVersion string

const (
	SNMPv1  SNMPVersion = "v1"
	SNMPv2c SNMPVersion = "v2c"
	SNMPv3  SNMPVersion = "v3"
)

// SNMPCredential holds the (encrypted at rest) material needed to poll a
// device. Ciphertext fields are only ever decrypted just before a probe;
// CredentialStore is the sole component permitted to call Decrypt.
type SNMPCredential struct {
	ID                   string
	Version              SNMPVersion
	Priority             int
	IsDefault            bool
	CommunityCiphertext  []byte // v1/v2c
	V3UserCiphertext     []byte
	V3AuthCiphertext     []byte
	V3PrivCiphertext     []byte
}

// Interface is a per-device SNMP interface row keyed by (DeviceID, IfIndex).
type Interface struct {
	DeviceID    DeviceID
	IfIndex     int
	IfName      string
	IfAlias     string
	AdminStatus string
	OperStatus  string
	SpeedBps    uint64
	Type        InterfaceType
	ISPProvider string
	IsCritical  bool
}

// Severity ranks an AlertRule/AlertInstance.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PredicateKind is the fixed, closed set of predicates a rule may use.
// There is deliberately no free-form expression predicate: see §4.2.
type PredicateKind string

const (
	PredicateIsDown               PredicateKind = "is_down"
	PredicateIsDownFor             PredicateKind = "is_down_for"
	PredicateAvgPacketLossExceeds PredicateKind = "avg_packet_loss_exceeds"
	PredicateAvgRTTExceeds        PredicateKind = "avg_rtt_exceeds"
	PredicateStateChangesExceed   PredicateKind = "state_changes_exceed"
)

// PredicateParams carries the (sparse) parameters a PredicateKind needs.
// Only the fields relevant to Kind are populated.
type PredicateParams struct {
	Threshold      float64       // θ in avg_packet_loss_exceeds / avg_rtt_exceeds
	Window         time.Duration // w in the windowed predicates
	Duration       time.Duration // τ in is_down_for
	TransitionsMin int           // K in state_changes_exceed
}

// ScopeFilter restricts a rule to a subset of devices by equality match.
// A zero-valued field means "unconstrained" for that attribute.
type ScopeFilter struct {
	IsISPLink   *bool
	DeviceType  string
	Branch      string
	Region      string
	CustomField string
	CustomValue string
}

// AlertRule is a declarative (predicate_kind, parameters, scope) tuple.
type AlertRule struct {
	ID                  RuleID
	Name                string
	Severity            Severity
	Predicate           PredicateKind
	Params              PredicateParams
	Scope               ScopeFilter
	ConfirmationWindow  time.Duration
	Hysteresis          time.Duration
	Enabled             bool
	DependsOnDeviceAttr string // optional upstream-dependency attribute for cascade suppression

	LastTriggeredAt *time.Time
	Count24h        int
	Count7d         int
}

// AlertStatus is the lifecycle state of an AlertInstance.
type AlertStatus string

const (
	AlertFiring       AlertStatus = "firing"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// DedupKey identifies one firing instance; at most one firing instance
// may exist per DedupKey at any time.
type DedupKey struct {
	RuleID    RuleID
	DeviceID  DeviceID
	OpenEpoch int64 // unix seconds of the opening transition
}

// AlertInstance records one firing/resolved occurrence of a rule against a device.
type AlertInstance struct {
	ID           InstanceID
	RuleID       RuleID
	DeviceID     DeviceID
	Severity     Severity
	Status       AlertStatus
	OpenedAt     time.Time
	ResolvedAt   *time.Time
	DurationSec  *int64
	Acknowledged bool
	DedupKey     DedupKey
}

// BatchPlan is the transient output of one Batch Planner tick.
type BatchPlan struct {
	Tick       uint64
	BatchSize  int
	BatchCount int
	Partitions [][]DeviceID
}

// QueueName is one of the four named, non-stealing priority queues.
type QueueName string

const (
	QueueAlerts      QueueName = "alerts"
	QueueMonitoring  QueueName = "monitoring"
	QueueSNMP        QueueName = "snmp"
	QueueMaintenance QueueName = "maintenance"
)

// TaskKind distinguishes the batch task types the scheduler emits.
type TaskKind string

const (
	TaskICMPBatch         TaskKind = "icmp_batch"
	TaskSNMPBatch         TaskKind = "snmp_batch"
	TaskInterfaceMetrics  TaskKind = "interface_metrics"
	TaskAlertEvaluation   TaskKind = "alert_evaluation"
	TaskInterfaceDiscover TaskKind = "interface_discovery"
	TaskCleanup           TaskKind = "cleanup"
	TaskHealthSelfCheck   TaskKind = "health_self_check"
)

// Task is one unit of work enqueued onto a named queue.
type Task struct {
	ID         string
	Kind       TaskKind
	Queue      QueueName
	Priority   byte
	DeviceIDs  []DeviceID
	Deadline   time.Time
	EnqueuedAt time.Time
}
