/*
Package types defines the core data structures shared across netmon:
devices, probe results, SNMP credentials, interfaces, alert rules and
instances, batch plans, and queued tasks. These types are used by every
other package for state management, probe execution, alerting, and
scheduling — they carry no behavior beyond small helper methods
(IsUp, IsFlapping) and are designed to be serializable (JSON for the
relational/TSDB/cache layers) and comparable by value where practical
(DeviceID, RuleID, InstanceID are named string types, not pointers).

# Core Types

Device topology:
  - Device: one monitored host (router, switch, AP, ISP link, etc.)
  - MonitoringMode: which probe drivers run against a device (icmp_only,
    snmp, both)
  - FlapState: stable, suspected, or flapping

Probing:
  - ProbeResult: one ICMP or SNMP probe outcome, with RTT/packet-loss
    stats and a reason code on failure
  - SNMPCredential: a versioned, encrypted-at-rest SNMP credential
  - Interface: one SNMP-discovered network interface on a device

Alerting:
  - AlertRule: a named predicate (is_down, is_down_for,
    avg_packet_loss_exceeds, avg_rtt_exceeds, state_changes_exceed) with
    a scope filter
  - AlertInstance: one open or resolved firing of a rule against a
    device, deduplicated by DedupKey

Scheduling:
  - BatchPlan: one Batch Planner tick's output — a batch size and a
    partition of device IDs
  - Task: one unit of work enqueued onto a named queue (QueueName,
    TaskKind), with a deadline and enqueue timestamp
*/
package types
