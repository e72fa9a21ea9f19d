// Package scheduler drives every named cadence in the system: it turns
// the passage of time into Tasks on the Queue Broker. Each cadence (ICMP
// sweep, SNMP poll, interface metrics, alert evaluation, interface
// discovery, daily cleanup, worker health self-check) runs its own timer
// independent of the others, so a slow SNMP walk never delays the next
// ICMP sweep.
//
// Device-scoped cadences (ICMP, SNMP poll, interface metrics, interface
// discovery) hand their device set to the Batch Planner before
// enqueuing, so partition membership rotates every tick exactly as
// pkg/batch documents. Whole-system cadences (alert evaluation, cleanup,
// worker health self-check) enqueue a single task with no device split.
//
// Every fire is guarded against pile-up: if the previous generation's
// tasks are still sitting in their queue when the next tick lands, the
// scheduler skips that tick rather than adding more work on top,
// escalating to a forced fire (with a loud log) only once the backlog
// has persisted past 2x the cadence's own interval — long enough that
// refusing forever would otherwise starve monitoring entirely.
package scheduler
