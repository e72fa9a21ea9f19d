/*
Package log provides structured logging for netmon using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Usage

Initializing the logger:

	import "github.com/wardflux/netmon/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("starting cadence loop")

	// Multiple context fields: chain zerolog's own With() builder off
	// the component-scoped logger, rather than the package-level
	// WithDeviceID/WithRuleID/WithTaskID helpers (those scope off the
	// global Logger and would discard the component field).
	probeLog := log.WithComponent("probe.snmp").
		With().Str("device_id", "dev-123").Logger()
	probeLog.Debug().Msg("snmp get failed, retrying")

Context logger helpers (scope off the global Logger directly, for call
sites that don't need a component field):

	deviceLog := log.WithDeviceID("dev-123")
	ruleLog := log.WithRuleID("rule-isp-flap")
	taskLog := log.WithTaskID("task-abc")

# Conventions

Component names in use across the codebase: "scheduler", "worker.alerts",
"worker.monitoring", "worker.snmp", "worker.maintenance",
"worker.interface_metrics", "worker.interface_discovery", "worker.cleanup",
"probe.icmp", "probe.snmp", "queue", "statemachine", "alert", "gateway",
"tsdb", "cache", "serve".

Never log credential material — the Credential Store's plaintext SNMP
secrets never reach a logger at any level; only ciphertext, key IDs, and
resolution outcomes do.
*/
package log
