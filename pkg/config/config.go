// Package config loads and validates netmon's YAML configuration. It is
// loaded once at startup, defaults are pre-populated before unmarshalling,
// and the result is validated before any other component is constructed:
// an invalid predicate kind, a cyclic cascade-suppression dependency, or an
// out-of-range batch bound is a load-time error, never a runtime surprise.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Log        Log        `yaml:"log"`
	ICMP       ICMP       `yaml:"icmp"`
	SNMP       SNMP       `yaml:"snmp"`
	Batch      Batch      `yaml:"batch"`
	Worker     Worker     `yaml:"worker"`
	Relational Relational `yaml:"relational"`
	TSDB       TSDB       `yaml:"tsdb"`
	Cache      Cache      `yaml:"cache"`
	Retention  Retention  `yaml:"retention"`
	Flap       Flap       `yaml:"flap"`
	Alert      Alert      `yaml:"alert"`
	Credential Credential `yaml:"credential"`
	Scheduler  Scheduler  `yaml:"scheduler"`

	// Rules and dependency edges are normally loaded from the relational
	// store, but a static seed set may be supplied at startup so a fresh
	// deployment isn't alert-blind before an operator configures rules.
	Rules        []RuleSeed       `yaml:"rules,omitempty"`
	Dependencies []DependencyEdge `yaml:"dependencies,omitempty"`
}

// Log configures pkg/log.
type Log struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// ICMP configures the ICMP probe driver and its scheduling cadence.
type ICMP struct {
	IntervalSec int `yaml:"interval_sec"`
	TimeoutMS   int `yaml:"timeout_ms"`
}

// SNMP configures the SNMP probe driver and its scheduling cadence.
type SNMP struct {
	IntervalSec int `yaml:"interval_sec"`
	TimeoutMS   int `yaml:"timeout_ms"`
	WalkTimeoutMS int `yaml:"walk_timeout_ms"`
}

// Batch holds the Batch Planner clamp and target. Validate checks these
// values, but pkg/batch does not read them: the planner uses its own
// fixed constants (50, 500, 10).
type Batch struct {
	MinSize     int `yaml:"min_size"`
	MaxSize     int `yaml:"max_size"`
	TargetCount int `yaml:"target_count"`
}

// Worker configures the Priority Queue Broker's per-queue worker pool
// sizes and the recycle threshold shared by all pools.
type Worker struct {
	PoolAlerts      int `yaml:"pool_alerts"`
	PoolMonitoring  int `yaml:"pool_monitoring"`
	PoolSNMP        int `yaml:"pool_snmp"`
	PoolMaintenance int `yaml:"pool_maintenance"`
	TasksPerChild   int `yaml:"tasks_per_child"`
	DrainTimeoutSec int `yaml:"drain_timeout_sec"`
}

// Relational configures the pgx pool fronting the relational store.
type Relational struct {
	DSN                  string `yaml:"dsn"`
	PoolSize             int    `yaml:"pool_size"`
	Overflow             int    `yaml:"overflow"`
	StatementTimeoutMS   int    `yaml:"statement_timeout_ms"`
	IdleInTxTimeoutMS    int    `yaml:"idle_in_tx_timeout_ms"`
}

// TSDB configures the InfluxDB client.
type TSDB struct {
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	Bucket          string `yaml:"bucket"`
	WriteTimeoutMS  int    `yaml:"write_timeout_ms"`
	QueryTimeoutMS  int    `yaml:"query_timeout_ms"`
}

// Cache configures the Redis-backed Read Cache.
type Cache struct {
	Addr              string `yaml:"addr"`
	DeviceListTTLSec  int    `yaml:"device_list_ttl_sec"`
	DeviceDetailTTLSec int   `yaml:"device_detail_ttl_sec"`
	RuleListTTLSec    int    `yaml:"rule_list_ttl_sec"`
	ISPStatusTTLSec   int    `yaml:"isp_status_ttl_sec"`
}

// Retention configures the daily cleanup task.
type Retention struct {
	PingHistoryDays int `yaml:"ping_history_days"`
}

// Flap configures the State Machine's flap classification thresholds.
type Flap struct {
	WindowSec           int `yaml:"window_sec"`
	Transitions         int `yaml:"transitions"`
	ISPTransitions      int `yaml:"isp_transitions"`
	SuppressionMinutes  int `yaml:"suppression_minutes"`
}

// Alert configures the Alert Evaluator's cycle cadence and ISP fast path.
type Alert struct {
	EvaluationIntervalSec int `yaml:"evaluation_interval_sec"`
	RuleRefreshSec        int `yaml:"rule_refresh_sec"`
	ISPConfirmationSec    int `yaml:"isp_confirmation_sec"`
	PersistentFailureN    int `yaml:"persistent_failure_n"`
}

// Credential configures the SNMP Credential Store's encryption key source.
type Credential struct {
	KeyFile    string `yaml:"key_file"`
	Passphrase string `yaml:"passphrase"`
}

// Scheduler configures the remaining named cadences not already covered by
// ICMP/SNMP/Alert (interface discovery, cleanup, worker health self-check).
type Scheduler struct {
	InterfaceDiscoveryHours int `yaml:"interface_discovery_hours"`
	CleanupHourLocal        int `yaml:"cleanup_hour_local"`
	HealthSelfCheckMinutes  int `yaml:"health_self_check_minutes"`
	StatePath               string `yaml:"state_path"`
}

// RuleSeed is the on-disk shape of an AlertRule, resolved into
// types.AlertRule at load time.
type RuleSeed struct {
	ID                 string  `yaml:"id"`
	Name               string  `yaml:"name"`
	Severity           string  `yaml:"severity"`
	Predicate          string  `yaml:"predicate"`
	Threshold          float64 `yaml:"threshold,omitempty"`
	WindowSec          int     `yaml:"window_sec,omitempty"`
	DurationSec        int     `yaml:"duration_sec,omitempty"`
	TransitionsMin     int     `yaml:"transitions_min,omitempty"`
	ConfirmationSec    int     `yaml:"confirmation_sec,omitempty"`
	HysteresisSec      int     `yaml:"hysteresis_sec,omitempty"`
	Enabled            bool    `yaml:"enabled"`
	DependsOnAttr      string  `yaml:"depends_on_attr,omitempty"`
	ScopeIsISPLink     *bool   `yaml:"scope_is_isp_link,omitempty"`
	ScopeDeviceType    string  `yaml:"scope_device_type,omitempty"`
	ScopeBranch        string  `yaml:"scope_branch,omitempty"`
	ScopeRegion        string  `yaml:"scope_region,omitempty"`
}

// DependencyEdge declares that Downstream's alerts are suppressed while
// Upstream is down (cascade suppression).
type DependencyEdge struct {
	Upstream   string `yaml:"upstream"`
	Downstream string `yaml:"downstream"`
}

// Default returns a Config with every field pre-populated per spec §6's
// reference defaults, before any file is unmarshalled on top of it.
func Default() Config {
	return Config{
		Log: Log{Level: "info", JSONOutput: true},
		ICMP: ICMP{IntervalSec: 10, TimeoutMS: 10_000},
		SNMP: SNMP{IntervalSec: 60, TimeoutMS: 5_000, WalkTimeoutMS: 30_000},
		Batch: Batch{MinSize: 50, MaxSize: 500, TargetCount: 10},
		Worker: Worker{
			PoolAlerts:      6,
			PoolMonitoring:  15,
			PoolSNMP:        10,
			PoolMaintenance: 2,
			TasksPerChild:   1000,
			DrainTimeoutSec: 30,
		},
		Relational: Relational{
			PoolSize:           100,
			Overflow:           200,
			StatementTimeoutMS: 30_000,
			IdleInTxTimeoutMS:  60_000,
		},
		TSDB: TSDB{WriteTimeoutMS: 10_000, QueryTimeoutMS: 2_000},
		Cache: Cache{
			DeviceListTTLSec:   30,
			DeviceDetailTTLSec: 30,
			RuleListTTLSec:     60,
			ISPStatusTTLSec:    30,
		},
		Retention: Retention{PingHistoryDays: 30},
		Flap: Flap{
			WindowSec:          300,
			Transitions:        3,
			ISPTransitions:     2,
			SuppressionMinutes: 10,
		},
		Alert: Alert{
			EvaluationIntervalSec: 10,
			RuleRefreshSec:        60,
			ISPConfirmationSec:    10,
			PersistentFailureN:    10,
		},
		Scheduler: Scheduler{
			InterfaceDiscoveryHours: 1,
			CleanupHourLocal:        3,
			HealthSelfCheckMinutes:  5,
			StatePath:               "netmon-scheduler.db",
		},
	}
}

// Load reads and validates the YAML file at path, starting from Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

var validPredicates = map[string]bool{
	"is_down":                 true,
	"is_down_for":             true,
	"avg_packet_loss_exceeds": true,
	"avg_rtt_exceeds":         true,
	"state_changes_exceed":    true,
}

// Validate rejects a configuration that would leave the system in an
// inconsistent state: unknown predicate kinds, out-of-range batch bounds,
// and cyclic cascade-suppression dependency graphs.
func (c Config) Validate() error {
	if c.Batch.MinSize <= 0 || c.Batch.MaxSize < c.Batch.MinSize {
		return fmt.Errorf("batch.min_size/max_size out of range: %d/%d", c.Batch.MinSize, c.Batch.MaxSize)
	}
	if c.Batch.TargetCount <= 0 {
		return fmt.Errorf("batch.target_count must be positive, got %d", c.Batch.TargetCount)
	}

	for _, r := range c.Rules {
		if !validPredicates[r.Predicate] {
			return fmt.Errorf("rule %s: unknown predicate %q", r.ID, r.Predicate)
		}
	}

	if err := checkDependencyCycle(c.Dependencies); err != nil {
		return err
	}

	return nil
}

// checkDependencyCycle runs a DFS-based cycle check over the cascade
// suppression adjacency list (upstream -> downstream edges).
func checkDependencyCycle(edges []DependencyEdge) error {
	adj := make(map[string][]string, len(edges))
	for _, e := range edges {
		adj[e.Upstream] = append(adj[e.Upstream], e.Downstream)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(adj))

	var visit func(node string, path []string) error
	visit = func(node string, path []string) error {
		switch state[node] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected at %q (path: %v)", node, append(path, node))
		}
		state[node] = visiting
		for _, next := range adj[node] {
			if err := visit(next, append(path, node)); err != nil {
				return err
			}
		}
		state[node] = done
		return nil
	}

	for node := range adj {
		if err := visit(node, nil); err != nil {
			return err
		}
	}
	return nil
}

// Duration helpers — the YAML schema stores plain ints (ms/s/hours) because
// that is what a config file author writes; components want time.Duration.

func (c ICMP) Interval() time.Duration  { return time.Duration(c.IntervalSec) * time.Second }
func (c ICMP) Timeout() time.Duration   { return time.Duration(c.TimeoutMS) * time.Millisecond }
func (c SNMP) Interval() time.Duration  { return time.Duration(c.IntervalSec) * time.Second }
func (c SNMP) GetTimeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }
func (c SNMP) WalkTimeout() time.Duration {
	return time.Duration(c.WalkTimeoutMS) * time.Millisecond
}
func (c Relational) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutMS) * time.Millisecond
}
func (c Relational) IdleInTxTimeout() time.Duration {
	return time.Duration(c.IdleInTxTimeoutMS) * time.Millisecond
}
func (c TSDB) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}
func (c TSDB) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}
func (c Flap) Window() time.Duration { return time.Duration(c.WindowSec) * time.Second }
func (c Flap) Suppression() time.Duration {
	return time.Duration(c.SuppressionMinutes) * time.Minute
}
func (c Alert) EvaluationInterval() time.Duration {
	return time.Duration(c.EvaluationIntervalSec) * time.Second
}
func (c Alert) RuleRefresh() time.Duration { return time.Duration(c.RuleRefreshSec) * time.Second }
func (c Worker) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSec) * time.Second
}
