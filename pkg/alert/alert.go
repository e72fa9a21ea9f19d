// Package alert implements the Alert Evaluator (component C2/H): it
// applies the configured rule set to current device state, opens and
// resolves AlertInstances, and suppresses flapping devices and cascade
// dependents, per spec.md §4.2. The evaluation loop itself lives in
// Run; RunCycle is the single pass a scheduler cadence or a test drives
// directly.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/tsdb"
	"github.com/wardflux/netmon/pkg/types"
)

// RuleStore is the slice of the relational store the Evaluator reads
// rule configuration and alert-history dedup state from. These are
// configuration-plane reads, not part of the Gateway's fixed metric
// operation set, so the Evaluator depends on them directly rather than
// through the Gateway.
type RuleStore interface {
	AlertRules(ctx context.Context) ([]types.AlertRule, error)
	ScopedDevices(ctx context.Context, scope types.ScopeFilter) ([]types.Device, error)
	OpenInstanceFor(ctx context.Context, ruleID types.RuleID, deviceID types.DeviceID) (types.AlertInstance, bool, error)
	RecordTrigger(ctx context.Context, ruleID types.RuleID, at time.Time) error
}

// Gateway is the slice of the Hybrid Metric Store Gateway the Evaluator
// depends on: windowed predicate evaluation and alert persistence.
type Gateway interface {
	WriteAlertOpen(ctx context.Context, inst types.AlertInstance) error
	WriteAlertResolve(ctx context.Context, id types.InstanceID, ruleID types.RuleID, resolvedAt time.Time) error
	WindowAggregate(ctx context.Context, measurement, field string, tags map[string]string, window time.Duration, function string) (tsdb.AggregateResult, error)
	LatestState(ctx context.Context, id types.DeviceID) (types.Device, error)
}

type confirmTracking struct {
	trueSince  *time.Time
	falseSince *time.Time
}

// Evaluator runs the rule-evaluation loop.
type Evaluator struct {
	rules    RuleStore
	gw       Gateway
	alertCfg config.Alert
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	cachedRules []types.AlertRule
	rulesAsOf   time.Time
	confirm     map[string]*confirmTracking
}

func New(rules RuleStore, gw Gateway, alertCfg config.Alert) *Evaluator {
	return &Evaluator{
		rules:    rules,
		gw:       gw,
		alertCfg: alertCfg,
		logger:   log.WithComponent("alert"),
		now:      time.Now,
		confirm:  make(map[string]*confirmTracking),
	}
}

// Run drives RunCycle on the configured evaluation cadence until ctx is
// canceled.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.alertCfg.EvaluationInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil {
				e.logger.Error().Err(err).Msg("alert evaluation cycle failed")
			}
		}
	}
}

// RunCycle is one pass of the evaluation loop: refresh the rule cache if
// stale, then evaluate every enabled rule against its scoped device set.
func (e *Evaluator) RunCycle(ctx context.Context) error {
	rules, err := e.rulesSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("refresh alert rules: %w", err)
	}

	deviceIndex := make(map[types.DeviceID]types.Device)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := e.evaluateRule(ctx, rule, deviceIndex); err != nil {
			e.logger.Error().Err(err).Str("rule_id", string(rule.ID)).Msg("rule evaluation failed, continuing with remaining rules")
		}
	}
	return nil
}

func (e *Evaluator) rulesSnapshot(ctx context.Context) ([]types.AlertRule, error) {
	e.mu.Lock()
	stale := e.now().Sub(e.rulesAsOf) >= e.alertCfg.RuleRefresh()
	if !stale {
		rules := e.cachedRules
		e.mu.Unlock()
		return rules, nil
	}
	e.mu.Unlock()

	rules, err := e.rules.AlertRules(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cachedRules = rules
	e.rulesAsOf = e.now()
	e.mu.Unlock()
	return rules, nil
}

// RefreshRulesNow forces an immediate rule-cache reload, for "refreshed
// on change" per spec.md §4.2 — called by whatever surface edits rule
// configuration, instead of waiting out RuleRefreshSec.
func (e *Evaluator) RefreshRulesNow(ctx context.Context) error {
	rules, err := e.rules.AlertRules(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cachedRules = rules
	e.rulesAsOf = e.now()
	e.mu.Unlock()
	return nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule types.AlertRule, deviceIndex map[types.DeviceID]types.Device) error {
	devices, err := e.rules.ScopedDevices(ctx, rule.Scope)
	if err != nil {
		return fmt.Errorf("resolve scope for rule %s: %w", rule.ID, err)
	}

	isISPRule := rule.Scope.IsISPLink != nil && *rule.Scope.IsISPLink
	confirmWindow, hysteresis := rule.ConfirmationWindow, rule.Hysteresis
	if isISPRule {
		fast := time.Duration(e.alertCfg.ISPConfirmationSec) * time.Second
		confirmWindow, hysteresis = fast, fast
	}

	for _, device := range devices {
		deviceIndex[device.ID] = device

		result, unknown := e.evaluatePredicate(ctx, rule, device)
		if unknown {
			continue
		}

		now := e.now()
		key := string(rule.ID) + "/" + string(device.ID)
		track := e.track(key, result, now)

		// is_down/is_down_for already embed their own delay (down_since,
		// or now-down_since>=τ) before the predicate evaluates true, so
		// they fire on the cycle that first observes it rather than
		// stacking a second confirmWindow wait on top. Only predicates
		// whose result can flip within a single instant (the windowed
		// thresholds, state_changes_exceed) need the trueSince-based
		// confirmation.
		confirmed := result && track.trueSince != nil
		if !isInstantPredicate(rule.Predicate) {
			confirmed = confirmed && now.Sub(*track.trueSince) >= confirmWindow
		}
		recovered := !result && track.falseSince != nil && now.Sub(*track.falseSince) >= hysteresis

		existing, hasOpen, err := e.rules.OpenInstanceFor(ctx, rule.ID, device.ID)
		if err != nil {
			return fmt.Errorf("dedup lookup for rule %s device %s: %w", rule.ID, device.ID, err)
		}

		switch {
		case confirmed && !hasOpen:
			if e.suppressed(ctx, rule, device, deviceIndex, now) {
				continue
			}
			if err := e.open(ctx, rule, device, now); err != nil {
				return err
			}
		case recovered && hasOpen:
			if err := e.gw.WriteAlertResolve(ctx, existing.ID, rule.ID, now); err != nil {
				return fmt.Errorf("resolve instance %s: %w", existing.ID, err)
			}
		}
	}
	return nil
}

func (e *Evaluator) track(key string, result bool, now time.Time) confirmTracking {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.confirm[key]
	if !ok {
		t = &confirmTracking{}
		e.confirm[key] = t
	}
	if result {
		if t.trueSince == nil {
			at := now
			t.trueSince = &at
		}
		t.falseSince = nil
	} else {
		if t.falseSince == nil {
			at := now
			t.falseSince = &at
		}
		t.trueSince = nil
	}
	return *t
}

func (e *Evaluator) open(ctx context.Context, rule types.AlertRule, device types.Device, now time.Time) error {
	inst := types.AlertInstance{
		ID:       types.InstanceID(uuid.NewString()),
		RuleID:   rule.ID,
		DeviceID: device.ID,
		Severity: rule.Severity,
		Status:   types.AlertFiring,
		OpenedAt: now,
		DedupKey: types.DedupKey{RuleID: rule.ID, DeviceID: device.ID, OpenEpoch: now.Unix()},
	}
	if err := e.gw.WriteAlertOpen(ctx, inst); err != nil {
		return fmt.Errorf("open instance for rule %s device %s: %w", rule.ID, device.ID, err)
	}
	if err := e.rules.RecordTrigger(ctx, rule.ID, now); err != nil {
		return fmt.Errorf("record trigger for rule %s: %w", rule.ID, err)
	}
	return nil
}

// suppressed applies flap suppression (no new instance while a device is
// classified as flapping) and cascade suppression (no new is_down/
// is_down_for instance while a declared upstream device is down).
func (e *Evaluator) suppressed(ctx context.Context, rule types.AlertRule, device types.Device, deviceIndex map[types.DeviceID]types.Device, now time.Time) bool {
	if device.IsFlapping(now) {
		return true
	}
	if rule.DependsOnDeviceAttr == "" {
		return false
	}
	if rule.Predicate != types.PredicateIsDown && rule.Predicate != types.PredicateIsDownFor {
		return false
	}
	upstreamID, ok := device.CustomFields[rule.DependsOnDeviceAttr]
	if !ok || upstreamID == "" {
		return false
	}
	upstream, ok := deviceIndex[types.DeviceID(upstreamID)]
	if !ok {
		fetched, err := e.gw.LatestState(ctx, types.DeviceID(upstreamID))
		if err != nil {
			return false
		}
		upstream = fetched
		deviceIndex[upstream.ID] = upstream
	}
	return !upstream.IsUp()
}

// isInstantPredicate reports whether a predicate's own evaluation
// already embeds the delay it needs (is_down_for's τ, or is_down's
// immediate down_since check) rather than relying on the evaluator's
// trueSince-based confirmWindow tracking to decide when it has been
// true "long enough".
func isInstantPredicate(p types.PredicateKind) bool {
	return p == types.PredicateIsDown || p == types.PredicateIsDownFor
}

// evaluatePredicate evaluates one rule against one device's current
// state. unknown is true only when a windowed predicate could not be
// answered because the TSDB was unavailable — never a false positive.
func (e *Evaluator) evaluatePredicate(ctx context.Context, rule types.AlertRule, device types.Device) (result bool, unknown bool) {
	switch rule.Predicate {
	case types.PredicateIsDown:
		return !device.IsUp(), false

	case types.PredicateIsDownFor:
		if device.IsUp() {
			return false, false
		}
		return e.now().Sub(*device.DownSince) >= rule.Params.Duration, false

	case types.PredicateAvgPacketLossExceeds:
		return e.windowedThreshold(ctx, device, "packet_loss_pc", rule.Params)

	case types.PredicateAvgRTTExceeds:
		return e.windowedThreshold(ctx, device, "rtt_avg_ms", rule.Params)

	case types.PredicateStateChangesExceed:
		// The State Machine already maintains flap_state/flap_until from
		// the same transition-counting rule (spec.md §4.2); rather than
		// re-deriving a transition count from the TSDB, this predicate
		// treats "currently classified as flapping" as satisfying
		// state_changes_exceed for any rule scoped to the device.
		return device.IsFlapping(e.now()), false

	default:
		return false, true
	}
}

func (e *Evaluator) windowedThreshold(ctx context.Context, device types.Device, field string, params types.PredicateParams) (bool, bool) {
	agg, err := e.gw.WindowAggregate(ctx, "ping", field, map[string]string{"device_id": string(device.ID)}, params.Window, "mean")
	if err != nil || agg.Unavailable {
		return false, true
	}
	return agg.Value > params.Threshold, false
}
