package alert

import (
	"context"
	"testing"
	"time"

	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/tsdb"
	"github.com/wardflux/netmon/pkg/types"
)

type fakeRuleStore struct {
	rules       []types.AlertRule
	devices     map[string][]types.Device // keyed by rule.Scope.DeviceType+Branch+Region for simplicity; tests set scope-agnostic lists
	openByKey   map[string]types.AlertInstance
	triggered   []types.RuleID
}

func (f *fakeRuleStore) AlertRules(ctx context.Context) ([]types.AlertRule, error) {
	return f.rules, nil
}
func (f *fakeRuleStore) ScopedDevices(ctx context.Context, scope types.ScopeFilter) ([]types.Device, error) {
	return f.devices["*"], nil
}
func (f *fakeRuleStore) OpenInstanceFor(ctx context.Context, ruleID types.RuleID, deviceID types.DeviceID) (types.AlertInstance, bool, error) {
	key := string(ruleID) + "/" + string(deviceID)
	inst, ok := f.openByKey[key]
	return inst, ok, nil
}
func (f *fakeRuleStore) RecordTrigger(ctx context.Context, ruleID types.RuleID, at time.Time) error {
	f.triggered = append(f.triggered, ruleID)
	return nil
}

type fakeGateway struct {
	opened   []types.AlertInstance
	resolved []types.InstanceID
	agg      tsdb.AggregateResult
	aggErr   error
	upstream map[types.DeviceID]types.Device
}

func (f *fakeGateway) WriteAlertOpen(ctx context.Context, inst types.AlertInstance) error {
	f.opened = append(f.opened, inst)
	return nil
}
func (f *fakeGateway) WriteAlertResolve(ctx context.Context, id types.InstanceID, ruleID types.RuleID, resolvedAt time.Time) error {
	f.resolved = append(f.resolved, id)
	return nil
}
func (f *fakeGateway) WindowAggregate(ctx context.Context, measurement, field string, tags map[string]string, window time.Duration, function string) (tsdb.AggregateResult, error) {
	return f.agg, f.aggErr
}
func (f *fakeGateway) LatestState(ctx context.Context, id types.DeviceID) (types.Device, error) {
	return f.upstream[id], nil
}

func testAlertCfg() config.Alert {
	return config.Alert{EvaluationIntervalSec: 10, RuleRefreshSec: 60, ISPConfirmationSec: 10}
}

// is_down is instantaneous per spec (down_since != NULL); a configured
// ConfirmationWindow must not make the evaluator wait an extra cycle on
// top of that before opening an instance.
func TestIsDownOpensInstanceImmediately(t *testing.T) {
	downSince := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := &fakeRuleStore{
		rules: []types.AlertRule{{ID: "r1", Predicate: types.PredicateIsDown, Enabled: true, ConfirmationWindow: 20 * time.Second}},
		devices: map[string][]types.Device{"*": {{ID: "d1", DownSince: &downSince}}},
		openByKey: map[string]types.AlertInstance{},
	}
	gw := &fakeGateway{}
	e := New(rs, gw, testAlertCfg())
	e.now = func() time.Time { return downSince }

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 1 {
		t.Fatalf("expected is_down to open on the first cycle it evaluates true, got %d opened", len(gw.opened))
	}
}

// Hand-traces spec.md's S1: R1 is_down_for(10s) scoped is_isp_link=true,
// D1 down at t=5. The predicate itself already embeds the 10s delay via
// down_since, so the rule must open on the first cycle that observes
// now-down_since>=10s — not 10s further on top of that.
func TestISPIsDownForDoesNotStackConfirmationOnTopOfPredicateDelay(t *testing.T) {
	downSince := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)
	isISP := true
	rs := &fakeRuleStore{
		rules: []types.AlertRule{{
			ID: "r1", Predicate: types.PredicateIsDownFor, Enabled: true,
			Scope: types.ScopeFilter{IsISPLink: &isISP}, Params: types.PredicateParams{Duration: 10 * time.Second},
		}},
		devices:   map[string][]types.Device{"*": {{ID: "d1", DownSince: &downSince, IsISPLink: true}}},
		openByKey: map[string]types.AlertInstance{},
	}
	gw := &fakeGateway{}
	e := New(rs, gw, testAlertCfg())

	e.now = func() time.Time { return downSince.Add(5 * time.Second) } // down for 5s, <10s
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 0 {
		t.Fatalf("expected no instance before down_since+10s, got %d opened", len(gw.opened))
	}

	e.now = func() time.Time { return downSince.Add(15 * time.Second) } // down for 15s, >=10s
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 1 {
		t.Fatalf("expected the instance to open on the same cycle the 10s predicate delay is satisfied, got %d opened", len(gw.opened))
	}
}

func TestFlappingDeviceSuppressesNewInstance(t *testing.T) {
	downSince := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := downSince.Add(10 * time.Minute)
	rs := &fakeRuleStore{
		rules: []types.AlertRule{{ID: "r1", Predicate: types.PredicateIsDown, Enabled: true}},
		devices: map[string][]types.Device{"*": {{ID: "d1", DownSince: &downSince, FlapState: types.FlapFlapping, FlapUntil: &until}}},
		openByKey: map[string]types.AlertInstance{},
	}
	gw := &fakeGateway{}
	e := New(rs, gw, testAlertCfg())
	e.now = func() time.Time { return downSince }

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 0 {
		t.Fatalf("expected flapping device to suppress new instance, got %d opened", len(gw.opened))
	}
}

func TestCascadeSuppressionWithholdsAlertWhileUpstreamDown(t *testing.T) {
	downSince := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := &fakeRuleStore{
		rules: []types.AlertRule{{ID: "r1", Predicate: types.PredicateIsDown, Enabled: true, DependsOnDeviceAttr: "uplink"}},
		devices: map[string][]types.Device{"*": {{ID: "d1", DownSince: &downSince, CustomFields: map[string]string{"uplink": "upstream-1"}}}},
		openByKey: map[string]types.AlertInstance{},
	}
	upDownSince := downSince.Add(-time.Minute)
	gw := &fakeGateway{upstream: map[types.DeviceID]types.Device{"upstream-1": {ID: "upstream-1", DownSince: &upDownSince}}}
	e := New(rs, gw, testAlertCfg())
	e.now = func() time.Time { return downSince }

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 0 {
		t.Fatalf("expected cascade suppression while upstream is down, got %d opened", len(gw.opened))
	}
}

func TestWindowedPredicateSkippedWhenTSDBUnavailable(t *testing.T) {
	rs := &fakeRuleStore{
		rules: []types.AlertRule{{ID: "r1", Predicate: types.PredicateAvgPacketLossExceeds, Enabled: true, Params: types.PredicateParams{Threshold: 5, Window: time.Minute}}},
		devices: map[string][]types.Device{"*": {{ID: "d1"}}},
		openByKey: map[string]types.AlertInstance{},
	}
	gw := &fakeGateway{agg: tsdb.AggregateResult{Unavailable: true}}
	e := New(rs, gw, testAlertCfg())

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 0 {
		t.Fatalf("expected no instance opened when TSDB unavailable, got %d", len(gw.opened))
	}
}

// The ISP fast confirmation path only matters for predicates that don't
// already embed their own delay (is_down/is_down_for do, and are covered
// by TestISPIsDownForDoesNotStackConfirmationOnTopOfPredicateDelay) — a
// windowed threshold exercises it here.
func TestISPRuleUsesFastConfirmationPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	isISP := true
	rs := &fakeRuleStore{
		rules: []types.AlertRule{{
			ID: "r1", Predicate: types.PredicateAvgPacketLossExceeds, Enabled: true,
			Scope: types.ScopeFilter{IsISPLink: &isISP}, ConfirmationWindow: time.Hour,
			Params: types.PredicateParams{Threshold: 5, Window: time.Minute},
		}},
		devices:   map[string][]types.Device{"*": {{ID: "d1", IsISPLink: true}}},
		openByKey: map[string]types.AlertInstance{},
	}
	gw := &fakeGateway{agg: tsdb.AggregateResult{Value: 10}}
	e := New(rs, gw, testAlertCfg())
	e.now = func() time.Time { return now }
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 0 {
		t.Fatalf("expected no instance opened before the 10s ISP confirmation elapses, got %d", len(gw.opened))
	}

	e.now = func() time.Time { return now.Add(11 * time.Second) }
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.opened) != 1 {
		t.Fatalf("expected ISP fast path (10s) to override the rule's 1h confirmation window, got %d opened", len(gw.opened))
	}
}

func TestResolvesOpenInstanceAfterHysteresis(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := &fakeRuleStore{
		rules: []types.AlertRule{{ID: "r1", Predicate: types.PredicateIsDown, Enabled: true, Hysteresis: 30 * time.Second}},
		devices: map[string][]types.Device{"*": {{ID: "d1"}}}, // now up: DownSince nil
		openByKey: map[string]types.AlertInstance{
			"r1/d1": {ID: "inst-1", RuleID: "r1", DeviceID: "d1"},
		},
	}
	gw := &fakeGateway{}
	e := New(rs, gw, testAlertCfg())
	e.now = func() time.Time { return now }
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.resolved) != 0 {
		t.Fatalf("expected no resolve before hysteresis elapses, got %d", len(gw.resolved))
	}

	e.now = func() time.Time { return now.Add(31 * time.Second) }
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(gw.resolved) != 1 {
		t.Fatalf("expected instance resolved after hysteresis elapses, got %d", len(gw.resolved))
	}
}
