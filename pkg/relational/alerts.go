package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wardflux/netmon/pkg/types"
)

const alertRuleSelect = `SELECT id, name, severity, predicate, threshold, window_sec, duration_sec, transitions_min,
	confirmation_sec, hysteresis_sec, enabled, depends_on_attr, scope_is_isp_link, scope_device_type, scope_branch,
	scope_region, scope_custom_field, scope_custom_value, last_triggered_at, count_24h, count_7d FROM alert_rules`

// AlertRules returns every configured rule, enabled or not — the
// Evaluator filters disabled rules itself so a toggle takes effect
// without a process restart.
func (s *Store) AlertRules(ctx context.Context) ([]types.AlertRule, error) {
	rows, err := s.pool.Query(ctx, alertRuleSelect)
	if err != nil {
		return nil, fmt.Errorf("query alert_rules: %w", err)
	}
	defer rows.Close()

	var out []types.AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanAlertRule(row rowScanner) (types.AlertRule, error) {
	var rule types.AlertRule
	var windowSec, durationSec, confirmationSec, hysteresisSec int
	err := row.Scan(&rule.ID, &rule.Name, &rule.Severity, &rule.Predicate, &rule.Params.Threshold,
		&windowSec, &durationSec, &rule.Params.TransitionsMin, &confirmationSec, &hysteresisSec,
		&rule.Enabled, &rule.DependsOnDeviceAttr, &rule.Scope.IsISPLink, &rule.Scope.DeviceType,
		&rule.Scope.Branch, &rule.Scope.Region, &rule.Scope.CustomField, &rule.Scope.CustomValue,
		&rule.LastTriggeredAt, &rule.Count24h, &rule.Count7d)
	if err != nil {
		return types.AlertRule{}, fmt.Errorf("scan alert_rules row: %w", err)
	}
	rule.Params.Window = time.Duration(windowSec) * time.Second
	rule.Params.Duration = time.Duration(durationSec) * time.Second
	rule.ConfirmationWindow = time.Duration(confirmationSec) * time.Second
	rule.Hysteresis = time.Duration(hysteresisSec) * time.Second
	return rule, nil
}

// OpenAlertInstance inserts a new firing instance; write_alert_event is
// relational only, per spec.md §4.3.
func (s *Store) OpenAlertInstance(ctx context.Context, inst types.AlertInstance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_history (id, rule_id, device_id, severity, status, opened_at, acknowledged, dedup_open_epoch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(inst.ID), string(inst.RuleID), string(inst.DeviceID), string(inst.Severity),
		string(inst.Status), inst.OpenedAt, inst.Acknowledged, inst.DedupKey.OpenEpoch)
	if err != nil {
		return fmt.Errorf("open alert instance %s: %w", inst.ID, err)
	}
	return nil
}

// ResolveAlertInstance marks an open instance resolved and records its
// duration.
func (s *Store) ResolveAlertInstance(ctx context.Context, id types.InstanceID, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_history
		SET status = $2, resolved_at = $3, duration_sec = EXTRACT(EPOCH FROM ($3 - opened_at))::bigint
		WHERE id = $1 AND resolved_at IS NULL`,
		string(id), string(types.AlertResolved), resolvedAt)
	if err != nil {
		return fmt.Errorf("resolve alert instance %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolve alert instance %s: already resolved or not found", id)
	}
	return nil
}

// OpenInstanceFor returns the currently-open instance for (ruleID,
// deviceID), if any — the dedup check the Evaluator runs before opening
// a new instance.
func (s *Store) OpenInstanceFor(ctx context.Context, ruleID types.RuleID, deviceID types.DeviceID) (types.AlertInstance, bool, error) {
	var inst types.AlertInstance
	var openEpoch int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, rule_id, device_id, severity, status, opened_at, resolved_at, duration_sec, acknowledged, dedup_open_epoch
		FROM alert_history WHERE rule_id = $1 AND device_id = $2 AND resolved_at IS NULL
		ORDER BY opened_at DESC LIMIT 1`,
		string(ruleID), string(deviceID)).
		Scan(&inst.ID, &inst.RuleID, &inst.DeviceID, &inst.Severity, &inst.Status, &inst.OpenedAt,
			&inst.ResolvedAt, &inst.DurationSec, &inst.Acknowledged, &openEpoch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.AlertInstance{}, false, nil
		}
		return types.AlertInstance{}, false, fmt.Errorf("lookup open instance for rule %s device %s: %w", ruleID, deviceID, err)
	}
	inst.DedupKey = types.DedupKey{RuleID: ruleID, DeviceID: deviceID, OpenEpoch: openEpoch}
	return inst, true, nil
}

// RecordTrigger bumps a rule's rolling 24h/7d counters and last-triggered
// timestamp. The counters are a coarse operational signal, not derived
// from alert_history at read time, so a dashboard summary doesn't have
// to scan history on every load.
func (s *Store) RecordTrigger(ctx context.Context, ruleID types.RuleID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_rules SET last_triggered_at = $2, count_24h = count_24h + 1, count_7d = count_7d + 1
		WHERE id = $1`, string(ruleID), at)
	if err != nil {
		return fmt.Errorf("record trigger for rule %s: %w", ruleID, err)
	}
	return nil
}

// DecayTriggerStats resets the 24h counter daily and the 7d counter
// weekly; invoked from the same daily cleanup cadence as
// CleanupPingHistory.
func (s *Store) DecayTriggerStats(ctx context.Context, resetWeekly bool) error {
	query := `UPDATE alert_rules SET count_24h = 0`
	if resetWeekly {
		query = `UPDATE alert_rules SET count_24h = 0, count_7d = 0`
	}
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("decay trigger stats: %w", err)
	}
	return nil
}
