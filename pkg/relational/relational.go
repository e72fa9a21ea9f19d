// Package relational implements the relational half of the Hybrid Metric
// Store Gateway (component I): current device/interface/credential state
// and append-only alert history, backed by PostgreSQL via pgx/v5's
// pgxpool.Pool. Per-probe time series belongs to pkg/tsdb, not here — the
// split, and which predicates may query which store, is enforced by the
// Gateway and Alert Evaluator, not by this package.
//
// The multi-statement write paths (UpsertLatestPing, UpsertInterfaces)
// do their work in an explicit pgx.Tx and commit or roll back before
// returning; the other writes are single autocommit statements. None of
// the exported functions accept a pgx.Tx or pooled connection as a
// parameter, so a caller can never hold a transaction open across a
// network probe.
package relational

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/types"
)

// bulkChunkSize bounds how many device IDs one latest_state_bulk
// sub-query carries, per spec.md P9's read-chunking requirement.
const bulkChunkSize = 50

// Store wraps a pgxpool.Pool with the fixed set of queries the Gateway
// and Alert Evaluator are allowed to issue.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pool using cfg's DSN and pool sizing.
func Open(ctx context.Context, cfg config.Relational) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse relational dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize + cfg.Overflow)
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeoutMS)
	poolCfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = fmt.Sprintf("%d", cfg.IdleInTxTimeoutMS)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open relational pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies the pool can still reach Postgres, for the health-self-check cadence.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// UpsertLatestPing performs the relational half of write_probe: it
// overwrites the device's single latest_ping row and, if the probe
// flips reachability, updates devices.down_since in the same
// transaction. It never touches the TSDB — that write is the Gateway's
// responsibility, issued outside this transaction so a TSDB stall can't
// block this commit.
func (s *Store) UpsertLatestPing(ctx context.Context, result types.ProbeResult) (flipped bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin write_probe tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO latest_ping (device_id, device_ip, probed_at, sequence, reachable, rtt_avg_ms, rtt_min_ms, rtt_max_ms, packet_loss_pc, reason_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (device_id) DO UPDATE SET
			device_ip = EXCLUDED.device_ip,
			probed_at = EXCLUDED.probed_at,
			sequence = EXCLUDED.sequence,
			reachable = EXCLUDED.reachable,
			rtt_avg_ms = EXCLUDED.rtt_avg_ms,
			rtt_min_ms = EXCLUDED.rtt_min_ms,
			rtt_max_ms = EXCLUDED.rtt_max_ms,
			packet_loss_pc = EXCLUDED.packet_loss_pc,
			reason_code = EXCLUDED.reason_code
		WHERE latest_ping.probed_at < EXCLUDED.probed_at
			OR (latest_ping.probed_at = EXCLUDED.probed_at AND latest_ping.sequence < EXCLUDED.sequence)
	`, string(result.DeviceID), result.DeviceIP, result.Timestamp, int64(result.Sequence),
		result.Reachable, result.RTTAvgMS, result.RTTMinMS, result.RTTMaxMS, result.PacketLossPC, result.ReasonCode)
	if err != nil {
		return false, fmt.Errorf("upsert latest_ping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The ordering guard declined the write: a newer (or same-instant,
		// higher-sequence) probe already holds latest_ping for this
		// device. This probe arrived out of order and must not influence
		// down_since, or the final state would depend on processing
		// order instead of on the newest probe actually observed.
		return false, tx.Commit(ctx)
	}

	var downSince *time.Time
	err = tx.QueryRow(ctx, `SELECT down_since FROM devices WHERE id = $1 FOR UPDATE`, string(result.DeviceID)).Scan(&downSince)
	if err != nil {
		return false, fmt.Errorf("read device down_since: %w", err)
	}

	wasUp := downSince == nil
	if wasUp == result.Reachable {
		// No state flip; still commit the latest_ping write above.
		return false, tx.Commit(ctx)
	}

	if result.Reachable {
		_, err = tx.Exec(ctx, `UPDATE devices SET down_since = NULL WHERE id = $1`, string(result.DeviceID))
	} else {
		_, err = tx.Exec(ctx, `UPDATE devices SET down_since = $2 WHERE id = $1 AND down_since IS NULL`, string(result.DeviceID), result.Timestamp)
	}
	if err != nil {
		return false, fmt.Errorf("update device down_since: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit write_probe tx: %w", err)
	}
	return true, nil
}

// LatestState reads one device's current row, relational only.
func (s *Store) LatestState(ctx context.Context, id types.DeviceID) (types.Device, error) {
	row := s.pool.QueryRow(ctx, deviceSelect+` WHERE id = $1`, string(id))
	return scanDevice(row)
}

// LatestStateBulk reads many devices' current rows in chunks of at most
// bulkChunkSize, per spec.md P9 — a single unbounded-IN query is not an
// option at fleet scale.
func (s *Store) LatestStateBulk(ctx context.Context, ids []types.DeviceID) (map[types.DeviceID]types.Device, error) {
	out := make(map[types.DeviceID]types.Device, len(ids))

	for start := 0; start < len(ids); start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		strs := make([]string, len(chunk))
		for i, id := range chunk {
			strs[i] = string(id)
		}

		rows, err := s.pool.Query(ctx, deviceSelect+` WHERE id = ANY($1)`, strs)
		if err != nil {
			return nil, fmt.Errorf("latest_state_bulk chunk %d-%d: %w", start, end, err)
		}
		for rows.Next() {
			dev, err := scanDevice(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[dev.ID] = dev
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("latest_state_bulk chunk %d-%d: %w", start, end, err)
		}
	}
	return out, nil
}

// EnabledDevices returns every enabled device, for the scheduler's ICMP
// cadence.
func (s *Store) EnabledDevices(ctx context.Context) ([]types.Device, error) {
	return s.queryDevices(ctx, deviceSelect+` WHERE enabled`)
}

// SNMPEnabledDevices returns every enabled device whose monitoring mode
// includes SNMP, for the SNMP/interface-metrics/discovery cadences.
func (s *Store) SNMPEnabledDevices(ctx context.Context) ([]types.Device, error) {
	return s.queryDevices(ctx, deviceSelect+` WHERE enabled AND monitoring_mode IN ('snmp', 'both')`)
}

// DeviceByID is a thin alias over LatestState used by the worker
// contract's device-lookup step; kept distinct so callers reading for
// probing intent are textually distinguishable from state reads.
func (s *Store) DeviceByID(ctx context.Context, id types.DeviceID) (types.Device, error) {
	return s.LatestState(ctx, id)
}

// DevicesByIDs looks up exactly the devices a batch task names, chunked
// the same way LatestStateBulk is.
func (s *Store) DevicesByIDs(ctx context.Context, ids []types.DeviceID) ([]types.Device, error) {
	byID, err := s.LatestStateBulk(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]types.Device, 0, len(ids))
	for _, id := range ids {
		if dev, ok := byID[id]; ok {
			out = append(out, dev)
		}
	}
	return out, nil
}

// ScopedDevices resolves the device set a rule's ScopeFilter names, in
// one bulk query per spec.md's "single bulk query, not per-device"
// evaluation-loop requirement.
func (s *Store) ScopedDevices(ctx context.Context, scope types.ScopeFilter) ([]types.Device, error) {
	query := deviceSelect + ` WHERE enabled`
	var args []any

	if scope.IsISPLink != nil {
		args = append(args, *scope.IsISPLink)
		query += fmt.Sprintf(" AND is_isp_link = $%d", len(args))
	}
	if scope.DeviceType != "" {
		args = append(args, scope.DeviceType)
		query += fmt.Sprintf(" AND device_type = $%d", len(args))
	}
	if scope.Branch != "" {
		args = append(args, scope.Branch)
		query += fmt.Sprintf(" AND branch = $%d", len(args))
	}
	if scope.Region != "" {
		args = append(args, scope.Region)
		query += fmt.Sprintf(" AND region = $%d", len(args))
	}
	if scope.CustomField != "" {
		args = append(args, scope.CustomValue)
		query += fmt.Sprintf(" AND custom_fields ->> '%s' = $%d", scope.CustomField, len(args))
	}

	return s.queryDevices(ctx, query, args...)
}

func (s *Store) queryDevices(ctx context.Context, query string, args ...any) ([]types.Device, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var out []types.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, rows.Err()
}

const deviceSelect = `SELECT id, ip, name, device_type, branch, region, enabled, snmp_profile_id, monitoring_mode, is_isp_link, down_since, flap_state, flap_until, custom_fields FROM devices`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (types.Device, error) {
	var dev types.Device
	var customFields []byte
	err := row.Scan(&dev.ID, &dev.IP, &dev.Name, &dev.DeviceType, &dev.Branch, &dev.Region, &dev.Enabled,
		&dev.SNMPProfileID, &dev.MonitoringMode, &dev.IsISPLink, &dev.DownSince, &dev.FlapState, &dev.FlapUntil, &customFields)
	if err != nil {
		return types.Device{}, fmt.Errorf("scan device row: %w", err)
	}
	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &dev.CustomFields); err != nil {
			return types.Device{}, fmt.Errorf("unmarshal device custom_fields: %w", err)
		}
	}
	return dev, nil
}

// SetFlapState persists a device's flap classification, written by the
// State Machine after every transition.
func (s *Store) SetFlapState(ctx context.Context, id types.DeviceID, state types.FlapState, until *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE devices SET flap_state = $2, flap_until = $3 WHERE id = $1`,
		string(id), string(state), until)
	if err != nil {
		return fmt.Errorf("set flap state for %s: %w", id, err)
	}
	return nil
}

// Credential loads one SNMP credential by ID for the Credential Store to
// decrypt.
func (s *Store) Credential(ctx context.Context, id string) (types.SNMPCredential, error) {
	var cred types.SNMPCredential
	err := s.pool.QueryRow(ctx, `
		SELECT id, version, priority, is_default, community_ciphertext, v3_user_ciphertext, v3_auth_ciphertext, v3_priv_ciphertext
		FROM snmp_credentials WHERE id = $1`, id).
		Scan(&cred.ID, &cred.Version, &cred.Priority, &cred.IsDefault,
			&cred.CommunityCiphertext, &cred.V3UserCiphertext, &cred.V3AuthCiphertext, &cred.V3PrivCiphertext)
	if err != nil {
		return types.SNMPCredential{}, fmt.Errorf("load credential %s: %w", id, err)
	}
	return cred, nil
}

// UpsertInterfaces replaces the known interface set for one device with
// the results of an interface-discovery task, inside a single
// transaction so readers never see a partial set.
func (s *Store) UpsertInterfaces(ctx context.Context, deviceID types.DeviceID, ifaces []types.Interface) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert interfaces tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM interfaces WHERE device_id = $1`, string(deviceID)); err != nil {
		return fmt.Errorf("clear stale interfaces: %w", err)
	}

	batch := &pgx.Batch{}
	for _, iface := range ifaces {
		batch.Queue(`
			INSERT INTO interfaces (device_id, if_index, if_name, if_alias, admin_status, oper_status, speed_bps, type, isp_provider, is_critical)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			string(iface.DeviceID), iface.IfIndex, iface.IfName, iface.IfAlias, iface.AdminStatus, iface.OperStatus,
			iface.SpeedBps, string(iface.Type), iface.ISPProvider, iface.IsCritical)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert interface %d/%d: %w", i+1, batch.Len(), err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close interface batch: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// CleanupPingHistory implements the daily retention sweep named in
// spec.md's retention paragraph. latest_ping holds only the current row
// per device so there is nothing to age out of it; this sweeps
// alert_history rows resolved before the retention window, which is the
// only append-only relational table this store keeps.
func (s *Store) CleanupPingHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_history WHERE resolved_at IS NOT NULL AND resolved_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup alert_history: %w", err)
	}
	return tag.RowsAffected(), nil
}
