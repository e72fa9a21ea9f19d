// Package cache implements the Read Cache (component J): a thin,
// short-TTL key-value cache fronting the Gateway's hot read paths
// (device lists, device-detail bundles, the alert rule list, ISP status
// snapshots), backed by github.com/redis/go-redis/v9. It is
// best-effort: on any Redis error the caller is told to fall through to
// the Gateway, the miss is logged, and the failure is never surfaced to
// the original caller — per spec.md §4.3's explicit cache contract.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/metrics"
)

// Cache wraps a Redis client with the fixed key namespaces the Gateway
// uses.
type Cache struct {
	client *redis.Client
	ttl    TTLs
}

// TTLs holds the per-namespace expirations from config.Cache.
type TTLs struct {
	DeviceList   time.Duration
	DeviceDetail time.Duration
	RuleList     time.Duration
	ISPStatus    time.Duration
}

// New builds a Cache from cfg. It does not ping Redis at construction
// time — a cold/unreachable cache degrades to "always miss", not a
// startup failure, since the Gateway is always a valid fallback.
func New(cfg config.Cache) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		ttl: TTLs{
			DeviceList:   time.Duration(cfg.DeviceListTTLSec) * time.Second,
			DeviceDetail: time.Duration(cfg.DeviceDetailTTLSec) * time.Second,
			RuleList:     time.Duration(cfg.RuleListTTLSec) * time.Second,
			ISPStatus:    time.Duration(cfg.ISPStatusTTLSec) * time.Second,
		},
	}
}

func (c *Cache) Close() error { return c.client.Close() }

// Ping checks Redis reachability, for the health-self-check cadence.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Namespace identifies one of the Gateway's hot read paths, each with
// its own TTL and invalidation trigger.
type Namespace string

const (
	NamespaceDeviceList   Namespace = "device_list"
	NamespaceDeviceDetail Namespace = "device_detail"
	NamespaceRuleList     Namespace = "rule_list"
	NamespaceISPStatus    Namespace = "isp_status"
)

func (c *Cache) ttlFor(ns Namespace) time.Duration {
	switch ns {
	case NamespaceDeviceList:
		return c.ttl.DeviceList
	case NamespaceDeviceDetail:
		return c.ttl.DeviceDetail
	case NamespaceRuleList:
		return c.ttl.RuleList
	case NamespaceISPStatus:
		return c.ttl.ISPStatus
	default:
		return 0
	}
}

// Get looks up key in ns and unmarshals it into dest. hit is false on
// any cache miss or Redis error; callers always fall through to the
// Gateway on !hit. Errors are logged, never returned, matching the
// cache's best-effort contract.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string, dest any) (hit bool) {
	raw, err := c.client.Get(ctx, cacheKey(ns, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			metrics.CacheMissesTotal.WithLabelValues(string(ns)).Inc()
		} else {
			log.WithComponent("cache").Warn().Err(err).Str("namespace", string(ns)).Msg("read cache get failed, falling through to gateway")
			metrics.CacheErrorsTotal.WithLabelValues("get").Inc()
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("namespace", string(ns)).Msg("read cache value corrupt, falling through to gateway")
		return false
	}
	metrics.CacheHitsTotal.WithLabelValues(string(ns)).Inc()
	return true
}

// Set stores value under key in ns with that namespace's configured
// TTL. Errors are logged and swallowed: a failed cache write never
// fails the write path it's attached to.
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("namespace", string(ns)).Msg("failed to marshal value for read cache")
		return
	}
	if err := c.client.Set(ctx, cacheKey(ns, key), raw, c.ttlFor(ns)).Err(); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("namespace", string(ns)).Msg("read cache set failed")
		metrics.CacheErrorsTotal.WithLabelValues("set").Inc()
	}
}

// InvalidateDevice evicts every cached key touching one device: its
// detail bundle and the list/ISP-status snapshots it could appear in.
// Called by the State Machine on every went_down/recovered transition,
// per spec.md §4.3's explicit-invalidation requirement.
func (c *Cache) InvalidateDevice(ctx context.Context, deviceID string) {
	c.del(ctx, "invalidate device", cacheKey(NamespaceDeviceDetail, deviceID), cacheKey(NamespaceDeviceList, "*"), cacheKey(NamespaceISPStatus, "*"))
}

// InvalidateRule evicts a rule's aggregate keys on alert open/resolve.
func (c *Cache) InvalidateRule(ctx context.Context, ruleID string) {
	c.del(ctx, "invalidate rule", cacheKey(NamespaceRuleList, "*"), cacheKey(NamespaceRuleList, ruleID))
}

func (c *Cache) del(ctx context.Context, op string, keys ...string) {
	var direct []string
	for _, k := range keys {
		if len(k) > 0 && k[len(k)-1] == '*' {
			matched, err := c.client.Keys(ctx, k).Result()
			if err != nil {
				log.WithComponent("cache").Warn().Err(err).Str("op", op).Msg("read cache key scan failed during invalidation")
				metrics.CacheErrorsTotal.WithLabelValues("invalidate").Inc()
				continue
			}
			direct = append(direct, matched...)
			continue
		}
		direct = append(direct, k)
	}
	if len(direct) == 0 {
		return
	}
	if err := c.client.Del(ctx, direct...).Err(); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("op", op).Msg("read cache invalidation failed")
		metrics.CacheErrorsTotal.WithLabelValues("invalidate").Inc()
	}
}

func cacheKey(ns Namespace, key string) string {
	return fmt.Sprintf("netmon:%s:%s", ns, key)
}
