package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	redisclient "github.com/richxcame/escrow-settlement/pkg/redis"
	"go.uber.org/zap"
)

// Lifetimes of the cached read models
const (
	SummaryTTL = 30 * time.Second
	PromoTTL   = 30 * time.Second
)

var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_cache_lookups_total",
		Help: "Cache lookups by key family and result",
	},
	[]string{"family", "result"},
)

// PromoKey is the cache key for a promo code, matched case-insensitively
func PromoKey(code string) string {
	return "promo:" + strings.ToUpper(strings.TrimSpace(code))
}

// EscrowSummaryKey is the cache key for the admin escrow totals
func EscrowSummaryKey() string {
	return "escrow:summary"
}

// GatewayTokenKey is the cache key for the Daraja OAuth token of a consumer key
func GatewayTokenKey(consumerKey string) string {
	return "mpesa:token:" + consumerKey
}

// Manager stores JSON encoded values in Redis
type Manager struct {
	store redisclient.Store
}

// NewManager creates a cache manager over store
func NewManager(store redisclient.Store) *Manager {
	return &Manager{store: store}
}

// Get decodes the value at key into result. Missing keys return redis.ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key string, result interface{}) error {
	data, err := m.store.Read(ctx, key)
	if err != nil {
		lookups.WithLabelValues(family(key), "miss").Inc()
		return err
	}
	if err := json.Unmarshal([]byte(data), result); err != nil {
		lookups.WithLabelValues(family(key), "corrupt").Inc()
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	lookups.WithLabelValues(family(key), "hit").Inc()
	return nil
}

// Set encodes value and stores it for ttl
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value for %s: %w", key, err)
	}
	return m.store.Write(ctx, key, string(data), ttl)
}

// GetOrSet serves key from the cache or fills result from load and caches it.
// Cache failures only cost a reload; they never fail the call.
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, result interface{}, load func() (interface{}, error)) error {
	err := m.Get(ctx, key, result)
	if err == nil {
		return nil
	}
	if !errors.Is(err, redisclient.ErrCacheMiss) {
		logger.WarnContext(ctx, "cache read failed, loading from source", zap.String("key", key), zap.Error(err))
	}

	value, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value for %s: %w", key, err)
	}
	if err := m.store.Write(ctx, key, string(data), ttl); err != nil {
		logger.WarnContext(ctx, "failed to cache value", zap.String("key", key), zap.Error(err))
	}
	return json.Unmarshal(data, result)
}

// Delete evicts keys
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.store.Delete(ctx, keys...)
}

func family(key string) string {
	prefix, _, _ := strings.Cut(key, ":")
	return prefix
}
