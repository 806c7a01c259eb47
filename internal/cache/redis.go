package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/insight"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

const keyPrefix = "insights:"

// RedisCache stores composed insight payloads keyed by input fingerprint
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// Connect initializes a Redis client from URL or host:port input and pings it
func Connect(ctx context.Context, addr string, ttl time.Duration, log *logger.Logger) (*RedisCache, error) {
	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:         addr,
			PoolSize:     20,
			MinIdleConns: 2,
			MaxRetries:   3,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisCache{client: rdb, ttl: ttl, logger: log.WithComponent("cache")}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// SavePayload caches p under key for the configured TTL
func (c *RedisCache) SavePayload(ctx context.Context, key string, p insight.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}

// GetPayload returns the cached payload, or nil when there is none
func (c *RedisCache) GetPayload(ctx context.Context, key string) (*insight.Payload, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p insight.Payload
	if err := json.Unmarshal(val, &p); err != nil {
		c.logger.Warn("Discarding unreadable cached payload", "key", key, "error", err)
		return nil, nil
	}
	return &p, nil
}

// Fingerprint hashes the measurements and the request parts into a cache key.
// The result does not depend on the order of ms.
func Fingerprint(ms []models.Measurement, parts ...string) string {
	lines := make([]string, len(ms))
	for i, m := range ms {
		var b strings.Builder
		b.WriteString(m.Key())
		// Days group by the reading's own zone, so the offset is part of the identity
		b.WriteByte('|')
		b.WriteString(m.Timestamp.Format(time.RFC3339Nano))
		values := m.Metrics.Values()
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteByte('|')
			b.WriteString(strconv.FormatFloat(values[name], 'g', -1, 64))
		}
		lines[i] = b.String()
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
