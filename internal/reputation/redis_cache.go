package reputation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig 描述 Redis 读缓存的连接参数。
type CacheConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// CachedOracle 在任意 Oracle 外包裹一层 Redis TTL 缓存。
// 结算路径上的层级读取频繁而上游聚合服务较慢，缓存未命中时回源并写回。
type CachedOracle struct {
	inner  Oracle
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedOracle 创建 CachedOracle。
func NewCachedOracle(inner Oracle, cfg CacheConfig) (*CachedOracle, error) {
	if inner == nil {
		return nil, errors.New("被缓存的 Oracle 不能为空")
	}
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentpay:reputation"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &CachedOracle{inner: inner, client: client, prefix: prefix, ttl: ttl}, nil
}

// TierOf 实现 Oracle 接口，优先读取缓存。
func (c *CachedOracle) TierOf(ctx context.Context, agentID uint64) (Tier, error) {
	key := fmt.Sprintf("%s:tier:%d", c.prefix, agentID)
	// 缓存未命中或故障时直接回源，不阻断结算路径。
	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		if tier := Tier(raw); tier.Valid() {
			return tier, nil
		}
	}
	tier, err := c.inner.TierOf(ctx, agentID)
	if err != nil {
		return TierUnranked, err
	}
	_ = c.client.Set(ctx, key, string(tier), c.ttl).Err()
	return tier, nil
}

// AverageRating 实现 Oracle 接口，优先读取缓存。
func (c *CachedOracle) AverageRating(ctx context.Context, agentID uint64) (uint64, error) {
	key := fmt.Sprintf("%s:rating:%d", c.prefix, agentID)
	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		if rating, parseErr := strconv.ParseUint(raw, 10, 64); parseErr == nil {
			return rating, nil
		}
	}
	rating, err := c.inner.AverageRating(ctx, agentID)
	if err != nil {
		return 0, err
	}
	_ = c.client.Set(ctx, key, strconv.FormatUint(rating, 10), c.ttl).Err()
	return rating, nil
}

// Close 关闭 Redis 连接。
func (c *CachedOracle) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ Oracle = (*CachedOracle)(nil)
