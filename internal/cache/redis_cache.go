package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisSummaryCache struct {
	client *redis.Client
}

func NewRedisSummaryCache(addr string, password string, db int) *RedisSummaryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSummaryCache{client: client}
}

func (c *RedisSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSummaryCache) Close() error {
	return c.client.Close()
}

func summaryKey(storeID string) string {
	if storeID == "" {
		return "sales-summary:all"
	}
	return "sales-summary:" + storeID
}

func (c *RedisSummaryCache) Get(ctx context.Context, storeID string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, summaryKey(storeID)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	total, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return total, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, storeID string, total decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, summaryKey(storeID), total.String(), ttl).Err()
}

func (c *RedisSummaryCache) Invalidate(ctx context.Context, storeID string) error {
	keys := []string{summaryKey("")}
	if storeID != "" {
		keys = append(keys, summaryKey(storeID))
	}
	return c.client.Del(ctx, keys...).Err()
}
