package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/metrics"
	"github.com/hr-platform/backend/pkg/config"
	"github.com/hr-platform/backend/pkg/logger"
)

const tokenCounterTTL = 8 * 24 * time.Hour

type Client struct {
	client    *redis.Client
	statusTTL time.Duration
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Client{client: client, statusTTL: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func statusKey(extractionID string) string {
	return fmt.Sprintf("extraction:status:%s", extractionID)
}

func tokensKey(tenantID string, day time.Time) string {
	return fmt.Sprintf("usage:tokens:%s:%s", tenantID, day.UTC().Format("20060102"))
}

// SetStatus caches a status projection for the polling path.
func (c *Client) SetStatus(ctx context.Context, extractionID string, status interface{}) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	err = c.client.Set(ctx, statusKey(extractionID), data, c.statusTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set status cache: %w", err)
	}
	return nil
}

func (c *Client) GetStatus(ctx context.Context, extractionID string, status interface{}) (bool, error) {
	data, err := c.client.Get(ctx, statusKey(extractionID)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("status").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get status cache: %w", err)
	}

	err = json.Unmarshal(data, status)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	metrics.CacheHits.WithLabelValues("status").Inc()
	return true, nil
}

func (c *Client) InvalidateStatus(ctx context.Context, extractionID string) error {
	if err := c.client.Del(ctx, statusKey(extractionID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate status cache: %w", err)
	}
	logger.Debug("Status cache invalidated", zap.String("extraction_id", extractionID))
	return nil
}

// IncrTenantTokens adds to the tenant's daily token counter.
func (c *Client) IncrTenantTokens(ctx context.Context, tenantID string, tokens int) error {
	key := tokensKey(tenantID, time.Now())
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, int64(tokens))
		pipe.Expire(ctx, key, tokenCounterTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment token counter: %w", err)
	}
	return nil
}

func (c *Client) GetTenantTokens(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	val, err := c.client.Get(ctx, tokensKey(tenantID, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
