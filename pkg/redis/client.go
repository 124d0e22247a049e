package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the Redis client with pipeline-specific functionality
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	config ClientConfig
}

// ClientConfig holds Redis client configuration
type ClientConfig struct {
	Addr       string
	DB         int
	Password   string
	PoolSize   int
	MaxRetries int
}

// NewClient creates a new Redis client
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	opts := &redis.Options{
		Addr:       config.Addr,
		DB:         config.DB,
		Password:   config.Password,
		PoolSize:   config.PoolSize,
		MaxRetries: config.MaxRetries,
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis client connected successfully",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize))

	return &Client{
		rdb:    rdb,
		logger: logger,
		config: config,
	}, nil
}

// Raw exposes the underlying go-redis client for publishers.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Publish publishes a JSON-encoded value to a Redis channel
func (c *Client) Publish(ctx context.Context, channel string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		c.logger.Error("Failed to publish",
			zap.String("channel", channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}

	return nil
}

// Subscribe subscribes to Redis channels and returns a channel of messages
func (c *Client) Subscribe(ctx context.Context, channels []string) (<-chan *redis.Message, error) {
	pubsub := c.rdb.Subscribe(ctx, channels...)

	// Wait for subscription confirmation
	_, err := pubsub.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to channels: %w", err)
	}

	c.logger.Info("Subscribed to channels", zap.Strings("channels", channels))

	return pubsub.Channel(), nil
}

// Set stores a key-value pair with optional expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.rdb.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	return nil
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("key %s not found", key)
		}
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
	}

	return nil
}

// HealthCheck performs a health check on the Redis connection
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis health check failed: %w", err)
	}
	return nil
}

// GetStats returns Redis connection statistics
func (c *Client) GetStats() map[string]interface{} {
	stats := c.rdb.PoolStats()
	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis client", zap.Error(err))
		return err
	}

	c.logger.Info("Redis client closed successfully")
	return nil
}
