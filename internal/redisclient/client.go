package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-etl/internal/models"

	"github.com/go-redis/redis/v8"
)

const lastRunKey = "etl:orders:last_run"

// ErrLockNotHeld is returned when releasing a lock owned by someone else
var ErrLockNotHeld = errors.New("lock not held by this owner")

// releaseLockScript deletes the lock only while it still holds our token
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	rdb        *redis.Client
	lastRunTTL time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:        rdb,
		lastRunTTL: 7 * 24 * time.Hour,
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock acquires a distributed lock owned by token
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	deleted, err := releaseLockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, lockKey)
	}
	return nil
}

// SetLastRun stores the summary of the most recent finished run
func (c *Client) SetLastRun(ctx context.Context, run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	return c.rdb.Set(ctx, lastRunKey, data, c.lastRunTTL).Err()
}

// GetLastRun retrieves the summary of the most recent finished run
func (c *Client) GetLastRun(ctx context.Context) (*models.Run, error) {
	data, err := c.rdb.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// IsEventProcessed checks the idempotency key recorded for an event
func (c *Client) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return c.CheckIdempotencyKey(ctx, "event:"+eventID)
}

// MarkEventProcessed records an idempotency key for an event
func (c *Client) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	return c.SetIdempotencyKey(ctx, "event:"+eventID, eventType, c.lastRunTTL)
}
