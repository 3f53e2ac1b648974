package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error

	// Approval policy cache. The entry is written on read-through and must
	// be invalidated whenever the policy row changes.
	GetApprovalPolicy(ctx context.Context) (*models.ApprovalPolicy, bool, error)
	SetApprovalPolicy(ctx context.Context, policy *models.ApprovalPolicy, ttl time.Duration) error
	InvalidateApprovalPolicy(ctx context.Context) (int64, error)

	SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) (int64, error) {
	return c.client.Del(ctx, key).Result()
}

func (c *RedisCache) GetApprovalPolicy(ctx context.Context) (*models.ApprovalPolicy, bool, error) {
	val, found, err := c.Get(ctx, ApprovalPolicyKey())
	if err != nil || !found {
		return nil, false, err
	}
	var p models.ApprovalPolicy
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *RedisCache) SetApprovalPolicy(ctx context.Context, policy *models.ApprovalPolicy, ttl time.Duration) error {
	b, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	return c.Set(ctx, ApprovalPolicyKey(), b, ttl)
}

func (c *RedisCache) InvalidateApprovalPolicy(ctx context.Context) (int64, error) {
	return c.Delete(ctx, ApprovalPolicyKey())
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(jobID), string(status), ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return models.JobStatus(val), true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
