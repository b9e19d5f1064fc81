package invalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultPrefix  = "cache:"
	DefaultChannel = "cache:invalidate"

	scanCount = 100
)

// Message is published on the channel after keys are dropped.
type Message struct {
	Collections []Collection `json:"collections"`
	At          time.Time    `json:"at"`
}

// RedisInvalidator drops cached keys for a collection and tells listeners
// about it. Keys are expected under "<prefix><collection>:".
type RedisInvalidator struct {
	client  *redis.Client
	prefix  string
	channel string
	logger  *zap.Logger
}

// NewRedisInvalidator connects to redisURL and checks the connection.
func NewRedisInvalidator(redisURL, prefix, channel string, logger *zap.Logger) (*RedisInvalidator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisInvalidatorWithClient(client, prefix, channel, logger), nil
}

// NewRedisInvalidatorWithClient wraps an existing client. Empty prefix or
// channel fall back to the defaults.
func NewRedisInvalidatorWithClient(client *redis.Client, prefix, channel string, logger *zap.Logger) *RedisInvalidator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisInvalidator{
		client:  client,
		prefix:  prefix,
		channel: channel,
		logger:  logging.Component(logger, "invalidate"),
	}
}

func (r *RedisInvalidator) pattern(c Collection) string {
	return r.prefix + string(c) + ":*"
}

// Invalidate deletes every key of the given collections, then publishes one
// Message naming them.
func (r *RedisInvalidator) Invalidate(ctx context.Context, collections ...Collection) error {
	if len(collections) == 0 {
		return nil
	}

	var dropped int
	for _, c := range collections {
		n, err := r.drop(ctx, c)
		dropped += n
		if err != nil {
			return fmt.Errorf("invalidate %s: %w", c, err)
		}
	}

	payload, err := json.Marshal(Message{Collections: collections, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}

	r.logger.Debug("caches invalidated",
		zap.Any("collections", collections),
		zap.Int("keys", dropped))
	return nil
}

func (r *RedisInvalidator) drop(ctx context.Context, c Collection) (int, error) {
	var (
		cursor  uint64
		dropped int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.pattern(c), scanCount).Result()
		if err != nil {
			return dropped, fmt.Errorf("scan keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return dropped, fmt.Errorf("delete keys: %w", err)
			}
			dropped += int(n)
		}
		if next == 0 {
			return dropped, nil
		}
		cursor = next
	}
}

// Close closes the Redis connection.
func (r *RedisInvalidator) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable.
func (r *RedisInvalidator) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
