package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "slackstream:event:"

type RedisConfig struct {
	URL    string // redis://host:port/db
	TTL    time.Duration
	Logger *slog.Logger
}

// Redis is a ledger shared between every worker pointed at the same server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := cfg.Logger.With("component", "dedupe.redis")
	logger.Info("connected", "addr", opts.Addr, "db", opts.DB)
	return newRedis(c, cfg.TTL, logger), nil
}

func newRedis(c *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{client: c, ttl: ttl, logger: logger}
}

func (r *Redis) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// Mark stores the id with the configured expiry. A zero ttl keeps it forever.
func (r *Redis) Mark(ctx context.Context, eventID string) error {
	if err := r.client.Set(ctx, keyPrefix+eventID, 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
