package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps the ingest queue and pub/sub on separate connections so
// blocking pops never stall live fan-out.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clients := &RedisClients{
		Queue:  redis.NewClient(opt),
		PubSub: redis.NewClient(cloneOptions(opt)),
	}
	if err := clients.Ping(ctx); err != nil {
		clients.Close()
		return nil, err
	}

	return clients, nil
}

func (r *RedisClients) Ping(ctx context.Context) error {
	if err := r.Queue.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis (queue): %w", err)
	}
	if err := r.PubSub.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}
	return nil
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.PubSub.Close()
}

func cloneOptions(opt *redis.Options) *redis.Options {
	c := *opt
	return &c
}
