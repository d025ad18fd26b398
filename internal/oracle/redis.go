package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/settle/internal/domain"
)

// Redis reads oracle values from plain Redis string keys named by Key.
// Whatever feeds the oracle writes those keys; the engine only reads them.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a source backed by the Redis server at addr.
func NewRedis(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("oracle redis ping: %w", err)
	}
	return nil
}

// Lookup implements engine.OracleSource.
func (r *Redis) Lookup(ctx context.Context, c domain.OracleCondition) (string, error) {
	k := Key(c.Owner, c.Address, c.Key)
	v, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s: %w", k, ErrNoValue)
	}
	if err != nil {
		return "", fmt.Errorf("oracle redis get %s: %w", k, err)
	}
	return v, nil
}

// Set writes the value oracle (owner, address) reports for key. Used by
// operators and tests to feed the oracle.
func (r *Redis) Set(ctx context.Context, owner, address, key, value string) error {
	k := Key(owner, address, key)
	if err := r.client.Set(ctx, k, value, 0).Err(); err != nil {
		return fmt.Errorf("oracle redis set %s: %w", k, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
