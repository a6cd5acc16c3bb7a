package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/catalogctl/pkg/store"
)

const (
	renewScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

func (s *Store) leaseKey(name string) string {
	return fmt.Sprintf("%s:lease:%s", s.prefix, name)
}

// Acquire tries to acquire the lease. Returns true if successful.
// If the lease is already held by holderID, it renews it.
func (s *Store) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	key := s.leaseKey(name)

	success, err := s.client.SetNX(ctx, key, holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if success {
		return true, nil
	}

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			return s.client.SetNX(ctx, key, holderID, ttl).Result()
		}
		return false, fmt.Errorf("failed to check existing lease: %w", err)
	}
	if val == holderID {
		return true, s.Renew(ctx, name, holderID, ttl)
	}

	return false, nil
}

// Renew extends the lease if holderID still holds it.
func (s *Store) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	res, err := s.client.Eval(ctx, renewScript, []string{s.leaseKey(name)}, holderID, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to execute renew script: %w", err)
	}

	success, ok := res.(int64)
	if !ok {
		return fmt.Errorf("unexpected return type from renew script")
	}
	if success != 1 {
		return fmt.Errorf("%w: %s", store.ErrLeaseLost, name)
	}
	return nil
}

// Release deletes the lease if holderID holds it. Releasing a lease held
// by someone else, or by nobody, is not an error.
func (s *Store) Release(ctx context.Context, name, holderID string) error {
	if err := s.client.Eval(ctx, releaseScript, []string{s.leaseKey(name)}, holderID).Err(); err != nil {
		return fmt.Errorf("failed to execute release script: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (*store.Lease, error) {
	key := s.leaseKey(name)

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease ttl: %w", err)
	}

	// Redis keeps only the holder; version and epoch are not tracked.
	return &store.Lease{
		Name:      name,
		HolderID:  val,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}
