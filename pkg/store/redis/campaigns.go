// Package redis stores campaign history and leases in Redis, for hosts
// that share one history between several runners.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/catalogctl/pkg/store"
)

const DefaultPrefix = "catalogctl"

// Store keeps each campaign as a JSON value under <prefix>:campaign:<id>
// and indexes ids in a sorted set scored by start time in milliseconds.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ store.History = (*Store)(nil)

func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, logger: slog.Default()}
}

// Open connects to the redis URL (redis://host:port/db) and pings it.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStore(client, ""), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) campaignKey(id string) string {
	return fmt.Sprintf("%s:campaign:%s", s.prefix, id)
}

func (s *Store) indexKey() string {
	return s.prefix + ":campaigns"
}

func (s *Store) SaveCampaign(ctx context.Context, c store.Campaign) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign %s: %w", c.ID, err)
	}
	key := s.campaignKey(c.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.StartedAt.UnixMilli()), Member: c.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*store.Campaign, error) {
	data, err := s.client.Get(ctx, s.campaignKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrCampaignNotFound, id)
		}
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	var c store.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign %s: %w", id, err)
	}
	return &c, nil
}

// ListCampaigns walks the index newest first. Index entries whose value
// has vanished are skipped.
func (s *Store) ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]store.Campaign, error) {
	lower := "-inf"
	if !f.Since.IsZero() {
		lower = fmt.Sprint(f.Since.UnixMilli())
	}
	ids, err := s.client.ZRevRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.campaignKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET campaigns: %w", err)
	}

	var out []store.Campaign
	for i, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var c store.Campaign
		if err := json.Unmarshal([]byte(str), &c); err != nil {
			s.logger.Warn("skipping unreadable campaign", "key", keys[i], "error", err)
			continue
		}
		if f.Kind != "" && c.Kind != f.Kind {
			continue
		}
		out = append(out, c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Prune removes campaigns started before cutoff from the index and
// deletes their values.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := fmt.Sprintf("(%d", cutoff.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read campaign index: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = s.campaignKey(id)
		members[i] = id
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune campaigns: %w", err)
	}
	return int64(len(ids)), nil
}
