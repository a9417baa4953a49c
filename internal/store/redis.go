package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcliao/memtier/internal/model"
)

// RedisStore implements Store with one JSON snapshot per conversation.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "memtier:"
	TTL      time.Duration // Expiration for snapshots, default 0 (no expiration)
}

// NewRedisStore creates a new Redis snapshot store
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "memtier:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) convKey(id string) string {
	return fmt.Sprintf("%sconv:%s", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "convs"
}

type redisSnapshot struct {
	State     model.State `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Save stores a snapshot and indexes its id.
func (s *RedisStore) Save(ctx context.Context, id string, st model.State) error {
	data, err := json.Marshal(redisSnapshot{State: st, UpdatedAt: s.now()})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.convKey(id), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}
	return nil
}

// Load retrieves a snapshot by conversation id
func (s *RedisStore) Load(ctx context.Context, id string) (model.State, error) {
	snap, err := s.get(ctx, id)
	if err != nil {
		return model.State{}, err
	}
	return snap.State, nil
}

func (s *RedisStore) get(ctx context.Context, id string) (redisSnapshot, error) {
	var snap redisSnapshot
	data, err := s.client.Get(ctx, s.convKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, fmt.Errorf("load conversation %s: %w", id, model.ErrNotFound)
		}
		return snap, fmt.Errorf("failed to load snapshot from redis: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// List returns every indexed conversation. Ids whose snapshot expired are
// dropped from the index.
func (s *RedisStore) List(ctx context.Context) ([]ConversationInfo, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(ids) == 0 {
		return []ConversationInfo{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.convKey(id)
	}
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshots: %w", err)
	}

	var out []ConversationInfo
	var stale []interface{}
	for i, result := range results {
		strData, ok := result.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var snap redisSnapshot
		if err := json.Unmarshal([]byte(strData), &snap); err != nil {
			continue
		}
		out = append(out, info(ids[i], snap.State, snap.UpdatedAt))
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, s.indexKey(), stale...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete removes a snapshot
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.convKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("delete conversation %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Close closes the Redis client connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
