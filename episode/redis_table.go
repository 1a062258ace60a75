package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/types"
)

// RedisConfig configures the Redis-backed vector table.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"-" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// RedisTable is a Redis-backed VectorTable. Rows are stored as JSON values
// with a set index; similarity is computed client-side, which is adequate
// for per-project episode volumes.
type RedisTable struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisTable creates a Redis-backed vector table.
func NewRedisTable(cfg RedisConfig, logger *zap.Logger) *RedisTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "kaizen:"
	}
	return &RedisTable{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		keyPrefix: keyPrefix + "episode:",
		logger:    logger.With(zap.String("component", "episode_table_redis")),
	}
}

// NewRedisTableWithClient wraps an existing client, mainly for tests.
func NewRedisTableWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "kaizen:"
	}
	return &RedisTable{
		client:    client,
		keyPrefix: keyPrefix + "episode:",
		logger:    logger.With(zap.String("component", "episode_table_redis")),
	}
}

// Close closes the underlying client.
func (t *RedisTable) Close() error {
	return t.client.Close()
}

func (t *RedisTable) dataKey(id string) string { return t.keyPrefix + "data:" + id }
func (t *RedisTable) indexKey() string         { return t.keyPrefix + "all" }

// Init implements VectorTable by verifying connectivity.
func (t *RedisTable) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.ErrStoreNotReady, "redis unavailable").WithCause(err).WithRetryable(true)
	}
	return nil
}

// Insert implements VectorTable.
func (t *RedisTable) Insert(ctx context.Context, row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal episode row: %w", err)
	}
	pipe := t.client.TxPipeline()
	pipe.Set(ctx, t.dataKey(row.ID), data, 0)
	pipe.SAdd(ctx, t.indexKey(), row.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert episode row: %w", err)
	}
	return nil
}

// Get implements VectorTable.
func (t *RedisTable) Get(ctx context.Context, id string) (*Row, error) {
	data, err := t.client.Get(ctx, t.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, types.NewError(types.ErrEpisodeNotFound, "episode "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get episode row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("unmarshal episode row %s: %w", id, err)
	}
	return &row, nil
}

// Delete implements VectorTable.
func (t *RedisTable) Delete(ctx context.Context, id string) error {
	pipe := t.client.TxPipeline()
	pipe.Del(ctx, t.dataKey(id))
	pipe.SRem(ctx, t.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete episode row: %w", err)
	}
	return nil
}

// Query implements VectorTable. A malformed stored row is skipped in
// isolation instead of failing the whole search.
func (t *RedisTable) Query(ctx context.Context, embedding []float64, limit int, filter RowFilter) ([]Match, error) {
	rows, err := t.List(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		if !filter.Matches(row) {
			continue
		}
		matches = append(matches, Match{Row: row, Distance: cosineDistance(embedding, row.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// List implements VectorTable.
func (t *RedisTable) List(ctx context.Context) ([]Row, error) {
	ids, err := t.client.SMembers(ctx, t.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list episode ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = t.dataKey(id)
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch episode rows: %w", err)
	}

	rows := make([]Row, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(s), &row); err != nil {
			t.logger.Warn("skipping malformed episode row",
				zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Count implements VectorTable.
func (t *RedisTable) Count(ctx context.Context) (int, error) {
	n, err := t.client.SCard(ctx, t.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count episode rows: %w", err)
	}
	return int(n), nil
}
