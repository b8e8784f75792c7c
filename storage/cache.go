package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"gantt-proxy/domain"
)

// RowSource loads a table's rows from upstream.
type RowSource interface {
	ListRows(ctx context.Context, token string, tableID int) ([]domain.Row, error)
}

// RowCache keeps upstream row listings in Redis. Entries live in one hash
// per table, keyed by token fingerprint, so a table can be revalidated with a
// single delete.
type RowCache struct {
	base  RowSource
	redis *redis.Client
	ttl   time.Duration
	log   *log.Logger
}

// NewRowCache wraps base. A nil client or zero TTL disables caching.
func NewRowCache(base RowSource, client *redis.Client, ttl time.Duration, logger *log.Logger) *RowCache {
	if base == nil {
		panic("storage.NewRowCache: base source is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RowCache{base: base, redis: client, ttl: ttl, log: logger}
}

// ListRows serves from cache when possible and fills it on a miss.
func (c *RowCache) ListRows(ctx context.Context, token string, tableID int) ([]domain.Row, error) {
	key := rowsCacheKey(tableID)
	field := Fingerprint(token)
	if rows, ok := c.load(ctx, key, field); ok {
		return rows, nil
	}

	rows, err := c.base.ListRows(ctx, token, tableID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, field, rows)
	return rows, nil
}

// Invalidate drops every cached listing for the table.
func (c *RowCache) Invalidate(ctx context.Context, tableID int) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, rowsCacheKey(tableID)).Err()
}

func (c *RowCache) load(ctx context.Context, key, field string) ([]domain.Row, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.HGet(ctx, key, field).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to upstream without failing.
			c.log.WithError(err).WithField("key", key).Debug("row cache read failed")
		}
		return nil, false
	}
	var rows []domain.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("dropping corrupt row cache entry")
		_ = c.redis.HDel(ctx, key, field).Err()
		return nil, false
	}
	return rows, true
}

func (c *RowCache) store(ctx context.Context, key, field string, rows []domain.Row) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, data)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("row cache write failed")
	}
}

func rowsCacheKey(tableID int) string {
	return "rows:" + strconv.Itoa(tableID)
}
