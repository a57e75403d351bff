package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisPrefix = "ledger:state:"
	maxUpdateRetries   = 8
)

var ErrConflict = errors.New("ledger: too many conflicting transactions")

// RedisBackend stores state as plain string keys under a prefix.
// Updates use WATCH/MULTI/EXEC so concurrent writers from other processes
// force a full re-run of the transaction callback.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedisBackend(rdb *redis.Client, log *zap.Logger) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: defaultRedisPrefix, log: log}
}

// watchingReader watches every key before reading it, so a concurrent
// change to anything the transaction observed aborts the EXEC.
type watchingReader struct {
	tx     *redis.Tx
	prefix string
}

func (r *watchingReader) Get(ctx context.Context, key string) (string, bool, error) {
	full := r.prefix + key
	if err := r.tx.Watch(ctx, full).Err(); err != nil {
		return "", false, fmt.Errorf("watch %s: %w", full, err)
	}
	return redisGet(ctx, r.tx, full)
}

type plainReader struct {
	rdb    *redis.Client
	prefix string
}

func (r *plainReader) Get(ctx context.Context, key string) (string, bool, error) {
	return redisGet(ctx, r.rdb, r.prefix+key)
}

func redisGet(ctx context.Context, c redis.Cmdable, key string) (string, bool, error) {
	v, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Update(ctx context.Context, fn func(r Reader) (Writes, error)) error {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
			writes, err := fn(&watchingReader{tx: tx, prefix: b.prefix})
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for k, v := range writes {
					if v == nil {
						pipe.Del(ctx, b.prefix+k)
						continue
					}
					pipe.Set(ctx, b.prefix+k, *v, 0)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			b.log.Debug("ledger: redis tx conflict, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return ErrConflict
}

// View reads without WATCH; callers needing a consistent snapshot across
// processes should go through Update.
func (b *RedisBackend) View(ctx context.Context, fn func(r Reader) error) error {
	return fn(&plainReader{rdb: b.rdb, prefix: b.prefix})
}

// Close is a no-op: the Redis client is owned by the caller.
func (b *RedisBackend) Close() error { return nil }
