package redis

import (
	"context"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by GetJSON when the key does not exist
var ErrCacheMiss = errors.New("cache miss")

// DB is a wrapper for go-redis
type DB struct {
	db *redis.Client
}

// NewDB creates a new DB instance
func NewDB(opt *redis.Options) *DB {
	return &DB{
		db: redis.NewClient(opt),
	}
}

// NewDBWithClient wraps an existing client
func NewDBWithClient(client *redis.Client) *DB {
	return &DB{db: client}
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return errors.Wrap(db.db.Ping(ctx).Err(), "ping redis")
}

// Close closes the underlying client
func (db *DB) Close() error {
	return db.db.Close()
}

// GetJSON loads key and unmarshals it into out.
func (db *DB) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := db.db.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return errors.Wrapf(err, "get %s", key)
	}

	if err = json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "unmarshal %s", key)
	}
	return nil
}

// SetJSON marshals val and stores it under key with ttl.
func (db *DB) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}

	if err = db.db.Set(ctx, key, raw, ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// GetInt64 loads an integer counter. A missing key reads as 0.
func (db *DB) GetInt64(ctx context.Context, key string) (int64, error) {
	val, err := db.db.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "get %s", key)
	}
	return val, nil
}

// Incr increments an integer counter and returns the new value
func (db *DB) Incr(ctx context.Context, key string) (int64, error) {
	val, err := db.db.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "incr %s", key)
	}
	return val, nil
}

// Del removes keys
func (db *DB) Del(ctx context.Context, keys ...string) error {
	if err := db.db.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}
