package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// releaseScript deletes the lease only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript pushes the lease expiry out only when it still belongs to the
// caller.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore keeps state in Redis so several processes share one queue
// and one processing lease.
//
// Layout under prefix:
//
//	<prefix>:buffer:queue       JSON array of tickers
//	<prefix>:buffer:processing  lease owner, with TTL
//	<prefix>:time:<name>        RFC3339Nano timestamp
//	<prefix>:settings           hash of settings
//	<prefix>:logs               list of JSON LogEntry, newest first
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreFromClient(rdb, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "optionsradar"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readQueue(ctx context.Context, g stringGetter, key string) ([]string, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var queue []string
	if err := json.Unmarshal(raw, &queue); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return queue, nil
}

func (s *RedisStore) LoadQueue(ctx context.Context) ([]string, error) {
	return readQueue(ctx, s.rdb, s.key("buffer", "queue"))
}

// UpdateQueue runs fn inside WATCH/MULTI and retries when another writer
// changed the queue in between.
func (s *RedisStore) UpdateQueue(ctx context.Context, fn QueueFunc) ([]string, error) {
	key := s.key("buffer", "queue")

	var result []string
	txf := func(tx *redis.Tx) error {
		current, err := readQueue(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			next = []string{}
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func (s *RedisStore) AcquireProcessing(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, s.key("buffer", "processing"), owner, ttl).Result()
}

func (s *RedisStore) RenewProcessing(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.rdb, []string{s.key("buffer", "processing")}, owner, ttl.Milliseconds()).Int()
	return n == 1, err
}

func (s *RedisStore) ReleaseProcessing(ctx context.Context, owner string) error {
	return releaseScript.Run(ctx, s.rdb, []string{s.key("buffer", "processing")}, owner).Err()
}

func (s *RedisStore) IsProcessing(ctx context.Context) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key("buffer", "processing")).Result()
	return n > 0, err
}

func (s *RedisStore) SetTime(ctx context.Context, name string, t time.Time) error {
	return s.rdb.Set(ctx, s.key("time", name), t.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (s *RedisStore) GetTime(ctx context.Context, name string) (time.Time, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key("time", name)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", name, err)
	}
	return t, true, nil
}

func (s *RedisStore) GetSetting(ctx context.Context, name string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.key("settings"), name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) SetSetting(ctx context.Context, name, value string) error {
	return s.rdb.HSet(ctx, s.key("settings"), name, value).Err()
}

func (s *RedisStore) AppendLog(ctx context.Context, entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := s.key("logs")
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, MaxLogEntries-1)
		return nil
	})
	return err
}

func (s *RedisStore) RecentLogs(ctx context.Context, n int) ([]LogEntry, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	raws, err := s.rdb.LRange(ctx, s.key("logs"), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(raws))
	for _, raw := range raws {
		var e LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) ClearLogs(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key("logs")).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
