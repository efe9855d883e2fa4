package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore keeps each account as one JSON value and its history in a
// capped list. Writes use WATCH/MULTI so concurrent processes cannot lose a
// drawdown; a conflicted transaction is retried.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "usage"}
}

// NewRedisStoreFromURL parses a redis:// URL and connects.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client), nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) accountKey(userID string) string { return r.prefix + ":account:" + userID }
func (r *RedisStore) entriesKey(userID string) string { return r.prefix + ":entries:" + userID }

func (r *RedisStore) Get(ctx context.Context, userID string) (*Account, error) {
	raw, err := r.client.Get(ctx, r.accountKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage account: %w", err)
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode usage account: %w", err)
	}
	return &a, nil
}

func (r *RedisStore) Update(ctx context.Context, userID string, fresh *Account, fn Mutation) (*Account, error) {
	key := r.accountKey(userID)
	var out *Account

	txf := func(tx *redis.Tx) error {
		var work Account
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			work = *fresh
			work.UserID = userID
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &work); err != nil {
				return fmt.Errorf("decode usage account: %w", err)
			}
		}

		entries, err := fn(&work)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(&work)
		if err != nil {
			return err
		}
		encodedEntries := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			encodedEntries = append(encodedEntries, b)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if len(encodedEntries) > 0 {
				pipe.LPush(ctx, r.entriesKey(userID), encodedEntries...)
				pipe.LTrim(ctx, r.entriesKey(userID), 0, maxEntriesPerUser-1)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &work
		return nil
	}

	err := conflictPolicy("redis", isTxConflict).Do(ctx, func() error {
		return r.client.Watch(ctx, txf, key)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisStore) ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = maxEntriesPerUser
	}
	raws, err := r.client.LRange(ctx, r.entriesKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list usage entries: %w", err)
	}
	out := make([]*Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode usage entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	n, err := r.client.Del(ctx, r.accountKey(userID), r.entriesKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("delete usage account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isTxConflict reports whether a watched key changed before EXEC.
func isTxConflict(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}
