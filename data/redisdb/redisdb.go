package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/radarsiope/radar/data"
	"github.com/redis/go-redis/v9"
)

var _ data.Store = &Redis{}

// Redis keeps every document in a hash whose fields hold json encoded values. Each collection
// group has a set with the paths of its documents.
type Redis struct {
	client *redis.Client
	prefix string
}

// GetRedisDB connects to the redis server at url or panics
func GetRedisDB(url string) *Redis {
	opts, err := redis.ParseURL(url)
	if err != nil {
		panic(fmt.Sprintf("redisdb: invalid url: %v", err))
	}
	return New(redis.NewClient(opts), "radar:")
}

// New uses an existing client. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Start checks the connection
func (r *Redis) Start() error {
	if err := r.client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("redisdb: failed to ping: %w", err)
	}
	return nil
}

func (r *Redis) docKey(path string) string {
	return r.prefix + "doc:" + path
}

func (r *Redis) groupKey(group string) string {
	return r.prefix + "group:" + group
}

// Get reads the hash of a document
func (r *Redis) Get(ctx context.Context, path string) (data.Document, error) {
	h, err := r.client.HGetAll(ctx, r.docKey(path)).Result()
	if err != nil {
		return data.Document{}, fmt.Errorf("redisdb: failed to get %v: %w", path, err)
	}
	if len(h) == 0 {
		return data.Document{}, data.ErrNotFound
	}

	f, err := decodeHash(h)
	if err != nil {
		return data.Document{}, err
	}

	return data.Document{Path: path, Fields: f}, nil
}

// Set writes the hash, deleting the old one first unless merging
func (r *Redis) Set(ctx context.Context, path string, fields data.Fields, merge bool) error {
	values, err := encodeHash(fields)
	if err != nil {
		return err
	}

	key := r.docKey(path)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if !merge {
			pipe.Del(ctx, key)
		}
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		pipe.SAdd(ctx, r.groupKey(data.CollectionGroup(path)), path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisdb: failed to set %v: %w", path, err)
	}
	return nil
}

// Update writes fields when the document exists. The key is watched so a concurrent delete
// aborts the transaction.
func (r *Redis) Update(ctx context.Context, path string, fields data.Fields) error {
	values, err := encodeHash(fields)
	if err != nil {
		return err
	}

	key := r.docKey(path)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return data.ErrNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(values) > 0 {
				pipe.HSet(ctx, key, values)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, data.ErrNotFound) {
		return data.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redisdb: failed to update %v: %w", path, err)
	}
	return nil
}

// Increment uses HINCRBY. Integers are stored as their json text so the counter stays readable
// by Get.
func (r *Redis) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	key := r.docKey(path)

	var incr *redis.IntCmd
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return data.ErrNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.HIncrBy(ctx, key, field, delta)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, data.ErrNotFound) {
		return 0, data.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redisdb: failed to increment %v on %v: %w", field, path, err)
	}

	return incr.Val(), nil
}

// Query reads every document of the collection group set
func (r *Redis) Query(ctx context.Context, q data.Query) ([]data.Document, error) {
	paths, err := r.client.SMembers(ctx, r.groupKey(q.CollectionGroup)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisdb: failed to list %v: %w", q.CollectionGroup, err)
	}
	sort.Strings(paths)

	var candidates []data.Document
	for _, p := range paths {
		d, err := r.Get(ctx, p)
		if err == data.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, d)
	}

	return q.Apply(candidates), nil
}

func encodeHash(f data.Fields) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("redisdb: failed to encode field %v: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

func decodeHash(h map[string]string) (data.Fields, error) {
	f := make(data.Fields, len(h))
	for k, v := range h {
		var val interface{}
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("redisdb: failed to decode field %v: %w", k, err)
		}
		f[k] = val
	}
	return f, nil
}
