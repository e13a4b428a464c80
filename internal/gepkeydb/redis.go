package gepkeydb

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
)

// RedisBackend stores key material in Redis, suited to multi-process
// producer fleets that share one content-key generation authority across
// nodes (spec.md §4.3's "durable, single-writer semantics" becomes
// "durable, single-authority semantics" once Redis is the shared store).
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
}

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisBackend dials Redis and returns a Backend. The caller is
// responsible for closing it via Close.
func NewRedisBackend(opts RedisOptions) (Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "gep"
	}
	return &RedisBackend{client: client, keyPrefix: prefix}, nil
}

// NewRedisBackendFromClient adapts an already-constructed *redis.Client —
// used by tests wiring github.com/alicebob/miniredis/v2 or the
// testcontainers-go Redis module without dialing a second connection.
func NewRedisBackendFromClient(client *redis.Client, keyPrefix string) Backend {
	if keyPrefix == "" {
		keyPrefix = "gep"
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

func (b *RedisBackend) namespaced(key string) string {
	return fmt.Sprintf("%s:%s", b.keyPrefix, key)
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.namespaced(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, geperrors.Wrap(geperrors.DataRetrievalFailure, "redis GET", err)
	}
	return val, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.namespaced(key), value, 0).Err(); err != nil {
		return geperrors.Wrap(geperrors.DataRetrievalFailure, "redis SET", err)
	}
	return nil
}

func (b *RedisBackend) Close(ctx context.Context) error {
	return b.client.Close()
}
