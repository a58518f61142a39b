package core

import (
	"context"
	"sync"

	"github.com/gofiber/storage/redis/v3"
)

// RedisAllocator is a networked Allocator backend built on fiber.Storage's
// Redis implementation. The underlying client is constructed lazily on
// first use, so that an unreachable Redis host only fails the first
// lookup instead of the process start.
type RedisAllocator struct {
	host, port string

	once  sync.Once
	store *redis.Storage
}

// NewRedisAllocator returns an allocator that will connect to host:port on
// first use.
func NewRedisAllocator(host string, port int) *RedisAllocator {
	return &RedisAllocator{host: host, port: portToString(port)}
}

func (a *RedisAllocator) connect() *redis.Storage {
	a.once.Do(func() {
		a.store = redis.New(redis.Config{
			Host: a.host,
			Port: mustAtoi(a.port),
		})
	})
	return a.store
}

func (a *RedisAllocator) Get(key string) (int, bool, error) {
	raw, err := a.connect().Get(key)
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	value, err := parseUID(string(raw))
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (a *RedisAllocator) Set(key string, value int) error {
	return a.connect().Set(key, []byte(formatUID(value)), 0)
}

// Keys lists every stored key with the given prefix. The redis/v3 fiber
// storage package exposes its underlying go-redis client via Conn(), which
// is used here for the SCAN that the generic fiber.Storage interface does
// not otherwise provide.
func (a *RedisAllocator) Keys(prefix string) ([]string, error) {
	client := a.connect().Conn()
	ctx := context.Background()
	var keys []string
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

func (a *RedisAllocator) Values(keys []string) ([]int, error) {
	result := make([]int, len(keys))
	for i, key := range keys {
		value, ok, err := a.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			value = noAllocation
		}
		result[i] = value
	}
	return result, nil
}

func portToString(port int) string {
	return formatUID(port)
}

func mustAtoi(s string) int {
	v, err := parseUID(s)
	if err != nil {
		return 0
	}
	return v
}
