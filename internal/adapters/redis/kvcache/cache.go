package kvcache

import (
	"context"
	"errors"

	goredis "github.com/go-redis/redis/v8"

	redisadapter "github.com/yellowbus/route-tracker/internal/adapters/redis"
)

// Cache is a kvcache.Cache stored as one Redis hash per device, so Clear is a single DEL.
type Cache struct {
	client *goredis.Client
	hash   string
}

func NewCache(client *goredis.Client, prefix, device string) *Cache {
	return &Cache{client: client, hash: redisadapter.Key(prefix, "device", device)}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.HGet(ctx, c.hash, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, key, value string) error {
	return c.client.HSet(ctx, c.hash, key, value).Err()
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.client.HDel(ctx, c.hash, key).Err()
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.hash).Err()
}
