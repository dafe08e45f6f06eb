package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
)

type CacheStore interface {
	// Returns empty string on a miss.
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

func cacheKey(name, key string) string {
	return name + "/" + key
}

// Fetches and decodes a cached JSON value. The bool is false on a miss.
func GetJSON[T any](ctx context.Context, c CacheStore, name, key string) (*T, bool, error) {
	raw, err := c.Get(ctx, name, key)
	if err != nil {
		return nil, false, err
	}
	if raw == "" {
		return nil, false, nil
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// a bad entry is treated as a miss and dropped
		_ = c.Purge(ctx, name, key)
		return nil, false, nil
	}
	return &out, true, nil
}

func SetJSON(ctx context.Context, c CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	return c.Set(ctx, name, key, string(b))
}
