package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached caps relative expiry at 30 days; larger values are read as unix timestamps
const maxMemcachedExpiry = (30 * 24 * 60 * 60) - 60

type MemcachedCacheStore struct {
	Client *memcache.Client
	expiry int32
}

var _ CacheStore = (*MemcachedCacheStore)(nil)

func NewMemcachedCacheStore(servers []string, ttl time.Duration) *MemcachedCacheStore {
	expiry := int32(0)
	if ttl.Seconds() > maxMemcachedExpiry {
		expiry = maxMemcachedExpiry
	} else {
		expiry = int32(ttl.Seconds())
	}
	return &MemcachedCacheStore{
		Client: memcache.New(servers...),
		expiry: expiry,
	}
}

func memcachedKey(name, key string) string {
	return "cache/" + cacheKey(name, key)
}

func (s *MemcachedCacheStore) Get(ctx context.Context, name, key string) (string, error) {
	item, err := s.Client.Get(memcachedKey(name, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Value), nil
}

func (s *MemcachedCacheStore) Set(ctx context.Context, name, key string, val string) error {
	return s.Client.Set(&memcache.Item{
		Key:        memcachedKey(name, key),
		Value:      []byte(val),
		Expiration: s.expiry,
	})
}

func (s *MemcachedCacheStore) Purge(ctx context.Context, name, key string) error {
	err := s.Client.Delete(memcachedKey(name, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
