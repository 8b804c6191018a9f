package cache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"

	"github.com/lightningkite/service-abstractions-sub003/db"
)

// FreeCacheStoreOptions 进程内缓存选项
type FreeCacheStoreOptions struct {
	// Size 缓存容量字节数
	Size       int           `cfg:"size" def:"33554432"`
	DefaultTTL time.Duration `cfg:"defaultTTL"`
}

// FreeCacheStore 进程内缓存存储
type FreeCacheStore struct {
	cache      *freecache.Cache
	defaultTTL time.Duration
}

func NewFreeCacheStoreWithOptions(options *FreeCacheStoreOptions) (*FreeCacheStore, error) {
	if err := db.ValidateOptions(options); err != nil {
		return nil, err
	}
	size := options.Size
	if size <= 0 {
		size = 32 * 1024 * 1024
	}
	return &FreeCacheStore{
		cache:      freecache.NewCache(size),
		defaultTTL: options.DefaultTTL,
	}, nil
}

func (s *FreeCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *FreeCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.cache.Set([]byte(key), value, int(ttl.Seconds()))
}

func (s *FreeCacheStore) Delete(ctx context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}
