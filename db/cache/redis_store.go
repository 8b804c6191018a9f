package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lightningkite/service-abstractions-sub003/db"
)

// RedisStoreOptions 远端缓存选项
type RedisStoreOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint" validate:"required"`

	Username string `cfg:"username"`
	Password string `cfg:"password"`

	// 连接到服务器后选择的数据库
	DB int `cfg:"db" def:"0"`

	// 默认 TTL，0 表示不过期
	DefaultTTL time.Duration `cfg:"defaultTTL"`

	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`
	PoolSize     int           `cfg:"poolSize"`
}

// RedisStore 远端缓存存储
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
}

func NewRedisStoreWithOptions(options *RedisStoreOptions) (*RedisStore, error) {
	if err := db.ValidateOptions(options); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:         options.Endpoint,
		Username:     options.Username,
		Password:     options.Password,
		DB:           options.DB,
		DialTimeout:  options.DialTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
		PoolSize:     options.PoolSize,
	})
	return &RedisStore{client: client, defaultTTL: options.DefaultTTL}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return errors.Wrap(s.client.Set(ctx, key, value, ttl).Err(), "redis set")
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return errors.Wrap(s.client.Del(ctx, key).Err(), "redis del")
}

// Close 关闭底层连接池
func (s *RedisStore) Close() error {
	return s.client.Close()
}
