package stat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"datacat/pkg/model"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// RedisCache 用 Redis 在多个服务进程之间共享容器统计
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

type Config struct {
	RedisURL string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 0 表示不过期，只靠失效
}

// 统计条目的编码选项：键排序稳定，浮点固定 64 位，禁止不定长
var encOptions = cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloatNone,
	TimeTag:       cbor.EncTagNone,
	IndefLength:   cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

// Redis 里的内容不完全可信，限制尺寸和嵌套
var decOptions = cbor.DecOptions{
	MaxArrayElements: 16,
	MaxMapPairs:      16,
	MaxNestedLevels:  8,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	BignumTag:        cbor.BignumTagForbidden,
}

var dm, _ = decOptions.DecMode()

func NewRedisCache(cfg Config) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Fail-fast
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: cfg.TTL}, nil
}

// Get 未命中返回 (nil, false, nil)
func (c *RedisCache) Get(ctx context.Context, key string) (*model.Stat, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st model.Stat
	if err := dm.Unmarshal(raw, &st); err != nil {
		// 坏条目当作未命中，下一次 Set 会覆盖
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return &st, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, st *model.Stat) error {
	raw, err := em.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
