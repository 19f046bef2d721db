package common

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-viper/mapstructure/v2"
	"github.com/redis/go-redis/v9"

	"github.com/beam-cloud/llmgate/pkg/types"
)

var (
	ErrConnectionIssue  = errors.New("redis: connection issue")
	ErrUnknownRedisMode = errors.New("redis: unknown mode")
)

type RedisClient struct {
	redis.UniversalClient
}

func WithClientName(name string) func(*redis.UniversalOptions) {
	// Remove empty spaces and new lines
	name = strings.ReplaceAll(name, " ", "")
	name = strings.ReplaceAll(name, "\n", "")

	// Remove special characters using a regular expression
	reg := regexp.MustCompile("[^a-zA-Z0-9]+")
	name = reg.ReplaceAllString(name, "")

	return func(uo *redis.UniversalOptions) {
		uo.ClientName = name
	}
}

func NewRedisClient(ctx context.Context, config types.RedisConfig, options ...func(*redis.UniversalOptions)) (*RedisClient, error) {
	opts := &redis.UniversalOptions{}
	if err := CopyStruct(&config, opts); err != nil {
		return nil, err
	}

	for _, opt := range options {
		opt(opts)
	}

	if config.EnableTLS {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
		}
	}

	var client redis.UniversalClient
	switch config.Mode {
	case types.RedisModeSingle, "":
		client = redis.NewClient(opts.Simple())
	case types.RedisModeCluster:
		client = redis.NewClusterClient(opts.Cluster())
	default:
		return nil, ErrUnknownRedisMode
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%s: %s", ErrConnectionIssue, err)
	}

	return &RedisClient{UniversalClient: client}, nil
}

// Keys runs a SCAN over every master since KEYS locks up the database.
func (r *RedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.Scan(ctx, pattern)
}

func (r *RedisClient) Scan(ctx context.Context, pattern string) ([]string, error) {
	var mu sync.Mutex
	seen := map[string]bool{}
	keys := []string{}

	scanAndCollect := func(rdb *redis.Client) error {
		iter := rdb.Scan(ctx, 0, pattern, 1_000).Iterator()

		for iter.Next(ctx) {
			key := iter.Val()

			mu.Lock()
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
			mu.Unlock()
		}

		return iter.Err()
	}

	switch client := r.UniversalClient.(type) {
	case *redis.Client:
		if err := scanAndCollect(client); err != nil {
			return nil, err
		}

	case *redis.ClusterClient:
		err := client.ForEachMaster(ctx, func(ctx context.Context, rdb *redis.Client) error {
			return scanAndCollect(rdb)
		})
		if err != nil {
			return nil, err
		}
	}

	return keys, nil
}

type RedisLockOptions struct {
	TtlS    int
	Retries int
}

type RedisLock struct {
	client *RedisClient
	locks  map[string]*redislock.Lock
	mu     sync.Mutex
}

func NewRedisLock(client *RedisClient) *RedisLock {
	return &RedisLock{
		client: client,
		locks:  make(map[string]*redislock.Lock),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, opts RedisLockOptions) error {
	var retryStrategy redislock.RetryStrategy = nil
	if opts.Retries > 0 {
		retryStrategy = redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), opts.Retries)
	}
	lock, err := redislock.Obtain(ctx, l.client, key, time.Duration(opts.TtlS)*time.Second, &redislock.Options{
		RetryStrategy: retryStrategy,
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.locks[key] = lock
	l.mu.Unlock()
	return nil
}

func (l *RedisLock) Release(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		return redislock.ErrLockNotHeld
	}

	delete(l.locks, key)
	return lock.Release(context.Background())
}

func CopyStruct(src, dst any) error {
	config := mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           dst,
	}

	decoder, err := mapstructure.NewDecoder(&config)
	if err != nil {
		return err
	}

	return decoder.Decode(src)
}
