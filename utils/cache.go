package utils

import (
	"context"
	"log"
	"time"

	"clinsched/config"

	"github.com/go-redis/redis/v8"
)

var (
	// LeaseCacheClient backs the slot lease store.
	LeaseCacheClient *redis.Client
	// DraftCacheClient backs the booking draft store.
	DraftCacheClient *redis.Client
)

// InitLeaseCache initializes the Redis client used by the lease store.
func InitLeaseCache() {
	LeaseCacheClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisLeaseDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := LeaseCacheClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis (Lease): %v", err)
	}
}

// GetLeaseCacheClient returns the Redis client backing the lease store.
func GetLeaseCacheClient() *redis.Client {
	if LeaseCacheClient == nil {
		InitLeaseCache()
	}
	return LeaseCacheClient
}

// InitDraftCache initializes the Redis client used by the booking draft store.
func InitDraftCache() {
	DraftCacheClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisDraftDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := DraftCacheClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis (Draft): %v", err)
	}
}

// GetDraftCacheClient returns the Redis client backing the draft store.
func GetDraftCacheClient() *redis.Client {
	if DraftCacheClient == nil {
		InitDraftCache()
	}
	return DraftCacheClient
}

// InitRedis initializes all Redis clients eagerly at startup.
func InitRedis() {
	InitLeaseCache()
	InitDraftCache()
}
