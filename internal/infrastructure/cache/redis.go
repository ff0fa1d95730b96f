package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"creditengine/internal/config"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

// NewClient 创建 Redis 客户端并探活
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := Ping(context.Background(), client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// InitRedis 初始化全局 Redis 客户端，失败直接退出
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client, err := NewClient(cfg)
	if err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	RedisClient = client
	log.Println("Redis 连接成功")
	return client
}

// Ping 健康检查用，最多等待 3 秒
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return fmt.Errorf("redis 未初始化")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
