package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 锁只用来削减并发冲突，不承担正确性：
//   - 结算回调（webhook 重投、用户刷新回跳页）按购买单加锁，避免多个请求同时去网关核验
//   - 计量扣费按账户加锁，减少余额行上的乐观锁重试
//
// 真正的幂等由数据库保证：购买单状态条件更新 + 流水表 (purchase_id, type) 唯一索引。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本校验 value 后再 DEL，防止误删别人的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// Key 锁的 key
func (l *DistributedLock) Key() string {
	return l.key
}

// NewSettleLock 结算锁（按购买单维度）
func NewSettleLock(client *redis.Client, purchaseNo, owner string) *DistributedLock {
	key := fmt.Sprintf("settle:lock:purchase:%s", purchaseNo)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}

// NewUsageLock 扣费锁（按账户维度）
func NewUsageLock(client *redis.Client, userID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("usage:lock:user:%d", userID)
	return NewDistributedLock(client, key, owner, 10*time.Second)
}

// Acquire 获取锁并返回释放函数；client 为 nil 时不加锁（单机部署、测试）
func Acquire(ctx context.Context, l *DistributedLock, retryInterval time.Duration, maxRetries int) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	if err := l.Lock(ctx, retryInterval, maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 释放锁不受业务 ctx 取消影响
		_ = l.Unlock(context.Background())
	}, nil
}
