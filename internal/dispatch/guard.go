package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// InFlightGuard 保证同一张工单同一时间只有一次运行
type InFlightGuard interface {
	// Acquire 返回 false 表示该工单正在处理
	Acquire(ctx context.Context, ticketID string) (bool, error)
	Release(ctx context.Context, ticketID string) error
}

// MemoryGuard 单进程内的 in-flight 表；ttl 到期的条目视为已释放
type MemoryGuard struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	holding map[string]time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, now: time.Now, holding: make(map[string]time.Time)}
}

func (g *MemoryGuard) Acquire(ctx context.Context, ticketID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.holding[ticketID]; ok && (g.ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	g.holding[ticketID] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, ticketID string) error {
	g.mu.Lock()
	delete(g.holding, ticketID)
	g.mu.Unlock()
	return nil
}

// RedisConfig 配置了 Addr 时使用 Redis 做跨实例的 in-flight 保护
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard 基于 SETNX + TTL；进程崩溃后锁在 TTL 后自动失效
type RedisGuard struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	owner     string
}

func NewRedisGuard(cfg RedisConfig, ttl time.Duration) *RedisGuard {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "flusso:inflight:"
	}
	return &RedisGuard{client: client, keyPrefix: prefix, ttl: ttl, owner: uuid.NewString()}
}

func (g *RedisGuard) Acquire(ctx context.Context, ticketID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.keyPrefix+ticketID, g.owner, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis guard acquire %s: %w", ticketID, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, ticketID string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.keyPrefix + ticketID}, g.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis guard release %s: %w", ticketID, err)
	}
	return nil
}

func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
