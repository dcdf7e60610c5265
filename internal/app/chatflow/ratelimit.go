package chatflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultRateLimitMessage = "Too many requests, please try again later."

// RateLimiter 按 key 限流。Redis 实现见 redisdb.RateLimiter
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitConfig chatflow.apiConfig.rateLimit
type RateLimitConfig struct {
	Status        bool
	LimitMax      int
	LimitDuration time.Duration
	LimitMsg      string
}

// flexInt 画布保存的数字可能是字符串
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*n = flexInt(v)
	return nil
}

// ParseRateLimit 解析 apiConfig；未开启时返回 nil
func ParseRateLimit(apiConfig string) (*RateLimitConfig, error) {
	if strings.TrimSpace(apiConfig) == "" {
		return nil, nil
	}
	var raw struct {
		RateLimit *struct {
			Status        bool    `json:"status"`
			LimitMax      flexInt `json:"limitMax"`
			LimitDuration flexInt `json:"limitDuration"`
			LimitMsg      string  `json:"limitMsg"`
		} `json:"rateLimit"`
	}
	if err := json.Unmarshal([]byte(apiConfig), &raw); err != nil {
		return nil, fmt.Errorf("parse apiConfig: %w", err)
	}
	rl := raw.RateLimit
	if rl == nil || !rl.Status || rl.LimitMax <= 0 || rl.LimitDuration <= 0 {
		return nil, nil
	}
	cfg := &RateLimitConfig{
		Status:        true,
		LimitMax:      int(rl.LimitMax),
		LimitDuration: time.Duration(rl.LimitDuration) * time.Second,
		LimitMsg:      rl.LimitMsg,
	}
	if cfg.LimitMsg == "" {
		cfg.LimitMsg = defaultRateLimitMessage
	}
	return cfg, nil
}

// maxMemoryBuckets 进程内限流器最多保留的桶数，超出时淘汰最久未访问的
const maxMemoryBuckets = 10000

// MemoryLimiter 单进程令牌桶限流，每个 key 一个桶，容量为 limit。
// 空闲超过一个窗口的桶已回满，等价于新桶，会被回收。
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	maxKeys   int
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

// NewMemoryLimiter 创建进程内限流器
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		maxKeys: maxMemoryBuckets,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= time.Minute {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok || b.limit != limit || b.window != window {
		// 配置变化时重建
		if !ok && len(l.buckets) >= l.maxKeys {
			l.sweep(now)
			if len(l.buckets) >= l.maxKeys {
				l.evictOldest()
			}
		}
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			limit:   limit,
			window:  window,
		}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Len 当前保留的桶数
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MemoryLimiter) sweep(now time.Time) {
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.buckets, k)
		}
	}
}

func (l *MemoryLimiter) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, b := range l.buckets {
		if !found || b.lastSeen.Before(oldest) {
			oldestKey, oldest, found = k, b.lastSeen, true
		}
	}
	if found {
		delete(l.buckets, oldestKey)
	}
}

// MemoryLocker 进程内互斥，未配置 Redis 时串行化同一 chatflow 的写入
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[name]; busy {
		return nil, false, nil
	}
	l.held[name] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}
