package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"findout-affiliate/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit 按客户端 IP 限流。配置了 Redis 时使用按分钟计数的固定窗口，多实例共享；
// 否则在本进程内为每个 IP 维护一个令牌桶。
func RateLimit(redisClient *redis.Client, limitConfig *config.Limit) gin.HandlerFunc {
	if !limitConfig.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	var allow func(c *gin.Context) bool
	if redisClient != nil {
		allow = redisAllow(redisClient, limitConfig)
	} else {
		allow = newIPLimiters(limitConfig).allow
	}

	return func(c *gin.Context) {
		for _, path := range limitConfig.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		if !allow(c) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "请求过于频繁，请稍后再试",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func redisAllow(client *redis.Client, cfg *config.Limit) func(c *gin.Context) bool {
	limit := cfg.Requests + cfg.Burst
	return func(c *gin.Context) bool {
		window := time.Now().Unix() / 60
		key := "ratelimit:" + c.ClientIP() + ":" + strconv.FormatInt(window, 10)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			// Redis 不可用时放行
			zap.S().Warnf("限流计数失败: %v", err)
			return true
		}
		return incr.Val() <= limit
	}
}

// 超过该时间未访问的 IP 限流器会被清理
const limiterIdleTimeout = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newIPLimiters(cfg *config.Limit) *ipLimiters {
	return &ipLimiters{
		limiters: make(map[string]*ipLimiter),
		limit:    rate.Limit(float64(cfg.Requests) / 60),
		burst:    int(cfg.Burst),
		idle:     limiterIdleTimeout,
		now:      time.Now,
	}
}

func (l *ipLimiters) allow(c *gin.Context) bool {
	return l.allowIP(c.ClientIP())
}

func (l *ipLimiters) allowIP(ip string) bool {
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// sweep 每分钟最多清理一次，调用方需持有锁
func (l *ipLimiters) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for ip, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.limiters, ip)
		}
	}
}

// size 当前保留的限流器数量
func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
