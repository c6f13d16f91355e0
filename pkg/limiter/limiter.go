// Package limiter token bucket rate limiting keyed by request route
// Package limiter 按请求路由区分的令牌桶限流
package limiter

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/ratelimit"
)

// Face limiter interface consumed by the rate limit middleware
// Face 限流中间件使用的限流器接口
type Face interface {
	Key(c *gin.Context) string
	GetBucket(key string) (*ratelimit.Bucket, bool)
	AddBuckets(rules ...BucketRule) Face
}

// BucketRule token bucket rule
// BucketRule 令牌桶规则
type BucketRule struct {
	// Key route path or prefix
	// Key 路由路径或前缀
	Key string
	// FillInterval interval between refills
	// FillInterval 令牌填充间隔
	FillInterval time.Duration
	// Capacity bucket capacity
	// Capacity 桶容量
	Capacity int64
	// Quantum tokens added per interval
	// Quantum 每次填充的令牌数
	Quantum int64
}

// MethodLimiter limits by request path with the query string stripped
// MethodLimiter 按去掉查询串的请求路径限流
type MethodLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*ratelimit.Bucket
}

// NewMethodLimiter creates a path based limiter
// NewMethodLimiter 创建按路径限流的限流器
func NewMethodLimiter() Face {
	return &MethodLimiter{buckets: make(map[string]*ratelimit.Bucket)}
}

// Key returns the route template when gin matched one, the raw path otherwise
// Key 优先返回 gin 匹配到的路由模板，否则返回原始路径
func (l *MethodLimiter) Key(c *gin.Context) string {
	if full := c.FullPath(); full != "" {
		return full
	}
	uri := c.Request.RequestURI
	if index := strings.Index(uri, "?"); index != -1 {
		return uri[:index]
	}
	return uri
}

func (l *MethodLimiter) GetBucket(key string) (*ratelimit.Bucket, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bucket, ok := l.buckets[key]
	return bucket, ok
}

func (l *MethodLimiter) AddBuckets(rules ...BucketRule) Face {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rule := range rules {
		if _, ok := l.buckets[rule.Key]; ok {
			continue
		}
		l.buckets[rule.Key] = ratelimit.NewBucketWithQuantum(rule.FillInterval, rule.Capacity, rule.Quantum)
	}
	return l
}
