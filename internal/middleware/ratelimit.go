package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"linkchat/internal/observability"
)

// ClientRateLimiter keeps one token bucket per UI client.
type ClientRateLimiter struct {
	clients sync.Map
	rps     rate.Limit
	burst   int
	idle    time.Duration
	log     *zap.Logger
}

type client struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// NewClientRateLimiter allows perMinute requests per client with the given
// burst. Idle buckets are swept until ctx is done.
func NewClientRateLimiter(ctx context.Context, perMinute, burst int, log *zap.Logger) *ClientRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &ClientRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		idle:  5 * time.Minute,
		log:   log,
	}
	go l.sweep(ctx)
	return l
}

func (l *ClientRateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()
	v, ok := l.clients.Load(key)
	if !ok {
		v, _ = l.clients.LoadOrStore(key, &client{limiter: rate.NewLimiter(l.rps, l.burst), lastSeen: now})
	}
	cl := v.(*client)
	cl.mu.Lock()
	cl.lastSeen = now
	cl.mu.Unlock()
	return cl.limiter
}

func (l *ClientRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.Add(-l.idle)
			l.clients.Range(func(k, v any) bool {
				cl := v.(*client)
				cl.mu.Lock()
				stale := cl.lastSeen.Before(cutoff)
				cl.mu.Unlock()
				if stale {
					l.clients.Delete(k)
				}
				return true
			})
		}
	}
}

// Handler rejects requests over the limit with 429.
func (l *ClientRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := observability.ClientKey(c.Request)
		if !l.limiter(key).Allow() {
			l.log.Warn("rate limit exceeded", zap.String("client", key), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
