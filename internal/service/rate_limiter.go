package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IPRateLimiter holds one token bucket per client address
type IPRateLimiter struct {
	// TrustProxy keys buckets by X-Forwarded-For. Only set it when a proxy
	// in front of the server overwrites the header.
	TrustProxy bool

	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows rps requests per second per address with the given
// burst
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*visitor),
	}
}

// Allow takes a token for the address
func (l *IPRateLimiter) Allow(addr string) bool {
	now := l.now()
	l.mu.Lock()
	v, ok := l.limiters[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Sweep forgets addresses idle for longer than maxIdle
func (l *IPRateLimiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for addr, v := range l.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(l.limiters, addr)
			removed++
		}
	}
	return removed
}

// Run sweeps idle addresses every interval until ctx is done
func (l *IPRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(interval)
		}
	}
}

// Interceptor rate limits the listed procedures by client address
func (l *IPRateLimiter) Interceptor(logger *zap.Logger, procedures ...string) connect.UnaryInterceptorFunc {
	limited := make(map[string]bool, len(procedures))
	for _, p := range procedures {
		limited[p] = true
	}
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient || !limited[req.Spec().Procedure] {
				return next(ctx, req)
			}
			ip := l.clientIP(req)
			if !l.Allow(ip) {
				logger.Warn("Rate limit exceeded", zap.String("ip", ip), zap.String("procedure", req.Spec().Procedure))
				return nil, connect.NewError(connect.CodeResourceExhausted, errors.New("rate limit exceeded, try again later"))
			}
			return next(ctx, req)
		}
	}
}

func (l *IPRateLimiter) clientIP(req connect.AnyRequest) string {
	if l.TrustProxy {
		if fwd := req.Header().Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	addr := req.Peer().Addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
