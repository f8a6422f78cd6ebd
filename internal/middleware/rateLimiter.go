package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pictor/internal/config"
	"pictor/pkg/utils"
)

const (
	// Rate Limit Rules
	DefaultRequests = 20 // Steady state rate (token refilling speed)

	BurstSize = 50 // Max burst capacity (bucket size) for traffic spikes

	// Garbage Collection
	VisitorTTL      = 5 * time.Minute // Time before an inactive IP is removed from memory
	CleanupInterval = 3 * time.Minute // Frequency of the cleanup routine
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(conf config.RateLimitConfig) *RateLimiter {
	windowDuration, _ := time.ParseDuration(conf.Window)
	if windowDuration <= 0 {
		windowDuration = time.Second
	}

	requests := conf.Requests
	if requests == 0 {
		requests = DefaultRequests
	}

	burst := conf.Burst
	if burst == 0 {
		burst = BurstSize
	}

	return &RateLimiter{
		enabled:  conf.Enabled,
		limit:    rate.Limit(float64(requests) / windowDuration.Seconds()),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

// Start removes stale visitor entries until ctx is done.
func (l *RateLimiter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup(time.Now())
			}
		}
	}()
}

func (l *RateLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > VisitorTTL {
			delete(l.visitors, ip)
		}
	}
}

func (l *RateLimiter) visitor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Middleware enforces request quotas per IP address.
// Blocks excessive requests with a 429 JSON response.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if !l.visitor(utils.GetRealIP(r)).Allow() {
			utils.WriteError(
				w,
				http.StatusTooManyRequests,
				utils.ErrRequestRateLimitExceeded,
				"Too many requests. Please wait a moment.",
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}
