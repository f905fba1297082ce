package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit allows Requests per Window with bursts of up to Burst.
type RateLimit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// DefaultAuthLimit applies to /auth/ when no limit is configured.
var DefaultAuthLimit = RateLimit{Requests: 20, Window: time.Minute, Burst: 10}

const limiterIdleTTL = 10 * time.Minute

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Forwarding headers are not trusted.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time

	lastSweep time.Time
}

func newIPLimiter(cfg RateLimit) *ipLimiter {
	return &ipLimiter{
		limiters:  make(map[string]*limiterEntry),
		limit:     rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds()),
		burst:     cfg.Burst,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// reserve returns whether a request from ip may proceed and, if not,
// how long until it could.
func (l *ipLimiter) reserve(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, ok := l.limiters[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now

	if e.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := e.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)

	return false, delay
}

func (l *ipLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	l.lastSweep = now

	for ip, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.limiters, ip)
		}
	}
}

// RateLimitByIP returns middleware that rejects clients exceeding cfg
// with 429 and a Retry-After header.
func RateLimitByIP(cfg RateLimit, logger *slog.Logger) func(http.Handler) http.Handler {
	l := newIPLimiter(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			ok, delay := l.reserve(ip)
			if !ok {
				retryAfter := max(int(delay.Seconds()+0.5), 1)

				logger.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.Int("retry_after", retryAfter),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
