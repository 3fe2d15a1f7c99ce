package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// ThrottleConfig describes an in-process token bucket. It sits in front of
// the shared KV-backed limiter and only protects this instance from floods
// that should never reach the store.
type ThrottleConfig struct {
	Requests int           // tokens refilled per Window
	Window   time.Duration // refill period
	Burst    int           // bucket size
}

var (
	// AuthThrottle guards the credential endpoints (register, login, google).
	// Override with THROTTLE_AUTH_REQUESTS, THROTTLE_AUTH_WINDOW_SEC, THROTTLE_AUTH_BURST.
	AuthThrottle = ThrottleConfig{Requests: 60, Window: time.Minute, Burst: 20}

	// PublicThrottle guards anonymous read endpoints.
	// Override with THROTTLE_PUBLIC_REQUESTS, THROTTLE_PUBLIC_WINDOW_SEC, THROTTLE_PUBLIC_BURST.
	PublicThrottle = ThrottleConfig{Requests: 1000, Window: time.Minute, Burst: 200}
)

func init() {
	AuthThrottle = ThrottleFromEnv("AUTH", AuthThrottle)
	PublicThrottle = ThrottleFromEnv("PUBLIC", PublicThrottle)
}

// ThrottleFromEnv overlays THROTTLE_{prefix}_* variables on def. Invalid or
// non-positive values are ignored.
func ThrottleFromEnv(prefix string, def ThrottleConfig) ThrottleConfig {
	cfg := def
	if n, ok := positiveEnvInt("THROTTLE_" + prefix + "_REQUESTS"); ok {
		cfg.Requests = n
	}
	if n, ok := positiveEnvInt("THROTTLE_" + prefix + "_WINDOW_SEC"); ok {
		cfg.Window = time.Duration(n) * time.Second
	}
	if n, ok := positiveEnvInt("THROTTLE_" + prefix + "_BURST"); ok {
		cfg.Burst = n
	}
	return cfg
}

func positiveEnvInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// KeyFunc derives the bucket key for a request. An empty key skips limiting.
type KeyFunc func(*http.Request) string

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// PrincipalKey returns the authenticated user id, if any.
func PrincipalKey(r *http.Request) string {
	id, _ := UserIDFromContext(r.Context())
	return id
}

type buckets struct {
	m     sync.Map // key -> *rate.Limiter
	limit rate.Limit
	burst int

	mu        sync.Mutex
	lastSweep time.Time
}

func (b *buckets) get(key string) *rate.Limiter {
	if l, ok := b.m.Load(key); ok {
		return l.(*rate.Limiter)
	}

	l, _ := b.m.LoadOrStore(key, rate.NewLimiter(b.limit, b.burst))
	b.sweep()
	return l.(*rate.Limiter)
}

// sweep drops idle buckets at most once every five minutes. A full bucket is
// indistinguishable from a fresh one so it is safe to forget.
func (b *buckets) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastSweep) < 5*time.Minute {
		return
	}
	b.lastSweep = time.Now()

	b.m.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(b.burst) {
			b.m.Delete(key)
		}
		return true
	})
}

// Throttle rejects requests with 429 once the bucket for key(r) is empty.
func Throttle(cfg ThrottleConfig, key KeyFunc) Middleware {
	b := &buckets{
		limit:     rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds()),
		burst:     cfg.Burst,
		lastSweep: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			l := b.get(k)
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Reserve()
			delay := res.Delay()
			res.Cancel()

			slogx.FromContext(r.Context()).Warn("throttled",
				"key", k,
				"path", r.URL.Path,
				"retry_after", delay.String(),
			)
			WriteRateLimited(w, cfg.Requests, time.Now().Add(delay))
		})
	}
}

// SetRateLimitHeaders sets Retry-After and the X-RateLimit-* headers for a
// caller that has no budget left until resetAt.
func SetRateLimitHeaders(w http.ResponseWriter, limit int, resetAt time.Time) {
	retry := int(time.Until(resetAt).Round(time.Second).Seconds())
	if retry < 1 {
		retry = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// WriteRateLimited answers 429 with retry metadata. resetAt is when the
// caller may try again.
func WriteRateLimited(w http.ResponseWriter, limit int, resetAt time.Time) {
	SetRateLimitHeaders(w, limit, resetAt)
	WriteJSON(w, http.StatusTooManyRequests, map[string]string{
		"error":             "rate_limit_exceeded",
		"error_description": "Too many requests. Please try again later.",
	})
}
