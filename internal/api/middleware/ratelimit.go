package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/metrics"
)

const (
	keyPrefix       = "boardsync:rl:"
	violationPrefix = "boardsync:violations:"
	blockPrefix     = "boardsync:blocked:"

	autoBlockThreshold = 10
	autoBlockDuration  = 24 * time.Hour
)

// RateLimit is a fixed-window budget for requests matching Method and a path
// prefix.
type RateLimit struct {
	Name     string
	Method   string
	Prefix   string
	Requests int
	Window   time.Duration
}

// defaultLimits are checked in order; the first match applies. Opening a
// WebSocket is limited here, messages on it are limited per connection by
// the hub.
var defaultLimits = []RateLimit{
	{"create_board", http.MethodPost, "/api/boards", 30, time.Hour},
	{"delete_board", http.MethodDelete, "/api/boards/", 30, time.Minute},
	{"read_boards", http.MethodGet, "/api/boards", 120, time.Minute},
	{"read_session", http.MethodGet, "/api/sessions/", 120, time.Minute},
	{"stats", http.MethodGet, "/api/stats", 60, time.Minute},
	{"connect", http.MethodGet, "/ws", 30, time.Minute},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block IPs that keep exceeding limits
	Limits           []RateLimit
}

// RateLimiter enforces per-IP request budgets backed by Redis counters.
// Redis errors fail open.
type RateLimiter struct {
	client    *redis.Client
	logger    zerolog.Logger
	limits    []RateLimit
	allowed   []netip.Prefix
	autoBlock bool
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		logger:    logger,
		limits:    cfg.Limits,
		autoBlock: cfg.AutoBlockEnabled,
		now:       time.Now,
	}
	if rl.limits == nil {
		rl.limits = defaultLimits
	}

	for _, entry := range cfg.Whitelist {
		p, err := parsePrefix(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid whitelist entry")
			continue
		}
		rl.allowed = append(rl.allowed, p)
	}
	if len(rl.allowed) > 0 {
		logger.Info().Int("entries", len(rl.allowed)).Msg("rate limit whitelist configured")
	}

	return rl
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (rl *RateLimiter) isWhitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RealIP extracts the client IP, preferring proxy headers over RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// findLimit returns the first limit matching the request, or nil.
func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	for i := range rl.limits {
		l := &rl.limits[i]
		if r.Method == l.Method && strings.HasPrefix(r.URL.Path, l.Prefix) {
			return l
		}
	}
	return nil
}

// take counts one request against limit for ip in the current window and
// reports whether it fits, how many remain and when the window resets.
func (rl *RateLimiter) take(ctx context.Context, limit *RateLimit, ip string) (bool, int, time.Time, error) {
	now := rl.now()
	bucket := now.Truncate(limit.Window)
	resetAt := bucket.Add(limit.Window)
	key := keyPrefix + limit.Name + ":" + ip + ":" + strconv.FormatInt(bucket.Unix(), 10)

	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, resetAt.Add(time.Second))
		return nil
	})
	if err != nil {
		return true, limit.Requests, resetAt, err
	}

	count := int(incr.Val())
	remaining := limit.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit.Requests, remaining, resetAt, nil
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if ttl, blocked := rl.blocked(ctx, ip); blocked {
			rl.logger.Warn().
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("path", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			writeError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		ok, remaining, resetAt, err := rl.take(ctx, limit, ip)
		if err != nil {
			rl.logger.Debug().Err(err).Str("limit", limit.Name).Msg("rate limit check failed, allowing")
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !ok {
			retry := int(resetAt.Sub(rl.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			metrics.RateLimitHits.WithLabelValues(limit.Name).Inc()
			rl.logger.Warn().
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("limit", limit.Name).
				Msg("rate limit exceeded")
			rl.recordViolation(ctx, ip)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// blocked reports whether ip is on the block list and for how much longer.
func (rl *RateLimiter) blocked(ctx context.Context, ip string) (time.Duration, bool) {
	ttl, err := rl.client.TTL(ctx, blockPrefix+ip).Result()
	if err != nil || ttl <= 0 {
		return 0, false
	}
	return ttl, true
}

// recordViolation counts limit violations per IP and blocks the IP once it
// reaches autoBlockThreshold within an hour.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := violationPrefix + ip
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	if count == 1 {
		rl.client.Expire(ctx, key, time.Hour)
	}
	if count < autoBlockThreshold {
		return
	}

	rl.client.Set(ctx, blockPrefix+ip, "repeated rate limit violations", autoBlockDuration)
	metrics.BlockedRequests.WithLabelValues("auto_blocked").Inc()
	rl.logger.Warn().
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", count).
		Msg("IP auto-blocked for repeated violations")
}
