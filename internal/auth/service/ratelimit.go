package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/metrics"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

const (
	ActionAPIAccess = "api_access"
	ActionLogin     = "login"
	ActionRegister  = "register"
	ActionLegacy    = "legacy_login"
)

// RatePolicy is supplied by the caller on every check; there is no global
// policy.
type RatePolicy struct {
	Requests int           // budget per window
	Window   time.Duration // counter lifetime, starting at the first call
	Block    time.Duration // lockout once the budget is exceeded
}

var (
	APIAccessPolicy = RatePolicy{Requests: 100, Window: time.Minute, Block: 5 * time.Minute}
	LoginPolicy     = RatePolicy{Requests: 5, Window: 15 * time.Minute, Block: 15 * time.Minute}
	RegisterPolicy  = RatePolicy{Requests: 3, Window: time.Hour, Block: time.Hour}
)

// RateLimitResult describes the limiter state after a call.
type RateLimitResult struct {
	Allowed        bool
	Limit          int
	Remaining      int
	ResetAt        time.Time // end of the current window
	BlockExpiresAt time.Time // zero unless blocked
}

// RetryAt is when a denied caller may try again.
func (r RateLimitResult) RetryAt() time.Time {
	if !r.BlockExpiresAt.IsZero() {
		return r.BlockExpiresAt
	}
	return r.ResetAt
}

// RateLimiter is a fixed window counter with a block state, kept in the KV
// store. Each (identifier, action) pair is independent.
type RateLimiter struct {
	KV      kv.Store
	Now     func() time.Time
	Metrics *metrics.Metrics
}

func counterKey(action, id string) string { return "ratelimit:" + action + ":" + id }
func blockKey(action, id string) string   { return "ratelimit:block:" + action + ":" + id }

func (r *RateLimiter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// CheckRateLimit counts one call against (identifier, action).
//
// A blocked pair is rejected without touching the counter. Otherwise the
// counter is incremented atomically with its first expiry; going over the
// budget writes the block marker and drops the counter, so the first call
// after the block starts a fresh window.
func (r *RateLimiter) CheckRateLimit(ctx context.Context, identifier, action string, p RatePolicy) (RateLimitResult, error) {
	now := r.now()
	res := RateLimitResult{Limit: p.Requests}

	// 1. Blocked?
	raw, err := r.KV.Get(ctx, blockKey(action, identifier))
	switch {
	case err == nil:
		ms, perr := strconv.ParseInt(raw, 10, 64)
		if perr == nil {
			until := time.UnixMilli(ms).In(now.Location())
			if now.Before(until) {
				res.ResetAt = until
				res.BlockExpiresAt = until
				r.Metrics.RateLimited(action)
				return res, nil
			}
		}
	case !errors.Is(err, kv.ErrNotFound):
		return res, fmt.Errorf("ratelimit: read block: %w", err)
	}

	// 2. Count this call.
	ck := counterKey(action, identifier)
	n, err := r.KV.Incr(ctx, ck, p.Window)
	if err != nil {
		return res, fmt.Errorf("ratelimit: incr: %w", err)
	}

	res.ResetAt = now.Add(p.Window)
	if ttl, err := r.KV.TTL(ctx, ck); err == nil && ttl > 0 {
		res.ResetAt = now.Add(ttl)
	}

	// 3. Over budget: block.
	if n > int64(p.Requests) {
		// Without a block the caller waits out the current window.
		if p.Block <= 0 {
			r.Metrics.RateLimited(action)
			return res, nil
		}

		until := now.Add(p.Block)
		if err := r.KV.Set(ctx, blockKey(action, identifier), strconv.FormatInt(until.UnixMilli(), 10), p.Block); err != nil {
			return res, fmt.Errorf("ratelimit: write block: %w", err)
		}
		if _, err := r.KV.Delete(ctx, ck); err != nil {
			return res, fmt.Errorf("ratelimit: reset counter: %w", err)
		}

		slogx.FromContext(ctx).Warn("rate limit exceeded, blocking",
			slog.String("action", action),
			slog.Duration("block", p.Block),
		)
		r.Metrics.RateLimited(action)

		res.ResetAt = until
		res.BlockExpiresAt = until
		return res, nil
	}

	res.Allowed = true
	res.Remaining = p.Requests - int(n)
	return res, nil
}

// Allow is CheckRateLimit that folds a denial into a *RateLimitedError.
func (r *RateLimiter) Allow(ctx context.Context, identifier, action string, p RatePolicy) error {
	res, err := r.CheckRateLimit(ctx, identifier, action, p)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &RateLimitedError{Action: action, Result: res}
	}
	return nil
}

// Reset clears both the counter and any block for (identifier, action).
func (r *RateLimiter) Reset(ctx context.Context, identifier, action string) error {
	_, err := r.KV.Delete(ctx, counterKey(action, identifier), blockKey(action, identifier))
	return err
}
