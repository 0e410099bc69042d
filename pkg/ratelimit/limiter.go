package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/richxcame/escrow-settlement/pkg/config"
)

// Scope says who a bucket belongs to
type Scope int

const (
	// ScopeClient keys unauthenticated callers by IP
	ScopeClient Scope = iota
	// ScopeUser keys authenticated callers by user ID
	ScopeUser
)

// Rule is a token bucket: Limit tokens refill per Window, Burst extra tokens on top.
type Rule struct {
	Limit  int
	Burst  int
	Window time.Duration
}

// Disabled reports whether the rule lets everything through
func (r Rule) Disabled() bool {
	return r.Limit <= 0
}

func (r Rule) capacity() float64 {
	return math.Max(1, float64(r.Limit+max(r.Burst, 0)))
}

// tokens refilled per millisecond
func (r Rule) refill() float64 {
	ms := r.Window.Milliseconds()
	if ms <= 0 {
		ms = time.Minute.Milliseconds()
	}
	return float64(r.Limit) / float64(ms)
}

// Decision is the outcome of taking one token
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAfter time.Duration
}

// Limiter is a token bucket kept in Redis so every replica shares the same budget.
type Limiter struct {
	client redis.Cmdable
	cfg    config.RateLimitConfig
	script *redis.Script
	now    func() time.Time
}

// takeScript refills the bucket for the elapsed time, takes a token if one is left and
// returns {allowed, tokens_left, retry_after_ms}.
const takeScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
    tokens = math.min(capacity, tokens + (now - ts) * rate)
    ts = now
end

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end
redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, ttl)

local wait = 0
if allowed == 0 then
    wait = math.ceil((1 - tokens) / rate)
end
return {allowed, tostring(tokens), wait}
`

// NewLimiter creates a limiter on client
func NewLimiter(client redis.Cmdable, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		client: client,
		cfg:    cfg,
		script: redis.NewScript(takeScript),
		now:    time.Now,
	}
}

// WithNow overrides the clock
func (l *Limiter) WithNow(now func() time.Time) {
	l.now = now
}

// RuleFor returns the rule for a "METHOD:/route" key, applying any configured override.
func (l *Limiter) RuleFor(route string, scope Scope) Rule {
	rule := Rule{Limit: l.cfg.DefaultLimit, Burst: l.cfg.DefaultBurst, Window: l.cfg.Window()}
	if scope == ScopeClient {
		rule.Limit, rule.Burst = l.cfg.AnonymousLimit, l.cfg.AnonymousBurst
	}

	o, ok := l.cfg.EndpointOverrides[route]
	if !ok {
		return rule
	}
	if o.WindowSeconds > 0 {
		rule.Window = time.Duration(o.WindowSeconds) * time.Second
	}
	limit, burst := o.AuthenticatedLimit, o.AuthenticatedBurst
	if scope == ScopeClient {
		limit, burst = o.AnonymousLimit, o.AnonymousBurst
	}
	if limit > 0 {
		rule.Limit = limit
	}
	if burst > 0 {
		rule.Burst = burst
	}
	return rule
}

// Take spends one token from subject's bucket for route
func (l *Limiter) Take(ctx context.Context, route, subject string, rule Rule) (Decision, error) {
	if !l.cfg.Enabled || rule.Disabled() {
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}, nil
	}
	if rule.Window <= 0 {
		rule.Window = l.cfg.Window()
	}

	key := fmt.Sprintf("%s:%s:%s", l.cfg.RedisPrefix, route, subject)
	rate := rule.refill()
	capacity := rule.capacity()
	ttl := 2 * rule.Window.Milliseconds()

	raw, err := l.script.Run(ctx, l.client, []string{key},
		l.now().UnixMilli(), formatFloat(rate), formatFloat(capacity), ttl,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(raw))
	}

	left := parseFloat(raw[1])
	d := Decision{
		Allowed:   parseFloat(raw[0]) == 1,
		Limit:     rule.Limit,
		Remaining: int(math.Max(0, math.Floor(left))),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(parseFloat(raw[2])) * time.Millisecond
		d.ResetAfter = d.RetryAfter
		return d, nil
	}
	d.ResetAfter = time.Duration(math.Ceil((capacity-left)/rate)) * time.Millisecond
	return d, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 10, 64)
}

func parseFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
