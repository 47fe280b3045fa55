package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/redis/go-redis/v9"
)

// RateLimitDecision reports the outcome of one fixed window check. ResetAt
// is when the current window expires, so a denied caller knows how long to
// back off.
type RateLimitDecision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// RateLimitFlow enforces fixed window abuse limits for the public
// storefront actions and dashboard login. Counters live in Redis so
// every instance shares one window.
type RateLimitFlow interface {
	AllowChallengeRequest(ctx context.Context, key string) (*RateLimitDecision, error)
	AllowLeadSubmit(ctx context.Context, key string) (*RateLimitDecision, error)
	AllowLogin(ctx context.Context, key string) (*RateLimitDecision, error)
}

// RateLimitFlowImpl implements the rate limit flow
type RateLimitFlowImpl struct {
	redisClient *redis.Client
	limits      config.RateLimitsConfig
	cacheCfg    config.CacheConfig
}

// NewRateLimitFlow creates a new rate limit flow instance
func NewRateLimitFlow(
	redisClient *redis.Client,
	limits config.RateLimitsConfig,
	cacheCfg config.CacheConfig,
) RateLimitFlow {
	return &RateLimitFlowImpl{
		redisClient: redisClient,
		limits:      limits,
		cacheCfg:    cacheCfg,
	}
}

// Rate limit action names used in Redis keys and audit descriptions
const (
	RateLimitActionChallenge  = "challenge"
	RateLimitActionLeadSubmit = "lead_submit"
	RateLimitActionLogin      = "login"
)

// fixedWindowScript increments the window counter, arms its expiry on
// first hit, and reads the remaining window so the whole check is one
// round trip.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

// AllowChallengeRequest checks the challenge issuance limit, keyed by client IP
func (rl *RateLimitFlowImpl) AllowChallengeRequest(ctx context.Context, key string) (*RateLimitDecision, error) {
	return rl.allow(ctx, rl.limits.ChallengeRequest, RateLimitActionChallenge, key)
}

// AllowLeadSubmit checks the lead submission limit, keyed by email and campaign
func (rl *RateLimitFlowImpl) AllowLeadSubmit(ctx context.Context, key string) (*RateLimitDecision, error) {
	return rl.allow(ctx, rl.limits.LeadSubmit, RateLimitActionLeadSubmit, key)
}

// AllowLogin checks the dashboard login limit, keyed by email
func (rl *RateLimitFlowImpl) AllowLogin(ctx context.Context, key string) (*RateLimitDecision, error) {
	return rl.allow(ctx, rl.limits.Login, RateLimitActionLogin, key)
}

// allow runs one fixed window check. Disabled rules always allow. A Redis
// failure also allows: the limiter is an abuse guard, not a correctness
// gate, and a cache outage must not take the storefront down with it.
func (rl *RateLimitFlowImpl) allow(ctx context.Context, rule config.RateLimitRule, action, key string) (*RateLimitDecision, error) {
	if !rule.Enabled || rule.Max <= 0 || rule.Window <= 0 {
		return &RateLimitDecision{Allowed: true}, nil
	}
	if key == "" {
		return &RateLimitDecision{Allowed: true}, nil
	}

	redisKeyName := redisKey(rl.cacheCfg, fmt.Sprintf("%s:%s:%s", utils.RateLimitKeyPart, action, key))

	result, err := fixedWindowScript.Run(ctx, rl.redisClient, []string{redisKeyName}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil || len(result) != 2 {
		return &RateLimitDecision{Allowed: true}, fmt.Errorf("rate limit check failed for %s: %w", action, err)
	}

	current, ttlMillis := result[0], result[1]

	// PTTL returns a negative value when the key has no expiry, which can
	// happen if the PEXPIRE was lost. Fall back to a full window so the
	// caller still gets a usable reset time.
	if ttlMillis < 0 {
		ttlMillis = rule.Window.Milliseconds()
	}

	decision := &RateLimitDecision{
		ResetAt: utils.UTCNow().Add(time.Duration(ttlMillis) * time.Millisecond),
	}

	if current > rule.Max {
		rateLimitDenialsTotal.WithLabelValues(action).Inc()
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = rule.Max - current
	return decision, nil
}
