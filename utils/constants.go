package utils

import (
	"time"
)

// Token and session time constants
const (
	// AccessTokenTTL is the time-to-live for dashboard access tokens (24 hours)
	AccessTokenTTL = 24 * time.Hour

	// AccessTokenTTLSeconds is the time-to-live for dashboard access tokens in seconds (86400 seconds = 24 hours)
	AccessTokenTTLSeconds = 86400

	// RefreshTokenTTL is the time-to-live for dashboard refresh tokens (7 days)
	RefreshTokenTTL = 7 * 24 * time.Hour

	// SessionTimeout is the default dashboard session timeout (24 hours)
	SessionTimeout = 24 * time.Hour

	// ChallengeTokenTTL is the default time-to-live for storefront challenge tokens (15 minutes)
	ChallengeTokenTTL = 15 * time.Minute

	// ChallengeTokenTTLSeconds is the default challenge token TTL in seconds (900 seconds = 15 minutes)
	ChallengeTokenTTLSeconds = 900
)

// Frequency capping window constants
const (
	// SessionWindowTTL is how long a session-scoped display counter lives (30 minutes)
	SessionWindowTTL = 30 * time.Minute

	// DayWindowTTL is how long a day-scoped display counter lives.
	// The key embeds the store-local date, so 36 hours covers the whole
	// calendar day plus clock skew without a second rollover.
	DayWindowTTL = 36 * time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Redis key fragments. Full keys are built by redis key helpers with the
// configured cache prefix, e.g. "nurikabe:freq:...".
const (
	FrequencyKeyPart     = "freq"
	CooldownKeyPart      = "cool"
	ChallengeTokenPart   = "chtok"
	RateLimitKeyPart     = "rl"
	CampaignCacheKeyPart = "campaigns"
	SettingsCacheKeyPart = "settings"
	RevokedTokenKeyPart  = "revoked"

	// CampaignCacheLockKey guards the periodic campaign cache refresh so a
	// single instance performs it at a time.
	CampaignCacheLockKey = "locks:campaign_cache_refresh"

	// AudienceSyncLockKey guards the periodic audience membership sync.
	AudienceSyncLockKey = "locks:audience_sync"
)

// ContextKey is the type for request-scoped context values.
type ContextKey string

// Context keys for request-scoped observability values
const (
	RequestIDKey  ContextKey = "request_id"
	UserAgentKey  ContextKey = "user_agent"
	IPAddressKey  ContextKey = "ip_address"
	EndpointKey   ContextKey = "endpoint"
	TimeoutKey    ContextKey = "timeout"
	CancelFuncKey ContextKey = "cancel_func"
)
