package businessflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/redis/go-redis/v9"
)

// ChallengeFlow issues and consumes the short-lived tokens that gate lead
// submission. A token is bound to one campaign and one storefront session
// and is consumed at most once.
type ChallengeFlow interface {
	Issue(ctx context.Context, store *models.Store, request *dto.ChallengeRequest, metadata *ClientMetadata) (*dto.ChallengeResponse, error)
	Consume(ctx context.Context, store *models.Store, campaign *models.Campaign, token, sessionID string, metadata *ClientMetadata) error
}

// ChallengeFlowImpl implements the challenge token flow
type ChallengeFlowImpl struct {
	campaignRepo  repository.CampaignRepository
	auditRepo     repository.AuditLogRepository
	rateLimitFlow RateLimitFlow
	redisClient   *redis.Client
	engineCfg     config.EngineConfig
	cacheCfg      config.CacheConfig
}

// NewChallengeFlow creates a new challenge flow instance
func NewChallengeFlow(
	campaignRepo repository.CampaignRepository,
	auditRepo repository.AuditLogRepository,
	rateLimitFlow RateLimitFlow,
	redisClient *redis.Client,
	engineCfg config.EngineConfig,
	cacheCfg config.CacheConfig,
) ChallengeFlow {
	return &ChallengeFlowImpl{
		campaignRepo:  campaignRepo,
		auditRepo:     auditRepo,
		rateLimitFlow: rateLimitFlow,
		redisClient:   redisClient,
		engineCfg:     engineCfg,
		cacheCfg:      cacheCfg,
	}
}

// consumeTokenScript checks the claimed campaign and session binding and
// deletes the token only on a match, all in one step so two concurrent
// submissions cannot both redeem it. A mismatched claim leaves the token
// in place for its rightful owner.
var consumeTokenScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return {0, ''}
end
if string.sub(v, 1, string.len(ARGV[1])) ~= ARGV[1] then
	return {1, v}
end
redis.call('DEL', KEYS[1])
return {2, v}
`)

const (
	consumeTokenMissing  = 0
	consumeTokenMismatch = 1
	consumeTokenRedeemed = 2
)

// Issue mints a challenge token for one campaign and session
func (cf *ChallengeFlowImpl) Issue(ctx context.Context, store *models.Store, request *dto.ChallengeRequest, metadata *ClientMetadata) (*dto.ChallengeResponse, error) {
	if store == nil {
		return nil, NewBusinessError("CHALLENGE_FAILED", "Challenge issuance failed", ErrStoreNotFound)
	}
	if request == nil || request.CampaignUUID == "" || request.SessionID == "" {
		return nil, NewBusinessError("CHALLENGE_VALIDATION_FAILED", "Challenge validation failed", ErrInvalidInput)
	}

	ipAddress := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
	}

	decision, err := cf.rateLimitFlow.AllowChallengeRequest(ctx, ipAddress)
	if err == nil && !decision.Allowed {
		return nil, NewBusinessError("CHALLENGE_RATE_LIMITED", "Too many challenge requests",
			&RateLimitExceededError{ResetAt: decision.ResetAt})
	}

	campaign, err := cf.campaignRepo.ByUUID(ctx, request.CampaignUUID)
	if err != nil {
		return nil, NewBusinessError("CHALLENGE_FAILED", "Challenge issuance failed", err)
	}
	if campaign == nil || campaign.StoreID != store.ID {
		return nil, NewBusinessError("CHALLENGE_FAILED", "Challenge issuance failed", ErrCampaignNotFound)
	}
	if !campaign.IsActive() && !campaign.InPreviewMode() {
		return nil, NewBusinessError("CHALLENGE_FAILED", "Challenge issuance failed", ErrCampaignNotActive)
	}

	token, err := generateChallengeToken()
	if err != nil {
		return nil, NewBusinessError("CHALLENGE_FAILED", "Challenge issuance failed", err)
	}

	ttl := cf.engineCfg.ChallengeTokenTTL
	if ttl <= 0 {
		ttl = utils.ChallengeTokenTTL
	}

	value := fmt.Sprintf("%d|%s|%s|%d",
		campaign.ID,
		request.SessionID,
		HashIP(cf.engineCfg.IPHashSalt, ipAddress),
		utils.UTCNow().Unix(),
	)

	key := redisKey(cf.cacheCfg, fmt.Sprintf("%s:%s", utils.ChallengeTokenPart, token))
	if err := cf.redisClient.Set(ctx, key, value, ttl).Err(); err != nil {
		return nil, NewBusinessError("CHALLENGE_FAILED", "Challenge issuance failed", err)
	}

	challengeTokensIssuedTotal.Inc()

	return &dto.ChallengeResponse{
		Token:     token,
		ExpiresAt: utils.UTCNow().Add(ttl),
		ExpiresIn: int(ttl.Seconds()),
	}, nil
}

// Consume redeems a challenge token. The token is deleted only when the
// claimed campaign and session match its binding, so a mismatched claim
// cannot burn a token it does not own.
func (cf *ChallengeFlowImpl) Consume(ctx context.Context, store *models.Store, campaign *models.Campaign, token, sessionID string, metadata *ClientMetadata) error {
	if len(token) != 64 {
		return ErrTokenInvalid
	}
	if campaign == nil {
		return ErrTokenInvalid
	}

	key := redisKey(cf.cacheCfg, fmt.Sprintf("%s:%s", utils.ChallengeTokenPart, token))
	claimed := fmt.Sprintf("%d|%s|", campaign.ID, sessionID)

	result, err := consumeTokenScript.Run(ctx, cf.redisClient, []string{key}, claimed).Slice()
	if err != nil {
		return fmt.Errorf("challenge token lookup failed: %w", err)
	}
	if len(result) != 2 {
		return ErrTokenInvalid
	}

	status, _ := result[0].(int64)
	value, _ := result[1].(string)

	switch status {
	case consumeTokenMissing:
		// Expired, never issued, or already redeemed. Indistinguishable
		// once the key is gone.
		challengeTokensConsumedTotal.WithLabelValues("missing").Inc()
		return ErrTokenAlreadyConsumed
	case consumeTokenMismatch:
		challengeTokensConsumedTotal.WithLabelValues("binding_mismatch").Inc()
		return ErrTokenBindingMismatch
	case consumeTokenRedeemed:
	default:
		return ErrTokenInvalid
	}

	parts := strings.SplitN(value, "|", 4)
	if len(parts) != 4 {
		return ErrTokenInvalid
	}

	ipAddress := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
	}
	if parts[2] != HashIP(cf.engineCfg.IPHashSalt, ipAddress) {
		// IP churn between issuance and submission is common on mobile
		// networks, so a mismatch is logged rather than rejected unless
		// strict mode is on.
		cf.logTokenIPMismatch(ctx, store, campaign, metadata)
		if cf.engineCfg.StrictTokenIP {
			challengeTokensConsumedTotal.WithLabelValues("ip_mismatch").Inc()
			return ErrTokenBindingMismatch
		}
	}

	challengeTokensConsumedTotal.WithLabelValues("ok").Inc()

	return nil
}

func (cf *ChallengeFlowImpl) logTokenIPMismatch(ctx context.Context, store *models.Store, campaign *models.Campaign, metadata *ClientMetadata) {
	description := "Challenge token consumed from a different IP than issued"
	if campaign != nil {
		description = fmt.Sprintf("Challenge token for campaign %d consumed from a different IP than issued", campaign.ID)
	}

	var storeID *uint
	if store != nil {
		storeID = &store.ID
	}

	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		StoreID:     storeID,
		Action:      models.AuditActionTokenIPMismatch,
		Description: &description,
		Success:     utils.ToPtr(true),
		IPAddress:   &ipAddress,
		UserAgent:   &userAgent,
		RequestID:   requestIDFromContext(ctx),
	}

	_ = cf.auditRepo.Save(ctx, audit)
}

// generateChallengeToken returns 32 random bytes hex encoded
func generateChallengeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
