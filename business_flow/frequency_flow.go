package businessflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/redis/go-redis/v9"
)

// FrequencyFlow enforces display frequency caps and cooldowns. Counters are
// Redis-only and expire with their window; the relational display_events
// table is a best-effort analytics record, never consulted for capping.
//
// Cap resolution order, most specific wins: campaign trigger caps, then the
// family rule, then the global rule. A campaign carrying its own caps is
// additionally checked against the store rules only when it opts in via
// RespectGlobalLimits.
type FrequencyFlow interface {
	CheckDisplay(ctx context.Context, store *models.Store, request *dto.DisplayCheckRequest, metadata *ClientMetadata) (*dto.DisplayCheckResponse, error)
	RecordDisplay(ctx context.Context, store *models.Store, request *dto.DisplayRecordRequest, metadata *ClientMetadata) error
	Evaluate(ctx context.Context, store *models.Store, settings *models.StoreSettings, campaign *models.Campaign, visitor *VisitorContext) (bool, string, error)
	SettingsForStore(ctx context.Context, store *models.Store) (*models.StoreSettings, error)
}

// FrequencyFlowImpl implements the frequency cap flow
type FrequencyFlowImpl struct {
	campaignRepo     repository.CampaignRepository
	settingsRepo     repository.StoreSettingsRepository
	displayEventRepo repository.DisplayEventRepository
	redisClient      *redis.Client
	engineCfg        config.EngineConfig
	cacheCfg         config.CacheConfig
}

// NewFrequencyFlow creates a new frequency flow instance
func NewFrequencyFlow(
	campaignRepo repository.CampaignRepository,
	settingsRepo repository.StoreSettingsRepository,
	displayEventRepo repository.DisplayEventRepository,
	redisClient *redis.Client,
	engineCfg config.EngineConfig,
	cacheCfg config.CacheConfig,
) FrequencyFlow {
	return &FrequencyFlowImpl{
		campaignRepo:     campaignRepo,
		settingsRepo:     settingsRepo,
		displayEventRepo: displayEventRepo,
		redisClient:      redisClient,
		engineCfg:        engineCfg,
		cacheCfg:         cacheCfg,
	}
}

// recordDisplayScript bumps the family and campaign counters for both
// windows in one round trip. Expiry is armed on first increment only, so
// the window does not slide. An optional cooldown marker is set last.
var recordDisplayScript = redis.NewScript(`
for i = 1, 4 do
	local ttl = ARGV[1]
	if i % 2 == 0 then
		ttl = ARGV[2]
	end
	local c = redis.call('INCR', KEYS[i])
	if c == 1 then
		redis.call('PEXPIRE', KEYS[i], ttl)
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[5], '1', 'PX', ARGV[3])
end
return 1
`)

// CheckDisplay answers whether a popup may be shown right now. The check
// does not reserve anything; RecordDisplay is a separate call made after
// the widget actually renders. Two tabs racing past the same cap is an
// accepted overshoot.
func (ff *FrequencyFlowImpl) CheckDisplay(ctx context.Context, store *models.Store, request *dto.DisplayCheckRequest, metadata *ClientMetadata) (*dto.DisplayCheckResponse, error) {
	if store == nil {
		return nil, NewBusinessError("DISPLAY_CHECK_FAILED", "Display check failed", ErrStoreNotFound)
	}
	if request == nil || request.CampaignUUID == "" {
		return nil, NewBusinessError("DISPLAY_CHECK_VALIDATION_FAILED", "Display check validation failed", ErrInvalidInput)
	}

	campaign, err := ff.campaignRepo.ByUUID(ctx, request.CampaignUUID)
	if err != nil {
		return nil, NewBusinessError("DISPLAY_CHECK_FAILED", "Display check failed", err)
	}
	if campaign == nil || campaign.StoreID != store.ID {
		return nil, NewBusinessError("DISPLAY_CHECK_FAILED", "Display check failed", ErrCampaignNotFound)
	}

	if !campaign.IsActive() && !campaign.InPreviewMode() {
		return ff.denyResponse(dto.DenyReasonCampaignInactive), nil
	}
	if !campaign.ScheduleEligibleAt(utils.UTCNow()) {
		return ff.denyResponse(dto.DenyReasonOutsideSchedule), nil
	}

	settings, err := ff.SettingsForStore(ctx, store)
	if err != nil {
		return nil, NewBusinessError("DISPLAY_CHECK_FAILED", "Display check failed", err)
	}

	visitor := &VisitorContext{
		VisitorID: request.VisitorID,
		SessionID: request.SessionID,
		PageURL:   request.PageURL,
	}

	allowed, reason, err := ff.Evaluate(ctx, store, settings, campaign, visitor)
	if err != nil {
		return nil, NewBusinessError("DISPLAY_CHECK_FAILED", "Display check failed", err)
	}
	if !allowed {
		return ff.denyResponse(reason), nil
	}

	return &dto.DisplayCheckResponse{Allowed: true}, nil
}

// denyResponse builds a denial verdict carrying both the machine code and
// its human-readable message, and counts it.
func (ff *FrequencyFlowImpl) denyResponse(reason string) *dto.DisplayCheckResponse {
	displayDenialsTotal.WithLabelValues(reason).Inc()
	return &dto.DisplayCheckResponse{
		Allowed: false,
		Reason:  reason,
		Message: dto.DenyReasonMessage(reason),
	}
}

// Evaluate runs the cap and cooldown checks for one campaign. Visitors
// without identity (blocked storage) always pass: capping them is
// impossible and hiding popups from them would punish privacy settings.
func (ff *FrequencyFlowImpl) Evaluate(ctx context.Context, store *models.Store, settings *models.StoreSettings, campaign *models.Campaign, visitor *VisitorContext) (bool, string, error) {
	if !visitor.HasIdentity() {
		return true, "", nil
	}
	if campaign.InPreviewMode() {
		return true, "", nil
	}

	family := campaign.TemplateFamily.String()

	var freq models.FrequencySettings
	if settings != nil {
		freq = settings.Frequency
	}

	if ff.cooldownMillis(freq) > 0 {
		coolKey := redisKey(ff.cacheCfg, fmt.Sprintf("%s:%d:%s:%s", utils.CooldownKeyPart, store.ID, visitor.VisitorID, family))
		exists, err := ff.redisClient.Exists(ctx, coolKey).Result()
		if err != nil {
			return true, "", nil // fail open on cache outage
		}
		if exists > 0 {
			return false, dto.DenyReasonCooldown, nil
		}
	}

	date := storeLocalDate(store.Timezone, utils.UTCNow())
	famSession, famDay, campSession, campDay := ff.counterKeys(store.ID, visitor, family, campaign.ID, date)

	counts, err := ff.redisClient.MGet(ctx, famSession, famDay, campSession, campDay).Result()
	if err != nil {
		return true, "", nil // fail open on cache outage
	}

	famSessionCount := parseCount(counts[0])
	famDayCount := parseCount(counts[1])
	campSessionCount := parseCount(counts[2])
	campDayCount := parseCount(counts[3])

	storeRule := ff.storeRule(freq, campaign.TemplateFamily)

	trigger := campaign.Trigger
	hasOwnCaps := trigger.HasSessionCap() || trigger.HasDayCap()

	if hasOwnCaps {
		if trigger.HasSessionCap() && campSessionCount >= int64(*trigger.MaxPerSession) {
			return false, dto.DenyReasonCampaignSessionLimit, nil
		}
		if trigger.HasDayCap() && campDayCount >= int64(*trigger.MaxPerDay) {
			return false, dto.DenyReasonCampaignDayLimit, nil
		}
		if !trigger.RespectGlobalLimits {
			return true, "", nil
		}
	}

	if storeRule != nil && storeRule.Enabled {
		if storeRule.HasSessionCap() && famSessionCount >= int64(*storeRule.MaxPerSession) {
			return false, dto.DenyReasonGlobalSessionLimit, nil
		}
		if storeRule.HasDayCap() && famDayCount >= int64(*storeRule.MaxPerDay) {
			return false, dto.DenyReasonGlobalDayLimit, nil
		}
	}

	return true, "", nil
}

// RecordDisplay bumps the visitor's counters and writes the analytics row.
// Called after the widget rendered, so failures here must not surface to
// the storefront.
func (ff *FrequencyFlowImpl) RecordDisplay(ctx context.Context, store *models.Store, request *dto.DisplayRecordRequest, metadata *ClientMetadata) error {
	if store == nil {
		return NewBusinessError("DISPLAY_RECORD_FAILED", "Display record failed", ErrStoreNotFound)
	}
	if request == nil || request.CampaignUUID == "" {
		return NewBusinessError("DISPLAY_RECORD_VALIDATION_FAILED", "Display record validation failed", ErrInvalidInput)
	}

	campaign, err := ff.campaignRepo.ByUUID(ctx, request.CampaignUUID)
	if err != nil {
		return NewBusinessError("DISPLAY_RECORD_FAILED", "Display record failed", err)
	}
	if campaign == nil || campaign.StoreID != store.ID {
		return NewBusinessError("DISPLAY_RECORD_FAILED", "Display record failed", ErrCampaignNotFound)
	}

	visitor := &VisitorContext{
		VisitorID: request.VisitorID,
		SessionID: request.SessionID,
		PageURL:   request.PageURL,
	}

	if visitor.HasIdentity() && !campaign.InPreviewMode() {
		settings, err := ff.SettingsForStore(ctx, store)
		if err != nil {
			settings = nil
		}

		var freq models.FrequencySettings
		if settings != nil {
			freq = settings.Frequency
		}

		family := campaign.TemplateFamily.String()
		date := storeLocalDate(store.Timezone, utils.UTCNow())
		famSession, famDay, campSession, campDay := ff.counterKeys(store.ID, visitor, family, campaign.ID, date)
		coolKey := redisKey(ff.cacheCfg, fmt.Sprintf("%s:%d:%s:%s", utils.CooldownKeyPart, store.ID, visitor.VisitorID, family))

		sessionTTL := ff.engineCfg.SessionWindow
		if sessionTTL <= 0 {
			sessionTTL = utils.SessionWindowTTL
		}
		dayTTL := ff.engineCfg.DayWindow
		if dayTTL <= 0 {
			dayTTL = utils.DayWindowTTL
		}

		// A lost increment means at most one extra display later, not
		// worth failing the request over.
		_ = recordDisplayScript.Run(ctx, ff.redisClient,
			[]string{famSession, famDay, campSession, campDay, coolKey},
			sessionTTL.Milliseconds(),
			dayTTL.Milliseconds(),
			ff.cooldownMillis(freq),
		).Err()
	}

	event := &models.DisplayEvent{
		StoreID:        store.ID,
		CampaignID:     campaign.ID,
		TemplateFamily: campaign.TemplateFamily,
	}
	if request.VisitorID != "" {
		event.VisitorID = &request.VisitorID
	}
	if request.SessionID != "" {
		event.SessionID = &request.SessionID
	}
	if request.PageURL != "" {
		event.PageURL = &request.PageURL
	}
	if metadata != nil {
		if metadata.UserAgent != "" {
			event.UserAgent = utils.ToPtr(metadata.UserAgent)
		}
		if metadata.IPAddress != "" {
			event.IP = utils.ToPtr(HashIP(ff.engineCfg.IPHashSalt, metadata.IPAddress))
		}
	}

	if err := ff.displayEventRepo.Save(ctx, event); err != nil {
		return NewBusinessError("DISPLAY_RECORD_FAILED", "Display record failed", err)
	}

	displaysRecordedTotal.Inc()

	return nil
}

// SettingsForStore loads the store's engine settings through a short-lived
// Redis cache. A missing row yields nil settings, meaning no store rules.
func (ff *FrequencyFlowImpl) SettingsForStore(ctx context.Context, store *models.Store) (*models.StoreSettings, error) {
	cacheKey := redisKey(ff.cacheCfg, fmt.Sprintf("%s:%d", utils.SettingsCacheKeyPart, store.ID))

	if cached, err := ff.redisClient.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
		var settings models.StoreSettings
		if err := json.Unmarshal([]byte(cached), &settings); err == nil {
			return &settings, nil
		}
	}

	settings, err := ff.settingsRepo.ByStoreID(ctx, store.ID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, nil
	}

	if payload, err := json.Marshal(settings); err == nil {
		ttl := ff.cacheCfg.DefaultTTL
		if ttl <= 0 {
			ttl = utils.SessionWindowTTL
		}
		_ = ff.redisClient.Set(ctx, cacheKey, payload, ttl).Err()
	}

	return settings, nil
}

func (ff *FrequencyFlowImpl) counterKeys(storeID uint, visitor *VisitorContext, family string, campaignID uint, date string) (string, string, string, string) {
	base := fmt.Sprintf("%s:%d:%s:%s", utils.FrequencyKeyPart, storeID, visitor.VisitorID, family)
	famSession := redisKey(ff.cacheCfg, fmt.Sprintf("%s:s:%s", base, visitor.SessionID))
	famDay := redisKey(ff.cacheCfg, fmt.Sprintf("%s:d:%s", base, date))
	campSession := redisKey(ff.cacheCfg, fmt.Sprintf("%s:c:%d:s:%s", base, campaignID, visitor.SessionID))
	campDay := redisKey(ff.cacheCfg, fmt.Sprintf("%s:c:%d:d:%s", base, campaignID, date))
	return famSession, famDay, campSession, campDay
}

// storeRule resolves the store-level rule for a family, falling back to the
// global rule when the family has none.
func (ff *FrequencyFlowImpl) storeRule(freq models.FrequencySettings, family models.TemplateFamily) *models.FrequencyRule {
	if rule := freq.FamilyRule(family); rule != nil {
		return rule
	}
	return freq.Global
}

func (ff *FrequencyFlowImpl) cooldownMillis(freq models.FrequencySettings) int64 {
	if freq.CooldownSeconds != nil {
		return int64(*freq.CooldownSeconds) * 1000
	}
	return ff.engineCfg.CooldownDefault.Milliseconds()
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return 0
	}
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}
