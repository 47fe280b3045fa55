package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SettingsFlow handles the store's engine settings: timezone and the
// frequency rules the cap engine resolves against.
type SettingsFlow interface {
	GetSettings(ctx context.Context, merchant *models.Merchant, metadata *ClientMetadata) (*dto.StoreSettingsResponse, error)
	UpdateSettings(ctx context.Context, merchant *models.Merchant, request *dto.UpdateStoreSettingsRequest, metadata *ClientMetadata) (*dto.StoreSettingsResponse, error)
}

// SettingsFlowImpl implements the settings flow
type SettingsFlowImpl struct {
	storeRepo    repository.StoreRepository
	settingsRepo repository.StoreSettingsRepository
	auditRepo    repository.AuditLogRepository
	redisClient  *redis.Client
	cacheCfg     config.CacheConfig
	db           *gorm.DB
}

// NewSettingsFlow creates a new settings flow instance
func NewSettingsFlow(
	storeRepo repository.StoreRepository,
	settingsRepo repository.StoreSettingsRepository,
	auditRepo repository.AuditLogRepository,
	redisClient *redis.Client,
	cacheCfg config.CacheConfig,
	db *gorm.DB,
) SettingsFlow {
	return &SettingsFlowImpl{
		storeRepo:    storeRepo,
		settingsRepo: settingsRepo,
		auditRepo:    auditRepo,
		redisClient:  redisClient,
		cacheCfg:     cacheCfg,
		db:           db,
	}
}

// GetSettings returns the store's current engine settings. A store that
// never saved settings gets an empty frequency block, meaning campaign
// trigger caps are the only limits in force.
func (sf *SettingsFlowImpl) GetSettings(ctx context.Context, merchant *models.Merchant, metadata *ClientMetadata) (*dto.StoreSettingsResponse, error) {
	if merchant == nil {
		return nil, NewBusinessError("SETTINGS_FETCH_FAILED", "Settings fetch failed", ErrMerchantNotFound)
	}

	store, err := sf.storeRepo.ByID(ctx, merchant.StoreID)
	if err != nil {
		return nil, NewBusinessError("SETTINGS_FETCH_FAILED", "Settings fetch failed", err)
	}
	if store == nil {
		return nil, NewBusinessError("SETTINGS_FETCH_FAILED", "Settings fetch failed", ErrStoreNotFound)
	}

	settings, err := sf.settingsRepo.ByStoreID(ctx, store.ID)
	if err != nil {
		return nil, NewBusinessError("SETTINGS_FETCH_FAILED", "Settings fetch failed", err)
	}

	return toSettingsResponse(store, settings), nil
}

// UpdateSettings validates and persists the store's settings, then drops
// the cached copy so the storefront path sees the change promptly.
func (sf *SettingsFlowImpl) UpdateSettings(ctx context.Context, merchant *models.Merchant, request *dto.UpdateStoreSettingsRequest, metadata *ClientMetadata) (*dto.StoreSettingsResponse, error) {
	if merchant == nil {
		return nil, NewBusinessError("SETTINGS_UPDATE_FAILED", "Settings update failed", ErrMerchantNotFound)
	}
	if request == nil {
		return nil, NewBusinessError("SETTINGS_UPDATE_VALIDATION_FAILED", "Settings update validation failed", ErrInvalidInput)
	}

	if err := sf.validateUpdateRequest(request); err != nil {
		return nil, NewBusinessError("SETTINGS_UPDATE_VALIDATION_FAILED", "Settings update validation failed", err)
	}

	var store *models.Store

	resp, err := sf.WithSettingsTransaction(ctx, func(ctx context.Context) (*dto.StoreSettingsResponse, error) {
		var err error
		store, err = sf.storeRepo.ByID(ctx, merchant.StoreID)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, ErrStoreNotFound
		}

		if request.Timezone != nil && *request.Timezone != store.Timezone {
			updated := *store
			updated.Timezone = *request.Timezone
			if err := sf.storeRepo.Update(ctx, updated); err != nil {
				return nil, err
			}
			store = &updated
		}

		settings, err := sf.settingsRepo.ByStoreID(ctx, store.ID)
		if err != nil {
			return nil, err
		}
		if settings == nil {
			settings = &models.StoreSettings{StoreID: store.ID}
		}

		if request.Frequency != nil {
			settings.Frequency = fromFrequencyDTO(*request.Frequency)
		}

		if err := sf.settingsRepo.Upsert(ctx, settings); err != nil {
			return nil, err
		}

		return toSettingsResponse(store, settings), nil
	})

	if err != nil {
		errMsg := fmt.Sprintf("Settings update failed: %s", err.Error())
		sf.logSettingsUpdate(ctx, merchant, errMsg, false, &errMsg, metadata)
		return nil, NewBusinessError("SETTINGS_UPDATE_FAILED", "Settings update failed", err)
	}

	sf.invalidateSettingsCache(ctx, merchant.StoreID)

	msg := fmt.Sprintf("Settings updated for store %d", merchant.StoreID)
	sf.logSettingsUpdate(ctx, merchant, msg, true, nil, metadata)

	return resp, nil
}

func (sf *SettingsFlowImpl) validateUpdateRequest(request *dto.UpdateStoreSettingsRequest) error {
	if request.Timezone != nil {
		if _, err := time.LoadLocation(*request.Timezone); err != nil {
			return ErrInvalidTimezone
		}
	}

	if request.Frequency != nil {
		if err := validateFrequencyRule(request.Frequency.Global); err != nil {
			return err
		}
		for family, rule := range request.Frequency.Families {
			if !models.TemplateFamily(family).Valid() {
				return ErrInvalidTemplateFamily
			}
			if err := validateFrequencyRule(rule); err != nil {
				return err
			}
		}
		if request.Frequency.CooldownSeconds < 0 {
			return ErrInvalidFrequencyCap
		}
	}

	return nil
}

func validateFrequencyRule(rule dto.FrequencyRuleDTO) error {
	if rule.MaxPerSession < 0 || rule.MaxPerDay < 0 {
		return ErrInvalidFrequencyCap
	}
	return nil
}

func (sf *SettingsFlowImpl) invalidateSettingsCache(ctx context.Context, storeID uint) {
	key := redisKey(sf.cacheCfg, fmt.Sprintf("%s:%d", utils.SettingsCacheKeyPart, storeID))
	_ = sf.redisClient.Del(ctx, key).Err()
}

func (sf *SettingsFlowImpl) logSettingsUpdate(ctx context.Context, merchant *models.Merchant, description string, success bool, errMsg *string, metadata *ClientMetadata) {
	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		MerchantID:   &merchant.ID,
		StoreID:      &merchant.StoreID,
		Action:       models.AuditActionSettingsUpdated,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errMsg,
		RequestID:    requestIDFromContext(ctx),
	}

	_ = sf.auditRepo.Save(ctx, audit)
}

func (sf *SettingsFlowImpl) WithSettingsTransaction(ctx context.Context, fn func(context.Context) (*dto.StoreSettingsResponse, error)) (*dto.StoreSettingsResponse, error) {
	var result *dto.StoreSettingsResponse
	var fnErr error

	err := repository.WithTransaction(ctx, sf.db, func(ctx context.Context) error {
		result, fnErr = fn(ctx)
		return fnErr
	})

	if err != nil {
		return nil, err
	}
	return result, fnErr
}

func toSettingsResponse(store *models.Store, settings *models.StoreSettings) *dto.StoreSettingsResponse {
	resp := &dto.StoreSettingsResponse{
		StoreUUID: store.UUID.String(),
		Timezone:  store.Timezone,
	}

	if settings != nil {
		resp.Frequency = toFrequencyDTO(settings.Frequency)
		if settings.UpdatedAt != nil {
			resp.UpdatedAt = settings.UpdatedAt.Format(time.RFC3339)
		} else {
			resp.UpdatedAt = settings.CreatedAt.Format(time.RFC3339)
		}
	}

	return resp
}

func toFrequencyDTO(freq models.FrequencySettings) dto.FrequencySettingsDTO {
	out := dto.FrequencySettingsDTO{}

	if freq.Global != nil {
		out.Global = toFrequencyRuleDTO(*freq.Global)
	}
	if len(freq.Families) > 0 {
		out.Families = make(map[string]dto.FrequencyRuleDTO, len(freq.Families))
		for family, rule := range freq.Families {
			out.Families[family] = toFrequencyRuleDTO(rule)
		}
	}
	if freq.CooldownSeconds != nil {
		out.CooldownSeconds = *freq.CooldownSeconds
	}

	return out
}

func toFrequencyRuleDTO(rule models.FrequencyRule) dto.FrequencyRuleDTO {
	out := dto.FrequencyRuleDTO{Enabled: rule.Enabled}
	if rule.MaxPerSession != nil {
		out.MaxPerSession = *rule.MaxPerSession
	}
	if rule.MaxPerDay != nil {
		out.MaxPerDay = *rule.MaxPerDay
	}
	return out
}

func fromFrequencyDTO(in dto.FrequencySettingsDTO) models.FrequencySettings {
	out := models.FrequencySettings{}

	global := fromFrequencyRuleDTO(in.Global)
	out.Global = &global

	if len(in.Families) > 0 {
		out.Families = make(map[string]models.FrequencyRule, len(in.Families))
		for family, rule := range in.Families {
			out.Families[family] = fromFrequencyRuleDTO(rule)
		}
	}

	out.CooldownSeconds = utils.ToPtr(in.CooldownSeconds)

	return out
}

func fromFrequencyRuleDTO(in dto.FrequencyRuleDTO) models.FrequencyRule {
	return models.FrequencyRule{
		Enabled:       in.Enabled,
		MaxPerSession: utils.ToPtr(in.MaxPerSession),
		MaxPerDay:     utils.ToPtr(in.MaxPerDay),
	}
}
