// Package businessflow contains the core business logic and use cases for campaign workflows
package businessflow

import (
	"context"
	"fmt"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CampaignFlow handles the dashboard campaign lifecycle: create, update,
// status transitions, and listing. Every mutation drops the store's warmed
// campaign cache so the storefront converges on the next refresh.
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, merchant *models.Merchant, request *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CampaignDTO, error)
	UpdateCampaign(ctx context.Context, merchant *models.Merchant, campaignUUID string, request *dto.UpdateCampaignRequest, metadata *ClientMetadata) (*dto.CampaignDTO, error)
	ChangeStatus(ctx context.Context, merchant *models.Merchant, campaignUUID string, request *dto.ChangeCampaignStatusRequest, metadata *ClientMetadata) (*dto.CampaignDTO, error)
	GetCampaign(ctx context.Context, merchant *models.Merchant, campaignUUID string) (*dto.CampaignDTO, error)
	ListCampaigns(ctx context.Context, merchant *models.Merchant, request *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo repository.CampaignRepository
	auditRepo    repository.AuditLogRepository
	redisClient  *redis.Client
	cacheCfg     config.CacheConfig
	db           *gorm.DB
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	auditRepo repository.AuditLogRepository,
	redisClient *redis.Client,
	cacheCfg config.CacheConfig,
	db *gorm.DB,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo: campaignRepo,
		auditRepo:    auditRepo,
		redisClient:  redisClient,
		cacheCfg:     cacheCfg,
		db:           db,
	}
}

// CreateCampaign creates a campaign in draft status
func (cf *CampaignFlowImpl) CreateCampaign(ctx context.Context, merchant *models.Merchant, request *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CampaignDTO, error) {
	if merchant == nil {
		return nil, NewBusinessError("CAMPAIGN_CREATE_FAILED", "Campaign creation failed", ErrMerchantNotFound)
	}
	if err := validateCreateRequest(request); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATE_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	campaign := &models.Campaign{
		StoreID:        merchant.StoreID,
		Name:           request.Name,
		Status:         models.CampaignStatusDraft,
		TemplateFamily: models.TemplateFamily(request.TemplateFamily),
		Priority:       request.Priority,
		StartAt:        request.StartAt,
		EndAt:          request.EndAt,
		IsPreview:      utils.ToPtr(request.IsPreview),
	}
	if request.Targeting != nil {
		campaign.Targeting = fromTargetingDTO(*request.Targeting)
	}
	if request.Discount != nil {
		campaign.Discount = fromDiscountDTO(*request.Discount)
	}
	if request.Trigger != nil {
		campaign.Trigger = fromTriggerDTO(*request.Trigger)
	}

	if err := campaign.Discount.Validate(); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATE_VALIDATION_FAILED", "Campaign validation failed", ErrInvalidDiscountSpec)
	}

	resp, err := cf.WithCampaignTransaction(ctx, func(ctx context.Context) (*dto.CampaignDTO, error) {
		if err := cf.campaignRepo.Save(ctx, campaign); err != nil {
			return nil, err
		}
		return toCampaignDTO(campaign), nil
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATE_FAILED", "Campaign creation failed", err)
	}

	cf.invalidateCampaignCache(ctx, merchant.StoreID)
	return resp, nil
}

// UpdateCampaign patches a campaign. Archived campaigns are immutable.
func (cf *CampaignFlowImpl) UpdateCampaign(ctx context.Context, merchant *models.Merchant, campaignUUID string, request *dto.UpdateCampaignRequest, metadata *ClientMetadata) (*dto.CampaignDTO, error) {
	if merchant == nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", ErrMerchantNotFound)
	}
	if request == nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_VALIDATION_FAILED", "Campaign validation failed", ErrInvalidInput)
	}

	resp, err := cf.WithCampaignTransaction(ctx, func(ctx context.Context) (*dto.CampaignDTO, error) {
		campaign, err := cf.ownedCampaign(ctx, merchant, campaignUUID)
		if err != nil {
			return nil, err
		}

		if campaign.Status == models.CampaignStatusArchived {
			return nil, ErrCampaignUpdateNotAllowed
		}

		if request.Name != nil {
			if *request.Name == "" {
				return nil, ErrCampaignNameRequired
			}
			campaign.Name = *request.Name
		}
		if request.Priority != nil {
			campaign.Priority = *request.Priority
		}
		if request.StartAt != nil {
			campaign.StartAt = request.StartAt
		}
		if request.EndAt != nil {
			campaign.EndAt = request.EndAt
		}
		if request.IsPreview != nil {
			campaign.IsPreview = request.IsPreview
		}
		if request.Targeting != nil {
			campaign.Targeting = fromTargetingDTO(*request.Targeting)
		}
		if request.Discount != nil {
			campaign.Discount = fromDiscountDTO(*request.Discount)
		}
		if request.Trigger != nil {
			campaign.Trigger = fromTriggerDTO(*request.Trigger)
		}

		if campaign.StartAt != nil && campaign.EndAt != nil && campaign.EndAt.Before(*campaign.StartAt) {
			return nil, ErrCampaignScheduleInvalid
		}
		if err := campaign.Discount.Validate(); err != nil {
			return nil, ErrInvalidDiscountSpec
		}

		if err := cf.campaignRepo.Update(ctx, *campaign); err != nil {
			return nil, err
		}
		return toCampaignDTO(campaign), nil
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", err)
	}

	cf.invalidateCampaignCache(ctx, merchant.StoreID)
	return resp, nil
}

// ChangeStatus moves a campaign through its lifecycle
func (cf *CampaignFlowImpl) ChangeStatus(ctx context.Context, merchant *models.Merchant, campaignUUID string, request *dto.ChangeCampaignStatusRequest, metadata *ClientMetadata) (*dto.CampaignDTO, error) {
	if merchant == nil {
		return nil, NewBusinessError("CAMPAIGN_STATUS_FAILED", "Campaign status change failed", ErrMerchantNotFound)
	}
	if request == nil || !models.CampaignStatus(request.Status).Valid() {
		return nil, NewBusinessError("CAMPAIGN_STATUS_VALIDATION_FAILED", "Campaign validation failed", ErrInvalidStatusTransition)
	}

	newStatus := models.CampaignStatus(request.Status)
	var campaign *models.Campaign

	resp, err := cf.WithCampaignTransaction(ctx, func(ctx context.Context) (*dto.CampaignDTO, error) {
		var err error
		campaign, err = cf.ownedCampaign(ctx, merchant, campaignUUID)
		if err != nil {
			return nil, err
		}

		if !campaign.CanTransitionTo(newStatus) {
			return nil, ErrInvalidStatusTransition
		}

		// Activating a campaign whose window already closed would create a
		// popup that can never serve.
		if newStatus == models.CampaignStatusActive &&
			campaign.EndAt != nil && campaign.EndAt.Before(utils.UTCNow()) {
			return nil, ErrCampaignScheduleExpired
		}

		if err := cf.campaignRepo.UpdateStatus(ctx, campaign.ID, newStatus); err != nil {
			return nil, err
		}

		campaign.Status = newStatus
		return toCampaignDTO(campaign), nil
	})

	if err != nil {
		errMsg := fmt.Sprintf("Campaign status change failed: %s", err.Error())
		cf.logStatusChange(ctx, merchant, campaign, string(newStatus), false, &errMsg, metadata)
		return nil, NewBusinessError("CAMPAIGN_STATUS_FAILED", "Campaign status change failed", err)
	}

	cf.logStatusChange(ctx, merchant, campaign, string(newStatus), true, nil, metadata)
	cf.invalidateCampaignCache(ctx, merchant.StoreID)
	return resp, nil
}

// GetCampaign returns one campaign owned by the merchant's store
func (cf *CampaignFlowImpl) GetCampaign(ctx context.Context, merchant *models.Merchant, campaignUUID string) (*dto.CampaignDTO, error) {
	if merchant == nil {
		return nil, NewBusinessError("CAMPAIGN_FETCH_FAILED", "Campaign fetch failed", ErrMerchantNotFound)
	}

	campaign, err := cf.ownedCampaign(ctx, merchant, campaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_FETCH_FAILED", "Campaign fetch failed", err)
	}

	return toCampaignDTO(campaign), nil
}

// ListCampaigns returns the store's campaigns, newest first
func (cf *CampaignFlowImpl) ListCampaigns(ctx context.Context, merchant *models.Merchant, request *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	if merchant == nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Campaign list failed", ErrMerchantNotFound)
	}

	page := 1
	pageSize := 20
	if request != nil {
		if request.Page > 0 {
			page = request.Page
		}
		if request.PageSize > 0 {
			pageSize = request.PageSize
		}
	}

	filter := models.CampaignFilter{StoreID: &merchant.StoreID}
	if request != nil && request.Status != "" {
		filter.Status = utils.ToPtr(models.CampaignStatus(request.Status))
	}
	if request != nil && request.TemplateFamily != "" {
		filter.TemplateFamily = utils.ToPtr(models.TemplateFamily(request.TemplateFamily))
	}

	total, err := cf.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Campaign list failed", err)
	}

	campaigns, err := cf.campaignRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Campaign list failed", err)
	}

	items := make([]dto.CampaignDTO, 0, len(campaigns))
	for _, campaign := range campaigns {
		items = append(items, *toCampaignDTO(campaign))
	}

	return &dto.ListCampaignsResponse{
		Campaigns: items,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
	}, nil
}

// ownedCampaign loads a campaign and enforces store ownership
func (cf *CampaignFlowImpl) ownedCampaign(ctx context.Context, merchant *models.Merchant, campaignUUID string) (*models.Campaign, error) {
	campaign, err := cf.campaignRepo.ByUUID(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.StoreID != merchant.StoreID {
		return nil, ErrCampaignAccessDenied
	}
	return campaign, nil
}

func (cf *CampaignFlowImpl) invalidateCampaignCache(ctx context.Context, storeID uint) {
	key := redisKey(cf.cacheCfg, fmt.Sprintf("%s:%d", utils.CampaignCacheKeyPart, storeID))
	_ = cf.redisClient.Del(ctx, key).Err()
}

func (cf *CampaignFlowImpl) logStatusChange(ctx context.Context, merchant *models.Merchant, campaign *models.Campaign, newStatus string, success bool, errMsg *string, metadata *ClientMetadata) {
	description := fmt.Sprintf("Campaign status change to %s", newStatus)
	if campaign != nil {
		description = fmt.Sprintf("Campaign %d status change to %s", campaign.ID, newStatus)
	}

	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		MerchantID:   &merchant.ID,
		StoreID:      &merchant.StoreID,
		Action:       models.AuditActionCampaignStatusChanged,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errMsg,
		RequestID:    requestIDFromContext(ctx),
	}

	_ = cf.auditRepo.Save(ctx, audit)
}

func (cf *CampaignFlowImpl) WithCampaignTransaction(ctx context.Context, fn func(context.Context) (*dto.CampaignDTO, error)) (*dto.CampaignDTO, error) {
	var result *dto.CampaignDTO
	var fnErr error

	err := repository.WithTransaction(ctx, cf.db, func(ctx context.Context) error {
		result, fnErr = fn(ctx)
		return fnErr
	})

	if err != nil {
		return nil, err
	}
	return result, fnErr
}

func validateCreateRequest(request *dto.CreateCampaignRequest) error {
	if request == nil || request.Name == "" {
		return ErrCampaignNameRequired
	}
	if !models.TemplateFamily(request.TemplateFamily).Valid() {
		return ErrInvalidTemplateFamily
	}
	if request.StartAt != nil && request.EndAt != nil && request.EndAt.Before(*request.StartAt) {
		return ErrCampaignScheduleInvalid
	}
	return nil
}

func fromTargetingDTO(in dto.TargetingSpecDTO) models.TargetingSpec {
	return models.TargetingSpec{
		AudienceEnabled: in.AudienceEnabled,
		SegmentIDs:      in.SegmentIDs,
	}
}

func fromTriggerDTO(in dto.TriggerSpecDTO) models.TriggerSpec {
	return models.TriggerSpec{
		MaxPerSession:       in.MaxPerSession,
		MaxPerDay:           in.MaxPerDay,
		RespectGlobalLimits: in.RespectGlobalLimits,
		ClientTriggers:      in.ClientTriggers,
	}
}

func fromDiscountDTO(in dto.DiscountSpecDTO) models.DiscountSpec {
	spec := models.DiscountSpec{
		Enabled:    in.Enabled,
		Mode:       models.DiscountMode(in.Mode),
		ValueType:  models.DiscountValueType(in.ValueType),
		Amount:     in.Value,
		StaticCode: in.StaticCode,
		CodePrefix: in.CodePrefix,
		EmailLock:  in.EmailLock,
		ShowCode:   in.ShowCode,
	}
	for _, tier := range in.Tiers {
		spec.Tiers = append(spec.Tiers, models.DiscountTier{
			MinSubtotalCents: tier.MinSubtotalCents,
			ValueType:        models.DiscountValueType(tier.ValueType),
			Value:            tier.Value,
		})
	}
	return spec
}

func toCampaignDTO(campaign *models.Campaign) *dto.CampaignDTO {
	out := &dto.CampaignDTO{
		ID:             campaign.ID,
		UUID:           campaign.UUID.String(),
		Name:           campaign.Name,
		Status:         campaign.Status.String(),
		TemplateFamily: campaign.TemplateFamily.String(),
		Priority:       campaign.Priority,
		StartAt:        campaign.StartAt,
		EndAt:          campaign.EndAt,
		IsPreview:      campaign.InPreviewMode(),
		Targeting: dto.TargetingSpecDTO{
			AudienceEnabled: campaign.Targeting.AudienceEnabled,
			SegmentIDs:      campaign.Targeting.SegmentIDs,
		},
		Trigger: dto.TriggerSpecDTO{
			MaxPerSession:       campaign.Trigger.MaxPerSession,
			MaxPerDay:           campaign.Trigger.MaxPerDay,
			RespectGlobalLimits: campaign.Trigger.RespectGlobalLimits,
			ClientTriggers:      campaign.Trigger.ClientTriggers,
		},
		CreatedAt: campaign.CreatedAt,
		UpdatedAt: campaign.UpdatedAt,
	}

	spec := campaign.Discount
	out.Discount = dto.DiscountSpecDTO{
		Enabled:    spec.Enabled,
		Mode:       string(spec.Mode),
		ValueType:  string(spec.ValueType),
		Value:      spec.Amount,
		StaticCode: spec.StaticCode,
		CodePrefix: spec.CodePrefix,
		EmailLock:  spec.EmailLock,
		ShowCode:   spec.ShowCode,
	}
	for _, tier := range spec.Tiers {
		out.Discount.Tiers = append(out.Discount.Tiers, dto.DiscountTierDTO{
			MinSubtotalCents: tier.MinSubtotalCents,
			ValueType:        string(tier.ValueType),
			Value:            tier.Value,
		})
	}

	return out
}
