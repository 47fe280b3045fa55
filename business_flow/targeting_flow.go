package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/redis/go-redis/v9"
)

// TargetingFlow resolves which campaigns a storefront visitor should be
// offered. Audience membership is a pure lookup against pre-synced rows;
// nothing here calls the host platform on the request path.
type TargetingFlow interface {
	ActiveCampaigns(ctx context.Context, store *models.Store, visitor *VisitorContext, metadata *ClientMetadata) (*dto.ActiveCampaignsResponse, error)
}

// TargetingFlowImpl implements the targeting flow
type TargetingFlowImpl struct {
	campaignRepo  repository.CampaignRepository
	audienceRepo  repository.AudienceMembershipRepository
	frequencyFlow FrequencyFlow
	redisClient   *redis.Client
	cacheCfg      config.CacheConfig
}

// NewTargetingFlow creates a new targeting flow instance
func NewTargetingFlow(
	campaignRepo repository.CampaignRepository,
	audienceRepo repository.AudienceMembershipRepository,
	frequencyFlow FrequencyFlow,
	redisClient *redis.Client,
	cacheCfg config.CacheConfig,
) TargetingFlow {
	return &TargetingFlowImpl{
		campaignRepo:  campaignRepo,
		audienceRepo:  audienceRepo,
		frequencyFlow: frequencyFlow,
		redisClient:   redisClient,
		cacheCfg:      cacheCfg,
	}
}

// ActiveCampaigns returns the campaigns eligible for this visitor ordered
// by priority, highest first. Campaigns that would immediately fail a
// frequency cap are filtered out so the widget never renders a popup the
// display check would then deny.
func (tf *TargetingFlowImpl) ActiveCampaigns(ctx context.Context, store *models.Store, visitor *VisitorContext, metadata *ClientMetadata) (*dto.ActiveCampaignsResponse, error) {
	if store == nil {
		return nil, NewBusinessError("ACTIVE_CAMPAIGNS_FAILED", "Active campaign lookup failed", ErrStoreNotFound)
	}

	campaigns, err := tf.deliverableCampaigns(ctx, store)
	if err != nil {
		return nil, NewBusinessError("ACTIVE_CAMPAIGNS_FAILED", "Active campaign lookup failed", err)
	}

	settings, err := tf.frequencyFlow.SettingsForStore(ctx, store)
	if err != nil {
		settings = nil
	}

	// Order before filtering: the cache only scores by priority, so equal
	// priorities would come back in arbitrary order. Older campaign wins
	// the tie.
	sort.SliceStable(campaigns, func(i, j int) bool {
		if campaigns[i].Priority != campaigns[j].Priority {
			return campaigns[i].Priority > campaigns[j].Priority
		}
		return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt)
	})

	now := utils.UTCNow()
	views := make([]dto.CampaignView, 0, len(campaigns))
	for _, campaign := range campaigns {
		if !campaign.IsActive() || campaign.InPreviewMode() {
			continue
		}
		// The cache refreshes on an interval; re-check the schedule so a
		// campaign whose window closed a minute ago stops serving now.
		if !campaign.ScheduleEligibleAt(now) {
			continue
		}

		eligible, err := tf.audienceEligible(ctx, store, campaign, visitor)
		if err != nil {
			return nil, NewBusinessError("ACTIVE_CAMPAIGNS_FAILED", "Active campaign lookup failed", err)
		}
		if !eligible {
			continue
		}

		allowed, _, err := tf.frequencyFlow.Evaluate(ctx, store, settings, campaign, visitor)
		if err != nil || !allowed {
			continue
		}

		views = append(views, dto.CampaignView{
			UUID:             campaign.UUID.String(),
			Name:             campaign.Name,
			TemplateFamily:   campaign.TemplateFamily.String(),
			Priority:         campaign.Priority,
			ClientTriggers:   campaign.Trigger.ClientTriggers,
			ShowDiscountCode: campaign.Discount.Enabled && campaign.Discount.ShowCode,
		})
	}

	return &dto.ActiveCampaignsResponse{Campaigns: views}, nil
}

// deliverableCampaigns reads the warmed campaign cache, falling back to
// the database when the cache is cold or unavailable.
func (tf *TargetingFlowImpl) deliverableCampaigns(ctx context.Context, store *models.Store) ([]*models.Campaign, error) {
	cacheKey := redisKey(tf.cacheCfg, fmt.Sprintf("%s:%d", utils.CampaignCacheKeyPart, store.ID))

	members, err := tf.redisClient.ZRevRange(ctx, cacheKey, 0, -1).Result()
	if err == nil && len(members) > 0 {
		campaigns := make([]*models.Campaign, 0, len(members))
		for _, member := range members {
			var campaign models.Campaign
			if err := json.Unmarshal([]byte(member), &campaign); err != nil {
				campaigns = nil
				break
			}
			campaigns = append(campaigns, &campaign)
		}
		if campaigns != nil {
			return campaigns, nil
		}
	}

	return tf.campaignRepo.ListDeliverable(ctx, store.ID)
}

// audienceEligible checks segment membership for audience-gated campaigns.
// A visitor without identity can never match a synced segment, so gated
// campaigns are withheld from them.
func (tf *TargetingFlowImpl) audienceEligible(ctx context.Context, store *models.Store, campaign *models.Campaign, visitor *VisitorContext) (bool, error) {
	if !campaign.Targeting.AudienceEnabled || len(campaign.Targeting.SegmentIDs) == 0 {
		return true, nil
	}
	if visitor == nil || visitor.VisitorID == "" {
		return false, nil
	}

	return tf.audienceRepo.IsMemberOfAny(ctx, store.ID, visitor.VisitorID, campaign.Targeting.SegmentIDs)
}
