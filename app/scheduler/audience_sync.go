package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/amirphl/Nurikabe/app/services"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AudienceSyncer periodically pulls segment memberships from the host
// platform into the audience_memberships table so the storefront targeting
// path can answer membership checks with a local lookup. Only segments
// referenced by a store's non-archived campaigns are pulled.
type AudienceSyncer struct {
	storeRepo    repository.StoreRepository
	campaignRepo repository.CampaignRepository
	audienceRepo repository.AudienceMembershipRepository
	auditRepo    repository.AuditLogRepository
	shopify      services.ShopifyAdminClient
	redisClient  *redis.Client
	cacheCfg     config.CacheConfig
	schedCfg     config.SchedulerConfig
	logger       *log.Logger
	interval     time.Duration
	instanceID   string
}

func NewAudienceSyncer(
	storeRepo repository.StoreRepository,
	campaignRepo repository.CampaignRepository,
	audienceRepo repository.AudienceMembershipRepository,
	auditRepo repository.AuditLogRepository,
	shopify services.ShopifyAdminClient,
	redisClient *redis.Client,
	cacheCfg config.CacheConfig,
	schedCfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
) *AudienceSyncer {
	interval := schedCfg.AudienceSyncInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	s := &AudienceSyncer{
		storeRepo:    storeRepo,
		campaignRepo: campaignRepo,
		audienceRepo: audienceRepo,
		auditRepo:    auditRepo,
		shopify:      shopify,
		redisClient:  redisClient,
		cacheCfg:     cacheCfg,
		schedCfg:     schedCfg,
		interval:     interval,
		instanceID:   uuid.NewString(),
	}

	logger, err := newSchedulerLogger("audience_sync", logCfg)
	if err != nil {
		s.logger = log.Default()
		s.logger.Printf("audience_sync: failed to initialize file logger: %v", err)
	} else {
		s.logger = logger
	}

	return s
}

// Start launches the sync loop in a background goroutine and returns a stop function
func (s *AudienceSyncer) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *AudienceSyncer) runOnce(ctx context.Context) {
	lockKey := cacheKey(s.cacheCfg, utils.AudienceSyncLockKey)
	acquired, release, err := acquireLock(ctx, s.redisClient, lockKey, s.instanceID, s.schedCfg.LockTTL)
	if err != nil {
		s.logger.Printf("audience_sync: lock acquisition failed: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer release()

	active := models.StoreStatusActive
	stores, err := s.storeRepo.ByFilter(ctx, models.StoreFilter{Status: &active}, "id ASC", 0, 0)
	if err != nil {
		s.logger.Printf("audience_sync: list active stores failed: %v", err)
		return
	}

	for _, store := range stores {
		if store == nil {
			continue
		}
		if err := s.syncStore(ctx, store); err != nil {
			s.logger.Printf("audience_sync: sync failed for store id=%d: %v", store.ID, err)
		}
	}
}

func (s *AudienceSyncer) syncStore(ctx context.Context, store *models.Store) error {
	segmentIDs, err := s.referencedSegments(ctx, store.ID)
	if err != nil {
		s.logSync(ctx, store, 0, 0, 0, err)
		return err
	}
	if len(segmentIDs) == 0 {
		return nil
	}

	creds := services.ShopifyCredentials{
		ShopDomain:  store.ShopDomain,
		AccessToken: store.AdminAPIToken,
	}

	synced := 0
	memberTotal := 0
	var firstErr error
	for _, segmentID := range segmentIDs {
		members, err := s.shopify.ListSegmentMembers(ctx, creds, segmentID)
		if err != nil {
			// A failed pull keeps the previous membership rows; they age
			// out through the stale purge rather than vanishing mid-sync.
			s.logger.Printf("audience_sync: segment pull failed store id=%d segment=%s: %v", store.ID, segmentID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		visitorIDs := make([]string, 0, len(members))
		for _, member := range members {
			if member.CustomerID == 0 {
				continue
			}
			// The widget reports the platform customer ID as the visitor
			// identity for logged-in shoppers; membership rows share it.
			visitorIDs = append(visitorIDs, strconv.FormatInt(member.CustomerID, 10))
		}

		if err := s.audienceRepo.ReplaceSegment(ctx, store.ID, segmentID, visitorIDs); err != nil {
			s.logger.Printf("audience_sync: replace failed store id=%d segment=%s: %v", store.ID, segmentID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		synced++
		memberTotal += len(visitorIDs)
	}

	purged := int64(0)
	if s.schedCfg.AudienceStaleAfter > 0 {
		cutoff := utils.UTCNow().Add(-s.schedCfg.AudienceStaleAfter)
		purged, err = s.audienceRepo.PurgeStale(ctx, store.ID, cutoff)
		if err != nil {
			s.logger.Printf("audience_sync: stale purge failed store id=%d: %v", store.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.logSync(ctx, store, synced, memberTotal, purged, firstErr)
	if synced > 0 || purged > 0 {
		s.logger.Printf("audience_sync: store id=%d segments=%d members=%d purged=%d", store.ID, synced, memberTotal, purged)
	}
	return firstErr
}

// referencedSegments collects the distinct segment IDs across the store's
// non-archived campaigns. Draft and paused campaigns are included so their
// memberships are already warm when the merchant activates them.
func (s *AudienceSyncer) referencedSegments(ctx context.Context, storeID uint) ([]string, error) {
	campaigns, err := s.campaignRepo.ByStoreID(ctx, storeID, 0, 0)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, campaign := range campaigns {
		if campaign == nil || campaign.Status == models.CampaignStatusArchived {
			continue
		}
		if !campaign.Targeting.AudienceEnabled {
			continue
		}
		for _, segmentID := range campaign.Targeting.SegmentIDs {
			if segmentID == "" {
				continue
			}
			seen[segmentID] = struct{}{}
		}
	}

	segmentIDs := make([]string, 0, len(seen))
	for segmentID := range seen {
		segmentIDs = append(segmentIDs, segmentID)
	}
	sort.Strings(segmentIDs)
	return segmentIDs, nil
}

func (s *AudienceSyncer) logSync(ctx context.Context, store *models.Store, segments, members int, purged int64, syncErr error) {
	description := fmt.Sprintf("Audience sync: %d segments, %d members, %d stale rows purged", segments, members, purged)

	audit := &models.AuditLog{
		StoreID:     &store.ID,
		Action:      models.AuditActionAudienceSynced,
		Description: &description,
		Success:     utils.ToPtr(syncErr == nil),
	}
	if syncErr != nil {
		audit.ErrorMessage = utils.ToPtr(syncErr.Error())
	}

	_ = s.auditRepo.Save(ctx, audit)
}
