package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CampaignCacheRefresher periodically rebuilds the per-store deliverable
// campaign cache that the storefront targeting path reads. Each store's
// campaigns live in a ZSET scored by priority so readers get them back in
// display order without touching the database.
type CampaignCacheRefresher struct {
	storeRepo    repository.StoreRepository
	campaignRepo repository.CampaignRepository
	redisClient  *redis.Client
	cacheCfg     config.CacheConfig
	schedCfg     config.SchedulerConfig
	logger       *log.Logger
	interval     time.Duration
	instanceID   string
}

func NewCampaignCacheRefresher(
	storeRepo repository.StoreRepository,
	campaignRepo repository.CampaignRepository,
	redisClient *redis.Client,
	cacheCfg config.CacheConfig,
	schedCfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
) *CampaignCacheRefresher {
	interval := schedCfg.CampaignCacheInterval
	if interval <= 0 {
		interval = time.Minute
	}

	r := &CampaignCacheRefresher{
		storeRepo:    storeRepo,
		campaignRepo: campaignRepo,
		redisClient:  redisClient,
		cacheCfg:     cacheCfg,
		schedCfg:     schedCfg,
		interval:     interval,
		instanceID:   uuid.NewString(),
	}

	logger, err := newSchedulerLogger("campaign_cache", logCfg)
	if err != nil {
		r.logger = log.Default()
		r.logger.Printf("campaign_cache: failed to initialize file logger: %v", err)
	} else {
		r.logger = logger
	}

	return r
}

// Start launches the refresh loop in a background goroutine and returns a stop function
func (r *CampaignCacheRefresher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (r *CampaignCacheRefresher) runOnce(ctx context.Context) {
	lockKey := cacheKey(r.cacheCfg, utils.CampaignCacheLockKey)
	acquired, release, err := acquireLock(ctx, r.redisClient, lockKey, r.instanceID, r.schedCfg.LockTTL)
	if err != nil {
		r.logger.Printf("campaign_cache: lock acquisition failed: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer release()

	active := models.StoreStatusActive
	stores, err := r.storeRepo.ByFilter(ctx, models.StoreFilter{Status: &active}, "id ASC", 0, 0)
	if err != nil {
		r.logger.Printf("campaign_cache: list active stores failed: %v", err)
		return
	}

	refreshed := 0
	for _, store := range stores {
		if store == nil {
			continue
		}
		if err := r.refreshStore(ctx, store.ID); err != nil {
			r.logger.Printf("campaign_cache: refresh failed for store id=%d: %v", store.ID, err)
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		r.logger.Printf("campaign_cache: refreshed %d stores", refreshed)
	}
}

// refreshStore replaces the store's cache entry with the current deliverable
// set. The delete and rebuild run in one pipeline so storefront reads never
// observe a half-built ZSET; an empty set just deletes the key and readers
// fall back to the database, which returns the same empty answer.
func (r *CampaignCacheRefresher) refreshStore(ctx context.Context, storeID uint) error {
	campaigns, err := r.campaignRepo.ListDeliverable(ctx, storeID)
	if err != nil {
		return err
	}

	key := cacheKey(r.cacheCfg, fmt.Sprintf("%s:%d", utils.CampaignCacheKeyPart, storeID))

	members := make([]redis.Z, 0, len(campaigns))
	for _, campaign := range campaigns {
		payload, err := json.Marshal(campaign)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{
			Score:  float64(campaign.Priority),
			Member: payload,
		})
	}

	pipe := r.redisClient.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
		// A dead refresher must not serve a frozen campaign set forever
		pipe.Expire(ctx, key, 3*r.interval)
	}
	_, err = pipe.Exec(ctx)
	return err
}
