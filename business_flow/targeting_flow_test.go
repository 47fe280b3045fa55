package businessflow

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetingFlow(t *testing.T) {
	rc := testingutil.SetupTestRedis()
	if rc == nil {
		t.Skip("test Redis not available")
	}
	defer rc.Close()

	testDB, fixtures := repoTestSetup(t)
	ctx := testingutil.CreateTestContext()
	cacheCfg := testCacheCfg()

	campaignRepo := repository.NewCampaignRepository(testDB.DB)
	audienceRepo := repository.NewAudienceMembershipRepository(testDB.DB)
	frequencyFlow := NewFrequencyFlow(
		campaignRepo,
		repository.NewStoreSettingsRepository(testDB.DB),
		repository.NewDisplayEventRepository(testDB.DB),
		rc,
		testEngineCfg(),
		cacheCfg,
	)
	tf := NewTargetingFlow(campaignRepo, audienceRepo, frequencyFlow, rc, cacheCfg)

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)

	mk := func(name string, priority int, targeting models.TargetingSpec) *models.Campaign {
		campaign := &models.Campaign{
			StoreID:        store.ID,
			Name:           name,
			Status:         models.CampaignStatusActive,
			TemplateFamily: models.TemplateFamilyPopup,
			Priority:       priority,
			Targeting:      targeting,
			Discount:       models.DiscountSpec{Enabled: true, Mode: models.DiscountModeShared, ValueType: models.DiscountValuePercentage, Amount: 10, StaticCode: "TEN", ShowCode: true},
			Trigger:        models.TriggerSpec{},
		}
		require.NoError(t, testDB.DB.Create(campaign).Error)
		return campaign
	}

	open := mk("open to everyone", 5, models.TargetingSpec{})
	high := mk("high priority open", 50, models.TargetingSpec{})
	mk("vip only", 20, models.TargetingSpec{
		AudienceEnabled: true,
		SegmentIDs:      []string{"seg-vip"},
	})

	require.NoError(t, audienceRepo.ReplaceSegment(ctx, store.ID, "seg-vip", []string{"vip-visitor"}))

	metadata := NewClientMetadata("192.0.2.30", "test-agent")

	names := func(t *testing.T, visitor *VisitorContext) []string {
		t.Helper()
		resp, err := tf.ActiveCampaigns(ctx, store, visitor, metadata)
		require.NoError(t, err)
		out := make([]string, 0, len(resp.Campaigns))
		for _, view := range resp.Campaigns {
			out = append(out, view.Name)
		}
		return out
	}

	t.Run("segment member sees gated campaign in priority order", func(t *testing.T) {
		visitor := &VisitorContext{VisitorID: "vip-visitor", SessionID: "sess-vip"}
		assert.Equal(t, []string{"high priority open", "vip only", "open to everyone"}, names(t, visitor))
	})

	t.Run("non-member does not see gated campaign", func(t *testing.T) {
		visitor := &VisitorContext{VisitorID: "regular-visitor", SessionID: "sess-reg"}
		assert.Equal(t, []string{"high priority open", "open to everyone"}, names(t, visitor))
	})

	t.Run("visitor without identity never matches a segment", func(t *testing.T) {
		assert.Equal(t, []string{"high priority open", "open to everyone"}, names(t, &VisitorContext{}))
	})

	t.Run("show code flag follows the discount spec", func(t *testing.T) {
		resp, err := tf.ActiveCampaigns(ctx, store, &VisitorContext{VisitorID: "v", SessionID: "s"}, metadata)
		require.NoError(t, err)
		for _, view := range resp.Campaigns {
			assert.True(t, view.ShowDiscountCode)
		}
	})

	t.Run("warmed cache serves without the database", func(t *testing.T) {
		// Place only one campaign in the cache; if the flow read the
		// database it would return three.
		payload, err := json.Marshal(open)
		require.NoError(t, err)

		key := redisKey(cacheCfg, fmt.Sprintf("%s:%d", utils.CampaignCacheKeyPart, store.ID))
		require.NoError(t, rc.ZAdd(ctx, key, redis.Z{Score: float64(open.Priority), Member: payload}).Err())
		defer rc.Del(ctx, key)

		visitor := &VisitorContext{VisitorID: "cache-visitor", SessionID: "sess-cache"}
		assert.Equal(t, []string{"open to everyone"}, names(t, visitor))
	})

	t.Run("equal priorities served oldest first from the cache", func(t *testing.T) {
		older := *open
		older.ID = open.ID + 1000
		older.UUID = uuid.New()
		older.Name = "older twin"
		older.Priority = 7
		older.CreatedAt = utils.UTCNow().Add(-48 * time.Hour)

		newer := *open
		newer.ID = open.ID + 1001
		newer.UUID = uuid.New()
		newer.Name = "newer twin"
		newer.Priority = 7
		newer.CreatedAt = utils.UTCNow().Add(-time.Hour)

		olderPayload, err := json.Marshal(&older)
		require.NoError(t, err)
		newerPayload, err := json.Marshal(&newer)
		require.NoError(t, err)

		key := redisKey(cacheCfg, fmt.Sprintf("%s:%d", utils.CampaignCacheKeyPart, store.ID))
		// Insert newest first so unsorted iteration would get it wrong
		require.NoError(t, rc.ZAdd(ctx, key,
			redis.Z{Score: float64(newer.Priority), Member: newerPayload},
			redis.Z{Score: float64(older.Priority), Member: olderPayload},
		).Err())
		defer rc.Del(ctx, key)

		visitor := &VisitorContext{VisitorID: "tie-visitor", SessionID: "sess-tie"}
		assert.Equal(t, []string{"older twin", "newer twin"}, names(t, visitor))
	})

	t.Run("stale cache entry outside its schedule is dropped", func(t *testing.T) {
		closed := *high
		past := utils.UTCNow().Add(-time.Hour)
		closed.EndAt = &past
		payload, err := json.Marshal(&closed)
		require.NoError(t, err)

		key := redisKey(cacheCfg, fmt.Sprintf("%s:%d", utils.CampaignCacheKeyPart, store.ID))
		require.NoError(t, rc.ZAdd(ctx, key, redis.Z{Score: float64(closed.Priority), Member: payload}).Err())
		defer rc.Del(ctx, key)

		visitor := &VisitorContext{VisitorID: "stale-visitor", SessionID: "sess-stale"}
		assert.Empty(t, names(t, visitor))
	})

	t.Run("nil store rejected", func(t *testing.T) {
		_, err := tf.ActiveCampaigns(ctx, nil, &VisitorContext{}, metadata)
		assert.Error(t, err)
	})
}
