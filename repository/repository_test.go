package repository

import (
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/models"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRepoTest provisions a scratch database or skips the test when none
// is reachable.
func setupRepoTest(t *testing.T) (*testingutil.TestDB, *testingutil.TestFixtures) {
	t.Helper()
	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	t.Cleanup(func() { _ = testDB.TeardownTestDB() })
	return testDB, testingutil.NewTestFixtures(testDB)
}

func TestStoreRepository(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewStoreRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)

	t.Run("ByShopDomain", func(t *testing.T) {
		found, err := repo.ByShopDomain(ctx, store.ShopDomain)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, store.ID, found.ID)
	})

	t.Run("ByShopDomain unknown", func(t *testing.T) {
		found, err := repo.ByShopDomain(ctx, "nobody.myshopify.com")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("ByStorefrontKey", func(t *testing.T) {
		found, err := repo.ByStorefrontKey(ctx, store.StorefrontKey)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, store.ID, found.ID)
	})

	t.Run("ByUUID", func(t *testing.T) {
		found, err := repo.ByUUID(ctx, store.UUID.String())
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, store.ShopDomain, found.ShopDomain)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, store.ID, models.StoreStatusUninstalled))

		found, err := repo.ByID(ctx, store.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, models.StoreStatusUninstalled, found.Status)

		active := models.StoreStatusActive
		stores, err := repo.ByFilter(ctx, models.StoreFilter{Status: &active}, "id ASC", 0, 0)
		require.NoError(t, err)
		for _, s := range stores {
			assert.NotEqual(t, store.ID, s.ID)
		}
	})
}

func TestCampaignRepositoryListDeliverable(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewCampaignRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)

	now := utils.UTCNow()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	mk := func(name string, priority int, status models.CampaignStatus, startAt, endAt *time.Time) *models.Campaign {
		campaign := &models.Campaign{
			StoreID:        store.ID,
			Name:           name,
			Status:         status,
			TemplateFamily: models.TemplateFamilyPopup,
			Priority:       priority,
			StartAt:        startAt,
			EndAt:          endAt,
			Targeting:      models.TargetingSpec{},
			Discount:       models.DiscountSpec{},
			Trigger:        models.TriggerSpec{},
		}
		require.NoError(t, testDB.DB.Create(campaign).Error)
		return campaign
	}

	low := mk("low priority", 1, models.CampaignStatusActive, nil, nil)
	high := mk("high priority", 50, models.CampaignStatusActive, &past, &future)
	mk("draft", 99, models.CampaignStatusDraft, nil, nil)
	mk("paused", 99, models.CampaignStatusPaused, nil, nil)
	mk("not started", 99, models.CampaignStatusActive, &future, nil)
	mk("already ended", 99, models.CampaignStatusActive, nil, &past)

	deliverable, err := repo.ListDeliverable(ctx, store.ID)
	require.NoError(t, err)
	require.Len(t, deliverable, 2)
	assert.Equal(t, high.ID, deliverable[0].ID)
	assert.Equal(t, low.ID, deliverable[1].ID)

	t.Run("UpdateStatus removes from deliverable set", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, high.ID, models.CampaignStatusPaused))

		deliverable, err := repo.ListDeliverable(ctx, store.ID)
		require.NoError(t, err)
		require.Len(t, deliverable, 1)
		assert.Equal(t, low.ID, deliverable[0].ID)
	})

	t.Run("CountByStore counts every status", func(t *testing.T) {
		count, err := repo.CountByStore(ctx, store.ID)
		require.NoError(t, err)
		assert.Equal(t, 6, count)
	})
}

func TestLeadRepository(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewLeadRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	lead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "repo.lead@example.com")
	require.NoError(t, err)

	t.Run("AssignDiscountCode only once", func(t *testing.T) {
		assigned, err := repo.AssignDiscountCode(ctx, lead.ID, "TESTXYZ789")
		require.NoError(t, err)
		assert.True(t, assigned)

		assigned, err = repo.AssignDiscountCode(ctx, lead.ID, "TESTOTHER1")
		require.NoError(t, err)
		assert.False(t, assigned)

		found, err := repo.ByID(ctx, lead.ID)
		require.NoError(t, err)
		require.NotNil(t, found.DiscountCode)
		assert.Equal(t, "TESTXYZ789", *found.DiscountCode)
	})

	t.Run("ByStoreAndDiscountCode", func(t *testing.T) {
		found, err := repo.ByStoreAndDiscountCode(ctx, store.ID, "TESTXYZ789")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, lead.ID, found.ID)

		missing, err := repo.ByStoreAndDiscountCode(ctx, store.ID, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("ByCampaignAndEmail is case insensitive", func(t *testing.T) {
		found, err := repo.ByCampaignAndEmail(ctx, campaign.ID, "REPO.LEAD@example.com")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, lead.ID, found.ID)
	})

	t.Run("LatestByCustomerIdentity", func(t *testing.T) {
		since := utils.UTCNow().Add(-time.Hour)
		email := "repo.lead@example.com"

		found, err := repo.LatestByCustomerIdentity(ctx, store.ID, nil, &email, since)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, lead.ID, found.ID)

		// A window that excludes the lead finds nothing
		found, err = repo.LatestByCustomerIdentity(ctx, store.ID, nil, &email, utils.UTCNow())
		require.NoError(t, err)
		assert.Nil(t, found)

		// No identity at all finds nothing
		found, err = repo.LatestByCustomerIdentity(ctx, store.ID, nil, nil, since)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestConversionRepository(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewConversionRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	conversion := &models.CampaignConversion{
		StoreID:       store.ID,
		OrderID:       4001,
		CampaignID:    campaign.ID,
		Source:        models.ConversionSourceDiscountCode,
		DiscountCodes: pq.StringArray{"TESTAAA111"},
		RevenueCents:  2599,
		Currency:      "USD",
	}

	t.Run("SaveIdempotent inserts once", func(t *testing.T) {
		inserted, err := repo.SaveIdempotent(ctx, conversion)
		require.NoError(t, err)
		assert.True(t, inserted)

		duplicate := &models.CampaignConversion{
			StoreID:      store.ID,
			OrderID:      4001,
			CampaignID:   campaign.ID,
			Source:       models.ConversionSourceViewThrough,
			RevenueCents: 9999,
			Currency:     "USD",
		}
		inserted, err = repo.SaveIdempotent(ctx, duplicate)
		require.NoError(t, err)
		assert.False(t, inserted)

		// The first attribution wins
		found, err := repo.ByStoreAndOrder(ctx, store.ID, 4001)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, models.ConversionSourceDiscountCode, found.Source)
		assert.Equal(t, int64(2599), found.RevenueCents)
	})

	t.Run("SummarizeByCampaign", func(t *testing.T) {
		second := &models.CampaignConversion{
			StoreID:      store.ID,
			OrderID:      4002,
			CampaignID:   campaign.ID,
			Source:       models.ConversionSourceDiscountCode,
			RevenueCents: 1000,
			Currency:     "USD",
		}
		inserted, err := repo.SaveIdempotent(ctx, second)
		require.NoError(t, err)
		require.True(t, inserted)

		summaries, err := repo.SummarizeByCampaign(ctx, store.ID, nil, nil)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, campaign.ID, summaries[0].CampaignID)
		assert.Equal(t, int64(2), summaries[0].Conversions)
		assert.Equal(t, int64(3599), summaries[0].RevenueCents)
	})
}

func TestAudienceMembershipRepository(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewAudienceMembershipRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)

	require.NoError(t, repo.ReplaceSegment(ctx, store.ID, "seg-vip", []string{"100", "200", "300"}))
	require.NoError(t, repo.ReplaceSegment(ctx, store.ID, "seg-new", []string{"100"}))

	t.Run("IsMemberOfAny", func(t *testing.T) {
		member, err := repo.IsMemberOfAny(ctx, store.ID, "200", []string{"seg-vip", "seg-new"})
		require.NoError(t, err)
		assert.True(t, member)

		member, err = repo.IsMemberOfAny(ctx, store.ID, "999", []string{"seg-vip", "seg-new"})
		require.NoError(t, err)
		assert.False(t, member)

		member, err = repo.IsMemberOfAny(ctx, store.ID, "200", nil)
		require.NoError(t, err)
		assert.False(t, member)
	})

	t.Run("SegmentsByVisitor", func(t *testing.T) {
		segments, err := repo.SegmentsByVisitor(ctx, store.ID, "100")
		require.NoError(t, err)
		assert.Equal(t, []string{"seg-new", "seg-vip"}, segments)
	})

	t.Run("ReplaceSegment swaps membership", func(t *testing.T) {
		require.NoError(t, repo.ReplaceSegment(ctx, store.ID, "seg-vip", []string{"400"}))

		member, err := repo.IsMemberOfAny(ctx, store.ID, "200", []string{"seg-vip"})
		require.NoError(t, err)
		assert.False(t, member)

		member, err = repo.IsMemberOfAny(ctx, store.ID, "400", []string{"seg-vip"})
		require.NoError(t, err)
		assert.True(t, member)

		// The other segment is untouched
		member, err = repo.IsMemberOfAny(ctx, store.ID, "100", []string{"seg-new"})
		require.NoError(t, err)
		assert.True(t, member)
	})

	t.Run("PurgeStale", func(t *testing.T) {
		stale := utils.UTCNow().Add(-48 * time.Hour)
		require.NoError(t, testDB.DB.Model(&models.AudienceMembership{}).
			Where("store_id = ? AND segment_id = ?", store.ID, "seg-new").
			UpdateColumn("synced_at", stale).Error)

		purged, err := repo.PurgeStale(ctx, store.ID, utils.UTCNow().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		member, err := repo.IsMemberOfAny(ctx, store.ID, "100", []string{"seg-new"})
		require.NoError(t, err)
		assert.False(t, member)
	})
}

func TestStoreSettingsRepository(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewStoreSettingsRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)

	t.Run("missing row reads as nil", func(t *testing.T) {
		settings, err := repo.ByStoreID(ctx, store.ID)
		require.NoError(t, err)
		assert.Nil(t, settings)
	})

	t.Run("Upsert creates then updates", func(t *testing.T) {
		settings := &models.StoreSettings{
			StoreID: store.ID,
			Frequency: models.FrequencySettings{
				Global: &models.FrequencyRule{Enabled: true, MaxPerDay: utils.ToPtr(5)},
			},
		}
		require.NoError(t, repo.Upsert(ctx, settings))

		settings.Frequency.Global.MaxPerDay = utils.ToPtr(2)
		require.NoError(t, repo.Upsert(ctx, settings))

		found, err := repo.ByStoreID(ctx, store.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, 2, *found.Frequency.Global.MaxPerDay)

		var count int64
		require.NoError(t, testDB.DB.Model(&models.StoreSettings{}).
			Where("store_id = ?", store.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestMerchantSessionRepository(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewMerchantSessionRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	merchant, err := fixtures.CreateTestMerchant(store.ID)
	require.NoError(t, err)
	session, err := fixtures.CreateTestSession(merchant.ID)
	require.NoError(t, err)

	t.Run("ByAccessTokenID", func(t *testing.T) {
		found, err := repo.ByAccessTokenID(ctx, session.AccessTokenID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, session.ID, found.ID)
	})

	t.Run("RevokeSession", func(t *testing.T) {
		require.NoError(t, repo.RevokeSession(ctx, session.ID))

		found, err := repo.ByID(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.False(t, utils.IsTrue(found.IsActive))
		assert.NotNil(t, found.RevokedAt)
	})

	t.Run("RevokeAllMerchantSessions", func(t *testing.T) {
		first, err := fixtures.CreateTestSession(merchant.ID)
		require.NoError(t, err)
		second, err := fixtures.CreateTestSession(merchant.ID)
		require.NoError(t, err)

		require.NoError(t, repo.RevokeAllMerchantSessions(ctx, merchant.ID))

		for _, id := range []uint{first.ID, second.ID} {
			found, err := repo.ByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.False(t, utils.IsTrue(found.IsActive))
		}
	})
}

func TestDisplayEventRepository(t *testing.T) {
	testDB, fixtures := setupRepoTest(t)
	repo := NewDisplayEventRepository(testDB.DB)
	ctx := testingutil.CreateTestContext()

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	first, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)
	second, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(ctx, &models.DisplayEvent{
			StoreID:        store.ID,
			CampaignID:     first.ID,
			TemplateFamily: first.TemplateFamily,
		}))
	}
	require.NoError(t, repo.Save(ctx, &models.DisplayEvent{
		StoreID:        store.ID,
		CampaignID:     second.ID,
		TemplateFamily: second.TemplateFamily,
	}))

	counts, err := repo.CountsByCampaign(ctx, store.ID, []uint{first.ID, second.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[first.ID])
	assert.Equal(t, int64(1), counts[second.ID])
}
