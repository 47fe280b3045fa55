package businessflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCacheCfg returns a cache config with a unique prefix so concurrent
// test runs never see each other's counters.
func testCacheCfg() config.CacheConfig {
	return config.CacheConfig{
		RedisPrefix: fmt.Sprintf("test:%d:", time.Now().UnixNano()),
		DefaultTTL:  time.Minute,
	}
}

func testEngineCfg() config.EngineConfig {
	return config.EngineConfig{
		SessionWindow: 30 * time.Minute,
		DayWindow:     24 * time.Hour,
		IPHashSalt:    "test-salt",
	}
}

func TestParseCount(t *testing.T) {
	assert.Equal(t, int64(3), parseCount("3"))
	assert.Equal(t, int64(0), parseCount(""))
	assert.Equal(t, int64(0), parseCount(nil))
	assert.Equal(t, int64(0), parseCount("garbage"))
}

func TestStoreRulePrecedence(t *testing.T) {
	ff := &FrequencyFlowImpl{}

	global := &models.FrequencyRule{Enabled: true, MaxPerDay: utils.ToPtr(10)}
	freq := models.FrequencySettings{
		Global: global,
		Families: map[string]models.FrequencyRule{
			"spin_wheel": {Enabled: true, MaxPerDay: utils.ToPtr(1)},
		},
	}

	t.Run("family rule beats global", func(t *testing.T) {
		rule := ff.storeRule(freq, models.TemplateFamilySpinWheel)
		require.NotNil(t, rule)
		assert.Equal(t, 1, *rule.MaxPerDay)
	})

	t.Run("global applies without a family rule", func(t *testing.T) {
		rule := ff.storeRule(freq, models.TemplateFamilyPopup)
		assert.Equal(t, global, rule)
	})

	t.Run("empty settings yield no rule", func(t *testing.T) {
		assert.Nil(t, ff.storeRule(models.FrequencySettings{}, models.TemplateFamilyPopup))
	})
}

func TestCooldownMillis(t *testing.T) {
	ff := &FrequencyFlowImpl{engineCfg: config.EngineConfig{CooldownDefault: 10 * time.Second}}

	assert.Equal(t, int64(10000), ff.cooldownMillis(models.FrequencySettings{}))
	assert.Equal(t, int64(30000), ff.cooldownMillis(models.FrequencySettings{CooldownSeconds: utils.ToPtr(30)}))
	assert.Equal(t, int64(0), ff.cooldownMillis(models.FrequencySettings{CooldownSeconds: utils.ToPtr(0)}))
}

func TestEvaluateCapResolution(t *testing.T) {
	rc := testingutil.SetupTestRedis()
	if rc == nil {
		t.Skip("test Redis not available")
	}
	defer rc.Close()

	ctx := context.Background()
	cacheCfg := testCacheCfg()
	ff := NewFrequencyFlow(nil, nil, nil, rc, testEngineCfg(), cacheCfg).(*FrequencyFlowImpl)

	store := &models.Store{ID: 1, Timezone: "UTC"}
	visitor := &VisitorContext{VisitorID: "vis-1", SessionID: "sess-1"}

	setCounters := func(t *testing.T, campaign *models.Campaign, famSession, famDay, campSession, campDay int) {
		t.Helper()
		date := storeLocalDate(store.Timezone, utils.UTCNow())
		fsKey, fdKey, csKey, cdKey := ff.counterKeys(store.ID, visitor, campaign.TemplateFamily.String(), campaign.ID, date)
		require.NoError(t, rc.Set(ctx, fsKey, famSession, time.Minute).Err())
		require.NoError(t, rc.Set(ctx, fdKey, famDay, time.Minute).Err())
		require.NoError(t, rc.Set(ctx, csKey, campSession, time.Minute).Err())
		require.NoError(t, rc.Set(ctx, cdKey, campDay, time.Minute).Err())
	}

	globalSettings := &models.StoreSettings{
		Frequency: models.FrequencySettings{
			Global: &models.FrequencyRule{
				Enabled:       true,
				MaxPerSession: utils.ToPtr(2),
				MaxPerDay:     utils.ToPtr(5),
			},
		},
	}

	t.Run("visitor without identity always passes", func(t *testing.T) {
		campaign := &models.Campaign{ID: 10, TemplateFamily: models.TemplateFamilyPopup}
		allowed, reason, err := ff.Evaluate(ctx, store, globalSettings, campaign, &VisitorContext{})
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Empty(t, reason)
	})

	t.Run("preview campaign bypasses caps", func(t *testing.T) {
		campaign := &models.Campaign{ID: 11, TemplateFamily: models.TemplateFamilyPopup, IsPreview: utils.ToPtr(true)}
		setCounters(t, campaign, 99, 99, 99, 99)
		allowed, _, err := ff.Evaluate(ctx, store, globalSettings, campaign, visitor)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("campaign session cap denies with its own reason", func(t *testing.T) {
		campaign := &models.Campaign{
			ID:             12,
			TemplateFamily: models.TemplateFamilyPopup,
			Trigger:        models.TriggerSpec{MaxPerSession: utils.ToPtr(1)},
		}
		setCounters(t, campaign, 0, 0, 1, 1)
		allowed, reason, err := ff.Evaluate(ctx, store, nil, campaign, visitor)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, dto.DenyReasonCampaignSessionLimit, reason)
	})

	t.Run("campaign day cap denies with its own reason", func(t *testing.T) {
		campaign := &models.Campaign{
			ID:             13,
			TemplateFamily: models.TemplateFamilyPopup,
			Trigger:        models.TriggerSpec{MaxPerDay: utils.ToPtr(3)},
		}
		setCounters(t, campaign, 0, 0, 0, 3)
		allowed, reason, err := ff.Evaluate(ctx, store, nil, campaign, visitor)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, dto.DenyReasonCampaignDayLimit, reason)
	})

	t.Run("own caps without opt-in skip store rules", func(t *testing.T) {
		campaign := &models.Campaign{
			ID:             14,
			TemplateFamily: models.TemplateFamilyPopup,
			Trigger: models.TriggerSpec{
				MaxPerSession:       utils.ToPtr(10),
				RespectGlobalLimits: false,
			},
		}
		// Family counters breach the global rule but the campaign did not
		// opt in, so its own generous cap decides.
		setCounters(t, campaign, 5, 9, 1, 1)
		allowed, _, err := ff.Evaluate(ctx, store, globalSettings, campaign, visitor)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("own caps with opt-in still hit store rules", func(t *testing.T) {
		campaign := &models.Campaign{
			ID:             15,
			TemplateFamily: models.TemplateFamilyPopup,
			Trigger: models.TriggerSpec{
				MaxPerSession:       utils.ToPtr(10),
				RespectGlobalLimits: true,
			},
		}
		setCounters(t, campaign, 2, 2, 1, 1)
		allowed, reason, err := ff.Evaluate(ctx, store, globalSettings, campaign, visitor)
		require.NoError(t, err)
		assert.False(t, allowed)

		// The store rule denied it, not the campaign's own cap
		assert.Equal(t, dto.DenyReasonGlobalSessionLimit, reason)
	})

	t.Run("family rule beats global for its family", func(t *testing.T) {
		settings := &models.StoreSettings{
			Frequency: models.FrequencySettings{
				Global: &models.FrequencyRule{Enabled: true, MaxPerDay: utils.ToPtr(100)},
				Families: map[string]models.FrequencyRule{
					"spin_wheel": {Enabled: true, MaxPerDay: utils.ToPtr(1)},
				},
			},
		}
		campaign := &models.Campaign{ID: 16, TemplateFamily: models.TemplateFamilySpinWheel}
		setCounters(t, campaign, 0, 1, 0, 1)
		allowed, reason, err := ff.Evaluate(ctx, store, settings, campaign, visitor)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, dto.DenyReasonGlobalDayLimit, reason)
	})

	t.Run("no rules at all always allows", func(t *testing.T) {
		campaign := &models.Campaign{ID: 17, TemplateFamily: models.TemplateFamilyBanner}
		setCounters(t, campaign, 50, 50, 50, 50)
		allowed, _, err := ff.Evaluate(ctx, store, nil, campaign, visitor)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("cooldown marker denies", func(t *testing.T) {
		settings := &models.StoreSettings{
			Frequency: models.FrequencySettings{CooldownSeconds: utils.ToPtr(60)},
		}
		campaign := &models.Campaign{ID: 18, TemplateFamily: models.TemplateFamilyPopup}
		coolKey := redisKey(cacheCfg, fmt.Sprintf("%s:%d:%s:%s", utils.CooldownKeyPart, store.ID, visitor.VisitorID, campaign.TemplateFamily.String()))
		require.NoError(t, rc.Set(ctx, coolKey, "1", time.Minute).Err())

		allowed, reason, err := ff.Evaluate(ctx, store, settings, campaign, visitor)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, dto.DenyReasonCooldown, reason)
	})
}

func TestCheckAndRecordDisplay(t *testing.T) {
	rc := testingutil.SetupTestRedis()
	if rc == nil {
		t.Skip("test Redis not available")
	}
	defer rc.Close()

	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	defer func() { _ = testDB.TeardownTestDB() }()

	ctx := testingutil.CreateTestContext()
	fixtures := testingutil.NewTestFixtures(testDB)

	ff := NewFrequencyFlow(
		repository.NewCampaignRepository(testDB.DB),
		repository.NewStoreSettingsRepository(testDB.DB),
		repository.NewDisplayEventRepository(testDB.DB),
		rc,
		testEngineCfg(),
		testCacheCfg(),
	)

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)

	// The fixture campaign allows one display per session
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	check := &dto.DisplayCheckRequest{
		CampaignUUID: campaign.UUID.String(),
		VisitorID:    "vis-rec",
		SessionID:    "sess-rec",
	}
	record := &dto.DisplayRecordRequest{
		CampaignUUID: campaign.UUID.String(),
		VisitorID:    "vis-rec",
		SessionID:    "sess-rec",
	}
	metadata := &ClientMetadata{IPAddress: "192.0.2.10", UserAgent: "widget/1.0"}

	t.Run("first display allowed, second denied after record", func(t *testing.T) {
		resp, err := ff.CheckDisplay(ctx, store, check, metadata)
		require.NoError(t, err)
		assert.True(t, resp.Allowed)

		require.NoError(t, ff.RecordDisplay(ctx, store, record, metadata))

		resp, err = ff.CheckDisplay(ctx, store, check, metadata)
		require.NoError(t, err)
		assert.False(t, resp.Allowed)
		assert.Equal(t, dto.DenyReasonCampaignSessionLimit, resp.Reason)
		assert.Contains(t, resp.Message, "session limit")
	})

	t.Run("a fresh session is not capped", func(t *testing.T) {
		fresh := &dto.DisplayCheckRequest{
			CampaignUUID: campaign.UUID.String(),
			VisitorID:    "vis-rec",
			SessionID:    "sess-other",
		}
		resp, err := ff.CheckDisplay(ctx, store, fresh, metadata)
		require.NoError(t, err)
		assert.True(t, resp.Allowed)
	})

	t.Run("record writes the analytics row", func(t *testing.T) {
		var count int64
		require.NoError(t, testDB.DB.Model(&models.DisplayEvent{}).
			Where("campaign_id = ?", campaign.ID).Count(&count).Error)
		assert.GreaterOrEqual(t, count, int64(1))
	})

	t.Run("unknown campaign fails", func(t *testing.T) {
		bad := &dto.DisplayCheckRequest{
			CampaignUUID: "00000000-0000-0000-0000-000000000000",
			VisitorID:    "vis-rec",
			SessionID:    "sess-rec",
		}
		_, err := ff.CheckDisplay(ctx, store, bad, metadata)
		assert.Error(t, err)
	})

	t.Run("archived campaign denied as inactive", func(t *testing.T) {
		archived, err := fixtures.CreateTestCampaign(store.ID)
		require.NoError(t, err)
		require.NoError(t, testDB.DB.Model(archived).Update("status", models.CampaignStatusArchived).Error)

		resp, err := ff.CheckDisplay(ctx, store, &dto.DisplayCheckRequest{
			CampaignUUID: archived.UUID.String(),
			VisitorID:    "vis-rec",
			SessionID:    "sess-rec",
		}, metadata)
		require.NoError(t, err)
		assert.False(t, resp.Allowed)
		assert.Equal(t, dto.DenyReasonCampaignInactive, resp.Reason)
	})
}
