package businessflow

import (
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeFlow(t *testing.T) {
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

	engineCfg := testEngineCfg()
	engineCfg.ChallengeTokenTTL = 5 * time.Minute
	cacheCfg := testCacheCfg()

	campaignRepo := repository.NewCampaignRepository(testDB.DB)
	auditRepo := repository.NewAuditLogRepository(testDB.DB)
	rateLimitFlow := NewRateLimitFlow(rc, config.RateLimitsConfig{}, cacheCfg)

	cf := NewChallengeFlow(campaignRepo, auditRepo, rateLimitFlow, rc, engineCfg, cacheCfg)

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	metadata := &ClientMetadata{IPAddress: "192.0.2.20", UserAgent: "widget/1.0"}

	issue := func(t *testing.T, sessionID string) string {
		t.Helper()
		resp, err := cf.Issue(ctx, store, &dto.ChallengeRequest{
			CampaignUUID: campaign.UUID.String(),
			SessionID:    sessionID,
		}, metadata)
		require.NoError(t, err)
		require.Len(t, resp.Token, 64)
		require.Greater(t, resp.ExpiresIn, 0)
		require.WithinDuration(t, time.Now().Add(5*time.Minute), resp.ExpiresAt, 10*time.Second)
		return resp.Token
	}

	t.Run("token consumed exactly once", func(t *testing.T) {
		token := issue(t, "sess-once")

		require.NoError(t, cf.Consume(ctx, store, campaign, token, "sess-once", metadata))

		err := cf.Consume(ctx, store, campaign, token, "sess-once", metadata)
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
	})

	t.Run("concurrent consumption has one winner", func(t *testing.T) {
		token := issue(t, "sess-race")

		const attempts = 10
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func(i int) {
				defer wg.Done()
				errs[i] = cf.Consume(ctx, store, campaign, token, "sess-race", metadata)
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
			}
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("session mismatch leaves the token intact", func(t *testing.T) {
		token := issue(t, "sess-bind")

		err := cf.Consume(ctx, store, campaign, token, "sess-other", metadata)
		assert.ErrorIs(t, err, ErrTokenBindingMismatch)

		// A mismatched claim must not burn the token. The session it was
		// issued to can still redeem it, and only once.
		require.NoError(t, cf.Consume(ctx, store, campaign, token, "sess-bind", metadata))

		err = cf.Consume(ctx, store, campaign, token, "sess-bind", metadata)
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
	})

	t.Run("campaign mismatch leaves the token intact", func(t *testing.T) {
		other, err := fixtures.CreateTestCampaign(store.ID)
		require.NoError(t, err)

		token := issue(t, "sess-camp")
		err = cf.Consume(ctx, store, other, token, "sess-camp", metadata)
		assert.ErrorIs(t, err, ErrTokenBindingMismatch)

		require.NoError(t, cf.Consume(ctx, store, campaign, token, "sess-camp", metadata))
	})

	t.Run("malformed token rejected without a lookup", func(t *testing.T) {
		err := cf.Consume(ctx, store, campaign, "short", "sess", metadata)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("never issued token reads as consumed", func(t *testing.T) {
		fake := make([]byte, 32)
		for i := range fake {
			fake[i] = 'a'
		}
		err := cf.Consume(ctx, store, campaign, string(fake)+string(fake), "sess", metadata)
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
	})

	t.Run("issuance refused for archived campaign", func(t *testing.T) {
		archived, err := fixtures.CreateTestCampaign(store.ID)
		require.NoError(t, err)
		require.NoError(t, testDB.DB.Model(archived).Update("status", models.CampaignStatusArchived).Error)

		_, err = cf.Issue(ctx, store, &dto.ChallengeRequest{
			CampaignUUID: archived.UUID.String(),
			SessionID:    "sess-arch",
		}, metadata)
		assert.Error(t, err)
	})
}
