package businessflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/app/services"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdminClient stands in for the Shopify admin API so issuance
// outcomes can be forced per test.
type stubAdminClient struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (s *stubAdminClient) CreateDiscountCode(ctx context.Context, creds services.ShopifyCredentials, in services.DiscountCodeInput) (*services.DiscountCodeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, errors.New("admin api unavailable")
	}
	return &services.DiscountCodeResult{Code: in.Code, PriceRuleID: 1, CodeID: 1}, nil
}

func (s *stubAdminClient) ListSegmentMembers(ctx context.Context, creds services.ShopifyCredentials, segmentID string) ([]services.SegmentMember, error) {
	return nil, nil
}

func (s *stubAdminClient) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *stubAdminClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestLeadFlowSubmit(t *testing.T) {
	rc := testingutil.SetupTestRedis()
	if rc == nil {
		t.Skip("test Redis not available")
	}
	defer rc.Close()

	testDB, fixtures := repoTestSetup(t)
	ctx := testingutil.CreateTestContext()

	engineCfg := testEngineCfg()
	engineCfg.ChallengeTokenTTL = 5 * time.Minute
	cacheCfg := testCacheCfg()

	campaignRepo := repository.NewCampaignRepository(testDB.DB)
	leadRepo := repository.NewLeadRepository(testDB.DB)
	auditRepo := repository.NewAuditLogRepository(testDB.DB)
	rateLimitFlow := NewRateLimitFlow(rc, config.RateLimitsConfig{}, cacheCfg)
	challengeFlow := NewChallengeFlow(campaignRepo, auditRepo, rateLimitFlow, rc, engineCfg, cacheCfg)

	admin := &stubAdminClient{}
	discountFlow := NewDiscountFlow(auditRepo, admin)

	lf := NewLeadFlow(campaignRepo, leadRepo, auditRepo, rateLimitFlow, challengeFlow, discountFlow, engineCfg, testDB.DB)

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	metadata := &ClientMetadata{IPAddress: "192.0.2.40", UserAgent: "widget/1.0"}

	submit := func(t *testing.T, email, sessionID string) (*dto.LeadSubmitResponse, error) {
		t.Helper()
		challenge, err := challengeFlow.Issue(ctx, store, &dto.ChallengeRequest{
			CampaignUUID: campaign.UUID.String(),
			SessionID:    sessionID,
		}, metadata)
		require.NoError(t, err)

		return lf.SubmitLead(ctx, store, &dto.LeadSubmitRequest{
			CampaignUUID:   campaign.UUID.String(),
			ChallengeToken: challenge.Token,
			Email:          email,
			VisitorID:      "vis-lead",
			SessionID:      sessionID,
		}, metadata)
	}

	storedLead := func(t *testing.T, email string) *models.Lead {
		t.Helper()
		lead, err := leadRepo.ByCampaignAndEmail(ctx, campaign.ID, email)
		require.NoError(t, err)
		require.NotNil(t, lead)
		return lead
	}

	t.Run("successful submission issues and stores a code", func(t *testing.T) {
		resp, err := submit(t, "happy@example.com", "sess-l1")
		require.NoError(t, err)
		assert.False(t, resp.AlreadySubscribed)
		assert.True(t, resp.ShowDiscountCode)
		require.NotEmpty(t, resp.DiscountCode)
		assert.Contains(t, resp.DiscountCode, "TEST")

		lead := storedLead(t, "happy@example.com")
		require.NotNil(t, lead.DiscountCode)
		assert.Equal(t, resp.DiscountCode, *lead.DiscountCode)
	})

	t.Run("platform outage still captures the lead", func(t *testing.T) {
		admin.setFail(true)

		resp, err := submit(t, "outage@example.com", "sess-l2")
		require.NoError(t, err)
		assert.False(t, resp.AlreadySubscribed)
		assert.Empty(t, resp.DiscountCode)

		lead := storedLead(t, "outage@example.com")
		assert.Nil(t, lead.DiscountCode)
	})

	t.Run("resubmission retries issuance for a codeless lead", func(t *testing.T) {
		admin.setFail(false)

		resp, err := submit(t, "outage@example.com", "sess-l3")
		require.NoError(t, err)
		assert.True(t, resp.AlreadySubscribed)
		require.NotEmpty(t, resp.DiscountCode)

		lead := storedLead(t, "outage@example.com")
		require.NotNil(t, lead.DiscountCode)
		assert.Equal(t, resp.DiscountCode, *lead.DiscountCode)
	})

	t.Run("resubmission with a stored code does not mint again", func(t *testing.T) {
		lead := storedLead(t, "outage@example.com")
		before := admin.callCount()

		resp, err := submit(t, "outage@example.com", "sess-l4")
		require.NoError(t, err)
		assert.True(t, resp.AlreadySubscribed)
		assert.Equal(t, *lead.DiscountCode, resp.DiscountCode)
		assert.Equal(t, before, admin.callCount())
	})

	t.Run("email is normalized before lookup", func(t *testing.T) {
		resp, err := submit(t, "  Happy@Example.COM ", "sess-l5")
		require.NoError(t, err)
		assert.True(t, resp.AlreadySubscribed)
	})

	t.Run("reused token is rejected", func(t *testing.T) {
		challenge, err := challengeFlow.Issue(ctx, store, &dto.ChallengeRequest{
			CampaignUUID: campaign.UUID.String(),
			SessionID:    "sess-l6",
		}, metadata)
		require.NoError(t, err)

		req := &dto.LeadSubmitRequest{
			CampaignUUID:   campaign.UUID.String(),
			ChallengeToken: challenge.Token,
			Email:          "replay@example.com",
			SessionID:      "sess-l6",
		}
		_, err = lf.SubmitLead(ctx, store, req, metadata)
		require.NoError(t, err)

		_, err = lf.SubmitLead(ctx, store, req, metadata)
		assert.True(t, IsTokenAlreadyConsumed(err))
	})
}
