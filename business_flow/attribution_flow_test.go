package businessflow

import (
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrderCodes(t *testing.T) {
	payload := &dto.OrderCreatePayload{
		DiscountCodes: []dto.OrderDiscountCode{
			{Code: " spin-abc123 "},
			{Code: "SPIN-ABC123"},
			{Code: ""},
			{Code: "welcome10"},
		},
	}
	assert.Equal(t, []string{"SPIN-ABC123", "WELCOME10"}, normalizeOrderCodes(payload))
}

func TestParsePriceCents(t *testing.T) {
	assert.Equal(t, int64(7500), parsePriceCents("75.00"))
	assert.Equal(t, int64(7549), parsePriceCents("75.49"))
	assert.Equal(t, int64(0), parsePriceCents(""))
	assert.Equal(t, int64(0), parsePriceCents("not a price"))
	assert.Equal(t, int64(100), parsePriceCents(" 1.00 "))
}

func TestOrderEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", orderEmail(&dto.OrderCreatePayload{Email: " A@B.com "}))
	assert.Equal(t, "c@d.com", orderEmail(&dto.OrderCreatePayload{
		Customer: &dto.OrderCustomer{Email: "C@D.com"},
	}))
	assert.Equal(t, "", orderEmail(&dto.OrderCreatePayload{}))
}

func TestAttributionFlow(t *testing.T) {
	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	defer func() { _ = testDB.TeardownTestDB() }()

	ctx := testingutil.CreateTestContext()
	fixtures := testingutil.NewTestFixtures(testDB)

	conversionRepo := repository.NewConversionRepository(testDB.DB)
	af := NewAttributionFlow(
		repository.NewCampaignRepository(testDB.DB),
		repository.NewLeadRepository(testDB.DB),
		conversionRepo,
		repository.NewAuditLogRepository(testDB.DB),
		testEngineCfg(),
	)

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	metadata := &ClientMetadata{IPAddress: "203.0.113.5", UserAgent: "Shopify-Captain-Hook"}

	conversionsFor := func(t *testing.T, orderID int64) []models.CampaignConversion {
		t.Helper()
		var rows []models.CampaignConversion
		require.NoError(t, testDB.DB.
			Where("store_id = ? AND order_id = ?", store.ID, orderID).
			Find(&rows).Error)
		return rows
	}

	giveLeadCode := func(t *testing.T, lead *models.Lead, code string) {
		t.Helper()
		require.NoError(t, testDB.DB.Model(lead).Update("discount_code", code).Error)
	}

	t.Run("issued code attributes to the lead", func(t *testing.T) {
		lead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "")
		require.NoError(t, err)
		giveLeadCode(t, lead, "TESTAAA111")

		payload := &dto.OrderCreatePayload{
			ID:            1001,
			DiscountCodes: []dto.OrderDiscountCode{{Code: "testaaa111"}},
			TotalPrice:    "49.99",
			Currency:      "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		rows := conversionsFor(t, 1001)
		require.Len(t, rows, 1)
		assert.Equal(t, campaign.ID, rows[0].CampaignID)
		require.NotNil(t, rows[0].LeadID)
		assert.Equal(t, lead.ID, *rows[0].LeadID)
		assert.Equal(t, models.ConversionSourceDiscountCode, rows[0].Source)
		assert.Equal(t, int64(4999), rows[0].RevenueCents)
	})

	t.Run("redelivered webhook inserts nothing new", func(t *testing.T) {
		payload := &dto.OrderCreatePayload{
			ID:            1001,
			DiscountCodes: []dto.OrderDiscountCode{{Code: "TESTAAA111"}},
			TotalPrice:    "49.99",
			Currency:      "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		assert.Len(t, conversionsFor(t, 1001), 1)
	})

	t.Run("issued code beats view-through identity", func(t *testing.T) {
		codeLead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "codeholder@example.com")
		require.NoError(t, err)
		giveLeadCode(t, codeLead, "TESTBBB222")

		otherCampaign, err := fixtures.CreateTestCampaign(store.ID)
		require.NoError(t, err)
		viewLead, err := fixtures.CreateTestLead(store.ID, otherCampaign.ID, "buyer@example.com")
		require.NoError(t, err)

		// The buyer is identifiable as the view-through lead, but the
		// order carries the other lead's code.
		payload := &dto.OrderCreatePayload{
			ID:            1002,
			Email:         viewLead.Email,
			DiscountCodes: []dto.OrderDiscountCode{{Code: "TESTBBB222"}},
			TotalPrice:    "20.00",
			Currency:      "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		rows := conversionsFor(t, 1002)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].LeadID)
		assert.Equal(t, codeLead.ID, *rows[0].LeadID)
		assert.Equal(t, models.ConversionSourceDiscountCode, rows[0].Source)
	})

	t.Run("campaign static code matches without a lead", func(t *testing.T) {
		shared, err := fixtures.CreateTestCampaign(store.ID)
		require.NoError(t, err)
		require.NoError(t, testDB.DB.Model(shared).Update("discount", models.DiscountSpec{
			Enabled:    true,
			Mode:       models.DiscountModeShared,
			ValueType:  models.DiscountValuePercentage,
			Amount:     15,
			StaticCode: "FRIENDS15",
			ShowCode:   true,
		}).Error)

		payload := &dto.OrderCreatePayload{
			ID:            1003,
			DiscountCodes: []dto.OrderDiscountCode{{Code: "friends15"}},
			TotalPrice:    "10.00",
			Currency:      "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		rows := conversionsFor(t, 1003)
		require.Len(t, rows, 1)
		assert.Equal(t, shared.ID, rows[0].CampaignID)
		assert.Nil(t, rows[0].LeadID)
		assert.Equal(t, models.ConversionSourceDiscountCode, rows[0].Source)
	})

	t.Run("archived campaign code no longer attributes", func(t *testing.T) {
		retired, err := fixtures.CreateTestCampaign(store.ID)
		require.NoError(t, err)
		require.NoError(t, testDB.DB.Model(retired).Update("discount", models.DiscountSpec{
			Enabled:    true,
			Mode:       models.DiscountModeShared,
			ValueType:  models.DiscountValuePercentage,
			Amount:     20,
			StaticCode: "BYGONE20",
			ShowCode:   true,
		}).Error)
		require.NoError(t, testDB.DB.Model(retired).Update("status", models.CampaignStatusArchived).Error)

		payload := &dto.OrderCreatePayload{
			ID:            1008,
			DiscountCodes: []dto.OrderDiscountCode{{Code: "BYGONE20"}},
			TotalPrice:    "10.00",
			Currency:      "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		assert.Empty(t, conversionsFor(t, 1008))
	})

	t.Run("view-through by email needs a prior lead", func(t *testing.T) {
		lead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "viewer@example.com")
		require.NoError(t, err)

		payload := &dto.OrderCreatePayload{
			ID:         1004,
			Email:      "viewer@example.com",
			TotalPrice: "5.00",
			Currency:   "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		rows := conversionsFor(t, 1004)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].LeadID)
		assert.Equal(t, lead.ID, *rows[0].LeadID)
		assert.Equal(t, models.ConversionSourceViewThrough, rows[0].Source)
	})

	t.Run("view-through lead with a code is labelled as such", func(t *testing.T) {
		lead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "coded.viewer@example.com")
		require.NoError(t, err)
		giveLeadCode(t, lead, "TESTCCC333")

		// The order does not carry the code, only the identity
		payload := &dto.OrderCreatePayload{
			ID:         1005,
			Email:      "coded.viewer@example.com",
			TotalPrice: "5.00",
			Currency:   "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		rows := conversionsFor(t, 1005)
		require.Len(t, rows, 1)
		assert.Equal(t, models.ConversionSourceViewThroughWithCode, rows[0].Source)
	})

	t.Run("identity alone never attributes", func(t *testing.T) {
		payload := &dto.OrderCreatePayload{
			ID:         1006,
			Email:      "stranger@example.com",
			Customer:   &dto.OrderCustomer{ID: 987654, Email: "stranger@example.com"},
			TotalPrice: "99.00",
			Currency:   "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		assert.Empty(t, conversionsFor(t, 1006))
	})

	t.Run("lead outside the lookback window is ignored", func(t *testing.T) {
		lead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "ancient@example.com")
		require.NoError(t, err)
		stale := time.Now().UTC().AddDate(0, 0, -120)
		require.NoError(t, testDB.DB.Model(lead).UpdateColumn("created_at", stale).Error)

		payload := &dto.OrderCreatePayload{
			ID:         1007,
			Email:      "ancient@example.com",
			TotalPrice: "5.00",
			Currency:   "USD",
		}
		require.NoError(t, af.ProcessOrder(ctx, store, payload, metadata))

		assert.Empty(t, conversionsFor(t, 1007))
	})

	t.Run("payload without an order ID is rejected", func(t *testing.T) {
		err := af.ProcessOrder(ctx, store, &dto.OrderCreatePayload{}, metadata)
		assert.Error(t, err)
	})
}
