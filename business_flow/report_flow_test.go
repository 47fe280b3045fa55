package businessflow

import (
	"bytes"
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseReportRange(t *testing.T) {
	t.Run("nil request has no bounds", func(t *testing.T) {
		from, to, err := parseReportRange(nil)
		require.NoError(t, err)
		assert.Nil(t, from)
		assert.Nil(t, to)
	})

	t.Run("end date becomes exclusive next day", func(t *testing.T) {
		from, to, err := parseReportRange(&dto.CampaignReportRequest{
			StartDate: "2024-06-01",
			EndDate:   "2024-06-30",
		})
		require.NoError(t, err)
		require.NotNil(t, from)
		require.NotNil(t, to)
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *from)
		assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), *to)
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		_, _, err := parseReportRange(&dto.CampaignReportRequest{
			StartDate: "2024-06-30",
			EndDate:   "2024-06-01",
		})
		assert.ErrorIs(t, err, ErrStartDateAfterEndDate)
	})

	t.Run("garbage date rejected", func(t *testing.T) {
		_, _, err := parseReportRange(&dto.CampaignReportRequest{StartDate: "June 1st"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestReportFlow(t *testing.T) {
	testDB, fixtures := repoTestSetup(t)

	ctx := testingutil.CreateTestContext()

	rf := NewReportFlow(
		repository.NewCampaignRepository(testDB.DB),
		repository.NewLeadRepository(testDB.DB),
		repository.NewConversionRepository(testDB.DB),
		repository.NewDisplayEventRepository(testDB.DB),
		repository.NewAuditLogRepository(testDB.DB),
	)

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	merchant, err := fixtures.CreateTestMerchant(store.ID)
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)

	// Two displays, two leads, one conversion with revenue
	displayRepo := repository.NewDisplayEventRepository(testDB.DB)
	for i := 0; i < 2; i++ {
		require.NoError(t, displayRepo.Save(ctx, &models.DisplayEvent{
			StoreID:        store.ID,
			CampaignID:     campaign.ID,
			TemplateFamily: campaign.TemplateFamily,
		}))
	}
	lead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "")
	require.NoError(t, err)
	_, err = fixtures.CreateTestLead(store.ID, campaign.ID, "")
	require.NoError(t, err)

	conversionRepo := repository.NewConversionRepository(testDB.DB)
	inserted, err := conversionRepo.SaveIdempotent(ctx, &models.CampaignConversion{
		StoreID:       store.ID,
		OrderID:       5001,
		CampaignID:    campaign.ID,
		LeadID:        &lead.ID,
		Source:        models.ConversionSourceDiscountCode,
		DiscountCodes: pq.StringArray{"TESTRPT111"},
		RevenueCents:  12050,
		Currency:      "USD",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	t.Run("campaign report aggregates the window", func(t *testing.T) {
		report, err := rf.CampaignReport(ctx, merchant, nil)
		require.NoError(t, err)
		require.Len(t, report.Rows, 1)

		row := report.Rows[0]
		assert.Equal(t, campaign.UUID.String(), row.CampaignUUID)
		assert.Equal(t, int64(2), row.Displays)
		assert.Equal(t, int64(2), row.Leads)
		assert.Equal(t, int64(1), row.Conversions)
		assert.Equal(t, int64(12050), row.RevenueCents)
		assert.InDelta(t, 0.5, row.ConversionRate, 0.0001)
	})

	t.Run("export produces a readable workbook", func(t *testing.T) {
		payload, filename, err := rf.ExportCampaignReport(ctx, merchant, nil, &ClientMetadata{IPAddress: "127.0.0.1"})
		require.NoError(t, err)
		assert.Contains(t, filename, "campaign-report-")
		assert.Contains(t, filename, ".xlsx")

		xl, err := excelize.OpenReader(bytes.NewReader(payload))
		require.NoError(t, err)
		defer func() { _ = xl.Close() }()

		rows, err := xl.GetRows("Campaign Performance")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, []string{"campaign", "family", "status", "displays", "leads", "conversions", "revenue", "conversion_rate"}, rows[0])
		assert.Equal(t, campaign.Name, rows[1][0])
		assert.Equal(t, "2", rows[1][3])
		assert.Equal(t, "120.5", rows[1][6])
	})

	t.Run("lead listing pages newest first", func(t *testing.T) {
		resp, err := rf.ListLeads(ctx, merchant, &dto.ListLeadsRequest{Page: 1, PageSize: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(2), resp.Total)
		assert.Len(t, resp.Leads, 1)
	})

	t.Run("conversion listing", func(t *testing.T) {
		resp, err := rf.ListConversions(ctx, merchant, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.Total)
		require.Len(t, resp.Conversions, 1)
		assert.Equal(t, int64(5001), resp.Conversions[0].OrderID)
		assert.Equal(t, campaign.UUID.String(), resp.Conversions[0].CampaignUUID)
	})

	t.Run("nil merchant rejected", func(t *testing.T) {
		_, err := rf.CampaignReport(ctx, nil, nil)
		assert.Error(t, err)
	})
}

// repoTestSetup provisions a scratch database or skips the test
func repoTestSetup(t *testing.T) (*testingutil.TestDB, *testingutil.TestFixtures) {
	t.Helper()
	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	t.Cleanup(func() { _ = testDB.TeardownTestDB() })
	return testDB, testingutil.NewTestFixtures(testDB)
}
