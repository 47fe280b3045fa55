package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	businessflow "github.com/amirphl/Nurikabe/business_flow"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":123}`)

	assert.True(t, verifyWebhookSignature(secret, body, signBody(secret, body)))
	assert.False(t, verifyWebhookSignature(secret, body, signBody("other-secret", body)))
	assert.False(t, verifyWebhookSignature(secret, []byte(`{"id":124}`), signBody(secret, body)))
	assert.False(t, verifyWebhookSignature(secret, body, "not base64!!!"))
	assert.False(t, verifyWebhookSignature(secret, body, ""))
	assert.False(t, verifyWebhookSignature("", body, signBody(secret, body)))
}

func TestOrderCreateWebhook(t *testing.T) {
	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	defer func() { _ = testDB.TeardownTestDB() }()

	fixtures := testingutil.NewTestFixtures(testDB)

	store, err := fixtures.CreateTestStore()
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(store.ID)
	require.NoError(t, err)
	lead, err := fixtures.CreateTestLead(store.ID, campaign.ID, "")
	require.NoError(t, err)
	require.NoError(t, testDB.DB.Model(lead).Update("discount_code", "TESTWHK111").Error)

	storeRepo := repository.NewStoreRepository(testDB.DB)
	auditRepo := repository.NewAuditLogRepository(testDB.DB)
	attributionFlow := businessflow.NewAttributionFlow(
		repository.NewCampaignRepository(testDB.DB),
		repository.NewLeadRepository(testDB.DB),
		repository.NewConversionRepository(testDB.DB),
		auditRepo,
		config.EngineConfig{IPHashSalt: "test-salt"},
	)

	handler := NewWebhookHandler(storeRepo, auditRepo, attributionFlow)

	app := fiber.New()
	app.Post("/api/v1/webhooks/orders/create", handler.OrderCreate)

	post := func(t *testing.T, domain, signature string, body []byte) (int, string) {
		t.Helper()
		req := httptest.NewRequest("POST", "/api/v1/webhooks/orders/create", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if domain != "" {
			req.Header.Set(WebhookShopDomainHeader, domain)
		}
		if signature != "" {
			req.Header.Set(WebhookHmacHeader, signature)
		}

		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(payload)
	}

	orderBody := func(orderID int64, code string) []byte {
		payload := map[string]any{
			"id":          orderID,
			"total_price": "30.00",
			"currency":    "USD",
		}
		if code != "" {
			payload["discount_codes"] = []map[string]string{{"code": code}}
		}
		body, _ := json.Marshal(payload)
		return body
	}

	t.Run("valid signature attributes and acks", func(t *testing.T) {
		body := orderBody(2001, "TESTWHK111")
		status, respBody := post(t, store.ShopDomain, signBody(store.WebhookSecret, body), body)

		assert.Equal(t, fiber.StatusOK, status)
		assert.Contains(t, respBody, `"ok"`)

		var count int64
		require.NoError(t, testDB.DB.Model(&models.CampaignConversion{}).
			Where("store_id = ? AND order_id = ?", store.ID, int64(2001)).
			Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		body := orderBody(2002, "")
		status, _ := post(t, store.ShopDomain, signBody("wrong-secret", body), body)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		body := orderBody(2003, "")
		status, _ := post(t, store.ShopDomain, "", body)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("unknown shop domain rejected", func(t *testing.T) {
		body := orderBody(2004, "")
		status, _ := post(t, "nobody.myshopify.com", signBody(store.WebhookSecret, body), body)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("signed but malformed payload still acks", func(t *testing.T) {
		body := []byte("{not json")
		status, _ := post(t, store.ShopDomain, signBody(store.WebhookSecret, body), body)
		assert.Equal(t, fiber.StatusOK, status)
	})

	t.Run("signed order with no match still acks", func(t *testing.T) {
		body := orderBody(2005, "")
		status, _ := post(t, store.ShopDomain, signBody(store.WebhookSecret, body), body)
		assert.Equal(t, fiber.StatusOK, status)

		var count int64
		require.NoError(t, testDB.DB.Model(&models.CampaignConversion{}).
			Where("store_id = ? AND order_id = ?", store.ID, int64(2005)).
			Count(&count).Error)
		assert.Equal(t, int64(0), count)
	})
}
