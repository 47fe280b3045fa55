// Package testing provides test utilities and database setup for testing the popup engine
package testing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateTestStore creates an active connected store
func (tf *TestFixtures) CreateTestStore() (*models.Store, error) {
	suffix := randomHex(4)
	store := &models.Store{
		ShopDomain:    fmt.Sprintf("test-shop-%s.myshopify.com", suffix),
		StorefrontKey: "sfk_" + randomHex(16),
		Name:          "Test Shop " + suffix,
		Timezone:      "UTC",
		WebhookSecret: randomHex(16),
		AdminAPIToken: "shpat_" + randomHex(16),
		Status:        models.StoreStatusActive,
	}

	if err := tf.DB.DB.Create(store).Error; err != nil {
		return nil, fmt.Errorf("failed to create test store: %w", err)
	}
	return store, nil
}

// CreateTestMerchant creates an active merchant for the given store with
// password "TestPass123!"
func (tf *TestFixtures) CreateTestMerchant(storeID uint) (*models.Merchant, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("TestPass123!"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	merchant := &models.Merchant{
		StoreID:      storeID,
		Email:        fmt.Sprintf("merchant.%s@example.com", randomHex(4)),
		PasswordHash: string(hashedPassword),
		FullName:     "Test Merchant",
		IsActive:     utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(merchant).Error; err != nil {
		return nil, fmt.Errorf("failed to create test merchant: %w", err)
	}
	return merchant, nil
}

// CreateTestCampaign creates an active campaign with no schedule bounds and
// a unique-code percentage discount
func (tf *TestFixtures) CreateTestCampaign(storeID uint) (*models.Campaign, error) {
	campaign := &models.Campaign{
		StoreID:        storeID,
		Name:           "Test Campaign " + randomHex(3),
		Status:         models.CampaignStatusActive,
		TemplateFamily: models.TemplateFamilyPopup,
		Priority:       10,
		IsPreview:      utils.ToPtr(false),
		Targeting:      models.TargetingSpec{},
		Discount: models.DiscountSpec{
			Enabled:    true,
			Mode:       models.DiscountModeUnique,
			ValueType:  models.DiscountValuePercentage,
			Amount:     10,
			CodePrefix: "TEST",
			ShowCode:   true,
		},
		Trigger: models.TriggerSpec{
			MaxPerSession:       utils.ToPtr(1),
			RespectGlobalLimits: true,
		},
	}

	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}

// CreateTestSession creates an active merchant session with fresh token IDs
func (tf *TestFixtures) CreateTestSession(merchantID uint) (*models.MerchantSession, error) {
	ipAddress := "127.0.0.1"
	userAgent := "Test User Agent"

	session := &models.MerchantSession{
		CorrelationID:  uuid.New(),
		MerchantID:     merchantID,
		AccessTokenID:  randomHex(16),
		RefreshTokenID: utils.ToPtr(randomHex(16)),
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
		IsActive:       utils.ToPtr(true),
		IPAddress:      &ipAddress,
		UserAgent:      &userAgent,
	}

	if err := tf.DB.DB.Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create test session: %w", err)
	}
	return session, nil
}

// CreateTestLead creates a lead for the given campaign
func (tf *TestFixtures) CreateTestLead(storeID, campaignID uint, email string) (*models.Lead, error) {
	if email == "" {
		email = fmt.Sprintf("lead.%s@example.com", randomHex(4))
	}

	lead := &models.Lead{
		StoreID:    storeID,
		CampaignID: campaignID,
		SessionID:  "sess-" + randomHex(8),
		VisitorID:  "vis-" + randomHex(8),
		Email:      email,
		IPHash:     utils.ToPtr(randomHex(32)),
	}

	if err := tf.DB.DB.Create(lead).Error; err != nil {
		return nil, fmt.Errorf("failed to create test lead: %w", err)
	}
	return lead, nil
}

// CreateTestAuditLog creates a test audit log entry
func (tf *TestFixtures) CreateTestAuditLog(merchantID *uint, storeID *uint, action string, success bool) (*models.AuditLog, error) {
	description := fmt.Sprintf("Test %s action", action)
	ipAddress := "127.0.0.1"
	userAgent := "Test User Agent"

	audit := &models.AuditLog{
		MerchantID:  merchantID,
		StoreID:     storeID,
		Action:      action,
		Description: &description,
		Success:     &success,
		IPAddress:   &ipAddress,
		UserAgent:   &userAgent,
	}

	if !success {
		errorMessage := "Test failed action"
		audit.ErrorMessage = &errorMessage
	}

	if err := tf.DB.DB.Create(audit).Error; err != nil {
		return nil, fmt.Errorf("failed to create test audit log: %w", err)
	}
	return audit, nil
}
