// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Nurikabe/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// StoreRepository defines operations for connected stores
type StoreRepository interface {
	Repository[models.Store, models.StoreFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Store, error)
	ByStorefrontKey(ctx context.Context, storefrontKey string) (*models.Store, error)
	ByShopDomain(ctx context.Context, shopDomain string) (*models.Store, error)
	Update(ctx context.Context, store models.Store) error
	UpdateStatus(ctx context.Context, id uint, status models.StoreStatus) error
}

// StoreSettingsRepository defines operations for per-store engine settings
type StoreSettingsRepository interface {
	Repository[models.StoreSettings, models.StoreSettingsFilter]
	ByStoreID(ctx context.Context, storeID uint) (*models.StoreSettings, error)
	Upsert(ctx context.Context, settings *models.StoreSettings) error
}

// CampaignRepository defines operations for popup campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
	ByStoreID(ctx context.Context, storeID uint, limit, offset int) ([]*models.Campaign, error)
	ListDeliverable(ctx context.Context, storeID uint) ([]*models.Campaign, error)
	Update(ctx context.Context, campaign models.Campaign) error
	UpdateStatus(ctx context.Context, id uint, status models.CampaignStatus) error
	CountByStore(ctx context.Context, storeID uint) (int, error)
}

// AudienceMembershipRepository defines operations for synced segment memberships
type AudienceMembershipRepository interface {
	Repository[models.AudienceMembership, models.AudienceMembershipFilter]
	IsMemberOfAny(ctx context.Context, storeID uint, visitorID string, segmentIDs []string) (bool, error)
	SegmentsByVisitor(ctx context.Context, storeID uint, visitorID string) ([]string, error)
	ReplaceSegment(ctx context.Context, storeID uint, segmentID string, visitorIDs []string) error
	PurgeStale(ctx context.Context, storeID uint, syncedBefore time.Time) (int64, error)
}

// LeadRepository defines operations for captured leads
type LeadRepository interface {
	Repository[models.Lead, models.LeadFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Lead, error)
	ByCampaignAndEmail(ctx context.Context, campaignID uint, email string) (*models.Lead, error)
	ByStoreAndDiscountCode(ctx context.Context, storeID uint, code string) (*models.Lead, error)
	LatestByCustomerIdentity(ctx context.Context, storeID uint, customerID *int64, email *string, since time.Time) (*models.Lead, error)
	AssignDiscountCode(ctx context.Context, leadID uint, code string) (bool, error)
}

// ConversionRepository defines operations for attributed conversions
type ConversionRepository interface {
	Repository[models.CampaignConversion, models.CampaignConversionFilter]
	SaveIdempotent(ctx context.Context, conversion *models.CampaignConversion) (bool, error)
	ByStoreAndOrder(ctx context.Context, storeID uint, orderID int64) (*models.CampaignConversion, error)
	SummarizeByCampaign(ctx context.Context, storeID uint, from, to *time.Time) ([]*ConversionSummary, error)
}

// DisplayEventRepository defines operations for best-effort display records
type DisplayEventRepository interface {
	Repository[models.DisplayEvent, models.DisplayEventFilter]
	CountsByCampaign(ctx context.Context, storeID uint, campaignIDs []uint) (map[uint]int64, error)
}

// MerchantRepository defines operations for dashboard merchants
type MerchantRepository interface {
	Repository[models.Merchant, models.MerchantFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Merchant, error)
	ByEmail(ctx context.Context, email string) (*models.Merchant, error)
	UpdateLastLogin(ctx context.Context, merchantID uint, at time.Time) error
	UpdatePassword(ctx context.Context, merchantID uint, passwordHash string) error
}

// MerchantSessionRepository defines operations for merchant dashboard sessions
type MerchantSessionRepository interface {
	Repository[models.MerchantSession, models.MerchantSessionFilter]
	ByAccessTokenID(ctx context.Context, tokenID string) (*models.MerchantSession, error)
	ByRefreshTokenID(ctx context.Context, tokenID string) (*models.MerchantSession, error)
	RotateTokens(ctx context.Context, sessionID uint, accessTokenID string, refreshTokenID *string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, sessionID uint) error
	RevokeAllMerchantSessions(ctx context.Context, merchantID uint) error
	Touch(ctx context.Context, sessionID uint) error
	CleanupExpiredSessions(ctx context.Context) error
	GetLatestByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*models.MerchantSession, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByMerchant(ctx context.Context, merchantID uint, limit, offset int) ([]*models.AuditLog, error)
	ListByStore(ctx context.Context, storeID uint, limit, offset int) ([]*models.AuditLog, error)
	ListByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error)
	ListFailedActions(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
	ListSecurityEvents(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}
