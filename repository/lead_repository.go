package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
)

// LeadRepositoryImpl implements the LeadRepository interface
type LeadRepositoryImpl struct {
	*BaseRepository[models.Lead, models.LeadFilter]
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &LeadRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Lead, models.LeadFilter](db),
	}
}

// ByUUID retrieves a lead by UUID
func (r *LeadRepositoryImpl) ByUUID(ctx context.Context, uuidStr string) (*models.Lead, error) {
	parsed, err := utils.ParseUUID(uuidStr)
	if err != nil {
		return nil, err
	}

	leads, err := r.ByFilter(ctx, models.LeadFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return leads[0], nil
}

// ByCampaignAndEmail retrieves the earliest lead a campaign captured for an
// email address. Repeat submissions reuse this row instead of minting a new
// discount code.
func (r *LeadRepositoryImpl) ByCampaignAndEmail(ctx context.Context, campaignID uint, email string) (*models.Lead, error) {
	db := r.getDB(ctx)

	var lead models.Lead
	err := db.Where("campaign_id = ? AND LOWER(email) = LOWER(?)", campaignID, email).
		Order("created_at ASC").
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find lead by campaign and email: %w", err)
	}

	return &lead, nil
}

// ByStoreAndDiscountCode retrieves the lead that holds the given issued code
func (r *LeadRepositoryImpl) ByStoreAndDiscountCode(ctx context.Context, storeID uint, code string) (*models.Lead, error) {
	db := r.getDB(ctx)

	var lead models.Lead
	err := db.Where("store_id = ? AND discount_code = ?", storeID, code).
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find lead by discount code: %w", err)
	}

	return &lead, nil
}

// LatestByCustomerIdentity retrieves the most recent lead matching the buyer
// of an order, by platform customer ID or email, created at or after the
// given cutoff. Returns nil when neither identity field is present.
func (r *LeadRepositoryImpl) LatestByCustomerIdentity(ctx context.Context, storeID uint, customerID *int64, email *string, since time.Time) (*models.Lead, error) {
	db := r.getDB(ctx)

	query := db.Where("store_id = ? AND created_at >= ?", storeID, since)
	switch {
	case customerID != nil && email != nil && *email != "":
		query = query.Where("(shopify_customer_id = ? OR LOWER(email) = LOWER(?))", *customerID, *email)
	case customerID != nil:
		query = query.Where("shopify_customer_id = ?", *customerID)
	case email != nil && *email != "":
		query = query.Where("LOWER(email) = LOWER(?)", *email)
	default:
		return nil, nil
	}

	var lead models.Lead
	err := query.Order("created_at DESC").First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find lead by customer identity: %w", err)
	}

	return &lead, nil
}

// AssignDiscountCode stores the issued code on a lead that never had one.
// Returns false when the lead already carries a code; the stored code wins.
func (r *LeadRepositoryImpl) AssignDiscountCode(ctx context.Context, leadID uint, code string) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	result := db.Model(&models.Lead{}).
		Where("id = ? AND discount_code IS NULL", leadID).
		Updates(map[string]any{
			"discount_code": code,
			"updated_at":    utils.UTCNow(),
		})
	if result.Error != nil {
		err = result.Error
		return false, err
	}

	return result.RowsAffected > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *LeadRepositoryImpl) applyFilter(db *gorm.DB, filter models.LeadFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.StoreID != nil {
		db = db.Where("store_id = ?", *filter.StoreID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.SessionID != nil {
		db = db.Where("session_id = ?", *filter.SessionID)
	}
	if filter.VisitorID != nil {
		db = db.Where("visitor_id = ?", *filter.VisitorID)
	}
	if filter.Email != nil {
		db = db.Where("LOWER(email) = LOWER(?)", *filter.Email)
	}
	if filter.DiscountCode != nil {
		db = db.Where("discount_code = ?", *filter.DiscountCode)
	}
	if filter.ShopifyCustomerID != nil {
		db = db.Where("shopify_customer_id = ?", *filter.ShopifyCustomerID)
	}
	if filter.HasDiscountCode != nil {
		if *filter.HasDiscountCode {
			db = db.Where("discount_code IS NOT NULL")
		} else {
			db = db.Where("discount_code IS NULL")
		}
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}

// ByFilter retrieves leads based on filter criteria
func (r *LeadRepositoryImpl) ByFilter(ctx context.Context, filter models.LeadFilter, orderBy string, limit, offset int) ([]*models.Lead, error) {
	db := r.getDB(ctx)

	var leads []*models.Lead
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&leads).Error
	if err != nil {
		return nil, err
	}

	return leads, nil
}

// Count returns the number of leads matching the filter
func (r *LeadRepositoryImpl) Count(ctx context.Context, filter models.LeadFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Lead{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any lead matching the filter exists
func (r *LeadRepositoryImpl) Exists(ctx context.Context, filter models.LeadFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
