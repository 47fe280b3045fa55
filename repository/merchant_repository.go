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

// MerchantRepositoryImpl implements the MerchantRepository interface
type MerchantRepositoryImpl struct {
	*BaseRepository[models.Merchant, models.MerchantFilter]
}

// NewMerchantRepository creates a new merchant repository
func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &MerchantRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Merchant, models.MerchantFilter](db),
	}
}

// ByID retrieves a merchant by ID
func (r *MerchantRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Merchant, error) {
	db := r.getDB(ctx)

	var merchant models.Merchant
	err := db.Preload("Store").
		Last(&merchant, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &merchant, nil
}

// ByUUID retrieves a merchant by UUID
func (r *MerchantRepositoryImpl) ByUUID(ctx context.Context, uuidStr string) (*models.Merchant, error) {
	parsed, err := utils.ParseUUID(uuidStr)
	if err != nil {
		return nil, err
	}

	merchants, err := r.ByFilter(ctx, models.MerchantFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(merchants) == 0 {
		return nil, nil
	}
	return merchants[0], nil
}

// ByEmail retrieves a merchant by email address
func (r *MerchantRepositoryImpl) ByEmail(ctx context.Context, email string) (*models.Merchant, error) {
	db := r.getDB(ctx)

	var merchant models.Merchant
	err := db.Where("LOWER(email) = LOWER(?)", email).
		Preload("Store").
		First(&merchant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find merchant by email: %w", err)
	}

	return &merchant, nil
}

// UpdateLastLogin records the time of a successful login
func (r *MerchantRepositoryImpl) UpdateLastLogin(ctx context.Context, merchantID uint, at time.Time) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
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

	err = db.Model(&models.Merchant{}).
		Where("id = ?", merchantID).
		Updates(map[string]any{
			"last_login_at": at,
			"updated_at":    utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

// UpdatePassword replaces the stored password hash
func (r *MerchantRepositoryImpl) UpdatePassword(ctx context.Context, merchantID uint, passwordHash string) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
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

	err = db.Model(&models.Merchant{}).
		Where("id = ?", merchantID).
		Updates(map[string]any{
			"password_hash": passwordHash,
			"updated_at":    utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// applyFilter applies filter conditions to the GORM query
func (r *MerchantRepositoryImpl) applyFilter(db *gorm.DB, filter models.MerchantFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.StoreID != nil {
		db = db.Where("store_id = ?", *filter.StoreID)
	}
	if filter.Email != nil {
		db = db.Where("LOWER(email) = LOWER(?)", *filter.Email)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.LastLoginAfter != nil {
		db = db.Where("last_login_at >= ?", *filter.LastLoginAfter)
	}
	if filter.LastLoginBefore != nil {
		db = db.Where("last_login_at < ?", *filter.LastLoginBefore)
	}

	return db
}

// ByFilter retrieves merchants based on filter criteria
func (r *MerchantRepositoryImpl) ByFilter(ctx context.Context, filter models.MerchantFilter, orderBy string, limit, offset int) ([]*models.Merchant, error) {
	db := r.getDB(ctx)

	var merchants []*models.Merchant
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

	err := query.Find(&merchants).Error
	if err != nil {
		return nil, err
	}

	return merchants, nil
}

// Count returns the number of merchants matching the filter
func (r *MerchantRepositoryImpl) Count(ctx context.Context, filter models.MerchantFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Merchant{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any merchant matching the filter exists
func (r *MerchantRepositoryImpl) Exists(ctx context.Context, filter models.MerchantFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
