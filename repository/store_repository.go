// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
)

// StoreRepositoryImpl implements the StoreRepository interface
type StoreRepositoryImpl struct {
	*BaseRepository[models.Store, models.StoreFilter]
}

// NewStoreRepository creates a new store repository
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &StoreRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Store, models.StoreFilter](db),
	}
}

// ByUUID retrieves a store by UUID
func (r *StoreRepositoryImpl) ByUUID(ctx context.Context, uuidStr string) (*models.Store, error) {
	parsed, err := utils.ParseUUID(uuidStr)
	if err != nil {
		return nil, err
	}

	stores, err := r.ByFilter(ctx, models.StoreFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(stores) == 0 {
		return nil, nil
	}
	return stores[0], nil
}

// ByStorefrontKey retrieves a store by its public storefront key
func (r *StoreRepositoryImpl) ByStorefrontKey(ctx context.Context, storefrontKey string) (*models.Store, error) {
	db := r.getDB(ctx)

	var store models.Store
	err := db.Where("storefront_key = ?", storefrontKey).First(&store).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find store by storefront key: %w", err)
	}

	return &store, nil
}

// ByShopDomain retrieves a store by the host platform shop domain
func (r *StoreRepositoryImpl) ByShopDomain(ctx context.Context, shopDomain string) (*models.Store, error) {
	db := r.getDB(ctx)

	var store models.Store
	err := db.Where("shop_domain = ?", shopDomain).First(&store).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find store by shop domain: %w", err)
	}

	return &store, nil
}

// Update updates a store
func (r *StoreRepositoryImpl) Update(ctx context.Context, store models.Store) error {
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

	now := utils.UTCNow()
	store.UpdatedAt = &now

	err = db.Save(&store).Error
	if err != nil {
		return err
	}

	return nil
}

// UpdateStatus updates only the status of a store
func (r *StoreRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.StoreStatus) error {
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

	err = db.Model(&models.Store{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": utils.UTCNow(),
		}).Error
	if err != nil {
		return err
	}

	return nil
}

// applyFilter applies filter conditions to the GORM query
func (r *StoreRepositoryImpl) applyFilter(db *gorm.DB, filter models.StoreFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.ShopDomain != nil {
		db = db.Where("shop_domain = ?", *filter.ShopDomain)
	}
	if filter.StorefrontKey != nil {
		db = db.Where("storefront_key = ?", *filter.StorefrontKey)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}

// ByFilter retrieves stores based on filter criteria
func (r *StoreRepositoryImpl) ByFilter(ctx context.Context, filter models.StoreFilter, orderBy string, limit, offset int) ([]*models.Store, error) {
	db := r.getDB(ctx)

	var stores []*models.Store
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

	err := query.Find(&stores).Error
	if err != nil {
		return nil, err
	}

	return stores, nil
}

// Count returns the number of stores matching the filter
func (r *StoreRepositoryImpl) Count(ctx context.Context, filter models.StoreFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Store{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any store matching the filter exists
func (r *StoreRepositoryImpl) Exists(ctx context.Context, filter models.StoreFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
