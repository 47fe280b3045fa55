package repository

import (
	"context"
	"errors"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreSettingsRepositoryImpl implements StoreSettingsRepository interface.
type StoreSettingsRepositoryImpl struct {
	*BaseRepository[models.StoreSettings, models.StoreSettingsFilter]
}

// NewStoreSettingsRepository creates a new store settings repository.
func NewStoreSettingsRepository(db *gorm.DB) StoreSettingsRepository {
	return &StoreSettingsRepositoryImpl{
		BaseRepository: NewBaseRepository[models.StoreSettings, models.StoreSettingsFilter](db),
	}
}

// ByStoreID retrieves the settings row for a store. Returns nil when the
// store never saved settings; callers fall back to defaults.
func (r *StoreSettingsRepositoryImpl) ByStoreID(ctx context.Context, storeID uint) (*models.StoreSettings, error) {
	db := r.getDB(ctx)

	var row models.StoreSettings
	err := db.Where("store_id = ?", storeID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &row, nil
}

// Upsert inserts the settings row or overwrites the existing one for the store
func (r *StoreSettingsRepositoryImpl) Upsert(ctx context.Context, settings *models.StoreSettings) error {
	db := r.getDB(ctx)

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "store_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"frequency":  clause.Expr{SQL: "EXCLUDED.frequency"},
			"updated_at": utils.UTCNow(),
		}),
	}).Create(settings).Error
}

// applyFilter applies filter criteria to a GORM query.
func (r *StoreSettingsRepositoryImpl) applyFilter(query *gorm.DB, filter models.StoreSettingsFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.StoreID != nil {
		query = query.Where("store_id = ?", *filter.StoreID)
	}
	return query
}

// ByFilter retrieves store settings based on filter criteria.
func (r *StoreSettingsRepositoryImpl) ByFilter(ctx context.Context, filter models.StoreSettingsFilter, orderBy string, limit, offset int) ([]*models.StoreSettings, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.StoreSettings{})

	query = r.applyFilter(query, filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.StoreSettings
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns number of settings rows matching filter.
func (r *StoreSettingsRepositoryImpl) Count(ctx context.Context, filter models.StoreSettingsFilter) (int64, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.StoreSettings{})
	query = r.applyFilter(query, filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any settings row matches the filter.
func (r *StoreSettingsRepositoryImpl) Exists(ctx context.Context, filter models.StoreSettingsFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
