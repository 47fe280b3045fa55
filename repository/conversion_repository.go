package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Nurikabe/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversionRepositoryImpl implements the ConversionRepository interface
type ConversionRepositoryImpl struct {
	*BaseRepository[models.CampaignConversion, models.CampaignConversionFilter]
}

// NewConversionRepository creates a new conversion repository
func NewConversionRepository(db *gorm.DB) ConversionRepository {
	return &ConversionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CampaignConversion, models.CampaignConversionFilter](db),
	}
}

// SaveIdempotent inserts the conversion unless one already exists for the
// same (store, order) pair. Returns false without error on the duplicate, so
// webhook redeliveries land here as a no-op.
func (r *ConversionRepositoryImpl) SaveIdempotent(ctx context.Context, conversion *models.CampaignConversion) (bool, error) {
	db := r.getDB(ctx)

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "order_id"}},
		DoNothing: true,
	}).Create(conversion)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// ByStoreAndOrder retrieves the conversion recorded for an order, if any
func (r *ConversionRepositoryImpl) ByStoreAndOrder(ctx context.Context, storeID uint, orderID int64) (*models.CampaignConversion, error) {
	db := r.getDB(ctx)

	var conversion models.CampaignConversion
	err := db.Where("store_id = ? AND order_id = ?", storeID, orderID).
		First(&conversion).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &conversion, nil
}

// ConversionSummary aggregates attributed orders for one campaign and source
type ConversionSummary struct {
	CampaignID   uint                    `json:"campaign_id"`
	Source       models.ConversionSource `json:"source"`
	Conversions  int64                   `json:"conversions"`
	RevenueCents int64                   `json:"revenue_cents"`
}

// SummarizeByCampaign aggregates conversion counts and revenue per campaign
// and attribution source within the optional time range.
func (r *ConversionRepositoryImpl) SummarizeByCampaign(ctx context.Context, storeID uint, from, to *time.Time) ([]*ConversionSummary, error) {
	// TODO: Query optimization: maintain a summary table updated on insert instead of aggregating on the fly.
	db := r.getDB(ctx)

	query := db.Table("campaign_conversions").
		Select(`
			campaign_id,
			source,
			COUNT(*) AS conversions,
			COALESCE(SUM(revenue_cents),0) AS revenue_cents`).
		Where("store_id = ?", storeID)
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at < ?", *to)
	}

	var rows []*ConversionSummary
	if err := query.
		Group("campaign_id, source").
		Order("campaign_id ASC, source ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	return rows, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *ConversionRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignConversionFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.StoreID != nil {
		db = db.Where("store_id = ?", *filter.StoreID)
	}
	if filter.OrderID != nil {
		db = db.Where("order_id = ?", *filter.OrderID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.LeadID != nil {
		db = db.Where("lead_id = ?", *filter.LeadID)
	}
	if filter.Source != nil {
		db = db.Where("source = ?", *filter.Source)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}

// ByFilter retrieves conversions based on filter criteria
func (r *ConversionRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignConversionFilter, orderBy string, limit, offset int) ([]*models.CampaignConversion, error) {
	db := r.getDB(ctx)

	var conversions []*models.CampaignConversion
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

	err := query.Find(&conversions).Error
	if err != nil {
		return nil, err
	}

	return conversions, nil
}

// Count returns the number of conversions matching the filter
func (r *ConversionRepositoryImpl) Count(ctx context.Context, filter models.CampaignConversionFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.CampaignConversion{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any conversion matching the filter exists
func (r *ConversionRepositoryImpl) Exists(ctx context.Context, filter models.CampaignConversionFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
