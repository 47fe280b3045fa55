package repository

import (
	"context"

	"github.com/amirphl/Nurikabe/models"
	"gorm.io/gorm"
)

// DisplayEventRepositoryImpl implements DisplayEventRepository
type DisplayEventRepositoryImpl struct {
	*BaseRepository[models.DisplayEvent, models.DisplayEventFilter]
}

// NewDisplayEventRepository creates a new display event repository
func NewDisplayEventRepository(db *gorm.DB) DisplayEventRepository {
	return &DisplayEventRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DisplayEvent, models.DisplayEventFilter](db),
	}
}

// CountsByCampaign returns a map of campaign_id -> recorded display count
func (r *DisplayEventRepositoryImpl) CountsByCampaign(ctx context.Context, storeID uint, campaignIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64)
	if len(campaignIDs) == 0 {
		return out, nil
	}
	type row struct {
		CampaignID uint
		Displays   int64
	}
	var rows []row
	db := r.getDB(ctx)
	if err := db.Table("display_events").
		Select("campaign_id, COUNT(*) AS displays").
		Where("store_id = ? AND campaign_id IN ?", storeID, campaignIDs).
		Group("campaign_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.CampaignID] = r.Displays
	}
	return out, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *DisplayEventRepositoryImpl) applyFilter(db *gorm.DB, filter models.DisplayEventFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.StoreID != nil {
		db = db.Where("store_id = ?", *filter.StoreID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.VisitorID != nil {
		db = db.Where("visitor_id = ?", *filter.VisitorID)
	}
	if filter.SessionID != nil {
		db = db.Where("session_id = ?", *filter.SessionID)
	}
	if filter.Family != nil {
		db = db.Where("template_family = ?", *filter.Family)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}

// ByFilter retrieves display events based on filter criteria
func (r *DisplayEventRepositoryImpl) ByFilter(ctx context.Context, filter models.DisplayEventFilter, orderBy string, limit, offset int) ([]*models.DisplayEvent, error) {
	db := r.getDB(ctx)

	var events []*models.DisplayEvent
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

	err := query.Find(&events).Error
	if err != nil {
		return nil, err
	}

	return events, nil
}

// Count returns the number of display events matching the filter
func (r *DisplayEventRepositoryImpl) Count(ctx context.Context, filter models.DisplayEventFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.DisplayEvent{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any display event matching the filter exists
func (r *DisplayEventRepositoryImpl) Exists(ctx context.Context, filter models.DisplayEventFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
