package repository

import (
	"context"
	"errors"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ByID retrieves a campaign by ID
func (r *CampaignRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaign models.Campaign
	err := db.Preload("Store").
		Last(&campaign, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &campaign, nil
}

// ByUUID retrieves a campaign by UUID
func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}

	filter := models.CampaignFilter{UUID: &parsedUUID}
	campaigns, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, err
	}

	if len(campaigns) == 0 {
		return nil, nil
	}

	return campaigns[0], nil
}

// ByStoreID retrieves campaigns by store ID with pagination
func (r *CampaignRepositoryImpl) ByStoreID(ctx context.Context, storeID uint, limit, offset int) ([]*models.Campaign, error) {
	filter := models.CampaignFilter{StoreID: &storeID}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

// ListDeliverable retrieves the active campaigns whose schedule window covers
// the current instant, ordered by priority (highest first) with creation time
// breaking ties. Preview campaigns are included; callers decide whether the
// request may see them.
func (r *CampaignRepositoryImpl) ListDeliverable(ctx context.Context, storeID uint) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	now := utils.UTCNow()
	var campaigns []*models.Campaign
	err := db.Where("store_id = ? AND status = ?", storeID, models.CampaignStatusActive).
		Where("(start_at IS NULL OR start_at <= ?)", now).
		Where("(end_at IS NULL OR end_at >= ?)", now).
		Order("priority DESC, created_at ASC").
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}

	return campaigns, nil
}

// Update updates a campaign
func (r *CampaignRepositoryImpl) Update(ctx context.Context, campaign models.Campaign) error {
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

	// Set updated_at timestamp
	now := utils.UTCNow()
	campaign.UpdatedAt = &now

	err = db.Save(&campaign).Error
	if err != nil {
		return err
	}

	return nil
}

// UpdateStatus updates only the status of a campaign
func (r *CampaignRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.CampaignStatus) error {
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
	err = db.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": now,
		}).Error

	if err != nil {
		return err
	}

	return nil
}

// CountByStore counts campaigns belonging to a store
func (r *CampaignRepositoryImpl) CountByStore(ctx context.Context, storeID uint) (int, error) {
	filter := models.CampaignFilter{StoreID: &storeID}
	count, err := r.Count(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := r.applyFilter(db, filter)

	// Apply ordering
	if orderBy != "" {
		query = query.Order(orderBy)
	}

	// Apply pagination
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, err
	}

	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	var campaign models.Campaign
	query := r.applyFilter(db.Model(&campaign), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any campaign matching the filter exists
func (r *CampaignRepositoryImpl) Exists(ctx context.Context, filter models.CampaignFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.StoreID != nil {
		db = db.Where("store_id = ?", *filter.StoreID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.TemplateFamily != nil {
		db = db.Where("template_family = ?", *filter.TemplateFamily)
	}
	if filter.Name != nil {
		db = db.Where("name ILIKE ?", "%"+*filter.Name+"%")
	}
	if filter.IsPreview != nil {
		db = db.Where("is_preview = ?", *filter.IsPreview)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
