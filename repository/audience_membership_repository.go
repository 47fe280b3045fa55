package repository

import (
	"context"
	"time"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AudienceMembershipRepositoryImpl implements AudienceMembershipRepository
type AudienceMembershipRepositoryImpl struct {
	*BaseRepository[models.AudienceMembership, models.AudienceMembershipFilter]
}

// NewAudienceMembershipRepository creates a new audience membership repository
func NewAudienceMembershipRepository(db *gorm.DB) AudienceMembershipRepository {
	return &AudienceMembershipRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AudienceMembership, models.AudienceMembershipFilter](db),
	}
}

// IsMemberOfAny checks whether the visitor belongs to at least one of the
// given segments. An empty segment list never matches.
func (r *AudienceMembershipRepositoryImpl) IsMemberOfAny(ctx context.Context, storeID uint, visitorID string, segmentIDs []string) (bool, error) {
	if len(segmentIDs) == 0 {
		return false, nil
	}

	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.AudienceMembership{}).
		Where("store_id = ? AND visitor_id = ? AND segment_id IN ?", storeID, visitorID, segmentIDs).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// SegmentsByVisitor lists the segment IDs the visitor is known to belong to
func (r *AudienceMembershipRepositoryImpl) SegmentsByVisitor(ctx context.Context, storeID uint, visitorID string) ([]string, error) {
	db := r.getDB(ctx)

	var segmentIDs []string
	err := db.Model(&models.AudienceMembership{}).
		Where("store_id = ? AND visitor_id = ?", storeID, visitorID).
		Order("segment_id ASC").
		Pluck("segment_id", &segmentIDs).Error
	if err != nil {
		return nil, err
	}

	return segmentIDs, nil
}

// ReplaceSegment swaps the membership rows of one segment for the given
// visitor set. Delete and insert run in one transaction so storefront reads
// never observe a half-synced segment.
func (r *AudienceMembershipRepositoryImpl) ReplaceSegment(ctx context.Context, storeID uint, segmentID string, visitorIDs []string) error {
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

	err = db.Where("store_id = ? AND segment_id = ?", storeID, segmentID).
		Delete(&models.AudienceMembership{}).Error
	if err != nil {
		return err
	}

	if len(visitorIDs) == 0 {
		return nil
	}

	now := utils.UTCNow()
	rows := make([]*models.AudienceMembership, 0, len(visitorIDs))
	seen := make(map[string]struct{}, len(visitorIDs))
	for _, visitorID := range visitorIDs {
		if visitorID == "" {
			continue
		}
		if _, exists := seen[visitorID]; exists {
			continue
		}
		seen[visitorID] = struct{}{}
		rows = append(rows, &models.AudienceMembership{
			StoreID:   storeID,
			VisitorID: visitorID,
			SegmentID: segmentID,
			SyncedAt:  now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "visitor_id"}, {Name: "segment_id"}},
		DoNothing: true,
	}).CreateInBatches(rows, 500).Error
	if err != nil {
		return err
	}

	return nil
}

// PurgeStale removes membership rows that the sync has not touched since the
// given cutoff. Returns the number of rows removed.
func (r *AudienceMembershipRepositoryImpl) PurgeStale(ctx context.Context, storeID uint, syncedBefore time.Time) (int64, error) {
	db := r.getDB(ctx)

	result := db.Where("store_id = ? AND synced_at < ?", storeID, syncedBefore).
		Delete(&models.AudienceMembership{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *AudienceMembershipRepositoryImpl) applyFilter(db *gorm.DB, filter models.AudienceMembershipFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.StoreID != nil {
		db = db.Where("store_id = ?", *filter.StoreID)
	}
	if filter.VisitorID != nil {
		db = db.Where("visitor_id = ?", *filter.VisitorID)
	}
	if filter.SegmentID != nil {
		db = db.Where("segment_id = ?", *filter.SegmentID)
	}
	if filter.SyncedAfter != nil {
		db = db.Where("synced_at >= ?", *filter.SyncedAfter)
	}
	if filter.SyncedBefore != nil {
		db = db.Where("synced_at < ?", *filter.SyncedBefore)
	}

	return db
}

// ByFilter retrieves membership rows based on filter criteria
func (r *AudienceMembershipRepositoryImpl) ByFilter(ctx context.Context, filter models.AudienceMembershipFilter, orderBy string, limit, offset int) ([]*models.AudienceMembership, error) {
	db := r.getDB(ctx)

	var rows []*models.AudienceMembership
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

	err := query.Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// Count returns the number of membership rows matching the filter
func (r *AudienceMembershipRepositoryImpl) Count(ctx context.Context, filter models.AudienceMembershipFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.AudienceMembership{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any membership row matching the filter exists
func (r *AudienceMembershipRepositoryImpl) Exists(ctx context.Context, filter models.AudienceMembershipFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
