package models

import (
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
)

// AudienceMembership represents a visitor's membership in one audience
// segment on the host platform. Rows are written by the periodic sync and
// read by the targeting filter; the engine never computes membership live.
type AudienceMembership struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StoreID   uint      `gorm:"not null;uniqueIndex:uk_audience_memberships;index:idx_audience_memberships_store_visitor" json:"store_id"`
	VisitorID string    `gorm:"size:128;not null;uniqueIndex:uk_audience_memberships;index:idx_audience_memberships_store_visitor" json:"visitor_id"`
	SegmentID string    `gorm:"size:128;not null;uniqueIndex:uk_audience_memberships" json:"segment_id"`
	SyncedAt  time.Time `gorm:"not null;index:idx_audience_memberships_synced_at" json:"synced_at"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (AudienceMembership) TableName() string {
	return "audience_memberships"
}

// BeforeCreate is called before creating a new record
func (m *AudienceMembership) BeforeCreate(tx *gorm.DB) error {
	if m.SyncedAt.IsZero() {
		m.SyncedAt = utils.UTCNow()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// AudienceMembershipFilter represents filter criteria for membership queries
type AudienceMembershipFilter struct {
	ID           *uint      `json:"id,omitempty"`
	StoreID      *uint      `json:"store_id,omitempty"`
	VisitorID    *string    `json:"visitor_id,omitempty"`
	SegmentID    *string    `json:"segment_id,omitempty"`
	SyncedAfter  *time.Time `json:"synced_after,omitempty"`
	SyncedBefore *time.Time `json:"synced_before,omitempty"`
}
