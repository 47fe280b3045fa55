package models

import "time"

// DisplayEvent represents a single recorded popup display. The authoritative
// frequency counters live in the shared cache store; these rows only feed
// reporting and are written best-effort.
type DisplayEvent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	StoreID        uint           `gorm:"not null;index:idx_display_events_store_id" json:"store_id"`
	CampaignID     uint           `gorm:"not null;index:idx_display_events_campaign_id" json:"campaign_id"`
	VisitorID      *string        `gorm:"size:128;index:idx_display_events_visitor_id" json:"visitor_id,omitempty"`
	SessionID      *string        `gorm:"size:128" json:"session_id,omitempty"`
	TemplateFamily TemplateFamily `gorm:"type:template_family;not null" json:"template_family"`
	PageURL        *string        `gorm:"type:text" json:"page_url,omitempty"`
	UserAgent      *string        `gorm:"type:text" json:"user_agent,omitempty"`
	IP             *string        `gorm:"size:64" json:"ip,omitempty"`
	CreatedAt      time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_display_events_created_at" json:"created_at"`
}

// TableName returns the table name for DisplayEvent
func (DisplayEvent) TableName() string { return "display_events" }

// DisplayEventFilter represents filter criteria for display event queries
type DisplayEventFilter struct {
	ID            *uint           `json:"id,omitempty"`
	StoreID       *uint           `json:"store_id,omitempty"`
	CampaignID    *uint           `json:"campaign_id,omitempty"`
	VisitorID     *string         `json:"visitor_id,omitempty"`
	SessionID     *string         `json:"session_id,omitempty"`
	Family        *TemplateFamily `json:"template_family,omitempty"`
	CreatedAfter  *time.Time      `json:"created_after,omitempty"`
	CreatedBefore *time.Time      `json:"created_before,omitempty"`
}
