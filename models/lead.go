package models

import (
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lead represents a visitor who submitted contact information through a
// campaign's capture form. The discount code is assigned at most once and is
// stable for the lifetime of the lead.
type Lead struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UUID              uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_leads_uuid" json:"uuid"`
	StoreID           uint       `gorm:"not null;index:idx_leads_store_id;index:idx_leads_store_email;index:idx_leads_store_discount_code;index:idx_leads_store_customer" json:"store_id"`
	CampaignID        uint       `gorm:"not null;index:idx_leads_campaign_id" json:"campaign_id"`
	SessionID         string     `gorm:"size:128;not null" json:"session_id"`
	VisitorID         string     `gorm:"size:128;not null;index:idx_leads_visitor_id" json:"visitor_id"`
	Email             string     `gorm:"size:320;not null;index:idx_leads_store_email" json:"email"`
	DiscountCode      *string    `gorm:"size:64;index:idx_leads_store_discount_code" json:"discount_code,omitempty"`
	ShopifyCustomerID *int64     `gorm:"index:idx_leads_store_customer" json:"shopify_customer_id,omitempty"`
	IPHash            *string    `gorm:"size:64" json:"-"`
	CreatedAt         time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_leads_created_at" json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`

	// Relations
	Store    *Store    `gorm:"foreignKey:StoreID;references:ID" json:"store,omitempty"`
	Campaign *Campaign `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
}

// TableName returns the table name for the model
func (Lead) TableName() string {
	return "leads"
}

// BeforeCreate is called before creating a new record
func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.UUID == uuid.Nil {
		l.UUID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (l *Lead) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	l.UpdatedAt = &now
	return nil
}

// HasDiscountCode checks if a code was ever issued to this lead
func (l *Lead) HasDiscountCode() bool {
	return l.DiscountCode != nil && *l.DiscountCode != ""
}

// LeadFilter represents filter criteria for leads
type LeadFilter struct {
	ID                *uint      `json:"id,omitempty"`
	UUID              *uuid.UUID `json:"uuid,omitempty"`
	StoreID           *uint      `json:"store_id,omitempty"`
	CampaignID        *uint      `json:"campaign_id,omitempty"`
	SessionID         *string    `json:"session_id,omitempty"`
	VisitorID         *string    `json:"visitor_id,omitempty"`
	Email             *string    `json:"email,omitempty"`
	DiscountCode      *string    `json:"discount_code,omitempty"`
	ShopifyCustomerID *int64     `json:"shopify_customer_id,omitempty"`
	HasDiscountCode   *bool      `json:"has_discount_code,omitempty"`
	CreatedAfter      *time.Time `json:"created_after,omitempty"`
	CreatedBefore     *time.Time `json:"created_before,omitempty"`
}
