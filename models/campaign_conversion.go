package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ConversionSource represents how an order was attributed to a campaign
type ConversionSource string

const (
	// ConversionSourceDiscountCode means a code on the order matched a lead's
	// issued code or a campaign's configured code/prefix
	ConversionSourceDiscountCode ConversionSource = "discount_code"
	// ConversionSourceViewThroughWithCode means a lead was matched by customer
	// identity and held an issued-but-unused code
	ConversionSourceViewThroughWithCode ConversionSource = "view_through_with_code"
	// ConversionSourceViewThrough means a lead was matched by customer
	// identity and no code was ever issued to it
	ConversionSourceViewThrough ConversionSource = "view_through"
)

// String returns the string representation of the source
func (s ConversionSource) String() string {
	return string(s)
}

// Valid checks if the source is valid
func (s ConversionSource) Valid() bool {
	switch s {
	case ConversionSourceDiscountCode, ConversionSourceViewThroughWithCode,
		ConversionSourceViewThrough:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ConversionSource
func (s *ConversionSource) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ConversionSource(v)
	case []byte:
		*s = ConversionSource(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ConversionSource", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ConversionSource
func (s ConversionSource) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ConversionSource: %s", s)
	}
	return string(s), nil
}

// CampaignConversion represents one attributed purchase. At most one row
// exists per (store, order); the row is inserted once and never updated.
type CampaignConversion struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	UUID          uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uk_conversions_uuid" json:"uuid"`
	StoreID       uint             `gorm:"not null;uniqueIndex:uk_conversions_store_order;index:idx_conversions_store_id" json:"store_id"`
	OrderID       int64            `gorm:"not null;uniqueIndex:uk_conversions_store_order" json:"order_id"`
	CampaignID    uint             `gorm:"not null;index:idx_conversions_campaign_id" json:"campaign_id"`
	LeadID        *uint            `gorm:"index:idx_conversions_lead_id" json:"lead_id,omitempty"`
	Source        ConversionSource `gorm:"type:conversion_source;not null;index:idx_conversions_source" json:"source"`
	DiscountCodes pq.StringArray   `gorm:"type:text[]" json:"discount_codes,omitempty"`
	CustomerID    *int64           `json:"customer_id,omitempty"`
	CustomerEmail *string          `gorm:"size:320" json:"customer_email,omitempty"`
	RevenueCents  int64            `gorm:"not null;default:0" json:"revenue_cents"`
	Currency      string           `gorm:"size:8;not null;default:'USD'" json:"currency"`
	CreatedAt     time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_conversions_created_at" json:"created_at"`

	// Relations
	Store    *Store    `gorm:"foreignKey:StoreID;references:ID" json:"store,omitempty"`
	Campaign *Campaign `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
	Lead     *Lead     `gorm:"foreignKey:LeadID;references:ID" json:"lead,omitempty"`
}

// TableName returns the table name for the model
func (CampaignConversion) TableName() string {
	return "campaign_conversions"
}

// BeforeCreate is called before creating a new record
func (c *CampaignConversion) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// IsViewThrough checks if the conversion was attributed without a redeemed code
func (c *CampaignConversion) IsViewThrough() bool {
	return c.Source == ConversionSourceViewThrough ||
		c.Source == ConversionSourceViewThroughWithCode
}

// CampaignConversionFilter represents filter criteria for conversions
type CampaignConversionFilter struct {
	ID            *uint             `json:"id,omitempty"`
	UUID          *uuid.UUID        `json:"uuid,omitempty"`
	StoreID       *uint             `json:"store_id,omitempty"`
	OrderID       *int64            `json:"order_id,omitempty"`
	CampaignID    *uint             `json:"campaign_id,omitempty"`
	LeadID        *uint             `json:"lead_id,omitempty"`
	Source        *ConversionSource `json:"source,omitempty"`
	CreatedAfter  *time.Time        `json:"created_after,omitempty"`
	CreatedBefore *time.Time        `json:"created_before,omitempty"`
}
