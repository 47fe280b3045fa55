package models

import (
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Merchant represents a store operator with dashboard access
type Merchant struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_merchants_uuid" json:"uuid"`
	StoreID      uint      `gorm:"not null;index:idx_merchants_store_id" json:"store_id"`
	Email        string    `gorm:"size:320;not null;uniqueIndex:uk_merchants_email" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	FullName     string    `gorm:"size:255;not null" json:"full_name"`

	IsActive    *bool      `gorm:"default:true;index:idx_merchants_is_active" json:"is_active"`
	CreatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_merchants_created_at" json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	LastLoginAt *time.Time `gorm:"index:idx_merchants_last_login_at" json:"last_login_at,omitempty"`

	// Relations
	Store *Store `gorm:"foreignKey:StoreID;references:ID" json:"store,omitempty"`
}

// TableName returns the table name for the model
func (Merchant) TableName() string {
	return "merchants"
}

// BeforeCreate is called before creating a new record
func (m *Merchant) BeforeCreate(tx *gorm.DB) error {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (m *Merchant) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	m.UpdatedAt = &now
	return nil
}

// CanLogin checks if the merchant account accepts logins
func (m *Merchant) CanLogin() bool {
	return utils.IsTrue(m.IsActive)
}

// MerchantFilter represents filter criteria for merchant queries
type MerchantFilter struct {
	ID              *uint
	UUID            *uuid.UUID
	StoreID         *uint
	Email           *string
	IsActive        *bool
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	LastLoginAfter  *time.Time
	LastLoginBefore *time.Time
}
