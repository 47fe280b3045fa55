// Package models contains domain entities and business models for the popup engine
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoreStatus represents the lifecycle status of a connected store
type StoreStatus string

const (
	StoreStatusActive      StoreStatus = "active"
	StoreStatusSuspended   StoreStatus = "suspended"
	StoreStatusUninstalled StoreStatus = "uninstalled"
)

// String returns the string representation of the status
func (s StoreStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s StoreStatus) Valid() bool {
	switch s {
	case StoreStatusActive, StoreStatusSuspended, StoreStatusUninstalled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for StoreStatus
func (s *StoreStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = StoreStatus(v)
	case []byte:
		*s = StoreStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StoreStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for StoreStatus
func (s StoreStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid StoreStatus: %s", s)
	}
	return string(s), nil
}

// Store represents a connected storefront in the database
type Store struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	UUID          uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:uk_stores_uuid" json:"uuid"`
	ShopDomain    string      `gorm:"size:255;not null;uniqueIndex:uk_stores_shop_domain" json:"shop_domain"`
	StorefrontKey string      `gorm:"size:64;not null;uniqueIndex:uk_stores_storefront_key" json:"storefront_key"`
	Name          string      `gorm:"size:255;not null" json:"name"`
	Timezone      string      `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	WebhookSecret string      `gorm:"size:128;not null" json:"-"` // Never serialize webhook secret
	AdminAPIToken string      `gorm:"size:128;not null" json:"-"` // Never serialize admin API token
	Status        StoreStatus `gorm:"type:store_status;not null;default:'active';index:idx_stores_status" json:"status"`
	CreatedAt     time.Time   `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_stores_created_at" json:"created_at"`
	UpdatedAt     *time.Time  `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Store) TableName() string {
	return "stores"
}

// BeforeCreate is called before creating a new record
func (s *Store) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == uuid.Nil {
		s.UUID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StoreStatusActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (s *Store) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	s.UpdatedAt = &now
	return nil
}

// IsActive checks if the store can serve storefront traffic
func (s *Store) IsActive() bool {
	return s.Status == StoreStatusActive
}

// StoreFilter represents filter criteria for stores
type StoreFilter struct {
	ID            *uint        `json:"id,omitempty"`
	UUID          *uuid.UUID   `json:"uuid,omitempty"`
	ShopDomain    *string      `json:"shop_domain,omitempty"`
	StorefrontKey *string      `json:"storefront_key,omitempty"`
	Status        *StoreStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time   `json:"created_after,omitempty"`
	CreatedBefore *time.Time   `json:"created_before,omitempty"`
}
