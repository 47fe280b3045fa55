// Package models contains domain entities and business models for the popup engine
package models

import (
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
)

// MerchantSession tracks one issued token pair for a merchant. Tokens are
// identified by their jti claims; raw JWTs are never persisted.
type MerchantSession struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	CorrelationID  uuid.UUID  `gorm:"type:uuid;not null;index:idx_merchant_sessions_correlation_id" json:"correlation_id"` // Groups related session records
	MerchantID     uint       `gorm:"not null;index:idx_merchant_sessions_merchant_id" json:"merchant_id"`
	Merchant       Merchant   `gorm:"foreignKey:MerchantID;references:ID" json:"merchant,omitempty"`
	AccessTokenID  string     `gorm:"size:64;not null;uniqueIndex:idx_merchant_sessions_access_token_id" json:"-"`
	RefreshTokenID *string    `gorm:"size:64;uniqueIndex:idx_merchant_sessions_refresh_token_id" json:"-"`
	IPAddress      *string    `gorm:"type:inet;index:idx_merchant_sessions_ip_address" json:"ip_address,omitempty"`
	UserAgent      *string    `gorm:"type:text" json:"user_agent,omitempty"`
	IsActive       *bool      `gorm:"default:true;index:idx_merchant_sessions_is_active" json:"is_active"`
	CreatedAt      time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	LastAccessedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP;index:idx_merchant_sessions_last_accessed" json:"last_accessed_at"`
	ExpiresAt      time.Time  `gorm:"not null;index:idx_merchant_sessions_expires_at" json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

func (MerchantSession) TableName() string {
	return "merchant_sessions"
}

// MerchantSessionFilter represents filter criteria for session queries
type MerchantSessionFilter struct {
	ID             *uint
	CorrelationID  *uuid.UUID
	MerchantID     *uint
	AccessTokenID  *string
	RefreshTokenID *string
	IsActive       *bool
	IPAddress      *string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	ExpiresAfter   *time.Time
	ExpiresBefore  *time.Time
	IsExpired      *bool // Helper to filter expired sessions
}

func (s *MerchantSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

func (s *MerchantSession) IsValid() bool {
	return utils.IsTrue(s.IsActive) && s.RevokedAt == nil && !s.IsExpired()
}
