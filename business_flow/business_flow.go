// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
)

// ClientMetadata holds all client-related information for audit logging and session tracking
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// VisitorContext identifies a storefront visitor for frequency capping and
// challenge token binding. VisitorID is the widget's persistent first-party
// identifier, SessionID rotates per browsing session. Either may be empty
// when the visitor blocks storage; flows fail open in that case.
type VisitorContext struct {
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
	PageURL   string `json:"page_url,omitempty"`
}

// HasIdentity reports whether the visitor carries enough identity to enforce
// per-visitor limits against.
func (vc *VisitorContext) HasIdentity() bool {
	return vc != nil && vc.VisitorID != "" && vc.SessionID != ""
}

// redisKey builds a full cache key from the configured prefix
func redisKey(cfg config.CacheConfig, key string) string {
	return cfg.RedisPrefix + key
}

// HashIP produces a salted, irreversible fingerprint of a client IP. Raw
// addresses are never stored alongside leads or tokens.
func HashIP(salt, ip string) string {
	sum := sha256.Sum256([]byte(salt + ip))
	return hex.EncodeToString(sum[:])
}

// storeLocalDate formats t as a calendar date in the store's IANA timezone.
// Falls back to UTC when the timezone does not load.
func storeLocalDate(timezone string, t time.Time) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// requestIDFromContext extracts the request ID set by the HTTP layer, if any
func requestIDFromContext(ctx context.Context) *string {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(utils.RequestIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}

// ToMerchantDTO converts a merchant model to MerchantDTO for dashboard responses
func ToMerchantDTO(merchant models.Merchant) dto.MerchantDTO {
	d := dto.MerchantDTO{
		ID:        merchant.ID,
		UUID:      merchant.UUID.String(),
		StoreID:   merchant.StoreID,
		Email:     merchant.Email,
		FullName:  merchant.FullName,
		IsActive:  merchant.IsActive,
		CreatedAt: merchant.CreatedAt.Format(time.RFC3339),
	}
	if merchant.LastLoginAt != nil {
		d.LastLoginAt = utils.ToPtr(merchant.LastLoginAt.Format(time.RFC3339))
	}
	return d
}

// ToMerchantSessionDTO converts a session plus its freshly issued tokens to the wire shape
func ToMerchantSessionDTO(session models.MerchantSession, accessToken, refreshToken string) dto.MerchantSessionDTO {
	return dto.MerchantSessionDTO{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(time.Until(session.ExpiresAt).Seconds()),
		TokenType:    "Bearer",
		CreatedAt:    session.CreatedAt.Format(time.RFC3339),
	}
}
