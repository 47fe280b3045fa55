// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MerchantSessionRepositoryImpl implements MerchantSessionRepository interface
type MerchantSessionRepositoryImpl struct {
	*BaseRepository[models.MerchantSession, models.MerchantSessionFilter]
}

// NewMerchantSessionRepository creates a new merchant session repository
func NewMerchantSessionRepository(db *gorm.DB) MerchantSessionRepository {
	return &MerchantSessionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MerchantSession, models.MerchantSessionFilter](db),
	}
}

// ByAccessTokenID retrieves the live session holding the given access token jti
func (r *MerchantSessionRepositoryImpl) ByAccessTokenID(ctx context.Context, tokenID string) (*models.MerchantSession, error) {
	db := r.getDB(ctx)

	var session models.MerchantSession
	err := db.Where("access_token_id = ? AND is_active = ? AND expires_at > ?",
		tokenID, true, time.Now()).
		Preload("Merchant").
		First(&session).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session by access token ID: %w", err)
	}

	return &session, nil
}

// ByRefreshTokenID retrieves the live session holding the given refresh token jti
func (r *MerchantSessionRepositoryImpl) ByRefreshTokenID(ctx context.Context, tokenID string) (*models.MerchantSession, error) {
	db := r.getDB(ctx)

	var session models.MerchantSession
	err := db.Where("refresh_token_id = ? AND is_active = ? AND expires_at > ?",
		tokenID, true, time.Now()).
		Preload("Merchant").
		First(&session).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session by refresh token ID: %w", err)
	}

	return &session, nil
}

// RotateTokens swaps the jti pair stored on a session after a refresh. The
// old access token's jti is gone from the row afterwards, so lookups by the
// superseded jti fail even before its revocation entry lands in the cache.
func (r *MerchantSessionRepositoryImpl) RotateTokens(ctx context.Context, sessionID uint, accessTokenID string, refreshTokenID *string, expiresAt time.Time) error {
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

	err = db.Model(&models.MerchantSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"access_token_id":  accessTokenID,
			"refresh_token_id": refreshTokenID,
			"expires_at":       expiresAt,
			"last_accessed_at": utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to rotate session tokens: %w", err)
	}

	return nil
}

// RevokeSession deactivates one session and stamps the revocation time
func (r *MerchantSessionRepositoryImpl) RevokeSession(ctx context.Context, sessionID uint) error {
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
	err = db.Model(&models.MerchantSession{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	return nil
}

// RevokeAllMerchantSessions deactivates every live session of a merchant
func (r *MerchantSessionRepositoryImpl) RevokeAllMerchantSessions(ctx context.Context, merchantID uint) error {
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
	err = db.Model(&models.MerchantSession{}).
		Where("merchant_id = ? AND is_active = ?", merchantID, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke merchant sessions: %w", err)
	}

	return nil
}

// Touch updates the last accessed time of a session
func (r *MerchantSessionRepositoryImpl) Touch(ctx context.Context, sessionID uint) error {
	db := r.getDB(ctx)

	return db.Model(&models.MerchantSession{}).
		Where("id = ?", sessionID).
		Update("last_accessed_at", utils.UTCNow()).Error
}

// CleanupExpiredSessions deactivates sessions that expired naturally but are
// still marked active
func (r *MerchantSessionRepositoryImpl) CleanupExpiredSessions(ctx context.Context) error {
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

	err = db.Model(&models.MerchantSession{}).
		Where("is_active = ? AND expires_at <= ?", true, time.Now()).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}

	return nil
}

// GetLatestByCorrelationID retrieves the most recent session record in a correlation group
func (r *MerchantSessionRepositoryImpl) GetLatestByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*models.MerchantSession, error) {
	db := r.getDB(ctx)

	var session models.MerchantSession
	err := db.Where("correlation_id = ?", correlationID).
		Order("created_at DESC").
		Preload("Merchant").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session by correlation ID: %w", err)
	}

	return &session, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *MerchantSessionRepositoryImpl) applyFilter(db *gorm.DB, filter models.MerchantSessionFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CorrelationID != nil {
		db = db.Where("correlation_id = ?", *filter.CorrelationID)
	}
	if filter.MerchantID != nil {
		db = db.Where("merchant_id = ?", *filter.MerchantID)
	}
	if filter.AccessTokenID != nil {
		db = db.Where("access_token_id = ?", *filter.AccessTokenID)
	}
	if filter.RefreshTokenID != nil {
		db = db.Where("refresh_token_id = ?", *filter.RefreshTokenID)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	if filter.IPAddress != nil {
		db = db.Where("ip_address = ?", *filter.IPAddress)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.ExpiresAfter != nil {
		db = db.Where("expires_at >= ?", *filter.ExpiresAfter)
	}
	if filter.ExpiresBefore != nil {
		db = db.Where("expires_at < ?", *filter.ExpiresBefore)
	}
	if filter.IsExpired != nil && *filter.IsExpired {
		db = db.Where("expires_at <= ?", time.Now())
	}

	return db
}

// ByFilter retrieves sessions based on filter criteria
func (r *MerchantSessionRepositoryImpl) ByFilter(ctx context.Context, filter models.MerchantSessionFilter, orderBy string, limit, offset int) ([]*models.MerchantSession, error) {
	db := r.getDB(ctx)

	var sessions []*models.MerchantSession
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

	err := query.Find(&sessions).Error
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// Count returns the number of sessions matching the filter
func (r *MerchantSessionRepositoryImpl) Count(ctx context.Context, filter models.MerchantSessionFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.MerchantSession{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any session matching the filter exists
func (r *MerchantSessionRepositoryImpl) Exists(ctx context.Context, filter models.MerchantSessionFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
