// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/app/services"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// LoginFlow handles merchant dashboard authentication
type LoginFlow interface {
	Captcha(ctx context.Context) (*dto.CaptchaResponse, error)
	Login(ctx context.Context, request *dto.LoginRequest, metadata *ClientMetadata) (*dto.LoginResponse, error)
	RefreshToken(ctx context.Context, request *dto.RefreshTokenRequest, metadata *ClientMetadata) (*dto.RefreshTokenResponse, error)
	Logout(ctx context.Context, accessToken string, metadata *ClientMetadata) (*dto.LogoutResponse, error)
}

// LoginFlowImpl implements the login business flow
type LoginFlowImpl struct {
	merchantRepo   repository.MerchantRepository
	sessionRepo    repository.MerchantSessionRepository
	auditRepo      repository.AuditLogRepository
	tokenService   services.TokenService
	captchaService services.CaptchaService
	rateLimitFlow  RateLimitFlow
	db             *gorm.DB
}

// NewLoginFlow creates a new login flow instance
func NewLoginFlow(
	merchantRepo repository.MerchantRepository,
	sessionRepo repository.MerchantSessionRepository,
	auditRepo repository.AuditLogRepository,
	tokenService services.TokenService,
	captchaService services.CaptchaService,
	rateLimitFlow RateLimitFlow,
	db *gorm.DB,
) LoginFlow {
	return &LoginFlowImpl{
		merchantRepo:   merchantRepo,
		sessionRepo:    sessionRepo,
		auditRepo:      auditRepo,
		tokenService:   tokenService,
		captchaService: captchaService,
		rateLimitFlow:  rateLimitFlow,
		db:             db,
	}
}

// Captcha generates a rotate captcha challenge for the login form
func (lf *LoginFlowImpl) Captcha(ctx context.Context) (*dto.CaptchaResponse, error) {
	challenge, err := lf.captchaService.GenerateRotate(ctx)
	if err != nil {
		return nil, NewBusinessError("CAPTCHA_GENERATION_FAILED", "Captcha generation failed", err)
	}

	return &dto.CaptchaResponse{
		CaptchaID:         challenge.ID,
		MasterImageBase64: challenge.MasterImageBase64,
		ThumbImageBase64:  challenge.ThumbImageBase64,
	}, nil
}

// Login authenticates a merchant with email and password
func (lf *LoginFlowImpl) Login(ctx context.Context, request *dto.LoginRequest, metadata *ClientMetadata) (*dto.LoginResponse, error) {
	if err := lf.validateLoginRequest(request); err != nil {
		return nil, NewBusinessError("LOGIN_VALIDATION_FAILED", "Login validation failed", err)
	}

	email := strings.ToLower(strings.TrimSpace(request.Email))

	decision, err := lf.rateLimitFlow.AllowLogin(ctx, email)
	if err == nil && !decision.Allowed {
		return nil, NewBusinessError("LOGIN_RATE_LIMITED", "Too many login attempts",
			&RateLimitExceededError{ResetAt: decision.ResetAt})
	}

	if !lf.captchaService.VerifyRotate(ctx, request.CaptchaID, request.CaptchaAngle) {
		return nil, NewBusinessError("LOGIN_CAPTCHA_FAILED", "Captcha verification failed", ErrCaptchaFailed)
	}

	var merchant *models.Merchant

	resp, err := lf.WithLoginTransaction(ctx, func(ctx context.Context) (*dto.LoginResponse, error) {
		var err error
		merchant, err = lf.merchantRepo.ByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if merchant == nil {
			return nil, ErrMerchantNotFound
		}

		if !merchant.CanLogin() {
			return nil, ErrMerchantInactive
		}

		if err := bcrypt.CompareHashAndPassword([]byte(merchant.PasswordHash), []byte(request.Password)); err != nil {
			return nil, ErrIncorrectPassword
		}

		session, tokens, err := lf.CreateSession(ctx, merchant.ID, metadata)
		if err != nil {
			return nil, err
		}

		if err := lf.merchantRepo.UpdateLastLogin(ctx, merchant.ID, utils.UTCNow()); err != nil {
			return nil, err
		}

		return &dto.LoginResponse{
			Merchant: ToMerchantDTO(*merchant),
			Session:  ToMerchantSessionDTO(*session, tokens.AccessToken, tokens.RefreshToken),
		}, nil
	})

	if err != nil {
		errMsg := fmt.Sprintf("Login failed: %s", err.Error())
		_ = lf.LogLoginAttempt(ctx, merchant, models.AuditActionLoginFailed, errMsg, false, &errMsg, metadata)

		return nil, NewBusinessError("LOGIN_FAILED", "Login failed", err)
	}

	msg := fmt.Sprintf("Merchant logged in successfully: %d", resp.Merchant.ID)
	_ = lf.LogLoginAttempt(ctx, merchant, models.AuditActionLoginSuccess, msg, true, nil, metadata)

	return resp, nil
}

// RefreshToken rotates a token pair. The spent refresh token is blacklisted
// inside the token service; the session row moves to the new jti values so
// the middleware keeps recognizing it.
func (lf *LoginFlowImpl) RefreshToken(ctx context.Context, request *dto.RefreshTokenRequest, metadata *ClientMetadata) (*dto.RefreshTokenResponse, error) {
	if request == nil || request.RefreshToken == "" {
		return nil, NewBusinessError("REFRESH_VALIDATION_FAILED", "Refresh validation failed", ErrTokenInvalid)
	}

	claims, err := lf.tokenService.ValidateToken(ctx, request.RefreshToken)
	if err != nil {
		return nil, NewBusinessError("REFRESH_FAILED", "Token refresh failed", ErrTokenInvalid)
	}
	if claims.TokenType != "refresh" {
		return nil, NewBusinessError("REFRESH_FAILED", "Token refresh failed", ErrTokenInvalid)
	}

	var merchant *models.Merchant

	resp, err := lf.WithRefreshTransaction(ctx, func(ctx context.Context) (*dto.RefreshTokenResponse, error) {
		session, err := lf.sessionRepo.ByRefreshTokenID(ctx, claims.TokenID)
		if err != nil {
			return nil, err
		}
		if session == nil || !session.IsValid() {
			return nil, ErrSessionNotFound
		}

		merchant, err = lf.merchantRepo.ByID(ctx, session.MerchantID)
		if err != nil {
			return nil, err
		}
		if merchant == nil || !merchant.CanLogin() {
			return nil, ErrMerchantInactive
		}

		tokens, err := lf.tokenService.RefreshToken(ctx, request.RefreshToken)
		if err != nil {
			return nil, ErrTokenInvalid
		}

		if err := lf.sessionRepo.RotateTokens(ctx, session.ID, tokens.AccessTokenID, &tokens.RefreshTokenID, tokens.ExpiresAt); err != nil {
			return nil, err
		}

		rotated := *session
		rotated.AccessTokenID = tokens.AccessTokenID
		rotated.RefreshTokenID = &tokens.RefreshTokenID
		rotated.ExpiresAt = tokens.ExpiresAt

		return &dto.RefreshTokenResponse{
			Session: ToMerchantSessionDTO(rotated, tokens.AccessToken, tokens.RefreshToken),
		}, nil
	})

	if err != nil {
		errMsg := fmt.Sprintf("Token refresh failed: %s", err.Error())
		_ = lf.LogLoginAttempt(ctx, merchant, models.AuditActionTokenRefreshed, errMsg, false, &errMsg, metadata)

		return nil, NewBusinessError("REFRESH_FAILED", "Token refresh failed", err)
	}

	msg := "Token pair rotated"
	_ = lf.LogLoginAttempt(ctx, merchant, models.AuditActionTokenRefreshed, msg, true, nil, metadata)

	return resp, nil
}

// Logout revokes the session and blacklists both outstanding tokens
func (lf *LoginFlowImpl) Logout(ctx context.Context, accessToken string, metadata *ClientMetadata) (*dto.LogoutResponse, error) {
	claims, err := lf.tokenService.ValidateToken(ctx, accessToken)
	if err != nil {
		return nil, NewBusinessError("LOGOUT_FAILED", "Logout failed", ErrTokenInvalid)
	}

	var merchant *models.Merchant

	resp, err := lf.WithLogoutTransaction(ctx, func(ctx context.Context) (*dto.LogoutResponse, error) {
		session, err := lf.sessionRepo.ByAccessTokenID(ctx, claims.TokenID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrSessionNotFound
		}

		merchant, err = lf.merchantRepo.ByID(ctx, session.MerchantID)
		if err != nil {
			return nil, err
		}

		if err := lf.sessionRepo.RevokeSession(ctx, session.ID); err != nil {
			return nil, err
		}

		if err := lf.tokenService.RevokeToken(ctx, accessToken); err != nil {
			return nil, err
		}
		if session.RefreshTokenID != nil {
			refreshTTL := time.Until(session.ExpiresAt) + utils.RefreshTokenTTL
			if err := lf.tokenService.RevokeTokenID(ctx, *session.RefreshTokenID, refreshTTL); err != nil {
				return nil, err
			}
		}

		return &dto.LogoutResponse{Message: "Logged out"}, nil
	})

	if err != nil {
		errMsg := fmt.Sprintf("Logout failed: %s", err.Error())
		_ = lf.LogLoginAttempt(ctx, merchant, models.AuditActionSessionRevoked, errMsg, false, &errMsg, metadata)

		return nil, NewBusinessError("LOGOUT_FAILED", "Logout failed", err)
	}

	msg := "Session revoked on logout"
	_ = lf.LogLoginAttempt(ctx, merchant, models.AuditActionSessionRevoked, msg, true, nil, metadata)

	return resp, nil
}

// CreateSession issues a token pair and records the session row holding
// both jti values for revocation checks.
func (lf *LoginFlowImpl) CreateSession(ctx context.Context, merchantID uint, metadata *ClientMetadata) (*models.MerchantSession, *services.IssuedTokens, error) {
	tokens, err := lf.tokenService.GenerateTokens(merchantID)
	if err != nil {
		return nil, nil, err
	}

	ipAddress := "127.0.0.1"
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	now := utils.UTCNow()
	session := &models.MerchantSession{
		MerchantID:     merchantID,
		CorrelationID:  uuid.New(),
		AccessTokenID:  tokens.AccessTokenID,
		RefreshTokenID: &tokens.RefreshTokenID,
		IPAddress:      &ipAddress,
		UserAgent:      &userAgent,
		IsActive:       utils.ToPtr(true),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      tokens.ExpiresAt,
	}

	if err := lf.sessionRepo.Save(ctx, session); err != nil {
		return nil, nil, err
	}

	return session, tokens, nil
}

func (lf *LoginFlowImpl) LogLoginAttempt(ctx context.Context, merchant *models.Merchant, action string, description string, success bool, errMsg *string, metadata *ClientMetadata) error {
	var merchantID *uint
	var storeID *uint
	if merchant != nil {
		merchantID = &merchant.ID
		storeID = &merchant.StoreID
	}

	ipAddress := "127.0.0.1"
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		MerchantID:   merchantID,
		StoreID:      storeID,
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errMsg,
		RequestID:    requestIDFromContext(ctx),
	}

	return lf.auditRepo.Save(ctx, audit)
}

func (lf *LoginFlowImpl) WithLoginTransaction(ctx context.Context, fn func(context.Context) (*dto.LoginResponse, error)) (*dto.LoginResponse, error) {
	var result *dto.LoginResponse
	var fnErr error

	err := repository.WithTransaction(ctx, lf.db, func(ctx context.Context) error {
		result, fnErr = fn(ctx)
		return fnErr
	})

	if err != nil {
		return nil, err
	}
	return result, fnErr
}

func (lf *LoginFlowImpl) WithRefreshTransaction(ctx context.Context, fn func(context.Context) (*dto.RefreshTokenResponse, error)) (*dto.RefreshTokenResponse, error) {
	var result *dto.RefreshTokenResponse
	var fnErr error

	err := repository.WithTransaction(ctx, lf.db, func(ctx context.Context) error {
		result, fnErr = fn(ctx)
		return fnErr
	})

	if err != nil {
		return nil, err
	}
	return result, fnErr
}

func (lf *LoginFlowImpl) WithLogoutTransaction(ctx context.Context, fn func(context.Context) (*dto.LogoutResponse, error)) (*dto.LogoutResponse, error) {
	var result *dto.LogoutResponse
	var fnErr error

	err := repository.WithTransaction(ctx, lf.db, func(ctx context.Context) error {
		result, fnErr = fn(ctx)
		return fnErr
	})

	if err != nil {
		return nil, err
	}
	return result, fnErr
}

func (lf *LoginFlowImpl) validateLoginRequest(request *dto.LoginRequest) error {
	if request == nil || strings.TrimSpace(request.Email) == "" {
		return ErrMerchantNotFound
	}
	if request.Password == "" {
		return ErrIncorrectPassword
	}
	if request.CaptchaID == "" {
		return ErrCaptchaRequired
	}
	return nil
}
