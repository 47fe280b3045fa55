// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/app/services"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/gofiber/fiber/v3"
)

// AuthMiddleware handles JWT token validation for the merchant dashboard endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
	merchantRepo repository.MerchantRepository
	sessionRepo  repository.MerchantSessionRepository
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService, merchantRepo repository.MerchantRepository, sessionRepo repository.MerchantSessionRepository) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		merchantRepo: merchantRepo,
		sessionRepo:  sessionRepo,
	}
}

// Authenticate is the middleware function that validates JWT tokens
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Get the Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Authorization header is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_AUTHORIZATION_HEADER",
				},
			})
		}

		// Check if the header starts with "Bearer "
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid authorization header format. Expected 'Bearer <token>'",
				Error: dto.ErrorDetail{
					Code: "INVALID_AUTHORIZATION_FORMAT",
				},
			})
		}

		// Extract the token (remove "Bearer " prefix)
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Access token is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_ACCESS_TOKEN",
				},
			})
		}

		ctx := context.Background()

		// Validate the token (this already checks for revocation)
		claims, err := m.tokenService.ValidateToken(ctx, token)
		if err != nil {
			var errorCode string
			var message string

			// Determine the specific error type
			if errors.Is(err, services.ErrTokenExpired) {
				errorCode = "TOKEN_EXPIRED"
				message = "Access token has expired"
			} else if errors.Is(err, services.ErrTokenInvalid) {
				errorCode = "TOKEN_INVALID"
				message = "Invalid access token"
			} else if errors.Is(err, services.ErrTokenRevoked) {
				errorCode = "TOKEN_REVOKED"
				message = "Access token has been revoked"
			} else {
				errorCode = "TOKEN_VALIDATION_FAILED"
				message = "Token validation failed"
			}

			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: message,
				Error: dto.ErrorDetail{
					Code: errorCode,
				},
			})
		}

		// Refresh tokens never authorize API calls directly
		if claims.TokenType != "access" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid access token",
				Error: dto.ErrorDetail{
					Code: "TOKEN_INVALID",
				},
			})
		}

		// The token must still be bound to a live session; logout revokes
		// the session even when the JWT itself has not expired yet
		session, err := m.sessionRepo.ByAccessTokenID(ctx, claims.TokenID)
		if err != nil || session == nil || !session.IsValid() {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Session is no longer active",
				Error: dto.ErrorDetail{
					Code: "SESSION_EXPIRED",
				},
			})
		}

		merchant, err := m.merchantRepo.ByID(ctx, claims.MerchantID)
		if err != nil || merchant == nil || !merchant.CanLogin() {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Merchant account is inactive",
				Error: dto.ErrorDetail{
					Code: "MERCHANT_INACTIVE",
				},
			})
		}

		// Best effort; a stale last_accessed_at is harmless
		_ = m.sessionRepo.Touch(ctx, session.ID)

		// Store merchant information in context for downstream handlers
		c.Locals("merchant_id", claims.MerchantID)
		c.Locals("merchant", merchant)
		c.Locals("token_id", claims.TokenID)
		c.Locals("token_claims", claims)

		// Store RequestID for audit logging
		if requestID := c.Get("X-Request-ID"); requestID != "" {
			c.Locals("request_id", requestID)
		}

		// Continue to the next handler
		return c.Next()
	}
}

// GetMerchantIDFromContext extracts the merchant ID from the request context
func GetMerchantIDFromContext(c fiber.Ctx) (uint, bool) {
	merchantID, ok := c.Locals("merchant_id").(uint)
	return merchantID, ok
}

// GetMerchantFromContext extracts the authenticated merchant from the request context
func GetMerchantFromContext(c fiber.Ctx) (*models.Merchant, bool) {
	merchant, ok := c.Locals("merchant").(*models.Merchant)
	return merchant, ok
}

// GetTokenClaimsFromContext extracts token claims from the request context
func GetTokenClaimsFromContext(c fiber.Ctx) (*services.TokenClaims, bool) {
	claims, ok := c.Locals("token_claims").(*services.TokenClaims)
	return claims, ok
}

// RequireAuth is a helper function that ensures authentication is required
func RequireAuth(c fiber.Ctx) error {
	merchantID, exists := GetMerchantIDFromContext(c)
	if !exists {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
			Success: false,
			Message: "Authentication required",
			Error: dto.ErrorDetail{
				Code: "AUTHENTICATION_REQUIRED",
			},
		})
	}

	// Check if merchant ID is valid
	if merchantID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
			Success: false,
			Message: "Invalid merchant ID",
			Error: dto.ErrorDetail{
				Code: "INVALID_MERCHANT_ID",
			},
		})
	}

	return nil
}
