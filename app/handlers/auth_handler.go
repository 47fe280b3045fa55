// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	businessflow "github.com/amirphl/Nurikabe/business_flow"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// AuthHandlerInterface defines the contract for authentication handlers
type AuthHandlerInterface interface {
	Captcha(c fiber.Ctx) error
	Login(c fiber.Ctx) error
	RefreshToken(c fiber.Ctx) error
	Logout(c fiber.Ctx) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	loginFlow businessflow.LoginFlow
	validator *validator.Validate
}

func (h *AuthHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *AuthHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(loginFlow businessflow.LoginFlow) *AuthHandler {
	return &AuthHandler{
		loginFlow: loginFlow,
		validator: validator.New(),
	}
}

// Captcha issues a rotation captcha challenge for the login form
// @Summary Login Captcha
// @Description Generate a rotation captcha challenge required for merchant login
// @Tags Authentication
// @Accept json
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.CaptchaResponse} "Captcha generated successfully"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/auth/captcha [get]
func (h *AuthHandler) Captcha(c fiber.Ctx) error {
	result, err := h.loginFlow.Captcha(h.createRequestContext(c, "/api/v1/auth/captcha"))
	if err != nil {
		log.Println("Captcha generation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Captcha generation failed", "CAPTCHA_GENERATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Captcha generated", result)
}

// Login handles merchant authentication
// @Summary Merchant Login
// @Description Authenticate a merchant with email, password and captcha
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Login credentials"
// @Success 200 {object} dto.APIResponse{data=dto.LoginResponse} "Login successful with tokens"
// @Failure 400 {object} dto.APIResponse "Invalid request or captcha"
// @Failure 401 {object} dto.APIResponse "Authentication failed"
// @Failure 429 {object} dto.APIResponse "Too many login attempts"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	// Validate request
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	// Call business logic with proper context
	result, err := h.loginFlow.Login(h.createRequestContext(c, "/api/v1/auth/login"), &req, metadata)
	if err != nil {
		// Handle specific business errors
		if businessflow.IsRateLimitExceeded(err) {
			if secs := businessflow.RetryAfterSeconds(err); secs > 0 {
				c.Set("Retry-After", strconv.Itoa(secs))
			}
			return h.ErrorResponse(c, fiber.StatusTooManyRequests, "Too many login attempts", "RATE_LIMIT_EXCEEDED", nil)
		}
		if businessflow.IsCaptchaFailed(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Captcha verification failed", "CAPTCHA_FAILED", nil)
		}
		if businessflow.IsMerchantNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", "INVALID_CREDENTIALS", nil)
		}
		if businessflow.IsMerchantInactive(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Merchant account is inactive", "MERCHANT_INACTIVE", nil)
		}
		if businessflow.IsIncorrectPassword(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", "INVALID_CREDENTIALS", nil)
		}

		log.Println("Login failed", err)
		// Handle generic business errors
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Login failed", "LOGIN_FAILED", nil)
	}

	// Successful login - return tokens and merchant info
	return h.SuccessResponse(c, fiber.StatusOK, "Login successful", result)
}

// RefreshToken rotates an access/refresh token pair
// @Summary Refresh Tokens
// @Description Exchange a valid refresh token for a new token pair
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.RefreshTokenRequest true "Refresh token"
// @Success 200 {object} dto.APIResponse{data=dto.RefreshTokenResponse} "Tokens refreshed successfully"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Refresh token invalid or expired"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) RefreshToken(c fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	// Validate request
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	// Call business logic with proper context
	result, err := h.loginFlow.RefreshToken(h.createRequestContext(c, "/api/v1/auth/refresh"), &req, metadata)
	if err != nil {
		// Handle specific business errors
		if businessflow.IsTokenExpired(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Refresh token has expired", "TOKEN_EXPIRED", nil)
		}
		if businessflow.IsTokenInvalid(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", "TOKEN_INVALID", nil)
		}
		if businessflow.IsSessionExpired(err) || businessflow.IsSessionNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Session is no longer active", "SESSION_EXPIRED", nil)
		}
		if businessflow.IsMerchantInactive(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Merchant account is inactive", "MERCHANT_INACTIVE", nil)
		}

		log.Println("Token refresh failed", err)
		// Handle generic business errors
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Token refresh failed", "TOKEN_REFRESH_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Tokens refreshed", result)
}

// Logout revokes the current session and blacklists its tokens
// @Summary Merchant Logout
// @Description Revoke the session bound to the presented access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.LogoutResponse} "Logged out successfully"
// @Failure 401 {object} dto.APIResponse "Invalid or missing access token"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/auth/logout [post]
// @Security BearerAuth
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" || token == authHeader {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Access token is required", "MISSING_ACCESS_TOKEN", nil)
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	// Call business logic with proper context
	result, err := h.loginFlow.Logout(h.createRequestContext(c, "/api/v1/auth/logout"), token, metadata)
	if err != nil {
		// Handle specific business errors
		if businessflow.IsTokenInvalid(err) || businessflow.IsTokenExpired(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid access token", "TOKEN_INVALID", nil)
		}
		if businessflow.IsSessionNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Session not found", "SESSION_NOT_FOUND", nil)
		}

		log.Println("Logout failed", err)
		// Handle generic business errors
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Logout failed", "LOGOUT_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Logged out", result)
}

// Health handles health check requests
// @Summary Health Check
// @Description Check the health status of the API
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} dto.APIResponse "Service is healthy"
// @Router /api/v1/health [get]
func (h *AuthHandler) Health(c fiber.Ctx) error {
	return h.SuccessResponse(c, fiber.StatusOK, "Auth service is healthy", fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "auth-handler",
	})
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *AuthHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

// createRequestContextWithTimeout creates a context with custom timeout and request-scoped values
func (h *AuthHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	// Create context with custom timeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel) // Store cancel function for cleanup

	return ctx
}
