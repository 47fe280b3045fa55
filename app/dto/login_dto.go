// Package dto contains Data Transfer Objects for API request and response structures
package dto

// LoginRequest represents the request payload for merchant dashboard login
type LoginRequest struct {
	Email        string  `json:"email" validate:"required,email,max=320" example:"owner@acme-store.com"`
	Password     string  `json:"password" validate:"required,min=8,max=100" example:"SecurePass123!"`
	CaptchaID    string  `json:"captcha_id" validate:"required" example:"c0a80121-7ac0-4e1c-9b1d-1c3f1c6e7a10"`
	CaptchaAngle float64 `json:"captcha_angle" validate:"gte=0,lte=360" example:"137.5"`
}

// MerchantDTO represents merchant information returned in dashboard responses
type MerchantDTO struct {
	ID          uint    `json:"id" example:"123"`
	UUID        string  `json:"uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	StoreID     uint    `json:"store_id" example:"42"`
	Email       string  `json:"email" example:"owner@acme-store.com"`
	FullName    string  `json:"full_name" example:"Jordan Smith"`
	IsActive    *bool   `json:"is_active" example:"true"`
	CreatedAt   string  `json:"created_at" example:"2024-01-15T10:30:00Z"`
	LastLoginAt *string `json:"last_login_at,omitempty" example:"2024-02-01T08:00:00Z"`
}

// MerchantSessionDTO represents an issued token pair
type MerchantSessionDTO struct {
	AccessToken  string `json:"access_token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	RefreshToken string `json:"refresh_token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	TokenType    string `json:"token_type" example:"Bearer"`
	ExpiresIn    int    `json:"expires_in" example:"86400"`
	CreatedAt    string `json:"created_at" example:"2024-01-15T10:30:00Z"`
}

// LoginResponse represents the successful login response
type LoginResponse struct {
	Merchant MerchantDTO        `json:"merchant"`
	Session  MerchantSessionDTO `json:"session"`
}

// RefreshTokenRequest represents the request to rotate a token pair
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// RefreshTokenResponse represents the rotated token pair
type RefreshTokenResponse struct {
	Session MerchantSessionDTO `json:"session"`
}

// LogoutResponse confirms session revocation
type LogoutResponse struct {
	Message string `json:"message" example:"Logged out"`
}

// CaptchaResponse carries a generated rotate captcha challenge for the login form
type CaptchaResponse struct {
	CaptchaID         string `json:"captcha_id" example:"c0a80121-7ac0-4e1c-9b1d-1c3f1c6e7a10"`
	MasterImageBase64 string `json:"master_image_base64"`
	ThumbImageBase64  string `json:"thumb_image_base64"`
}

// Common error codes for login operations
const (
	ErrorMerchantNotFound  = "MERCHANT_NOT_FOUND"
	ErrorIncorrectPassword = "INCORRECT_PASSWORD"
	ErrorAccountInactive   = "ACCOUNT_INACTIVE"
	ErrorCaptchaFailed     = "CAPTCHA_FAILED"
	ErrorTooManyAttempts   = "TOO_MANY_ATTEMPTS"
)
