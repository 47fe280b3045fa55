// Package services provides external service integrations and technical concerns like tokens and platform clients
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// TokenService handles JWT token generation and validation for merchant dashboard sessions
type TokenService interface {
	GenerateTokens(merchantID uint) (*IssuedTokens, error)
	ValidateToken(ctx context.Context, token string) (*TokenClaims, error)
	RefreshToken(ctx context.Context, refreshToken string) (*IssuedTokens, error)
	RevokeToken(ctx context.Context, token string) error
	RevokeTokenID(ctx context.Context, tokenID string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, tokenID string) bool
}

// IssuedTokens carries a freshly minted token pair and the jti values the
// session store records for revocation.
type IssuedTokens struct {
	AccessToken    string
	RefreshToken   string
	AccessTokenID  string
	RefreshTokenID string
	ExpiresAt      time.Time
}

// TokenClaims represents the claims in a JWT token
type TokenClaims struct {
	MerchantID uint      `json:"merchant_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TokenType  string    `json:"token_type"` // "access" or "refresh"
	TokenID    string    `json:"jti"`        // JWT ID for token revocation
}

// TokenServiceImpl implements TokenService. Revoked token IDs live in Redis
// with a TTL matching the token's remaining lifetime, so the blacklist
// cleans itself up.
type TokenServiceImpl struct {
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	secretKey       []byte
	issuer          string
	audience        string
	redisClient     *redis.Client
	revokedPrefix   string
}

// NewTokenService creates a new token service
func NewTokenService(accessTokenTTL, refreshTokenTTL time.Duration, issuer, audience, secretKey string, redisClient *redis.Client, cachePrefix string) (TokenService, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}

	return &TokenServiceImpl{
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		secretKey:       []byte(secretKey),
		issuer:          issuer,
		audience:        audience,
		redisClient:     redisClient,
		revokedPrefix:   cachePrefix + utils.RevokedTokenKeyPart + ":",
	}, nil
}

// GenerateTokens generates access and refresh tokens for a merchant
func (s *TokenServiceImpl) GenerateTokens(merchantID uint) (*IssuedTokens, error) {
	now := utils.UTCNow()

	// Generate unique token IDs
	accessTokenID, err := generateTokenID()
	if err != nil {
		return nil, err
	}

	refreshTokenID, err := generateTokenID()
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.accessTokenTTL)

	// Generate access token
	accessClaims := jwt.MapClaims{
		"merchant_id": merchantID,
		"token_type":  "access",
		"jti":         accessTokenID,
		"iat":         now.Unix(),
		"exp":         expiresAt.Unix(),
		"iss":         s.issuer,
		"aud":         s.audience,
	}

	accessToken, err := s.generateToken(accessClaims)
	if err != nil {
		return nil, err
	}

	// Generate refresh token
	refreshClaims := jwt.MapClaims{
		"merchant_id": merchantID,
		"token_type":  "refresh",
		"jti":         refreshTokenID,
		"iat":         now.Unix(),
		"exp":         now.Add(s.refreshTokenTTL).Unix(),
		"iss":         s.issuer,
		"aud":         s.audience,
	}

	refreshToken, err := s.generateToken(refreshClaims)
	if err != nil {
		return nil, err
	}

	return &IssuedTokens{
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		AccessTokenID:  accessTokenID,
		RefreshTokenID: refreshTokenID,
		ExpiresAt:      expiresAt,
	}, nil
}

// ValidateToken validates a JWT token and returns claims
func (s *TokenServiceImpl) ValidateToken(ctx context.Context, token string) (*TokenClaims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (any, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return s.secretKey, nil
	})

	if err != nil {
		// Check if the error is due to token expiration
		if strings.Contains(err.Error(), "expired") || strings.Contains(err.Error(), "exp") {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	// Extract claims
	merchantID, ok := claims["merchant_id"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	tokenType, ok := claims["token_type"].(string)
	if !ok {
		return nil, ErrTokenInvalid
	}

	tokenID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrTokenInvalid
	}

	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	expiresAt, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	// Check if token has expired
	if utils.UTCNow().After(time.Unix(int64(expiresAt), 0)) {
		return nil, ErrTokenExpired
	}

	// Check if token has been revoked
	if s.IsTokenRevoked(ctx, tokenID) {
		return nil, ErrTokenRevoked
	}

	return &TokenClaims{
		MerchantID: uint(merchantID),
		TokenType:  tokenType,
		TokenID:    tokenID,
		IssuedAt:   time.Unix(int64(issuedAt), 0),
		ExpiresAt:  time.Unix(int64(expiresAt), 0),
	}, nil
}

// RefreshToken generates new tokens using a refresh token
func (s *TokenServiceImpl) RefreshToken(ctx context.Context, refreshToken string) (*IssuedTokens, error) {
	// Validate refresh token
	claims, err := s.ValidateToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	if claims.TokenType != "refresh" {
		return nil, fmt.Errorf("token is not a refresh token")
	}

	if utils.UTCNow().After(claims.ExpiresAt) {
		return nil, fmt.Errorf("refresh token has expired")
	}

	// The spent refresh token is blacklisted so it cannot mint a second pair
	if err := s.revokeTokenID(ctx, claims.TokenID, time.Until(claims.ExpiresAt)); err != nil {
		return nil, err
	}

	// Generate new tokens
	return s.GenerateTokens(claims.MerchantID)
}

// RevokeToken validates a token and adds its ID to the Redis blacklist
func (s *TokenServiceImpl) RevokeToken(ctx context.Context, token string) error {
	claims, err := s.ValidateToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return nil
		}
		return err
	}

	return s.revokeTokenID(ctx, claims.TokenID, time.Until(claims.ExpiresAt))
}

// RevokeTokenID blacklists a token by its jti when only the ID is at hand,
// e.g. revoking the refresh token recorded on a session at logout.
func (s *TokenServiceImpl) RevokeTokenID(ctx context.Context, tokenID string, ttl time.Duration) error {
	return s.revokeTokenID(ctx, tokenID, ttl)
}

// IsTokenRevoked checks the token ID against the Redis blacklist. Without a
// cache the check degrades to allow; the session row in Postgres remains the
// source of truth at the middleware.
func (s *TokenServiceImpl) IsTokenRevoked(ctx context.Context, tokenID string) bool {
	if s.redisClient == nil || tokenID == "" {
		return false
	}

	exists, err := s.redisClient.Exists(ctx, s.revokedPrefix+tokenID).Result()
	if err != nil {
		return false
	}

	return exists > 0
}

func (s *TokenServiceImpl) revokeTokenID(ctx context.Context, tokenID string, ttl time.Duration) error {
	if s.redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		return nil
	}

	if err := s.redisClient.Set(ctx, s.revokedPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	return nil
}

// generateToken creates a signed JWT token
func (s *TokenServiceImpl) generateToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", err
	}

	return signedString, nil
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
