// Package services provides external service integrations and technical concerns like tokens and platform clients
package services

import (
	"context"
	"testing"
	"time"

	testingutil "github.com/amirphl/Nurikabe/testing"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestTokenService creates a token service without a Redis blacklist.
// Revocation tests build their own service around a test Redis client.
func createTestTokenService() (TokenService, error) {
	return NewTokenService(
		15*time.Minute,
		7*24*time.Hour,
		"test-issuer",
		"test-audience",
		"test-secret-key-for-jwt-signing-32-chars",
		nil, // redisClient
		"test:",
	)
}

func createRedisTokenService(rc *redis.Client) (TokenService, error) {
	return NewTokenService(
		15*time.Minute,
		7*24*time.Hour,
		"test-issuer",
		"test-audience",
		"test-secret-key-for-jwt-signing-32-chars",
		rc,
		"test:",
	)
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name            string
		accessTokenTTL  time.Duration
		refreshTokenTTL time.Duration
		issuer          string
		audience        string
		secretKey       string
		expectError     bool
	}{
		{
			name:            "valid configuration",
			accessTokenTTL:  15 * time.Minute,
			refreshTokenTTL: 7 * 24 * time.Hour,
			issuer:          "test-issuer",
			audience:        "test-audience",
			secretKey:       "test-secret-key-for-jwt-signing-32-chars",
			expectError:     false,
		},
		{
			name:            "missing secret key",
			accessTokenTTL:  15 * time.Minute,
			refreshTokenTTL: 7 * 24 * time.Hour,
			issuer:          "test-issuer",
			audience:        "test-audience",
			secretKey:       "",
			expectError:     true,
		},
		{
			name:            "empty issuer and audience",
			accessTokenTTL:  15 * time.Minute,
			refreshTokenTTL: 7 * 24 * time.Hour,
			issuer:          "",
			audience:        "",
			secretKey:       "test-secret-key-for-jwt-signing-32-chars",
			expectError:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(
				tt.accessTokenTTL,
				tt.refreshTokenTTL,
				tt.issuer,
				tt.audience,
				tt.secretKey,
				nil,
				"test:",
			)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, service)
			}
		})
	}
}

func TestGenerateTokens(t *testing.T) {
	service, err := createTestTokenService()
	require.NoError(t, err)

	issued, err := service.GenerateTokens(42)
	require.NoError(t, err)
	require.NotNil(t, issued)

	assert.NotEmpty(t, issued.AccessToken)
	assert.NotEmpty(t, issued.RefreshToken)
	assert.NotEqual(t, issued.AccessToken, issued.RefreshToken)
	assert.NotEmpty(t, issued.AccessTokenID)
	assert.NotEmpty(t, issued.RefreshTokenID)
	assert.NotEqual(t, issued.AccessTokenID, issued.RefreshTokenID)
	assert.True(t, issued.ExpiresAt.After(time.Now().UTC()))

	t.Run("token IDs unique across pairs", func(t *testing.T) {
		second, err := service.GenerateTokens(42)
		require.NoError(t, err)
		assert.NotEqual(t, issued.AccessTokenID, second.AccessTokenID)
		assert.NotEqual(t, issued.RefreshTokenID, second.RefreshTokenID)
	})
}

func TestValidateToken(t *testing.T) {
	service, err := createTestTokenService()
	require.NoError(t, err)
	ctx := context.Background()

	issued, err := service.GenerateTokens(42)
	require.NoError(t, err)

	t.Run("valid access token", func(t *testing.T) {
		claims, err := service.ValidateToken(ctx, issued.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.MerchantID)
		assert.Equal(t, "access", claims.TokenType)
		assert.Equal(t, issued.AccessTokenID, claims.TokenID)
		assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
	})

	t.Run("valid refresh token", func(t *testing.T) {
		claims, err := service.ValidateToken(ctx, issued.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.MerchantID)
		assert.Equal(t, "refresh", claims.TokenType)
		assert.Equal(t, issued.RefreshTokenID, claims.TokenID)
	})

	t.Run("garbage token", func(t *testing.T) {
		claims, err := service.ValidateToken(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, ErrTokenInvalid)
		assert.Nil(t, claims)
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := issued.AccessToken[:len(issued.AccessToken)-4] + "AAAA"
		claims, err := service.ValidateToken(ctx, tampered)
		assert.ErrorIs(t, err, ErrTokenInvalid)
		assert.Nil(t, claims)
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		other, err := NewTokenService(
			15*time.Minute, 7*24*time.Hour,
			"test-issuer", "test-audience",
			"a-completely-different-signing-key-here",
			nil, "test:",
		)
		require.NoError(t, err)

		foreign, err := other.GenerateTokens(42)
		require.NoError(t, err)

		claims, err := service.ValidateToken(ctx, foreign.AccessToken)
		assert.ErrorIs(t, err, ErrTokenInvalid)
		assert.Nil(t, claims)
	})

	t.Run("expired token", func(t *testing.T) {
		shortLived, err := NewTokenService(
			-1*time.Minute, 7*24*time.Hour,
			"test-issuer", "test-audience",
			"test-secret-key-for-jwt-signing-32-chars",
			nil, "test:",
		)
		require.NoError(t, err)

		expired, err := shortLived.GenerateTokens(42)
		require.NoError(t, err)

		claims, err := service.ValidateToken(ctx, expired.AccessToken)
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.Nil(t, claims)
	})
}

func TestRefreshToken(t *testing.T) {
	service, err := createTestTokenService()
	require.NoError(t, err)
	ctx := context.Background()

	issued, err := service.GenerateTokens(42)
	require.NoError(t, err)

	t.Run("refresh with refresh token", func(t *testing.T) {
		renewed, err := service.RefreshToken(ctx, issued.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, renewed.AccessToken)
		assert.NotEmpty(t, renewed.RefreshToken)
		assert.NotEqual(t, issued.AccessTokenID, renewed.AccessTokenID)
		assert.NotEqual(t, issued.RefreshTokenID, renewed.RefreshTokenID)

		claims, err := service.ValidateToken(ctx, renewed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.MerchantID)
	})

	t.Run("refresh with access token is rejected", func(t *testing.T) {
		renewed, err := service.RefreshToken(ctx, issued.AccessToken)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not a refresh token")
		assert.Nil(t, renewed)
	})

	t.Run("refresh with garbage is rejected", func(t *testing.T) {
		renewed, err := service.RefreshToken(ctx, "junk")
		assert.Error(t, err)
		assert.Nil(t, renewed)
	})
}

func TestTokenRevocation(t *testing.T) {
	rc := testingutil.SetupTestRedis()
	if rc == nil {
		t.Skip("test Redis not available")
	}
	defer rc.Close()

	service, err := createRedisTokenService(rc)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("revoked access token fails validation", func(t *testing.T) {
		issued, err := service.GenerateTokens(7)
		require.NoError(t, err)

		_, err = service.ValidateToken(ctx, issued.AccessToken)
		require.NoError(t, err)

		require.NoError(t, service.RevokeToken(ctx, issued.AccessToken))
		assert.True(t, service.IsTokenRevoked(ctx, issued.AccessTokenID))

		claims, err := service.ValidateToken(ctx, issued.AccessToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
		assert.Nil(t, claims)
	})

	t.Run("revoking twice is a no-op", func(t *testing.T) {
		issued, err := service.GenerateTokens(7)
		require.NoError(t, err)

		require.NoError(t, service.RevokeToken(ctx, issued.AccessToken))
		require.NoError(t, service.RevokeToken(ctx, issued.AccessToken))
	})

	t.Run("revoke by token ID", func(t *testing.T) {
		issued, err := service.GenerateTokens(7)
		require.NoError(t, err)

		require.NoError(t, service.RevokeTokenID(ctx, issued.RefreshTokenID, time.Hour))
		assert.True(t, service.IsTokenRevoked(ctx, issued.RefreshTokenID))

		claims, err := service.ValidateToken(ctx, issued.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
		assert.Nil(t, claims)
	})

	t.Run("spent refresh token cannot mint a second pair", func(t *testing.T) {
		issued, err := service.GenerateTokens(7)
		require.NoError(t, err)

		first, err := service.RefreshToken(ctx, issued.RefreshToken)
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := service.RefreshToken(ctx, issued.RefreshToken)
		assert.Error(t, err)
		assert.Nil(t, second)
		assert.True(t, service.IsTokenRevoked(ctx, issued.RefreshTokenID))
	})

	t.Run("unknown token ID is not revoked", func(t *testing.T) {
		assert.False(t, service.IsTokenRevoked(ctx, "no-such-jti"))
	})
}
