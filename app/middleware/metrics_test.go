package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSurface(t *testing.T) {
	assert.Equal(t, "storefront", requestSurface("/api/v1/storefront/campaigns"))
	assert.Equal(t, "webhook", requestSurface("/api/v1/webhooks/orders/create"))
	assert.Equal(t, "auth", requestSurface("/api/v1/auth/login"))
	assert.Equal(t, "dashboard", requestSurface("/api/v1/campaigns"))
	assert.Equal(t, "dashboard", requestSurface("/health"))
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/api/v1/storefront/campaigns", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/storefront/campaigns", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
