// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	businessflow "github.com/amirphl/Nurikabe/business_flow"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/gofiber/fiber/v3"
)

// Webhook headers set by the host platform
const (
	WebhookShopDomainHeader = "X-Shopify-Shop-Domain"
	WebhookHmacHeader       = "X-Shopify-Hmac-Sha256"
	WebhookTopicHeader      = "X-Shopify-Topic"
)

// WebhookHandlerInterface defines the contract for platform webhook handlers
type WebhookHandlerInterface interface {
	OrderCreate(c fiber.Ctx) error
}

// WebhookHandler receives order webhooks from the host platform and hands
// them to attribution. Signature failures are the only rejection: everything
// past the HMAC check acknowledges with 200 so the platform does not retry
// payloads we already decided to skip.
type WebhookHandler struct {
	storeRepo       repository.StoreRepository
	auditRepo       repository.AuditLogRepository
	attributionFlow businessflow.AttributionFlow
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	storeRepo repository.StoreRepository,
	auditRepo repository.AuditLogRepository,
	attributionFlow businessflow.AttributionFlow,
) *WebhookHandler {
	return &WebhookHandler{
		storeRepo:       storeRepo,
		auditRepo:       auditRepo,
		attributionFlow: attributionFlow,
	}
}

// OrderCreate handles the orders/create webhook
// @Summary Order Created Webhook
// @Description Receive an order creation event and attribute it to a campaign
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Shopify-Shop-Domain header string true "Originating shop domain"
// @Param X-Shopify-Hmac-Sha256 header string true "Base64 HMAC-SHA256 of the raw body"
// @Param request body dto.OrderCreatePayload true "Order payload"
// @Success 200 {object} dto.WebhookAckResponse "Webhook acknowledged"
// @Failure 401 {object} dto.APIResponse "Signature verification failed"
// @Router /api/v1/webhooks/orders/create [post]
func (h *WebhookHandler) OrderCreate(c fiber.Ctx) error {
	ctx := h.createRequestContext(c, "/api/v1/webhooks/orders/create")

	shopDomain := c.Get(WebhookShopDomainHeader)
	signature := c.Get(WebhookHmacHeader)
	body := c.Body()

	store, err := h.storeRepo.ByShopDomain(ctx, shopDomain)
	if err != nil {
		log.Println("Webhook store lookup failed", err)
		return h.reject(ctx, c, nil, "store lookup failed")
	}
	if store == nil {
		return h.reject(ctx, c, nil, "unknown shop domain")
	}

	if !verifyWebhookSignature(store.WebhookSecret, body, signature) {
		return h.reject(ctx, c, store, "signature mismatch")
	}

	var payload dto.OrderCreatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Signed but malformed; acknowledge so the platform stops retrying
		log.Println("Webhook payload unmarshal failed", err)
		return c.Status(fiber.StatusOK).JSON(dto.WebhookAckResponse{Status: "ok"})
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	// Attribution persists idempotently on (store, order); a failure here is
	// recovered by the platform's redelivery, so still acknowledge
	if err := h.attributionFlow.ProcessOrder(ctx, store, &payload, metadata); err != nil {
		log.Println("Order attribution failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(dto.WebhookAckResponse{Status: "ok"})
}

// reject writes the audit row and answers 401
func (h *WebhookHandler) reject(ctx context.Context, c fiber.Ctx, store *models.Store, reason string) error {
	entry := &models.AuditLog{
		Action:      models.AuditActionWebhookRejected,
		Description: utils.ToPtr("order webhook rejected: " + reason),
		IPAddress:   utils.ToPtr(c.IP()),
		UserAgent:   utils.ToPtr(c.Get("User-Agent")),
		Success:     utils.ToPtr(false),
	}
	if store != nil {
		entry.StoreID = &store.ID
	}
	if err := h.auditRepo.Save(ctx, entry); err != nil {
		log.Println("Webhook rejection audit failed", err)
	}

	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: "Webhook signature verification failed",
		Error: dto.ErrorDetail{
			Code: "WEBHOOK_SIGNATURE_INVALID",
		},
	})
}

// verifyWebhookSignature checks the base64 HMAC-SHA256 digest of the raw body
func verifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *WebhookHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel) // Store cancel function for cleanup

	return ctx
}
