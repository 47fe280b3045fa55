// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	businessflow "github.com/amirphl/Nurikabe/business_flow"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// StorefrontKeyHeader carries the store's public embed key on every widget request
const StorefrontKeyHeader = "X-Storefront-Key"

// StorefrontHandlerInterface defines the contract for the public widget endpoints
type StorefrontHandlerInterface interface {
	ActiveCampaigns(c fiber.Ctx) error
	DisplayCheck(c fiber.Ctx) error
	RecordDisplay(c fiber.Ctx) error
	IssueChallenge(c fiber.Ctx) error
	SubmitLead(c fiber.Ctx) error
}

// StorefrontHandler handles the unauthenticated widget-facing HTTP requests.
// Every endpoint resolves the store from the storefront key before touching
// any flow; an unknown or inactive key is rejected uniformly.
type StorefrontHandler struct {
	storeRepo     repository.StoreRepository
	targetingFlow businessflow.TargetingFlow
	frequencyFlow businessflow.FrequencyFlow
	challengeFlow businessflow.ChallengeFlow
	leadFlow      businessflow.LeadFlow
	validator     *validator.Validate
}

func (h *StorefrontHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *StorefrontHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewStorefrontHandler creates a new storefront handler
func NewStorefrontHandler(
	storeRepo repository.StoreRepository,
	targetingFlow businessflow.TargetingFlow,
	frequencyFlow businessflow.FrequencyFlow,
	challengeFlow businessflow.ChallengeFlow,
	leadFlow businessflow.LeadFlow,
) *StorefrontHandler {
	return &StorefrontHandler{
		storeRepo:     storeRepo,
		targetingFlow: targetingFlow,
		frequencyFlow: frequencyFlow,
		challengeFlow: challengeFlow,
		leadFlow:      leadFlow,
		validator:     validator.New(),
	}
}

// resolveStore looks up the store behind the storefront key. The key comes
// from the X-Storefront-Key header, or the "key" query parameter for script
// tags that cannot set headers.
func (h *StorefrontHandler) resolveStore(ctx context.Context, c fiber.Ctx) (*models.Store, error) {
	key := c.Get(StorefrontKeyHeader)
	if key == "" {
		key = c.Query("key")
	}
	if key == "" {
		return nil, h.ErrorResponse(c, fiber.StatusUnauthorized, "Storefront key is required", "MISSING_STOREFRONT_KEY", nil)
	}

	store, err := h.storeRepo.ByStorefrontKey(ctx, key)
	if err != nil {
		log.Println("Store lookup failed", err)
		return nil, h.ErrorResponse(c, fiber.StatusInternalServerError, "Store lookup failed", "STORE_LOOKUP_FAILED", nil)
	}
	if store == nil || !store.IsActive() {
		return nil, h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid storefront key", dto.ErrorInvalidStoreKey, nil)
	}

	return store, nil
}

// ActiveCampaigns lists campaigns deliverable to this visitor
// @Summary Active Campaigns
// @Description List campaigns eligible for display to the requesting visitor, ordered by priority
// @Tags Storefront
// @Accept json
// @Produce json
// @Param X-Storefront-Key header string true "Store embed key"
// @Param visitor_id query string false "Persistent visitor identifier"
// @Param session_id query string false "Browsing session identifier"
// @Param page_url query string false "Current page URL"
// @Success 200 {object} dto.APIResponse{data=dto.ActiveCampaignsResponse} "Eligible campaigns"
// @Failure 401 {object} dto.APIResponse "Invalid storefront key"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/storefront/campaigns [get]
func (h *StorefrontHandler) ActiveCampaigns(c fiber.Ctx) error {
	ctx := h.createRequestContext(c, "/api/v1/storefront/campaigns")

	store, err := h.resolveStore(ctx, c)
	if err != nil {
		return err
	}

	visitor := &businessflow.VisitorContext{
		VisitorID: c.Query("visitor_id"),
		SessionID: c.Query("session_id"),
		PageURL:   c.Query("page_url"),
	}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.targetingFlow.ActiveCampaigns(ctx, store, visitor, metadata)
	if err != nil {
		log.Println("Active campaigns lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign lookup failed", "CAMPAIGN_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Active campaigns", result)
}

// DisplayCheck asks whether a specific popup may be shown right now
// @Summary Display Check
// @Description Check frequency caps and cooldown before rendering a popup
// @Tags Storefront
// @Accept json
// @Produce json
// @Param X-Storefront-Key header string true "Store embed key"
// @Param request body dto.DisplayCheckRequest true "Display check data"
// @Success 200 {object} dto.APIResponse{data=dto.DisplayCheckResponse} "Display verdict"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid storefront key"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/storefront/display-check [post]
func (h *StorefrontHandler) DisplayCheck(c fiber.Ctx) error {
	var req dto.DisplayCheckRequest
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

	ctx := h.createRequestContext(c, "/api/v1/storefront/display-check")

	store, err := h.resolveStore(ctx, c)
	if err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.frequencyFlow.CheckDisplay(ctx, store, &req, metadata)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", dto.ErrorCampaignNotFound, nil)
		}

		log.Println("Display check failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Display check failed", "DISPLAY_CHECK_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Display check complete", result)
}

// RecordDisplay records that a popup was actually rendered
// @Summary Record Display
// @Description Increment frequency counters and arm the cooldown after a popup renders
// @Tags Storefront
// @Accept json
// @Produce json
// @Param X-Storefront-Key header string true "Store embed key"
// @Param request body dto.DisplayRecordRequest true "Display record data"
// @Success 200 {object} dto.APIResponse "Display recorded"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid storefront key"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/storefront/display [post]
func (h *StorefrontHandler) RecordDisplay(c fiber.Ctx) error {
	var req dto.DisplayRecordRequest
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

	ctx := h.createRequestContext(c, "/api/v1/storefront/display")

	store, err := h.resolveStore(ctx, c)
	if err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	if err := h.frequencyFlow.RecordDisplay(ctx, store, &req, metadata); err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", dto.ErrorCampaignNotFound, nil)
		}

		log.Println("Display record failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Display record failed", "DISPLAY_RECORD_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Display recorded", nil)
}

// IssueChallenge issues a one-time submission token for the popup form
// @Summary Issue Challenge Token
// @Description Issue a short-lived one-time token the lead submission must present
// @Tags Storefront
// @Accept json
// @Produce json
// @Param X-Storefront-Key header string true "Store embed key"
// @Param request body dto.ChallengeRequest true "Challenge request data"
// @Success 200 {object} dto.APIResponse{data=dto.ChallengeResponse} "Challenge token issued"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid storefront key"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 429 {object} dto.APIResponse "Too many challenge requests"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/storefront/challenge [post]
func (h *StorefrontHandler) IssueChallenge(c fiber.Ctx) error {
	var req dto.ChallengeRequest
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

	ctx := h.createRequestContext(c, "/api/v1/storefront/challenge")

	store, err := h.resolveStore(ctx, c)
	if err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.challengeFlow.Issue(ctx, store, &req, metadata)
	if err != nil {
		if businessflow.IsRateLimitExceeded(err) {
			if secs := businessflow.RetryAfterSeconds(err); secs > 0 {
				c.Set("Retry-After", strconv.Itoa(secs))
			}
			return h.ErrorResponse(c, fiber.StatusTooManyRequests, "Too many challenge requests", dto.ErrorRateLimitExceeded, nil)
		}
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", dto.ErrorCampaignNotFound, nil)
		}
		if businessflow.IsCampaignNotActive(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is not active", dto.ErrorCampaignNotActive, nil)
		}

		log.Println("Challenge issue failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Challenge issue failed", "CHALLENGE_ISSUE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Challenge issued", result)
}

// SubmitLead handles the popup form submission
// @Summary Submit Lead
// @Description Capture a lead, burn its challenge token, and issue a discount code when configured
// @Tags Storefront
// @Accept json
// @Produce json
// @Param X-Storefront-Key header string true "Store embed key"
// @Param request body dto.LeadSubmitRequest true "Lead submission data"
// @Success 200 {object} dto.APIResponse{data=dto.LeadSubmitResponse} "Lead captured"
// @Failure 400 {object} dto.APIResponse "Validation error or token rejected"
// @Failure 401 {object} dto.APIResponse "Invalid storefront key"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 429 {object} dto.APIResponse "Too many submissions"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/storefront/leads [post]
func (h *StorefrontHandler) SubmitLead(c fiber.Ctx) error {
	var req dto.LeadSubmitRequest
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

	ctx := h.createRequestContext(c, "/api/v1/storefront/leads")

	store, err := h.resolveStore(ctx, c)
	if err != nil {
		return err
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.leadFlow.SubmitLead(ctx, store, &req, metadata)
	if err != nil {
		if businessflow.IsRateLimitExceeded(err) {
			if secs := businessflow.RetryAfterSeconds(err); secs > 0 {
				c.Set("Retry-After", strconv.Itoa(secs))
			}
			return h.ErrorResponse(c, fiber.StatusTooManyRequests, "Too many submissions", dto.ErrorRateLimitExceeded, nil)
		}
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", dto.ErrorCampaignNotFound, nil)
		}
		if businessflow.IsCampaignNotActive(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is not active", dto.ErrorCampaignNotActive, nil)
		}
		if businessflow.IsTokenAlreadyConsumed(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Challenge token already used", dto.ErrorTokenConsumed, nil)
		}
		if businessflow.IsTokenInvalid(err) || businessflow.IsTokenExpired(err) || businessflow.IsTokenBindingMismatch(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Challenge token rejected", dto.ErrorTokenInvalid, nil)
		}

		log.Println("Lead submission failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Lead submission failed", "LEAD_SUBMISSION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Lead captured", result)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *StorefrontHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel) // Store cancel function for cleanup

	return ctx
}
