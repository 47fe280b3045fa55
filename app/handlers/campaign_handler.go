// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	businessflow "github.com/amirphl/Nurikabe/business_flow"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	UpdateCampaign(c fiber.Ctx) error
	ChangeStatus(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	campaignFlow businessflow.CampaignFlow
	validator    *validator.Validate
}

func (h *CampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow) *CampaignHandler {
	return &CampaignHandler{
		campaignFlow: campaignFlow,
		validator:    validator.New(),
	}
}

// merchantFromContext pulls the merchant the auth middleware loaded
func (h *CampaignHandler) merchantFromContext(c fiber.Ctx) (*models.Merchant, error) {
	merchant, ok := c.Locals("merchant").(*models.Merchant)
	if !ok || merchant == nil {
		return nil, h.ErrorResponse(c, fiber.StatusUnauthorized, "Merchant not found in context", "MISSING_MERCHANT", nil)
	}
	return merchant, nil
}

// campaignError maps campaign flow errors to HTTP responses
func (h *CampaignHandler) campaignError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	if businessflow.IsCampaignNotFound(err) {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	}
	if businessflow.IsCampaignAccessDenied(err) {
		return h.ErrorResponse(c, fiber.StatusForbidden, "Access denied: campaign belongs to another store", "CAMPAIGN_ACCESS_DENIED", nil)
	}
	if businessflow.IsCampaignUpdateNotAllowed(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Archived campaigns cannot be modified", "CAMPAIGN_UPDATE_NOT_ALLOWED", nil)
	}
	if businessflow.IsInvalidStatusTransition(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Invalid status transition", "INVALID_STATUS_TRANSITION", nil)
	}
	if businessflow.IsCampaignScheduleExpired(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign schedule has already ended", "CAMPAIGN_SCHEDULE_EXPIRED", nil)
	}
	if businessflow.IsCampaignNameRequired(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign name is required", "CAMPAIGN_NAME_REQUIRED", nil)
	}
	if businessflow.IsInvalidTemplateFamily(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown template family", "INVALID_TEMPLATE_FAMILY", nil)
	}
	if businessflow.IsCampaignScheduleInvalid(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign schedule is invalid", "INVALID_SCHEDULE", nil)
	}
	if businessflow.IsInvalidDiscountSpec(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Discount configuration is invalid", "INVALID_DISCOUNT_SPEC", nil)
	}

	log.Println(fallbackMessage, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// CreateCampaign handles popup campaign creation
// @Summary Create Campaign
// @Description Create a new popup campaign in draft status
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body dto.CreateCampaignRequest true "Campaign creation data"
// @Success 201 {object} dto.APIResponse{data=dto.CampaignDTO} "Campaign created successfully"
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns [post]
// @Security BearerAuth
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
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

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	// Call business logic with proper context
	result, err := h.campaignFlow.CreateCampaign(h.createRequestContext(c, "/api/v1/campaigns"), merchant, &req, metadata)
	if err != nil {
		return h.campaignError(c, err, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// UpdateCampaign handles campaign modification
// @Summary Update Campaign
// @Description Update an existing campaign; archived campaigns are immutable
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Param request body dto.UpdateCampaignRequest true "Campaign update data"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignDTO} "Campaign updated successfully"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Campaign belongs to another store"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign is archived"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid} [put]
// @Security BearerAuth
func (h *CampaignHandler) UpdateCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	var req dto.UpdateCampaignRequest
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

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	// Call business logic with proper context
	result, err := h.campaignFlow.UpdateCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid"), merchant, campaignUUID, &req, metadata)
	if err != nil {
		return h.campaignError(c, err, "Campaign update failed", "CAMPAIGN_UPDATE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign updated successfully", result)
}

// ChangeStatus handles campaign lifecycle transitions
// @Summary Change Campaign Status
// @Description Transition a campaign between draft, active, paused and archived
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Param request body dto.ChangeCampaignStatusRequest true "Target status"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignDTO} "Status changed successfully"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Transition not allowed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid}/status [patch]
// @Security BearerAuth
func (h *CampaignHandler) ChangeStatus(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	var req dto.ChangeCampaignStatusRequest
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

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	// Call business logic with proper context
	result, err := h.campaignFlow.ChangeStatus(h.createRequestContext(c, "/api/v1/campaigns/:uuid/status"), merchant, campaignUUID, &req, metadata)
	if err != nil {
		return h.campaignError(c, err, "Campaign status change failed", "CAMPAIGN_STATUS_CHANGE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign status changed", result)
}

// GetCampaign returns a single campaign
// @Summary Get Campaign
// @Description Fetch one campaign owned by the authenticated merchant's store
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignDTO} "Campaign details"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid} [get]
// @Security BearerAuth
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	result, err := h.campaignFlow.GetCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid"), merchant, campaignUUID)
	if err != nil {
		return h.campaignError(c, err, "Campaign lookup failed", "CAMPAIGN_LOOKUP_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign details", result)
}

// ListCampaigns returns the store's campaigns with pagination
// @Summary List Campaigns
// @Description List campaigns belonging to the authenticated merchant's store
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignsResponse} "Campaigns listed"
// @Failure 400 {object} dto.APIResponse "Invalid query parameters"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns [get]
// @Security BearerAuth
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	var req dto.ListCampaignsRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}

	// Validate request
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	result, err := h.campaignFlow.ListCampaigns(h.createRequestContext(c, "/api/v1/campaigns"), merchant, &req)
	if err != nil {
		if businessflow.IsInvalidPage(err) || businessflow.IsInvalidPageSize(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid pagination parameters", "INVALID_PAGINATION", nil)
		}

		log.Println("Campaign listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign listing failed", "CAMPAIGN_LISTING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns listed", result)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *CampaignHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel) // Store cancel function for cleanup

	return ctx
}
