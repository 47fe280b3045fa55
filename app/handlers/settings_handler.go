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

// SettingsHandlerInterface defines the contract for store settings handlers
type SettingsHandlerInterface interface {
	GetSettings(c fiber.Ctx) error
	UpdateSettings(c fiber.Ctx) error
}

// SettingsHandler handles store settings HTTP requests
type SettingsHandler struct {
	settingsFlow businessflow.SettingsFlow
	validator    *validator.Validate
}

func (h *SettingsHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *SettingsHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settingsFlow businessflow.SettingsFlow) *SettingsHandler {
	return &SettingsHandler{
		settingsFlow: settingsFlow,
		validator:    validator.New(),
	}
}

// merchantFromContext pulls the merchant the auth middleware loaded
func (h *SettingsHandler) merchantFromContext(c fiber.Ctx) (*models.Merchant, error) {
	merchant, ok := c.Locals("merchant").(*models.Merchant)
	if !ok || merchant == nil {
		return nil, h.ErrorResponse(c, fiber.StatusUnauthorized, "Merchant not found in context", "MISSING_MERCHANT", nil)
	}
	return merchant, nil
}

// GetSettings returns the store's timezone and frequency rules
// @Summary Get Store Settings
// @Description Fetch the store timezone and frequency cap configuration
// @Tags Settings
// @Accept json
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.StoreSettingsResponse} "Store settings"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/settings [get]
// @Security BearerAuth
func (h *SettingsHandler) GetSettings(c fiber.Ctx) error {
	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.settingsFlow.GetSettings(h.createRequestContext(c, "/api/v1/settings"), merchant, metadata)
	if err != nil {
		if businessflow.IsStoreNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Store not found", "STORE_NOT_FOUND", nil)
		}

		log.Println("Settings lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Settings lookup failed", "SETTINGS_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Store settings", result)
}

// UpdateSettings changes the store's timezone and frequency rules
// @Summary Update Store Settings
// @Description Update the store timezone and frequency cap configuration
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body dto.UpdateStoreSettingsRequest true "Settings update data"
// @Success 200 {object} dto.APIResponse{data=dto.StoreSettingsResponse} "Settings updated"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/settings [put]
// @Security BearerAuth
func (h *SettingsHandler) UpdateSettings(c fiber.Ctx) error {
	var req dto.UpdateStoreSettingsRequest
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

	result, err := h.settingsFlow.UpdateSettings(h.createRequestContext(c, "/api/v1/settings"), merchant, &req, metadata)
	if err != nil {
		if businessflow.IsInvalidTimezone(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown IANA timezone", "INVALID_TIMEZONE", nil)
		}
		if businessflow.IsInvalidTemplateFamily(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown template family in frequency rules", "INVALID_TEMPLATE_FAMILY", nil)
		}
		if businessflow.IsInvalidFrequencyCap(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Frequency caps must not be negative", "INVALID_FREQUENCY_CAP", nil)
		}
		if businessflow.IsStoreNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Store not found", "STORE_NOT_FOUND", nil)
		}

		log.Println("Settings update failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Settings update failed", "SETTINGS_UPDATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Settings updated", result)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *SettingsHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel) // Store cancel function for cleanup

	return ctx
}
