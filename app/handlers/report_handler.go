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
	"github.com/amirphl/Nurikabe/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ReportHandlerInterface defines the contract for reporting handlers
type ReportHandlerInterface interface {
	CampaignReport(c fiber.Ctx) error
	ExportCampaignReport(c fiber.Ctx) error
	ListLeads(c fiber.Ctx) error
	ListConversions(c fiber.Ctx) error
}

// ReportHandler handles dashboard reporting HTTP requests
type ReportHandler struct {
	reportFlow businessflow.ReportFlow
	validator  *validator.Validate
}

func (h *ReportHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ReportHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewReportHandler creates a new report handler
func NewReportHandler(reportFlow businessflow.ReportFlow) *ReportHandler {
	return &ReportHandler{
		reportFlow: reportFlow,
		validator:  validator.New(),
	}
}

// merchantFromContext pulls the merchant the auth middleware loaded
func (h *ReportHandler) merchantFromContext(c fiber.Ctx) (*models.Merchant, error) {
	merchant, ok := c.Locals("merchant").(*models.Merchant)
	if !ok || merchant == nil {
		return nil, h.ErrorResponse(c, fiber.StatusUnauthorized, "Merchant not found in context", "MISSING_MERCHANT", nil)
	}
	return merchant, nil
}

// bindReportRange binds and validates the report date range query
func (h *ReportHandler) bindReportRange(c fiber.Ctx, req *dto.CampaignReportRequest) error {
	if err := c.Bind().Query(req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	return nil
}

// CampaignReport aggregates campaign performance over a date range
// @Summary Campaign Report
// @Description Displays, leads, conversions and revenue per campaign over a date range
// @Tags Reports
// @Accept json
// @Produce json
// @Param start_date query string true "Range start (YYYY-MM-DD, inclusive)"
// @Param end_date query string true "Range end (YYYY-MM-DD, inclusive)"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignReportResponse} "Campaign report"
// @Failure 400 {object} dto.APIResponse "Invalid date range"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/reports/campaigns [get]
// @Security BearerAuth
func (h *ReportHandler) CampaignReport(c fiber.Ctx) error {
	var req dto.CampaignReportRequest
	if err := h.bindReportRange(c, &req); err != nil {
		return err
	}

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	result, err := h.reportFlow.CampaignReport(h.createRequestContext(c, "/api/v1/reports/campaigns"), merchant, &req)
	if err != nil {
		if businessflow.IsStartDateAfterEndDate(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Start date must not be after end date", "INVALID_DATE_RANGE", nil)
		}

		log.Println("Campaign report failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign report failed", "CAMPAIGN_REPORT_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign report", result)
}

// ExportCampaignReport downloads the campaign report as an XLSX workbook
// @Summary Export Campaign Report
// @Description Download the campaign performance report as an XLSX file
// @Tags Reports
// @Accept json
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param start_date query string true "Range start (YYYY-MM-DD, inclusive)"
// @Param end_date query string true "Range end (YYYY-MM-DD, inclusive)"
// @Success 200 {file} binary "XLSX report"
// @Failure 400 {object} dto.APIResponse "Invalid date range"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/reports/campaigns/export [get]
// @Security BearerAuth
func (h *ReportHandler) ExportCampaignReport(c fiber.Ctx) error {
	var req dto.CampaignReportRequest
	if err := h.bindReportRange(c, &req); err != nil {
		return err
	}

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	// Get client information
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	data, filename, err := h.reportFlow.ExportCampaignReport(h.createRequestContext(c, "/api/v1/reports/campaigns/export"), merchant, &req, metadata)
	if err != nil {
		if businessflow.IsStartDateAfterEndDate(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Start date must not be after end date", "INVALID_DATE_RANGE", nil)
		}

		log.Println("Report export failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Report export failed", "REPORT_EXPORT_FAILED", nil)
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// ListLeads returns captured leads with pagination
// @Summary List Leads
// @Description List leads captured by the store's campaigns
// @Tags Reports
// @Accept json
// @Produce json
// @Param campaign_uuid query string false "Filter by campaign UUID"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListLeadsResponse} "Leads listed"
// @Failure 400 {object} dto.APIResponse "Invalid query parameters"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/leads [get]
// @Security BearerAuth
func (h *ReportHandler) ListLeads(c fiber.Ctx) error {
	var req dto.ListLeadsRequest
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

	result, err := h.reportFlow.ListLeads(h.createRequestContext(c, "/api/v1/leads"), merchant, &req)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		if businessflow.IsCampaignAccessDenied(err) {
			return h.ErrorResponse(c, fiber.StatusForbidden, "Access denied: campaign belongs to another store", "CAMPAIGN_ACCESS_DENIED", nil)
		}

		log.Println("Lead listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Lead listing failed", "LEAD_LISTING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Leads listed", result)
}

// ListConversions returns attributed conversions with pagination
// @Summary List Conversions
// @Description List orders attributed to the store's campaigns
// @Tags Reports
// @Accept json
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListConversionsResponse} "Conversions listed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/conversions [get]
// @Security BearerAuth
func (h *ReportHandler) ListConversions(c fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "20"))

	merchant, err := h.merchantFromContext(c)
	if err != nil {
		return err
	}

	result, err := h.reportFlow.ListConversions(h.createRequestContext(c, "/api/v1/conversions"), merchant, page, pageSize)
	if err != nil {
		if businessflow.IsInvalidPage(err) || businessflow.IsInvalidPageSize(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid pagination parameters", "INVALID_PAGINATION", nil)
		}

		log.Println("Conversion listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Conversion listing failed", "CONVERSION_LISTING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Conversions listed", result)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *ReportHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel) // Store cancel function for cleanup

	return ctx
}
