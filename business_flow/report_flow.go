package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/xuri/excelize/v2"
)

// ReportFlow aggregates campaign performance for the dashboard: displays,
// leads, attributed conversions, and revenue, with an XLSX export.
type ReportFlow interface {
	CampaignReport(ctx context.Context, merchant *models.Merchant, request *dto.CampaignReportRequest) (*dto.CampaignReportResponse, error)
	ExportCampaignReport(ctx context.Context, merchant *models.Merchant, request *dto.CampaignReportRequest, metadata *ClientMetadata) ([]byte, string, error)
	ListLeads(ctx context.Context, merchant *models.Merchant, request *dto.ListLeadsRequest) (*dto.ListLeadsResponse, error)
	ListConversions(ctx context.Context, merchant *models.Merchant, page, pageSize int) (*dto.ListConversionsResponse, error)
}

// ReportFlowImpl implements the report flow
type ReportFlowImpl struct {
	campaignRepo     repository.CampaignRepository
	leadRepo         repository.LeadRepository
	conversionRepo   repository.ConversionRepository
	displayEventRepo repository.DisplayEventRepository
	auditRepo        repository.AuditLogRepository
}

// NewReportFlow creates a new report flow instance
func NewReportFlow(
	campaignRepo repository.CampaignRepository,
	leadRepo repository.LeadRepository,
	conversionRepo repository.ConversionRepository,
	displayEventRepo repository.DisplayEventRepository,
	auditRepo repository.AuditLogRepository,
) ReportFlow {
	return &ReportFlowImpl{
		campaignRepo:     campaignRepo,
		leadRepo:         leadRepo,
		conversionRepo:   conversionRepo,
		displayEventRepo: displayEventRepo,
		auditRepo:        auditRepo,
	}
}

const reportDateLayout = "2006-01-02"

// CampaignReport builds the per-campaign performance rows for the window
func (rf *ReportFlowImpl) CampaignReport(ctx context.Context, merchant *models.Merchant, request *dto.CampaignReportRequest) (*dto.CampaignReportResponse, error) {
	if merchant == nil {
		return nil, NewBusinessError("REPORT_FAILED", "Report generation failed", ErrMerchantNotFound)
	}

	from, to, err := parseReportRange(request)
	if err != nil {
		return nil, NewBusinessError("REPORT_VALIDATION_FAILED", "Report validation failed", err)
	}

	campaigns, err := rf.campaignRepo.ByFilter(ctx, models.CampaignFilter{StoreID: &merchant.StoreID}, "created_at DESC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("REPORT_FAILED", "Report generation failed", err)
	}

	campaignIDs := make([]uint, 0, len(campaigns))
	for _, campaign := range campaigns {
		campaignIDs = append(campaignIDs, campaign.ID)
	}

	displays, err := rf.displayEventRepo.CountsByCampaign(ctx, merchant.StoreID, campaignIDs)
	if err != nil {
		return nil, NewBusinessError("REPORT_FAILED", "Report generation failed", err)
	}

	summaries, err := rf.conversionRepo.SummarizeByCampaign(ctx, merchant.StoreID, from, to)
	if err != nil {
		return nil, NewBusinessError("REPORT_FAILED", "Report generation failed", err)
	}

	conversions := make(map[uint]int64)
	revenue := make(map[uint]int64)
	for _, summary := range summaries {
		conversions[summary.CampaignID] += summary.Conversions
		revenue[summary.CampaignID] += summary.RevenueCents
	}

	rows := make([]dto.CampaignReportRow, 0, len(campaigns))
	for _, campaign := range campaigns {
		leadFilter := models.LeadFilter{
			StoreID:       &merchant.StoreID,
			CampaignID:    &campaign.ID,
			CreatedAfter:  from,
			CreatedBefore: to,
		}
		leads, err := rf.leadRepo.Count(ctx, leadFilter)
		if err != nil {
			return nil, NewBusinessError("REPORT_FAILED", "Report generation failed", err)
		}

		row := dto.CampaignReportRow{
			CampaignUUID:   campaign.UUID.String(),
			CampaignName:   campaign.Name,
			TemplateFamily: campaign.TemplateFamily.String(),
			Status:         campaign.Status.String(),
			Displays:       displays[campaign.ID],
			Leads:          leads,
			Conversions:    conversions[campaign.ID],
			RevenueCents:   revenue[campaign.ID],
		}
		if row.Leads > 0 {
			row.ConversionRate = float64(row.Conversions) / float64(row.Leads)
		}
		rows = append(rows, row)
	}

	resp := &dto.CampaignReportResponse{Rows: rows}
	if request != nil {
		resp.StartDate = request.StartDate
		resp.EndDate = request.EndDate
	}
	return resp, nil
}

// ExportCampaignReport renders the report as an XLSX workbook
func (rf *ReportFlowImpl) ExportCampaignReport(ctx context.Context, merchant *models.Merchant, request *dto.CampaignReportRequest, metadata *ClientMetadata) ([]byte, string, error) {
	report, err := rf.CampaignReport(ctx, merchant, request)
	if err != nil {
		return nil, "", err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	const sheet = "Campaign Performance"
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	header := []string{"campaign", "family", "status", "displays", "leads", "conversions", "revenue", "conversion_rate"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for ri, row := range report.Rows {
		record := []any{
			row.CampaignName,
			row.TemplateFamily,
			row.Status,
			row.Displays,
			row.Leads,
			row.Conversions,
			float64(row.RevenueCents) / 100,
			row.ConversionRate,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, "", NewBusinessError("REPORT_EXPORT_FAILED", "Report export failed", err)
	}

	filename := fmt.Sprintf("campaign-report-%s.xlsx", utils.UTCNow().Format(reportDateLayout))
	rf.logExport(ctx, merchant, filename, metadata)

	return buf.Bytes(), filename, nil
}

// ListLeads returns the store's captured leads, newest first
func (rf *ReportFlowImpl) ListLeads(ctx context.Context, merchant *models.Merchant, request *dto.ListLeadsRequest) (*dto.ListLeadsResponse, error) {
	if merchant == nil {
		return nil, NewBusinessError("LEAD_LIST_FAILED", "Lead list failed", ErrMerchantNotFound)
	}

	page := 1
	pageSize := 20
	filter := models.LeadFilter{StoreID: &merchant.StoreID}

	if request != nil {
		if request.Page > 0 {
			page = request.Page
		}
		if request.PageSize > 0 {
			pageSize = request.PageSize
		}
		if request.CampaignUUID != "" {
			campaign, err := rf.campaignRepo.ByUUID(ctx, request.CampaignUUID)
			if err != nil {
				return nil, NewBusinessError("LEAD_LIST_FAILED", "Lead list failed", err)
			}
			if campaign == nil || campaign.StoreID != merchant.StoreID {
				return nil, NewBusinessError("LEAD_LIST_FAILED", "Lead list failed", ErrCampaignNotFound)
			}
			filter.CampaignID = &campaign.ID
		}
	}

	total, err := rf.leadRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LEAD_LIST_FAILED", "Lead list failed", err)
	}

	leads, err := rf.leadRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LEAD_LIST_FAILED", "Lead list failed", err)
	}

	campaignUUIDs, err := rf.campaignUUIDsByID(ctx, merchant.StoreID)
	if err != nil {
		return nil, NewBusinessError("LEAD_LIST_FAILED", "Lead list failed", err)
	}

	items := make([]dto.LeadDTO, 0, len(leads))
	for _, lead := range leads {
		item := dto.LeadDTO{
			UUID:         lead.UUID.String(),
			CampaignUUID: campaignUUIDs[lead.CampaignID],
			Email:        lead.Email,
			CreatedAt:    lead.CreatedAt.Format(time.RFC3339),
		}
		if lead.DiscountCode != nil {
			item.DiscountCode = *lead.DiscountCode
		}
		items = append(items, item)
	}

	return &dto.ListLeadsResponse{
		Leads:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// ListConversions returns the store's attributed orders, newest first
func (rf *ReportFlowImpl) ListConversions(ctx context.Context, merchant *models.Merchant, page, pageSize int) (*dto.ListConversionsResponse, error) {
	if merchant == nil {
		return nil, NewBusinessError("CONVERSION_LIST_FAILED", "Conversion list failed", ErrMerchantNotFound)
	}

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	filter := models.CampaignConversionFilter{StoreID: &merchant.StoreID}

	total, err := rf.conversionRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CONVERSION_LIST_FAILED", "Conversion list failed", err)
	}

	conversions, err := rf.conversionRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CONVERSION_LIST_FAILED", "Conversion list failed", err)
	}

	campaignUUIDs, err := rf.campaignUUIDsByID(ctx, merchant.StoreID)
	if err != nil {
		return nil, NewBusinessError("CONVERSION_LIST_FAILED", "Conversion list failed", err)
	}

	items := make([]dto.ConversionDTO, 0, len(conversions))
	for _, conversion := range conversions {
		item := dto.ConversionDTO{
			OrderID:       conversion.OrderID,
			CampaignUUID:  campaignUUIDs[conversion.CampaignID],
			Source:        conversion.Source.String(),
			DiscountCodes: conversion.DiscountCodes,
			RevenueCents:  conversion.RevenueCents,
			Currency:      conversion.Currency,
			CreatedAt:     conversion.CreatedAt.Format(time.RFC3339),
		}
		if conversion.CustomerEmail != nil {
			item.CustomerEmail = *conversion.CustomerEmail
		}
		items = append(items, item)
	}

	return &dto.ListConversionsResponse{
		Conversions: items,
		Total:       total,
		Page:        page,
		PageSize:    pageSize,
	}, nil
}

func (rf *ReportFlowImpl) campaignUUIDsByID(ctx context.Context, storeID uint) (map[uint]string, error) {
	campaigns, err := rf.campaignRepo.ByFilter(ctx, models.CampaignFilter{StoreID: &storeID}, "", 0, 0)
	if err != nil {
		return nil, err
	}

	out := make(map[uint]string, len(campaigns))
	for _, campaign := range campaigns {
		out[campaign.ID] = campaign.UUID.String()
	}
	return out, nil
}

func (rf *ReportFlowImpl) logExport(ctx context.Context, merchant *models.Merchant, filename string, metadata *ClientMetadata) {
	description := fmt.Sprintf("Report exported: %s", filename)

	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		MerchantID:  &merchant.ID,
		StoreID:     &merchant.StoreID,
		Action:      models.AuditActionReportExported,
		Description: &description,
		Success:     utils.ToPtr(true),
		IPAddress:   &ipAddress,
		UserAgent:   &userAgent,
		RequestID:   requestIDFromContext(ctx),
	}

	_ = rf.auditRepo.Save(ctx, audit)
}

// parseReportRange converts the request's inclusive date strings to a half
// open [from, to) window.
func parseReportRange(request *dto.CampaignReportRequest) (*time.Time, *time.Time, error) {
	if request == nil {
		return nil, nil, nil
	}

	var from, to *time.Time

	if request.StartDate != "" {
		t, err := time.Parse(reportDateLayout, request.StartDate)
		if err != nil {
			return nil, nil, ErrInvalidInput
		}
		from = &t
	}
	if request.EndDate != "" {
		t, err := time.Parse(reportDateLayout, request.EndDate)
		if err != nil {
			return nil, nil, ErrInvalidInput
		}
		end := t.AddDate(0, 0, 1)
		to = &end
	}

	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, ErrStartDateAfterEndDate
	}

	return from, to, nil
}
