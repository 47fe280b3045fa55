package businessflow

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"github.com/lib/pq"
)

// AttributionFlow turns order webhooks into campaign conversions. The
// cascade runs most reliable signal first: a code issued to a lead, then a
// campaign's configured code, then view-through by customer identity.
// Every outcome, including no match, is a success to the webhook caller.
type AttributionFlow interface {
	ProcessOrder(ctx context.Context, store *models.Store, payload *dto.OrderCreatePayload, metadata *ClientMetadata) error
}

// AttributionFlowImpl implements the attribution flow
type AttributionFlowImpl struct {
	campaignRepo   repository.CampaignRepository
	leadRepo       repository.LeadRepository
	conversionRepo repository.ConversionRepository
	auditRepo      repository.AuditLogRepository
	engineCfg      config.EngineConfig
}

// NewAttributionFlow creates a new attribution flow instance
func NewAttributionFlow(
	campaignRepo repository.CampaignRepository,
	leadRepo repository.LeadRepository,
	conversionRepo repository.ConversionRepository,
	auditRepo repository.AuditLogRepository,
	engineCfg config.EngineConfig,
) AttributionFlow {
	return &AttributionFlowImpl{
		campaignRepo:   campaignRepo,
		leadRepo:       leadRepo,
		conversionRepo: conversionRepo,
		auditRepo:      auditRepo,
		engineCfg:      engineCfg,
	}
}

// ProcessOrder attributes one order. Redelivered webhooks are absorbed by
// the unique (store, order) constraint; the first attribution wins and the
// duplicate is logged as such.
func (af *AttributionFlowImpl) ProcessOrder(ctx context.Context, store *models.Store, payload *dto.OrderCreatePayload, metadata *ClientMetadata) error {
	if store == nil {
		return NewBusinessError("ATTRIBUTION_FAILED", "Order attribution failed", ErrStoreNotFound)
	}
	if payload == nil || payload.ID == 0 {
		return NewBusinessError("ATTRIBUTION_FAILED", "Order attribution failed", ErrWebhookPayloadInvalid)
	}

	codes := normalizeOrderCodes(payload)

	campaignID, leadID, source, err := af.attribute(ctx, store, payload, codes)
	if err != nil {
		return NewBusinessError("ATTRIBUTION_FAILED", "Order attribution failed", err)
	}
	if campaignID == 0 {
		attributionOutcomesTotal.WithLabelValues("skipped").Inc()
		af.logOutcome(ctx, store, payload, models.AuditActionConversionSkipped,
			fmt.Sprintf("Order %d matched no campaign", payload.ID), metadata)
		return nil
	}

	conversion := &models.CampaignConversion{
		StoreID:       store.ID,
		OrderID:       payload.ID,
		CampaignID:    campaignID,
		LeadID:        leadID,
		Source:        source,
		DiscountCodes: pq.StringArray(codes),
		RevenueCents:  parsePriceCents(payload.TotalPrice),
		Currency:      payload.Currency,
	}
	if payload.Customer != nil && payload.Customer.ID != 0 {
		conversion.CustomerID = utils.ToPtr(payload.Customer.ID)
	}
	if email := orderEmail(payload); email != "" {
		conversion.CustomerEmail = &email
	}

	inserted, err := af.conversionRepo.SaveIdempotent(ctx, conversion)
	if err != nil {
		return NewBusinessError("ATTRIBUTION_FAILED", "Order attribution failed", err)
	}

	if !inserted {
		attributionOutcomesTotal.WithLabelValues("duplicate").Inc()
		af.logOutcome(ctx, store, payload, models.AuditActionConversionDuplicate,
			fmt.Sprintf("Order %d already attributed", payload.ID), metadata)
		return nil
	}

	attributionOutcomesTotal.WithLabelValues(string(source)).Inc()
	af.logOutcome(ctx, store, payload, models.AuditActionConversionAttributed,
		fmt.Sprintf("Order %d attributed to campaign %d via %s", payload.ID, campaignID, source), metadata)
	return nil
}

// attribute runs the matching cascade and returns the winning campaign,
// the lead if one was involved, and the source label.
func (af *AttributionFlowImpl) attribute(ctx context.Context, store *models.Store, payload *dto.OrderCreatePayload, codes []string) (uint, *uint, models.ConversionSource, error) {
	// 1. A code issued to a lead. Strongest signal: ties the order to one
	// specific submission.
	for _, code := range codes {
		lead, err := af.leadRepo.ByStoreAndDiscountCode(ctx, store.ID, code)
		if err != nil {
			return 0, nil, "", err
		}
		if lead != nil {
			return lead.CampaignID, &lead.ID, models.ConversionSourceDiscountCode, nil
		}
	}

	// 2. A campaign's configured static code or unique-code prefix. The
	// visitor used a campaign code that was never tied to a lead, e.g. a
	// shared code forwarded by a friend.
	if len(codes) > 0 {
		campaignID, err := af.matchCampaignCode(ctx, store, codes)
		if err != nil {
			return 0, nil, "", err
		}
		if campaignID != 0 {
			return campaignID, nil, models.ConversionSourceDiscountCode, nil
		}
	}

	// 3. View-through: the buyer previously left a lead, bounded by the
	// lookback window. Requires a pre-existing lead; identity alone never
	// creates an attribution.
	lead, err := af.matchViewThrough(ctx, store, payload)
	if err != nil {
		return 0, nil, "", err
	}
	if lead != nil {
		source := models.ConversionSourceViewThrough
		if lead.DiscountCode != nil && *lead.DiscountCode != "" {
			source = models.ConversionSourceViewThroughWithCode
		}
		return lead.CampaignID, &lead.ID, source, nil
	}

	return 0, nil, "", nil
}

func (af *AttributionFlowImpl) matchCampaignCode(ctx context.Context, store *models.Store, codes []string) (uint, error) {
	// Only active campaigns can claim an order. A draft sharing a code
	// prefix with a live campaign must not steal its conversions.
	campaigns, err := af.campaignRepo.ByFilter(ctx, models.CampaignFilter{
		StoreID: &store.ID,
		Status:  utils.ToPtr(models.CampaignStatusActive),
	}, "", 0, 0)
	if err != nil {
		return 0, err
	}

	for _, code := range codes {
		for _, campaign := range campaigns {
			spec := campaign.Discount
			if !spec.Enabled {
				continue
			}
			switch spec.Mode {
			case models.DiscountModeShared:
				if spec.StaticCode != "" && strings.EqualFold(spec.StaticCode, code) {
					return campaign.ID, nil
				}
			case models.DiscountModeUnique:
				if spec.CodePrefix != "" && strings.HasPrefix(code, strings.ToUpper(spec.CodePrefix)) {
					return campaign.ID, nil
				}
			}
		}
	}

	return 0, nil
}

func (af *AttributionFlowImpl) matchViewThrough(ctx context.Context, store *models.Store, payload *dto.OrderCreatePayload) (*models.Lead, error) {
	var customerID *int64
	if payload.Customer != nil && payload.Customer.ID != 0 {
		customerID = utils.ToPtr(payload.Customer.ID)
	}

	var email *string
	if e := orderEmail(payload); e != "" {
		email = &e
	}

	if customerID == nil && email == nil {
		return nil, nil
	}

	lookbackDays := af.engineCfg.ViewThroughLookbackDays
	if lookbackDays <= 0 {
		lookbackDays = 90
	}
	since := utils.UTCNow().AddDate(0, 0, -lookbackDays)

	return af.leadRepo.LatestByCustomerIdentity(ctx, store.ID, customerID, email, since)
}

func (af *AttributionFlowImpl) logOutcome(ctx context.Context, store *models.Store, payload *dto.OrderCreatePayload, action, description string, metadata *ClientMetadata) {
	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		StoreID:     &store.ID,
		Action:      action,
		Description: &description,
		Success:     utils.ToPtr(true),
		IPAddress:   &ipAddress,
		UserAgent:   &userAgent,
		RequestID:   requestIDFromContext(ctx),
	}

	_ = af.auditRepo.Save(ctx, audit)
}

// normalizeOrderCodes uppercases and dedupes the order's discount codes
func normalizeOrderCodes(payload *dto.OrderCreatePayload) []string {
	seen := make(map[string]bool, len(payload.DiscountCodes))
	codes := make([]string, 0, len(payload.DiscountCodes))
	for _, dc := range payload.DiscountCodes {
		code := strings.ToUpper(strings.TrimSpace(dc.Code))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

func orderEmail(payload *dto.OrderCreatePayload) string {
	email := strings.ToLower(strings.TrimSpace(payload.Email))
	if email == "" && payload.Customer != nil {
		email = strings.ToLower(strings.TrimSpace(payload.Customer.Email))
	}
	return email
}

// parsePriceCents converts the webhook's decimal string price to cents.
// Unparseable prices count as zero revenue rather than failing the order.
func parsePriceCents(price string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}
