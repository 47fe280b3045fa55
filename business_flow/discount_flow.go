package businessflow

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/amirphl/Nurikabe/app/services"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
)

// DiscountFlow resolves and mints discount codes for captured leads.
// Shared mode hands every lead the same pre-created code without touching
// the host platform; unique mode mints one code per lead through the
// store's admin API.
type DiscountFlow interface {
	IssueForLead(ctx context.Context, store *models.Store, campaign *models.Campaign, lead *models.Lead, cartSubtotalCents int64, metadata *ClientMetadata) (string, error)
}

// DiscountFlowImpl implements the discount issuance flow
type DiscountFlowImpl struct {
	auditRepo     repository.AuditLogRepository
	shopifyClient services.ShopifyAdminClient
}

// NewDiscountFlow creates a new discount flow instance
func NewDiscountFlow(
	auditRepo repository.AuditLogRepository,
	shopifyClient services.ShopifyAdminClient,
) DiscountFlow {
	return &DiscountFlowImpl{
		auditRepo:     auditRepo,
		shopifyClient: shopifyClient,
	}
}

// IssueForLead returns the code for this lead, minting one if the campaign
// runs in unique mode. The caller persists the code on the lead.
func (df *DiscountFlowImpl) IssueForLead(ctx context.Context, store *models.Store, campaign *models.Campaign, lead *models.Lead, cartSubtotalCents int64, metadata *ClientMetadata) (string, error) {
	spec := campaign.Discount
	if !spec.Enabled {
		return "", ErrDiscountNotEnabled
	}
	if err := spec.Validate(); err != nil {
		return "", ErrInvalidDiscountSpec
	}

	valueType, value, err := resolveDiscountValue(spec, cartSubtotalCents)
	if err != nil {
		return "", err
	}

	switch spec.Mode {
	case models.DiscountModeShared:
		df.logIssuance(ctx, store, campaign, lead, spec.StaticCode, true, nil, metadata)
		return spec.StaticCode, nil

	case models.DiscountModeUnique:
		code, err := generateDiscountCode(spec.CodePrefix)
		if err != nil {
			return "", err
		}

		input := services.DiscountCodeInput{
			Code:           code,
			ValueType:      string(valueType),
			Value:          toShopifyValue(valueType, value),
			UsageLimit:     1,
			OncePerBuyer:   true,
			ExpiresAt:      campaign.EndAt,
			PriceRuleTitle: fmt.Sprintf("%s %s", campaign.Name, code),
		}
		if spec.EmailLock {
			input.LockToEmail = lead.Email
		}

		creds := services.ShopifyCredentials{
			ShopDomain:  store.ShopDomain,
			AccessToken: store.AdminAPIToken,
		}

		if campaign.InPreviewMode() {
			// Preview never touches the host platform.
			df.logIssuance(ctx, store, campaign, lead, code, true, nil, metadata)
			return code, nil
		}

		if _, err := df.shopifyClient.CreateDiscountCode(ctx, creds, input); err != nil {
			errMsg := err.Error()
			df.logIssuance(ctx, store, campaign, lead, code, false, &errMsg, metadata)
			return "", ErrExternalService
		}

		df.logIssuance(ctx, store, campaign, lead, code, true, nil, metadata)
		return code, nil

	default:
		return "", ErrDiscountModeInvalid
	}
}

// resolveDiscountValue picks the tier the cart subtotal qualifies for, the
// highest threshold winning. Without tiers the base value applies.
func resolveDiscountValue(spec models.DiscountSpec, cartSubtotalCents int64) (models.DiscountValueType, float64, error) {
	if len(spec.Tiers) == 0 {
		return spec.ValueType, spec.Amount, nil
	}

	var best *models.DiscountTier
	for i := range spec.Tiers {
		tier := &spec.Tiers[i]
		if cartSubtotalCents < tier.MinSubtotalCents {
			continue
		}
		if best == nil || tier.MinSubtotalCents > best.MinSubtotalCents {
			best = tier
		}
	}

	if best == nil {
		return "", 0, ErrNoQualifyingTier
	}
	return best.ValueType, best.Value, nil
}

// toShopifyValue converts a spec value to the admin API's integer scale:
// whole percent for percentage, minor currency units for fixed amounts.
func toShopifyValue(valueType models.DiscountValueType, value float64) int64 {
	switch valueType {
	case models.DiscountValueFixedAmount:
		return int64(value * 100)
	case models.DiscountValueFreeShip:
		return 0
	default:
		return int64(value)
	}
}

const discountCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateDiscountCode appends six random characters from an alphabet
// without lookalikes to the campaign prefix.
func generateDiscountCode(prefix string) (string, error) {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(discountCodeAlphabet))))
		if err != nil {
			return "", err
		}
		suffix[i] = discountCodeAlphabet[n.Int64()]
	}
	return prefix + string(suffix), nil
}

func (df *DiscountFlowImpl) logIssuance(ctx context.Context, store *models.Store, campaign *models.Campaign, lead *models.Lead, code string, success bool, errMsg *string, metadata *ClientMetadata) {
	action := models.AuditActionDiscountIssued
	description := fmt.Sprintf("Discount code %s issued for campaign %d", code, campaign.ID)
	outcome := "issued"
	if !success {
		action = models.AuditActionDiscountIssueFailed
		description = fmt.Sprintf("Discount code issuance failed for campaign %d", campaign.ID)
		outcome = "failed"
	}
	discountIssuanceTotal.WithLabelValues(outcome).Inc()

	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		StoreID:      &store.ID,
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errMsg,
		RequestID:    requestIDFromContext(ctx),
	}

	_ = df.auditRepo.Save(ctx, audit)
}
