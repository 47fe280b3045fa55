package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/Nurikabe/app/dto"
	"github.com/amirphl/Nurikabe/config"
	"github.com/amirphl/Nurikabe/models"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
)

// LeadFlow handles popup form submissions: rate limiting, challenge token
// redemption, lead persistence, and discount issuance.
type LeadFlow interface {
	SubmitLead(ctx context.Context, store *models.Store, request *dto.LeadSubmitRequest, metadata *ClientMetadata) (*dto.LeadSubmitResponse, error)
}

// LeadFlowImpl implements the lead capture flow
type LeadFlowImpl struct {
	campaignRepo  repository.CampaignRepository
	leadRepo      repository.LeadRepository
	auditRepo     repository.AuditLogRepository
	rateLimitFlow RateLimitFlow
	challengeFlow ChallengeFlow
	discountFlow  DiscountFlow
	engineCfg     config.EngineConfig
	db            *gorm.DB
}

// NewLeadFlow creates a new lead flow instance
func NewLeadFlow(
	campaignRepo repository.CampaignRepository,
	leadRepo repository.LeadRepository,
	auditRepo repository.AuditLogRepository,
	rateLimitFlow RateLimitFlow,
	challengeFlow ChallengeFlow,
	discountFlow DiscountFlow,
	engineCfg config.EngineConfig,
	db *gorm.DB,
) LeadFlow {
	return &LeadFlowImpl{
		campaignRepo:  campaignRepo,
		leadRepo:      leadRepo,
		auditRepo:     auditRepo,
		rateLimitFlow: rateLimitFlow,
		challengeFlow: challengeFlow,
		discountFlow:  discountFlow,
		engineCfg:     engineCfg,
		db:            db,
	}
}

// SubmitLead captures one popup submission. The challenge token is burned
// before anything is persisted, so a replayed request dies early. Discount
// issuance happens after the lead row is committed: a platform outage must
// not lose the email.
func (lf *LeadFlowImpl) SubmitLead(ctx context.Context, store *models.Store, request *dto.LeadSubmitRequest, metadata *ClientMetadata) (*dto.LeadSubmitResponse, error) {
	if err := lf.validateSubmitRequest(store, request); err != nil {
		return nil, NewBusinessError("LEAD_SUBMIT_VALIDATION_FAILED", "Lead submission validation failed", err)
	}

	email := strings.ToLower(strings.TrimSpace(request.Email))

	campaign, err := lf.campaignRepo.ByUUID(ctx, request.CampaignUUID)
	if err != nil {
		return nil, NewBusinessError("LEAD_SUBMIT_FAILED", "Lead submission failed", err)
	}
	if campaign == nil || campaign.StoreID != store.ID {
		return nil, NewBusinessError("LEAD_SUBMIT_FAILED", "Lead submission failed", ErrCampaignNotFound)
	}
	if !campaign.IsActive() && !campaign.InPreviewMode() {
		return nil, NewBusinessError("LEAD_SUBMIT_FAILED", "Lead submission failed", ErrCampaignNotActive)
	}

	preview := request.Preview && campaign.InPreviewMode()

	if !(preview && lf.engineCfg.PreviewBypassesRateLimit) {
		limitKey := fmt.Sprintf("%s:%s", email, request.CampaignUUID)
		decision, err := lf.rateLimitFlow.AllowLeadSubmit(ctx, limitKey)
		if err == nil && !decision.Allowed {
			return nil, NewBusinessError("LEAD_SUBMIT_RATE_LIMITED", "Too many submissions",
				&RateLimitExceededError{ResetAt: decision.ResetAt})
		}
	}

	if err := lf.challengeFlow.Consume(ctx, store, campaign, request.ChallengeToken, request.SessionID, metadata); err != nil {
		return nil, NewBusinessError("LEAD_SUBMIT_TOKEN_REJECTED", "Challenge token rejected", err)
	}

	var lead *models.Lead
	alreadySubscribed := false

	resp, err := lf.WithSubmitTransaction(ctx, func(ctx context.Context) (*dto.LeadSubmitResponse, error) {
		existing, err := lf.leadRepo.ByCampaignAndEmail(ctx, campaign.ID, email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			lead = existing
			alreadySubscribed = true

			code := ""
			if existing.DiscountCode != nil {
				code = *existing.DiscountCode
			}
			return &dto.LeadSubmitResponse{
				LeadUUID:          existing.UUID.String(),
				DiscountCode:      codeIfShown(campaign, code),
				ShowDiscountCode:  campaign.Discount.Enabled && campaign.Discount.ShowCode,
				AlreadySubscribed: true,
			}, nil
		}

		ipHash := ""
		if metadata != nil && metadata.IPAddress != "" {
			ipHash = HashIP(lf.engineCfg.IPHashSalt, metadata.IPAddress)
		}

		lead = &models.Lead{
			StoreID:    store.ID,
			CampaignID: campaign.ID,
			SessionID:  request.SessionID,
			VisitorID:  request.VisitorID,
			Email:      email,
		}
		if ipHash != "" {
			lead.IPHash = &ipHash
		}

		if err := lf.leadRepo.Save(ctx, lead); err != nil {
			return nil, err
		}

		return &dto.LeadSubmitResponse{
			LeadUUID:         lead.UUID.String(),
			ShowDiscountCode: campaign.Discount.Enabled && campaign.Discount.ShowCode,
		}, nil
	})

	if err != nil {
		errMsg := fmt.Sprintf("Lead submission failed: %s", err.Error())
		lf.logSubmission(ctx, store, campaign, lead, errMsg, false, &errMsg, metadata)
		return nil, NewBusinessError("LEAD_SUBMIT_FAILED", "Lead submission failed", err)
	}

	if !alreadySubscribed {
		msg := fmt.Sprintf("Lead captured for campaign %d", campaign.ID)
		lf.logSubmission(ctx, store, campaign, lead, msg, true, nil, metadata)
	}

	// A resubmission whose earlier issuance failed still has no code, so
	// the retry gets another attempt. AssignDiscountCode only writes when
	// the column is still empty, which keeps a stored code stable under
	// concurrent retries.
	if campaign.Discount.Enabled && lead.DiscountCode == nil {
		code, err := lf.discountFlow.IssueForLead(ctx, store, campaign, lead, request.CartSubtotalCents, metadata)
		if err == nil && code != "" {
			if assigned, err := lf.leadRepo.AssignDiscountCode(ctx, lead.ID, code); err == nil && assigned {
				resp.DiscountCode = codeIfShown(campaign, code)
			}
		}
		// Issuance failures are already audited by the discount flow.
		// The lead stays captured and the response simply has no code.
	}

	return resp, nil
}

func codeIfShown(campaign *models.Campaign, code string) string {
	if campaign.Discount.Enabled && campaign.Discount.ShowCode {
		return code
	}
	return ""
}

func (lf *LeadFlowImpl) validateSubmitRequest(store *models.Store, request *dto.LeadSubmitRequest) error {
	if store == nil {
		return ErrStoreNotFound
	}
	if request == nil || request.CampaignUUID == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(request.Email) == "" {
		return ErrLeadEmailRequired
	}
	if request.SessionID == "" {
		return ErrInvalidInput
	}
	if len(request.ChallengeToken) != 64 {
		return ErrTokenInvalid
	}
	return nil
}

func (lf *LeadFlowImpl) logSubmission(ctx context.Context, store *models.Store, campaign *models.Campaign, lead *models.Lead, description string, success bool, errMsg *string, metadata *ClientMetadata) {
	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	if success {
		leadsCapturedTotal.Inc()
	}

	audit := &models.AuditLog{
		StoreID:      &store.ID,
		Action:       models.AuditActionLeadCreated,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errMsg,
		RequestID:    requestIDFromContext(ctx),
	}

	_ = lf.auditRepo.Save(ctx, audit)
}

func (lf *LeadFlowImpl) WithSubmitTransaction(ctx context.Context, fn func(context.Context) (*dto.LeadSubmitResponse, error)) (*dto.LeadSubmitResponse, error) {
	var result *dto.LeadSubmitResponse
	var fnErr error

	err := repository.WithTransaction(ctx, lf.db, func(ctx context.Context) error {
		result, fnErr = fn(ctx)
		return fnErr
	})

	if err != nil {
		return nil, err
	}
	return result, fnErr
}
