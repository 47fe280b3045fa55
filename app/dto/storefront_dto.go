package dto

import (
	"encoding/json"
	"time"
)

// CampaignView is the storefront projection of an active campaign.
// It exposes only what the embed script needs to render a popup.
type CampaignView struct {
	UUID             string          `json:"uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name             string          `json:"name" example:"Spring Spin-to-Win"`
	TemplateFamily   string          `json:"template_family" example:"wheel"`
	Priority         int             `json:"priority" example:"10"`
	ClientTriggers   json.RawMessage `json:"client_triggers,omitempty" swaggertype:"object"`
	ShowDiscountCode bool            `json:"show_discount_code" example:"true"`
}

// ActiveCampaignsResponse lists campaigns eligible for a storefront visitor
type ActiveCampaignsResponse struct {
	Campaigns []CampaignView `json:"campaigns"`
}

// DisplayCheckRequest asks whether a popup may be shown to this visitor
type DisplayCheckRequest struct {
	CampaignUUID string `json:"campaign_uuid" validate:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	VisitorID    string `json:"visitor_id" validate:"max=64" example:"v_8f14e45fceea167a"`
	SessionID    string `json:"session_id" validate:"max=64" example:"s_c9f0f895fb98ab91"`
	PageURL      string `json:"page_url" validate:"omitempty,max=2048" example:"https://acme-store.com/products/widget"`
}

// DisplayCheckResponse is the frequency cap verdict. Reason is a stable
// machine code and Message its human-readable form.
type DisplayCheckResponse struct {
	Allowed bool   `json:"allowed" example:"true"`
	Reason  string `json:"reason,omitempty" example:"campaign_session_limit"`
	Message string `json:"message,omitempty" example:"Campaign session limit exceeded"`
}

// DisplayRecordRequest records that a popup was actually rendered
type DisplayRecordRequest struct {
	CampaignUUID string `json:"campaign_uuid" validate:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	VisitorID    string `json:"visitor_id" validate:"max=64" example:"v_8f14e45fceea167a"`
	SessionID    string `json:"session_id" validate:"max=64" example:"s_c9f0f895fb98ab91"`
	PageURL      string `json:"page_url" validate:"omitempty,max=2048" example:"https://acme-store.com/products/widget"`
}

// ChallengeRequest asks for a short-lived submission token
type ChallengeRequest struct {
	CampaignUUID string `json:"campaign_uuid" validate:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	SessionID    string `json:"session_id" validate:"required,max=64" example:"s_c9f0f895fb98ab91"`
}

// ChallengeResponse carries the one-time token the lead submission must present
type ChallengeResponse struct {
	Token     string    `json:"token" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	ExpiresAt time.Time `json:"expires_at" example:"2025-03-01T12:15:00Z"`
	ExpiresIn int       `json:"expires_in" example:"900"`
}

// LeadSubmitRequest is the popup form submission
type LeadSubmitRequest struct {
	CampaignUUID      string `json:"campaign_uuid" validate:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	ChallengeToken    string `json:"challenge_token" validate:"required,len=64" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	Email             string `json:"email" validate:"required,email,max=320" example:"visitor@example.com"`
	VisitorID         string `json:"visitor_id" validate:"max=64" example:"v_8f14e45fceea167a"`
	SessionID         string `json:"session_id" validate:"required,max=64" example:"s_c9f0f895fb98ab91"`
	CartSubtotalCents int64  `json:"cart_subtotal_cents" validate:"gte=0" example:"7500"`
	Preview           bool   `json:"preview" example:"false"`
}

// LeadSubmitResponse is returned after a successful lead capture
type LeadSubmitResponse struct {
	LeadUUID          string `json:"lead_uuid" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	DiscountCode      string `json:"discount_code,omitempty" example:"SPIN-ABC123"`
	ShowDiscountCode  bool   `json:"show_discount_code" example:"true"`
	AlreadySubscribed bool   `json:"already_subscribed" example:"false"`
}

// Display check denial reasons. Campaign codes mean the campaign's own
// trigger cap was hit; global codes mean a store-level rule denied it.
const (
	DenyReasonCampaignSessionLimit = "campaign_session_limit"
	DenyReasonCampaignDayLimit     = "campaign_day_limit"
	DenyReasonGlobalSessionLimit   = "global_session_limit"
	DenyReasonGlobalDayLimit       = "global_day_limit"
	DenyReasonCooldown             = "cooldown"
	DenyReasonCampaignInactive     = "campaign_inactive"
	DenyReasonOutsideSchedule      = "outside_schedule"
)

var denyReasonMessages = map[string]string{
	DenyReasonCampaignSessionLimit: "Campaign session limit exceeded",
	DenyReasonCampaignDayLimit:     "Campaign daily limit exceeded",
	DenyReasonGlobalSessionLimit:   "Global session limit exceeded",
	DenyReasonGlobalDayLimit:       "Global daily limit exceeded",
	DenyReasonCooldown:             "Display cooldown active",
	DenyReasonCampaignInactive:     "Campaign is not active",
	DenyReasonOutsideSchedule:      "Campaign is outside its schedule window",
}

// DenyReasonMessage maps a denial code to its human-readable message
func DenyReasonMessage(reason string) string {
	return denyReasonMessages[reason]
}

// Common error codes for storefront operations
const (
	ErrorCampaignNotFound    = "CAMPAIGN_NOT_FOUND"
	ErrorCampaignNotActive   = "CAMPAIGN_NOT_ACTIVE"
	ErrorTokenInvalid        = "TOKEN_INVALID"
	ErrorTokenConsumed       = "TOKEN_CONSUMED"
	ErrorRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrorInvalidStoreKey     = "INVALID_STORE_KEY"
	ErrorDiscountUnavailable = "DISCOUNT_UNAVAILABLE"
)
