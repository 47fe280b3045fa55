package dto

import (
	"encoding/json"
	"time"
)

// TargetingSpecDTO configures the campaign audience
type TargetingSpecDTO struct {
	AudienceEnabled bool     `json:"audience_enabled" example:"false"`
	SegmentIDs      []string `json:"segment_ids,omitempty"`
}

// TriggerSpecDTO configures display ceilings and client-evaluated triggers
type TriggerSpecDTO struct {
	MaxPerSession       *int            `json:"max_per_session,omitempty" validate:"omitempty,gte=0" example:"1"`
	MaxPerDay           *int            `json:"max_per_day,omitempty" validate:"omitempty,gte=0" example:"3"`
	RespectGlobalLimits bool            `json:"respect_global_limits" example:"true"`
	ClientTriggers      json.RawMessage `json:"client_triggers,omitempty" swaggertype:"object"`
}

// DiscountTierDTO qualifies a discount value by cart subtotal
type DiscountTierDTO struct {
	MinSubtotalCents int64   `json:"min_subtotal_cents" validate:"gte=0" example:"5000"`
	ValueType        string  `json:"value_type" validate:"required,oneof=percentage fixed_amount free_shipping" example:"percentage"`
	Value            float64 `json:"value" validate:"gte=0" example:"15"`
}

// DiscountSpecDTO configures discount issuance for a campaign
type DiscountSpecDTO struct {
	Enabled    bool              `json:"enabled" example:"true"`
	Mode       string            `json:"mode,omitempty" validate:"omitempty,oneof=shared_code unique_code" example:"unique_code"`
	ValueType  string            `json:"value_type,omitempty" validate:"omitempty,oneof=percentage fixed_amount free_shipping" example:"percentage"`
	Value      float64           `json:"value,omitempty" validate:"gte=0" example:"10"`
	StaticCode string            `json:"static_code,omitempty" validate:"omitempty,max=64" example:"WELCOME10"`
	CodePrefix string            `json:"code_prefix,omitempty" validate:"omitempty,max=32" example:"SPIN-"`
	EmailLock  bool              `json:"email_lock" example:"true"`
	ShowCode   bool              `json:"show_code" example:"true"`
	Tiers      []DiscountTierDTO `json:"tiers,omitempty" validate:"omitempty,dive"`
}

// CreateCampaignRequest creates a new campaign in draft status
type CreateCampaignRequest struct {
	Name           string            `json:"name" validate:"required,min=1,max=255" example:"Spring Spin-to-Win"`
	TemplateFamily string            `json:"template_family" validate:"required,oneof=popup banner social_proof spin_wheel" example:"spin_wheel"`
	Priority       int               `json:"priority" example:"10"`
	StartAt        *time.Time        `json:"start_at,omitempty" example:"2024-03-01T00:00:00Z"`
	EndAt          *time.Time        `json:"end_at,omitempty" example:"2024-03-31T23:59:59Z"`
	IsPreview      bool              `json:"is_preview" example:"false"`
	Targeting      *TargetingSpecDTO `json:"targeting,omitempty"`
	Discount       *DiscountSpecDTO  `json:"discount,omitempty"`
	Trigger        *TriggerSpecDTO   `json:"trigger,omitempty"`
}

// UpdateCampaignRequest patches a campaign. Nil fields are untouched.
type UpdateCampaignRequest struct {
	Name      *string           `json:"name,omitempty" validate:"omitempty,min=1,max=255" example:"Spring Spin-to-Win v2"`
	Priority  *int              `json:"priority,omitempty" example:"20"`
	StartAt   *time.Time        `json:"start_at,omitempty"`
	EndAt     *time.Time        `json:"end_at,omitempty"`
	IsPreview *bool             `json:"is_preview,omitempty"`
	Targeting *TargetingSpecDTO `json:"targeting,omitempty"`
	Discount  *DiscountSpecDTO  `json:"discount,omitempty"`
	Trigger   *TriggerSpecDTO   `json:"trigger,omitempty"`
}

// ChangeCampaignStatusRequest moves a campaign through its lifecycle
type ChangeCampaignStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused archived" example:"active"`
}

// CampaignDTO is the dashboard view of a campaign
type CampaignDTO struct {
	ID             uint             `json:"id" example:"321"`
	UUID           string           `json:"uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name           string           `json:"name" example:"Spring Spin-to-Win"`
	Status         string           `json:"status" example:"active"`
	TemplateFamily string           `json:"template_family" example:"spin_wheel"`
	Priority       int              `json:"priority" example:"10"`
	StartAt        *time.Time       `json:"start_at,omitempty"`
	EndAt          *time.Time       `json:"end_at,omitempty"`
	IsPreview      bool             `json:"is_preview" example:"false"`
	Targeting      TargetingSpecDTO `json:"targeting"`
	Discount       DiscountSpecDTO  `json:"discount"`
	Trigger        TriggerSpecDTO   `json:"trigger"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      *time.Time       `json:"updated_at,omitempty"`
}

// ListCampaignsRequest filters the dashboard campaign list
type ListCampaignsRequest struct {
	Status         string `query:"status" validate:"omitempty,oneof=draft active paused archived" example:"active"`
	TemplateFamily string `query:"template_family" validate:"omitempty,oneof=popup banner social_proof spin_wheel" example:"spin_wheel"`
	Page           int    `query:"page" validate:"omitempty,gte=1" example:"1"`
	PageSize       int    `query:"page_size" validate:"omitempty,gte=1,lte=100" example:"20"`
}

// ListCampaignsResponse is the paginated campaign list
type ListCampaignsResponse struct {
	Campaigns []CampaignDTO `json:"campaigns"`
	Total     int64         `json:"total" example:"42"`
	Page      int           `json:"page" example:"1"`
	PageSize  int           `json:"page_size" example:"20"`
}

// Common error codes for campaign operations
const (
	ErrorCampaignAccessDenied    = "CAMPAIGN_ACCESS_DENIED"
	ErrorInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	ErrorInvalidDiscountSpec     = "INVALID_DISCOUNT_SPEC"
	ErrorInvalidTemplateFamily   = "INVALID_TEMPLATE_FAMILY"
	ErrorCampaignScheduleInvalid = "CAMPAIGN_SCHEDULE_INVALID"
)
