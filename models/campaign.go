package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignStatus represents the status of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusPaused   CampaignStatus = "paused"
	CampaignStatusArchived CampaignStatus = "archived"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusActive,
		CampaignStatusPaused, CampaignStatusArchived:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// TemplateFamily represents the functional category of a popup. Campaigns of
// the same family share one frequency-cap pool distinct from other families.
type TemplateFamily string

const (
	TemplateFamilyPopup       TemplateFamily = "popup"
	TemplateFamilyBanner      TemplateFamily = "banner"
	TemplateFamilySocialProof TemplateFamily = "social_proof"
	TemplateFamilySpinWheel   TemplateFamily = "spin_wheel"
)

// String returns the string representation of the template family
func (f TemplateFamily) String() string {
	return string(f)
}

// Valid checks if the template family is valid
func (f TemplateFamily) Valid() bool {
	switch f {
	case TemplateFamilyPopup, TemplateFamilyBanner,
		TemplateFamilySocialProof, TemplateFamilySpinWheel:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for TemplateFamily
func (f *TemplateFamily) Scan(value any) error {
	if value == nil {
		*f = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*f = TemplateFamily(v)
	case []byte:
		*f = TemplateFamily(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TemplateFamily", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for TemplateFamily
func (f TemplateFamily) Value() (driver.Value, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid TemplateFamily: %s", f)
	}
	return string(f), nil
}

// TargetingSpec represents the audience targeting configuration of a campaign.
// Segment memberships are pre-synced from the host platform and looked up,
// never computed live.
type TargetingSpec struct {
	AudienceEnabled bool     `json:"audience_enabled,omitempty"`
	SegmentIDs      []string `json:"segment_ids,omitempty"`
}

// Value implements the driver.Valuer interface for TargetingSpec
func (s TargetingSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for TargetingSpec
func (s *TargetingSpec) Scan(value any) error {
	if value == nil {
		*s = TargetingSpec{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TargetingSpec", value)
	}

	return json.Unmarshal(bytes, s)
}

// TriggerSpec represents trigger configuration. The display ceilings are
// enforced server-side; ClientTriggers (exit intent, scroll depth, cart
// value, ...) are opaque to the engine and passed through to the client
// unchanged for client-side evaluation.
type TriggerSpec struct {
	MaxPerSession       *int            `json:"max_per_session,omitempty"`
	MaxPerDay           *int            `json:"max_per_day,omitempty"`
	RespectGlobalLimits bool            `json:"respect_global_limits,omitempty"`
	ClientTriggers      json.RawMessage `json:"client_triggers,omitempty"`
}

// HasSessionCap reports whether the campaign carries its own session ceiling
func (s *TriggerSpec) HasSessionCap() bool {
	return s != nil && s.MaxPerSession != nil && *s.MaxPerSession > 0
}

// HasDayCap reports whether the campaign carries its own daily ceiling
func (s *TriggerSpec) HasDayCap() bool {
	return s != nil && s.MaxPerDay != nil && *s.MaxPerDay > 0
}

// Value implements the driver.Valuer interface for TriggerSpec
func (s TriggerSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for TriggerSpec
func (s *TriggerSpec) Scan(value any) error {
	if value == nil {
		*s = TriggerSpec{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TriggerSpec", value)
	}

	return json.Unmarshal(bytes, s)
}

// DiscountMode describes how a campaign resolves codes for visitors
type DiscountMode string

const (
	// DiscountModeShared hands every visitor the same pre-created code
	DiscountModeShared DiscountMode = "shared_code"
	// DiscountModeUnique mints one code per visitor on the host platform
	DiscountModeUnique DiscountMode = "unique_code"
)

// Valid checks if the discount mode is valid
func (m DiscountMode) Valid() bool {
	return m == DiscountModeShared || m == DiscountModeUnique
}

// DiscountValueType describes what kind of value a discount applies
type DiscountValueType string

const (
	DiscountValuePercentage  DiscountValueType = "percentage"
	DiscountValueFixedAmount DiscountValueType = "fixed_amount"
	DiscountValueFreeShip    DiscountValueType = "free_shipping"
)

// Valid checks if the discount value type is valid
func (t DiscountValueType) Valid() bool {
	switch t {
	case DiscountValuePercentage, DiscountValueFixedAmount, DiscountValueFreeShip:
		return true
	default:
		return false
	}
}

// DiscountTier qualifies a discount value by cart subtotal. The highest
// qualifying tier wins.
type DiscountTier struct {
	MinSubtotalCents int64             `json:"min_subtotal_cents"`
	ValueType        DiscountValueType `json:"value_type"`
	Value            float64           `json:"value"`
}

// DiscountSpec represents the discount configuration of a campaign. It is a
// closed structure validated at the system boundary; the engine never
// interprets free-form discount settings.
type DiscountSpec struct {
	Enabled    bool              `json:"enabled"`
	Mode       DiscountMode      `json:"mode,omitempty"`
	ValueType  DiscountValueType `json:"value_type,omitempty"`
	Amount     float64           `json:"value,omitempty"`
	StaticCode string            `json:"static_code,omitempty"`
	CodePrefix string            `json:"code_prefix,omitempty"`
	EmailLock  bool              `json:"email_lock,omitempty"`
	ShowCode   bool              `json:"show_code"`
	Tiers      []DiscountTier    `json:"tiers,omitempty"`
}

// Validate checks the spec for internal consistency. Disabled specs are
// always valid; the remaining fields are only meaningful when enabled.
func (s *DiscountSpec) Validate() error {
	if s == nil || !s.Enabled {
		return nil
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("invalid discount mode: %q", s.Mode)
	}
	if s.Mode == DiscountModeShared && s.StaticCode == "" {
		return fmt.Errorf("shared_code mode requires a static code")
	}
	if s.Mode == DiscountModeUnique && s.CodePrefix == "" {
		return fmt.Errorf("unique_code mode requires a code prefix")
	}
	if !s.ValueType.Valid() {
		return fmt.Errorf("invalid discount value type: %q", s.ValueType)
	}
	if s.ValueType != DiscountValueFreeShip && s.Amount <= 0 {
		return fmt.Errorf("discount value must be positive")
	}
	for i, tier := range s.Tiers {
		if !tier.ValueType.Valid() {
			return fmt.Errorf("invalid value type in tier %d: %q", i, tier.ValueType)
		}
		if tier.MinSubtotalCents < 0 {
			return fmt.Errorf("negative subtotal threshold in tier %d", i)
		}
	}
	return nil
}

// Value implements the driver.Valuer interface for DiscountSpec
func (s DiscountSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for DiscountSpec
func (s *DiscountSpec) Scan(value any) error {
	if value == nil {
		*s = DiscountSpec{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into DiscountSpec", value)
	}

	return json.Unmarshal(bytes, s)
}

// Campaign represents a popup campaign in the database
type Campaign struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	StoreID        uint           `gorm:"not null;index:idx_campaigns_store_id" json:"store_id"`
	Name           string         `gorm:"size:255;not null" json:"name"`
	Status         CampaignStatus `gorm:"type:campaign_status;not null;default:'draft';index:idx_campaigns_status" json:"status"`
	TemplateFamily TemplateFamily `gorm:"type:template_family;not null;index:idx_campaigns_template_family" json:"template_family"`
	Priority       int            `gorm:"not null;default:0;index:idx_campaigns_priority" json:"priority"`
	StartAt        *time.Time     `gorm:"index:idx_campaigns_start_at" json:"start_at,omitempty"`
	EndAt          *time.Time     `gorm:"index:idx_campaigns_end_at" json:"end_at,omitempty"`
	IsPreview      *bool          `gorm:"default:false" json:"is_preview"`
	Targeting      TargetingSpec  `gorm:"type:jsonb;not null" json:"targeting"`
	Discount       DiscountSpec   `gorm:"type:jsonb;not null" json:"discount"`
	Trigger        TriggerSpec    `gorm:"type:jsonb;not null" json:"trigger"`
	CreatedAt      time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_campaigns_created_at" json:"created_at"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`

	// Relations
	Store *Store `gorm:"foreignKey:StoreID;references:ID" json:"store,omitempty"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	if c.TemplateFamily == "" {
		c.TemplateFamily = TemplateFamilyPopup
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// IsActive checks if the campaign is serving traffic
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// InPreviewMode checks if the campaign runs in preview/sandbox mode
func (c *Campaign) InPreviewMode() bool {
	return utils.IsTrue(c.IsPreview)
}

// ScheduleEligibleAt checks the campaign schedule window against the given
// instant. Absent dates never exclude.
func (c *Campaign) ScheduleEligibleAt(now time.Time) bool {
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return false
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return false
	}
	return true
}

// CanTransitionTo checks if the campaign can transition to the given status
func (c *Campaign) CanTransitionTo(newStatus CampaignStatus) bool {
	switch c.Status {
	case CampaignStatusDraft:
		return newStatus == CampaignStatusActive ||
			newStatus == CampaignStatusArchived
	case CampaignStatusActive:
		return newStatus == CampaignStatusPaused ||
			newStatus == CampaignStatusArchived
	case CampaignStatusPaused:
		return newStatus == CampaignStatusActive ||
			newStatus == CampaignStatusArchived
	default:
		return false
	}
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID             *uint           `json:"id,omitempty"`
	UUID           *uuid.UUID      `json:"uuid,omitempty"`
	StoreID        *uint           `json:"store_id,omitempty"`
	Status         *CampaignStatus `json:"status,omitempty"`
	TemplateFamily *TemplateFamily `json:"template_family,omitempty"`
	Name           *string         `json:"name,omitempty"`
	IsPreview      *bool           `json:"is_preview,omitempty"`
	CreatedAfter   *time.Time      `json:"created_after,omitempty"`
	CreatedBefore  *time.Time      `json:"created_before,omitempty"`
}

// GetStatusDisplayName returns a human-readable status name
func (c *Campaign) GetStatusDisplayName() string {
	switch c.Status {
	case CampaignStatusDraft:
		return "Draft"
	case CampaignStatusActive:
		return "Active"
	case CampaignStatusPaused:
		return "Paused"
	case CampaignStatusArchived:
		return "Archived"
	default:
		return "Unknown"
	}
}
