package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"gorm.io/gorm"
)

// FrequencyRule holds display ceilings for one frequency-cap pool.
// Nil ceilings mean "no ceiling configured" and never block a display.
type FrequencyRule struct {
	Enabled       bool `json:"enabled"`
	MaxPerSession *int `json:"max_per_session,omitempty"`
	MaxPerDay     *int `json:"max_per_day,omitempty"`
}

// HasSessionCap reports whether the rule carries an enforceable session ceiling
func (r *FrequencyRule) HasSessionCap() bool {
	return r != nil && r.Enabled && r.MaxPerSession != nil && *r.MaxPerSession > 0
}

// HasDayCap reports whether the rule carries an enforceable daily ceiling
func (r *FrequencyRule) HasDayCap() bool {
	return r != nil && r.Enabled && r.MaxPerDay != nil && *r.MaxPerDay > 0
}

// FrequencySettings represents the store-wide frequency configuration.
// Families maps a template family name to its own rule, which takes
// precedence over the global rule for campaigns of that family.
type FrequencySettings struct {
	Global          *FrequencyRule           `json:"global,omitempty"`
	Families        map[string]FrequencyRule `json:"families,omitempty"`
	CooldownSeconds *int                     `json:"cooldown_seconds,omitempty"`
}

// FamilyRule returns the per-family rule when one is configured
func (f *FrequencySettings) FamilyRule(family TemplateFamily) *FrequencyRule {
	if f == nil || len(f.Families) == 0 {
		return nil
	}
	if rule, ok := f.Families[family.String()]; ok {
		return &rule
	}
	return nil
}

// HasCooldown reports whether a display cooldown gap is configured
func (f *FrequencySettings) HasCooldown() bool {
	return f != nil && f.CooldownSeconds != nil && *f.CooldownSeconds > 0
}

// Value implements the driver.Valuer interface for FrequencySettings
func (f FrequencySettings) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements the sql.Scanner interface for FrequencySettings
func (f *FrequencySettings) Scan(value any) error {
	if value == nil {
		*f = FrequencySettings{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FrequencySettings", value)
	}

	return json.Unmarshal(bytes, f)
}

// StoreSettings represents the per-store engine configuration row
type StoreSettings struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	StoreID   uint              `gorm:"not null;uniqueIndex:uk_store_settings_store_id" json:"store_id"`
	Frequency FrequencySettings `gorm:"type:jsonb;not null" json:"frequency"`
	CreatedAt time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`

	// Relations
	Store *Store `gorm:"foreignKey:StoreID;references:ID" json:"store,omitempty"`
}

// TableName returns the table name for the model
func (StoreSettings) TableName() string {
	return "store_settings"
}

// BeforeCreate is called before creating a new record
func (s *StoreSettings) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (s *StoreSettings) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	s.UpdatedAt = &now
	return nil
}

// StoreSettingsFilter represents filter criteria for store settings
type StoreSettingsFilter struct {
	ID      *uint `json:"id,omitempty"`
	StoreID *uint `json:"store_id,omitempty"`
}
