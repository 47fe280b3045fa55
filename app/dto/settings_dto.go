package dto

// FrequencyRuleDTO is a session/day display cap
type FrequencyRuleDTO struct {
	Enabled       bool `json:"enabled" example:"true"`
	MaxPerSession int  `json:"max_per_session" validate:"gte=0" example:"1"`
	MaxPerDay     int  `json:"max_per_day" validate:"gte=0" example:"3"`
}

// FrequencySettingsDTO is the store-wide frequency configuration
type FrequencySettingsDTO struct {
	Global          FrequencyRuleDTO            `json:"global"`
	Families        map[string]FrequencyRuleDTO `json:"families,omitempty"`
	CooldownSeconds int                         `json:"cooldown_seconds" validate:"gte=0" example:"120"`
}

// StoreSettingsResponse is the dashboard settings view
type StoreSettingsResponse struct {
	StoreUUID string               `json:"store_uuid" example:"3b241101-e2bb-4255-8caf-4136c566a962"`
	Timezone  string               `json:"timezone" example:"America/New_York"`
	Frequency FrequencySettingsDTO `json:"frequency"`
	UpdatedAt string               `json:"updated_at" example:"2024-02-01T08:00:00Z"`
}

// UpdateStoreSettingsRequest updates frequency rules and timezone
type UpdateStoreSettingsRequest struct {
	Timezone  *string               `json:"timezone,omitempty" validate:"omitempty,max=64" example:"America/New_York"`
	Frequency *FrequencySettingsDTO `json:"frequency,omitempty"`
}

// Common error codes for settings operations
const (
	ErrorSettingsNotFound    = "SETTINGS_NOT_FOUND"
	ErrorInvalidTimezone     = "INVALID_TIMEZONE"
	ErrorInvalidFrequencyCap = "INVALID_FREQUENCY_CAP"
)
