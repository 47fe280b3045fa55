package models

import (
	"testing"
	"time"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignStatusValidation(t *testing.T) {
	valid := []CampaignStatus{
		CampaignStatusDraft,
		CampaignStatusActive,
		CampaignStatusPaused,
		CampaignStatusArchived,
	}
	for _, status := range valid {
		assert.True(t, status.Valid(), "expected %s to be valid", status)
	}

	assert.False(t, CampaignStatus("deleted").Valid())
	assert.False(t, CampaignStatus("").Valid())

	t.Run("Value rejects invalid status", func(t *testing.T) {
		_, err := CampaignStatus("deleted").Value()
		assert.Error(t, err)
	})

	t.Run("Scan accepts string and bytes", func(t *testing.T) {
		var s CampaignStatus
		require.NoError(t, s.Scan("active"))
		assert.Equal(t, CampaignStatusActive, s)

		require.NoError(t, s.Scan([]byte("paused")))
		assert.Equal(t, CampaignStatusPaused, s)

		require.NoError(t, s.Scan(nil))
		assert.Equal(t, CampaignStatus(""), s)

		assert.Error(t, s.Scan(42))
	})
}

func TestTemplateFamilyValidation(t *testing.T) {
	valid := []TemplateFamily{
		TemplateFamilyPopup,
		TemplateFamilyBanner,
		TemplateFamilySocialProof,
		TemplateFamilySpinWheel,
	}
	for _, family := range valid {
		assert.True(t, family.Valid(), "expected %s to be valid", family)
	}
	assert.False(t, TemplateFamily("toast").Valid())

	var f TemplateFamily
	require.NoError(t, f.Scan("spin_wheel"))
	assert.Equal(t, TemplateFamilySpinWheel, f)
}

func TestDiscountSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    DiscountSpec
		wantErr string
	}{
		{
			name: "disabled spec is always valid",
			spec: DiscountSpec{Enabled: false, Mode: "garbage"},
		},
		{
			name: "shared mode with static code",
			spec: DiscountSpec{
				Enabled:    true,
				Mode:       DiscountModeShared,
				ValueType:  DiscountValuePercentage,
				Amount:     15,
				StaticCode: "SPRING15",
			},
		},
		{
			name: "unique mode with prefix",
			spec: DiscountSpec{
				Enabled:    true,
				Mode:       DiscountModeUnique,
				ValueType:  DiscountValueFixedAmount,
				Amount:     5,
				CodePrefix: "SPIN",
			},
		},
		{
			name: "free shipping needs no value",
			spec: DiscountSpec{
				Enabled:    true,
				Mode:       DiscountModeShared,
				ValueType:  DiscountValueFreeShip,
				StaticCode: "FREESHIP",
			},
		},
		{
			name:    "invalid mode",
			spec:    DiscountSpec{Enabled: true, Mode: "bogus"},
			wantErr: "invalid discount mode",
		},
		{
			name: "shared mode without static code",
			spec: DiscountSpec{
				Enabled:   true,
				Mode:      DiscountModeShared,
				ValueType: DiscountValuePercentage,
				Amount:    10,
			},
			wantErr: "requires a static code",
		},
		{
			name: "unique mode without prefix",
			spec: DiscountSpec{
				Enabled:   true,
				Mode:      DiscountModeUnique,
				ValueType: DiscountValuePercentage,
				Amount:    10,
			},
			wantErr: "requires a code prefix",
		},
		{
			name: "invalid value type",
			spec: DiscountSpec{
				Enabled:    true,
				Mode:       DiscountModeShared,
				StaticCode: "X",
				ValueType:  "bogus",
			},
			wantErr: "invalid discount value type",
		},
		{
			name: "zero percentage value",
			spec: DiscountSpec{
				Enabled:    true,
				Mode:       DiscountModeShared,
				StaticCode: "X",
				ValueType:  DiscountValuePercentage,
				Amount:     0,
			},
			wantErr: "must be positive",
		},
		{
			name: "tier with invalid value type",
			spec: DiscountSpec{
				Enabled:    true,
				Mode:       DiscountModeUnique,
				CodePrefix: "SPIN",
				ValueType:  DiscountValuePercentage,
				Amount:     10,
				Tiers: []DiscountTier{
					{MinSubtotalCents: 5000, ValueType: "bogus", Value: 20},
				},
			},
			wantErr: "invalid value type in tier 0",
		},
		{
			name: "tier with negative threshold",
			spec: DiscountSpec{
				Enabled:    true,
				Mode:       DiscountModeUnique,
				CodePrefix: "SPIN",
				ValueType:  DiscountValuePercentage,
				Amount:     10,
				Tiers: []DiscountTier{
					{MinSubtotalCents: -1, ValueType: DiscountValuePercentage, Value: 20},
				},
			},
			wantErr: "negative subtotal threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}

	t.Run("nil spec is valid", func(t *testing.T) {
		var spec *DiscountSpec
		assert.NoError(t, spec.Validate())
	})
}

func TestDiscountSpecScanValue(t *testing.T) {
	spec := DiscountSpec{
		Enabled:    true,
		Mode:       DiscountModeUnique,
		ValueType:  DiscountValuePercentage,
		Amount:     10,
		CodePrefix: "SPIN",
		EmailLock:  true,
		ShowCode:   true,
		Tiers: []DiscountTier{
			{MinSubtotalCents: 5000, ValueType: DiscountValuePercentage, Value: 15},
		},
	}

	value, err := spec.Value()
	require.NoError(t, err)

	var decoded DiscountSpec
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, spec, decoded)

	t.Run("nil resets the spec", func(t *testing.T) {
		require.NoError(t, decoded.Scan(nil))
		assert.Equal(t, DiscountSpec{}, decoded)
	})

	t.Run("unsupported source type", func(t *testing.T) {
		assert.Error(t, decoded.Scan(123))
	})
}

func TestTriggerSpecCaps(t *testing.T) {
	t.Run("nil spec has no caps", func(t *testing.T) {
		var spec *TriggerSpec
		assert.False(t, spec.HasSessionCap())
		assert.False(t, spec.HasDayCap())
	})

	t.Run("zero and negative ceilings do not count", func(t *testing.T) {
		spec := &TriggerSpec{
			MaxPerSession: utils.ToPtr(0),
			MaxPerDay:     utils.ToPtr(-1),
		}
		assert.False(t, spec.HasSessionCap())
		assert.False(t, spec.HasDayCap())
	})

	t.Run("positive ceilings count", func(t *testing.T) {
		spec := &TriggerSpec{
			MaxPerSession: utils.ToPtr(1),
			MaxPerDay:     utils.ToPtr(3),
		}
		assert.True(t, spec.HasSessionCap())
		assert.True(t, spec.HasDayCap())
	})
}

func TestCampaignScheduleEligibleAt(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name     string
		startAt  *time.Time
		endAt    *time.Time
		eligible bool
	}{
		{name: "no dates", eligible: true},
		{name: "started, no end", startAt: &past, eligible: true},
		{name: "future start", startAt: &future, eligible: false},
		{name: "past end", endAt: &past, eligible: false},
		{name: "future end", endAt: &future, eligible: true},
		{name: "inside window", startAt: &past, endAt: &future, eligible: true},
		{name: "window not yet open", startAt: &future, endAt: &future, eligible: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			campaign := &Campaign{StartAt: tt.startAt, EndAt: tt.endAt}
			assert.Equal(t, tt.eligible, campaign.ScheduleEligibleAt(now))
		})
	}
}

func TestCampaignStatusTransitions(t *testing.T) {
	tests := []struct {
		from    CampaignStatus
		to      CampaignStatus
		allowed bool
	}{
		{CampaignStatusDraft, CampaignStatusActive, true},
		{CampaignStatusDraft, CampaignStatusArchived, true},
		{CampaignStatusDraft, CampaignStatusPaused, false},
		{CampaignStatusActive, CampaignStatusPaused, true},
		{CampaignStatusActive, CampaignStatusArchived, true},
		{CampaignStatusActive, CampaignStatusDraft, false},
		{CampaignStatusPaused, CampaignStatusActive, true},
		{CampaignStatusPaused, CampaignStatusArchived, true},
		{CampaignStatusPaused, CampaignStatusDraft, false},
		{CampaignStatusArchived, CampaignStatusActive, false},
		{CampaignStatusArchived, CampaignStatusDraft, false},
	}

	for _, tt := range tests {
		campaign := &Campaign{Status: tt.from}
		assert.Equal(t, tt.allowed, campaign.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}
