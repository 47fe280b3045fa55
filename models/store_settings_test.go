package models

import (
	"testing"

	"github.com/amirphl/Nurikabe/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequencyRuleCaps(t *testing.T) {
	t.Run("nil rule has no caps", func(t *testing.T) {
		var rule *FrequencyRule
		assert.False(t, rule.HasSessionCap())
		assert.False(t, rule.HasDayCap())
	})

	t.Run("disabled rule has no caps", func(t *testing.T) {
		rule := &FrequencyRule{
			Enabled:       false,
			MaxPerSession: utils.ToPtr(1),
			MaxPerDay:     utils.ToPtr(3),
		}
		assert.False(t, rule.HasSessionCap())
		assert.False(t, rule.HasDayCap())
	})

	t.Run("enabled rule with nil ceilings has no caps", func(t *testing.T) {
		rule := &FrequencyRule{Enabled: true}
		assert.False(t, rule.HasSessionCap())
		assert.False(t, rule.HasDayCap())
	})

	t.Run("enabled rule with positive ceilings", func(t *testing.T) {
		rule := &FrequencyRule{
			Enabled:       true,
			MaxPerSession: utils.ToPtr(2),
			MaxPerDay:     utils.ToPtr(5),
		}
		assert.True(t, rule.HasSessionCap())
		assert.True(t, rule.HasDayCap())
	})
}

func TestFrequencySettingsFamilyRule(t *testing.T) {
	settings := &FrequencySettings{
		Global: &FrequencyRule{Enabled: true, MaxPerDay: utils.ToPtr(10)},
		Families: map[string]FrequencyRule{
			"spin_wheel": {Enabled: true, MaxPerDay: utils.ToPtr(1)},
		},
	}

	t.Run("family with own rule", func(t *testing.T) {
		rule := settings.FamilyRule(TemplateFamilySpinWheel)
		require.NotNil(t, rule)
		assert.Equal(t, 1, *rule.MaxPerDay)
	})

	t.Run("family without own rule", func(t *testing.T) {
		assert.Nil(t, settings.FamilyRule(TemplateFamilyPopup))
	})

	t.Run("nil settings", func(t *testing.T) {
		var empty *FrequencySettings
		assert.Nil(t, empty.FamilyRule(TemplateFamilyPopup))
	})
}

func TestFrequencySettingsHasCooldown(t *testing.T) {
	assert.False(t, (&FrequencySettings{}).HasCooldown())
	assert.False(t, (&FrequencySettings{CooldownSeconds: utils.ToPtr(0)}).HasCooldown())
	assert.True(t, (&FrequencySettings{CooldownSeconds: utils.ToPtr(30)}).HasCooldown())

	var settings *FrequencySettings
	assert.False(t, settings.HasCooldown())
}

func TestFrequencySettingsScanValue(t *testing.T) {
	settings := FrequencySettings{
		Global: &FrequencyRule{
			Enabled:       true,
			MaxPerSession: utils.ToPtr(2),
			MaxPerDay:     utils.ToPtr(6),
		},
		Families: map[string]FrequencyRule{
			"banner": {Enabled: true, MaxPerDay: utils.ToPtr(3)},
		},
		CooldownSeconds: utils.ToPtr(45),
	}

	value, err := settings.Value()
	require.NoError(t, err)

	var decoded FrequencySettings
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, settings, decoded)

	require.NoError(t, decoded.Scan(nil))
	assert.Equal(t, FrequencySettings{}, decoded)
}
