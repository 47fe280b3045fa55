package businessflow

import (
	"strings"
	"testing"

	"github.com/amirphl/Nurikabe/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDiscountValue(t *testing.T) {
	tieredSpec := models.DiscountSpec{
		Enabled:    true,
		Mode:       models.DiscountModeUnique,
		ValueType:  models.DiscountValuePercentage,
		Amount:     5,
		CodePrefix: "SPIN",
		Tiers: []models.DiscountTier{
			{MinSubtotalCents: 0, ValueType: models.DiscountValuePercentage, Value: 5},
			{MinSubtotalCents: 5000, ValueType: models.DiscountValuePercentage, Value: 10},
			{MinSubtotalCents: 10000, ValueType: models.DiscountValueFixedAmount, Value: 20},
		},
	}

	tests := []struct {
		name          string
		spec          models.DiscountSpec
		subtotalCents int64
		wantType      models.DiscountValueType
		wantValue     float64
		wantErr       error
	}{
		{
			name: "no tiers falls back to base value",
			spec: models.DiscountSpec{
				Enabled:   true,
				ValueType: models.DiscountValuePercentage,
				Amount:    15,
			},
			subtotalCents: 100,
			wantType:      models.DiscountValuePercentage,
			wantValue:     15,
		},
		{
			name:          "subtotal below second tier",
			spec:          tieredSpec,
			subtotalCents: 4999,
			wantType:      models.DiscountValuePercentage,
			wantValue:     5,
		},
		{
			name:          "subtotal exactly at tier threshold",
			spec:          tieredSpec,
			subtotalCents: 5000,
			wantType:      models.DiscountValuePercentage,
			wantValue:     10,
		},
		{
			name:          "highest qualifying tier wins",
			spec:          tieredSpec,
			subtotalCents: 25000,
			wantType:      models.DiscountValueFixedAmount,
			wantValue:     20,
		},
		{
			name: "subtotal below every tier",
			spec: models.DiscountSpec{
				Enabled:   true,
				ValueType: models.DiscountValuePercentage,
				Amount:    5,
				Tiers: []models.DiscountTier{
					{MinSubtotalCents: 5000, ValueType: models.DiscountValuePercentage, Value: 10},
				},
			},
			subtotalCents: 4999,
			wantErr:       ErrNoQualifyingTier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valueType, value, err := resolveDiscountValue(tt.spec, tt.subtotalCents)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, valueType)
			assert.Equal(t, tt.wantValue, value)
		})
	}

	t.Run("tier order in the spec does not matter", func(t *testing.T) {
		spec := tieredSpec
		spec.Tiers = []models.DiscountTier{
			spec.Tiers[2], spec.Tiers[0], spec.Tiers[1],
		}
		valueType, value, err := resolveDiscountValue(spec, 25000)
		require.NoError(t, err)
		assert.Equal(t, models.DiscountValueFixedAmount, valueType)
		assert.Equal(t, float64(20), value)
	})
}

func TestToShopifyValue(t *testing.T) {
	assert.Equal(t, int64(15), toShopifyValue(models.DiscountValuePercentage, 15))
	assert.Equal(t, int64(500), toShopifyValue(models.DiscountValueFixedAmount, 5))
	assert.Equal(t, int64(0), toShopifyValue(models.DiscountValueFreeShip, 99))
}

func TestGenerateDiscountCode(t *testing.T) {
	code, err := generateDiscountCode("SPIN")
	require.NoError(t, err)
	assert.Len(t, code, 10)
	assert.True(t, strings.HasPrefix(code, "SPIN"))

	for _, c := range code[4:] {
		assert.Contains(t, discountCodeAlphabet, string(c))
	}

	t.Run("codes differ", func(t *testing.T) {
		other, err := generateDiscountCode("SPIN")
		require.NoError(t, err)
		assert.NotEqual(t, code, other)
	})
}
