package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

func validListing() *Listing {
	return &Listing{
		Source:        "gallito",
		SourceID:      "gallito-123",
		Title:         "Casa en Pocitos",
		Link:          "https://www.gallito.com.uy/casa-123",
		Address:       "Av. Brasil 2500",
		Price:         NewMoney(25000, CurrencyUYU),
		Department:    "Montevideo",
		Neighbourhood: "Pocitos",
		Pictures:      []string{"https://img.example/1.jpg"},
		Features:      Features{"numberBathrooms": 2},
		StoreMode:     StoreModeManual,
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		input    string
		amount   string
		currency Currency
	}{
		{"UYU 1.000", "1000", CurrencyUYU},
		{"$U 25.000", "25000", CurrencyUYU},
		{"$ 18500", "18500", CurrencyUYU},
		{"U$S 1.250,50", "1250.5", CurrencyUSD},
		{"USD 900", "900", CurrencyUSD},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := ParseMoney(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.currency, m.Currency)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(m.Amount), "amount %s", m.Amount)
		})
	}
}

func TestParseMoney_Failures(t *testing.T) {
	t.Run("unknown currency is a hard failure", func(t *testing.T) {
		_, err := ParseMoney("EUR 500")
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrUnknownCurrency)
	})

	t.Run("wrong shape", func(t *testing.T) {
		_, err := ParseMoney("1000")
		assert.ErrorIs(t, err, utils.ErrParsing)
		_, err = ParseMoney("U$S 1 000")
		assert.ErrorIs(t, err, utils.ErrParsing)
	})

	t.Run("non numeric amount", func(t *testing.T) {
		_, err := ParseMoney("UYU consultar")
		assert.ErrorIs(t, err, utils.ErrParsing)
	})
}

func TestMoneyComparisons(t *testing.T) {
	assert.True(t, NewMoney(100, CurrencyUYU).LessThan(NewMoney(200, CurrencyUYU)))
	assert.False(t, NewMoney(100, CurrencyUYU).LessThan(NewMoney(200, CurrencyUSD)))
	assert.False(t, NewMoney(0, CurrencyUYU).IsPositive())
	assert.False(t, Money{Amount: decimal.NewFromInt(10)}.IsPositive())
	assert.Equal(t, "USD 950", NewMoney(950, CurrencyUSD).String())
}

func TestParseGeoPoint(t *testing.T) {
	p, err := ParseGeoPoint("-34.9011,-56.1645")
	require.NoError(t, err)
	assert.InDelta(t, -34.9011, p.Latitude, 1e-9)
	assert.InDelta(t, -56.1645, p.Longitude, 1e-9)
	assert.Equal(t, "-34.9011,-56.1645", p.String())

	for _, bad := range []string{"", "abc", "-34.9", "-34.9,west", "120,30"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseGeoPoint(bad)
			assert.ErrorIs(t, err, utils.ErrInvalidGeoPoint)
		})
	}
}

func TestListingValidate(t *testing.T) {
	t.Run("valid listing", func(t *testing.T) {
		l := validListing()
		assert.Empty(t, l.Validate())
		assert.True(t, l.IsValid())
	})

	t.Run("phone is optional", func(t *testing.T) {
		l := validListing()
		l.Phone = ""
		assert.True(t, l.IsValid())
	})

	t.Run("missing fields are reported", func(t *testing.T) {
		l := validListing()
		l.Neighbourhood = " "
		l.Pictures = nil
		l.Price = NewMoney(0, CurrencyUSD)
		problems := l.Validate()
		assert.Contains(t, problems, "missing neighbourhood")
		assert.Contains(t, problems, "no pictures")
		assert.Contains(t, problems, "price must be greater than zero")
		assert.False(t, l.IsValid())
	})

	t.Run("no features", func(t *testing.T) {
		l := validListing()
		l.Features = Features{}
		assert.Equal(t, []string{"no features"}, l.Validate())
	})
}

func TestFeaturesAccessors(t *testing.T) {
	f := Features{"houseSqMeters": 90, "hasPool": true, FeatureExtras: []string{"Piscina Climatizada"}}
	v, ok := f.SqMeters()
	assert.True(t, ok)
	assert.Equal(t, 90, v)
	assert.True(t, f.Bool("hasPool"))
	assert.False(t, f.Bool("hasGarden"))
	assert.Equal(t, []string{"Piscina Climatizada"}, f.Extras())

	// round trip through JSON turns ints into float64 and lists into []any
	data, err := json.Marshal(f)
	require.NoError(t, err)
	var decoded Features
	require.NoError(t, json.Unmarshal(data, &decoded))
	n, ok := decoded.Int("houseSqMeters")
	assert.True(t, ok)
	assert.Equal(t, 90, n)
	assert.Equal(t, []string{"Piscina Climatizada"}, decoded.Extras())
}

func TestStoreMode(t *testing.T) {
	m, err := ParseStoreMode("automatic")
	require.NoError(t, err)
	assert.Equal(t, StoreModeAutomatic, m)
	assert.Equal(t, "unset", StoreModeUnset.String())
	assert.False(t, StoreModeUnset.IsValid())

	_, err = ParseStoreMode("sometimes")
	assert.Error(t, err)
}

func TestListingKey(t *testing.T) {
	assert.Equal(t, "gallito/gallito-123", validListing().Key())
}
