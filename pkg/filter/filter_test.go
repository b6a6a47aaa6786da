package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
)

// defaultEligibility returns the built-in vocabularies, as applied by AppConfig.Validate.
func defaultEligibility(t *testing.T) config.EligibilityConfig {
	t.Helper()
	cfg := config.AppConfig{}
	if _, err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	return cfg.Eligibility
}

func listing() *models.Listing {
	return &models.Listing{
		Source:        "gallito",
		SourceID:      "gallito-1",
		Title:         "Casa 3 dormitorios con jardín",
		Link:          "https://www.gallito.com.uy/casa-1",
		Address:       "Av. Brasil 2500",
		Price:         models.NewMoney(25000, models.CurrencyUYU),
		Department:    "Montevideo",
		Neighbourhood: "Pocitos",
		Description:   "Hermosa casa, se aceptan mascotas.",
		Pictures:      []string{"https://img.gallito.com.uy/1.jpg"},
		Features:      models.Features{"houseSqMeters": 120},
	}
}

func TestSafeNeighbourhood(t *testing.T) {
	chain := NewChain(defaultEligibility(t))

	l := listing()
	l.Neighbourhood = "Cerro"
	assert.Equal(t, RuleSafeNeighbourhood, chain.Evaluate(l))

	l.Neighbourhood = "Pocitos"
	assert.Equal(t, "", chain.Evaluate(l))
	assert.True(t, chain.Accept(l))
}

func TestSafeNeighbourhood_IgnoresCaseAndAccents(t *testing.T) {
	check := InSafeNeighbourhood(defaultEligibility(t).UnsafeNeighbourhoods)
	for _, n := range []string{"NUEVO PARIS", "nuevo parís", "Union", "Peñarol", "punta rieles"} {
		l := listing()
		l.Neighbourhood = n
		assert.False(t, check(l), n)
	}

	// the list is per department
	l := listing()
	l.Department = "Canelones"
	l.Neighbourhood = "Cerro"
	assert.True(t, check(l))
}

func TestNearCapital(t *testing.T) {
	check := NearCapital([]string{"Montevideo", "Canelones"})
	l := listing()
	assert.True(t, check(l))
	l.Department = "canelones"
	assert.True(t, check(l))
	l.Department = "Maldonado"
	assert.False(t, check(l))
}

func TestTitleKeywords(t *testing.T) {
	chain := NewChain(defaultEligibility(t))

	tests := []struct {
		title    string
		expected string
	}{
		{"Casa ALQUILADA en Pocitos", RuleAvailable},
		{"Alquilado - casa en Malvín", RuleAvailable},
		{"Masajista independiente", RuleFamilyFriendly},
		{"Casas alquiladas por temporada", ""},
		{"Casa amplia en alquiler", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			l := listing()
			l.Title = tt.title
			assert.Equal(t, tt.expected, chain.Evaluate(l))
		})
	}
}

func TestHasUsablePictures(t *testing.T) {
	check := HasUsablePictures([]string{"img_nodisponible.jpg"})

	l := listing()
	assert.True(t, check(l))

	l.Pictures = append(l.Pictures, "https://www.gallito.com.uy/img/img_nodisponible.jpg")
	assert.False(t, check(l))

	l.Pictures = nil
	assert.False(t, check(l))
}

func TestAllowsPets(t *testing.T) {
	chain := NewChain(defaultEligibility(t))

	l := listing()
	l.Description = "Casa con patio.\nNo se aceptan   mascotas."
	assert.Equal(t, RuleAllowsPets, chain.Evaluate(l))

	l.Description = ""
	assert.True(t, chain.Accept(l))
}

func TestOptionalThresholds(t *testing.T) {
	cfg := defaultEligibility(t)
	assert.NotContains(t, NewChain(cfg).Names(), RulePriceCeiling)
	assert.NotContains(t, NewChain(cfg).Names(), RuleMinArea)

	cfg.MaxPrice = map[string]int64{"UYU": 30000, "usd": 1000}
	cfg.MinAreaSqMeters = 70
	chain := NewChain(cfg)
	assert.Equal(t, []string{
		RuleValid, RuleSafeNeighbourhood, RuleNearCapital, RuleAvailable,
		RuleFamilyFriendly, RuleHasPictures, RuleAllowsPets, RulePriceCeiling, RuleMinArea,
	}, chain.Names())

	l := listing()
	assert.True(t, chain.Accept(l))

	l.Price = models.NewMoney(30000, models.CurrencyUYU)
	assert.Equal(t, RulePriceCeiling, chain.Evaluate(l))

	l.Price = models.NewMoney(999, models.CurrencyUSD)
	assert.True(t, chain.Accept(l))

	l.Features = models.Features{"totalSqMeters": 70}
	assert.Equal(t, RuleMinArea, chain.Evaluate(l))

	l.Features = models.Features{"hasGarden": true}
	assert.True(t, chain.Accept(l), "listings without an area pass")
}

func TestEvaluate_ShortCircuits(t *testing.T) {
	calls := 0
	chain := Chain{
		{"first", func(*models.Listing) bool { calls++; return false }},
		{"second", func(*models.Listing) bool { calls++; return true }},
	}
	assert.Equal(t, "first", chain.Evaluate(listing()))
	assert.Equal(t, 1, calls)
}

func TestInvalidListingFailsFirst(t *testing.T) {
	chain := NewChain(defaultEligibility(t))
	l := listing()
	l.Address = ""
	l.Neighbourhood = "Cerro"
	assert.Equal(t, RuleValid, chain.Evaluate(l))
}
