package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
)

func TestCatalog_OrderIndependent(t *testing.T) {
	a := Catalog([]string{"Estado: Bueno", "2 Baños"}, GallitoRules())
	b := Catalog([]string{"2 Baños", "Estado: Bueno"}, GallitoRules())

	want := models.Features{"buildingState": "Bueno", "numberBathrooms": 2}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
}

func TestCatalog_UnmatchedGoToExtras(t *testing.T) {
	f := Catalog([]string{"Piscina Climatizada", "Cocina", "  ", "Parrillero"}, GallitoRules())

	assert.Equal(t, true, f["hasKitchen"])
	assert.Equal(t, "NORMAL", f["kitchenSize"])
	assert.Equal(t, []string{"Piscina Climatizada", "Parrillero"}, f.Extras())
}

func TestCatalog_NoExtrasKeyWhenAllMatched(t *testing.T) {
	f := Catalog([]string{"1 Baño"}, GallitoRules())
	_, present := f[models.FeatureExtras]
	assert.False(t, present)
	assert.Equal(t, 1, f["numberBathrooms"])
}

func TestCatalog_FirstRuleWins(t *testing.T) {
	rules := Rules{
		Text("first", `^Estado:\s*(.+)$`),
		Text("second", `^Estado:\s*(.+)$`),
	}
	f := Catalog([]string{"Estado: Reciclado"}, rules)
	assert.Equal(t, models.Features{"first": "Reciclado"}, f)
}

func TestCatalog_RuleErrorMovesFragmentToExtras(t *testing.T) {
	failing := RuleFunc(func(fragment string) (models.Features, bool, error) {
		return nil, true, errors.New("boom")
	})
	fallback := Has("never", "Gastos Comunes: €300")
	f := Catalog([]string{"Gastos Comunes: €300"}, Rules{failing, fallback})
	assert.Equal(t, []string{"Gastos Comunes: €300"}, f.Extras())
	assert.NotContains(t, f, "never")
}

func TestGallitoRules(t *testing.T) {
	f := Catalog([]string{
		"Padrón: 12345",
		"Techo: Losa",
		"Sup. construida: 120m²",
		"Gastos Comunes: $U3.500",
		"Año: 1985",
		"Cantidad de plantas: 2",
		"Kitchenette",
		"Baño social",
		"Aire aconodicionado",
		"más de 4 dormitorios",
	}, GallitoRules())

	assert.Equal(t, "12345", f["register"])
	assert.Equal(t, "Losa", f["roofType"])
	assert.Equal(t, 120, f["houseSqMeters"])
	assert.Equal(t, 1985, f["constructionYear"])
	assert.Equal(t, 2, f["numberFloors"])
	assert.Equal(t, "SMALL", f["kitchenSize"])
	assert.Equal(t, true, f["hasVisitBathroom"])
	assert.Equal(t, true, f["hasAirConditioner"])
	assert.Equal(t, 4, f["numberBedrooms"])

	expenses, ok := f["commonExpenses"].(models.Money)
	require.True(t, ok, "commonExpenses should be Money, got %T", f["commonExpenses"])
	assert.Equal(t, "UYU 3500", expenses.String())
	assert.Empty(t, f.Extras())
}

func TestMercadoLibreRules(t *testing.T) {
	defer func(orig func() time.Time) { now = orig }(now)
	now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	f := Catalog([]string{
		"Superficie total: 300 m²",
		"Superficie cubierta: 140 m²",
		"Ambientes: 5",
		"Dormitorios: 3",
		"Baños: 2",
		"Antigüedad: 20 años",
		"Cocheras: 1",
		"Jardín",
		"Seguridad 24 horas",
		"PISCINA",
		"Barbacoa",
	}, MercadoLibreRules())

	assert.Equal(t, 300, f["totalSqMeters"])
	assert.Equal(t, 140, f["houseSqMeters"])
	assert.Equal(t, 5, f["numberSpaces"])
	assert.Equal(t, 3, f["numberBedrooms"])
	assert.Equal(t, 2, f["numberBathrooms"])
	assert.Equal(t, 2004, f["constructionYear"])
	assert.Equal(t, 1, f["numberGarages"])
	assert.Equal(t, true, f["hasGarden"])
	assert.Equal(t, true, f["has247Security"])
	assert.Equal(t, true, f["hasPool"])
	assert.Equal(t, []string{"Barbacoa"}, f.Extras())
}

func TestMercadoLibreRules_YearAlreadyAbsolute(t *testing.T) {
	f := Catalog([]string{"Antigüedad: 1990"}, MercadoLibreRules())
	assert.Equal(t, 1990, f["constructionYear"])
}

func TestInfocasasRules(t *testing.T) {
	f := Catalog([]string{
		"Baños: 2+",
		"Dormitorios: 3",
		"Garajes: 1",
		"M² del terreno: 1.200",
		"M² edificados: 180",
		"Estado: Excelente",
		"Plantas: 2",
		"Gastos Comunes: U$S 150",
		"Vista al mar: Sí",
	}, InfocasasRules())

	assert.Equal(t, 2, f["numberBathrooms"])
	assert.Equal(t, 3, f["numberBedrooms"])
	assert.Equal(t, 1, f["numberGarages"])
	assert.Equal(t, 1200, f["totalSqMeters"])
	assert.Equal(t, 180, f["houseSqMeters"])
	assert.Equal(t, "Excelente", f["buildingState"])
	assert.Equal(t, 2, f["numberFloors"])
	assert.Equal(t, "USD 150", f["commonExpenses"].(models.Money).String())
	assert.Equal(t, []string{"Vista al mar: Sí"}, f.Extras())
}

func TestInfocasasRules_UnparseableMoneyGoesToExtras(t *testing.T) {
	f := Catalog([]string{"Gastos Comunes: $ consultar"}, InfocasasRules())
	assert.Equal(t, []string{"Gastos Comunes: $ consultar"}, f.Extras())
}
