package catalog

import "github.com/fabiosalasm-zz/uy-home-finder/pkg/models"

var gallitoRules = Rules{
	Text("register", `^Padrón:\s*(.+)$`),
	Text("buildingState", `^Estado:\s*(.+)$`),
	Int("numberBathrooms", `^(\d+) Baños?`),
	Flag(models.Features{"hasKitchen": true, "kitchenSize": "NORMAL"}, "Cocina"),
	Flag(models.Features{"hasKitchen": true, "kitchenSize": "SMALL"}, "Kitchenette"),
	Text("roofType", `^Techo:\s*(.+)$`),
	Int("houseSqMeters", `^Sup\. construida:\s*([\d.]+)\s*m²`),
	Int("totalSqMeters", `^Sup\. (?:del terreno|total):\s*([\d.]+)\s*m²`),
	Money("commonExpenses", `^Gastos Comunes:\s*(\$U|U\$S|\$)\s*([\d.,]+)`),
	Int("constructionYear", `^Año:\s*(\d{4})`),
	Int("numberFloors", `^Cantidad de plantas:\s*(\d+)`),
	Int("numberBedrooms", `^(?:[Mm]ás de )?(\d+) [Dd]ormitorios?`),
	Has("hasVisitBathroom", "Baño social", "Baño de Servicio"),
	Has("hasAirConditioner", "Aire acondicionado", "Aire aconodicionado"),
}

var mercadoLibreRules = Rules{
	Int("totalSqMeters", `^Superficie total:\s*([\d.]+)\s*m²`),
	Int("houseSqMeters", `^Superficie cubierta:\s*([\d.]+)\s*m²`),
	Int("numberSpaces", `^Ambientes:\s*(\d+)$`),
	Int("numberBedrooms", `^Dormitorios:\s*(\d+)$`),
	Int("numberBathrooms", `^Baños:\s*(\d+)$`),
	Int("numberFloors", `^Cantidad de pisos:\s*(\d+)$`),
	Year("constructionYear", `^Antigüedad:\s*(\d+)(?:\s*años?)?$`),
	Int("numberGarages", `^Cocheras:\s*(\d+)$`),
	Money("commonExpenses", `^Gastos comunes:\s*(\$U|U\$S|\$)\s*([\d.,]+)`),
	Has("hasWardrobe", "Placards"),
	Has("hasKitchen", "Cocina"),
	Has("hasVisitBathroom", "Baño social"),
	Has("hasDiningRoom", "Comedor"),
	Has("hasAirConditioner", "Aire acondicionado"),
	Has("hasAttic", "Altillo"),
	Has("hasLivingRoom", "Living"),
	Has("hasGarden", "Jardín"),
	Has("hasBalcony", "Balcón"),
	Has("hasTerrace", "Terraza"),
	Has("hasYard", "Patio"),
	Has("hasDressingRoom", "Vestidor"),
	Has("hasServiceRoom", "Dormitorio de servicio"),
	Has("has247Security", "Seguridad 24 horas"),
	Has("hasPool", "Piscina"),
	Has("hasHeatingSystem", "Calefacción"),
}

// Infocasas writes "2+" for "two or more"; the number before the plus is kept.
var infocasasRules = Rules{
	Int("numberBathrooms", `^Baños:\s*(\d+)\+?$`),
	Int("numberBedrooms", `^Dormitorios:\s*(\d+)\+?$`),
	Int("numberGarages", `^Garajes:\s*(\d+)\+?$`),
	Int("totalSqMeters", `^M² del terreno:\s*([\d.]+)`),
	Int("houseSqMeters", `^M² edificados:\s*([\d.]+)`),
	Text("buildingState", `^Estado:\s*(.+)$`),
	Int("numberFloors", `^Plantas:\s*(\d+)`),
	Money("commonExpenses", `^Gastos Comunes:\s*(\$U|U\$S|\$)\s*([\d.,]+)`),
	Int("constructionYear", `^Año de construcción:\s*(\d{4})`),
}

// GallitoRules returns the rule set for gallito feature lists.
func GallitoRules() Rules { return gallitoRules }

// MercadoLibreRules returns the rule set for mercadolibre attribute tables
// ("Key: value") and attribute lists.
func MercadoLibreRules() Rules { return mercadoLibreRules }

// InfocasasRules returns the rule set for the infocasas technical sheet.
func InfocasasRules() Rules { return infocasasRules }
