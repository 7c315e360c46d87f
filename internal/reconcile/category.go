package reconcile

import (
	"sort"
	"strings"
)

// Closed category taxonomy. Every raw category maps onto one of these;
// unrecognized values land in CategoryOther, never in an empty string.
const (
	CategoryApartment  = "apartamento"
	CategoryHouse      = "casa"
	CategoryLand       = "terreno"
	CategoryCommercial = "comercial"
	CategoryRural      = "rural"
	CategoryGarage     = "vaga_garagem"
	CategoryOther      = "outros"
)

// categorySynonyms maps normalized free-text variants onto the taxonomy.
var categorySynonyms = map[string]string{
	"apartamento":      CategoryApartment,
	"apto":             CategoryApartment,
	"ap":               CategoryApartment,
	"flat":             CategoryApartment,
	"kitnet":           CategoryApartment,
	"cobertura":        CategoryApartment,
	"casa":             CategoryHouse,
	"sobrado":          CategoryHouse,
	"residencia":       CategoryHouse,
	"residencial":      CategoryHouse,
	"terreno":          CategoryLand,
	"lote":             CategoryLand,
	"gleba":            CategoryLand,
	"area":             CategoryLand,
	"comercial":        CategoryCommercial,
	"loja":             CategoryCommercial,
	"sala comercial":   CategoryCommercial,
	"sala":             CategoryCommercial,
	"galpao":           CategoryCommercial,
	"predio":           CategoryCommercial,
	"predio comercial": CategoryCommercial,
	"escritorio":       CategoryCommercial,
	"rural":            CategoryRural,
	"fazenda":          CategoryRural,
	"sitio":            CategoryRural,
	"chacara":          CategoryRural,
	"vaga":             CategoryGarage,
	"vaga de garagem":  CategoryGarage,
	"garagem":          CategoryGarage,
	"box":              CategoryGarage,
}

// synonymKeys holds the synonym keys ordered longest first, then
// lexicographic, so an input containing more than one synonym ("casa
// comercial") always resolves to the same category.
var synonymKeys = func() []string {
	keys := make([]string, 0, len(categorySynonyms))
	for k := range categorySynonyms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// NormalizeCategory maps free-text category input onto the closed taxonomy.
func NormalizeCategory(raw string) string {
	norm := normalizeText(raw)
	if norm == "" {
		return CategoryOther
	}
	if cat, ok := categorySynonyms[norm]; ok {
		return cat
	}
	// Tolerate decorated variants like "apartamento duplex" or
	// "imóvel comercial" by matching on contained words.
	for _, key := range synonymKeys {
		if strings.Contains(" "+norm+" ", " "+key+" ") {
			return categorySynonyms[key]
		}
	}
	return CategoryOther
}
