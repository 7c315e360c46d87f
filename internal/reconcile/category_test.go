package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCategoryExactMatches(t *testing.T) {
	assert.Equal(t, CategoryApartment, NormalizeCategory("Apartamento"))
	assert.Equal(t, CategoryApartment, NormalizeCategory("APTO"))
	assert.Equal(t, CategoryHouse, NormalizeCategory("Sobrado"))
	assert.Equal(t, CategoryLand, NormalizeCategory("Lote"))
	assert.Equal(t, CategoryCommercial, NormalizeCategory("Galpão"))
	assert.Equal(t, CategoryRural, NormalizeCategory("Chácara"))
	assert.Equal(t, CategoryGarage, NormalizeCategory("Vaga de Garagem"))
}

func TestNormalizeCategoryDecoratedVariants(t *testing.T) {
	assert.Equal(t, CategoryApartment, NormalizeCategory("Apartamento Duplex"))
	assert.Equal(t, CategoryCommercial, NormalizeCategory("Imóvel Comercial"))
	assert.Equal(t, CategoryHouse, NormalizeCategory("Casa em condomínio"))
}

func TestNormalizeCategoryMultiMatchIsStable(t *testing.T) {
	// "Casa Comercial" contains two synonyms; the longer match must win,
	// and repeated calls must never flip the answer.
	first := NormalizeCategory("Casa Comercial")
	assert.Equal(t, CategoryCommercial, first)
	for i := 0; i < 500; i++ {
		assert.Equal(t, first, NormalizeCategory("Casa Comercial"))
	}

	assert.Equal(t, CategoryCommercial, NormalizeCategory("Sala Comercial no Predio Central"))
	assert.Equal(t, CategoryGarage, NormalizeCategory("Vaga de Garagem na Area Central"))
}

func TestNormalizeCategoryUnknownLandsInOther(t *testing.T) {
	assert.Equal(t, CategoryOther, NormalizeCategory("Embarcação"))
	assert.Equal(t, CategoryOther, NormalizeCategory(""))
	assert.Equal(t, CategoryOther, NormalizeCategory("   "))
}
