package discovery

import (
	"bytes"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// Signals summarizes the property-like evidence on a probed filter page.
type Signals struct {
	PriceTokens   int
	AddressTokens int
	CardCount     int
}

// minValidationCards is the minimum count of repeated card-like structures
// a filter page must show to be marked validated.
const minValidationCards = 3

var addressTokenRe = regexp.MustCompile(`(?i)\b(rua|avenida|av\.|alameda|travessa|rodovia|estrada|pra[cç]a|bairro|cep)\b`)

// ProbeSignals inspects a fetched filter page for property-like signals:
// price tokens, address tokens, and a minimum count of repeated cards.
func ProbeSignals(body []byte) Signals {
	s := Signals{
		PriceTokens:   len(priceTokenRe.FindAll(body, 50)),
		AddressTokens: len(addressTokenRe.FindAll(body, 50)),
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return s
	}
	for _, c := range candidateContainers(doc) {
		if c.Count > s.CardCount {
			s.CardCount = c.Count
		}
	}
	return s
}

// Valid reports whether the page carries enough evidence to mark the filter
// validated. Unvalidated filters are kept but deprioritized, never dropped.
func (s Signals) Valid() bool {
	return s.PriceTokens >= 2 && s.AddressTokens >= 1 && s.CardCount >= minValidationCards
}
