package reconcile

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Minimum length a cleaned address must have to be geocoding-eligible.
const minAddressLength = 10

// boilerplatePatterns strip promotional text, contact invitations, and other
// non-address noise that auctioneer sites pack into address fields.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)agende\s+(j[aá]\s+)?(sua|uma)\s+visita.*`),
	regexp.MustCompile(`(?i)entre\s+em\s+contato.*`),
	regexp.MustCompile(`(?i)fale\s+conosco.*`),
	regexp.MustCompile(`(?i)consulte\s+(o\s+)?edital.*`),
	regexp.MustCompile(`(?i)(oportunidade|imperd[ií]vel|[uú]ltimas?\s+unidades?)[!.]*`),
	regexp.MustCompile(`(?i)\(?\d{2}\)?\s?\d{4,5}[-\s]?\d{4}`), // phone numbers
	regexp.MustCompile(`(?i)(https?://|www\.)\S+`),
	regexp.MustCompile(`(?i)clique\s+(aqui|e\s+veja).*`),
}

// addressBlacklist marks values that are not property addresses at all.
// Includes the repeated office addresses auctioneers stamp on every lot.
var addressBlacklist = []string{
	"endereco nao informado",
	"a definir",
	"consulte o edital",
	"local do leilao",
	"escritorio do leiloeiro",
	"sede do leiloeiro",
}

var (
	whitespaceRe    = regexp.MustCompile(`\s+`)
	trailingSepRe   = regexp.MustCompile(`[\s,;\-–]+$`)
	leadingSepRe    = regexp.MustCompile(`^[\s,;\-–]+`)
	repeatedCommaRe = regexp.MustCompile(`(\s*,\s*)+`)
)

// abbreviations expand common street-type shorthand so "R. A" and "Rua A"
// normalize to the same dedup key.
var abbreviations = map[string]string{
	"r":    "rua",
	"av":   "avenida",
	"al":   "alameda",
	"tv":   "travessa",
	"rod":  "rodovia",
	"est":  "estrada",
	"pc":   "praca",
	"pca":  "praca",
	"jd":   "jardim",
	"pq":   "parque",
	"cond": "condominio",
}

// CleanAddress strips known boilerplate and normalizes whitespace and
// separator suffixes. The result is what gets displayed and geocoded; key
// normalization for dedup goes further (see normalizeAddressKey).
func CleanAddress(raw string) string {
	addr := raw
	for _, re := range boilerplatePatterns {
		addr = re.ReplaceAllString(addr, " ")
	}
	addr = repeatedCommaRe.ReplaceAllString(addr, ", ")
	addr = whitespaceRe.ReplaceAllString(addr, " ")
	addr = leadingSepRe.ReplaceAllString(addr, "")
	addr = trailingSepRe.ReplaceAllString(addr, "")
	return strings.TrimSpace(addr)
}

// ValidateAddress decides whether a cleaned address may be sent to the
// geocoding provider. Failing addresses are flagged invalid_address and
// never trigger an external call.
func ValidateAddress(clean string) bool {
	if len(clean) < minAddressLength {
		return false
	}

	hasLetter := false
	for _, r := range clean {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return false
	}

	norm := normalizeText(clean)
	for _, banned := range addressBlacklist {
		if strings.Contains(norm, banned) {
			return false
		}
	}
	return true
}

// normalizeAddressKey reduces an address to its dedup form: lowercase,
// accents stripped, abbreviations expanded, all punctuation collapsed to
// single spaces. "Rua A, 100, Centro, SP" and "rua a, 100 - centro, sp"
// normalize identically.
func normalizeAddressKey(clean string) string {
	text := normalizeText(clean)

	words := strings.Fields(text)
	for i, w := range words {
		if full, ok := abbreviations[w]; ok {
			words[i] = full
		}
	}
	return strings.Join(words, " ")
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases, strips accents, and replaces every non-
// alphanumeric run with a single space.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(deaccent, s); err == nil {
		s = out
	}

	var sb strings.Builder
	lastSpace := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			sb.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}
