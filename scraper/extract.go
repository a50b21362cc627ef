package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	digitsOnly = regexp.MustCompile(`^\d+$`)
	priceToken = regexp.MustCompile(`\d+\.?\d*`)
	// Strict end-anchored skill point pattern: "<number> m sp" at the end of
	// the (lowercased, comma-stripped) description.
	spSuffix = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*m\s*sp\s*$`)
)

// spSanityThreshold: extracted values above this are assumed to be raw skill
// points rather than millions, a common seller typo in the listings.
const spSanityThreshold = 1000

// ExtractOfferID parses the offer id from a listing link's "id" query
// parameter. Returns "" unless the id is purely numeric.
func ExtractOfferID(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	id := u.Query().Get("id")
	if id == "" || !digitsOnly.MatchString(id) {
		return ""
	}
	return id
}

// ExtractPrice strips currency symbols and separators from a price text and
// parses the first numeric token. Returns nil when no token is found.
func ExtractPrice(priceText string) *float64 {
	cleaned := priceText
	for _, symbol := range []string{"$", "€", "£", "₽"} {
		cleaned = strings.ReplaceAll(cleaned, symbol, "")
	}
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "\u00a0", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")

	token := priceToken.FindString(cleaned)
	if token == "" {
		return nil
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ExtractSP parses the skill point magnitude (in millions) from the strict
// "<number> m sp" suffix of a description. The second return reports whether
// the sanity correction (value > 1000, divided by one million) was applied.
func ExtractSP(description string) (*float64, bool) {
	if description == "" {
		return nil, false
	}
	normalized := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(description), ",", ""))

	m := spSuffix.FindStringSubmatch(normalized)
	if m == nil {
		return nil, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false
	}
	if v > spSanityThreshold {
		v /= 1_000_000.0
		return &v, true
	}
	return &v, false
}
