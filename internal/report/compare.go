package report

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mixelka/repa/pkg/models"
)

// Criterion names used in matched and mismatched lists
const (
	CriterionPropertyType = "property_type"
	CriterionLocation     = "location"
	CriterionRooms        = "rooms"
	CriterionLivingSpace  = "living_space"
	CriterionPrice        = "price"
)

const (
	roomsTolerance       = 0.5  // Swiss half rooms
	livingSpaceTolerance = 0.05 // relative
)

// Facts listing properties extracted by the model. Nil means unknown.
type Facts struct {
	PropertyType *models.PropertyType
	Location     *string
	Rooms        *float64
	LivingSpace  *float64 // m²
	Price        *float64 // CHF, monthly rent or total price
	Title        *string
}

// Compare checks every set criterion against the listing facts.
// Unset criteria and criteria whose fact is unknown appear in neither list.
func Compare(c models.UserCriteria, f Facts) (matched, mismatched []string) {
	matched, mismatched = []string{}, []string{}
	record := func(name string, ok bool) {
		if ok {
			matched = append(matched, name)
		} else {
			mismatched = append(mismatched, name)
		}
	}

	if c.PropertyType != nil && f.PropertyType != nil {
		record(CriterionPropertyType, *c.PropertyType == *f.PropertyType)
	}
	if c.Location != nil && f.Location != nil {
		record(CriterionLocation, LocationMatches(*c.Location, *f.Location))
	}
	if (c.MinRooms != nil || c.MaxRooms != nil) && f.Rooms != nil {
		record(CriterionRooms, inRange(*f.Rooms, intPtrToFloat(c.MinRooms), intPtrToFloat(c.MaxRooms), roomsTolerance))
	}
	if (c.MinLivingSpace != nil || c.MaxLivingSpace != nil) && f.LivingSpace != nil {
		record(CriterionLivingSpace, inRange(*f.LivingSpace, c.MinLivingSpace, c.MaxLivingSpace, *f.LivingSpace*livingSpaceTolerance))
	}
	if (c.MinRent != nil || c.MaxRent != nil) && f.Price != nil {
		record(CriterionPrice, inRange(*f.Price, c.MinRent, c.MaxRent, 0))
	}

	return matched, mismatched
}

func inRange(v float64, lo, hi *float64, tolerance float64) bool {
	if lo != nil && v < *lo-tolerance {
		return false
	}
	if hi != nil && v > *hi+tolerance {
		return false
	}
	return true
}

func intPtrToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

// locationStopwords are ignored when comparing location tokens
var locationStopwords = map[string]bool{
	"near": true, "close": true, "area": true, "city": true, "the": true,
	"and": true, "center": true, "centre": true, "region": true, "switzerland": true,
}

// LocationMatches reports whether a listing location satisfies the wanted location.
// Comparison ignores case and diacritics. Either side containing the other as whole words,
// or a shared significant token (a place name or postal code), is a match. Sides shorter
// than three characters, such as a canton code, never match on their own.
func LocationMatches(wanted, listing string) bool {
	w, l := foldText(wanted), foldText(listing)
	if len(w) < minTokenLen || len(l) < minTokenLen {
		return false
	}
	ww, lw := words(w), words(l)
	if containsWords(lw, ww) || containsWords(ww, lw) {
		return true
	}

	listingTokens := make(map[string]bool)
	for _, tok := range tokens(lw) {
		listingTokens[tok] = true
	}
	for _, tok := range tokens(ww) {
		if listingTokens[tok] {
			return true
		}
	}
	return false
}

const minTokenLen = 3

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsWords reports whether needle occurs in haystack as a run of whole words
func containsWords(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func tokens(ws []string) []string {
	var out []string
	for _, tok := range ws {
		if len(tok) < minTokenLen || locationStopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// foldText lowercases s and strips diacritics, so "Zürich" equals "zurich"
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
