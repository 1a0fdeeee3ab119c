// internal/resolver/score.go
package resolver

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/xkilldash9x/labcore/internal/extract"
)

// Tokens folds s and splits it on anything that is not a letter or digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(extract.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// indel is Levenshtein with substitutions priced as a delete plus an insert,
// which makes its distance the indel distance.
var indel = &metrics.Levenshtein{CaseSensitive: true, InsertCost: 1, DeleteCost: 1, ReplaceCost: 2}

// Ratio is the normalized indel similarity of a and b on a 0..100 scale:
// 100 * (1 - distance / (len(a)+len(b))), where the distance counts the
// insertions and deletions needed to turn a into b.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 100 * (1 - float64(indel.Distance(a, b))/float64(total))
}

// TokenSetRatio compares the token sets of a and b, so word order and
// repeated words do not matter and a query whose words all appear in the
// other string scores 100. Both strings are folded first.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}
	if len(inter) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	sect := joinSorted(inter)
	withA := strings.TrimSpace(sect + " " + joinSorted(onlyA))
	withB := strings.TrimSpace(sect + " " + joinSorted(onlyB))

	best := Ratio(withA, withB)
	if sect != "" {
		best = max(best, Ratio(sect, withA), Ratio(sect, withB))
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strutil.UniqueSlice(Tokens(s)) {
		set[t] = true
	}
	return set
}

func joinSorted(ts []string) string {
	sort.Strings(ts)
	return strings.Join(ts, " ")
}
