// internal/executor/guard.go
package executor

import (
	"strings"

	"github.com/xkilldash9x/labcore/internal/extract"
)

// DefaultDenylist holds the keywords of state-committing actions, English and
// Spanish. Configuration can add to it but never remove from it.
var DefaultDenylist = []string{
	"save", "delete", "remove",
	"guardar", "grabar", "eliminar", "borrar", "quitar", "suprimir", "anular",
}

// Guard matches text against the denylist, ignoring case and accents.
type Guard struct {
	keywords []string
}

// NewGuard builds a guard from DefaultDenylist plus extra keywords.
func NewGuard(extra []string) *Guard {
	seen := make(map[string]bool)
	g := &Guard{}
	for _, k := range append(append([]string{}, DefaultDenylist...), extra...) {
		k = extract.Fold(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		g.keywords = append(g.keywords, k)
	}
	return g
}

// Keywords returns the folded keywords, in the form page scripts compare against.
func (g *Guard) Keywords() []string {
	return append([]string(nil), g.keywords...)
}

// Match returns the first keyword contained in any of texts.
func (g *Guard) Match(texts ...string) (string, bool) {
	for _, t := range texts {
		folded := extract.Fold(t)
		if folded == "" {
			continue
		}
		for _, k := range g.keywords {
			if strings.Contains(folded, k) {
				return k, true
			}
		}
	}
	return "", false
}
