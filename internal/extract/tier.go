// internal/extract/tier.go
package extract

import "golang.org/x/net/html"

// Tier is one extraction heuristic. Extract must be pure: the same document
// always yields the same record, and ok is false when the tier found nothing.
type Tier[T any] struct {
	Name    string
	Extract func(doc *html.Node) (T, bool)
}

// FirstNonEmpty runs tiers in order and returns the result of the first one
// that produced something, together with its name. When every tier comes up
// empty the zero value and "" are returned; that is a normal outcome.
func FirstNonEmpty[T any](doc *html.Node, tiers []Tier[T]) (T, string) {
	for _, t := range tiers {
		if v, ok := t.Extract(doc); ok {
			return v, t.Name
		}
	}
	var zero T
	return zero, ""
}
