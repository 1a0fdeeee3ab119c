// internal/extract/match.go
package extract

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses whitespace, so that
// "Glucosa  BASAL" and "glucosa basal" or "Cédula" and "cedula" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// FieldRef locates one field inside a result form.
type FieldRef struct {
	Exam  string
	Field Field
}

// FindField resolves a requested label to a field. Exam narrows the search to
// sections whose name contains it; when no section matches, every section is
// searched. The default mode accepts the first field whose label contains
// fieldName; strict mode requires the whole label to match. The number of
// fields that matched is returned so callers can flag ambiguous labels.
func FindField(exams []ExamSection, exam, fieldName string, strict bool) (FieldRef, int, error) {
	want := Fold(fieldName)
	if want == "" {
		return FieldRef{}, 0, fmt.Errorf("%w: empty field name", ErrFieldNotFound)
	}

	scope := exams
	if exam != "" {
		wantExam := Fold(exam)
		var narrowed []ExamSection
		for _, s := range exams {
			if strings.Contains(Fold(s.Name), wantExam) {
				narrowed = append(narrowed, s)
			}
		}
		if len(narrowed) > 0 {
			scope = narrowed
		}
	}

	var first *FieldRef
	matches := 0
	for _, s := range scope {
		for _, f := range s.Fields {
			got := Fold(f.Name)
			if got == want || (!strict && strings.Contains(got, want)) {
				matches++
				if first == nil {
					first = &FieldRef{Exam: s.Name, Field: f}
				}
			}
		}
	}
	if first == nil {
		return FieldRef{}, 0, fmt.Errorf("%w: %q", ErrFieldNotFound, fieldName)
	}
	return *first, matches, nil
}

// MatchOption picks the option a value refers to: an option equal to value
// (ignoring case and accents) wins, otherwise the first option containing it.
func MatchOption(options []string, value string) (string, error) {
	want := Fold(value)
	if want == "" {
		return "", fmt.Errorf("%w: empty value", ErrOptionNotFound)
	}
	for _, o := range options {
		if Fold(o) == want {
			return o, nil
		}
	}
	for _, o := range options {
		if strings.Contains(Fold(o), want) {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: %q not in %v", ErrOptionNotFound, value, options)
}
