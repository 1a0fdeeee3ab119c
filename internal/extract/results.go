// internal/extract/results.go
package extract

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var headerClasses = []string{"examen-header", "exam-header", "fila-examen"}

// sampleTypes is the closed vocabulary of specimen labels, matched on folded text.
var sampleTypes = []struct{ token, name string }{
	{"sangre total", "Sangre total"},
	{"sangre", "Sangre"},
	{"suero", "Suero"},
	{"plasma", "Plasma"},
	{"orina", "Orina"},
	{"heces", "Heces"},
	{"esputo", "Esputo"},
	{"hisopado", "Hisopado"},
	{"semen", "Semen"},
	{"liquido cefalorraquideo", "Liquido cefalorraquideo"},
	{"secrecion", "Secrecion"},
}

// ResultTiers are the results-page heuristics, strictest first.
var ResultTiers = []Tier[[]ExamSection]{
	{Name: "strict", Extract: resultsStrict},
	{Name: "structural", Extract: resultsStructural},
	{Name: "generic", Extract: resultsGeneric},
}

// ExtractResults reads the exam sections of a results page.
func ExtractResults(doc *html.Node) ResultForm {
	exams, tier := FirstNonEmpty(doc, ResultTiers)
	if exams == nil {
		exams = []ExamSection{}
	}
	return ResultForm{Exams: exams, Tier: tier}
}

func isStrictHeader(row *html.Node) bool {
	if htmlquery.SelectAttr(row, "data-examen") != "" {
		return true
	}
	for _, c := range headerClasses {
		if hasClass(row, c) {
			return true
		}
	}
	return false
}

func isBoldHeader(row *html.Node) bool {
	return hasBold(row) && !hasControl(row)
}

func resultsStrict(doc *html.Node) ([]ExamSection, bool) {
	return sectionize(doc, isStrictHeader, func(row *html.Node) string {
		if name := strings.TrimSpace(htmlquery.SelectAttr(row, "data-examen")); name != "" {
			return name
		}
		return headerName(row)
	})
}

func resultsStructural(doc *html.Node) ([]ExamSection, bool) {
	return sectionize(doc, isBoldHeader, headerName)
}

// resultsGeneric treats every row with a control as a field, one section per
// table, named after the table caption when there is one.
func resultsGeneric(doc *html.Node) ([]ExamSection, bool) {
	ords := controlOrdinals(doc)
	var out []ExamSection
	for _, table := range htmlquery.Find(doc, "//table") {
		sec := ExamSection{Name: text(htmlquery.FindOne(table, "./caption"))}
		for _, row := range htmlquery.Find(table, ".//tr") {
			if closestTable(row) != table {
				continue
			}
			if f, ok := parseField(row, ords); ok {
				sec.Fields = append(sec.Fields, f)
			}
		}
		if len(sec.Fields) > 0 {
			out = append(out, sec)
		}
	}
	return out, len(out) > 0
}

func closestTable(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if isElement(p, "table") {
			return p
		}
	}
	return nil
}

// sectionize walks every row in document order. A header row opens a section;
// rows with a control after it are that section's parameters until the next
// header. Rows before the first header are ignored.
func sectionize(doc *html.Node, isHeader func(*html.Node) bool, name func(*html.Node) string) ([]ExamSection, bool) {
	ords := controlOrdinals(doc)
	var out []ExamSection
	var cur *ExamSection
	flush := func() {
		if cur != nil && len(cur.Fields) > 0 {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, row := range htmlquery.Find(doc, "//tr") {
		if isHeader(row) {
			flush()
			folded := Fold(text(row))
			cur = &ExamSection{
				Name:       name(row),
				Status:     examStatus(folded),
				SampleType: sampleType(folded),
			}
			continue
		}
		if cur == nil {
			continue
		}
		if f, ok := parseField(row, ords); ok {
			cur.Fields = append(cur.Fields, f)
		}
	}
	flush()
	return out, len(out) > 0
}

// headerName prefers the bold text of a header row and falls back to its first cell.
func headerName(row *html.Node) string {
	if b := findFirst(row, func(c *html.Node) bool { return isElement(c, "b", "strong") }); b != nil {
		if name := text(b); name != "" {
			return name
		}
	}
	if cs := cells(row); len(cs) > 0 {
		return label(cs[0])
	}
	return text(row)
}

func examStatus(folded string) ExamStatus {
	switch {
	case strings.Contains(folded, "validad"):
		return ExamValidated
	case strings.Contains(folded, "pendiente"):
		return ExamPending
	}
	return ""
}

func sampleType(folded string) string {
	for _, s := range sampleTypes {
		if strings.Contains(folded, s.token) {
			return s.name
		}
	}
	return ""
}

func isTextInput(n *html.Node) bool {
	if isElement(n, "textarea") {
		return true
	}
	if !isElement(n, "input") {
		return false
	}
	switch strings.ToLower(htmlquery.SelectAttr(n, "type")) {
	case "", "text", "number", "search", "tel", "email", "date", "time", "datetime-local":
		return true
	}
	return false
}

// parseField reads one parameter row: label in the first cell, control in the
// first later cell that has one, reference range in the cell after that.
// Rows without a usable control are skipped.
func parseField(row *html.Node, ords map[*html.Node]int) (Field, bool) {
	cs := cells(row)
	if len(cs) < 2 {
		return Field{}, false
	}
	name := label(cs[0])
	if name == "" {
		return Field{}, false
	}

	for i := 1; i < len(cs); i++ {
		var f Field
		if sel := findFirst(cs[i], func(n *html.Node) bool { return isElement(n, "select") }); sel != nil {
			f = Field{Name: name, Kind: KindSelect, Control: ords[sel]}
			f.Options, f.CurrentValue = selectOptions(sel)
		} else if in := findFirst(cs[i], isTextInput); in != nil {
			f = Field{Name: name, Kind: KindText, Control: ords[in], CurrentValue: inputValue(in)}
		} else {
			continue
		}
		if i+1 < len(cs) && !hasControl(cs[i+1]) {
			f.ReferenceRange = text(cs[i+1])
		}
		return f, true
	}
	return Field{}, false
}

func inputValue(n *html.Node) string {
	if isElement(n, "textarea") {
		return strings.TrimSpace(htmlquery.InnerText(n))
	}
	return htmlquery.SelectAttr(n, "value")
}

func optionText(opt *html.Node) string {
	return strings.Join(strings.Fields(htmlquery.InnerText(opt)), " ")
}

func isPlaceholder(opt *html.Node, label string) bool {
	if label == "" || strings.HasPrefix(label, "--") {
		return true
	}
	for _, a := range opt.Attr {
		if a.Key == "value" && strings.TrimSpace(a.Val) == "" {
			return true
		}
	}
	return strings.HasPrefix(Fold(label), "seleccion")
}

// selectOptions returns the option labels of a select, placeholders excluded,
// and the label of the selected option ("" when nothing real is selected).
func selectOptions(sel *html.Node) ([]string, string) {
	options := []string{}
	current := ""
	for _, opt := range htmlquery.Find(sel, ".//option") {
		l := optionText(opt)
		if isPlaceholder(opt, l) {
			continue
		}
		options = append(options, l)
		if current == "" && hasAttr(opt, "selected") {
			current = l
		}
	}
	return options, current
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
