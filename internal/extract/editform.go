// internal/extract/editform.go
package extract

import (
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	examTableIDs     = []string{"tabla-examenes", "tablaExamenes", "examenes", "exams-table"}
	examTableClasses = []string{"tabla-examenes", "exams-table"}

	examCodePattern = regexp.MustCompile(`^([A-Z0-9][A-Z0-9._]{1,11})\s+-\s+(.+)$`)
)

// lookup describes where a single edit-form value may live: an element whose
// id or name equals one of exact, then one whose id or name contains one of
// contains, then the element right after a label reading one of labels.
type lookup struct {
	exact    []string
	contains []string
	labels   []string
}

var (
	orderNumberLookup = lookup{
		exact:    []string{"numero_orden", "nro_orden", "numero-orden", "orden_numero", "order_number"},
		contains: []string{"numero_orden", "numeroorden", "nroorden"},
		labels:   []string{"numero de orden", "no. orden", "nro. orden", "orden no."},
	}
	patientIDLookup = lookup{
		exact:    []string{"cedula", "paciente_cedula", "identificacion"},
		contains: []string{"cedula", "identificacion"},
		labels:   []string{"cedula", "identificacion", "c.i."},
	}
	firstNamesLookup = lookup{
		exact:    []string{"nombres", "paciente_nombres"},
		contains: []string{"nombres"},
		labels:   []string{"nombres"},
	}
	lastNamesLookup = lookup{
		exact:    []string{"apellidos", "paciente_apellidos"},
		contains: []string{"apellidos"},
		labels:   []string{"apellidos"},
	}
	subtotalLookup = lookup{
		exact:  []string{"subtotal", "sub_total"},
		labels: []string{"subtotal", "sub total"},
	}
	discountLookup = lookup{
		exact:    []string{"descuento", "discount"},
		contains: []string{"descuento"},
		labels:   []string{"descuento"},
	}
	totalLookup = lookup{
		exact:  []string{"total", "total_pagar", "valor_total"},
		labels: []string{"total", "total a pagar"},
	}
)

// EditFormTiers are the exam-table heuristics of the order edit page.
var EditFormTiers = []Tier[[]EditExam]{
	{Name: "strict", Extract: editExamsStrict},
	{Name: "header", Extract: editExamsByHeader},
	{Name: "generic", Extract: editExamsGeneric},
}

// ExtractEditForm reads the order edit page. Patient, order number and totals
// are looked up independently of the exam table, so a form with an
// unrecognized exam table still reports them.
func ExtractEditForm(doc *html.Node) OrderEditForm {
	exams, tier := FirstNonEmpty(doc, EditFormTiers)
	if exams == nil {
		exams = []EditExam{}
	}
	return OrderEditForm{
		OrderNumber: orderNumberLookup.find(doc),
		Patient: EditPatient{
			ID:         patientIDLookup.find(doc),
			FirstNames: firstNamesLookup.find(doc),
			LastNames:  lastNamesLookup.find(doc),
		},
		Exams: exams,
		Totals: Totals{
			Subtotal: subtotalLookup.find(doc),
			Discount: discountLookup.find(doc),
			Total:    totalLookup.find(doc),
		},
		Tier: tier,
	}
}

// ParseExamName splits "CODE - Name". Code is nil when the text does not
// follow that convention.
func ParseExamName(s string) (*string, string) {
	s = strings.TrimSpace(s)
	if m := examCodePattern.FindStringSubmatch(s); m != nil {
		code := m[1]
		return &code, strings.TrimSpace(m[2])
	}
	return nil, s
}

func isExamTable(n *html.Node) bool {
	id := htmlquery.SelectAttr(n, "id")
	for _, want := range examTableIDs {
		if id == want {
			return true
		}
	}
	for _, c := range examTableClasses {
		if hasClass(n, c) {
			return true
		}
	}
	return false
}

func editExamsStrict(doc *html.Node) ([]EditExam, bool) {
	var out []EditExam
	for _, table := range htmlquery.Find(doc, "//table") {
		if !isExamTable(table) {
			continue
		}
		for _, row := range htmlquery.Find(table, ".//tr") {
			if e, ok := examFromCells(dataCells(row), 0, 1, 2); ok {
				out = append(out, e)
			}
		}
	}
	return out, len(out) > 0
}

// editExamsByHeader finds a table whose header row names an "Examen" column
// and maps the value and status columns by their headers.
func editExamsByHeader(doc *html.Node) ([]EditExam, bool) {
	var out []EditExam
	for _, table := range htmlquery.Find(doc, "//table") {
		rows := htmlquery.Find(table, ".//tr")
		hdr := -1
		nameCol, valueCol, statusCol := -1, -1, -1
		for i, row := range rows {
			for j, c := range cells(row) {
				switch h := Fold(label(c)); {
				case h == "examen" || h == "examenes" || h == "prueba":
					nameCol = j
				case h == "valor" || h == "precio" || h == "costo" || h == "pvp":
					valueCol = j
				case h == "estado":
					statusCol = j
				}
			}
			if nameCol >= 0 {
				hdr = i
				break
			}
		}
		if hdr < 0 {
			continue
		}
		for _, row := range rows[hdr+1:] {
			if e, ok := examFromCells(dataCells(row), nameCol, valueCol, statusCol); ok {
				out = append(out, e)
			}
		}
	}
	return out, len(out) > 0
}

// editExamsGeneric accepts any row whose first cell follows "CODE - Name".
func editExamsGeneric(doc *html.Node) ([]EditExam, bool) {
	var out []EditExam
	for _, row := range htmlquery.Find(doc, "//tr") {
		tds := dataCells(row)
		if len(tds) == 0 {
			continue
		}
		if code, _ := ParseExamName(text(tds[0])); code == nil {
			continue
		}
		if e, ok := examFromCells(tds, 0, 1, 2); ok {
			out = append(out, e)
		}
	}
	return out, len(out) > 0
}

func cellText(tds []*html.Node, i int) string {
	if i < 0 || i >= len(tds) {
		return ""
	}
	return text(tds[i])
}

func examFromCells(tds []*html.Node, nameCol, valueCol, statusCol int) (EditExam, bool) {
	raw := cellText(tds, nameCol)
	if raw == "" {
		return EditExam{}, false
	}
	folded := Fold(raw)
	if strings.HasPrefix(folded, "total") || strings.HasPrefix(folded, "subtotal") || strings.HasPrefix(folded, "descuento") {
		return EditExam{}, false
	}
	code, name := ParseExamName(raw)
	return EditExam{
		Code:   code,
		Name:   name,
		Value:  cellText(tds, valueCol),
		Status: cellText(tds, statusCol),
	}, true
}

func (l lookup) find(doc *html.Node) string {
	if n := findByKey(doc, func(key string) bool { return containsString(l.exact, key) }); n != nil {
		return valueOf(n)
	}
	if len(l.contains) > 0 {
		n := findByKey(doc, func(key string) bool {
			for _, c := range l.contains {
				if strings.Contains(key, c) {
					return true
				}
			}
			return false
		})
		if n != nil {
			return valueOf(n)
		}
	}
	return findByLabel(doc, l.labels)
}

// findByKey returns the first element whose folded id or name satisfies match.
func findByKey(doc *html.Node, match func(string) bool) *html.Node {
	return findFirst(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || isElement(n, "table", "tr", "form") {
			return false
		}
		for _, attr := range []string{"id", "name"} {
			if v := htmlquery.SelectAttr(n, attr); v != "" && match(strings.ToLower(v)) {
				return true
			}
		}
		return false
	})
}

func findByLabel(doc *html.Node, labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	var out string
	walk(doc, func(n *html.Node) bool {
		if out != "" {
			return false
		}
		if !isElement(n, "label", "th", "td", "span", "strong", "b", "dt") {
			return true
		}
		if !containsString(labels, Fold(label(n))) {
			return true
		}
		if id := htmlquery.SelectAttr(n, "for"); id != "" {
			if target := findFirst(doc, func(c *html.Node) bool {
				return c.Type == html.ElementNode && htmlquery.SelectAttr(c, "id") == id
			}); target != nil {
				out = valueOf(target)
				return false
			}
		}
		if next := nextElement(n); next != nil {
			out = valueOf(next)
		}
		return false
	})
	return out
}

func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// valueOf reads what an element displays: the value of a control, the
// selected option of a select, or its text.
func valueOf(n *html.Node) string {
	ctl := n
	if !isElement(n, "input", "select", "textarea") {
		if c := findFirst(n, isControl); c != nil {
			ctl = c
		}
	}
	switch {
	case isElement(ctl, "select"):
		_, current := selectOptions(ctl)
		return current
	case isElement(ctl, "input", "textarea"):
		return strings.TrimSpace(inputValue(ctl))
	}
	return text(n)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
