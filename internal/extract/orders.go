// internal/extract/orders.go
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// minOrderCells is the smallest row the order list ever renders.
const minOrderCells = 5

var (
	orderTableIDs     = []string{"tabla-ordenes", "tablaOrdenes", "orders-table"}
	orderTableClasses = []string{"tabla-ordenes", "orders-table", "table-ordenes"}

	internalIDKeys = []string{"id", "id_orden", "orden_id", "idOrden", "internal_id"}
	orderURLIDs    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)/(?:ordenes|orden|orders|order)/(\d+)`),
		regexp.MustCompile(`(?i)[?&](?:id|id_orden|orden_id)=(\d+)`),
	}
)

// OrderTiers are the order-list heuristics, strictest first.
var OrderTiers = []Tier[[]OrderSummary]{
	{Name: "strict", Extract: ordersStrict},
	{Name: "structural", Extract: ordersStructural},
	{Name: "generic", Extract: ordersGeneric},
}

// ExtractOrders reads every order row of a list page. An empty result means no
// tier recognized the page.
func ExtractOrders(doc *html.Node) ([]OrderSummary, string) {
	return FirstNonEmpty(doc, OrderTiers)
}

func isOrderTable(n *html.Node) bool {
	if !isElement(n, "table") {
		return false
	}
	id := htmlquery.SelectAttr(n, "id")
	for _, want := range orderTableIDs {
		if id == want {
			return true
		}
	}
	for _, c := range orderTableClasses {
		if hasClass(n, c) {
			return true
		}
	}
	return false
}

func ordersStrict(doc *html.Node) ([]OrderSummary, bool) {
	var out []OrderSummary
	for _, table := range htmlquery.Find(doc, "//table") {
		if !isOrderTable(table) {
			continue
		}
		for _, row := range htmlquery.Find(table, ".//tr") {
			tds := dataCells(row)
			if len(tds) < minOrderCells {
				continue
			}
			if o, ok := parseOrderRow(row, tds, 2); ok {
				out = append(out, o)
			}
		}
	}
	return out, len(out) > 0
}

// ordersStructural accepts any row carrying a cell shaped like the patient column.
func ordersStructural(doc *html.Node) ([]OrderSummary, bool) {
	var out []OrderSummary
	for _, row := range htmlquery.Find(doc, "//tr") {
		tds := dataCells(row)
		if len(tds) < minOrderCells {
			continue
		}
		p := -1
		for i, td := range tds {
			if looksLikePatientCell(textLines(td)) {
				p = i
				break
			}
		}
		if p < 1 || p >= len(tds)-1 {
			continue
		}
		if o, ok := parseOrderRow(row, tds, p); ok {
			out = append(out, o)
		}
	}
	return out, len(out) > 0
}

// ordersGeneric takes any wide-enough row whose first cell holds a number.
func ordersGeneric(doc *html.Node) ([]OrderSummary, bool) {
	var out []OrderSummary
	for _, row := range htmlquery.Find(doc, "//tr") {
		tds := dataCells(row)
		if len(tds) < minOrderCells || !strings.ContainsAny(text(tds[0]), "0123456789") {
			continue
		}
		if o, ok := parseOrderRow(row, tds, 2); ok {
			out = append(out, o)
		}
	}
	return out, len(out) > 0
}

// parseOrderRow maps cells around the patient column at index p: order number
// first, date right before the patient, then status and value after it.
func parseOrderRow(row *html.Node, tds []*html.Node, p int) (OrderSummary, bool) {
	number := text(tds[0])
	if number == "" {
		return OrderSummary{}, false
	}
	dateCell := tds[1]
	if p >= 2 {
		dateCell = tds[p-1]
	}
	statusCell := tds[p+1]
	var valueCell *html.Node
	if p+2 < len(tds) {
		valueCell = tds[p+2]
	}

	o := OrderSummary{
		OrderNumber: number,
		Date:        text(dateCell),
		PatientCell: ParsePatientCell(textLines(tds[p])),
		Status:      text(statusCell),
		Value:       text(valueCell),
	}
	if id, ok := internalIDFromAttr(statusCell); ok {
		o.InternalID = &id
	} else if id, ok := internalIDFromURL(row); ok {
		o.InternalID = &id
	}
	return o, true
}

// internalIDFromAttr looks for a JSON object in any attribute of the status cell.
func internalIDFromAttr(cell *html.Node) (int64, bool) {
	var id int64
	var found bool
	findAttr(cell, func(_, val string) bool {
		val = strings.TrimSpace(val)
		if !strings.HasPrefix(val, "{") {
			return false
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(val), &payload); err != nil {
			return false
		}
		for _, k := range internalIDKeys {
			if v, ok := payload[k]; ok {
				if n, ok := toInt64(v); ok {
					id, found = n, true
					return true
				}
			}
		}
		return false
	})
	return id, found
}

func internalIDFromURL(row *html.Node) (int64, bool) {
	var id int64
	var found bool
	findAttr(row, func(key, val string) bool {
		if key != "href" && key != "onclick" && key != "data-href" && key != "data-url" {
			return false
		}
		for _, re := range orderURLIDs {
			if m := re.FindStringSubmatch(val); m != nil {
				if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
					id, found = n, true
					return true
				}
			}
		}
		return false
	})
	return id, found
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), t == float64(int64(t))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}
