// internal/extract/dom.go
package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// BadgeClass marks the diff badges the executor injects next to filled
// controls. Badge text is never part of an extracted value.
const BadgeClass = "labcore-diff-badge"

// blockElements start a new line in extracted text.
var blockElements = map[string]bool{
	"br": true, "div": true, "p": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// Parse reads an HTML document. It accepts anything the HTML5 parser accepts,
// so an error here means the reader failed, not that the markup was odd.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// ParseString is Parse for an in-memory document.
func ParseString(s string) (*html.Node, error) {
	return Parse(strings.NewReader(s))
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(htmlquery.SelectAttr(n, "class")) {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, tags ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, t := range tags {
		if strings.EqualFold(n.Data, t) {
			return true
		}
	}
	return false
}

func isBadge(n *html.Node) bool {
	return n.Type == html.ElementNode && hasClass(n, BadgeClass)
}

// cells returns the direct td/th children of a row.
func cells(row *html.Node) []*html.Node {
	var out []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, "td", "th") {
			out = append(out, c)
		}
	}
	return out
}

// dataCells returns only the td children of a row.
func dataCells(row *html.Node) []*html.Node {
	var out []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, "td") {
			out = append(out, c)
		}
	}
	return out
}

// walk visits n and its descendants in document order. Returning false from
// fn skips the children of that node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// findFirst returns the first descendant (or n itself) for which match holds.
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if match(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

func isControl(n *html.Node) bool {
	if isElement(n, "select", "textarea") {
		return true
	}
	if isElement(n, "input") {
		switch strings.ToLower(htmlquery.SelectAttr(n, "type")) {
		case "hidden", "button", "submit", "reset", "image":
			return false
		}
		return true
	}
	return false
}

func hasControl(n *html.Node) bool {
	return findFirst(n, isControl) != nil
}

func hasBold(n *html.Node) bool {
	return findFirst(n, func(c *html.Node) bool { return isElement(c, "b", "strong") }) != nil
}

// textLines extracts the visible text of n one line per block boundary.
// Whitespace inside a line is collapsed, empty lines are dropped.
func textLines(n *html.Node) []string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			if isElement(c, "script", "style", "select", "option", "template") || isBadge(c) {
				return false
			}
			if blockElements[strings.ToLower(c.Data)] {
				sb.WriteByte('\n')
			}
		}
		return true
	})

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// text is the visible text of n on a single line.
func text(n *html.Node) string {
	if n == nil {
		return ""
	}
	return strings.Join(textLines(n), " ")
}

// label cleans a row label: trailing colons and asterisks go.
func label(n *html.Node) string {
	return strings.TrimSpace(strings.TrimRight(text(n), ":* "))
}

// controlOrdinals numbers every input, select and textarea in document order,
// matching document.querySelectorAll('input, select, textarea') in the page.
func controlOrdinals(doc *html.Node) map[*html.Node]int {
	ords := make(map[*html.Node]int)
	walk(doc, func(n *html.Node) bool {
		if isElement(n, "template") {
			return false
		}
		if isElement(n, "input", "select", "textarea") {
			ords[n] = len(ords)
		}
		return true
	})
	return ords
}

// findAttr returns the value of the first attribute of any element under n
// whose value satisfies match.
func findAttr(n *html.Node, match func(key, val string) bool) (string, bool) {
	var out string
	var ok bool
	walk(n, func(c *html.Node) bool {
		if ok {
			return false
		}
		if c.Type == html.ElementNode {
			for _, a := range c.Attr {
				if match(a.Key, a.Val) {
					out, ok = a.Val, true
					return false
				}
			}
		}
		return true
	})
	return out, ok
}
