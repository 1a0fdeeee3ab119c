// internal/bridge/args.go
package bridge

import (
	"strconv"
	"strings"
)

// flexString accepts a JSON string or number. Agents pass order numbers and
// internal ids either way.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(v))
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return invalid("expected a string or number, got %s", s)
	}
	*f = flexString(s)
	return nil
}

func (f flexString) String() string { return string(f) }

// dedupe drops empty and repeated ids, keeping first-seen order.
func dedupe(ids []flexString) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		s := strings.TrimSpace(id.String())
		if s == "" || seen[strings.ToUpper(s)] {
			continue
		}
		seen[strings.ToUpper(s)] = true
		out = append(out, s)
	}
	return out
}
