// internal/executor/actions.go
package executor

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/labcore/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// strictJSON rejects fields an action variant does not declare.
var strictJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// ActionType tags the variants of Action.
type ActionType string

const (
	ActionNavigate  ActionType = "navigate"
	ActionClick     ActionType = "click"
	ActionTypeText  ActionType = "type"
	ActionSelect    ActionType = "select"
	ActionScroll    ActionType = "scroll"
	ActionWait      ActionType = "wait"
	ActionPressKey  ActionType = "press_key"
	ActionFillField ActionType = "fill_field"
)

// Action is the closed set of things the executor can do to a page. The
// unexported method keeps implementations inside this package.
type Action interface {
	Kind() ActionType
	// Validate checks the variant's own fields.
	Validate() error
	// guardTexts are the literal parameters the denylist inspects.
	guardTexts() []string
}

// indexed is implemented by actions that target an element from the last
// element index.
type indexed interface {
	Index() int
}

type Navigate struct {
	URL string `json:"url"`
	// WaitUntil overrides the session's load signal for this navigation.
	WaitUntil string `json:"wait_until,omitempty"`
}

type Click struct {
	ElementIndex int `json:"element_index"`
}

type TypeText struct {
	ElementIndex int    `json:"element_index"`
	Text         string `json:"text"`
	// Clear defaults to true: the control is overwritten rather than appended to.
	Clear *bool `json:"clear,omitempty"`
}

type Select struct {
	ElementIndex int    `json:"element_index"`
	Value        string `json:"value"`
}

type Scroll struct {
	Direction string `json:"direction"`
	// Amount in pixels; zero scrolls by one default step.
	Amount int `json:"amount,omitempty"`
}

type Wait struct {
	Seconds float64 `json:"seconds"`
}

type PressKey struct {
	Key string `json:"key"`
}

type FillField struct {
	Exam   string `json:"exam,omitempty"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Strict bool   `json:"strict,omitempty"`
}

func (Navigate) Kind() ActionType  { return ActionNavigate }
func (Click) Kind() ActionType     { return ActionClick }
func (TypeText) Kind() ActionType  { return ActionTypeText }
func (Select) Kind() ActionType    { return ActionSelect }
func (Scroll) Kind() ActionType    { return ActionScroll }
func (Wait) Kind() ActionType      { return ActionWait }
func (PressKey) Kind() ActionType  { return ActionPressKey }
func (FillField) Kind() ActionType { return ActionFillField }

func (a Click) Index() int    { return a.ElementIndex }
func (a TypeText) Index() int { return a.ElementIndex }
func (a Select) Index() int   { return a.ElementIndex }

func (a Navigate) guardTexts() []string  { return []string{a.URL} }
func (Click) guardTexts() []string       { return nil }
func (a TypeText) guardTexts() []string  { return []string{a.Text} }
func (a Select) guardTexts() []string    { return []string{a.Value} }
func (a Scroll) guardTexts() []string    { return []string{a.Direction} }
func (Wait) guardTexts() []string        { return nil }
func (a PressKey) guardTexts() []string  { return []string{a.Key} }
func (a FillField) guardTexts() []string { return []string{a.Value} }

// Validate accepts absolute http(s) URLs and site-relative paths.
func (a Navigate) Validate() error {
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %v", a.URL, err)
	}
	if a.WaitUntil != "" {
		if _, err := browser.ParseWaitCondition(a.WaitUntil); err != nil {
			return err
		}
	}
	if u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/") {
		return nil
	}
	if u.Host == "" {
		return fmt.Errorf("url must be absolute or start with /, got %q", a.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q is not allowed", u.Scheme)
	}
	return nil
}

func validIndex(i int) error {
	if i < 0 {
		return fmt.Errorf("element_index must be >= 0, got %d", i)
	}
	return nil
}

func (a Click) Validate() error    { return validIndex(a.ElementIndex) }
func (a TypeText) Validate() error { return validIndex(a.ElementIndex) }

func (a Select) Validate() error {
	if strings.TrimSpace(a.Value) == "" {
		return fmt.Errorf("value must not be empty")
	}
	return validIndex(a.ElementIndex)
}

func (a Scroll) Validate() error {
	switch strings.ToLower(a.Direction) {
	case "up", "down", "left", "right":
	default:
		return fmt.Errorf("direction must be up, down, left or right, got %q", a.Direction)
	}
	if a.Amount < 0 {
		return fmt.Errorf("amount must be >= 0, got %d", a.Amount)
	}
	return nil
}

func (a Wait) Validate() error {
	if a.Seconds <= 0 {
		return fmt.Errorf("seconds must be > 0, got %v", a.Seconds)
	}
	return nil
}

func (a PressKey) Validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return fmt.Errorf("key must not be empty")
	}
	return nil
}

func (a FillField) Validate() error {
	if strings.TrimSpace(a.Field) == "" {
		return fmt.Errorf("field must not be empty")
	}
	return nil
}

// variant describes how to decode one action tag.
type variant struct {
	required []string
	decode   func(raw []byte) (Action, error)
}

func decodeInto[T Action](raw []byte) (Action, error) {
	var v T
	if err := strictJSON.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var variants = map[ActionType]variant{
	ActionNavigate:  {required: []string{"url"}, decode: decodeInto[Navigate]},
	ActionClick:     {required: []string{"element_index"}, decode: decodeInto[Click]},
	ActionTypeText:  {required: []string{"element_index", "text"}, decode: decodeInto[TypeText]},
	ActionSelect:    {required: []string{"element_index", "value"}, decode: decodeInto[Select]},
	ActionScroll:    {required: []string{"direction"}, decode: decodeInto[Scroll]},
	ActionWait:      {required: []string{"seconds"}, decode: decodeInto[Wait]},
	ActionPressKey:  {required: []string{"key"}, decode: decodeInto[PressKey]},
	ActionFillField: {required: []string{"field", "value"}, decode: decodeInto[FillField]},
}

// ActionTypes lists every known action tag in sorted order.
func ActionTypes() []string {
	out := make([]string, 0, len(variants))
	for t := range variants {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// DecodeAction turns {"action": "<tag>", ...fields} into its variant. Unknown
// tags, missing required fields, unknown fields and invalid values are all
// rejected before anything reaches a page.
func DecodeAction(raw []byte) (Action, error) {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalidf("action must be a JSON object: %v", err)
	}
	var tag string
	if t, ok := fields["action"]; !ok {
		return nil, invalidf("action is missing the %q tag", "action")
	} else if err := json.Unmarshal(t, &tag); err != nil {
		return nil, invalidf("action tag must be a string")
	}
	v, ok := variants[ActionType(tag)]
	if !ok {
		return nil, &Error{Code: CodeUnknownAction, Msg: fmt.Sprintf("unknown action %q (known: %s)", tag, strings.Join(ActionTypes(), ", "))}
	}
	for _, k := range v.required {
		if _, ok := fields[k]; !ok {
			return nil, invalidf("%s requires %q", tag, k)
		}
	}

	delete(fields, "action")
	rest, err := json.Marshal(fields)
	if err != nil {
		return nil, invalidf("failed to re-encode action: %v", err)
	}
	a, err := v.decode(rest)
	if err != nil {
		return nil, invalidf("%s: %v", tag, err)
	}
	if err := a.Validate(); err != nil {
		return nil, invalidf("%s: %v", tag, err)
	}
	return a, nil
}

// EncodeAction is the inverse of DecodeAction.
func EncodeAction(a Action) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(string(a.Kind()))
	fields["action"] = tag
	return json.Marshal(fields)
}
