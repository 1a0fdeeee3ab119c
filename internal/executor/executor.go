// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/config"
	"github.com/xkilldash9x/labcore/internal/extract"
)

const (
	defaultScrollStep = 600
	defaultColor      = "#ffb300"
	// settleSelector is counted until the DOM stops growing after a click.
	settleSelector = "body *"
)

// Options tune an Executor.
type Options struct {
	// BaseURL resolves site-relative navigate targets.
	BaseURL        string
	ExtraDenylist  []string
	StrictLabels   bool
	HighlightColor string
	// MaxWait caps a single wait action.
	MaxWait time.Duration
}

// OptionsFromConfig reads executor options out of the application config.
func OptionsFromConfig(cfg config.Interface) Options {
	return Options{
		BaseURL:        cfg.Site().BaseURL,
		ExtraDenylist:  cfg.Executor().ExtraDenylist,
		StrictLabels:   cfg.Executor().StrictLabels,
		HighlightColor: cfg.Executor().HighlightColor,
		MaxWait:        cfg.Timing().MaxWait,
	}
}

// Result is the outcome of one action. Soft failures live here; only loss of
// the browser is returned as a Go error next to it.
type Result struct {
	Action  ActionType  `json:"action"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    ErrorCode   `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	// Mutated is set when the action changed a form control.
	Mutated bool `json:"-"`
}

// AuditSink receives every attempted fill. Failures are logged, never
// propagated: auditing must not block result entry.
type AuditSink interface {
	RecordMutations(ctx context.Context, pageURL string, mutations []Mutation) error
}

// handler runs one validated, guard-approved action.
type handler func(ctx context.Context, s *browser.Session, a Action) (data interface{}, mutated bool, err error)

// Executor is the single path through which actions reach a page. Every
// action passes the denylist first, with no way around it.
type Executor struct {
	logger   *zap.Logger
	opts     Options
	guard    *Guard
	audit    AuditSink
	handlers map[ActionType]handler
}

// New creates an Executor. audit may be nil.
func New(logger *zap.Logger, opts Options, audit AuditSink) *Executor {
	if opts.HighlightColor == "" {
		opts.HighlightColor = defaultColor
	}
	e := &Executor{
		logger:   logger.Named("executor"),
		opts:     opts,
		guard:    NewGuard(opts.ExtraDenylist),
		audit:    audit,
		handlers: make(map[ActionType]handler),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[ActionNavigate] = e.handleNavigate
	e.handlers[ActionClick] = e.handleClick
	e.handlers[ActionTypeText] = e.handleType
	e.handlers[ActionSelect] = e.handleSelect
	e.handlers[ActionScroll] = e.handleScroll
	e.handlers[ActionWait] = e.handleWait
	e.handlers[ActionPressKey] = e.handlePressKey
	e.handlers[ActionFillField] = e.handleFillField
}

// Guard exposes the executor's denylist.
func (e *Executor) Guard() *Guard { return e.guard }

// Execute validates, guards and runs one action against the session's tab.
func (e *Executor) Execute(ctx context.Context, s *browser.Session, a Action) (Result, error) {
	if a == nil {
		return e.fail("", invalidf("no action given")), nil
	}
	res := Result{Action: a.Kind()}

	h, ok := e.handlers[a.Kind()]
	if !ok {
		return e.fail(a.Kind(), &Error{Code: CodeUnknownAction, Msg: fmt.Sprintf("no handler for %q", a.Kind())}), nil
	}
	if err := a.Validate(); err != nil {
		return e.fail(a.Kind(), invalidf("%s: %v", a.Kind(), err)), nil
	}
	if err := e.check(s, a); err != nil {
		return e.fail(a.Kind(), err), nil
	}

	data, mutated, err := h(ctx, s, a)
	if err != nil {
		if errors.Is(err, browser.ErrBrowserGone) {
			e.logger.Error("Browser process lost during action.", zap.String("action", string(a.Kind())), zap.Error(err))
			return e.fail(a.Kind(), err), err
		}
		return e.fail(a.Kind(), err), nil
	}
	res.Success = true
	res.Data = data
	res.Mutated = mutated
	return res, nil
}

// check runs the denylist over the action's literal parameters and, for
// indexed actions, the cached text of the element it points at.
func (e *Executor) check(s *browser.Session, a Action) error {
	if kw, hit := e.guard.Match(a.guardTexts()...); hit {
		return forbidden(kw, "the action parameters")
	}
	ia, ok := a.(indexed)
	if !ok {
		return nil
	}
	el, ok := s.Element(ia.Index())
	if !ok {
		return &Error{Code: CodeElementNotFound, Msg: fmt.Sprintf("no element with index %d; call index_elements after the page changes", ia.Index())}
	}
	if kw, hit := e.guard.Match(el.Text, el.ID, el.Name); hit {
		return forbidden(kw, fmt.Sprintf("element %d (%q)", el.Index, el.Text))
	}
	return nil
}

func (e *Executor) fail(kind ActionType, err error) Result {
	code := ClassifyError(err)
	if code == CodeForbidden {
		e.logger.Warn("Forbidden action rejected.", zap.String("action", string(kind)), zap.Error(err))
	} else {
		e.logger.Warn("Action failed.", zap.String("action", string(kind)), zap.String("error_code", string(code)), zap.Error(err))
	}
	return Result{Action: kind, Success: false, Error: err.Error(), Code: code}
}

// -- Action Handlers --

func (e *Executor) resolveURL(u string) string {
	if strings.HasPrefix(u, "/") && e.opts.BaseURL != "" {
		return strings.TrimRight(e.opts.BaseURL, "/") + u
	}
	return u
}

func (e *Executor) handleNavigate(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	nav := a.(Navigate)
	var wait browser.WaitCondition
	if nav.WaitUntil != "" {
		// Validate already rejected unknown conditions.
		wait, _ = browser.ParseWaitCondition(nav.WaitUntil)
	}
	if err := s.NavigateUntil(ctx, e.resolveURL(nav.URL), wait); err != nil {
		return nil, false, err
	}
	return map[string]string{"url": s.URL()}, false, nil
}

// scriptOutcome is what the element scripts return.
type scriptOutcome struct {
	Status  string   `json:"status"`
	Keyword string   `json:"keyword,omitempty"`
	Prev    string   `json:"prev,omitempty"`
	Next    string   `json:"next,omitempty"`
	Tag     string   `json:"tag,omitempty"`
	Options []string `json:"options,omitempty"`
}

func (e *Executor) elementArgs(index int) map[string]interface{} {
	return map[string]interface{}{
		"attr":  browser.ElementIndexAttr,
		"idx":   index,
		"deny":  e.guard.Keywords(),
		"color": e.opts.HighlightColor,
		"badge": extract.BadgeClass,
	}
}

// outcomeError turns a non-ok script status into a classified error.
func outcomeError(index int, out scriptOutcome) error {
	switch out.Status {
	case "ok":
		return nil
	case "missing":
		return &Error{Code: CodeElementNotFound, Msg: fmt.Sprintf("element %d is no longer on the page", index)}
	case "forbidden":
		return forbidden(out.Keyword, fmt.Sprintf("element %d", index))
	case "no_option":
		return &Error{Code: CodeOptionNotFound, Msg: fmt.Sprintf("no option matches; available: %s", strings.Join(out.Options, ", ")), Err: extract.ErrOptionNotFound}
	case "not_editable", "not_select":
		return invalidf("element %d is a <%s>, which this action cannot drive", index, out.Tag)
	}
	return &Error{Code: CodeScriptError, Msg: fmt.Sprintf("unexpected script status %q", out.Status)}
}

func (e *Executor) handleClick(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	click := a.(Click)
	var out scriptOutcome
	if err := s.RunScript(ctx, ClickScript, e.elementArgs(click.ElementIndex), &out); err != nil {
		return nil, false, err
	}
	if err := outcomeError(click.ElementIndex, out); err != nil {
		return nil, false, err
	}
	// Clicks trigger client-side re-renders; indices from before are void.
	s.InvalidateElements()
	if err := s.WaitForStableCount(ctx, settleSelector); err != nil {
		return nil, false, err
	}
	return map[string]interface{}{"clicked": click.ElementIndex, "url": s.URL()}, false, nil
}

func (e *Executor) handleType(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	typ := a.(TypeText)
	args := e.elementArgs(typ.ElementIndex)
	args["text"] = typ.Text
	args["clear"] = typ.Clear == nil || *typ.Clear
	var out scriptOutcome
	if err := s.RunScript(ctx, TypeScript, args, &out); err != nil {
		return nil, false, err
	}
	if err := outcomeError(typ.ElementIndex, out); err != nil {
		return nil, false, err
	}
	return map[string]string{"prev": out.Prev, "new": out.Next}, true, nil
}

func (e *Executor) handleSelect(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	sel := a.(Select)
	args := e.elementArgs(sel.ElementIndex)
	args["value"] = sel.Value
	var out scriptOutcome
	if err := s.RunScript(ctx, SelectScript, args, &out); err != nil {
		return nil, false, err
	}
	if err := outcomeError(sel.ElementIndex, out); err != nil {
		return nil, false, err
	}
	return map[string]string{"prev": out.Prev, "new": out.Next}, true, nil
}

func (e *Executor) handleScroll(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	sc := a.(Scroll)
	amount := sc.Amount
	if amount == 0 {
		amount = defaultScrollStep
	}
	dx, dy := 0, 0
	switch strings.ToLower(sc.Direction) {
	case "up":
		dy = -amount
	case "down":
		dy = amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	}
	var pos map[string]interface{}
	if err := s.RunScript(ctx, browser.ScrollScript, map[string]int{"dx": dx, "dy": dy}, &pos); err != nil {
		return nil, false, err
	}
	return pos, false, nil
}

func (e *Executor) handleWait(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	d := time.Duration(a.(Wait).Seconds * float64(time.Second))
	if e.opts.MaxWait > 0 && d > e.opts.MaxWait {
		d = e.opts.MaxWait
	}
	if err := browser.Sleep(ctx, d); err != nil {
		return nil, false, err
	}
	return map[string]float64{"waited_seconds": d.Seconds()}, false, nil
}

// handlePressKey refuses keys sent to a focused element whose text hits the
// denylist. Enter is also refused when it would submit a form whose submit
// control or action hits it.
func (e *Executor) handlePressKey(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	key := a.(PressKey).Key
	var focused string
	if err := s.RunScript(ctx, browser.ActiveElementTextScript, nil, &focused); err != nil {
		return nil, false, err
	}
	if kw, hit := e.guard.Match(focused); hit {
		return nil, false, forbidden(kw, fmt.Sprintf("the focused element (%q)", focused))
	}
	if isEnterKey(key) {
		// Enter in a text field submits its form through the form's submit control.
		var submits []string
		if err := s.RunScript(ctx, browser.FormSubmitTextsScript, nil, &submits); err != nil {
			return nil, false, err
		}
		for _, text := range submits {
			if kw, hit := e.guard.Match(text); hit {
				return nil, false, forbidden(kw, fmt.Sprintf("the form of the focused element (%q)", text))
			}
		}
	}
	if err := s.PressKey(ctx, key); err != nil {
		return nil, false, err
	}
	s.InvalidateElements()
	if err := s.WaitForStableCount(ctx, settleSelector); err != nil {
		return nil, false, err
	}
	return map[string]string{"key": key}, false, nil
}

func isEnterKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "enter", "return", "numpadenter", "\r", "\n":
		return true
	}
	return false
}

func (e *Executor) handleFillField(ctx context.Context, s *browser.Session, a Action) (interface{}, bool, error) {
	ff := a.(FillField)
	batch, err := e.FillFields(ctx, s, []FillRequest{{Exam: ff.Exam, Field: ff.Field, Value: ff.Value}}, ff.Strict)
	if err != nil {
		return nil, false, err
	}
	m := batch.Results[0]
	if m.Outcome != OutcomeSuccess {
		return nil, false, m.Err()
	}
	return m, true, nil
}
