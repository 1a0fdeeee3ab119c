// internal/bridge/tools.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/executor"
	"github.com/xkilldash9x/labcore/internal/extract"
	"github.com/xkilldash9x/labcore/internal/resolver"
	"github.com/xkilldash9x/labcore/internal/tabs"
)

// listKey is the registry key of the order list tab, which also hosts
// actions that name no order.
const listKey = "list:orders"

func (b *Bridge) registerTools() {
	orderNumber := str("Order number as shown in the order list.")

	b.register(&Tool{
		Name:        "list_orders",
		Description: "Read the order list, optionally searching it exactly. When an exact search finds nothing the cached export is searched by approximate patient name instead.",
		Parameters: object(nil, map[string]*Schema{
			"query":     str("Patient name, national id or order number to search for."),
			"min_score": number("Similarity floor (0-100) for the approximate fallback. Default 70."),
		}),
		run: b.listOrders,
	})
	b.register(&Tool{
		Name:        "search_orders_fuzzy",
		Description: "Search the cached order export by approximate patient name. Returns the one or two most recent orders of each matching patient, with a 0-100 score.",
		Parameters: object([]string{"query"}, map[string]*Schema{
			"query":     str("Patient name in any word order; accents and case are ignored."),
			"min_score": number("Similarity floor (0-100). Default 70."),
			"limit":     integer("Maximum number of orders returned."),
		}),
		run: b.searchFuzzy,
	})
	b.register(&Tool{
		Name:        "get_order_results",
		Description: "Open (or reuse) the results form of each order and return its exams and fields. With only_changes, return only the fields that changed since the last read of that order.",
		Parameters: object([]string{"order_numbers"}, map[string]*Schema{
			"order_numbers": array("Orders to read.", orderNumber),
			"only_changes":  boolean("Return a delta against the previous read instead of the full form."),
		}),
		run: b.getOrderResults,
	})
	b.register(&Tool{
		Name:        "get_order_edit_forms",
		Description: "Open (or reuse) the edit page of each order and return its patient, exams and totals.",
		Parameters: object([]string{"internal_ids"}, map[string]*Schema{
			"internal_ids": array("Internal order ids (id_interno from list_orders).", str("Internal id.")),
		}),
		run: b.getEditForms,
	})
	b.register(&Tool{
		Name:        "fill_fields",
		Description: "Fill result fields across one or more orders. Fills run in the given order; each one is reported on its own and a failure never stops the rest. Nothing is saved: a human reviews the highlighted changes and saves.",
		Parameters: object([]string{"fills"}, map[string]*Schema{
			"fills": array("Fields to fill.", object([]string{"order_number", "field", "value"}, map[string]*Schema{
				"order_number": orderNumber,
				"exam":         str("Exam name to narrow the field lookup."),
				"field":        str("Field label."),
				"value":        str("Value to enter; for dropdowns, any part of the option text."),
			})),
			"strict": boolean("Require the whole field label to match."),
		}),
		run: b.fillFields,
	})
	b.register(&Tool{
		Name:        "execute_actions",
		Description: "Run low-level browser actions in sequence on an order's results tab (or the list tab). Element indices come from index_elements. Saving and deleting are always refused.",
		Parameters: object([]string{"actions"}, map[string]*Schema{
			"order_number": orderNumber,
			"actions": array("Actions, each tagged by \"action\".", object([]string{"action"}, map[string]*Schema{
				"action":        enum("Action type.", executor.ActionTypes()...),
				"url":           str("navigate: absolute URL or site path."),
				"wait_until":    enum("navigate: load signal to wait for.", "load", "domcontentloaded", "networkidle"),
				"element_index": integer("click, type, select: index from index_elements."),
				"text":          str("type: text to enter."),
				"clear":         boolean("type: replace the current value (default true)."),
				"value":         str("select, fill_field: value to choose or enter."),
				"direction":     enum("scroll: direction.", "up", "down", "left", "right"),
				"amount":        integer("scroll: pixels."),
				"seconds":       number("wait: seconds."),
				"key":           str("press_key: key name, e.g. Enter or Tab."),
				"exam":          str("fill_field: exam name."),
				"field":         str("fill_field: field label."),
			})),
			"stop_on_error": boolean("Stop at the first failed action (default true)."),
		}),
		run: b.executeActions,
	})
	b.register(&Tool{
		Name:        "index_elements",
		Description: "List the visible interactive elements of a tab with the indices click, type and select expect.",
		Parameters:  object(nil, map[string]*Schema{"order_number": orderNumber}),
		run:         b.indexElements,
	})
	b.register(&Tool{
		Name:        "screenshot",
		Description: "Capture a tab as PNG and return the file path.",
		Parameters: object(nil, map[string]*Schema{
			"order_number": orderNumber,
			"full_page":    boolean("Capture the whole page instead of the viewport."),
		}),
		run: b.screenshot,
	})
	b.register(&Tool{
		Name:        "close_tabs",
		Description: "Close the tabs of the given orders, or every tab when none are given.",
		Parameters: object(nil, map[string]*Schema{
			"order_numbers": array("Results tabs to close.", orderNumber),
			"internal_ids":  array("Edit tabs to close.", str("Internal id.")),
		}),
		run: b.closeTabs,
	})
	b.register(&Tool{
		Name:        "reset_conversation",
		Description: "Forget what was read so far; the next get_order_results returns full forms again. Tabs stay open.",
		Parameters:  object(nil, map[string]*Schema{}),
		run:         b.resetConversation,
	})
	b.register(&Tool{
		Name:        "get_fill_history",
		Description: "List the recorded fills of an order's results page, newest first.",
		Parameters: object([]string{"order_number"}, map[string]*Schema{
			"order_number": orderNumber,
			"limit":        integer("Maximum entries. Default 50."),
		}),
		run: b.fillHistory,
	})
}

// -- Tab helpers --

// opener opens a session and sends it to url.
func (b *Bridge) opener(url string) tabs.Opener {
	return func(ctx context.Context) (*browser.Session, error) {
		s, err := browser.NewSession(ctx, b.deps.Driver, b.deps.Session, b.logger)
		if err != nil {
			return nil, err
		}
		if err := s.Navigate(ctx, url); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		return s, nil
	}
}

// target picks the tab for an optional order number.
func (b *Bridge) target(order string) (string, tabs.Opener) {
	if order == "" {
		return listKey, b.opener(b.deps.Site.LandingURL())
	}
	return tabs.ResultsKey(order), b.opener(b.deps.Site.ResultsURL(order))
}

func readDoc(ctx context.Context, s *browser.Session) (*html.Node, error) {
	page, err := s.LiveHTML(ctx)
	if err != nil {
		return nil, err
	}
	return extract.ParseString(page)
}

func fatal(err error) bool { return errors.Is(err, browser.ErrBrowserGone) }

// -- list_orders / search_orders_fuzzy --

type listArgs struct {
	Query    string  `json:"query"`
	MinScore float64 `json:"min_score"`
}

type listResult struct {
	Source     string                 `json:"source"`
	Tier       string                 `json:"tier,omitempty"`
	Orders     []extract.OrderSummary `json:"orders"`
	Matches    []resolver.Match       `json:"matches,omitempty"`
	FuzzyError string                 `json:"fuzzy_error,omitempty"`
}

func (b *Bridge) listOrders(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[listArgs](raw)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(args.Query)
	url := b.deps.Site.ListURL(query)

	res := listResult{Source: "live", Orders: []extract.OrderSummary{}}
	opened := false
	open := func(ctx context.Context) (*browser.Session, error) {
		opened = true
		return b.opener(url)(ctx)
	}
	err = b.deps.Tabs.WithCurrent(ctx, listKey, open, func(h *tabs.Handle) error {
		switch {
		case opened:
		case h.Session.URL() != url:
			if err := h.Session.Navigate(ctx, url); err != nil {
				return err
			}
		default:
			if err := h.Session.Reload(ctx); err != nil {
				return err
			}
		}
		doc, err := readDoc(ctx, h.Session)
		if err != nil {
			return err
		}
		orders, tier := extract.ExtractOrders(doc)
		if len(orders) > 0 {
			res.Orders, res.Tier = orders, tier
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(res.Orders) > 0 || query == "" || b.deps.Resolver == nil {
		return res, nil
	}

	matches, err := b.deps.Resolver.Search(ctx, query, resolver.Options{MinScore: args.MinScore})
	if err != nil {
		res.FuzzyError = err.Error()
		return res, nil
	}
	b.logger.Info("Exact search found nothing, answered from the order cache.", zap.String("query", query), zap.Int("matches", len(matches)))
	res.Source = "fuzzy"
	res.Matches = matches
	return res, nil
}

type fuzzyArgs struct {
	Query    string  `json:"query"`
	MinScore float64 `json:"min_score"`
	Limit    int     `json:"limit"`
}

func (b *Bridge) searchFuzzy(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[fuzzyArgs](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalid("query is required")
	}
	if b.deps.Resolver == nil {
		return nil, errors.New("fuzzy search is not configured (resolver.cache_file)")
	}
	matches, err := b.deps.Resolver.Search(ctx, args.Query, resolver.Options{MinScore: args.MinScore, MaxResults: args.Limit})
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []resolver.Match{}
	}
	return map[string]interface{}{"count": len(matches), "matches": matches}, nil
}

// -- get_order_results / get_order_edit_forms --

type resultsArgs struct {
	OrderNumbers []flexString `json:"order_numbers"`
	OnlyChanges  bool         `json:"only_changes"`
}

type orderResults struct {
	OrderNumber string                `json:"order_number"`
	Tier        string                `json:"tier,omitempty"`
	Exams       []extract.ExamSection `json:"exams,omitempty"`
	Delta       tabs.Delta            `json:"delta,omitempty"`
	Unchanged   bool                  `json:"unchanged,omitempty"`
	Error       string                `json:"error,omitempty"`
	Code        string                `json:"code,omitempty"`
}

func (b *Bridge) getOrderResults(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[resultsArgs](raw)
	if err != nil {
		return nil, err
	}
	orders := dedupe(args.OrderNumbers)
	if len(orders) == 0 {
		return nil, invalid("order_numbers must name at least one order")
	}

	out := make([]orderResults, 0, len(orders))
	for _, n := range orders {
		entry := orderResults{OrderNumber: n}
		key := tabs.ResultsKey(n)
		err := b.deps.Tabs.WithHandle(ctx, key, b.opener(b.deps.Site.ResultsURL(n)), func(h *tabs.Handle) error {
			doc, err := readDoc(ctx, h.Session)
			if err != nil {
				return err
			}
			form := extract.ExtractResults(doc)
			snap := extract.Snapshot(form.Exams)
			entry.Tier = form.Tier
			if args.OnlyChanges {
				entry.Delta = b.deps.Tabs.ComputeDelta(key, snap)
				entry.Unchanged = len(entry.Delta) == 0
			} else {
				entry.Exams = form.Exams
			}
			b.deps.Tabs.MarkSeen(key, snap)
			return nil
		})
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			entry.Error, entry.Code = err.Error(), string(executor.ClassifyError(err))
		}
		out = append(out, entry)
	}
	return map[string]interface{}{"orders": out}, nil
}

type editArgs struct {
	InternalIDs []flexString `json:"internal_ids"`
}

type editResult struct {
	InternalID string                 `json:"internal_id"`
	Form       *extract.OrderEditForm `json:"form,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Code       string                 `json:"code,omitempty"`
}

func (b *Bridge) getEditForms(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[editArgs](raw)
	if err != nil {
		return nil, err
	}
	ids := dedupe(args.InternalIDs)
	if len(ids) == 0 {
		return nil, invalid("internal_ids must name at least one order")
	}

	out := make([]editResult, 0, len(ids))
	for _, id := range ids {
		entry := editResult{InternalID: id}
		err := b.deps.Tabs.WithHandle(ctx, tabs.EditKey(id), b.opener(b.deps.Site.EditURL(id)), func(h *tabs.Handle) error {
			doc, err := readDoc(ctx, h.Session)
			if err != nil {
				return err
			}
			form := extract.ExtractEditForm(doc)
			entry.Form = &form
			return nil
		})
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			entry.Error, entry.Code = err.Error(), string(executor.ClassifyError(err))
		}
		out = append(out, entry)
	}
	return map[string]interface{}{"forms": out}, nil
}

// -- fill_fields --

type fillArg struct {
	OrderNumber flexString `json:"order_number"`
	Exam        string     `json:"exam"`
	Field       string     `json:"field"`
	Value       flexString `json:"value"`
}

type fillArgs struct {
	Fills  []fillArg `json:"fills"`
	Strict bool      `json:"strict"`
}

type fillResult struct {
	OrderNumber string `json:"order_number"`
	executor.Mutation
}

// fillFields groups fills by order, keeping each order's fills in the order
// given, and reports results in the original order.
func (b *Bridge) fillFields(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[fillArgs](raw)
	if err != nil {
		return nil, err
	}
	if len(args.Fills) == 0 {
		return nil, invalid("fills must contain at least one field")
	}

	results := make([]fillResult, len(args.Fills))
	var orders []string
	groups := make(map[string][]int)
	for i, f := range args.Fills {
		n := strings.TrimSpace(f.OrderNumber.String())
		if n == "" || strings.TrimSpace(f.Field) == "" {
			results[i] = fillResult{OrderNumber: n, Mutation: executor.Mutation{
				Field: f.Field, New: f.Value.String(), Outcome: executor.OutcomeFailed,
				Error: "order_number and field are required",
			}}
			continue
		}
		key := tabs.ResultsKey(n)
		if _, ok := groups[key]; !ok {
			orders = append(orders, n)
		}
		groups[key] = append(groups[key], i)
	}

	for _, n := range orders {
		key := tabs.ResultsKey(n)
		idx := groups[key]
		reqs := make([]executor.FillRequest, len(idx))
		for j, i := range idx {
			f := args.Fills[i]
			reqs[j] = executor.FillRequest{Exam: f.Exam, Field: f.Field, Value: f.Value.String()}
		}

		var batch executor.BatchResult
		err := b.deps.Tabs.WithHandle(ctx, key, b.opener(b.deps.Site.ResultsURL(n)), func(h *tabs.Handle) error {
			var err error
			batch, err = b.deps.Executor.FillFields(ctx, h.Session, reqs, args.Strict)
			if batch.Filled > 0 {
				h.MarkMutated()
				if err := h.Session.BringToFront(ctx); err != nil {
					b.logger.Debug("Could not focus filled tab.", zap.Error(err))
				}
			}
			return err
		})
		if err != nil && fatal(err) {
			return nil, err
		}
		for j, i := range idx {
			if j < len(batch.Results) {
				results[i] = fillResult{OrderNumber: n, Mutation: batch.Results[j]}
				continue
			}
			msg := "not attempted"
			if err != nil {
				msg = err.Error()
			}
			results[i] = fillResult{OrderNumber: n, Mutation: executor.Mutation{
				Exam: reqs[j].Exam, Field: reqs[j].Field, New: reqs[j].Value,
				Outcome: executor.OutcomeFailed, Error: msg,
			}}
		}
	}

	filled := 0
	for _, r := range results {
		if r.Outcome == executor.OutcomeSuccess {
			filled++
		}
	}
	return map[string]interface{}{"filled": filled, "failed": len(results) - filled, "results": results}, nil
}

// -- execute_actions / index_elements / screenshot --

type actionsArgs struct {
	OrderNumber flexString            `json:"order_number"`
	Actions     []jsoniter.RawMessage `json:"actions"`
	StopOnError *bool                 `json:"stop_on_error"`
}

type actionResult struct {
	Index int `json:"index"`
	executor.Result
	Skipped bool `json:"skipped,omitempty"`
}

func (b *Bridge) executeActions(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[actionsArgs](raw)
	if err != nil {
		return nil, err
	}
	if len(args.Actions) == 0 {
		return nil, invalid("actions must contain at least one action")
	}
	actions := make([]executor.Action, len(args.Actions))
	var problems []string
	for i, rawAction := range args.Actions {
		a, err := executor.DecodeAction(rawAction)
		if err != nil {
			problems = append(problems, fmt.Sprintf("action %d: %v", i, err))
			continue
		}
		actions[i] = a
	}
	if len(problems) > 0 {
		return nil, invalid("no action was run: %s", strings.Join(problems, "; "))
	}
	stop := args.StopOnError == nil || *args.StopOnError

	key, open := b.target(args.OrderNumber.String())
	results := make([]actionResult, 0, len(actions))
	err = b.deps.Tabs.WithCurrent(ctx, key, open, func(h *tabs.Handle) error {
		failed := false
		for i, a := range actions {
			if failed && stop {
				results = append(results, actionResult{Index: i, Result: executor.Result{Action: a.Kind()}, Skipped: true})
				continue
			}
			res, err := b.deps.Executor.Execute(ctx, h.Session, a)
			if res.Mutated {
				h.MarkMutated()
			}
			results = append(results, actionResult{Index: i, Result: res})
			if err != nil {
				return err
			}
			failed = failed || !res.Success
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	return map[string]interface{}{"succeeded": succeeded, "results": results}, nil
}

type tabArgs struct {
	OrderNumber flexString `json:"order_number"`
	FullPage    bool       `json:"full_page"`
}

func (b *Bridge) indexElements(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[tabArgs](raw)
	if err != nil {
		return nil, err
	}
	var elements []browser.Element
	key, open := b.target(args.OrderNumber.String())
	err = b.deps.Tabs.WithCurrent(ctx, key, open, func(h *tabs.Handle) error {
		var err error
		elements, err = h.Session.IndexElements(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if elements == nil {
		elements = []browser.Element{}
	}
	return map[string]interface{}{"count": len(elements), "elements": elements}, nil
}

func (b *Bridge) screenshot(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[tabArgs](raw)
	if err != nil {
		return nil, err
	}
	var png []byte
	key, open := b.target(args.OrderNumber.String())
	err = b.deps.Tabs.WithCurrent(ctx, key, open, func(h *tabs.Handle) error {
		var err error
		png, err = h.Session.Screenshot(ctx, args.FullPage)
		return err
	})
	if err != nil {
		return nil, err
	}

	dir := b.deps.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.png",
		strings.NewReplacer(":", "_", "/", "_").Replace(key),
		time.Now().Format("20060102-150405"),
		uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write screenshot: %w", err)
	}
	return map[string]interface{}{"path": path, "bytes": len(png)}, nil
}

// -- close_tabs / reset_conversation / get_fill_history --

type closeArgs struct {
	OrderNumbers []flexString `json:"order_numbers"`
	InternalIDs  []flexString `json:"internal_ids"`
}

func (b *Bridge) closeTabs(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[closeArgs](raw)
	if err != nil {
		return nil, err
	}
	orders, ids := dedupe(args.OrderNumbers), dedupe(args.InternalIDs)
	if len(orders) == 0 && len(ids) == 0 {
		n, err := b.deps.Tabs.CloseAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"closed": n}, nil
	}

	var keys []string
	for _, n := range orders {
		keys = append(keys, tabs.ResultsKey(n))
	}
	for _, id := range ids {
		keys = append(keys, tabs.EditKey(id))
	}
	closed := 0
	var errs []error
	for _, k := range keys {
		ok, err := b.deps.Tabs.CloseOne(ctx, k)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			closed++
		}
	}
	res := map[string]interface{}{"closed": closed}
	if err := errors.Join(errs...); err != nil {
		res["error"] = err.Error()
	}
	return res, nil
}

func (b *Bridge) resetConversation(ctx context.Context, raw []byte) (interface{}, error) {
	b.deps.Tabs.Reset()
	return map[string]interface{}{"reset": true, "open_tabs": b.deps.Tabs.Len()}, nil
}

type historyArgs struct {
	OrderNumber flexString `json:"order_number"`
	Limit       int        `json:"limit"`
}

func (b *Bridge) fillHistory(ctx context.Context, raw []byte) (interface{}, error) {
	args, err := decodeArgs[historyArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.OrderNumber == "" {
		return nil, invalid("order_number is required")
	}
	if b.deps.History == nil {
		return nil, errors.New("fill history is not configured (database.url)")
	}
	entries, err := b.deps.History.History(ctx, b.deps.Site.ResultsURL(args.OrderNumber.String()), args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(entries), "entries": entries}, nil
}
