// internal/bridge/bridge.go
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/config"
	"github.com/xkilldash9x/labcore/internal/executor"
	"github.com/xkilldash9x/labcore/internal/resolver"
	"github.com/xkilldash9x/labcore/internal/store"
	"github.com/xkilldash9x/labcore/internal/tabs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tool is one named operation offered to the agent.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`

	run func(ctx context.Context, args []byte) (interface{}, error)
}

// ErrorPayload is what a failed tool call returns instead of raising.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Fatal marks loss of the browser; no further call can succeed.
	Fatal bool `json:"fatal,omitempty"`
}

// Searcher is the fuzzy order lookup.
type Searcher interface {
	Search(ctx context.Context, query string, opts resolver.Options) ([]resolver.Match, error)
}

// HistorySource lists the stored fills of a page.
type HistorySource interface {
	History(ctx context.Context, pageURL string, limit int) ([]store.Entry, error)
}

// Deps are the collaborators behind the tools. Resolver and History are
// optional; their tools report themselves unavailable when nil.
type Deps struct {
	Driver        browser.Driver
	Session       browser.SessionOptions
	Site          config.SiteConfig
	Tabs          *tabs.Registry
	Executor      *executor.Executor
	Resolver      Searcher
	History       HistorySource
	ScreenshotDir string
	// OnFatal is called once per call that hit browser.ErrBrowserGone.
	OnFatal func(error)
}

// Bridge exposes the automation core as JSON tools. Every call returns a
// JSON-serializable value; failures and panics become ErrorPayload.
type Bridge struct {
	deps   Deps
	logger *zap.Logger
	tools  map[string]*Tool
	order  []string
}

// New builds the bridge and registers its tools.
func New(deps Deps, logger *zap.Logger) *Bridge {
	b := &Bridge{
		deps:   deps,
		logger: logger.Named("bridge"),
		tools:  make(map[string]*Tool),
	}
	b.registerTools()
	return b
}

func (b *Bridge) register(t *Tool) {
	if _, dup := b.tools[t.Name]; dup {
		panic(fmt.Sprintf("bridge: tool %q registered twice", t.Name))
	}
	b.tools[t.Name] = t
	b.order = append(b.order, t.Name)
}

// Tools lists the registered tools in registration order.
func (b *Bridge) Tools() []Tool {
	out := make([]Tool, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.tools[name])
	}
	return out
}

// Has reports whether a tool is registered under name.
func (b *Bridge) Has(name string) bool {
	_, ok := b.tools[name]
	return ok
}

// Names lists the tool names, sorted.
func (b *Bridge) Names() []string {
	names := append([]string(nil), b.order...)
	sort.Strings(names)
	return names
}

// Call runs one tool. It never panics and never returns a Go error: any
// failure is folded into an ErrorPayload.
func (b *Bridge) Call(ctx context.Context, name string, args []byte) (out interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Tool panicked.", zap.String("tool", name), zap.Any("panic", r), zap.Stack("stack"))
			out = ErrorPayload{Error: fmt.Sprintf("internal error in %s: %v", name, r), Code: string(executor.CodeExecutionFailure)}
		}
	}()

	t, ok := b.tools[name]
	if !ok {
		return ErrorPayload{Error: fmt.Sprintf("unknown tool %q", name), Code: string(executor.CodeUnknownAction)}
	}
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = []byte("{}")
	}

	b.logger.Debug("Tool call.", zap.String("tool", name))
	res, err := t.run(ctx, args)
	if err != nil {
		return b.errorPayload(name, err)
	}
	return res
}

// CallJSON is Call with the result already encoded.
func (b *Bridge) CallJSON(ctx context.Context, name string, args []byte) []byte {
	out, err := json.Marshal(b.Call(ctx, name, args))
	if err != nil {
		b.logger.Error("Failed to encode tool result.", zap.String("tool", name), zap.Error(err))
		out, _ = json.Marshal(ErrorPayload{Error: fmt.Sprintf("failed to encode result of %s: %v", name, err)})
	}
	return out
}

func (b *Bridge) errorPayload(name string, err error) ErrorPayload {
	p := ErrorPayload{Error: err.Error(), Code: string(executor.ClassifyError(err))}
	if errors.Is(err, browser.ErrBrowserGone) {
		p.Fatal = true
		b.logger.Error("Browser lost during tool call.", zap.String("tool", name), zap.Error(err))
		if b.deps.OnFatal != nil {
			b.deps.OnFatal(err)
		}
		return p
	}
	b.logger.Warn("Tool call failed.", zap.String("tool", name), zap.Error(err))
	return p
}

// decodeArgs decodes tool arguments into T.
func decodeArgs[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &executor.Error{Code: executor.CodeInvalidParameters, Msg: fmt.Sprintf("invalid arguments: %v", err)}
	}
	return v, nil
}

func invalid(format string, args ...interface{}) error {
	return &executor.Error{Code: executor.CodeInvalidParameters, Msg: fmt.Sprintf(format, args...)}
}
