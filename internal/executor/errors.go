// internal/executor/errors.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/extract"
)

// ErrorCode classifies a failed action for the agent. Forbidden is reported
// apart from everything else so it is never retried as if it were transient.
type ErrorCode string

const (
	CodeForbidden         ErrorCode = "forbidden"
	CodeInvalidParameters ErrorCode = "invalid_parameters"
	CodeUnknownAction     ErrorCode = "unknown_action"
	CodeElementNotFound   ErrorCode = "element_not_found"
	CodeFieldNotFound     ErrorCode = "field_not_found"
	CodeOptionNotFound    ErrorCode = "option_not_found"
	CodeTimeout           ErrorCode = "timeout"
	CodeNavigationError   ErrorCode = "navigation_error"
	CodeScriptError       ErrorCode = "script_error"
	CodeTabClosed         ErrorCode = "tab_closed"
	CodeExecutionFailure  ErrorCode = "execution_failure"
)

// ErrForbidden marks actions rejected by the denylist.
var ErrForbidden = errors.New("action forbidden")

// Error is a classified executor failure.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func invalidf(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidParameters, Msg: fmt.Sprintf(format, args...)}
}

func forbidden(keyword, where string) *Error {
	return &Error{
		Code: CodeForbidden,
		Msg:  fmt.Sprintf("Action forbidden: %s contains %q; saving or deleting is left to a human", where, keyword),
		Err:  ErrForbidden,
	}
}

// ClassifyError maps an error from any layer below onto an ErrorCode.
func ClassifyError(err error) ErrorCode {
	var execErr *Error
	var navErr *browser.NavigationError
	var scriptErr *browser.ScriptError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &execErr):
		return execErr.Code
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, extract.ErrFieldNotFound):
		return CodeFieldNotFound
	case errors.Is(err, extract.ErrOptionNotFound):
		return CodeOptionNotFound
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, browser.ErrTabClosed):
		return CodeTabClosed
	case errors.As(err, &navErr):
		return CodeNavigationError
	case errors.As(err, &scriptErr):
		return CodeScriptError
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "net::ERR"):
		return CodeNavigationError
	case strings.Contains(strings.ToLower(msg), "timeout"):
		return CodeTimeout
	}
	return CodeExecutionFailure
}
