// internal/executor/fill.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/extract"
)

// FillRequest asks for one results-form field to be set.
type FillRequest struct {
	// Exam optionally narrows the lookup to sections whose name contains it.
	Exam  string `json:"exam,omitempty"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// Outcome is the per-item result of a fill.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFieldNotFound  Outcome = "field_not_found"
	OutcomeOptionNotFound Outcome = "option_not_found"
	OutcomeForbidden      Outcome = "forbidden"
	OutcomeFailed         Outcome = "failed"
)

// Mutation records one attempted fill, successful or not.
type Mutation struct {
	Exam    string  `json:"exam,omitempty"`
	Field   string  `json:"field"`
	Prev    string  `json:"prev"`
	New     string  `json:"new"`
	Outcome Outcome `json:"outcome"`
	// Candidates counts the labels that matched; above one the pick was
	// the first in document order.
	Candidates int    `json:"candidates,omitempty"`
	Error      string `json:"error,omitempty"`

	err error
}

// Err returns the failure behind a non-success mutation.
func (m Mutation) Err() error { return m.err }

// BatchResult summarizes a FillFields call.
type BatchResult struct {
	Filled  int        `json:"filled"`
	Failed  int        `json:"failed"`
	Results []Mutation `json:"results"`
}

// fillOutcome is what FillScript returns.
type fillOutcome struct {
	Status string `json:"status"`
	Prev   string `json:"prev"`
	Next   string `json:"next"`
}

var errStale = errors.New("results form changed since it was read")

// FillFields sets each requested field in order. Items never abort the
// batch: every one is attempted and reported on its own. The form is read
// once up front and re-read at most once more when a label disappears or a
// row moves after an earlier fill re-rendered part of the page. The returned
// error is non-nil only when the browser itself is gone.
func (e *Executor) FillFields(ctx context.Context, s *browser.Session, reqs []FillRequest, strict bool) (BatchResult, error) {
	batch := BatchResult{Results: make([]Mutation, 0, len(reqs))}
	strict = strict || e.opts.StrictLabels

	form, err := e.readForm(ctx, s)
	if err != nil {
		if errors.Is(err, browser.ErrBrowserGone) {
			return batch, err
		}
		for _, r := range reqs {
			batch.Results = append(batch.Results, failedMutation(r, OutcomeFailed, err))
		}
		batch.Failed = len(reqs)
		return batch, nil
	}
	reread := false

	for _, r := range reqs {
		m, err := e.fillOne(ctx, s, form, r, strict)
		if errors.Is(err, browser.ErrBrowserGone) {
			return batch, err
		}
		retryable := errors.Is(m.err, errStale) || (m.Outcome == OutcomeFieldNotFound && batch.Filled > 0)
		if retryable && !reread {
			reread = true
			if fresh, rerr := e.readForm(ctx, s); rerr == nil {
				form = fresh
				m, err = e.fillOne(ctx, s, form, r, strict)
				if errors.Is(err, browser.ErrBrowserGone) {
					return batch, err
				}
			}
		}

		if m.Outcome == OutcomeSuccess {
			batch.Filled++
		} else {
			batch.Failed++
			e.logger.Warn("Field fill failed.",
				zap.String("field", r.Field), zap.String("outcome", string(m.Outcome)), zap.Error(m.err))
		}
		batch.Results = append(batch.Results, m)
	}

	if batch.Filled > 0 {
		e.logger.Info("Fields filled.", zap.Int("filled", batch.Filled), zap.Int("failed", batch.Failed))
	}
	e.recordAudit(ctx, s.URL(), batch.Results)
	return batch, nil
}

func (e *Executor) readForm(ctx context.Context, s *browser.Session) (extract.ResultForm, error) {
	page, err := s.LiveHTML(ctx)
	if err != nil {
		return extract.ResultForm{}, fmt.Errorf("failed to read results form: %w", err)
	}
	doc, err := extract.ParseString(page)
	if err != nil {
		return extract.ResultForm{}, fmt.Errorf("failed to parse results form: %w", err)
	}
	return extract.ExtractResults(doc), nil
}

// fillOne performs one fill. Item failures are carried in the Mutation; the
// error return is reserved for conditions that end the batch.
func (e *Executor) fillOne(ctx context.Context, s *browser.Session, form extract.ResultForm, r FillRequest, strict bool) (Mutation, error) {
	if kw, hit := e.guard.Match(r.Value); hit {
		return failedMutation(r, OutcomeForbidden, forbidden(kw, "the value")), nil
	}

	ref, matches, err := extract.FindField(form.Exams, r.Exam, r.Field, strict)
	if err != nil {
		return failedMutation(r, OutcomeFieldNotFound, err), nil
	}
	if kw, hit := e.guard.Match(ref.Field.Name); hit {
		return failedMutation(r, OutcomeForbidden, forbidden(kw, fmt.Sprintf("field %q", ref.Field.Name))), nil
	}

	value := r.Value
	if ref.Field.Kind == extract.KindSelect {
		value, err = extract.MatchOption(ref.Field.Options, r.Value)
		if err != nil {
			m := failedMutation(r, OutcomeOptionNotFound, err)
			m.Exam, m.Field = ref.Exam, ref.Field.Name
			m.Error = fmt.Sprintf("no option of %q matches %q; available: %s", ref.Field.Name, r.Value, strings.Join(ref.Field.Options, ", "))
			return m, nil
		}
	}

	args := map[string]interface{}{
		"ctl":   ref.Field.Control,
		"value": value,
		"label": ref.Field.Name,
		"color": e.opts.HighlightColor,
		"badge": extract.BadgeClass,
	}
	var out fillOutcome
	if err := s.RunScript(ctx, FillScript, args, &out); err != nil {
		m := failedMutation(r, OutcomeFailed, err)
		m.Exam, m.Field = ref.Exam, ref.Field.Name
		return m, err
	}

	m := Mutation{Exam: ref.Exam, Field: ref.Field.Name, Candidates: matches}
	switch out.Status {
	case "ok":
		m.Prev, m.New, m.Outcome = out.Prev, out.Next, OutcomeSuccess
	case "no_option":
		m.Outcome, m.err = OutcomeOptionNotFound, fmt.Errorf("%w: %q", extract.ErrOptionNotFound, value)
	case "stale":
		m.Outcome, m.err = OutcomeFailed, errStale
	default:
		m.Outcome = OutcomeFailed
		m.err = &Error{Code: CodeElementNotFound, Msg: fmt.Sprintf("control for %q is no longer on the page", ref.Field.Name)}
	}
	if m.err != nil {
		m.Error = m.err.Error()
	}
	return m, nil
}

func failedMutation(r FillRequest, o Outcome, err error) Mutation {
	return Mutation{Exam: r.Exam, Field: r.Field, New: r.Value, Outcome: o, Error: err.Error(), err: err}
}

func (e *Executor) recordAudit(ctx context.Context, pageURL string, ms []Mutation) {
	if e.audit == nil || len(ms) == 0 {
		return
	}
	if err := e.audit.RecordMutations(ctx, pageURL, ms); err != nil {
		e.logger.Warn("Failed to record fill audit trail.", zap.Error(err))
	}
}
