// internal/executor/executor_test.go
package executor_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/executor"
	"github.com/xkilldash9x/labcore/internal/mocks"
)

// recordingSink captures audit calls.
type recordingSink struct {
	mu    sync.Mutex
	calls [][]executor.Mutation
}

func (r *recordingSink) RecordMutations(_ context.Context, _ string, ms []executor.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ms)
	return nil
}

type fixture struct {
	exec   *executor.Executor
	page   *mocks.MockPage
	driver *mocks.FakeDriver
	sess   *browser.Session
	audit  *recordingSink
}

func newFixture(t *testing.T, opts executor.Options) *fixture {
	t.Helper()
	page := mocks.NewMockPage("http://lab.test/resultados/1234")
	driver := mocks.NewFakeDriver(func(int) *mocks.MockPage { return page })
	sess, err := browser.NewSession(context.Background(), driver, browser.SessionOptions{
		NavigationTimeout: time.Second,
		SettleTimeout:     20 * time.Millisecond,
		SettleInterval:    time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	audit := &recordingSink{}
	return &fixture{
		exec:   executor.New(zaptest.NewLogger(t), opts, audit),
		page:   page,
		driver: driver,
		sess:   sess,
		audit:  audit,
	}
}

// indexElements primes the session's element cache.
func (f *fixture) indexElements(t *testing.T, elements ...map[string]interface{}) {
	t.Helper()
	list := make([]interface{}, len(elements))
	for i, e := range elements {
		list[i] = e
	}
	f.page.On("Evaluate", mock.Anything, browser.IndexElementsScript, browser.ElementIndexAttr).Return(list, nil).Once()
	_, err := f.sess.IndexElements(context.Background())
	require.NoError(t, err)
}

// serveResultsForm makes LiveHTML return the results fixture.
func (f *fixture) serveResultsForm(t *testing.T) {
	t.Helper()
	data, err := os.ReadFile("testdata/results_form.html")
	require.NoError(t, err)
	f.page.On("Evaluate", mock.Anything, browser.SyncFormStateScript, nil).Return(float64(4), nil)
	f.page.On("Content", mock.Anything).Return(string(data), nil)
}

// acceptFills makes FillScript succeed, echoing the chosen value. Prev values
// come from the fixture.
func (f *fixture) acceptFills() *[]map[string]interface{} {
	prev := map[int]string{1: "Amarillo", 2: "6.0", 3: ""}
	var seen []map[string]interface{}
	var mu sync.Mutex
	f.page.On("Evaluate", mock.Anything, executor.FillScript, mock.Anything).Return(
		func(_ context.Context, _ string, arg any) any {
			a := arg.(map[string]interface{})
			mu.Lock()
			seen = append(seen, a)
			mu.Unlock()
			return map[string]interface{}{"status": "ok", "prev": prev[a["ctl"].(int)], "next": a["value"]}
		}, nil)
	return &seen
}

func elem(idx int, tag, text string) map[string]interface{} {
	return map[string]interface{}{"index": idx, "tag": tag, "text": text}
}

func TestExecute_ClickOnSaveButtonIsForbidden(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.indexElements(t,
		elem(0, "a", "Inicio"),
		elem(1, "select", "Amarillo"),
		elem(2, "input", ""),
		elem(3, "button", "Guardar cambios"),
	)

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Click{ElementIndex: 3})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, executor.CodeForbidden, res.Code)
	assert.Contains(t, res.Error, "Action forbidden")
	assert.Contains(t, res.Error, "guardar")
	f.page.AssertNotCalled(t, "Evaluate", mock.Anything, executor.ClickScript, mock.Anything)
}

func TestExecute_Click(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.indexElements(t, elem(0, "a", "Resultados"))
	f.page.On("Evaluate", mock.Anything, executor.ClickScript, mock.Anything).Return(map[string]interface{}{"status": "ok"}, nil).Once()
	f.page.On("Evaluate", mock.Anything, browser.CountSelectorScript, "body *").Return(float64(40), nil)

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Click{ElementIndex: 0})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Mutated)

	_, ok := f.sess.Element(0)
	assert.False(t, ok, "a click voids the element index")
}

func TestExecute_ClickRefusedByLivePage(t *testing.T) {
	f := newFixture(t, executor.Options{})
	// The cached text is harmless but the live element was re-rendered.
	f.indexElements(t, elem(0, "button", "Aceptar"))
	f.page.On("Evaluate", mock.Anything, executor.ClickScript, mock.Anything).
		Return(map[string]interface{}{"status": "forbidden", "keyword": "eliminar"}, nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Click{ElementIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, executor.CodeForbidden, res.Code)
	f.page.AssertNotCalled(t, "Evaluate", mock.Anything, browser.CountSelectorScript, mock.Anything)
}

func TestExecute_UnindexedElement(t *testing.T) {
	f := newFixture(t, executor.Options{})

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Select{ElementIndex: 7, Value: "O"})
	require.NoError(t, err)
	assert.Equal(t, executor.CodeElementNotFound, res.Code)
	assert.Contains(t, res.Error, "index_elements")
}

func TestExecute_ForbiddenParameters(t *testing.T) {
	f := newFixture(t, executor.Options{ExtraDenylist: []string{"validar"}})
	f.indexElements(t, elem(0, "input", ""))

	for _, a := range []executor.Action{
		executor.TypeText{ElementIndex: 0, Text: "borrar todo"},
		executor.Navigate{URL: "/ordenes/12/eliminar"},
		executor.FillField{Field: "Observaciones", Value: "Validar luego"},
	} {
		res, err := f.exec.Execute(context.Background(), f.sess, a)
		require.NoError(t, err)
		assert.Equal(t, executor.CodeForbidden, res.Code, "action %s", a.Kind())
	}
	f.page.AssertNotCalled(t, "Evaluate", mock.Anything, executor.TypeScript, mock.Anything)
	f.page.AssertNotCalled(t, "Goto", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_InvalidAction(t *testing.T) {
	f := newFixture(t, executor.Options{})

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Wait{Seconds: -1})
	require.NoError(t, err)
	assert.Equal(t, executor.CodeInvalidParameters, res.Code)

	res, err = f.exec.Execute(context.Background(), f.sess, nil)
	require.NoError(t, err)
	assert.Equal(t, executor.CodeInvalidParameters, res.Code)
}

func TestExecute_TypeMarksMutation(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.indexElements(t, elem(0, "input", ""))
	f.page.On("Evaluate", mock.Anything, executor.TypeScript, mock.MatchedBy(func(a map[string]interface{}) bool {
		return a["text"] == "7.0" && a["clear"] == true && a["idx"] == 0
	})).Return(map[string]interface{}{"status": "ok", "prev": "6.0", "next": "7.0"}, nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.TypeText{ElementIndex: 0, Text: "7.0"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Mutated)
	assert.Equal(t, map[string]string{"prev": "6.0", "new": "7.0"}, res.Data)
}

func TestExecute_SelectWithoutMatchingOption(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.indexElements(t, elem(0, "select", "A"))
	f.page.On("Evaluate", mock.Anything, executor.SelectScript, mock.Anything).
		Return(map[string]interface{}{"status": "no_option", "options": []interface{}{"A", "O"}}, nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Select{ElementIndex: 0, Value: "AB"})
	require.NoError(t, err)
	assert.Equal(t, executor.CodeOptionNotFound, res.Code)
	assert.Contains(t, res.Error, "A, O")
}

func TestExecute_NavigateResolvesRelativePaths(t *testing.T) {
	f := newFixture(t, executor.Options{BaseURL: "http://lab.test/"})
	f.page.On("Goto", mock.Anything, "http://lab.test/ordenes",
		browser.LoadOptions{WaitUntil: browser.WaitNetworkIdle, Timeout: time.Second}).Return(nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Navigate{URL: "/ordenes"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]string{"url": "http://lab.test/ordenes"}, res.Data)
}

func TestExecute_NavigatePassesWaitCondition(t *testing.T) {
	f := newFixture(t, executor.Options{BaseURL: "http://lab.test/"})
	f.page.On("Goto", mock.Anything, "http://lab.test/ordenes",
		browser.LoadOptions{WaitUntil: browser.WaitDOMContentLoaded, Timeout: time.Second}).Return(nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Navigate{URL: "/ordenes", WaitUntil: "domcontentloaded"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	f.page.AssertExpectations(t)

	_, err = executor.DecodeAction([]byte(`{"action":"navigate","url":"/x","wait_until":"commit"}`))
	assert.ErrorContains(t, err, "unknown wait condition")
}

func TestExecute_BrowserGoneIsReturned(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.page.MarkClosed()
	f.driver.Err = browser.ErrBrowserGone

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Navigate{URL: "http://lab.test/"})
	assert.ErrorIs(t, err, browser.ErrBrowserGone)
	assert.False(t, res.Success)
}

func TestExecute_WaitIsCapped(t *testing.T) {
	f := newFixture(t, executor.Options{MaxWait: 10 * time.Millisecond})

	start := time.Now()
	res, err := f.exec.Execute(context.Background(), f.sess, executor.Wait{Seconds: 30})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, map[string]float64{"waited_seconds": 0.01}, res.Data)
}

func TestExecute_Scroll(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.page.On("Evaluate", mock.Anything, browser.ScrollScript, map[string]int{"dx": 0, "dy": -600}).
		Return(map[string]interface{}{"x": 0, "y": 0, "viewport": 900}, nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.Scroll{Direction: "up"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecute_PressKeyOnFocusedSaveButton(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.page.On("Evaluate", mock.Anything, browser.ActiveElementTextScript, nil).Return("Grabar", nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.PressKey{Key: "Enter"})
	require.NoError(t, err)
	assert.Equal(t, executor.CodeForbidden, res.Code)
	f.page.AssertNotCalled(t, "PressKey", mock.Anything, mock.Anything)
}

func TestExecute_EnterRefusedWhenFormSubmitsToSave(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.page.On("Evaluate", mock.Anything, browser.ActiveElementTextScript, nil).Return("95", nil).Once()
	f.page.On("Evaluate", mock.Anything, browser.FormSubmitTextsScript, nil).
		Return([]interface{}{"/resultados/1234", "Guardar resultados btn-save"}, nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.PressKey{Key: "Enter"})
	require.NoError(t, err)
	assert.Equal(t, executor.CodeForbidden, res.Code)
	assert.Contains(t, res.Error, "guardar")
	f.page.AssertNotCalled(t, "PressKey", mock.Anything, mock.Anything)
}

func TestExecute_EnterAllowedInHarmlessForm(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.page.On("Evaluate", mock.Anything, browser.ActiveElementTextScript, nil).Return("garcia", nil).Once()
	f.page.On("Evaluate", mock.Anything, browser.FormSubmitTextsScript, nil).
		Return([]interface{}{"/ordenes", "Buscar"}, nil).Once()
	f.page.On("Evaluate", mock.Anything, browser.CountSelectorScript, mock.Anything).Return(float64(4), nil).Maybe()
	f.page.On("PressKey", mock.Anything, "Enter").Return(nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.PressKey{Key: "Enter"})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	f.page.AssertExpectations(t)
}

func TestExecute_TabSkipsFormCheck(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.page.On("Evaluate", mock.Anything, browser.ActiveElementTextScript, nil).Return("95", nil).Once()
	f.page.On("Evaluate", mock.Anything, browser.CountSelectorScript, mock.Anything).Return(float64(4), nil).Maybe()
	f.page.On("PressKey", mock.Anything, "Tab").Return(nil).Once()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.PressKey{Key: "Tab"})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	f.page.AssertNotCalled(t, "Evaluate", mock.Anything, browser.FormSubmitTextsScript, nil)
}

func TestExecute_FillFieldSelectsClosestOption(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.serveResultsForm(t)
	seen := f.acceptFills()

	res, err := f.exec.Execute(context.Background(), f.sess, executor.FillField{Field: "color", Value: "claro"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Mutated)

	m := res.Data.(executor.Mutation)
	assert.Equal(t, "Color", m.Field)
	assert.Equal(t, "Amarillo", m.Prev)
	assert.Equal(t, "Amarillo Claro", m.New)
	assert.Equal(t, executor.OutcomeSuccess, m.Outcome)

	require.Len(t, *seen, 1)
	assert.Equal(t, 1, (*seen)[0]["ctl"], "the hidden csrf input is control 0")
	assert.Equal(t, "labcore-diff-badge", (*seen)[0]["badge"])
}

func TestFillFields_BatchReportsEachItem(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.serveResultsForm(t)
	f.acceptFills()

	reqs := []executor.FillRequest{
		{Exam: "uroanalisis", Field: "Color", Value: "claro"},
		{Field: "pH", Value: "7.0"},
		{Field: "Leucocitos", Value: "2-4"},
		{Exam: "glucosa", Field: "Glucosa", Value: "98"},
	}
	batch, err := f.exec.FillFields(context.Background(), f.sess, reqs, false)
	require.NoError(t, err)

	assert.Equal(t, len(reqs)-1, batch.Filled)
	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Results, len(reqs))
	assert.Equal(t, executor.OutcomeSuccess, batch.Results[0].Outcome)
	assert.Equal(t, executor.OutcomeSuccess, batch.Results[1].Outcome)
	assert.Equal(t, executor.OutcomeFieldNotFound, batch.Results[2].Outcome)
	assert.NotEmpty(t, batch.Results[2].Error)
	assert.Equal(t, executor.OutcomeSuccess, batch.Results[3].Outcome)
	assert.Equal(t, "98", batch.Results[3].New)

	// A missing label after a successful fill earns exactly one re-read.
	f.page.AssertNumberOfCalls(t, "Content", 2)

	require.Len(t, f.audit.calls, 1)
	assert.Len(t, f.audit.calls[0], len(reqs))
}

func TestFillFields_OptionAndGuardFailures(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.serveResultsForm(t)
	seen := f.acceptFills()

	batch, err := f.exec.FillFields(context.Background(), f.sess, []executor.FillRequest{
		{Field: "Color", Value: "Verde"},
		{Field: "pH", Value: "eliminar"},
		{Field: "Glucosa", Value: "101"},
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Filled)
	assert.Equal(t, executor.OutcomeOptionNotFound, batch.Results[0].Outcome)
	assert.Contains(t, batch.Results[0].Error, "Amarillo Claro")
	assert.Equal(t, executor.OutcomeForbidden, batch.Results[1].Outcome)
	assert.Len(t, *seen, 1, "only the valid item reached the page")
}

func TestFillFields_StrictLabels(t *testing.T) {
	f := newFixture(t, executor.Options{StrictLabels: true})
	f.serveResultsForm(t)
	f.acceptFills()

	batch, err := f.exec.FillFields(context.Background(), f.sess, []executor.FillRequest{{Field: "Gluc", Value: "90"}}, false)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeFieldNotFound, batch.Results[0].Outcome)
}

func TestFillFields_UnreadableForm(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.page.MarkClosed()

	batch, err := f.exec.FillFields(context.Background(), f.sess, []executor.FillRequest{{Field: "pH", Value: "7"}, {Field: "Color", Value: "O"}}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Failed)
	for _, m := range batch.Results {
		assert.Equal(t, executor.OutcomeFailed, m.Outcome)
	}
}
