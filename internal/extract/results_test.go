package extract_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/labcore/internal/extract"
)

func TestExtractResults_Strict(t *testing.T) {
	form := extract.ExtractResults(loadFixture(t, "results.html"))
	assert.Equal(t, "strict", form.Tier)

	want := []extract.ExamSection{
		{
			Name:       "UROANALISIS",
			Status:     extract.ExamPending,
			SampleType: "Orina",
			Fields: []extract.Field{
				{Name: "Color", Kind: extract.KindSelect, CurrentValue: "Amarillo", Options: []string{"Amarillo", "Amarillo Claro", "Transparente"}, Control: 1},
				{Name: "Aspecto", Kind: extract.KindSelect, CurrentValue: "", Options: []string{"Transparente", "Turbio"}, Control: 2},
				{Name: "pH", Kind: extract.KindText, CurrentValue: "6.0", ReferenceRange: "5.0 - 8.0", Control: 3},
			},
		},
		{
			Name:       "GLUCOSA BASAL",
			Status:     extract.ExamValidated,
			SampleType: "Suero",
			Fields: []extract.Field{
				{Name: "Glucosa", Kind: extract.KindText, CurrentValue: "", ReferenceRange: "70 - 110 mg/dL", Control: 4},
				{Name: "Glucosa en ayunas", Kind: extract.KindText, CurrentValue: "95", ReferenceRange: "70 - 100 mg/dL", Control: 5},
			},
		},
	}
	if diff := cmp.Diff(want, form.Exams); diff != "" {
		t.Errorf("ExtractResults() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractResults_SkipsRowsWithoutControls(t *testing.T) {
	form := extract.ExtractResults(loadFixture(t, "results.html"))
	for _, exam := range form.Exams {
		for _, f := range exam.Fields {
			assert.NotEqual(t, "Observaciones", f.Name, "a row with no control is not actionable")
		}
	}
}

func TestExtractResults_SelectValueIsAnOption(t *testing.T) {
	form := extract.ExtractResults(loadFixture(t, "results.html"))
	for _, exam := range form.Exams {
		for _, f := range exam.Fields {
			if f.Kind != extract.KindSelect || f.CurrentValue == "" {
				continue
			}
			assert.Contains(t, f.Options, f.CurrentValue)
		}
	}
}

func TestExtractResults_StructuralFallback(t *testing.T) {
	form := extract.ExtractResults(loadFixture(t, "results_bold.html"))
	assert.Equal(t, "structural", form.Tier)
	require.Len(t, form.Exams, 2)

	assert.Equal(t, "BIOMETRIA HEMATICA", form.Exams[0].Name)
	assert.Equal(t, "Sangre total", form.Exams[0].SampleType)
	require.Len(t, form.Exams[0].Fields, 2)
	assert.Equal(t, "Hemoglobina", form.Exams[0].Fields[0].Name)
	assert.Equal(t, "14.2", form.Exams[0].Fields[0].CurrentValue)
	assert.Equal(t, "12 - 16 g/dL", form.Exams[0].Fields[0].ReferenceRange)

	grupo := form.Exams[1].Fields[0]
	assert.Equal(t, "Grupo", grupo.Name)
	assert.Equal(t, extract.KindSelect, grupo.Kind)
	assert.Equal(t, []string{"A", "O"}, grupo.Options)
	assert.Equal(t, "O", grupo.CurrentValue)
	assert.Equal(t, 2, grupo.Control)
}

func TestExtractResults_GenericFallback(t *testing.T) {
	form := extract.ExtractResults(loadFixture(t, "results_plain.html"))
	assert.Equal(t, "generic", form.Tier)
	require.Len(t, form.Exams, 1)
	assert.Equal(t, "Quimica", form.Exams[0].Name)
	require.Len(t, form.Exams[0].Fields, 2)
	assert.Equal(t, "< 200", form.Exams[0].Fields[0].ReferenceRange)
	assert.Equal(t, "Trigliceridos", form.Exams[0].Fields[1].Name)
}

func TestExtractResults_EachTierStandsAlone(t *testing.T) {
	doc := loadFixture(t, "results_bold.html")
	tiers := map[string]bool{}
	for _, tier := range extract.ResultTiers {
		_, ok := tier.Extract(doc)
		tiers[tier.Name] = ok
	}
	assert.Equal(t, map[string]bool{"strict": false, "structural": true, "generic": true}, tiers)
}

func TestExtractResults_UnknownPage(t *testing.T) {
	form := extract.ExtractResults(parseHTML(t, `<html><body><p>Sesion expirada</p></body></html>`))
	assert.Empty(t, form.Exams)
	assert.NotNil(t, form.Exams, "empty results encode as [] for the agent")
	assert.Equal(t, "", form.Tier)
}

func TestExtractResults_IgnoresDiffBadges(t *testing.T) {
	doc := parseHTML(t, `<table>
		<tr class="examen-header" data-examen="EMO"><td><b>EMO</b></td></tr>
		<tr><td>Color</td><td><input value="Rojo"><span class="labcore-diff-badge">Amarillo → Rojo</span></td><td>Amarillo</td></tr>
	</table>`)

	form := extract.ExtractResults(doc)
	require.Len(t, form.Exams, 1)
	require.Len(t, form.Exams[0].Fields, 1)
	assert.Equal(t, "Rojo", form.Exams[0].Fields[0].CurrentValue)
	assert.Equal(t, "Amarillo", form.Exams[0].Fields[0].ReferenceRange)
}

func TestExtractResults_Idempotent(t *testing.T) {
	doc := loadFixture(t, "results.html")
	a, err := extract.MarshalRecord(extract.ExtractResults(doc))
	require.NoError(t, err)
	b, err := extract.MarshalRecord(extract.ExtractResults(doc))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
