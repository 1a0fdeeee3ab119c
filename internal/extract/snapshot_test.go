package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/labcore/internal/extract"
)

func TestSnapshot(t *testing.T) {
	form := extract.ExtractResults(loadFixture(t, "results.html"))

	snap := extract.Snapshot(form.Exams)
	assert.Equal(t, map[string]string{
		"UROANALISIS::Color":               "Amarillo",
		"UROANALISIS::Aspecto":             "",
		"UROANALISIS::pH":                  "6.0",
		"GLUCOSA BASAL::Glucosa":           "",
		"GLUCOSA BASAL::Glucosa en ayunas": "95",
	}, snap)
}

func TestSnapshot_RepeatedLabels(t *testing.T) {
	exams := []extract.ExamSection{{
		Name: "EMO",
		Fields: []extract.Field{
			{Name: "Cristales", CurrentValue: "Oxalato"},
			{Name: "Cristales", CurrentValue: "Urato"},
		},
	}}
	assert.Equal(t, map[string]string{
		"EMO::Cristales":   "Oxalato",
		"EMO::Cristales#2": "Urato",
	}, extract.Snapshot(exams))
}
