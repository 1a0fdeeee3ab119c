package extract_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/labcore/internal/extract"
)

func loadFixture(t *testing.T, name string) *html.Node {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer f.Close()
	doc, err := extract.Parse(f)
	require.NoError(t, err)
	return doc
}

func parseHTML(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := extract.ParseString(s)
	require.NoError(t, err)
	return doc
}

func int64p(v int64) *int64 { return &v }

func strp(s string) *string { return &s }
