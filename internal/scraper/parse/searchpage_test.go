package parse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

func TestSearchParserExtractsEntriesInPageOrder(t *testing.T) {
	p := InitSearchParser()
	out, err := p.Parse("https://auto.ria.com/search/?page=0", fixture(t, "search_page.html"))
	require.NoError(t, err)
	require.NotNil(t, out)

	ids := make([]string, 0, len(out.Entries))
	for _, e := range out.Entries {
		ids = append(ids, e.ExternalID)
	}
	assert.Equal(t, []string{"35871201", "35871145", "35870998"}, ids)

	// Relative hrefs resolve against the page URL.
	assert.Equal(t, "https://auto.ria.com/uk/auto_audi_q7_35871145.html", out.Entries[1].URL)
}

func TestSearchParserEmptyPage(t *testing.T) {
	p := InitSearchParser()
	out, err := p.Parse("https://auto.ria.com/search/?page=99", []byte("<html><body><div id=\"searchResults\"></div></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, out.Entries)
}

func TestExternalID(t *testing.T) {
	assert.Equal(t, "35871201", ExternalID("https://auto.ria.com/uk/auto_bmw_x5_35871201.html"))
	assert.Equal(t, "12345", ExternalID("/auto_lanos_12345.html"))
	assert.Empty(t, ExternalID("https://auto.ria.com/news/"))
}

func TestNextPageURL(t *testing.T) {
	next, err := NextPageURL("https://auto.ria.com/search/?indexName=auto&page=3")
	require.NoError(t, err)
	assert.Contains(t, next, "page=4")

	// Missing page parameter counts as page 0.
	next, err = NextPageURL("https://auto.ria.com/search/?indexName=auto")
	require.NoError(t, err)
	assert.Contains(t, next, "page=1")
}
