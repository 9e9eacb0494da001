package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

func TestValidateURLForSSRFRejectsLocalhost(t *testing.T) {
	err := validateURLForSSRF("http://localhost:8080/admin")
	require.Error(t, err)
}

func TestValidateURLForSSRFRejectsMetadataAddress(t *testing.T) {
	err := validateURLForSSRF("http://169.254.169.254/latest/meta-data/")
	require.Error(t, err)
}

func TestValidateURLForSSRFRejectsNonHTTPScheme(t *testing.T) {
	err := validateURLForSSRF("file:///etc/passwd")
	require.Error(t, err)
}

func TestValidateURLForSSRFAllowsOrdinaryHTTPS(t *testing.T) {
	err := validateURLForSSRF("https://example.com/article")
	assert.NoError(t, err)
}

func TestStripHTMLRemovesScriptAndStyleBlocks(t *testing.T) {
	html := `<html><head><style>.x{color:red}</style></head><body>
<script>alert(1)</script>
<p>Hello <b>world</b></p>
</body></html>`
	out := stripHTML(html)
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "color:red")
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "world")
}

func TestStripHTMLDecodesEntities(t *testing.T) {
	out := stripHTML("<p>Tom &amp; Jerry &mdash; &quot;fun&quot;</p>")
	assert.Contains(t, out, "Tom & Jerry")
}

func TestStripHTMLCollapsesBlankLines(t *testing.T) {
	html := "<p>one</p>\n\n\n\n<p>two</p>"
	out := stripHTML(html)
	assert.NotContains(t, out, "\n\n\n")
}

func TestNewSearchToolReturnsNilWhenUnconfigured(t *testing.T) {
	tl := NewSearchTool(settings.WebSearchConfig{})
	assert.Nil(t, tl)
}

func TestSearchToolExecuteFetchesAndExtractsResults(t *testing.T) {
	pageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>Result body text</p></body></html>"))
	}))
	defer pageSrv.Close()

	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"Example","url":"` + pageSrv.URL + `"}]}`))
	}))
	defer searchSrv.Close()

	st := NewSearchTool(settings.WebSearchConfig{Endpoint: searchSrv.URL})
	require.NotNil(t, st)

	result, err := st.Execute(context.Background(), tool.Context{}, []byte(`{"query":"test"}`))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Response, "Example")
	assert.Contains(t, result.Response, "Result body text")
}

func TestSearchToolExecuteRequiresQuery(t *testing.T) {
	st := &SearchTool{cfg: settings.WebSearchConfig{Endpoint: "http://example.com"}}
	result, err := st.Execute(context.Background(), tool.Context{}, []byte(`{"query":""}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
