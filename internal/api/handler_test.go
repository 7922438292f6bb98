package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexreport/internal/cache"
	"flexreport/internal/config"
	"flexreport/internal/domain"
	"flexreport/internal/engine"
	"flexreport/internal/export"
	"flexreport/internal/fetch"
	"flexreport/internal/filter"
	"flexreport/internal/loader"
	"flexreport/internal/progress"
)

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	csvContent := "ean_hijo,depto,prioridad\nH1,Ropa,PRIORIDAD_1\nH2,Calzado,PRIORIDAD_2\n"
	require.NoError(t, os.WriteFile(path, []byte(csvContent), 0o644))

	registry, err := config.ParseRegistry([]byte(fmt.Sprintf(`
sources:
  - display_name: Datos
    source_type: local-file
    location: %s
    cacheable: true
    filter:
      filter_columns: [depto]
`, path)))
	require.NoError(t, err)

	cfg := &config.Config{
		FetchTimeout:      time.Minute,
		ProbeTimeout:      time.Second,
		LoadWorkers:       1,
		FilterOptionLimit: 100,
	}
	fetchers, err := fetch.NewDispatcher(cfg)
	require.NoError(t, err)

	store := cache.New(filepath.Join(dir, "cache"), time.Hour, nil)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck

	prefs := loader.NewPrefStore(filepath.Join(dir, "state"))
	broadcaster := progress.NewBroadcaster()
	ld := loader.New(cfg, registry, fetchers, store, broadcaster, prefs, nil, func() engine.Engine {
		return engine.NewMemEngine()
	})
	t.Cleanup(func() { ld.Close() }) //nolint:errcheck

	filters := filter.NewService(filter.NewListStore(), nil)
	exports := export.NewService(ld, filters, export.NewCanceller(), nil)

	h := NewHandler(ld, filters, exports, store, registry, broadcaster, prefs, nil)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, h
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data)) //nolint:gosec // test server URL
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestListSources(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/sources")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sources []sourceSummary `json:"sources"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "Datos", body.Sources[0].Name)
	assert.Equal(t, "local-file", body.Sources[0].Type)
	assert.True(t, body.Sources[0].Cacheable)
}

func TestLoadAndFilterFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/data/load", map[string]interface{}{"source": "Datos"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loadRes domain.LoadResult
	decodeBody(t, resp, &loadRes)
	assert.Equal(t, 2, loadRes.RowCount)
	assert.Equal(t, []string{"Calzado", "Ropa"}, loadRes.FilterOptions["depto"])

	resp = postJSON(t, srv.URL+"/api/filters/apply", map[string]interface{}{
		"value_filters": map[string][]string{"depto": {"Ropa"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var filterRes domain.FilterResult
	decodeBody(t, resp, &filterRes)
	assert.Equal(t, 1, filterRes.RowCountFiltered)
	require.Len(t, filterRes.Data, 1)
	assert.Equal(t, "H1", filterRes.Data[0]["ean_hijo"])
	// Omitted page_size falls back to the server default.
	assert.Equal(t, defaultPageSize, filterRes.PageSize)
}

func TestLoadValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/data/load", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	resp = postJSON(t, srv.URL+"/api/data/load", map[string]interface{}{"source": "desconocida"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestFilterBeforeLoad(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/filters/apply", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestUploadIdentifierList(t *testing.T) {
	srv, h := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "skus.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("H1\nH2\nH1\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/filters/upload/sku_hijo", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, []string{"H1", "H2"}, h.filters.Lists().Get(filter.ListSKUHijo))

	// Unknown kinds are rejected.
	resp, err = http.Post(srv.URL+"/api/filters/upload/colores", "multipart/form-data", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, srv.URL+"/api/filters/upload/sku_hijo", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
	assert.Empty(t, h.filters.Lists().Get(filter.ListSKUHijo))
}

func TestCacheEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/data/load", map[string]interface{}{"source": "Datos"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	resp, err := http.Get(srv.URL + "/api/cache/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Entries []cache.EntryStatus `json:"entries"`
	}
	decodeBody(t, resp, &status)
	require.Len(t, status.Entries, 1)
	assert.Equal(t, "Datos", status.Entries[0].SourceName)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, srv.URL+"/api/cache/Datos", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	// Deleting again is a 404.
	resp, err = http.DefaultClient.Do(req.Clone(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestExportCancelEndpoint(t *testing.T) {
	srv, h := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/export/cancel", map[string]interface{}{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
	assert.True(t, h.exports.Canceller().Cancelled())
}

func TestExportCSVEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/data/load", map[string]interface{}{"source": "Datos"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	resp = postJSON(t, srv.URL+"/api/export/csv", map[string]interface{}{
		"columns": []string{"ean_hijo"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close() //nolint:errcheck
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ean_hijo\nH1\nH2\n", buf.String())
}

func TestSaveColumnsEndpoint(t *testing.T) {
	srv, h := newTestServer(t)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, srv.URL+"/api/sources/Datos/columns",
		strings.NewReader(`{"columns":["ean_hijo"]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, []string{"ean_hijo"}, h.prefs.Get("Datos"))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound("x"), http.StatusNotFound},
		{domain.ErrValidation("x"), http.StatusBadRequest},
		{domain.ErrSourceUnavailable("x"), http.StatusBadGateway},
		{domain.ErrSchemaMismatch("f", nil, nil), http.StatusUnprocessableEntity},
		{domain.ErrEmptyResult("x"), http.StatusUnprocessableEntity},
		{domain.ErrCancelled("x"), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, httpStatusFromDomainError(tc.err), "%v", tc.err)
	}
}
