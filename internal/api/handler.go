// Package api provides the HTTP surface for loading sources, filtering the
// active table, exporting results, and watching progress.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"flexreport/internal/cache"
	"flexreport/internal/config"
	"flexreport/internal/domain"
	"flexreport/internal/export"
	"flexreport/internal/filter"
	"flexreport/internal/loader"
	"flexreport/internal/progress"
)

// defaultPageSize applies when a filter request omits page_size.
const defaultPageSize = 50

// maxUploadBytes caps identifier list uploads.
const maxUploadBytes = 20 << 20

// Handler serves the REST API.
type Handler struct {
	loader      *loader.Loader
	filters     *filter.Service
	exports     *export.Service
	cache       *cache.Cache
	registry    *config.Registry
	broadcaster *progress.Broadcaster
	prefs       *loader.PrefStore
	logger      *slog.Logger
}

// NewHandler creates a Handler over the wired services.
func NewHandler(
	l *loader.Loader,
	filters *filter.Service,
	exports *export.Service,
	c *cache.Cache,
	registry *config.Registry,
	b *progress.Broadcaster,
	prefs *loader.PrefStore,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		loader:      l,
		filters:     filters,
		exports:     exports,
		cache:       c,
		registry:    registry,
		broadcaster: b,
		prefs:       prefs,
		logger:      logger.With("component", "api"),
	}
}

// Routes mounts every endpoint on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", h.listSources)
		r.Put("/sources/{name}/columns", h.saveColumns)

		r.Post("/data/load", h.loadData)
		r.Post("/data/refresh", h.refreshData)

		r.Post("/filters/apply", h.applyFilters)
		r.Post("/filters/upload/{kind}", h.uploadList)
		r.Delete("/filters/upload/{kind}", h.clearList)

		r.Post("/export/excel", h.exportExcel)
		r.Post("/export/csv", h.exportCSV)
		r.Post("/export/cancel", h.cancelExport)

		r.Get("/cache/status", h.cacheStatus)
		r.Delete("/cache/{name}", h.clearCache)

		r.Get("/progress", h.progressStream)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sourceSummary is the list representation of a configured source.
type sourceSummary struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Cacheable      bool     `json:"cacheable"`
	DefaultColumns []string `json:"default_columns,omitempty"`
	Enriched       bool     `json:"enriched"`
}

func (h *Handler) listSources(w http.ResponseWriter, _ *http.Request) {
	sources := h.registry.All()
	out := make([]sourceSummary, 0, len(sources))
	for _, src := range sources {
		out = append(out, sourceSummary{
			Name:           src.DisplayName,
			Type:           string(src.Type),
			Cacheable:      src.Cacheable,
			DefaultColumns: src.Filter.DefaultColumns,
			Enriched:       src.Enrichment != nil,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"sources": out})
}

type saveColumnsRequest struct {
	Columns []string `json:"columns"`
}

func (h *Handler) saveColumns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.registry.Lookup(name); !ok {
		h.writeError(w, domain.ErrNotFound("unknown source %q", name))
		return
	}
	var req saveColumnsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("decode request body: %v", err))
		return
	}
	h.prefs.Set(name, req.Columns)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"source": name, "columns": req.Columns})
}

type loadRequest struct {
	Source  string   `json:"source"`
	Columns []string `json:"columns,omitempty"`
}

func (h *Handler) loadData(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("decode request body: %v", err))
		return
	}
	if req.Source == "" {
		h.writeError(w, domain.ErrValidation("source is required"))
		return
	}
	result, err := h.loader.Load(r.Context(), req.Source, req.Columns)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) refreshData(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("decode request body: %v", err))
		return
	}
	if req.Source == "" {
		h.writeError(w, domain.ErrValidation("source is required"))
		return
	}
	result, err := h.loader.Refresh(r.Context(), req.Source, req.Columns)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) applyFilters(w http.ResponseWriter, r *http.Request) {
	var req domain.FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("decode request body: %v", err))
		return
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	var result *domain.FilterResult
	err := h.loader.WithSession(func(sess *loader.Session) error {
		var err error
		result, err = h.filters.Apply(r.Context(), sess, &req)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) uploadList(w http.ResponseWriter, r *http.Request) {
	kind, err := filter.ParseListKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, domain.ErrValidation("parse multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, domain.ErrValidation("missing form file %q", "file"))
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		h.writeError(w, domain.ErrValidation("read upload: %v", err))
		return
	}

	values, err := filter.ParseIdentifierFile(header.Filename, data)
	if err != nil {
		h.writeError(w, domain.ErrValidation("parse %s: %v", header.Filename, err))
		return
	}
	h.filters.Lists().Set(kind, values)
	h.logger.Info("identifier list uploaded", "kind", string(kind), "file", header.Filename, "count", len(values))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"kind": string(kind), "count": len(values)})
}

func (h *Handler) clearList(w http.ResponseWriter, r *http.Request) {
	kind, err := filter.ParseListKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.filters.Lists().Clear(kind)
	h.writeJSON(w, http.StatusOK, map[string]string{"kind": string(kind)})
}

// exportRequest is a filter request plus export-only switches.
type exportRequest struct {
	domain.FilterRequest
	EnablePriorityColoring bool `json:"enable_priority_coloring,omitempty"`
}

func (h *Handler) exportExcel(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("decode request body: %v", err))
		return
	}

	path, downloadName, err := h.exports.Excel(r.Context(), &req.FilterRequest, req.EnablePriorityColoring)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer os.Remove(path) //nolint:errcheck

	f, err := os.Open(path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer f.Close() //nolint:errcheck

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName+`"`)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("excel download interrupted", "error", err)
	}
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("decode request body: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="reporte_filtrado.csv"`)
	if err := h.exports.CSV(r.Context(), &req.FilterRequest, w); err != nil {
		// Headers may already be on the wire; the truncated stream is the
		// only signal the client gets at this point.
		h.logger.Warn("csv export failed mid-stream", "error", err)
	}
}

func (h *Handler) cancelExport(w http.ResponseWriter, _ *http.Request) {
	h.exports.Canceller().Cancel()
	h.logger.Info("export cancellation requested")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

func (h *Handler) cacheStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": h.cache.Status()})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.cache.Clear(name) {
		h.writeError(w, domain.ErrNotFound("no cache entry for %q", name))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"cleared": name})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
