package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/httputil"
	"github.com/ignite/repogrowth/internal/service/csvexport"
	"github.com/ignite/repogrowth/internal/service/csvimport"
)

// UploadCSV handles the multipart upload (form field "file"). By default
// the import runs inline and the final summary is returned; with
// ?async=true the import is queued and 202 carries the pending record.
func (h *Handlers) UploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		httputil.BadRequest(w, "file too large or not a multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "file is required")
		return
	}
	defer file.Close()

	id, actor := chi.URLParam(r, "id"), actorFrom(r)

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		data, err := io.ReadAll(file)
		if err != nil {
			httputil.BadRequest(w, "could not read upload")
			return
		}
		imp, err := h.engine.StartImport(r.Context(), id, actor, header.Filename, data)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.Accepted(w, imp)
		return
	}

	imp, err := h.engine.ImportCSV(r.Context(), id, actor, header.Filename, file)
	if err != nil {
		if imp != nil && (errors.Is(err, csvimport.ErrSchema) || errors.Is(err, csvimport.ErrUnreadable)) {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, csvimport.ErrUnreadable) {
				status = http.StatusBadRequest
			}
			httputil.JSON(w, status, map[string]any{"error": err.Error(), "import": imp})
			return
		}
		writeError(w, err)
		return
	}
	httputil.OK(w, imp)
}

// ListImports returns recent imports. Owner or moderator only.
func (h *Handlers) ListImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	imps, err := h.engine.ListImports(r.Context(), chi.URLParam(r, "id"), actorFrom(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"imports": imps})
}

// GetImport returns one import record.
func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	imp, err := h.engine.GetImport(r.Context(), chi.URLParam(r, "id"), actorFrom(r), chi.URLParam(r, "importID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, imp)
}

// CancelImport stops a running import.
func (h *Handlers) CancelImport(w http.ResponseWriter, r *http.Request) {
	imp, err := h.engine.CancelImport(r.Context(), chi.URLParam(r, "id"), actorFrom(r), chi.URLParam(r, "importID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, imp)
}

// Export streams the CSV snapshot. Query parameters include_inactive,
// verified_only and source narrow it.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := csvexport.Filter{Source: domain.Source(q.Get("source"))}
	f.IncludeInactive, _ = strconv.ParseBool(q.Get("include_inactive"))
	f.VerifiedOnly, _ = strconv.ParseBool(q.Get("verified_only"))
	if f.Source != "" && !f.Source.Valid() {
		httputil.BadRequest(w, fmt.Sprintf("unknown source %q", f.Source))
		return
	}

	id := chi.URLParam(r, "id")
	body, err := h.engine.Export(r.Context(), id, actorFrom(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.CSV(w, "repository-"+id+".csv", body)
}
