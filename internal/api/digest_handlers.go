package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/repogrowth/internal/pkg/httputil"
)

// ListDigests returns recent digest jobs. Jobs carry recipient snapshots,
// so only the owner and moderators may list them.
func (h *Handlers) ListDigests(w http.ResponseWriter, r *http.Request) {
	if h.digests == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "digest scheduler not configured")
		return
	}
	repo, err := h.engine.Authorize(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.digests.List(r.Context(), repo.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"jobs": jobs})
}

// RunDigest builds and dispatches the last completed period now. Owner or
// moderator only. Running it twice for the same period is harmless.
func (h *Handlers) RunDigest(w http.ResponseWriter, r *http.Request) {
	if h.digests == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "digest scheduler not configured")
		return
	}
	repo, err := h.engine.Authorize(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := h.digests.RunDue(r.Context(), repo)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, job)
}
