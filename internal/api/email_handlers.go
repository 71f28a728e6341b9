package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/repogrowth/internal/growth"
	"github.com/ignite/repogrowth/internal/pkg/httputil"
	"github.com/ignite/repogrowth/internal/service/admission"
)

// AdmitEmail handles POST /repositories/{id}/emails. A new member answers
// 201; every other outcome, including duplicates and review, answers 200
// with the outcome in the body.
func (h *Handlers) AdmitEmail(w http.ResponseWriter, r *http.Request) {
	var in growth.AdmitInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	res, err := h.engine.Admit(r.Context(), chi.URLParam(r, "id"), actorFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Outcome == admission.OutcomeAdded {
		httputil.Created(w, res)
		return
	}
	httputil.OK(w, res)
}

// RemoveEmail deactivates an address on behalf of the owner or a moderator.
func (h *Handlers) RemoveEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Remove(r.Context(), chi.URLParam(r, "id"), actorFrom(r), chi.URLParam(r, "email")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// EmailHistory returns the provenance log of one address.
func (h *Handlers) EmailHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.engine.History(r.Context(), chi.URLParam(r, "id"), actorFrom(r), chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"events": hist})
}

// Unsubscribe records an opt-out by the address itself or a moderator.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.engine.UnsubscribeAs(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Email); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// Stats summarizes the ledger.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, st)
}

// ListReviews returns the review queue.
func (h *Handlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	rows, err := h.engine.PendingReviews(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"pending": rows, "count": len(rows)})
}

// ApproveReview activates a queued address.
func (h *Handlers) ApproveReview(w http.ResponseWriter, r *http.Request) {
	row, err := h.engine.ApproveReview(r.Context(), chi.URLParam(r, "id"), actorFrom(r), chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, row)
}

// DismissReview drops a queued address.
func (h *Handlers) DismissReview(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DismissReview(r.Context(), chi.URLParam(r, "id"), actorFrom(r), chi.URLParam(r, "email")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

type forwardRequest struct {
	Referrer string `json:"referrer"`
	Referred string `json:"referred"`
}

// ObserveForward ingests one snowball referral.
func (h *Handlers) ObserveForward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.engine.Forward(r.Context(), chi.URLParam(r, "id"), req.Referrer, req.Referred, time.Time{})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}
