package tracking

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/pkg/httputil"
	"github.com/ignite/repogrowth/internal/pkg/logger"
)

const publishTimeout = 5 * time.Second

const unsubscribedPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body><p>%s will no longer receive this digest.</p></body></html>`

// Handler serves the public tracking endpoints. It only enqueues; the
// consumer applies the events.
type Handler struct {
	pub *Publisher
}

// NewHandler creates a handler publishing through pub.
func NewHandler(pub *Publisher) *Handler {
	return &Handler{pub: pub}
}

// Routes returns the tracking router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/unsubscribe", h.HandleUnsubscribe)
	r.Post("/forward", h.HandleForward)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleUnsubscribe handles the digest footer link
// (?repository=<id>&email=<address>).
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	repoID, email := q.Get("repository"), q.Get("email")
	addr, err := datanorm.Normalize(email)
	if repoID == "" || err != nil {
		httputil.BadRequest(w, "invalid unsubscribe link")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), publishTimeout)
	defer cancel()
	if err := h.pub.Publish(ctx, Event{EventType: EventUnsubscribe, RepositoryID: repoID, Email: addr}); err != nil {
		logger.Error("publish unsubscribe failed", "repository_id", repoID, "email", addr, "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "please try again later")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, unsubscribedPage, html.EscapeString(addr))
}

type forwardRequest struct {
	RepositoryID string    `json:"repository_id"`
	Referrer     string    `json:"referrer"`
	Referred     string    `json:"referred"`
	At           time.Time `json:"at"`
}

// HandleForward accepts a forward observed by an inbound mail relay.
func (h *Handler) HandleForward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.RepositoryID == "" || req.Referrer == "" || req.Referred == "" {
		httputil.BadRequest(w, "repository_id, referrer and referred are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), publishTimeout)
	defer cancel()
	err := h.pub.Publish(ctx, Event{
		EventType:    EventForward,
		RepositoryID: req.RepositoryID,
		Referrer:     req.Referrer,
		Referred:     req.Referred,
		Timestamp:    req.At,
	})
	if err != nil {
		logger.Error("publish forward failed", "repository_id", req.RepositoryID, "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "please try again later")
		return
	}
	httputil.Accepted(w, map[string]string{"status": "queued"})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

