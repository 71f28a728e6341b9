package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/growth"
	"github.com/ignite/repogrowth/internal/pkg/httputil"
	"github.com/ignite/repogrowth/internal/service/digest"
	"github.com/ignite/repogrowth/internal/service/repos"
)

const defaultMaxUploadBytes = 32 << 20

// Handlers holds the HTTP handlers.
type Handlers struct {
	engine         *growth.Engine
	digests        *digest.Scheduler
	maxUploadBytes int64
}

// NewHandlers wires handlers. digests may be nil when the digest scheduler
// runs elsewhere; digest routes then answer 503.
func NewHandlers(engine *growth.Engine, digests *digest.Scheduler, maxUploadBytes int64) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handlers{engine: engine, digests: digests, maxUploadBytes: maxUploadBytes}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

type createRepositoryRequest struct {
	Name       string               `json:"name"`
	Moderators []string             `json:"moderators,omitempty"`
	FeedURL    string               `json:"feed_url,omitempty"`
	Growth     *domain.GrowthConfig `json:"growth,omitempty"`
}

// CreateRepository creates a repository owned by the caller.
func (h *Handlers) CreateRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepositoryRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	repo, err := h.engine.Repositories().Create(r.Context(), repos.CreateInput{
		Name:       req.Name,
		OwnerID:    actorFrom(r),
		Moderators: req.Moderators,
		FeedURL:    req.FeedURL,
		Growth:     req.Growth,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, repo)
}

// GetRepository returns one repository.
func (h *Handlers) GetRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := h.engine.Repositories().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, repo)
}

// UpdateGrowth replaces the growth config.
func (h *Handlers) UpdateGrowth(w http.ResponseWriter, r *http.Request) {
	var g domain.GrowthConfig
	if !httputil.Decode(w, r, &g) {
		return
	}
	repo, err := h.engine.Repositories().UpdateGrowth(r.Context(), chi.URLParam(r, "id"), actorFrom(r), g)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, repo)
}

// SetModerators replaces the moderator list.
func (h *Handlers) SetModerators(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Moderators []string `json:"moderators"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	repo, err := h.engine.Repositories().SetModerators(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Moderators)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, repo)
}

// ArchiveRepository soft-archives a repository.
func (h *Handlers) ArchiveRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := h.engine.Repositories().Archive(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, repo)
}

// ExecuteCommand runs an inbound-email command line on behalf of the
// caller. EXPORT replies with the CSV itself.
func (h *Handlers) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	cmd, err := growth.ParseCommand(req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	reply, err := h.engine.Execute(r.Context(), actorFrom(r), cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	switch {
	case reply.CSV != nil:
		httputil.CSV(w, "export.csv", reply.CSV)
	case reply.Stats != nil:
		httputil.OK(w, reply.Stats)
	default:
		httputil.OK(w, reply.Admission)
	}
}
