package growth

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/admission"
	"github.com/ignite/repogrowth/internal/service/csvexport"
	"github.com/ignite/repogrowth/internal/service/csvimport"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

// Archiver keeps a copy of an export snapshot and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, repositoryID string, body []byte) (string, error)
}

// Deps are the services an Engine routes to. Archiver is optional.
type Deps struct {
	Repos     *repos.Service
	Admission *admission.Service
	Ledger    *ledger.Service
	Imports   *csvimport.Pipeline
	Exporter  *csvexport.Exporter
	Snowball  *snowball.Service
	Archiver  Archiver
}

// Engine is safe for concurrent use.
type Engine struct {
	repos     *repos.Service
	admission *admission.Service
	ledger    *ledger.Service
	imports   *csvimport.Pipeline
	exporter  *csvexport.Exporter
	snowball  *snowball.Service
	archiver  Archiver
}

// NewEngine wires an engine from its services.
func NewEngine(d Deps) *Engine {
	return &Engine{
		repos:     d.Repos,
		admission: d.Admission,
		ledger:    d.Ledger,
		imports:   d.Imports,
		exporter:  d.Exporter,
		snowball:  d.Snowball,
		archiver:  d.Archiver,
	}
}

// Repositories exposes the repository service.
func (e *Engine) Repositories() *repos.Service { return e.repos }

// AdmitInput is a single API admission.
type AdmitInput struct {
	Address  string            `json:"email"`
	Verified bool              `json:"verified"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Admit adds one address on behalf of actor with source api. Untrusted
// actors land in the review queue.
func (e *Engine) Admit(ctx context.Context, repositoryID, actor string, in AdmitInput) (admission.Result, error) {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return admission.Result{}, err
	}
	return e.admission.Admit(ctx, repo, admission.Request{
		Address:  in.Address,
		Source:   domain.SourceAPI,
		Actor:    actor,
		Verified: in.Verified,
		Tags:     in.Tags,
	})
}

// Stats summarizes the repository's ledger.
func (e *Engine) Stats(ctx context.Context, repositoryID string) (*domain.EmailStats, error) {
	if _, err := e.repos.Get(ctx, repositoryID); err != nil {
		return nil, err
	}
	return e.ledger.Stats(ctx, repositoryID)
}

// Export returns the CSV snapshot of the repository. Only the owner and
// moderators may export. When an archiver is configured a copy is stored;
// archive failures are logged and do not fail the export.
func (e *Engine) Export(ctx context.Context, repositoryID, actor string, f csvexport.Filter) ([]byte, error) {
	repo, err := e.trusted(ctx, repositoryID, actor)
	if err != nil {
		return nil, err
	}
	body, err := e.exporter.Export(ctx, repo, f)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if e.archiver != nil {
		if loc, err := e.archiver.Archive(ctx, repo.ID, body); err != nil {
			logger.Warn("growth: export archive failed", "repository_id", repo.ID, "error", err)
		} else {
			logger.Info("growth: export archived", "repository_id", repo.ID, "location", loc)
		}
	}
	return body, nil
}

// ImportCSV runs a synchronous import. Only the owner and moderators may
// import lists.
func (e *Engine) ImportCSV(ctx context.Context, repositoryID, actor, filename string, r io.Reader) (*domain.CSVImport, error) {
	repo, err := e.trusted(ctx, repositoryID, actor)
	if err != nil {
		return nil, err
	}
	if repo.IsArchived() {
		return nil, repos.ErrArchived
	}
	return e.imports.Import(ctx, repo, filename, r, actor)
}

// StartImport queues a background import of data.
func (e *Engine) StartImport(ctx context.Context, repositoryID, actor, filename string, data []byte) (*domain.CSVImport, error) {
	repo, err := e.trusted(ctx, repositoryID, actor)
	if err != nil {
		return nil, err
	}
	if repo.IsArchived() {
		return nil, repos.ErrArchived
	}
	return e.imports.Start(ctx, repo, filename, data, actor)
}

// ListImports returns recent imports. Owner or moderator only, since
// import records carry the rejected addresses.
func (e *Engine) ListImports(ctx context.Context, repositoryID, actor string, limit int) ([]*domain.CSVImport, error) {
	if _, err := e.trusted(ctx, repositoryID, actor); err != nil {
		return nil, err
	}
	return e.imports.List(ctx, repositoryID, limit)
}

// GetImport returns one import record. Owner or moderator only.
func (e *Engine) GetImport(ctx context.Context, repositoryID, actor, importID string) (*domain.CSVImport, error) {
	if _, err := e.trusted(ctx, repositoryID, actor); err != nil {
		return nil, err
	}
	return e.imports.Get(ctx, repositoryID, importID)
}

// CancelImport stops a running import. Owner or moderator only.
func (e *Engine) CancelImport(ctx context.Context, repositoryID, actor, importID string) (*domain.CSVImport, error) {
	if _, err := e.trusted(ctx, repositoryID, actor); err != nil {
		return nil, err
	}
	return e.imports.Cancel(ctx, repositoryID, importID)
}

// Authorize returns the repository when actor is its owner or a moderator.
func (e *Engine) Authorize(ctx context.Context, repositoryID, actor string) (*domain.Repository, error) {
	return e.trusted(ctx, repositoryID, actor)
}

// Forward records that referrer forwarded repository content to referred.
func (e *Engine) Forward(ctx context.Context, repositoryID, referrer, referred string, at time.Time) (snowball.Result, error) {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return snowball.Result{}, err
	}
	return e.snowball.Observe(ctx, repo, referrer, referred, at)
}

// RecoverSnowball re-runs snowball evaluations abandoned for longer than
// maxAge.
func (e *Engine) RecoverSnowball(ctx context.Context, maxAge time.Duration) (int, error) {
	return e.snowball.RecoverStale(ctx, e.repos, maxAge)
}

// PendingReviews lists the review queue.
func (e *Engine) PendingReviews(ctx context.Context, repositoryID, actor string) ([]*domain.RepositoryEmail, error) {
	repo, err := e.trusted(ctx, repositoryID, actor)
	if err != nil {
		return nil, err
	}
	return e.admission.PendingReviews(ctx, repo)
}

// ApproveReview activates a queued address.
func (e *Engine) ApproveReview(ctx context.Context, repositoryID, actor, address string) (*domain.RepositoryEmail, error) {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	return e.admission.ApproveReview(ctx, repo, address, actor)
}

// DismissReview drops a queued address from the queue.
func (e *Engine) DismissReview(ctx context.Context, repositoryID, actor, address string) error {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return err
	}
	return e.admission.DismissReview(ctx, repo, address, actor)
}

// Remove takes an address out of the active set. Owner or moderator only.
func (e *Engine) Remove(ctx context.Context, repositoryID, actor, address string) error {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return err
	}
	return e.admission.Remove(ctx, repo, address, actor)
}

// Unsubscribe is the address owner's opt-out.
func (e *Engine) Unsubscribe(ctx context.Context, repositoryID, address string) error {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return err
	}
	return e.admission.Unsubscribe(ctx, repo, address)
}

// UnsubscribeAs is an opt-out requested through the API. The actor must be
// the address itself or an owner or moderator.
func (e *Engine) UnsubscribeAs(ctx context.Context, repositoryID, actor, address string) error {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return err
	}
	if !repo.IsTrusted(actor) && !sameAddress(actor, address) {
		return repos.ErrNotAuthorized
	}
	return e.admission.Unsubscribe(ctx, repo, address)
}

func sameAddress(a, b string) bool {
	na, err := datanorm.Normalize(a)
	if err != nil {
		return false
	}
	nb, err := datanorm.Normalize(b)
	if err != nil {
		return false
	}
	return datanorm.DedupKey(na) == datanorm.DedupKey(nb)
}

// History returns the provenance log of one address.
func (e *Engine) History(ctx context.Context, repositoryID, actor, address string) ([]domain.ProvenanceEvent, error) {
	if _, err := e.trusted(ctx, repositoryID, actor); err != nil {
		return nil, err
	}
	return e.ledger.History(ctx, repositoryID, address)
}

func (e *Engine) trusted(ctx context.Context, repositoryID, actor string) (*domain.Repository, error) {
	repo, err := e.repos.Get(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if !repo.IsTrusted(actor) {
		return nil, repos.ErrNotAuthorized
	}
	return repo, nil
}
