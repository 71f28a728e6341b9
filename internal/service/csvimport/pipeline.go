package csvimport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/admission"
	"github.com/ignite/repogrowth/internal/service/ledger"
)

const (
	defaultConcurrency   = 8
	defaultProgressEvery = 1000
	lockStripes          = 64
)

// Admitter is the admission path rows are fed into.
type Admitter interface {
	Admit(ctx context.Context, repo *domain.Repository, req admission.Request) (admission.Result, error)
}

// Options tunes a Pipeline.
type Options struct {
	Concurrency   int
	ProgressEvery int
}

// Pipeline runs CSV imports. It is safe for concurrent use.
type Pipeline struct {
	store    Store
	admitter Admitter
	opts     Options
	now      func() time.Time

	stripes [lockStripes]sync.Mutex

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline.
func NewPipeline(store Store, admitter Admitter, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	return &Pipeline{
		store:    store,
		admitter: admitter,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]context.CancelFunc),
	}
}

// Import processes the file synchronously and returns the final record.
// Structural failures return the failed record together with an error
// wrapping ErrSchema or ErrUnreadable.
func (p *Pipeline) Import(ctx context.Context, repo *domain.Repository, filename string, r io.Reader, importer string) (*domain.CSVImport, error) {
	imp, err := p.create(ctx, repo, filename, importer)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := p.register(ctx, imp.ID)
	defer p.unregister(imp.ID, cancel)
	return p.run(runCtx, repo, imp, r)
}

// Start records a pending import and processes data in the background. The
// caller polls Get for progress.
func (p *Pipeline) Start(ctx context.Context, repo *domain.Repository, filename string, data []byte, importer string) (*domain.CSVImport, error) {
	imp, err := p.create(ctx, repo, filename, importer)
	if err != nil {
		return nil, err
	}
	snapshot := *imp

	runCtx, cancel := p.register(context.WithoutCancel(ctx), imp.ID)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.unregister(imp.ID, cancel)
		if _, err := p.run(runCtx, repo, imp, bytes.NewReader(data)); err != nil {
			logger.Warn("csvimport: import failed", "import_id", imp.ID, "repository_id", repo.ID, "error", err)
		}
	}()
	return &snapshot, nil
}

// Wait blocks until every background import has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Cancel stops a running import. Rows already admitted stay admitted.
func (p *Pipeline) Cancel(ctx context.Context, repositoryID, importID string) (*domain.CSVImport, error) {
	imp, err := p.store.Get(ctx, repositoryID, importID)
	if err != nil {
		return nil, err
	}
	if imp.Status.Terminal() {
		return imp, ErrImportFrozen
	}

	p.mu.Lock()
	cancel, ok := p.running[importID]
	p.mu.Unlock()
	if ok {
		cancel()
		return imp, nil
	}

	// Not running here (e.g. the process restarted): close it out directly.
	now := p.now()
	imp.Status = domain.ImportCancelled
	imp.FailureReason = "cancelled before processing"
	imp.CompletedAt = &now
	if err := p.store.Update(ctx, imp); err != nil {
		return nil, err
	}
	return imp, nil
}

// Get returns an import record.
func (p *Pipeline) Get(ctx context.Context, repositoryID, importID string) (*domain.CSVImport, error) {
	return p.store.Get(ctx, repositoryID, importID)
}

// List returns recent imports for a repository.
func (p *Pipeline) List(ctx context.Context, repositoryID string, limit int) ([]*domain.CSVImport, error) {
	return p.store.List(ctx, repositoryID, limit)
}

func (p *Pipeline) create(ctx context.Context, repo *domain.Repository, filename, importer string) (*domain.CSVImport, error) {
	imp := &domain.CSVImport{
		ID:           uuid.New().String(),
		RepositoryID: repo.ID,
		ImportedBy:   importer,
		Filename:     filename,
		Errors:       []domain.CSVError{},
		Status:       domain.ImportPending,
		CreatedAt:    p.now(),
	}
	if err := p.store.Create(ctx, imp); err != nil {
		return nil, fmt.Errorf("create import: %w", err)
	}
	return imp, nil
}

func (p *Pipeline) register(parent context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.running[id] = cancel
	p.mu.Unlock()
	return ctx, cancel
}

func (p *Pipeline) unregister(id string, cancel context.CancelFunc) {
	p.mu.Lock()
	delete(p.running, id)
	p.mu.Unlock()
	cancel()
}

type dataRow struct {
	num   int
	cells []string
	err   error
}

func (p *Pipeline) run(ctx context.Context, repo *domain.Repository, imp *domain.CSVImport, r io.Reader) (*domain.CSVImport, error) {
	start := time.Now()

	reader := csv.NewReader(bufio.NewReader(stripBOM(r)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return p.fail(ctx, imp, fmt.Errorf("%w: file is empty", ErrSchema))
		}
		return p.fail(ctx, imp, fmt.Errorf("%w: %v", ErrUnreadable, err))
	}
	mapping := datanorm.MapColumns(header)
	if mapping == nil {
		return p.fail(ctx, imp, fmt.Errorf("%w: header %v", ErrSchema, header))
	}

	// Rows are numbered by the file line they start on, relative to the
	// header, so blank lines and multi-line quoted cells keep the numbers
	// aligned with what the user sees in an editor.
	headerLine, _ := reader.FieldPos(0)

	var rows []dataRow
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var line int
		var pe *csv.ParseError
		switch {
		case err == nil:
			line, _ = reader.FieldPos(0)
		case errors.As(err, &pe):
			line = pe.StartLine
		default:
			return p.fail(ctx, imp, fmt.Errorf("%w: %v", ErrUnreadable, err))
		}
		rows = append(rows, dataRow{num: line - headerLine, cells: rec, err: err})
	}

	imp.Status = domain.ImportProcessing
	imp.RowCount = len(rows)
	if err := p.store.Update(ctx, imp); err != nil {
		return imp, fmt.Errorf("mark processing: %w", err)
	}

	t := &tally{imp: imp}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for _, row := range rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := p.processRow(gctx, repo, mapping, row, imp.ImportedBy, t); err != nil {
				return err
			}
			if n := t.processed(); n%p.opts.ProgressEvery == 0 {
				p.saveProgress(ctx, t)
			}
			return nil
		})
	}
	runErr := g.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	sort.Slice(imp.Errors, func(i, j int) bool { return imp.Errors[i].Row < imp.Errors[j].Row })
	now := p.now()
	imp.CompletedAt = &now

	switch {
	case runErr != nil && ctx.Err() == nil:
		imp.Status = domain.ImportFailed
		imp.FailureReason = runErr.Error()
	case ctx.Err() != nil:
		imp.Status = domain.ImportCancelled
		imp.FailureReason = "cancelled"
	default:
		imp.Status = domain.ImportCompleted
	}

	if err := p.store.Update(context.WithoutCancel(ctx), imp); err != nil {
		return imp, fmt.Errorf("finalize import: %w", err)
	}

	logger.Info("csvimport: finished",
		"import_id", imp.ID, "repository_id", repo.ID, "status", string(imp.Status),
		"rows", imp.RowCount, "success", imp.SuccessCount, "duplicates", imp.DuplicateCount,
		"review", imp.ReviewCount, "errors", imp.ErrorCount, "duration", time.Since(start).String())

	cp := *imp
	cp.Errors = append([]domain.CSVError(nil), imp.Errors...)
	if imp.Status == domain.ImportFailed {
		return &cp, runErr
	}
	return &cp, nil
}

func (p *Pipeline) processRow(ctx context.Context, repo *domain.Repository, m *datanorm.ColumnMapping, row dataRow, importer string, t *tally) error {
	if row.err != nil {
		t.rowError(row.num, "", row.err.Error())
		return nil
	}
	fields := datanorm.NormalizeRow(row.cells, m)

	addr, err := datanorm.Normalize(fields.Email)
	if err != nil {
		t.rowError(row.num, fields.Email, err.Error())
		return nil
	}

	unlock := p.lockKey(datanorm.DedupKey(addr))
	res, err := p.admitter.Admit(ctx, repo, admission.Request{
		Address:  addr,
		Source:   domain.SourceCSV,
		Actor:    importer,
		Verified: fields.HasVerified && fields.Verified,
		Tags:     fields.Tags,
	})
	unlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if rowLocal(err) {
			t.rowError(row.num, addr, err.Error())
			return nil
		}
		return fmt.Errorf("row %d: %w", row.num, err)
	}

	switch res.Outcome {
	case admission.OutcomeAdded, admission.OutcomeReactivated:
		t.success()
	case admission.OutcomeDuplicate:
		t.duplicate()
	case admission.OutcomeReview:
		t.review(row.num, addr, string(res.Reason))
	default:
		t.rowError(row.num, addr, string(res.Reason))
	}
	return nil
}

// rowLocal reports whether an admission error concerns only the row it came
// from. Anything else (store outages, archived repository) ends the batch.
func rowLocal(err error) bool {
	return errors.Is(err, ledger.ErrConcurrentConflict) ||
		errors.Is(err, ledger.ErrInvalidTransition) ||
		errors.Is(err, datanorm.ErrInvalidFormat)
}

func (p *Pipeline) lockKey(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &p.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (p *Pipeline) saveProgress(ctx context.Context, t *tally) {
	t.mu.Lock()
	cp := *t.imp
	cp.Errors = append([]domain.CSVError(nil), t.imp.Errors...)
	t.mu.Unlock()
	if err := p.store.Update(ctx, &cp); err != nil && !errors.Is(err, ErrImportFrozen) {
		logger.Warn("csvimport: progress update failed", "import_id", cp.ID, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, imp *domain.CSVImport, cause error) (*domain.CSVImport, error) {
	now := p.now()
	imp.Status = domain.ImportFailed
	imp.FailureReason = cause.Error()
	imp.CompletedAt = &now
	if err := p.store.Update(context.WithoutCancel(ctx), imp); err != nil {
		return imp, fmt.Errorf("record failure (%v): %w", cause, err)
	}
	logger.Warn("csvimport: import failed", "import_id", imp.ID, "repository_id", imp.RepositoryID, "error", cause)
	return imp, cause
}

// tally accumulates counters from concurrent row workers.
type tally struct {
	mu  sync.Mutex
	imp *domain.CSVImport
}

func (t *tally) processed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.imp.ProcessedRows
}

func (t *tally) success() {
	t.mu.Lock()
	t.imp.ProcessedRows++
	t.imp.SuccessCount++
	t.mu.Unlock()
}

func (t *tally) duplicate() {
	t.mu.Lock()
	t.imp.ProcessedRows++
	t.imp.DuplicateCount++
	t.mu.Unlock()
}

func (t *tally) review(row int, addr, reason string) {
	t.mu.Lock()
	t.imp.ProcessedRows++
	t.imp.ReviewCount++
	t.imp.ErrorCount++
	t.imp.Errors = append(t.imp.Errors, domain.CSVError{Row: row, Email: addr, Error: "queued for manual review: " + reason})
	t.mu.Unlock()
}

func (t *tally) rowError(row int, addr, msg string) {
	t.mu.Lock()
	t.imp.ProcessedRows++
	t.imp.ErrorCount++
	t.imp.Errors = append(t.imp.Errors, domain.CSVError{Row: row, Email: addr, Error: msg})
	t.mu.Unlock()
}

// stripBOM drops a leading UTF-8 byte order mark.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}
