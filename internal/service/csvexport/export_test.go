package csvexport_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/repository/memory"
	"github.com/ignite/repogrowth/internal/service/admission"
	"github.com/ignite/repogrowth/internal/service/csvexport"
	"github.com/ignite/repogrowth/internal/service/csvimport"
	"github.com/ignite/repogrowth/internal/service/gate"
	"github.com/ignite/repogrowth/internal/service/ledger"
)

type env struct {
	ledger   *ledger.Service
	importer *csvimport.Pipeline
	exporter *csvexport.Exporter
	repo     *domain.Repository
}

func newEnv(id string) *env {
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	l := ledger.NewService(memory.NewLedgerStore()).WithClock(func() time.Time { return t0 })
	adm := admission.NewService(l, gate.New(gate.Policy{BaseCSVTrustScore: 0.5}))
	return &env{
		ledger:   l,
		importer: csvimport.NewPipeline(memory.NewImportStore(), adm, csvimport.Options{Concurrency: 3}),
		exporter: csvexport.NewExporter(l),
		repo:     &domain.Repository{ID: id, OwnerID: "owner", Growth: domain.GrowthConfig{ForwardThreshold: 1, QualityThreshold: 0.5}},
	}
}

func (e *env) load(t *testing.T, body string) {
	t.Helper()
	_, err := e.importer.Import(context.Background(), e.repo, "in.csv", strings.NewReader(body), "owner")
	require.NoError(t, err)
}

func (e *env) export(t *testing.T, f csvexport.Filter) string {
	t.Helper()
	out, err := e.exporter.Export(context.Background(), e.repo, f)
	require.NoError(t, err)
	return string(out)
}

func TestExport_ColumnOrder(t *testing.T) {
	e := newEnv("r1")
	e.load(t, "zeta,email,Company,verified\nz1,b@example.com,Beta,true\n,A@example.com,Acme,\n")

	got := e.export(t, csvexport.Filter{})
	want := "email,source,addedAt,verified,active,company,zeta\n" +
		"A@example.com,csv,2025-01-02T03:04:05Z,false,true,Acme,\n" +
		"b@example.com,csv,2025-01-02T03:04:05Z,true,true,Beta,z1\n"
	assert.Equal(t, want, got)
}

func TestExport_EmptyRepository(t *testing.T) {
	e := newEnv("r1")
	assert.Equal(t, "email,source,addedAt,verified,active\n", e.export(t, csvexport.Filter{}))
}

func TestExport_Filters(t *testing.T) {
	ctx := context.Background()
	e := newEnv("r1")
	e.load(t, "email,verified\na@example.com,1\nb@example.com,0\nc@example.com,0\n")
	require.NoError(t, e.ledger.Deactivate(ctx, "r1", "c@example.com", domain.DeactivateUnsubscribe, "c@example.com"))

	assert.Equal(t, 3, strings.Count(e.export(t, csvexport.Filter{}), "\n"), "header + 2 active")
	assert.Equal(t, 4, strings.Count(e.export(t, csvexport.Filter{IncludeInactive: true}), "\n"))
	verified := e.export(t, csvexport.Filter{VerifiedOnly: true})
	assert.Contains(t, verified, "a@example.com")
	assert.NotContains(t, verified, "b@example.com")
	assert.Equal(t, 1, strings.Count(e.export(t, csvexport.Filter{Source: domain.SourceSignup}), "\n"))
}

func TestExport_RoundTripFixedPoint(t *testing.T) {
	src := newEnv("src")
	src.load(t, "email,team,verified\nx@example.com,red,yes\nY@Example.org,\"blue, green\",no\nz@example.net,,\n")

	first := src.export(t, csvexport.Filter{})

	dst := newEnv("dst")
	dst.load(t, first)
	second := dst.export(t, csvexport.Filter{})
	assert.Equal(t, first, second)

	// and importing the export into the same repository changes nothing
	src.load(t, first)
	assert.Equal(t, first, src.export(t, csvexport.Filter{}))
}

func TestExport_WriteToCountsRows(t *testing.T) {
	e := newEnv("r1")
	e.load(t, "email\na@example.com\nb@example.com\n")

	var buf bytes.Buffer
	n, err := e.exporter.WriteTo(context.Background(), &buf, e.repo, csvexport.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
