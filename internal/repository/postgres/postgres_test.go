package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/csvimport"
	"github.com/ignite/repogrowth/internal/service/digest"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func emailRow() *sqlmock.Rows {
	return sqlmock.NewRows(emailColumnList).AddRow(
		"e1", "r1", "Ada@example.com", "ada@example.com", "csv", "owner", true,
		true, false, nil, `{"city":"Paris"}`, now, now, now,
	)
}

func TestLedgerStore_Get(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)

	mock.ExpectQuery(`SELECT (.+) FROM repository_emails WHERE repository_id = \$1 AND dedup_key = \$2`).
		WithArgs("r1", "ada@example.com").
		WillReturnRows(emailRow())

	e, err := store.Get(context.Background(), "r1", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada@example.com", e.Address)
	assert.Equal(t, domain.SourceCSV, e.Source)
	assert.Equal(t, map[string]string{"city": "Paris"}, e.Tags)
	assert.Nil(t, e.UnsubscribedAt)
	require.NotNil(t, e.ActivatedAt)
}

func TestLedgerStore_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)

	mock.ExpectQuery(`FROM repository_emails`).WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "r1", "nobody@example.com")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLedgerStore_InsertIfAbsent(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)
	e := &domain.RepositoryEmail{
		ID: "e1", RepositoryID: "r1", Address: "ada@example.com", DedupKey: "ada@example.com",
		Source: domain.SourceManual, Active: true, AddedAt: now, ActivatedAt: &now, UpdatedAt: now,
	}
	ev := domain.ProvenanceEvent{ID: "ev1", RepositoryID: "r1", DedupKey: "ada@example.com", Action: domain.ActionCreated, At: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO repository_emails (.+) ON CONFLICT \(repository_id, dedup_key\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO provenance_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := store.InsertIfAbsent(context.Background(), e, ev)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestLedgerStore_InsertIfAbsentConflict(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)
	e := &domain.RepositoryEmail{ID: "e2", RepositoryID: "r1", DedupKey: "ada@example.com", AddedAt: now, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO repository_emails`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := store.InsertIfAbsent(context.Background(), e, domain.ProvenanceEvent{})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestLedgerStore_TransitionConflict(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE repository_emails SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("r1", "ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.Transition(context.Background(), ledger.Transition{
		RepositoryID: "r1", DedupKey: "ada@example.com",
		From: ledger.State{Active: false}, To: ledger.State{Active: true}, At: now,
	})
	assert.ErrorIs(t, err, ledger.ErrConcurrentConflict)
}

func TestLedgerStore_TransitionMissingRow(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE repository_emails SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := store.Transition(context.Background(), ledger.Transition{RepositoryID: "r1", DedupKey: "x@example.com", At: now})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLedgerStore_MergeTagsUnchanged(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE repository_emails SET tags = tags \|\| \$3::jsonb`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	changed, err := store.MergeTags(context.Background(), "r1", "ada@example.com",
		map[string]string{"city": "Paris"}, domain.ProvenanceEvent{At: now})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLedgerStore_ListFilter(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)
	before := now.Add(-time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM repository_emails WHERE repository_id = \$1 AND active = \$2 AND verified = \$3 AND activated_at < \$4 ORDER BY dedup_key`).
		WithArgs("r1", true, true, before).
		WillReturnRows(emailRow())

	rows, err := store.List(context.Background(), "r1", domain.EmailFilter{VerifiedOnly: true, ActivatedBefore: &before})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada@example.com", rows[0].DedupKey)
}

func TestLedgerStore_Stats(t *testing.T) {
	db, mock := newMock(t)
	store := NewLedgerStore(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "inactive", "verified", "pending", "unsub"}).
			AddRow(5, 3, 2, 4, 1, 1))
	mock.ExpectQuery(`SELECT source, COUNT\(\*\) FROM repository_emails`).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"source", "count"}).AddRow("csv", 4).AddRow("manual", 1))

	st, err := store.Stats(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 3, st.Active)
	assert.Equal(t, 1, st.PendingReview)
	assert.Equal(t, 4, st.BySource[domain.SourceCSV])
}

func TestRepoStore_CreateNameTaken(t *testing.T) {
	db, mock := newMock(t)
	store := NewRepoStore(db)

	mock.ExpectExec(`INSERT INTO repositories`).WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), &domain.Repository{ID: "r1", Name: "Go", OwnerID: "o", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, repos.ErrNameTaken)
}

func TestRepoStore_GetByName(t *testing.T) {
	db, mock := newMock(t)
	store := NewRepoStore(db)

	mock.ExpectQuery(`FROM repositories WHERE lower\(name\) = lower\(\$1\)`).WithArgs("go weekly").
		WillReturnRows(sqlmock.NewRows(repoColumnList).AddRow(
			"r1", "Go Weekly", "owner", "{mod}", "", true, 3, 0.5, "{}", "{spam.com}", "weekly", 2, nil, now, now,
		))

	r, err := store.GetByName(context.Background(), "go weekly")
	require.NoError(t, err)
	assert.Equal(t, []string{"mod"}, r.Moderators)
	assert.Equal(t, []string{"spam.com"}, r.Growth.BlockedDomains)
	assert.Equal(t, domain.DigestWeekly, r.Growth.DigestFrequency)
	assert.Equal(t, 2, r.Growth.SnowballEpoch)
	assert.False(t, r.IsArchived())
}

func TestRepoStore_ListDigestOnly(t *testing.T) {
	db, mock := newMock(t)
	store := NewRepoStore(db)

	mock.ExpectQuery(`FROM repositories WHERE archived_at IS NULL AND digest_frequency NOT IN \(\$1,\$2\) ORDER BY lower\(name\)`).
		WithArgs("", "none").
		WillReturnRows(sqlmock.NewRows(repoColumnList))

	out, err := store.List(context.Background(), repos.ListFilter{DigestOnly: true})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestImportStore_UpdateFrozen(t *testing.T) {
	db, mock := newMock(t)
	store := NewImportStore(db)

	mock.ExpectExec(`UPDATE csv_imports SET (.+) WHERE id = \$1 AND status NOT IN`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM csv_imports WHERE id = \$1\)`).WithArgs("imp1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := store.Update(context.Background(), &domain.CSVImport{ID: "imp1", Status: domain.ImportCompleted})
	assert.ErrorIs(t, err, csvimport.ErrImportFrozen)
}

func TestImportStore_GetDecodesErrors(t *testing.T) {
	db, mock := newMock(t)
	store := NewImportStore(db)

	mock.ExpectQuery(`FROM csv_imports WHERE id = \$1 AND repository_id = \$2`).WithArgs("imp1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "repository_id", "imported_by", "filename", "row_count", "processed_rows",
			"success_count", "duplicate_count", "review_count", "error_count", "errors", "status",
			"failure_reason", "created_at", "completed_at",
		}).AddRow("imp1", "r1", "owner", "list.csv", 3, 3, 2, 0, 0, 1,
			`[{"row":3,"email":"bad","error":"invalid email format"}]`, "completed", "", now, now))

	imp, err := store.Get(context.Background(), "r1", "imp1")
	require.NoError(t, err)
	require.Len(t, imp.Errors, 1)
	assert.Equal(t, 3, imp.Errors[0].Row)
	assert.Equal(t, domain.ImportCompleted, imp.Status)
}

func TestSnowballStore_Record(t *testing.T) {
	db, mock := newMock(t)
	store := NewSnowballStore(db)
	ev := domain.SnowballEvent{ID: "ev1", RepositoryID: "r1", Referrer: "m1@example.com", Referred: "new@example.com", Epoch: 1, ObservedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO snowball_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO snowball_referrers`).WithArgs("r1", 1, "new@example.com", "m1@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO snowball_trackers (.+) RETURNING count, state, updated_at`).
		WithArgs("r1", 1, "new@example.com", 1, now).
		WillReturnRows(sqlmock.NewRows([]string{"count", "state", "updated_at"}).AddRow(2, "tracked", now))
	mock.ExpectCommit()

	tr, isNew, err := store.Record(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, 2, tr.Count)
	assert.Equal(t, domain.TrackerTracked, tr.State)
}

func TestSnowballStore_RepeatReferrerDoesNotCount(t *testing.T) {
	db, mock := newMock(t)
	store := NewSnowballStore(db)
	ev := domain.SnowballEvent{ID: "ev2", RepositoryID: "r1", Referrer: "m1@example.com", Referred: "new@example.com", Epoch: 1, ObservedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO snowball_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO snowball_referrers`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO snowball_trackers`).
		WithArgs("r1", 1, "new@example.com", 0, now).
		WillReturnRows(sqlmock.NewRows([]string{"count", "state", "updated_at"}).AddRow(1, "tracked", now))
	mock.ExpectCommit()

	tr, isNew, err := store.Record(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, 1, tr.Count)
}

func TestSnowballStore_SetStateClaimLost(t *testing.T) {
	db, mock := newMock(t)
	store := NewSnowballStore(db)

	mock.ExpectExec(`UPDATE snowball_trackers SET state = \$5`).
		WithArgs("r1", 1, "new@example.com", "tracked", "evaluating").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetState(context.Background(), "r1", 1, "new@example.com", domain.TrackerTracked, domain.TrackerEvaluating)
	assert.ErrorIs(t, err, snowball.ErrClaimLost)
}

func TestSnowballStore_ListStale(t *testing.T) {
	db, mock := newMock(t)
	store := NewSnowballStore(db)
	cutoff := now.Add(-10 * time.Minute)
	claimed := now.Add(-time.Hour)

	mock.ExpectQuery(`FROM snowball_trackers\s+WHERE state = 'evaluating' AND claimed_at <= \$1`).
		WithArgs(cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"repository_id", "epoch", "referred", "count", "state", "updated_at", "claimed_at"}).
			AddRow("r1", 2, "new@example.com", 3, "evaluating", now, claimed))

	got, err := store.ListStale(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Epoch)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, domain.TrackerEvaluating, got[0].State)
	require.NotNil(t, got[0].ClaimedAt)
	assert.Equal(t, claimed, *got[0].ClaimedAt)
}

func TestSnowballStore_TrackerUnseen(t *testing.T) {
	db, mock := newMock(t)
	store := NewSnowballStore(db)

	mock.ExpectQuery(`FROM snowball_trackers`).WillReturnError(sql.ErrNoRows)

	tr, err := store.Tracker(context.Background(), "r1", 1, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TrackerUnseen, tr.State)
	assert.Zero(t, tr.Count)
}

func digestRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "repository_id", "period_start", "period_end", "recipients", "content",
		"status", "created_at", "dispatched_at", "finished_at",
	}).AddRow("j1", "r1", now, now.AddDate(0, 0, 7), "{a@example.com,b@example.com}",
		`[{"id":"c1","title":"One","url":"https://example.com/1","published_at":"2026-03-01T00:00:00Z","score":1}]`,
		"pending", now, nil, nil)
}

func TestDigestStore_CreateIfAbsentReturnsExisting(t *testing.T) {
	db, mock := newMock(t)
	store := NewDigestStore(db)
	job := &domain.DigestJob{ID: "j2", RepositoryID: "r1", PeriodStart: now, PeriodEnd: now.AddDate(0, 0, 7), Status: domain.DigestPending, CreatedAt: now}

	mock.ExpectExec(`INSERT INTO digest_jobs (.+) ON CONFLICT`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM digest_jobs WHERE repository_id = \$1 AND period_start = \$2 AND period_end = \$3`).
		WithArgs("r1", job.PeriodStart, job.PeriodEnd).
		WillReturnRows(digestRow())

	got, created, err := store.CreateIfAbsent(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "j1", got.ID)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got.Recipients)
	require.Len(t, got.Content, 1)
	assert.Equal(t, "One", got.Content[0].Title)
}

func TestDigestStore_SetStatusConflict(t *testing.T) {
	db, mock := newMock(t)
	store := NewDigestStore(db)

	mock.ExpectExec(`UPDATE digest_jobs SET status = \$3, dispatched_at = \$4 WHERE id = \$1 AND status = \$2`).
		WithArgs("j1", "pending", "dispatched", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM digest_jobs WHERE id = \$1`).WithArgs("j1").WillReturnRows(digestRow())

	err := store.SetStatus(context.Background(), "j1", domain.DigestPending, domain.DigestDispatched, now)
	assert.ErrorIs(t, err, digest.ErrStatusConflict)
}

func TestDigestStore_ListStale(t *testing.T) {
	db, mock := newMock(t)
	store := NewDigestStore(db)
	cutoff := now.Add(-time.Hour)

	mock.ExpectQuery(`FROM digest_jobs WHERE status = \$1 AND dispatched_at < \$2 ORDER BY dispatched_at LIMIT \$3`).
		WithArgs("dispatched", cutoff, 100).
		WillReturnRows(digestRow())

	jobs, err := store.ListStale(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)
}
