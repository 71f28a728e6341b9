// Package csvexport serializes a repository's ledger back to CSV.
//
// The header is always email,source,addedAt,verified,active followed by the
// sorted union of tag keys, and rows are ordered by dedup key, so the same
// ledger always produces byte-identical output. Every column the importer
// recognizes is written back under the name it recognizes, which makes
// export -> import -> export a fixed point.
package csvexport

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
)

// BaseColumns are the fixed leading columns of every export.
var BaseColumns = []string{"email", "source", "addedAt", "verified", "active"}

// Lister reads ledger rows.
type Lister interface {
	List(ctx context.Context, repositoryID string, f domain.EmailFilter) ([]*domain.RepositoryEmail, error)
}

// Filter narrows an export. The zero value exports active rows only.
type Filter struct {
	IncludeInactive bool          `json:"include_inactive"`
	VerifiedOnly    bool          `json:"verified_only"`
	Source          domain.Source `json:"source,omitempty"`
}

// Exporter writes CSV snapshots of the ledger.
type Exporter struct {
	ledger Lister
}

// NewExporter creates an exporter reading from l.
func NewExporter(l Lister) *Exporter {
	return &Exporter{ledger: l}
}

// Export returns the CSV text for repo.
func (e *Exporter) Export(ctx context.Context, repo *domain.Repository, f Filter) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.WriteTo(ctx, &buf, repo, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo streams the CSV for repo into w and returns the number of rows
// written, header excluded.
func (e *Exporter) WriteTo(ctx context.Context, w io.Writer, repo *domain.Repository, f Filter) (int, error) {
	rows, err := e.ledger.List(ctx, repo.ID, domain.EmailFilter{
		IncludeInactive: f.IncludeInactive,
		VerifiedOnly:    f.VerifiedOnly,
		Source:          f.Source,
	})
	if err != nil {
		return 0, fmt.Errorf("list emails: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DedupKey < rows[j].DedupKey })

	tagKeys := collectTagKeys(rows)

	cw := csv.NewWriter(w)
	header := append(append([]string{}, BaseColumns...), tagKeys...)
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	record := make([]string, len(header))
	for _, r := range rows {
		record[0] = r.Address
		record[1] = string(r.Source)
		record[2] = r.AddedAt.UTC().Format(time.RFC3339)
		record[3] = strconv.FormatBool(r.Verified)
		record[4] = strconv.FormatBool(r.Active)
		for i, k := range tagKeys {
			record[len(BaseColumns)+i] = r.Tags[k]
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// collectTagKeys returns the sorted union of tag keys, skipping any key the
// importer would read as a structural column.
func collectTagKeys(rows []*domain.RepositoryEmail) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r.Tags {
			if datanorm.IsStructural(k) {
				continue
			}
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
