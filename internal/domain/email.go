package domain

import (
	"maps"
	"time"
)

// Source is the closed set of ways an address can enter a repository.
type Source string

const (
	SourceManual   Source = "manual"
	SourceCSV      Source = "csv"
	SourceSnowball Source = "snowball"
	SourceAPI      Source = "api"
	SourceSignup   Source = "signup"
)

// Sources lists every valid Source in display order.
var Sources = []Source{SourceManual, SourceCSV, SourceSnowball, SourceAPI, SourceSignup}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceCSV, SourceSnowball, SourceAPI, SourceSignup:
		return true
	}
	return false
}

// RepositoryEmail is the current projection of one (repository, address)
// pair. Source, AddedBy and AddedAt are first-write-wins; the full story of
// the row lives in the provenance history.
type RepositoryEmail struct {
	ID             string            `json:"id" db:"id"`
	RepositoryID   string            `json:"repository_id" db:"repository_id"`
	Address        string            `json:"address" db:"address"`
	DedupKey       string            `json:"-" db:"dedup_key"`
	Source         Source            `json:"source" db:"source"`
	AddedBy        string            `json:"added_by" db:"added_by"`
	Verified       bool              `json:"verified" db:"verified"`
	Active         bool              `json:"active" db:"active"`
	PendingReview  bool              `json:"pending_review" db:"pending_review"`
	UnsubscribedAt *time.Time        `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	Tags           map[string]string `json:"tags,omitempty" db:"tags"`
	AddedAt        time.Time         `json:"added_at" db:"added_at"`
	ActivatedAt    *time.Time        `json:"activated_at,omitempty" db:"activated_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so stores never hand out shared tag maps.
func (e *RepositoryEmail) Clone() *RepositoryEmail {
	cp := *e
	cp.Tags = maps.Clone(e.Tags)
	if e.UnsubscribedAt != nil {
		t := *e.UnsubscribedAt
		cp.UnsubscribedAt = &t
	}
	if e.ActivatedAt != nil {
		t := *e.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

// ProvenanceAction enumerates the entries of the append-only history log.
type ProvenanceAction string

const (
	ActionCreated       ProvenanceAction = "created"
	ActionReactivated   ProvenanceAction = "reactivated"
	ActionDeactivated   ProvenanceAction = "deactivated"
	ActionTagsMerged    ProvenanceAction = "tags_merged"
	ActionReviewQueued  ProvenanceAction = "review_queued"
	ActionReviewApprove ProvenanceAction = "review_approved"
	ActionReviewDismiss ProvenanceAction = "review_dismissed"
	ActionVerified      ProvenanceAction = "verified"
	ActionDuplicate     ProvenanceAction = "duplicate"
)

// ProvenanceEvent is one immutable entry of an address's history.
type ProvenanceEvent struct {
	ID           string            `json:"id" db:"id"`
	RepositoryID string            `json:"repository_id" db:"repository_id"`
	DedupKey     string            `json:"dedup_key" db:"dedup_key"`
	Action       ProvenanceAction  `json:"action" db:"action"`
	Source       Source            `json:"source" db:"source"`
	Actor        string            `json:"actor" db:"actor"`
	Reason       string            `json:"reason,omitempty" db:"reason"`
	Tags         map[string]string `json:"tags,omitempty" db:"tags"`
	At           time.Time         `json:"at" db:"at"`
}

// DeactivationReason explains why a row left the active set.
type DeactivationReason string

const (
	DeactivateUnsubscribe DeactivationReason = "unsubscribe"
	DeactivateHardBounce  DeactivationReason = "hard_bounce"
	DeactivateRemoved     DeactivationReason = "removed"
)

// EmailFilter selects rows from the ledger. The zero value selects active
// rows only.
type EmailFilter struct {
	IncludeInactive bool
	VerifiedOnly    bool
	PendingOnly     bool
	Source          Source
	ActivatedBefore *time.Time
	Limit           int
	Offset          int
}

// EmailStats summarizes a repository's ledger.
type EmailStats struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	Inactive      int            `json:"inactive"`
	Verified      int            `json:"verified"`
	PendingReview int            `json:"pending_review"`
	Unsubscribed  int            `json:"unsubscribed"`
	BySource      map[Source]int `json:"by_source"`
}
