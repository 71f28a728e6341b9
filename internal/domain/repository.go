package domain

import (
	"slices"
	"time"
)

// DigestFrequency controls how often a repository's digest is built.
type DigestFrequency string

const (
	DigestNone    DigestFrequency = "none"
	DigestDaily   DigestFrequency = "daily"
	DigestWeekly  DigestFrequency = "weekly"
	DigestMonthly DigestFrequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f DigestFrequency) Valid() bool {
	switch f {
	case DigestNone, DigestDaily, DigestWeekly, DigestMonthly:
		return true
	}
	return false
}

// GrowthConfig is the per-repository growth policy.
type GrowthConfig struct {
	SnowballEnabled  bool            `json:"snowball_enabled" db:"snowball_enabled"`
	ForwardThreshold int             `json:"forward_threshold" db:"forward_threshold"`
	QualityThreshold float64         `json:"quality_threshold" db:"quality_threshold"`
	AllowedDomains   []string        `json:"allowed_domains" db:"allowed_domains"`
	BlockedDomains   []string        `json:"blocked_domains" db:"blocked_domains"`
	DigestFrequency  DigestFrequency `json:"digest_frequency" db:"digest_frequency"`

	// SnowballEpoch increases every time snowball tracking is switched
	// back on. Trackers from an older epoch are never consulted.
	SnowballEpoch int `json:"snowball_epoch" db:"snowball_epoch"`
}

// Repository is a named, owned collection of email addresses.
type Repository struct {
	ID         string       `json:"id" db:"id"`
	Name       string       `json:"name" db:"name"`
	OwnerID    string       `json:"owner_id" db:"owner_id"`
	Moderators []string     `json:"moderators" db:"moderators"`
	FeedURL    string       `json:"feed_url,omitempty" db:"feed_url"`
	Growth     GrowthConfig `json:"growth" db:"-"`
	ArchivedAt *time.Time   `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// IsArchived reports whether the repository has been soft-archived.
func (r *Repository) IsArchived() bool { return r.ArchivedAt != nil }

// IsTrusted reports whether actorID is the owner or a moderator.
func (r *Repository) IsTrusted(actorID string) bool {
	if actorID == "" {
		return false
	}
	return actorID == r.OwnerID || slices.Contains(r.Moderators, actorID)
}
