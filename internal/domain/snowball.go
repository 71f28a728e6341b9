package domain

import "time"

// SnowballEvent records that Referrer forwarded or referenced Referred
// within a repository.
type SnowballEvent struct {
	ID           string    `json:"id" db:"id"`
	RepositoryID string    `json:"repository_id" db:"repository_id"`
	Referrer     string    `json:"referrer" db:"referrer"`
	Referred     string    `json:"referred" db:"referred"`
	Epoch        int       `json:"epoch" db:"epoch"`
	ObservedAt   time.Time `json:"observed_at" db:"observed_at"`
}

// TrackerState is the per (repository, referred) snowball state.
type TrackerState string

const (
	TrackerUnseen  TrackerState = "unseen"
	TrackerTracked TrackerState = "tracked"
	// TrackerEvaluating is held by the one observer consulting the gate.
	TrackerEvaluating TrackerState = "evaluating"
	TrackerAdmitted   TrackerState = "admitted"
	TrackerReview     TrackerState = "review"
	TrackerRejected   TrackerState = "rejected"
)

// Terminal reports whether the gate has already been consulted.
func (s TrackerState) Terminal() bool {
	return s == TrackerAdmitted || s == TrackerReview || s == TrackerRejected
}

// SnowballTracker is the projection of all events for one referred address.
type SnowballTracker struct {
	RepositoryID string       `json:"repository_id" db:"repository_id"`
	Referred     string       `json:"referred" db:"referred"`
	Epoch        int          `json:"epoch" db:"epoch"`
	Count        int          `json:"count" db:"count"`
	State        TrackerState `json:"state" db:"state"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
	// ClaimedAt is when the tracker last entered evaluating. Only stores
	// that list stale claims fill it.
	ClaimedAt *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
}
