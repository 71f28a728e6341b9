package domain

import "time"

// DigestStatus tracks a job from creation to delivery outcome.
type DigestStatus string

const (
	DigestPending    DigestStatus = "pending"
	DigestDispatched DigestStatus = "dispatched"
	DigestDelivered  DigestStatus = "delivered"
	DigestFailed     DigestStatus = "failed"
)

// ContentItem is one piece of repository content selected for a digest.
type ContentItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Score       float64   `json:"score"`
}

// DigestJob is an immutable snapshot of who gets which content for one
// period. Only Status and the delivery timestamps move after creation.
type DigestJob struct {
	ID           string        `json:"id" db:"id"`
	RepositoryID string        `json:"repository_id" db:"repository_id"`
	PeriodStart  time.Time     `json:"period_start" db:"period_start"`
	PeriodEnd    time.Time     `json:"period_end" db:"period_end"`
	Recipients   []string      `json:"recipients" db:"recipients"`
	Content      []ContentItem `json:"content" db:"content"`
	Status       DigestStatus  `json:"status" db:"status"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	DispatchedAt *time.Time    `json:"dispatched_at,omitempty" db:"dispatched_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty" db:"finished_at"`
}

// DeliveryOutcome is the per-recipient result reported by the mail
// collaborator.
type DeliveryOutcome string

const (
	OutcomeDelivered  DeliveryOutcome = "delivered"
	OutcomeHardBounce DeliveryOutcome = "hard_bounce"
	OutcomeSoftBounce DeliveryOutcome = "soft_bounce"
	OutcomeFailed     DeliveryOutcome = "failed"
)

// RecipientResult pairs an address with its delivery outcome.
type RecipientResult struct {
	Address   string          `json:"address"`
	Outcome   DeliveryOutcome `json:"outcome"`
	MessageID string          `json:"message_id,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// DeliveryReport is what the delivery collaborator hands back for a job.
type DeliveryReport struct {
	JobID   string            `json:"job_id"`
	Results []RecipientResult `json:"results"`
}
