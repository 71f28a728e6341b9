package digest

import "errors"

// Sentinel errors for the digest scheduler.
var (
	ErrJobNotFound = errors.New("digest job not found")
	// ErrDeliveryBounce marks a permanent per-recipient delivery failure.
	// Deliverers wrap it so the scheduler can deactivate the address.
	ErrDeliveryBounce = errors.New("delivery bounced")
	ErrNotRecipient   = errors.New("address was not a recipient of the job")
	ErrStatusConflict = errors.New("digest job status changed concurrently")
	ErrNoDigest       = errors.New("repository has no digest frequency")
)
