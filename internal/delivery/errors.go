package delivery

import "errors"

var (
	// ErrTemplate is returned when a subject or body template fails to
	// parse or render.
	ErrTemplate = errors.New("delivery: template error")

	// ErrSendingBlocked means SES refuses all sends for the account or the
	// sender identity; the job cannot be delivered at all.
	ErrSendingBlocked = errors.New("delivery: sending blocked")

	// ErrNoSender is returned when no from address is configured.
	ErrNoSender = errors.New("delivery: from address is required")
)
