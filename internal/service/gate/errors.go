package gate

import "errors"

// Sentinel errors for callers that need a policy rejection as an error.
var (
	ErrDomainBlocked    = errors.New("domain is blocked")
	ErrDomainNotAllowed = errors.New("domain is not on the allowlist")
)

// Err returns the sentinel matching a rejection reason, or nil.
func (d Decision) Err() error {
	if d.Verdict != Reject {
		return nil
	}
	switch d.Reason {
	case ReasonBlockedDomain:
		return ErrDomainBlocked
	case ReasonDomainNotAllowed:
		return ErrDomainNotAllowed
	}
	return errors.New(string(d.Reason))
}
