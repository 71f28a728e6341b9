package gate

import (
	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/domain"
)

// Verdict is the gate's answer.
type Verdict string

const (
	Accept       Verdict = "accept"
	Reject       Verdict = "reject"
	ManualReview Verdict = "manual_review"
	// Defer means the request is valid but not ready; nothing is written.
	Defer Verdict = "defer"
)

// Reason explains a non-accept verdict.
type Reason string

const (
	ReasonBlockedDomain    Reason = "blocked_domain"
	ReasonDomainNotAllowed Reason = "domain_not_allowed"
	ReasonUntrustedActor   Reason = "untrusted_actor"
	ReasonBelowQuality     Reason = "below_quality"
	ReasonNeedsOptIn       Reason = "needs_opt_in"
	ReasonThresholdNotMet  Reason = "threshold_not_met"
	ReasonUnknownSource    Reason = "unknown_source"
)

// Decision is a verdict plus the reason for anything other than Accept.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Reason  Reason  `json:"reason,omitempty"`
}

// Request is one admission request as the gate sees it.
type Request struct {
	Address      string // normalized
	Source       domain.Source
	ActorTrusted bool

	// Unsubscribed marks a request that would reactivate an address that
	// opted out or hard-bounced.
	Unsubscribed bool

	// Snowball only.
	ForwardCount  int
	ReferrerTrust *float64
}

// Policy holds the configured trust scores.
type Policy struct {
	BaseCSVTrustScore     float64
	SnowballBaseScore     float64
	VerifiedReferrerTrust float64
}

// Gate evaluates requests against a Policy.
type Gate struct {
	policy Policy
}

// New creates a gate with the given policy.
func New(p Policy) *Gate {
	return &Gate{policy: p}
}

// Policy returns the configured scores.
func (g *Gate) Policy() Policy { return g.policy }

// Evaluate walks the policy table for repo.
func (g *Gate) Evaluate(repo *domain.Repository, req Request) Decision {
	cfg := repo.Growth
	domainPart := datanorm.Domain(req.Address)

	for _, blocked := range cfg.BlockedDomains {
		if datanorm.MatchesDomain(domainPart, blocked) {
			return Decision{Verdict: Reject, Reason: ReasonBlockedDomain}
		}
	}
	if len(cfg.AllowedDomains) > 0 && !anyMatch(domainPart, cfg.AllowedDomains) {
		return Decision{Verdict: Reject, Reason: ReasonDomainNotAllowed}
	}

	if req.Unsubscribed && (req.Source == domain.SourceCSV || req.Source == domain.SourceSnowball) {
		return Decision{Verdict: ManualReview, Reason: ReasonNeedsOptIn}
	}

	switch req.Source {
	case domain.SourceManual, domain.SourceAPI:
		if req.ActorTrusted {
			return Decision{Verdict: Accept}
		}
		return Decision{Verdict: ManualReview, Reason: ReasonUntrustedActor}

	case domain.SourceSignup:
		return Decision{Verdict: Accept}

	case domain.SourceCSV:
		if cfg.QualityThreshold <= g.policy.BaseCSVTrustScore {
			return Decision{Verdict: Accept}
		}
		return Decision{Verdict: ManualReview, Reason: ReasonBelowQuality}

	case domain.SourceSnowball:
		if req.ForwardCount < cfg.ForwardThreshold {
			return Decision{Verdict: Defer, Reason: ReasonThresholdNotMet}
		}
		if g.SnowballScore(req.ReferrerTrust) >= cfg.QualityThreshold {
			return Decision{Verdict: Accept}
		}
		return Decision{Verdict: ManualReview, Reason: ReasonBelowQuality}
	}

	return Decision{Verdict: Reject, Reason: ReasonUnknownSource}
}

// SnowballScore is the referrer trust when known, else the base score.
func (g *Gate) SnowballScore(referrerTrust *float64) float64 {
	if referrerTrust != nil {
		return *referrerTrust
	}
	return g.policy.SnowballBaseScore
}

// ReferrerTrust maps a referrer's verification state onto a trust score.
func (g *Gate) ReferrerTrust(verified bool) float64 {
	if verified {
		return g.policy.VerifiedReferrerTrust
	}
	return g.policy.SnowballBaseScore
}

func anyMatch(d string, patterns []string) bool {
	for _, p := range patterns {
		if datanorm.MatchesDomain(d, p) {
			return true
		}
	}
	return false
}
