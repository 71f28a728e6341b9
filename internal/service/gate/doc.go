// Package gate decides whether an address may join a repository.
//
// Evaluate is pure: it reads the repository's growth config and the
// request and walks an ordered policy table. The first rule that matches
// decides. Domain rules always run first, so a blocked domain is rejected
// no matter which source produced the request.
//
//  1. blocked domain                       -> Reject(blocked_domain)
//  2. allowlist set and domain not on it   -> Reject(domain_not_allowed)
//  3. previously unsubscribed, csv/snowball -> ManualReview(needs_opt_in)
//  4. manual/api from owner or moderator   -> Accept
//     manual/api from anyone else          -> ManualReview(untrusted_actor)
//  5. signup                               -> Accept
//  6. csv   -> Accept if qualityThreshold <= base csv trust, else ManualReview
//  7. snowball -> Defer until forwardThreshold is reached, then Accept if
//     the referrer score meets qualityThreshold, else ManualReview
package gate
