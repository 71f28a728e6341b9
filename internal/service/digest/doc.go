// Package digest builds and dispatches periodic repository digests.
//
// BuildDigest is idempotent per (repository, period): the first call
// snapshots recipients and content into an immutable DigestJob, and every
// later call returns that same job. Recipients are active, verified members
// whose membership began before the period started, so nobody is added to
// a period retroactively.
//
// A job moves pending -> dispatched -> delivered | failed. Hard bounces,
// whether reported synchronously by the deliverer or later through
// HandleBounce, deactivate the member with unsubscribedAt set, which drops
// them from every later snapshot.
package digest
