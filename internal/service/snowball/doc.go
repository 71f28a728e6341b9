// Package snowball converts referrals into admissions.
//
// Each (repository, referred address) pair moves through
//
//	unseen -> tracked(count) -> evaluating -> admitted | review | rejected
//
// count is the number of distinct active members who referred the address
// during the current snowball epoch. When count reaches the repository's
// forward threshold exactly one observer claims the tracker and consults
// the gate through the admission path. The gate's outcome is terminal;
// later referrals are recorded for analytics and never re-trigger it.
//
// Repositories with snowball tracking disabled drop events. Switching it
// back on starts a new epoch, so counting restarts from zero.
package snowball
