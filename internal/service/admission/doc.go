// Package admission is the single path from an admission request to a
// ledger mutation: normalize, resolve, gate, then insert, reactivate or
// queue for review. Every source (manual, csv, snowball, api, signup) goes
// through Admit.
package admission
