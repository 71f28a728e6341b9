// Package csvimport turns an uploaded CSV into admission requests.
//
// An import moves pending -> processing -> completed, or to failed when the
// file itself is unusable (unreadable, no email column), or to cancelled
// when the caller stops it. Row problems never abort a batch: each one
// becomes a CSVError and the import still completes. Once an import reaches
// a terminal status its record is frozen.
//
// Rows fan out over a bounded errgroup. Work for the same address is
// serialized through a striped lock before it reaches the ledger.
package csvimport
