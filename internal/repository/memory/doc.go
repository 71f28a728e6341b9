// Package memory provides in-process implementations of every store the
// growth engine uses. Each store guards its state with a single mutex, so
// the atomic contracts (insert-if-absent, compare-and-set) hold the same way
// they do in Postgres. They back the service tests and single-node runs.
package memory
