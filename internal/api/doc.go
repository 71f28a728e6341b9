// Package api is the HTTP admission surface of the engine: CSV upload and
// export, single admissions, the review queue, snowball ingestion, digest
// runs and the inbound-email command endpoint. Callers identify themselves
// with the X-User-ID header; authentication happens upstream.
package api
