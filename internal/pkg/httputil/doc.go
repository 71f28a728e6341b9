// Package httputil provides the JSON and CSV response helpers shared by the
// admission API handlers, so every endpoint emits the same error envelope.
package httputil
