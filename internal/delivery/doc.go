// Package delivery sends digest jobs through Amazon SES.
//
// Each recipient gets its own message, rendered from liquid subject and body
// templates. Synchronous SES errors are mapped onto per-recipient outcomes;
// asynchronous bounces arrive later through the tracking consumer.
package delivery
