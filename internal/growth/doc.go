// Package growth is the programmatic surface of the engine. It resolves
// repositories, enforces who may do what, and routes each call to the
// service that owns it. The inbound-email command surface (ADD, STATS,
// EXPORT) and the HTTP admission API both go through an Engine.
package growth
