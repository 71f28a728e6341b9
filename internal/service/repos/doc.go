// Package repos manages repositories: creation, growth configuration and
// soft-archiving. Repositories are never deleted.
package repos
