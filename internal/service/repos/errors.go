package repos

import "errors"

// Sentinel errors for the repository service layer.
var (
	ErrNotFound      = errors.New("repository not found")
	ErrArchived      = errors.New("repository is archived")
	ErrNameTaken     = errors.New("repository name already taken")
	ErrNotAuthorized = errors.New("actor is not the owner or a moderator")
	ErrInvalid       = errors.New("invalid repository")
)
