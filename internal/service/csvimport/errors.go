package csvimport

import "errors"

// Sentinel errors for the import pipeline.
var (
	ErrSchema         = errors.New("csv has no email column")
	ErrUnreadable     = errors.New("csv is unreadable")
	ErrImportFrozen   = errors.New("import is already finished")
	ErrImportNotFound = errors.New("import not found")
)
