package datanorm

import "errors"

// ErrInvalidFormat is returned by Normalize for anything that is not a
// syntactically usable address. It is always wrapped with the cause.
var ErrInvalidFormat = errors.New("invalid email format")
