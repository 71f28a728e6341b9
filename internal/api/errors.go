package api

import (
	"errors"
	"net/http"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/growth"
	"github.com/ignite/repogrowth/internal/pkg/httputil"
	"github.com/ignite/repogrowth/internal/service/csvimport"
	"github.com/ignite/repogrowth/internal/service/digest"
	"github.com/ignite/repogrowth/internal/service/gate"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
)

// writeError maps service sentinels onto status codes. Anything unknown is
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, datanorm.ErrInvalidFormat):
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_format", err.Error())
	case errors.Is(err, repos.ErrInvalid),
		errors.Is(err, growth.ErrUnknownCommand),
		errors.Is(err, growth.ErrMalformedCommand),
		errors.Is(err, csvimport.ErrUnreadable):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, csvimport.ErrSchema):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "schema_error", err.Error())
	case errors.Is(err, gate.ErrDomainBlocked):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "domain_blocked", err.Error())
	case errors.Is(err, gate.ErrDomainNotAllowed):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "domain_not_allowed", err.Error())
	case errors.Is(err, repos.ErrNotAuthorized):
		httputil.Forbidden(w, err.Error())
	case errors.Is(err, repos.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, csvimport.ErrImportNotFound),
		errors.Is(err, digest.ErrJobNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, repos.ErrArchived),
		errors.Is(err, repos.ErrNameTaken),
		errors.Is(err, csvimport.ErrImportFrozen),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrConcurrentConflict):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, digest.ErrNoDigest):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "digest_disabled", err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
