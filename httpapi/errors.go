package httpapi

import (
	"net/http"

	"github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
)

// respondError translates err into the standard JSON error envelope,
// falling back to a generic 500 for anything that is not a *ServiceError.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, string(errors.ErrCodeInternal), "internal server error", nil)
		return
	}
	httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}
