package apiv1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	HttpServerBaseRoute string = "/api/v1"
	HttpServerRootRoute string = ""
)

// httpError maps domain errors onto status codes so operators can tell
// "needs a human" apart from "try again".
func httpError(err error) *echo.HTTPError {
	var (
		authErr       *types.ErrAuth
		notFound      *types.ErrNotFound
		jobNotFound   *types.ErrJobNotFound
		budgetErr     *types.ErrBudgetExceeded
		noGPU         *types.ErrNoGPUAvailable
		stateErr      *types.ErrInvalidBackendState
		inProgressErr *types.ErrLaunchInProgress
		timeoutErr    *types.ErrLaunchTimeout
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound), errors.As(err, &jobNotFound):
		status = http.StatusNotFound
	case errors.As(err, &inProgressErr):
		status = http.StatusConflict
	case errors.As(err, &stateErr):
		status = http.StatusBadRequest
	case errors.As(err, &budgetErr):
		status = http.StatusPaymentRequired
	case errors.As(err, &noGPU):
		status = http.StatusServiceUnavailable
	case errors.As(err, &timeoutErr):
		status = http.StatusGatewayTimeout
	case errors.As(err, &authErr):
		status = http.StatusBadGateway
	case types.IsRetryable(err):
		status = http.StatusBadGateway
	}

	return echo.NewHTTPError(status, map[string]interface{}{
		"error":               err.Error(),
		"operator_actionable": types.IsOperatorActionable(err),
		"retryable":           types.IsRetryable(err),
	})
}
