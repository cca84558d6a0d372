package apperr

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Response is the wire shape of every error response. TrackingID lets
// support correlate a client report with server logs.
type Response struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Path       string `json:"path,omitempty"`
	TrackingID string `json:"tracking_id"`
}

// HTTPStatus maps a stable error code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeLimitExceeded, CodePreApprovalMismatch:
		return http.StatusConflict
	case CodeProviderNotContracted:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorHandler returns an echo error handler that renders *Error values
// with their stable code and a tracking id. Unexpected errors are logged
// with the tracking id and surfaced as an opaque 500.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		trackingID := uuid.New().String()
		rid, _ := c.Get("request_id").(string)

		resp := Response{TrackingID: trackingID}
		status := http.StatusInternalServerError

		var ae *Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ae):
			status = HTTPStatus(ae.Code)
			resp.Code = ae.Code
			resp.Message = ae.Message
			resp.Path = ae.Path
		case errors.As(err, &he):
			status = he.Code
			resp.Code = CodeValidation
			if status == http.StatusNotFound {
				resp.Code = CodeNotFound
			}
			if status >= http.StatusInternalServerError {
				resp.Code = CodeInternal
			}
			resp.Message = http.StatusText(status)
			if msg, ok := he.Message.(string); ok {
				resp.Message = msg
			}
		default:
			resp.Code = CodeInternal
			resp.Message = "internal error"
		}

		if resp.Code == CodeInternal {
			// Full detail stays in the log, keyed by tracking id.
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("tracking_id", trackingID).
				Str("path", c.Request().URL.Path).
				Msg("internal error")
			resp.Message = "internal error"
			resp.Path = ""
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, resp)
	}
}
