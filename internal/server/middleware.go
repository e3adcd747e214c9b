package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/logger"
)

// readOnly rejects every method that could change state.
func readOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch c.Request().Method {
		case http.MethodGet, http.MethodHead:
			return next(c)
		default:
			return echo.NewHTTPError(http.StatusMethodNotAllowed, apperrors.HTTPErrorResponse{
				Error: apperrors.ErrorInfo{
					Code:    apperrors.ErrInvalidInput,
					Message: "The API is read-only",
				},
			})
		}
	}
}

// ErrorHandler renders errors in the API error shape.
func ErrorHandler(err error, c echo.Context) {
	if _, ok := err.(*echo.HTTPError); !ok {
		err = apperrors.ToHTTPError(err)
	}
	he := err.(*echo.HTTPError)

	body, ok := he.Message.(apperrors.HTTPErrorResponse)
	if !ok {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		body = apperrors.HTTPErrorResponse{Error: apperrors.ErrorInfo{Code: codeFor(he.Code), Message: msg}}
	}

	if he.Code >= http.StatusInternalServerError {
		logger.GetLogger(c).WithError(he).Error("Request error")
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, body)
}

func codeFor(status int) apperrors.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusBadRequest, http.StatusMethodNotAllowed:
		return apperrors.ErrInvalidInput
	default:
		return apperrors.ErrInternal
	}
}
