package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ginjaninja78/xlsx-template-export/internal/engine"
	"github.com/ginjaninja78/xlsx-template-export/internal/export"
	"github.com/ginjaninja78/xlsx-template-export/internal/templatestore"
)

// Response is the JSON envelope of every non-file response.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// sheetProblem is the Data of a sheet-not-found response.
type sheetProblem struct {
	Sheet     string   `json:"sheet"`
	Available []string `json:"available_sheets"`
	Similar   []string `json:"similar_sheets,omitempty"`
}

func responseSuccess(c echo.Context, code int, msg string, data interface{}) error {
	return c.JSON(code, Response{Success: true, Message: msg, Data: data})
}

func responseError(c echo.Context, code int, msg string, data interface{}) error {
	return c.JSON(code, Response{Success: false, Error: msg, Data: data})
}

// errorStatus maps a failure to a status code, a client-facing message and
// optional details. Internal causes of 500s are not exposed.
func errorStatus(err error) (int, string, interface{}) {
	var (
		cfgErr   *engine.InvalidConfigError
		loadErr  *engine.TemplateLoadError
		sheetErr *engine.SheetNotFoundError
		serErr   *engine.SerializationError
	)
	switch {
	case errors.Is(err, export.ErrTooManyRecords), errors.Is(err, export.ErrTemplateTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error(), nil
	case errors.Is(err, export.ErrInvalidRecords):
		return http.StatusBadRequest, err.Error(), nil
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, "invalid template config", cfgErr.Problems
	case errors.As(err, &loadErr):
		return http.StatusUnprocessableEntity, "invalid template file", nil
	case errors.As(err, &sheetErr):
		return http.StatusUnprocessableEntity, sheetErr.Error(), sheetProblem{
			Sheet:     sheetErr.Sheet,
			Available: sheetErr.Available,
			Similar:   sheetErr.Similar,
		}
	case errors.As(err, &serErr):
		return http.StatusInternalServerError, "failed to generate workbook", nil
	case errors.Is(err, templatestore.ErrNotFound):
		return http.StatusNotFound, "not found", nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled", nil
	default:
		return http.StatusInternalServerError, "internal error", nil
	}
}
