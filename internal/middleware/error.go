package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go-press/internal/errs"
	"go-press/internal/logger"
	"go-press/internal/service"
)

// AppError represents a custom error type for the application.
type AppError struct {
	Error   error
	Message string
	Code    int
	// RetryAfter, when set, is sent as the Retry-After header.
	RetryAfter time.Duration
}

// AppHandler is a custom handler function type that returns an AppError.
type AppHandler func(http.ResponseWriter, *http.Request) *AppError

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// FromError maps err onto an HTTP status using the storage error taxonomy.
// message is used for server errors, whose details stay in the log.
func FromError(err error, message string) *AppError {
	switch {
	case errs.IsNotFound(err):
		return &AppError{Error: err, Message: err.Error(), Code: http.StatusNotFound}
	case errs.IsDuplicateSlug(err):
		return &AppError{Error: err, Message: err.Error(), Code: http.StatusConflict}
	case errors.Is(err, service.ErrValidation), errs.IsConstraintViolation(err):
		return &AppError{Error: err, Message: err.Error(), Code: http.StatusUnprocessableEntity}
	case errs.IsPoolExhausted(err):
		return &AppError{Error: err, Message: "storage busy, retry later", Code: http.StatusServiceUnavailable, RetryAfter: time.Second}
	default:
		return &AppError{Error: err, Message: message, Code: http.StatusInternalServerError}
	}
}

// BadRequest wraps a malformed-input error.
func BadRequest(err error, message string) *AppError {
	return &AppError{Error: err, Message: message, Code: http.StatusBadRequest}
}

// Error is a middleware that converts handler errors into JSON error responses.
func Error(log logger.Logger) func(AppHandler) http.Handler {
	return func(next AppHandler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("%v", rec)
					}
					log.Error(err, "Panic recovered")
					writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()

			appErr := next(w, r)
			if appErr == nil {
				return
			}

			reqLog := log.With(map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": appErr.Code,
			})
			if appErr.Code >= http.StatusInternalServerError {
				reqLog.Error(appErr.Error, appErr.Message)
			} else {
				reqLog.Warn(appErr.Message)
			}

			if appErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
			}
			writeError(w, appErr.Code, appErr.Message)
		})
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}
