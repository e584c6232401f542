// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer. Domain packages wrap these so handlers can
// classify failures without importing every package's error set.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// Mark returns a sentinel that matches both class and itself under errors.Is.
//
//	var ErrInsufficientStock = httpx.Mark(httpx.ErrConflict, "ledger: insufficient stock")
func Mark(class error, msg string) error {
	return &classified{class: class, msg: msg}
}

type classified struct {
	class error
	msg   string
}

func (c *classified) Error() string { return c.msg }

func (c *classified) Unwrap() error { return c.class }

// StatusOf reports the HTTP status associated with err.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// IsExpected reports whether err is a business outcome rather than an
// infrastructure failure.
func IsExpected(err error) bool {
	return StatusOf(err) < http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch status := StatusOf(err); status {
	case http.StatusNotFound:
		Problem(w, status, "Not Found", err.Error())
	case http.StatusConflict:
		Problem(w, status, "Conflict", err.Error())
	case http.StatusUnprocessableEntity:
		Problem(w, status, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// SafeMessage returns err's message for expected errors and a generic text
// for infrastructure failures.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsExpected(err) {
		return err.Error()
	}
	return "internal error"
}
