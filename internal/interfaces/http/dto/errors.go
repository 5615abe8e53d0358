package dto

import "net/http"

// Transport-level error codes
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
)

// errorCodeHTTPStatus maps domain error codes to HTTP status codes. Codes
// absent from the map fall back to 422: the request was well-formed but the
// domain rejected it.
var errorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeNotFound:     http.StatusNotFound,

	"ALREADY_EXISTS":       http.StatusConflict,
	"CONCURRENCY_CONFLICT": http.StatusConflict,
	"INVALID_INPUT":        http.StatusBadRequest,

	// Lifecycle conflicts: the caller's view of the aggregate is stale
	"INVALID_TRANSITION": http.StatusConflict,
	"INVALID_STATE":      http.StatusConflict,
	"ALREADY_FINALIZED":  http.StatusConflict,
	"ALREADY_PAID":       http.StatusConflict,
	"DISPUTE_CLOSED":     http.StatusConflict,

	// Domain rejections on current facts
	"PRE_INVOICE_BLOCKED":      http.StatusUnprocessableEntity,
	"PRE_INVOICE_ARCHIVED":     http.StatusUnprocessableEntity,
	"ERP_EXPORT_EXHAUSTED":     http.StatusUnprocessableEntity,
	"EXPORT_ACKNOWLEDGED":      http.StatusUnprocessableEntity,
	"NO_APPLICABLE_GRID":       http.StatusUnprocessableEntity,
	"NOT_FINALIZED":            http.StatusUnprocessableEntity,
	"UNRESOLVED_DISCREPANCIES": http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for an error code
func GetHTTPStatus(code string) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusUnprocessableEntity
}
