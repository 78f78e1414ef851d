package errors

import "net/http"

// ErrorCode is a string identifier for a specific error condition.
// Codes are grouped by module prefix: COMMON for cross-cutting failures,
// FIT for the statistical inference engine, DATA for dataset adapters.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	ErrCodeUnknown           ErrorCode = "COMMON_000"
	ErrCodeInternal          ErrorCode = "COMMON_001"
	ErrCodeBadRequest        ErrorCode = "COMMON_002"
	ErrCodeNotFound          ErrorCode = "COMMON_003"
	ErrCodeConflict          ErrorCode = "COMMON_004"
	ErrCodeTimeout           ErrorCode = "COMMON_005"
	ErrCodeSerialization     ErrorCode = "COMMON_006"
	ErrCodeDatabaseError     ErrorCode = "COMMON_007"
	ErrCodeCacheError        ErrorCode = "COMMON_008"
	ErrCodeMessageQueueError ErrorCode = "COMMON_009"
	ErrCodeUnavailable       ErrorCode = "COMMON_010"

	CodeOK = ErrorCode("OK")
)

// Inference engine error codes.
const (
	// ErrCodeInvalidData marks malformed or insufficient input observations:
	// fewer than two units, negative or non-integral counts, non-finite
	// covariates.  Non-retryable; the caller must fix the data.
	ErrCodeInvalidData ErrorCode = "FIT_001"

	// ErrCodeNumericalOverflow marks an expected rate leaving the
	// representable range during evaluation.  Retryable with a different
	// initial point or tighter step control.
	ErrCodeNumericalOverflow ErrorCode = "FIT_002"

	// ErrCodeSingularHessian marks a candidate mode whose negated curvature
	// is not positive-definite: the posterior covariance is undefined, which
	// usually signals the effect scale is unidentified by the data.
	ErrCodeSingularHessian ErrorCode = "FIT_003"

	// ErrCodeDegenerateExpectation marks a standardized-residual computation
	// whose model-implied expectation is effectively zero.
	ErrCodeDegenerateExpectation ErrorCode = "FIT_004"

	// ErrCodeFitNotFound marks a lookup of a fit run that does not exist.
	ErrCodeFitNotFound ErrorCode = "FIT_005"
)

// Dataset adapter error codes.
const (
	ErrCodeDatasetParse     ErrorCode = "DATA_001"
	ErrCodeDatasetDuplicate ErrorCode = "DATA_002"
)

// errorCodeHTTPStatus maps ErrorCodes to HTTP status codes for the API layer.
var errorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:          http.StatusInternalServerError,
	ErrCodeBadRequest:        http.StatusBadRequest,
	ErrCodeNotFound:          http.StatusNotFound,
	ErrCodeConflict:          http.StatusConflict,
	ErrCodeTimeout:           http.StatusGatewayTimeout,
	ErrCodeSerialization:     http.StatusInternalServerError,
	ErrCodeDatabaseError:     http.StatusInternalServerError,
	ErrCodeCacheError:        http.StatusInternalServerError,
	ErrCodeMessageQueueError: http.StatusInternalServerError,
	ErrCodeUnavailable:       http.StatusServiceUnavailable,

	ErrCodeInvalidData:           http.StatusUnprocessableEntity,
	ErrCodeNumericalOverflow:     http.StatusInternalServerError,
	ErrCodeSingularHessian:       http.StatusUnprocessableEntity,
	ErrCodeDegenerateExpectation: http.StatusInternalServerError,
	ErrCodeFitNotFound:           http.StatusNotFound,

	ErrCodeDatasetParse:     http.StatusBadRequest,
	ErrCodeDatasetDuplicate: http.StatusConflict,
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode, defaulting
// to 500 for unmapped codes.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether the ErrorCode maps to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}
