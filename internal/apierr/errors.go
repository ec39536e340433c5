package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// AUTH_ - Authentication and authorization errors
	ErrAuthMissing   ErrorCode = "AUTH_MISSING"
	ErrAuthInvalid   ErrorCode = "AUTH_INVALID"
	ErrAuthForbidden ErrorCode = "AUTH_FORBIDDEN"

	// SCRAPER_ - Scraper lifecycle errors
	ErrScraperNotFound       ErrorCode = "SCRAPER_NOT_FOUND"
	ErrScraperAlreadyRunning ErrorCode = "SCRAPER_ALREADY_RUNNING"
	ErrScraperLaunchFailed   ErrorCode = "SCRAPER_LAUNCH_FAILED"
	ErrScraperStopFailed     ErrorCode = "SCRAPER_STOP_FAILED"
	ErrScraperLogsFailed     ErrorCode = "SCRAPER_LOGS_FAILED"
	ErrRuntimeUnavailable    ErrorCode = "SCRAPER_RUNTIME_UNAVAILABLE"

	// QUEUE_ - Subreddit queue mutation errors
	ErrQueueInvalidSubreddit ErrorCode = "QUEUE_INVALID_SUBREDDIT"
	ErrQueuePrimaryProtected ErrorCode = "QUEUE_PRIMARY_PROTECTED"
	ErrQueueLimitExceeded    ErrorCode = "QUEUE_LIMIT_EXCEEDED"

	// ACCOUNT_ - Credential account errors
	ErrAccountNotFound   ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrAccountSealFailed ErrorCode = "ACCOUNT_SEAL_FAILED"

	// SYSTEM_ - System and server errors
	ErrSystemInternal    ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemDatabase    ErrorCode = "SYSTEM_DATABASE"
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"
	ErrSystemTimeout     ErrorCode = "SYSTEM_TIMEOUT"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON   ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationInvalidFormat ErrorCode = "VALIDATION_INVALID_FORMAT"
	ErrValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue  ErrorCode = "VALIDATION_INVALID_VALUE"

	// RESOURCE_ - Resource errors
	ErrResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrResourceConflict ErrorCode = "RESOURCE_CONFLICT"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// Helper functions for common errors

// AuthMissing creates an authentication missing error
func AuthMissing(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return New(ErrAuthMissing, message, http.StatusUnauthorized)
}

// AuthInvalid creates an invalid authentication error
func AuthInvalid(message string) *Error {
	if message == "" {
		message = "Invalid authentication credentials"
	}
	return New(ErrAuthInvalid, message, http.StatusUnauthorized)
}

// AuthForbidden creates a forbidden error
func AuthForbidden(message string) *Error {
	if message == "" {
		message = "Access forbidden"
	}
	return New(ErrAuthForbidden, message, http.StatusForbidden)
}

// ScraperNotFound creates a scraper not found error
func ScraperNotFound(id string) *Error {
	return New(ErrScraperNotFound, "Scraper not found: "+id, http.StatusNotFound).
		WithDetails(map[string]interface{}{"scraper_id": id})
}

// ScraperAlreadyRunning creates a conflict error for a scraper that is already up
func ScraperAlreadyRunning(id string) *Error {
	return New(ErrScraperAlreadyRunning, "Scraper already running: "+id, http.StatusConflict).
		WithDetails(map[string]interface{}{"scraper_id": id})
}

// ScraperLaunchFailed creates a launch failure error
func ScraperLaunchFailed(message string) *Error {
	if message == "" {
		message = "Failed to launch scraper container"
	}
	return New(ErrScraperLaunchFailed, message, http.StatusInternalServerError)
}

// ScraperStopFailed creates a stop failure error
func ScraperStopFailed(message string) *Error {
	if message == "" {
		message = "Failed to stop scraper container"
	}
	return New(ErrScraperStopFailed, message, http.StatusInternalServerError)
}

// ScraperLogsFailed creates a log retrieval failure error
func ScraperLogsFailed(message string) *Error {
	if message == "" {
		message = "Failed to read scraper logs"
	}
	return New(ErrScraperLogsFailed, message, http.StatusInternalServerError)
}

// RuntimeUnavailable creates a container runtime unavailable error
func RuntimeUnavailable(message string) *Error {
	if message == "" {
		message = "Container runtime unavailable"
	}
	return New(ErrRuntimeUnavailable, message, http.StatusServiceUnavailable)
}

// QueueInvalidSubreddit creates an invalid subreddit error
func QueueInvalidSubreddit(message string) *Error {
	if message == "" {
		message = "Invalid subreddit name"
	}
	return New(ErrQueueInvalidSubreddit, message, http.StatusBadRequest)
}

// QueuePrimaryProtected rejects removal of a scraper's primary subreddit
func QueuePrimaryProtected(sub string) *Error {
	return New(ErrQueuePrimaryProtected, "Cannot remove primary subreddit: "+sub, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"subreddit": sub})
}

// QueueLimitExceeded rejects a queue mutation that would exceed the list cap
func QueueLimitExceeded(limit int) *Error {
	return New(ErrQueueLimitExceeded, "Subreddit list limit exceeded", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"limit": limit})
}

// AccountNotFound creates an account not found error
func AccountNotFound(name string) *Error {
	return New(ErrAccountNotFound, "Account not found: "+name, http.StatusNotFound).
		WithDetails(map[string]interface{}{"account_name": name})
}

// AccountSealFailed creates a credential sealing failure error
func AccountSealFailed(message string) *Error {
	if message == "" {
		message = "Failed to seal account credentials"
	}
	return New(ErrAccountSealFailed, message, http.StatusInternalServerError)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemDatabase creates a database error
func SystemDatabase(message string) *Error {
	if message == "" {
		message = "Database error"
	}
	return New(ErrSystemDatabase, message, http.StatusInternalServerError)
}

// SystemUnavailable creates a service unavailable error
func SystemUnavailable(message string) *Error {
	if message == "" {
		message = "Service unavailable"
	}
	return New(ErrSystemUnavailable, message, http.StatusServiceUnavailable)
}

// SystemTimeout creates a system timeout error
func SystemTimeout(message string) *Error {
	if message == "" {
		message = "Request timeout"
	}
	return New(ErrSystemTimeout, message, http.StatusRequestTimeout)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

// ValidationInvalidFormat creates an invalid format error
func ValidationInvalidFormat(message string) *Error {
	if message == "" {
		message = "Invalid request format"
	}
	return New(ErrValidationInvalidFormat, message, http.StatusBadRequest)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ResourceNotFound creates a resource not found error
func ResourceNotFound(resourceType string) *Error {
	return New(ErrResourceNotFound, resourceType+" not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"resource_type": resourceType})
}

// ResourceConflict creates a resource conflict error
func ResourceConflict(message string) *Error {
	if message == "" {
		message = "Resource conflict"
	}
	return New(ErrResourceConflict, message, http.StatusConflict)
}

// RateLimitGlobal creates a global rate limit error
func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

// RateLimitIP creates an IP rate limit error
func RateLimitIP() *Error {
	return New(ErrRateLimitIP, "Rate limit exceeded - too many requests from your IP", http.StatusTooManyRequests)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
