package errors

import (
	"errors"
	"fmt"
)

// ErrorType buckets errors by how callers should react to them.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeResource       ErrorType = "resource"
	ErrorTypeBusiness       ErrorType = "business"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeSystem         ErrorType = "system"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewAuthenticationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Code:       "UNAUTHORIZED",
		Message:    message,
		Retryable:  false,
		StatusCode: 401,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Code:       "FORBIDDEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeResource,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeResource,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewExternalError(buyer, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "BUYER_ENDPOINT_ERROR",
		Message:    fmt.Sprintf("buyer %s: %s", buyer, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"buyer": buyer},
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeSystem,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

// Predefined common errors
var (
	ErrLeadNotFound      = NewNotFoundError("lead")
	ErrBuyerNotFound     = NewNotFoundError("buyer")
	ErrAlreadyProcessing = NewConflictError("lead is already being processed")
	ErrNoEligibleBuyers  = NewBusinessError("NO_ELIGIBLE_BUYERS", "no eligible buyers for lead")
	ErrNoBids            = NewBusinessError("NO_BIDS", "no valid bids received")
	ErrAllPostsFailed    = NewBusinessError("ALL_POSTS_FAILED", "delivery failed for every bidder")
	ErrQuotaExceeded     = NewBusinessError("QUOTA_EXCEEDED", "buyer daily lead quota exhausted")
	ErrBidOutOfRange     = NewBusinessError("OUT_OF_RANGE", "bid amount outside effective range")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
