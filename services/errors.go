package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	// Pipeline outcomes. Only generation failures reach the caller as errors.
	ErrorTypeInputRejected     ErrorType = "input_rejected"
	ErrorTypeOutOfScope        ErrorType = "out_of_scope"
	ErrorTypeRetrievalFailure  ErrorType = "retrieval_failure"
	ErrorTypeRerankFailure     ErrorType = "rerank_failure"
	ErrorTypeGenerationFailure ErrorType = "generation_failure"

	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	ErrInputRejected     = NewDomainError(ErrorTypeInputRejected, "input rejected by scope guard", nil)
	ErrOutOfScope        = NewDomainError(ErrorTypeOutOfScope, "no retrievable context", nil)
	ErrRetrievalFailure  = NewDomainError(ErrorTypeRetrievalFailure, "retrieval failed", nil)
	ErrRerankFailure     = NewDomainError(ErrorTypeRerankFailure, "rerank failed", nil)
	ErrGenerationFailure = NewDomainError(ErrorTypeGenerationFailure, "generation failed", nil)

	ErrConversationNotFound = NewDomainError(ErrorTypeNotFound, "conversation not found", nil)
	ErrInvalidInput         = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyMessage         = NewDomainError(ErrorTypeValidation, "message cannot be empty", nil)
)

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsInputRejected checks if an error is a scope guard rejection
func IsInputRejected(err error) bool { return hasType(err, ErrorTypeInputRejected) }

// IsOutOfScope checks if an error is an out-of-scope outcome
func IsOutOfScope(err error) bool { return hasType(err, ErrorTypeOutOfScope) }

// IsRetrievalFailure checks if an error came from embedding or the vector index
func IsRetrievalFailure(err error) bool { return hasType(err, ErrorTypeRetrievalFailure) }

// IsRerankFailure checks if an error came from the reranker
func IsRerankFailure(err error) bool { return hasType(err, ErrorTypeRerankFailure) }

// IsGenerationFailure checks if an error came from the generation model
func IsGenerationFailure(err error) bool { return hasType(err, ErrorTypeGenerationFailure) }

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapRetrieval wraps an embedding or index error as a retrieval failure
func WrapRetrieval(message string, err error) error {
	return NewDomainError(ErrorTypeRetrievalFailure, message, err)
}

// WrapRerank wraps a reranker error as a rerank failure
func WrapRerank(message string, err error) error {
	return NewDomainError(ErrorTypeRerankFailure, message, err)
}

// WrapGeneration wraps a model call error as a generation failure
func WrapGeneration(message string, err error) error {
	return NewDomainError(ErrorTypeGenerationFailure, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
