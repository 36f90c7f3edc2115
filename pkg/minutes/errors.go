package minutes

import (
	"errors"
	"fmt"
)

// Error categories surfaced to callers. Every domain error wraps exactly one of them.
var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientMinutes = errors.New("insufficient minutes")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrGateway             = errors.New("payment gateway error")
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
)

// Domain-level error values returned by the services and stores.
var (
	ErrUnknownUser         = fmt.Errorf("%w: unknown user", ErrNotFound)
	ErrUnknownPackage      = fmt.Errorf("%w: unknown package", ErrNotFound)
	ErrUnknownOrder        = fmt.Errorf("%w: unknown order", ErrNotFound)
	ErrUnknownConversation = fmt.Errorf("%w: unknown conversation", ErrNotFound)

	ErrDuplicateOrder        = fmt.Errorf("%w: duplicate order id", ErrConflict)
	ErrDuplicateWebhookEvent = fmt.Errorf("%w: duplicate webhook event", ErrConflict)
	ErrPaymentSettled        = fmt.Errorf("%w: payment already settled", ErrConflict)
	ErrConversationClosed    = fmt.Errorf("%w: conversation closed", ErrConflict)

	ErrAmountMismatch = fmt.Errorf("%w: amount mismatch", ErrPaymentNotCompleted)

	ErrInvalidUserID             = fmt.Errorf("%w: invalid user id", ErrValidation)
	ErrInvalidPackageID          = fmt.Errorf("%w: invalid package id", ErrValidation)
	ErrInvalidOrderID            = fmt.Errorf("%w: invalid order id", ErrValidation)
	ErrInvalidConversationID     = fmt.Errorf("%w: invalid conversation id", ErrValidation)
	ErrInvalidMinutes            = fmt.Errorf("%w: invalid minutes", ErrValidation)
	ErrInvalidDuration           = fmt.Errorf("%w: invalid duration", ErrValidation)
	ErrInvalidMessageContent     = fmt.Errorf("%w: invalid message content", ErrValidation)
	ErrInvalidPaymentStatus      = fmt.Errorf("%w: invalid payment status", ErrValidation)
	ErrInvalidConversationStatus = fmt.Errorf("%w: invalid conversation status", ErrValidation)
	ErrOrderOwnerMismatch        = fmt.Errorf("%w: order belongs to another user or package", ErrValidation)
	ErrInvalidServiceConfig      = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
