package minutes

import (
	"errors"
	"testing"
	"time"
)

const (
	operationName    = "settlement"
	subjectName      = "gateway"
	codeName         = "fetch"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) || operationError.Code() != codeName {
		test.Fatalf("expected OperationError with code %q, got %v", codeName, wrappedError)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestErrorCategories(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		err      error
		category error
	}{
		{err: ErrUnknownUser, category: ErrNotFound},
		{err: ErrUnknownConversation, category: ErrNotFound},
		{err: ErrAmountMismatch, category: ErrPaymentNotCompleted},
		{err: ErrPaymentSettled, category: ErrConflict},
		{err: ErrConversationClosed, category: ErrConflict},
		{err: ErrOrderOwnerMismatch, category: ErrValidation},
		{err: gatewayFailure(errorCodeFetch, errors.New("dial tcp")), category: ErrGateway},
	}
	for _, testCase := range testCases {
		if !errors.Is(testCase.err, testCase.category) {
			test.Fatalf("expected %v to wrap %v", testCase.err, testCase.category)
		}
	}
}

func mustTime(test *testing.T, raw string) time.Time {
	test.Helper()
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		test.Fatalf("parse time: %v", err)
	}
	return parsed
}
