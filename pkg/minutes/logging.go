package minutes

import "context"

// ServiceOption configures the domain services.
type ServiceOption func(*serviceOptions)

// OperationLogger records domain-level events emitted by service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation.
type OperationLog struct {
	Operation      string
	UserID         UserID
	OrderID        OrderID
	PackageID      PackageID
	ConversationID ConversationID
	Minutes        Minutes
	Balance        Minutes
	Detail         string
	Status         string
	Error          error
}

type serviceOptions struct {
	logger OperationLogger
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(options *serviceOptions) {
		options.logger = logger
	}
}

func collectOptions(options []ServiceOption) serviceOptions {
	collected := serviceOptions{}
	for _, option := range options {
		if option != nil {
			option(&collected)
		}
	}
	return collected
}

func (options serviceOptions) logOperation(ctx context.Context, entry OperationLog) {
	if options.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	options.logger.LogOperation(ctx, entry)
}
