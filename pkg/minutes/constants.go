package minutes

const (
	operationCredit      = "credit"
	operationDebit       = "debit"
	operationInitiate    = "initiate"
	operationConfirm     = "confirm"
	operationWebhook     = "webhook"
	operationReconcile   = "reconcile"
	operationStart       = "conversation_start"
	operationEnd         = "conversation_end"
	operationExchange    = "exchange"
	operationSeedCatalog = "seed_catalog"

	operationStatusOK    = "ok"
	operationStatusError = "error"
	operationStatusNoop  = "noop"

	errorOperationSettlement = "settlement"
	errorSubjectGateway      = "gateway"
	errorSubjectOrder        = "order"
	errorCodeCreate          = "create"
	errorCodeFetch           = "fetch"
	errorCodeRejected        = "rejected"
	errorCodeTimeout         = "timeout"

	// DefaultCurrency is the only currency the catalog sells in.
	DefaultCurrency = "INR"

	// DefaultMinutesPerExchange is the quantum debited per user message.
	DefaultMinutesPerExchange Minutes = 0.2

	maxOrderIDLength      = 50
	maxMessageContentSize = 8000
	orderIDPrefix         = "order"
	orderIDSuffixLength   = 12
	secondsPerMinute      = 60.0
)
