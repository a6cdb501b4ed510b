package orchestrator

// Per-leg error codes. Fatal codes are never retried; only
// DestinationDepositFailed marks the leg retry-eligible, because by
// then the bridge transfer is already committed to the destination
// chain.
const (
	ErrCodeValidation               = "VALIDATION_ERROR"
	ErrCodeInsufficientBalance      = "INSUFFICIENT_BALANCE"
	ErrCodeInsufficientBridgeFee    = "INSUFFICIENT_BRIDGE_FEE"
	ErrCodeBridgeTransferFailed     = "BRIDGE_TRANSFER_FAILED"
	ErrCodeDestinationDepositFailed = "DESTINATION_DEPOSIT_FAILED"
	ErrCodeTransactionTimeout       = "TRANSACTION_TIMEOUT"
	ErrCodeUnsupportedChain         = "UNSUPPORTED_CHAIN"
	ErrCodeUnsupportedToken         = "UNSUPPORTED_TOKEN"
)

// legError carries a coded failure through leg execution.
type legError struct {
	code          string
	msg           string
	txHash        string
	retryEligible bool
}

func (e *legError) Error() string { return e.code + ": " + e.msg }

func failLeg(code, msg string) *legError {
	return &legError{code: code, msg: msg}
}
