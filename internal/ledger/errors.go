package ledger

import "errors"

var (
	ErrBatchNotFound          = errors.New("batch not found")
	ErrInvalidStateTransition = errors.New("invalid batch state transition")
	ErrUnknownTransactionCode = errors.New("unknown transaction code")
	ErrPersistenceFailure     = errors.New("persistence failure")
	ErrInvalidBatch           = errors.New("invalid batch")
	ErrDuplicateKey           = errors.New("duplicate idempotency key")

	ErrInvestorNotFound   = errors.New("investor not found")
	ErrInvalidInvestor    = errors.New("invalid investor")
	ErrCommitmentNotFound = errors.New("commitment not found")
	ErrInvalidCommitment  = errors.New("invalid commitment")
)
