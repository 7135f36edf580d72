package escrow

import "errors"

var (
	// ErrInvalidState marks an operation invoked against a status outside its
	// guard. The escrow is left untouched.
	ErrInvalidState = errors.New("escrow: invalid state for operation")
	// ErrUnauthorized marks a caller that does not match the identity the
	// operation requires.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInsufficientFunds covers deposits below the minimum amount and
	// buyers whose balance cannot cover the deposit.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrInvalidAmount marks deposits above the maximum amount.
	ErrInvalidAmount = errors.New("escrow: amount above maximum")
	// ErrInvalidParties is returned when buyer and seller are the same
	// identity.
	ErrInvalidParties = errors.New("escrow: buyer and seller must differ")
	// ErrAlreadyExists is returned when an escrow record for the pair exists
	// in any status. Terminal records persist for audit, so a pair gets at
	// most one escrow.
	ErrAlreadyExists = errors.New("escrow: escrow already exists")
	// ErrNotFound marks a missing escrow record.
	ErrNotFound = errors.New("escrow: escrow not found")
	// ErrInvalidDecision marks an unknown dispute resolution decision.
	ErrInvalidDecision = errors.New("escrow: invalid dispute decision")

	errNilState = errors.New("escrow engine: state not configured")
)
