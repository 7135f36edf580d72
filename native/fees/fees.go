package fees

import (
	"errors"
	"math/big"
)

// MaxFeeBasisPoints caps the platform fee at 10%.
const MaxFeeBasisPoints uint32 = 1000

var (
	// ErrAlreadyInitialized marks a second attempt to create the config
	// singleton. The original record is left unchanged.
	ErrAlreadyInitialized = errors.New("fees: config already initialized")
	// ErrNotInitialized marks operations that need the config singleton
	// before it exists.
	ErrNotInitialized = errors.New("fees: config not initialized")
	// ErrFeeTooHigh rejects fee rates above MaxFeeBasisPoints.
	ErrFeeTooHigh = errors.New("fees: fee basis points above maximum")
	// ErrUnauthorized marks callers that are not the stored admin.
	ErrUnauthorized = errors.New("fees: unauthorized caller")
	// ErrInsufficientFunds marks withdrawals beyond the collector balance.
	ErrInsufficientFunds = errors.New("fees: insufficient collector balance")
)

// Config is the platform singleton: the administrator identity, the fee rate
// skimmed on successful release, and the identity that accumulates the fees.
type Config struct {
	Admin          [20]byte
	FeeBasisPoints uint32
	FeeCollector   [20]byte
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// IsAdmin reports whether the address matches the stored administrator.
func (c *Config) IsAdmin(addr [20]byte) bool {
	return c != nil && c.Admin == addr
}

// Fee computes the platform fee for the given amount: floor(amount * bps /
// 10_000). Arithmetic is performed on big integers so it can neither wrap
// nor overflow.
func Fee(amount *big.Int, feeBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || feeBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(feeBps)))
	return fee.Div(fee, big.NewInt(10_000))
}
