package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"escrowd/core/state"
)

// EscrowStatus represents the lifecycle states of an escrow record. Active is
// the initial state; Completed and Cancelled are terminal.
type EscrowStatus uint8

const (
	EscrowActive EscrowStatus = iota
	EscrowDisputed
	EscrowCompleted
	EscrowCancelled
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowActive, EscrowDisputed, EscrowCompleted, EscrowCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowCompleted || s == EscrowCancelled
}

func (s EscrowStatus) String() string {
	switch s {
	case EscrowActive:
		return "active"
	case EscrowDisputed:
		return "disputed"
	case EscrowCompleted:
		return "completed"
	case EscrowCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Deposit bounds, in base units. Carried over from the platform's original
// deployment parameters.
var (
	MinEscrowAmount = big.NewInt(10_000_000)
	MaxEscrowAmount = big.NewInt(1_000_000_000_000)
)

// Escrow is the custodial record holding a buyer's deposit pending release to
// the seller. Records are keyed by the (buyer, seller) pair and never deleted;
// terminal statuses freeze them for audit.
type Escrow struct {
	Buyer     [20]byte
	Seller    [20]byte
	Amount    *big.Int
	Status    EscrowStatus
	CreatedAt int64
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeEscrow validates the supplied record and returns a cloned instance
// with a non-nil amount. The original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if clone.Buyer == clone.Seller {
		return nil, fmt.Errorf("escrow buyer and seller must differ")
	}
	return clone, nil
}

// StorageKey derives the persistent key for the pair's escrow record.
func StorageKey(buyer, seller [20]byte) []byte {
	return state.DeriveKey("escrow", buyer[:], seller[:])
}

// VaultAddress derives the holding address that keeps the deposit while the
// escrow is open. No key controls the address; only engine transitions move
// value out of it.
func VaultAddress(buyer, seller [20]byte) [20]byte {
	return state.DeriveAddress("escrow/vault", buyer[:], seller[:])
}

// Decision is an arbiter's ruling on a disputed escrow.
type Decision uint8

const (
	DecisionFavorBuyer Decision = iota + 1
	DecisionFavorSeller
	DecisionSplit
)

// ParseDecision converts the wire representation of a ruling.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "favor_buyer", "favorbuyer":
		return DecisionFavorBuyer, nil
	case "favor_seller", "favorseller":
		return DecisionFavorSeller, nil
	case "split":
		return DecisionSplit, nil
	default:
		return 0, ErrInvalidDecision
	}
}

func (d Decision) String() string {
	switch d {
	case DecisionFavorBuyer:
		return "favor_buyer"
	case DecisionFavorSeller:
		return "favor_seller"
	case DecisionSplit:
		return "split"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// Valid reports whether the decision is one of the three supported rulings.
func (d Decision) Valid() bool {
	switch d {
	case DecisionFavorBuyer, DecisionFavorSeller, DecisionSplit:
		return true
	default:
		return false
	}
}
