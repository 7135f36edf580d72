package reputation

import (
	"fmt"
	"strings"
)

// Reputation is the per-identity running tally of trade outcomes. Counters
// only ever grow, using saturating arithmetic.
type Reputation struct {
	User             [20]byte
	SuccessfulTrades uint64
	FailedTrades     uint64
}

// Clone returns a copy of the tally.
func (r *Reputation) Clone() *Reputation {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// TotalTrades returns the combined count, saturating instead of wrapping.
func (r *Reputation) TotalTrades() uint64 {
	if r == nil {
		return 0
	}
	total := r.SuccessfulTrades + r.FailedTrades
	if total < r.SuccessfulTrades {
		return ^uint64(0)
	}
	return total
}

// SuccessRate returns the percentage of successful trades, or zero when no
// trades are recorded.
func (r *Reputation) SuccessRate() float64 {
	total := r.TotalTrades()
	if total == 0 {
		return 0
	}
	return float64(r.SuccessfulTrades) / float64(total) * 100
}

func saturatingInc(v uint64) uint64 {
	if v == ^uint64(0) {
		return v
	}
	return v + 1
}

// Outcome classifies a trade result for reputation purposes.
type Outcome uint8

const (
	OutcomeSuccessful Outcome = iota + 1
	OutcomeFailed
)

// ParseOutcome converts the wire representation of an outcome.
func ParseOutcome(raw string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "successful", "success":
		return OutcomeSuccessful, nil
	case "failed", "failure":
		return OutcomeFailed, nil
	default:
		return 0, fmt.Errorf("reputation: invalid outcome %q", raw)
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccessful:
		return "successful"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}
