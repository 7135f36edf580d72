package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeEscrowCreated   = "escrow.created"
	EventTypeEscrowReleased  = "escrow.released"
	EventTypeEscrowCancelled = "escrow.cancelled"
	EventTypeEscrowDisputed  = "escrow.disputed"
	EventTypeEscrowRefunded  = "escrow.refunded"
	EventTypeEscrowResolved  = "escrow.resolved"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowCreated, e, nil)
}

// NewReleasedEvent returns the canonical event payload for a release of the
// deposit to the seller, including the fee that was skimmed.
func NewReleasedEvent(e *Escrow, fee *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowReleased, e, nil)
	if fee != nil {
		evt.Attributes["fee"] = fee.String()
	}
	return evt
}

// NewCancelledEvent returns the canonical event payload for a buyer
// cancellation.
func NewCancelledEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowCancelled, e, nil)
}

// NewDisputedEvent returns the canonical event payload emitted when a party
// raises a dispute.
func NewDisputedEvent(e *Escrow, raisedBy [20]byte) *types.Event {
	extra := map[string]string{"raisedBy": hex.EncodeToString(raisedBy[:])}
	return newEscrowEvent(EventTypeEscrowDisputed, e, extra)
}

// NewRefundedEvent returns the canonical event payload for a disputed-escrow
// refund to the buyer.
func NewRefundedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowRefunded, e, nil)
}

// NewResolvedEvent returns the canonical event payload emitted when an
// arbiter settles a dispute.
func NewResolvedEvent(e *Escrow, arbiter [20]byte, decision Decision) *types.Event {
	extra := map[string]string{
		"arbiter":  hex.EncodeToString(arbiter[:]),
		"decision": decision.String(),
	}
	return newEscrowEvent(EventTypeEscrowResolved, e, extra)
}

func newEscrowEvent(eventType string, e *Escrow, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	evt := &types.Event{Type: eventType, Attributes: attrs}
	if e == nil {
		return evt
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return evt
	}
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["amount"] = sanitized.Amount.String()
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	for key, value := range extra {
		attrs[key] = value
	}
	return evt
}
