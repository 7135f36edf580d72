package reputation

import (
	"encoding/hex"
	"strconv"

	"escrowd/core/types"
)

// EventTypeReputationUpdated is emitted on initialization and on every
// recorded outcome.
const EventTypeReputationUpdated = "reputation.updated"

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// NewReputationUpdatedEvent returns the payload carrying the user's current
// tallies.
func NewReputationUpdatedEvent(r *Reputation) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["user"] = hex.EncodeToString(r.User[:])
		attrs["successfulTrades"] = strconv.FormatUint(r.SuccessfulTrades, 10)
		attrs["failedTrades"] = strconv.FormatUint(r.FailedTrades, 10)
	}
	return &types.Event{Type: EventTypeReputationUpdated, Attributes: attrs}
}
