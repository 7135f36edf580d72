package arbiter

import (
	"encoding/hex"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeArbiterAdded   = "arbiter.added"
	EventTypeArbiterRemoved = "arbiter.removed"
)

type arbiterEvent struct {
	evt *types.Event
}

func (e arbiterEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e arbiterEvent) Event() *types.Event { return e.evt }

// NewArbiterAddedEvent returns the payload emitted when an arbiter is
// registered.
func NewArbiterAddedEvent(r *Record) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["arbiter"] = hex.EncodeToString(r.Arbiter[:])
		attrs["addedBy"] = hex.EncodeToString(r.AddedBy[:])
		attrs["addedAt"] = strconv.FormatInt(r.AddedAt, 10)
	}
	return &types.Event{Type: EventTypeArbiterAdded, Attributes: attrs}
}

// NewArbiterRemovedEvent returns the payload emitted when an arbiter is
// deactivated.
func NewArbiterRemovedEvent(r *Record, removedBy [20]byte) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["arbiter"] = hex.EncodeToString(r.Arbiter[:])
	}
	attrs["removedBy"] = hex.EncodeToString(removedBy[:])
	return &types.Event{Type: EventTypeArbiterRemoved, Attributes: attrs}
}
