package fees

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeConfigInitialized = "fees.config_initialized"
	EventTypeFeesWithdrawn     = "fees.withdrawn"
)

type feeEvent struct {
	evt *types.Event
}

func (e feeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e feeEvent) Event() *types.Event { return e.evt }

// NewConfigInitializedEvent returns the payload emitted once when the
// platform config is created.
func NewConfigInitializedEvent(c *Config) *types.Event {
	attrs := make(map[string]string)
	if c != nil {
		attrs["admin"] = hex.EncodeToString(c.Admin[:])
		attrs["feeBps"] = strconv.FormatUint(uint64(c.FeeBasisPoints), 10)
		attrs["feeCollector"] = hex.EncodeToString(c.FeeCollector[:])
	}
	return &types.Event{Type: EventTypeConfigInitialized, Attributes: attrs}
}

// NewFeesWithdrawnEvent returns the payload emitted when the admin drains
// accumulated fees from the collector.
func NewFeesWithdrawnEvent(c *Config, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	if c != nil {
		attrs["admin"] = hex.EncodeToString(c.Admin[:])
		attrs["feeCollector"] = hex.EncodeToString(c.FeeCollector[:])
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeFeesWithdrawn, Attributes: attrs}
}
