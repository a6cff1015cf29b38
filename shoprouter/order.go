package shoprouter

import (
	"github.com/google/uuid"

	"github.com/Rpetey317/heladeria/stock"
)

// activeOrder tracks one in-flight order's fan-out across flavors, mirroring
// spec.md §3's Order record.
type activeOrder struct {
	id             uuid.UUID
	screenID       uint32
	screenAddress  string
	flavorsToOrder int
	flavorsOrdered []stock.FlavorUnits
}

// done reports whether every requested flavor has been reserved.
func (o *activeOrder) done() bool {
	return len(o.flavorsOrdered) == o.flavorsToOrder
}

// MakeOrderRequest is what a robot session hands the Router to place an
// order on behalf of a screen, corresponding to spec.md §4.2's MakeOrder.
type MakeOrderRequest struct {
	Flavors       []string
	Size          uint32
	ScreenID      uint32
	ScreenAddress string
}
