package domain

// Effect is a bit set of side effects attached to a legal transition.
type Effect uint8

const (
	// EffectRestock releases every line item back to inventory.
	EffectRestock Effect = 1 << iota
	// EffectRefund credits the wallet with the order total when the order is paid.
	EffectRefund
	// EffectSettle marks cash collected on delivery as paid.
	EffectSettle
	// EffectNeedsReturnRequest requires a prior customer return request.
	EffectNeedsReturnRequest
)

func (e Effect) Has(flag Effect) bool {
	return e&flag != 0
}

var transitions = map[OrderStatus]map[OrderStatus]Effect{
	OrderPending: {
		OrderProcessing: 0,
		OrderCancelled:  EffectRestock | EffectRefund,
	},
	OrderProcessing: {
		OrderShipped: 0,
	},
	OrderShipped: {
		OrderDelivered: EffectSettle,
	},
	OrderDelivered: {
		OrderReturned: EffectRestock | EffectRefund | EffectNeedsReturnRequest,
	},
}

// LookupTransition returns the effects of moving from one status to another
// and whether the move is legal at all.
func LookupTransition(from, to OrderStatus) (Effect, bool) {
	next, ok := transitions[from]
	if !ok {
		return 0, false
	}
	effect, ok := next[to]
	return effect, ok
}
