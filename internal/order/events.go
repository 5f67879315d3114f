package order

import "github.com/Meridian-Markets/engine/pkg/model"

// Bus events emitted by the manager. Consumers (websocket stream, alert
// publisher) subscribe by concrete type.

// Accepted is emitted when an order passes risk and fraud checks and is
// persisted, before the broker call.
type Accepted struct {
	Order model.Order
}

// Executed is emitted after the broker reports a fill or partial fill.
type Executed struct {
	Order model.Order
}

// Updated is emitted after an amend is applied.
type Updated struct {
	Order model.Order
}

// Cancelled is emitted after a cancel is applied.
type Cancelled struct {
	Order model.Order
}

// Failed is emitted when the broker call fails after the order was accepted.
type Failed struct {
	Order  model.Order
	Reason string
}

// FraudFlagged is emitted for every non-ALLOW fraud decision, including
// shadow flags on orders that still execute.
type FraudFlagged struct {
	UserID   string
	Decision model.FraudDecision
}
