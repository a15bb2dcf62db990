package order

import "fmt"

// Status is the order lifecycle state.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaymentSuccess Status = "PAYMENT_SUCCESS"
	StatusOrderConfirmed Status = "ORDER_CONFIRMED"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusCancelled      Status = "CANCELLED"
	StatusRefunded       Status = "REFUNDED"
)

// validNext is the authoritative transition table. PAYMENT_SUCCESS and
// ORDER_CONFIRMED are separate states so "payment captured" and "inventory
// committed" stay observable as distinct, independently re-drivable steps.
// PAYMENT_FAILED <-> PAYMENT_SUCCESS both ways: a failed verification is
// retriable, and a post-capture failure moves a paid-but-unconfirmed order
// into an inspectable state instead of leaving it pending.
var validNext = map[Status]map[Status]bool{
	StatusCreated: {
		StatusPaymentPending: true,
		StatusOrderConfirmed: true, // cash on delivery skips the gateway
	},
	StatusPaymentPending: {
		StatusPaymentSuccess: true,
		StatusPaymentFailed:  true,
		StatusCancelled:      true,
	},
	StatusPaymentFailed: {
		StatusPaymentSuccess: true,
		StatusCancelled:      true,
	},
	StatusPaymentSuccess: {
		StatusOrderConfirmed: true,
		StatusPaymentFailed:  true,
	},
	StatusOrderConfirmed: {
		StatusShipped:  true,
		StatusRefunded: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusRefunded:  true,
	},
	StatusDelivered: {
		StatusRefunded: true,
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// InvalidTransitionError reports a request to move an order between two
// states the lifecycle does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Transition validates from -> to, returning an *InvalidTransitionError
// naming both states when the move is not allowed.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Refundable reports whether an order in the given status can enter the
// refund flow. Refund retries on an already refunded order are handled by the
// orchestrator, not here.
func Refundable(s Status) bool {
	switch s {
	case StatusOrderConfirmed, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// Terminal reports whether the status accepts no further transitions other
// than the refund branch listed in validNext.
func Terminal(s Status) bool {
	return len(validNext[s]) == 0
}
