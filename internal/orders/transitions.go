package orders

import (
	"github.com/jmcardona/orderledger/pkg/enums"
)

// allowedTransitions is the adjacency table for the order lifecycle. Anything
// absent here is rejected. Cancelled and delivered have no outgoing edges.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusProcessing,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusProcessing: {
		enums.OrderStatusShipping,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusShipping: {
		enums.OrderStatusDelivered,
		enums.OrderStatusCancelled,
	},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// stageRank orders the forward lifecycle stages for settlement policy checks.
var stageRank = map[enums.OrderStatus]int{
	enums.OrderStatusPending:    0,
	enums.OrderStatusProcessing: 1,
	enums.OrderStatusShipping:   2,
	enums.OrderStatusDelivered:  3,
}

// atOrPastStage reports whether status has reached the given stage. Cancelled
// orders have left the forward lifecycle and never satisfy a stage check.
func atOrPastStage(status, stage enums.OrderStatus) bool {
	current, ok := stageRank[status]
	if !ok {
		return false
	}
	target, ok := stageRank[stage]
	if !ok {
		return false
	}
	return current >= target
}
