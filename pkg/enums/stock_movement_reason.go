package enums

import "fmt"

// StockMovementReason tags every ledger entry with why the quantity moved.
type StockMovementReason string

const (
	StockMovementReasonReservation     StockMovementReason = "reservation"
	StockMovementReasonRelease         StockMovementReason = "release"
	StockMovementReasonFulfillment     StockMovementReason = "fulfillment"
	StockMovementReasonRestock         StockMovementReason = "restock"
	StockMovementReasonAdminAdjustment StockMovementReason = "admin_adjustment"
)

var validStockMovementReasons = []StockMovementReason{
	StockMovementReasonReservation,
	StockMovementReasonRelease,
	StockMovementReasonFulfillment,
	StockMovementReasonRestock,
	StockMovementReasonAdminAdjustment,
}

// String implements fmt.Stringer.
func (s StockMovementReason) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StockMovementReason.
func (s StockMovementReason) IsValid() bool {
	for _, candidate := range validStockMovementReasons {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStockMovementReason converts raw input into a StockMovementReason.
func ParseStockMovementReason(value string) (StockMovementReason, error) {
	for _, candidate := range validStockMovementReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock movement reason %q", value)
}
