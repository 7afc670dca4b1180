package enums

import "fmt"

// OrderStatus is the lifecycle position of a marketplace order.
type OrderStatus string

const (
	OrderStatusCreated               OrderStatus = "created"
	OrderStatusAccepted              OrderStatus = "accepted"
	OrderStatusRequirementsSubmitted OrderStatus = "requirements_submitted"
	OrderStatusStarted               OrderStatus = "started"
	OrderStatusHalfwayDone           OrderStatus = "halfway_done"
	OrderStatusDelivered             OrderStatus = "delivered"
	OrderStatusRequestedRevision     OrderStatus = "requested_revision"
	OrderStatusWaitingReview         OrderStatus = "waiting_review"
	OrderStatusCompleted             OrderStatus = "completed"
	OrderStatusCancelled             OrderStatus = "cancelled"
	OrderStatusDisputed              OrderStatus = "disputed"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusAccepted,
	OrderStatusRequirementsSubmitted,
	OrderStatusStarted,
	OrderStatusHalfwayDone,
	OrderStatusDelivered,
	OrderStatusRequestedRevision,
	OrderStatusWaitingReview,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusDisputed,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusDisputed
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
