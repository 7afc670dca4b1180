package enums

import "fmt"

// OrderTrigger names the event that moves an order between statuses.
type OrderTrigger string

const (
	TriggerPaymentAuthorized  OrderTrigger = "payment_authorized"
	TriggerSubmitRequirements OrderTrigger = "submit_requirements"
	TriggerStartWork          OrderTrigger = "start_work"
	TriggerMarkHalfway        OrderTrigger = "mark_halfway"
	TriggerDeliver            OrderTrigger = "deliver"
	TriggerRequestRevision    OrderTrigger = "request_revision"
	TriggerApprove            OrderTrigger = "approve"
	TriggerRelease            OrderTrigger = "release"
	TriggerCancel             OrderTrigger = "cancel"
	TriggerDispute            OrderTrigger = "dispute"
)

var validOrderTriggers = []OrderTrigger{
	TriggerPaymentAuthorized,
	TriggerSubmitRequirements,
	TriggerStartWork,
	TriggerMarkHalfway,
	TriggerDeliver,
	TriggerRequestRevision,
	TriggerApprove,
	TriggerRelease,
	TriggerCancel,
	TriggerDispute,
}

func (t OrderTrigger) String() string {
	return string(t)
}

func (t OrderTrigger) IsValid() bool {
	for _, candidate := range validOrderTriggers {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseOrderTrigger(value string) (OrderTrigger, error) {
	for _, candidate := range validOrderTriggers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order trigger %q", value)
}
