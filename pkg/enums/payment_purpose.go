package enums

import "fmt"

// PaymentPurpose discriminates what a provider payment intent pays for.
type PaymentPurpose string

const (
	PaymentPurposeOrder             PaymentPurpose = "order_payment"
	PaymentPurposePromotion         PaymentPurpose = "promotion"
	PaymentPurposeTimelineExtension PaymentPurpose = "timeline_extension"
)

var validPaymentPurposes = []PaymentPurpose{
	PaymentPurposeOrder,
	PaymentPurposePromotion,
	PaymentPurposeTimelineExtension,
}

func (p PaymentPurpose) String() string {
	return string(p)
}

func (p PaymentPurpose) IsValid() bool {
	for _, candidate := range validPaymentPurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParsePaymentPurpose(value string) (PaymentPurpose, error) {
	for _, candidate := range validPaymentPurposes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment purpose %q", value)
}
