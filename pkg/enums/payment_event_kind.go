package enums

import "fmt"

// PaymentEventKind classifies completed-purchase events from the payment processor.
type PaymentEventKind string

const (
	PaymentEventKindPackage PaymentEventKind = "package"
	PaymentEventKindTopup   PaymentEventKind = "topup"
)

var validPaymentEventKinds = []PaymentEventKind{
	PaymentEventKindPackage,
	PaymentEventKindTopup,
}

// IsValid reports whether the value is a known payment event kind.
func (k PaymentEventKind) IsValid() bool {
	for _, candidate := range validPaymentEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePaymentEventKind converts raw input into a PaymentEventKind.
func ParsePaymentEventKind(value string) (PaymentEventKind, error) {
	for _, candidate := range validPaymentEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event kind %q", value)
}
