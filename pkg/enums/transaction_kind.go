package enums

import "fmt"

// TransactionKind classifies entries in the append-only funds ledger.
type TransactionKind string

const (
	TransactionKindPurchase    TransactionKind = "purchase"
	TransactionKindTopup       TransactionKind = "topup"
	TransactionKindConsumption TransactionKind = "consumption"
	TransactionKindRefund      TransactionKind = "refund"
	TransactionKindAdjustment  TransactionKind = "adjustment"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindPurchase,
	TransactionKindTopup,
	TransactionKindConsumption,
	TransactionKindRefund,
	TransactionKindAdjustment,
}

// String implements fmt.Stringer.
func (k TransactionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known transaction kind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind converts raw input into a TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
