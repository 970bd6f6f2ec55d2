package enums

import "fmt"

// OrderKind distinguishes what a settled order purchased.
type OrderKind string

const (
	OrderKindItem    OrderKind = "item"
	OrderKindBundle  OrderKind = "bundle"
	OrderKindUnknown OrderKind = "unknown"
)

var validOrderKinds = []OrderKind{
	OrderKindItem,
	OrderKindBundle,
	OrderKindUnknown,
}

// String implements fmt.Stringer.
func (k OrderKind) String() string {
	return string(k)
}

// IsValid reports whether the kind is recognized.
func (k OrderKind) IsValid() bool {
	for _, candidate := range validOrderKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseOrderKind converts a raw string into an OrderKind.
func ParseOrderKind(value string) (OrderKind, error) {
	for _, candidate := range validOrderKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order kind %q", value)
}
