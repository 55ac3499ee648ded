package enums

import "fmt"

// TranscriberStatus marks whether a human transcriber accepts new work.
type TranscriberStatus string

const (
	TranscriberStatusActive   TranscriberStatus = "active"
	TranscriberStatusInactive TranscriberStatus = "inactive"
)

var validTranscriberStatuses = []TranscriberStatus{
	TranscriberStatusActive,
	TranscriberStatusInactive,
}

// IsValid reports whether the value is a known transcriber status.
func (s TranscriberStatus) IsValid() bool {
	for _, candidate := range validTranscriberStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseTranscriberStatus converts raw input into a TranscriberStatus.
func ParseTranscriberStatus(value string) (TranscriberStatus, error) {
	for _, candidate := range validTranscriberStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transcriber status %q", value)
}
