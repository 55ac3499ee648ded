package enums

import "fmt"

// EngineJobStatus mirrors the transcription engine's job lifecycle values.
type EngineJobStatus string

const (
	EngineJobStatusRunning  EngineJobStatus = "running"
	EngineJobStatusDone     EngineJobStatus = "done"
	EngineJobStatusRejected EngineJobStatus = "rejected"
)

var validEngineJobStatuses = []EngineJobStatus{
	EngineJobStatusRunning,
	EngineJobStatusDone,
	EngineJobStatusRejected,
}

// IsValid reports whether the value is a known engine status.
func (s EngineJobStatus) IsValid() bool {
	for _, candidate := range validEngineJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEngineJobStatus converts raw input into an EngineJobStatus.
func ParseEngineJobStatus(value string) (EngineJobStatus, error) {
	for _, candidate := range validEngineJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid engine job status %q", value)
}
