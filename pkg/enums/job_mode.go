package enums

import "fmt"

// JobMode selects the processing pipeline for a transcription job.
type JobMode string

const (
	JobModeAutomated JobMode = "automated"
	JobModeHybrid    JobMode = "hybrid"
	JobModeManual    JobMode = "manual"
)

var validJobModes = []JobMode{
	JobModeAutomated,
	JobModeHybrid,
	JobModeManual,
}

// String implements fmt.Stringer.
func (m JobMode) String() string {
	return string(m)
}

// IsValid reports whether the value is a known job mode.
func (m JobMode) IsValid() bool {
	for _, candidate := range validJobModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseJobMode converts raw input into a JobMode.
func ParseJobMode(value string) (JobMode, error) {
	for _, candidate := range validJobModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job mode %q", value)
}
