package domain

import "time"

// ResolutionStatus is the position of a resolution in its state machine.
type ResolutionStatus string

const (
	StatusIdle     ResolutionStatus = "idle"
	StatusLoading  ResolutionStatus = "loading"
	StatusResolved ResolutionStatus = "resolved"
	StatusError    ResolutionStatus = "error"
)

// AdvisoryApproximate is attached to resolutions that fell back to IP lookup.
const AdvisoryApproximate = "approximate location"

// AdvisoryLastResort is attached when only the fixed default coordinate is available.
const AdvisoryLastResort = "location unknown, showing default area"

// ResolutionState is replaced wholesale on every transition.
type ResolutionState struct {
	Status       ResolutionStatus `json:"status"`
	Sample       *LocationSample  `json:"sample,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Source       Source           `json:"source,omitempty"`
	Advisory     string           `json:"advisory,omitempty"`
	Error        *LocationError   `json:"error,omitempty"`
	// DeviceError keeps the original device failure when the IP chain was tried.
	DeviceError *LocationError `json:"device_error,omitempty"`
	Place       *Place         `json:"place,omitempty"`
}

// PositionOptions bounds a single device positioning attempt.
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Place is a reverse-geocoded, human readable location.
type Place struct {
	Name        string `json:"name"`
	City        string `json:"city,omitempty"`
	Suburb      string `json:"suburb,omitempty"`
	County      string `json:"county,omitempty"`
	Region      string `json:"region,omitempty"`
	Country     string `json:"country,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}
