package domain

import (
	"math"
	"time"
)

// Source identifies which strategy produced a location sample.
type Source string

const (
	SourceGPS Source = "gps"
	SourceIP  Source = "ip"
)

// Confidence is a coarse accuracy tier derived from source and reported precision.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// LocationSample is a single resolved position. Accuracy is the device-reported
// radius in meters and is nil for IP-derived samples.
type LocationSample struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Accuracy   *float64   `json:"accuracy"`
	Source     Source     `json:"source"`
	Confidence Confidence `json:"confidence"`
	CapturedAt time.Time  `json:"captured_at"`
	// Fallback marks the fixed last-resort coordinate returned when every
	// IP lookup endpoint failed. It is never a genuine resolution.
	Fallback bool `json:"fallback,omitempty"`
}

// ValidCoordinate reports whether lat/lon are finite and inside WGS 84 bounds.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Validate returns ErrInvalidCoordinate (wrapped with the offending values)
// when the sample lies outside the coordinate bounds.
func (s LocationSample) Validate() error {
	if !ValidCoordinate(s.Latitude, s.Longitude) {
		return InvalidCoordinate(s.Latitude, s.Longitude)
	}
	return nil
}

// Point returns the sample position as a GeoPoint.
func (s LocationSample) Point() GeoPoint {
	return GeoPoint{Lat: s.Latitude, Lon: s.Longitude}
}

// Breadcrumb is a timestamped, employee-attributed location sample,
// optionally linked to a service visit. Breadcrumbs are never mutated.
type Breadcrumb struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	VisitID    string `json:"visit_id,omitempty"`
	LocationSample
	CreatedAt time.Time `json:"created_at"`
}

// VisitPath is the chronological trail recorded during one service visit.
type VisitPath struct {
	VisitID        string        `json:"visit_id"`
	Breadcrumbs    []Breadcrumb  `json:"breadcrumbs"`
	Line           GeoLineString `json:"line"`
	DistanceMeters float64       `json:"distance_meters"`
	Bounds         *Bounds       `json:"bounds,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
}

// DeviceFix is a position (or positioning failure) reported by a field
// worker's device. A non-empty ErrorCode means the device could not fix.
type DeviceFix struct {
	EmployeeID   string    `json:"employee_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Failed reports whether the fix carries a device error instead of a position.
func (f DeviceFix) Failed() bool {
	return f.ErrorCode != ""
}

// VisitStatus is the lifecycle status of a service visit.
type VisitStatus string

const (
	VisitStarted   VisitStatus = "started"
	VisitCompleted VisitStatus = "completed"
	VisitCancelled VisitStatus = "cancelled"
)

// VisitEvent is emitted by the visit lifecycle owner when a visit changes state.
type VisitEvent struct {
	VisitID         string      `json:"visit_id"`
	EmployeeID      string      `json:"employee_id"`
	Status          VisitStatus `json:"status"`
	IntervalSeconds int         `json:"interval_seconds,omitempty"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// TrackingState is the state of a recurring capture session.
type TrackingState string

const (
	TrackingRunning TrackingState = "running"
	TrackingStopped TrackingState = "stopped"
)

// TrackingStatus is a snapshot of a tracking session.
type TrackingStatus struct {
	VisitID         string        `json:"visit_id"`
	EmployeeID      string        `json:"employee_id"`
	State           TrackingState `json:"state"`
	IntervalSeconds int           `json:"interval_seconds"`
	StartedAt       time.Time     `json:"started_at"`
	StoppedAt       *time.Time    `json:"stopped_at,omitempty"`
	LastCaptureAt   *time.Time    `json:"last_capture_at,omitempty"`
	Captures        int           `json:"captures"`
	Failures        int           `json:"failures"`
	LastError       string        `json:"last_error,omitempty"`
}
