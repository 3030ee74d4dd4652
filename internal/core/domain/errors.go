package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the location error taxonomy shared by providers and reporters.
type ErrorCode string

const (
	CodePermissionDenied  ErrorCode = "permission_denied"
	CodeUnavailable       ErrorCode = "unavailable"
	CodeTimeout           ErrorCode = "timeout"
	CodeProviderExhausted ErrorCode = "provider_exhausted"
	CodeUnsupported       ErrorCode = "unsupported"
	CodeInvalidCoordinate ErrorCode = "invalid_coordinate"
)

// LocationError is a typed location failure. Two LocationErrors match under
// errors.Is when their codes are equal, so callers compare against the
// sentinels below regardless of message or timestamp.
type LocationError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *LocationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches on error code.
func (e *LocationError) Is(target error) bool {
	t, ok := target.(*LocationError)
	return ok && t.Code == e.Code
}

var (
	ErrPermissionDenied    = &LocationError{Code: CodePermissionDenied, Message: "location permission denied"}
	ErrPositionUnavailable = &LocationError{Code: CodeUnavailable, Message: "position unavailable"}
	ErrTimeout             = &LocationError{Code: CodeTimeout, Message: "position request timed out"}
	ErrUnsupported         = &LocationError{Code: CodeUnsupported, Message: "positioning not supported"}
	ErrProviderExhausted   = &LocationError{Code: CodeProviderExhausted, Message: "all location providers failed"}
	ErrInvalidCoordinate   = &LocationError{Code: CodeInvalidCoordinate, Message: "coordinate out of range"}
)

// NewLocationError stamps a new error with the current time.
func NewLocationError(code ErrorCode, message string) *LocationError {
	return &LocationError{Code: code, Message: message, OccurredAt: time.Now().UTC()}
}

// InvalidCoordinate builds an invalid_coordinate error naming the bad values.
func InvalidCoordinate(lat, lon float64) *LocationError {
	return NewLocationError(CodeInvalidCoordinate, fmt.Sprintf("latitude %v / longitude %v out of range", lat, lon))
}

// AsLocationError normalizes any provider error into the taxonomy.
// Deadline errors become timeout; anything unrecognised becomes unavailable.
func AsLocationError(err error) *LocationError {
	if err == nil {
		return nil
	}
	var le *LocationError
	if errors.As(err, &le) {
		if le.OccurredAt.IsZero() {
			return NewLocationError(le.Code, le.Message)
		}
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLocationError(CodeTimeout, err.Error())
	}
	return NewLocationError(CodeUnavailable, err.Error())
}

// ParseErrorCode maps a reported code string onto the taxonomy.
func ParseErrorCode(s string) (ErrorCode, bool) {
	switch c := ErrorCode(s); c {
	case CodePermissionDenied, CodeUnavailable, CodeTimeout, CodeProviderExhausted, CodeUnsupported, CodeInvalidCoordinate:
		return c, true
	}
	return "", false
}
