package device

import (
	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

// Reported replays what a browser attached to a single request: either its
// fix or the geolocation error it got.
type Reported struct {
	Fix       *Fix
	ErrorCode domain.ErrorCode
	Message   string
}

// FromRequest builds a Device from request fields. It returns nil when the
// client reported neither a fix nor an error.
func FromRequest(fix *Fix, errorCode, message string) Device {
	if fix != nil {
		return &Reported{Fix: fix}
	}
	if errorCode == "" {
		return nil
	}
	return &Reported{ErrorCode: ReportedCode(errorCode), Message: message}
}

// ReportedCode accepts either an ErrorCode name or one of the numeric
// GeolocationPositionError codes a browser hands out.
func ReportedCode(s string) domain.ErrorCode {
	if code, ok := domain.ParseErrorCode(s); ok {
		return code
	}
	switch s {
	case "1":
		return domain.CodePermissionDenied
	case "3":
		return domain.CodeTimeout
	default:
		return domain.CodeUnavailable
	}
}

func (r *Reported) GetCurrentPosition(success func(Fix), failure func(domain.ErrorCode, string), _ domain.PositionOptions) {
	if r.Fix != nil {
		success(*r.Fix)
		return
	}
	code := r.ErrorCode
	if code == "" {
		code = domain.CodeUnavailable
	}
	failure(code, r.Message)
}
