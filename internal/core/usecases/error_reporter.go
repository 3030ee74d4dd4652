package usecases

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

// Tier is how a location problem should be presented.
type Tier string

const (
	TierNone      Tier = "none"
	TierHard      Tier = "hard"
	TierAdvisory  Tier = "advisory"
	TierTransient Tier = "transient"
)

// Report is the user-facing description of a location error or degraded result.
type Report struct {
	Tier             Tier             `json:"tier"`
	Code             domain.ErrorCode `json:"code,omitempty"`
	Title            string           `json:"title,omitempty"`
	Message          string           `json:"message,omitempty"`
	RemediationSteps []string         `json:"remediation_steps"`
	RetryAfter       time.Duration    `json:"-"`
	RetryAfterSecs   float64          `json:"retry_after_seconds,omitempty"`
}

// ErrorReporter turns location errors and resolution states into Reports.
type ErrorReporter struct {
	initialRetry time.Duration
	maxRetry     time.Duration
}

// NewErrorReporter uses a 2s initial retry hint doubling up to 30s.
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{initialRetry: 2 * time.Second, maxRetry: 30 * time.Second}
}

// RetryAfter returns the backoff hint for the given zero-based attempt.
func (r *ErrorReporter) RetryAfter(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialRetry
	b.MaxInterval = r.maxRetry
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

var (
	stepsPermission = []string{
		"Open your browser or device settings",
		"Allow location access for this site",
		"Reload the page and try again",
	}
	stepsUnsupported = []string{
		"Use a device or browser with location services",
		"Update your browser to a recent version",
		"Enter the service address manually",
	}
	stepsExhausted = []string{
		"Check your internet connection",
		"Turn on device location services",
		"Try again in a few minutes",
	}
	stepsTransient = []string{
		"Move outdoors or near a window",
		"Make sure location services are on",
		"Try again",
	}
	stepsPrecision = []string{
		"Allow precise location access for this site",
		"Turn on device location services or GPS",
	}
	stepsInvalid = []string{
		"Try capturing the location again",
		"Report the problem if it keeps happening",
	}
)

// ForError classifies a single error. attempt feeds the retry hint of transient errors.
func (r *ErrorReporter) ForError(err error, attempt int) Report {
	le := domain.AsLocationError(err)
	if le == nil {
		return Report{Tier: TierNone, RemediationSteps: []string{}}
	}

	switch le.Code {
	case domain.CodePermissionDenied:
		return hardReport(le.Code, "Location permission denied",
			"Location access is blocked, so your position cannot be determined.", stepsPermission)
	case domain.CodeUnsupported:
		return hardReport(le.Code, "Location not supported",
			"This device or browser does not provide location services.", stepsUnsupported)
	case domain.CodeProviderExhausted:
		return hardReport(le.Code, "Location unavailable",
			"Neither your device nor network lookup could determine your position.", stepsExhausted)
	case domain.CodeInvalidCoordinate:
		return hardReport(le.Code, "Invalid location data",
			"The position received was outside valid coordinates and was not saved.", stepsInvalid)
	case domain.CodeTimeout:
		return r.transientReport(le.Code, "Location timed out",
			"Your device took too long to report a position.", attempt)
	default:
		return r.transientReport(domain.CodeUnavailable, "Location temporarily unavailable",
			"Your device could not determine a position right now.", attempt)
	}
}

// ForState describes a resolution state. Resolutions via IP lookup and the
// last-resort default coordinate are advisory, never error banners.
func (r *ErrorReporter) ForState(s domain.ResolutionState, attempt int) Report {
	switch s.Status {
	case domain.StatusResolved:
		if s.Source != domain.SourceIP {
			return Report{Tier: TierNone, RemediationSteps: []string{}}
		}
		return Report{
			Tier:             TierAdvisory,
			Code:             deviceCode(s),
			Title:            "Approximate location",
			Message:          "Your position was estimated from your network and may be off by several kilometres.",
			RemediationSteps: precisionSteps(s),
		}

	case domain.StatusError:
		if s.Sample != nil && s.Sample.Fallback {
			return Report{
				Tier:             TierAdvisory,
				Code:             domain.CodeProviderExhausted,
				Title:            "Location unknown",
				Message:          "Your position could not be determined, so a default area is shown.",
				RemediationSteps: precisionSteps(s),
			}
		}
		if s.Error != nil {
			rep := r.ForError(s.Error, attempt)
			// name the device failure when the whole chain gave up
			if s.Error.Code == domain.CodeProviderExhausted && s.DeviceError != nil {
				if dev := r.ForError(s.DeviceError, attempt); dev.Tier == TierHard {
					rep.RemediationSteps = append(append([]string{}, dev.RemediationSteps...), stepsExhausted[0])
				}
			}
			return rep
		}
		return r.transientReport(domain.CodeUnavailable, "Location temporarily unavailable",
			"Your position could not be determined.", attempt)
	}
	return Report{Tier: TierNone, RemediationSteps: []string{}}
}

func (r *ErrorReporter) transientReport(code domain.ErrorCode, title, msg string, attempt int) Report {
	d := r.RetryAfter(attempt)
	return Report{
		Tier:             TierTransient,
		Code:             code,
		Title:            title,
		Message:          msg,
		RemediationSteps: append([]string{}, stepsTransient...),
		RetryAfter:       d,
		RetryAfterSecs:   d.Seconds(),
	}
}

func hardReport(code domain.ErrorCode, title, msg string, steps []string) Report {
	return Report{
		Tier:             TierHard,
		Code:             code,
		Title:            title,
		Message:          msg,
		RemediationSteps: append([]string{}, steps...),
	}
}

func deviceCode(s domain.ResolutionState) domain.ErrorCode {
	if s.DeviceError != nil {
		return s.DeviceError.Code
	}
	return ""
}

func precisionSteps(s domain.ResolutionState) []string {
	if s.DeviceError != nil && s.DeviceError.Code == domain.CodePermissionDenied {
		return append([]string{}, stepsPermission...)
	}
	return append([]string{}, stepsPrecision...)
}
