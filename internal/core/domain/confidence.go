package domain

import "math"

const (
	highAccuracyMeters   = 10.0
	mediumAccuracyMeters = 50.0
)

// ClassifyConfidence maps a source and reported accuracy radius to a tier.
// It is total: every input yields exactly one tier.
func ClassifyConfidence(source Source, accuracy *float64) Confidence {
	switch source {
	case SourceIP:
		return ConfidenceLow
	case SourceGPS:
		if accuracy == nil {
			return ConfidenceUnknown
		}
		a := *accuracy
		switch {
		case math.IsNaN(a) || a < 0:
			return ConfidenceUnknown
		case a <= highAccuracyMeters:
			return ConfidenceHigh
		case a <= mediumAccuracyMeters:
			return ConfidenceMedium
		default:
			return ConfidenceLow
		}
	default:
		return ConfidenceUnknown
	}
}

// Classified returns a copy of the sample with its confidence tier set.
func (s LocationSample) Classified() LocationSample {
	s.Confidence = ClassifyConfidence(s.Source, s.Accuracy)
	return s
}
