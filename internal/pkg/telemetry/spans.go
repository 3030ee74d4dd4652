package telemetry

// Span names used for instrumentation.
const (
	SpanResolve        = "location.resolve"
	SpanDeviceAttempt  = "location.device_attempt"
	SpanIPAttempt      = "location.ip_attempt"
	SpanReverseGeocode = "location.reverse_geocode"
	SpanAppend         = "breadcrumbs.append"
	SpanLatest         = "breadcrumbs.latest_per_employee"
	SpanCapture        = "tracking.capture"
)

// Span attribute keys.
const (
	AttrProvider   = "location.provider"
	AttrSource     = "location.source"
	AttrStatus     = "location.status"
	AttrConfidence = "location.confidence"
	AttrEmployeeID = "fieldtrack.employee_id"
	AttrVisitID    = "fieldtrack.visit_id"
)
