package http

import (
	"bytes"
	"errors"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/fieldtrack/internal/adapters/device"
	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
)

const (
	defaultBreadcrumbLimit = 100
	maxBreadcrumbLimit     = 1000
	maxLatestEmployees     = 500
	defaultStaleAfter      = 5 * time.Minute
	sessionHeader          = "X-Session-ID"
)

// reportedCode decodes either a string ("permission_denied") or the numeric
// code a browser geolocation error carries (1, 2, 3).
type reportedCode string

func (r *reportedCode) UnmarshalJSON(b []byte) error {
	*r = reportedCode(strings.Trim(string(bytes.TrimSpace(b)), `"`))
	if *r == "null" {
		*r = ""
	}
	return nil
}

type fixPayload struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type resolveRequest struct {
	SessionID    string       `json:"session_id"`
	EmployeeID   string       `json:"employee_id"`
	Fix          *fixPayload  `json:"fix"`
	ErrorCode    reportedCode `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	HighAccuracy *bool        `json:"high_accuracy"`
	TimeoutMS    int          `json:"timeout_ms"`
	MaximumAgeMS int          `json:"maximum_age_ms"`
	Attempt      int          `json:"attempt"`
}

type resolveResponse struct {
	State      domain.ResolutionState `json:"state"`
	Report     usecases.Report        `json:"report"`
	Superseded bool                   `json:"superseded,omitempty"`
}

// sessionKey identifies the resolver a request drives. Fiber reuses request
// memory, so the key is cloned before it is kept in the session map.
func sessionKey(c *fiber.Ctx, fromBody string) string {
	key := c.Get(sessionHeader)
	if key == "" {
		key = fromBody
	}
	if key == "" {
		key = "ip:" + c.IP()
	}
	return strings.Clone(key)
}

// publicIP returns the caller's address when it is routable. Private and
// loopback callers are looked up by the server's own address instead.
func publicIP(c *fiber.Ctx) string {
	addr, err := netip.ParseAddr(c.IP())
	if err != nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return ""
	}
	return addr.String()
}

func (r resolveRequest) options(base domain.PositionOptions) domain.PositionOptions {
	opts := base
	if r.HighAccuracy != nil {
		opts.HighAccuracy = *r.HighAccuracy
	}
	if r.TimeoutMS > 0 {
		opts.Timeout = time.Duration(r.TimeoutMS) * time.Millisecond
	}
	if r.MaximumAgeMS > 0 {
		opts.MaximumAge = time.Duration(r.MaximumAgeMS) * time.Millisecond
	}
	return opts
}

// ResolveLocationHandler runs the device → IP chain for the caller's session.
// A fix or error reported in the body stands in for the device; otherwise an
// employee_id reads from that employee's pushed device feed.
func ResolveLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Resolvers == nil {
			return errUnavailable(c, "location resolution not configured")
		}

		var req resolveRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
		}
		if req.TimeoutMS < 0 || req.MaximumAgeMS < 0 {
			return errBadRequest(c, "timeout_ms and maximum_age_ms must not be negative")
		}

		opts := req.options(deps.Position)
		attempt := usecases.Attempt{Options: &opts}

		var fix *device.Fix
		if req.Fix != nil {
			fix = &device.Fix{
				Latitude:  req.Fix.Latitude,
				Longitude: req.Fix.Longitude,
				Accuracy:  req.Fix.Accuracy,
				Timestamp: req.Fix.Timestamp,
			}
		}
		if dev := device.FromRequest(fix, string(req.ErrorCode), req.ErrorMessage); dev != nil {
			attempt.Device = device.NewProvider(dev)
		} else if req.EmployeeID != "" && deps.Devices != nil {
			attempt.Device = deps.Devices.Provider(strings.Clone(req.EmployeeID))
		}
		if deps.IPLocation != nil {
			attempt.IP = deps.IPLocation.ForIP(publicIP(c))
		}

		resolver := deps.Resolvers.Get(sessionKey(c, req.SessionID))
		state, err := resolver.ResolveAttempt(c.UserContext(), attempt)
		superseded := errors.Is(err, usecases.ErrSuperseded)
		if err != nil && !superseded {
			return errFromService(c, err)
		}

		c.Set("Cache-Control", "no-store")
		return c.JSON(resolveResponse{
			State:      state,
			Report:     deps.Reporter.ForState(state, req.Attempt),
			Superseded: superseded,
		})
	}
}

// LocationStateHandler returns the session's current resolution state.
func LocationStateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Resolvers == nil {
			return errUnavailable(c, "location resolution not configured")
		}
		resolver, ok := deps.Resolvers.Lookup(sessionKey(c, c.Query("session_id")))
		if !ok {
			return errNotFound(c, "no resolution for this session")
		}
		state := resolver.State()
		c.Set("Cache-Control", "no-store")
		return c.JSON(resolveResponse{State: state, Report: deps.Reporter.ForState(state, 0)})
	}
}

// ClearLocationErrorHandler dismisses the session's error text.
func ClearLocationErrorHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Resolvers == nil {
			return errUnavailable(c, "location resolution not configured")
		}
		resolver, ok := deps.Resolvers.Lookup(sessionKey(c, c.Query("session_id")))
		if !ok {
			return errNotFound(c, "no resolution for this session")
		}
		state := resolver.ClearError()
		return c.JSON(resolveResponse{State: state, Report: deps.Reporter.ForState(state, 0)})
	}
}

// ReverseGeocodeHandler looks up a place name for lat/lon.
func ReverseGeocodeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Geocoder == nil {
			return errUnavailable(c, "reverse geocoding not configured")
		}
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
		if errLat != nil || errLon != nil {
			return errBadRequest(c, "lat and lon are required numbers")
		}
		if !domain.ValidCoordinate(lat, lon) {
			return errUnprocessable(c, domain.InvalidCoordinate(lat, lon).Error())
		}

		place := deps.Geocoder.Lookup(c.UserContext(), lat, lon)
		if place == nil {
			return errNotFound(c, "no place found for coordinate")
		}
		c.Set("Cache-Control", "public, max-age=86400")
		return c.JSON(place)
	}
}

type deviceFixRequest struct {
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	Accuracy     *float64     `json:"accuracy"`
	CapturedAt   time.Time    `json:"captured_at"`
	ErrorCode    reportedCode `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
}

// DeviceFixHandler accepts a fix (or positioning failure) pushed by a field
// worker's device. The fix feeds this process's tracker directly and is
// forwarded to the worker processes over NATS.
func DeviceFixHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		employeeID := strings.Clone(c.Params("employee_id"))
		if employeeID == "" {
			return errBadRequest(c, "employee id is required")
		}

		var req deviceFixRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		fix := domain.DeviceFix{
			EmployeeID: employeeID,
			Latitude:   req.Latitude,
			Longitude:  req.Longitude,
			Accuracy:   req.Accuracy,
			CapturedAt: req.CapturedAt,
		}
		if req.ErrorCode != "" {
			fix.ErrorCode = device.ReportedCode(string(req.ErrorCode))
			fix.ErrorMessage = req.ErrorMessage
		} else if !domain.ValidCoordinate(req.Latitude, req.Longitude) {
			return errUnprocessable(c, domain.InvalidCoordinate(req.Latitude, req.Longitude).Error())
		}
		if fix.CapturedAt.IsZero() {
			fix.CapturedAt = time.Now().UTC()
		}

		if deps.Devices != nil {
			deps.Devices.Apply(fix)
		}
		if deps.Publisher != nil {
			if err := deps.Publisher.PublishDeviceFix(c.UserContext(), &fix); err != nil {
				LoggerFromCtx(c.UserContext()).Warn("forward device fix", "employee_id", employeeID, "error", err)
			}
		}
		return c.Status(fiber.StatusAccepted).JSON(fix)
	}
}

type breadcrumbRequest struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Accuracy   *float64   `json:"accuracy"`
	Source     string     `json:"source"`
	CapturedAt *time.Time `json:"captured_at"`
	VisitID    string     `json:"visit_id"`
}

// AppendBreadcrumbHandler records one sample for an employee.
func AppendBreadcrumbHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req breadcrumbRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		sample := domain.LocationSample{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Accuracy:  req.Accuracy,
			Source:    domain.Source(req.Source),
		}
		if sample.Source == "" {
			sample.Source = domain.SourceGPS
		}
		if req.CapturedAt != nil {
			sample.CapturedAt = req.CapturedAt.UTC()
		}

		b, err := deps.Breadcrumbs.Append(c.UserContext(), sample, strings.Clone(c.Params("employee_id")), req.VisitID)
		if err != nil {
			return errFromService(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(b)
	}
}

// parseTimeQuery reads an optional RFC 3339 query parameter.
func parseTimeQuery(c *fiber.Ctx, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EmployeeBreadcrumbsHandler returns an employee's breadcrumbs, newest first.
// Pages continue with cursor = next_cursor from the previous page, keeping
// the same from and to.
func EmployeeBreadcrumbsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		from, err := parseTimeQuery(c, "from")
		if err != nil {
			return errBadRequest(c, "from must be an RFC 3339 timestamp")
		}
		to, err := parseTimeQuery(c, "to")
		if err != nil {
			return errBadRequest(c, "to must be an RFC 3339 timestamp")
		}
		var before *ports.Cursor
		if v := c.Query("cursor"); v != "" {
			if before, err = decodeCursor(v); err != nil {
				return errBadRequest(c, "cursor must be a next_cursor from a previous page")
			}
		}
		limit := c.QueryInt("limit", defaultBreadcrumbLimit)
		if limit <= 0 || limit > maxBreadcrumbLimit {
			limit = defaultBreadcrumbLimit
		}

		rows, err := deps.Breadcrumbs.PageByEmployee(c.UserContext(), c.Params("employee_id"), from, to, before, limit)
		if err != nil {
			return errFromService(c, err)
		}
		if rows == nil {
			rows = []domain.Breadcrumb{}
		}

		pg := Pagination{Limit: limit, Count: len(rows)}
		if len(rows) == limit {
			pg.NextCursor = encodeCursor(rows[len(rows)-1])
		}
		SetLinkHeaders(c, pg, from, to)
		return c.JSON(PaginatedResponse{Data: rows, Pagination: pg})
	}
}

type latestResponse struct {
	AsOf       time.Time                    `json:"as_of"`
	StaleAfter string                       `json:"stale_after"`
	Locations  map[string]domain.Breadcrumb `json:"locations"`
	Stale      map[string]domain.Breadcrumb `json:"stale"`
	Missing    []string                     `json:"missing"`
}

// LatestLocationsHandler returns the newest breadcrumb per requested employee,
// split into fresh and stale by stale_after.
func LatestLocationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var ids []string
		for _, id := range strings.Split(c.Query("employee_ids"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return errBadRequest(c, "employee_ids query parameter is required")
		}
		if len(ids) > maxLatestEmployees {
			return errBadRequest(c, "too many employee_ids (max 500)")
		}

		window := deps.StaleAfter
		if window <= 0 {
			window = defaultStaleAfter
		}
		if v := c.Query("stale_after"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return errBadRequest(c, "stale_after must be a positive duration such as 5m")
			}
			window = d
		}

		latest, err := deps.Aggregator.LatestPerEmployee(c.UserContext(), ids)
		if err != nil {
			return errFromService(c, err)
		}

		now := time.Now().UTC()
		fresh, stale := usecases.SplitStale(latest, now, window)
		missing := []string{}
		for _, id := range ids {
			if _, ok := latest[id]; !ok {
				missing = append(missing, id)
			}
		}

		c.Set("Cache-Control", "private, max-age=5")
		return c.JSON(latestResponse{
			AsOf:       now,
			StaleAfter: window.String(),
			Locations:  fresh,
			Stale:      stale,
			Missing:    missing,
		})
	}
}

// VisitBreadcrumbsHandler returns a visit's breadcrumbs in capture order.
func VisitBreadcrumbsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rows, err := deps.Breadcrumbs.ByVisit(c.UserContext(), c.Params("visit_id"))
		if err != nil {
			return errFromService(c, err)
		}
		if rows == nil {
			rows = []domain.Breadcrumb{}
		}
		return c.JSON(fiber.Map{"data": rows, "count": len(rows)})
	}
}

// VisitPathHandler returns the travelled path of a visit.
func VisitPathHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path, err := deps.Breadcrumbs.VisitPath(c.UserContext(), c.Params("visit_id"))
		if err != nil {
			return errFromService(c, err)
		}
		return c.JSON(path)
	}
}
