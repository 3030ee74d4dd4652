package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/pkg/geospatial"
	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

var (
	ErrEmployeeRequired = errors.New("employee id is required")
	ErrVisitRequired    = errors.New("visit id is required")
	ErrInvalidRange     = errors.New("from must not be after to")
	ErrInvalidSource    = errors.New("sample source must be gps or ip")
)

// BreadcrumbService is the append-only breadcrumb log.
type BreadcrumbService struct {
	repo      ports.BreadcrumbRepository
	publisher ports.EventPublisher
	now       func() time.Time
}

// NewBreadcrumbService creates a new BreadcrumbService. publisher may be nil.
func NewBreadcrumbService(repo ports.BreadcrumbRepository, publisher ports.EventPublisher) *BreadcrumbService {
	return &BreadcrumbService{repo: repo, publisher: publisher, now: time.Now}
}

// Append validates and stores a sample for an employee, optionally tied to a visit.
// Out-of-range coordinates fail with domain.ErrInvalidCoordinate and nothing is stored.
func (s *BreadcrumbService) Append(ctx context.Context, sample domain.LocationSample, employeeID, visitID string) (*domain.Breadcrumb, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanAppend)
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.AttrEmployeeID, employeeID),
		attribute.String(telemetry.AttrVisitID, visitID),
	)

	if employeeID == "" {
		return nil, ErrEmployeeRequired
	}
	if err := sample.Validate(); err != nil {
		metrics.BreadcrumbsRejected.WithLabelValues(string(domain.CodeInvalidCoordinate)).Inc()
		return nil, err
	}
	if sample.Source != domain.SourceGPS && sample.Source != domain.SourceIP {
		metrics.BreadcrumbsRejected.WithLabelValues("invalid_source").Inc()
		return nil, fmt.Errorf("%w: got %q", ErrInvalidSource, sample.Source)
	}

	now := s.now().UTC()
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = now
	}
	sample = sample.Classified()

	b := &domain.Breadcrumb{
		ID:             uuid.NewString(),
		EmployeeID:     employeeID,
		VisitID:        visitID,
		LocationSample: sample,
		CreatedAt:      now,
	}

	if err := s.repo.Insert(ctx, b); err != nil {
		return nil, fmt.Errorf("insert breadcrumb: %w", err)
	}
	metrics.BreadcrumbsAppended.WithLabelValues(string(sample.Source)).Inc()

	if s.publisher != nil {
		if err := s.publisher.PublishBreadcrumb(ctx, b); err != nil {
			slog.Debug("publish breadcrumb", "employee_id", employeeID, "error", err)
		}
	}
	return b, nil
}

// RangeByEmployee returns an employee's breadcrumbs, most recent first,
// optionally bounded by [from, to]. limit <= 0 means no limit.
func (s *BreadcrumbService) RangeByEmployee(ctx context.Context, employeeID string, from, to *time.Time, limit int) ([]domain.Breadcrumb, error) {
	return s.PageByEmployee(ctx, employeeID, from, to, nil, limit)
}

// PageByEmployee is RangeByEmployee resumed strictly after before, which is
// the (captured_at, id) position of the last row of the previous page.
func (s *BreadcrumbService) PageByEmployee(ctx context.Context, employeeID string, from, to *time.Time, before *ports.Cursor, limit int) ([]domain.Breadcrumb, error) {
	if employeeID == "" {
		return nil, ErrEmployeeRequired
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, ErrInvalidRange
	}

	rows, err := s.repo.Select(ctx, ports.BreadcrumbFilter{
		EmployeeIDs: []string{employeeID},
		From:        from,
		To:          to,
		Order:       ports.NewestFirst,
		Limit:       limit,
		Before:      before,
	})
	if err != nil {
		return nil, fmt.Errorf("select breadcrumbs: %w", err)
	}
	sortBreadcrumbs(rows, ports.NewestFirst)
	return rows, nil
}

// ByVisit returns a visit's breadcrumbs in chronological order.
func (s *BreadcrumbService) ByVisit(ctx context.Context, visitID string) ([]domain.Breadcrumb, error) {
	if visitID == "" {
		return nil, ErrVisitRequired
	}
	rows, err := s.repo.Select(ctx, ports.BreadcrumbFilter{VisitID: visitID, Order: ports.OldestFirst})
	if err != nil {
		return nil, fmt.Errorf("select visit breadcrumbs: %w", err)
	}
	sortBreadcrumbs(rows, ports.OldestFirst)
	return rows, nil
}

// VisitPath reconstructs the travelled path of a visit.
func (s *BreadcrumbService) VisitPath(ctx context.Context, visitID string) (*domain.VisitPath, error) {
	rows, err := s.ByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	path := &domain.VisitPath{VisitID: visitID, Breadcrumbs: rows}
	if len(rows) == 0 {
		path.Breadcrumbs = []domain.Breadcrumb{}
		path.Line.Coordinates = []domain.GeoPoint{}
		return path, nil
	}

	lats := make([]float64, len(rows))
	lons := make([]float64, len(rows))
	points := make([]domain.GeoPoint, len(rows))
	for i, b := range rows {
		lats[i], lons[i] = b.Latitude, b.Longitude
		points[i] = b.Point()
	}
	path.Line.Coordinates = points
	path.DistanceMeters = geospatial.PathLength(lats, lons)
	path.Bounds = domain.BoundsOf(points)

	first, last := rows[0].CapturedAt, rows[len(rows)-1].CapturedAt
	path.StartedAt, path.EndedAt = &first, &last
	return path, nil
}

// sortBreadcrumbs re-establishes (captured_at, id) order when a backend did not.
func sortBreadcrumbs(rows []domain.Breadcrumb, order ports.SortOrder) {
	older := func(i, j int) bool {
		if rows[i].CapturedAt.Equal(rows[j].CapturedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CapturedAt.Before(rows[j].CapturedAt)
	}
	less := func(i, j int) bool { return older(j, i) }
	if order == ports.OldestFirst {
		less = older
	}
	if !sort.SliceIsSorted(rows, less) {
		sort.SliceStable(rows, less)
	}
}
