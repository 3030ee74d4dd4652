package usecases_test

import (
	"context"
	"sort"
	"sync"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
)

// --- In-memory BreadcrumbRepository ---

type memRepo struct {
	mu       sync.Mutex
	rows     []domain.Breadcrumb
	insertFn func(ctx context.Context, b *domain.Breadcrumb) error
	// unordered returns Select results in insertion order, ignoring filter.Order.
	unordered bool
	selects   []ports.BreadcrumbFilter
}

func (m *memRepo) Insert(ctx context.Context, b *domain.Breadcrumb) error {
	if m.insertFn != nil {
		if err := m.insertFn(ctx, b); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *b)
	return nil
}

func (m *memRepo) Select(ctx context.Context, f ports.BreadcrumbFilter) ([]domain.Breadcrumb, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selects = append(m.selects, f)

	ids := make(map[string]bool, len(f.EmployeeIDs))
	for _, id := range f.EmployeeIDs {
		ids[id] = true
	}

	var out []domain.Breadcrumb
	for _, b := range m.rows {
		if len(ids) > 0 && !ids[b.EmployeeID] {
			continue
		}
		if f.VisitID != "" && b.VisitID != f.VisitID {
			continue
		}
		if f.From != nil && b.CapturedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && b.CapturedAt.After(*f.To) {
			continue
		}
		if f.Before != nil && !f.Before.Admits(b) {
			continue
		}
		out = append(out, b)
	}

	if !m.unordered {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if f.Order == ports.NewestFirst {
				a, b = b, a
			}
			if a.CapturedAt.Equal(b.CapturedAt) {
				return a.ID < b.ID
			}
			return a.CapturedAt.Before(b.CapturedAt)
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu          sync.Mutex
	breadcrumbs []domain.Breadcrumb
	statuses    []domain.TrackingStatus
	err         error
}

func (m *mockPublisher) PublishBreadcrumb(ctx context.Context, b *domain.Breadcrumb) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breadcrumbs = append(m.breadcrumbs, *b)
	return m.err
}

func (m *mockPublisher) PublishDeviceFix(ctx context.Context, fix *domain.DeviceFix) error {
	return m.err
}

func (m *mockPublisher) PublishTrackingStatus(ctx context.Context, st *domain.TrackingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, *st)
	return m.err
}

func (m *mockPublisher) PublishVisitEvent(ctx context.Context, e *domain.VisitEvent) error {
	return m.err
}

func (m *mockPublisher) statusCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statuses)
}

// --- Provider mocks ---

type mockDevice struct {
	requestFn func(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error)
}

func (m *mockDevice) RequestOnce(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
	return m.requestFn(ctx, opts)
}

type mockIP struct {
	resolveFn func(ctx context.Context) (domain.LocationSample, error)
	calls     int
}

func (m *mockIP) Resolve(ctx context.Context) (domain.LocationSample, error) {
	m.calls++
	return m.resolveFn(ctx)
}

type mockGeocoder struct {
	lookupFn func(ctx context.Context, lat, lon float64) *domain.Place
}

func (m *mockGeocoder) Lookup(ctx context.Context, lat, lon float64) *domain.Place {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, lat, lon)
	}
	return nil
}

func failingDevice(err error) *mockDevice {
	return &mockDevice{requestFn: func(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
		return domain.LocationSample{}, err
	}}
}

func fixedDevice(lat, lon, accuracy float64) *mockDevice {
	return &mockDevice{requestFn: func(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
		return domain.LocationSample{Latitude: lat, Longitude: lon, Accuracy: &accuracy}, nil
	}}
}

func f64(v float64) *float64 { return &v }
