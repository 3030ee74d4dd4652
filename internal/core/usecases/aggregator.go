package usecases

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

// ActiveLocationAggregator computes the latest breadcrumb per employee.
type ActiveLocationAggregator struct {
	repo ports.BreadcrumbRepository
}

// NewActiveLocationAggregator creates a new ActiveLocationAggregator.
func NewActiveLocationAggregator(repo ports.BreadcrumbRepository) *ActiveLocationAggregator {
	return &ActiveLocationAggregator{repo: repo}
}

// LatestPerEmployee fetches the breadcrumbs of every requested employee in a
// single query and keeps the most recent one per employee. Employees without
// any breadcrumb are absent from the result.
func (a *ActiveLocationAggregator) LatestPerEmployee(ctx context.Context, employeeIDs []string) (map[string]domain.Breadcrumb, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanLatest)
	defer span.End()

	ids := uniqueIDs(employeeIDs)
	span.SetAttributes(attribute.Int("fieldtrack.employee_count", len(ids)))
	if len(ids) == 0 {
		return map[string]domain.Breadcrumb{}, nil
	}

	rows, err := a.repo.Select(ctx, ports.BreadcrumbFilter{EmployeeIDs: ids, Order: ports.NewestFirst})
	if err != nil {
		return nil, fmt.Errorf("select breadcrumbs: %w", err)
	}
	return LatestPerEmployee(rows, ids), nil
}

// LatestPerEmployee is the single-pass dedup. rows are sorted newest first
// beforehand if they do not already arrive that way.
func LatestPerEmployee(rows []domain.Breadcrumb, employeeIDs []string) map[string]domain.Breadcrumb {
	wanted := make(map[string]struct{}, len(employeeIDs))
	for _, id := range employeeIDs {
		wanted[id] = struct{}{}
	}

	newestFirst := func(i, j int) bool { return rows[i].CapturedAt.After(rows[j].CapturedAt) }
	if !sort.SliceIsSorted(rows, newestFirst) {
		rows = append([]domain.Breadcrumb(nil), rows...)
		sort.SliceStable(rows, newestFirst)
	}

	latest := make(map[string]domain.Breadcrumb, len(wanted))
	for _, b := range rows {
		if _, ok := wanted[b.EmployeeID]; !ok {
			continue
		}
		if _, seen := latest[b.EmployeeID]; seen {
			continue
		}
		latest[b.EmployeeID] = b
	}
	return latest
}

// SplitStale partitions latest positions into those captured within window of
// now and those older. window <= 0 treats everything as fresh.
func SplitStale(latest map[string]domain.Breadcrumb, now time.Time, window time.Duration) (fresh, stale map[string]domain.Breadcrumb) {
	fresh = make(map[string]domain.Breadcrumb, len(latest))
	stale = make(map[string]domain.Breadcrumb)
	for id, b := range latest {
		if window > 0 && now.Sub(b.CapturedAt) > window {
			stale[id] = b
			continue
		}
		fresh[id] = b
	}
	return fresh, stale
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
