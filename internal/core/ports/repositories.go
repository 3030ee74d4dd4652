package ports

import (
	"context"
	"time"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

// SortOrder orders breadcrumb results by capture time.
type SortOrder int

const (
	NewestFirst SortOrder = iota
	OldestFirst
)

// BreadcrumbFilter selects breadcrumbs. Empty fields do not constrain.
type BreadcrumbFilter struct {
	EmployeeIDs []string
	VisitID     string
	From        *time.Time
	To          *time.Time
	Order       SortOrder
	Limit       int
	// Before keeps only rows strictly older than the cursor in
	// (captured_at, id) order. Used for newest-first keyset paging.
	Before *Cursor
}

// Cursor is a position in the (captured_at, id) ordering of breadcrumbs.
type Cursor struct {
	CapturedAt time.Time
	ID         string
}

// CursorAfter returns the cursor positioned on b.
func CursorAfter(b domain.Breadcrumb) *Cursor {
	return &Cursor{CapturedAt: b.CapturedAt, ID: b.ID}
}

// Admits reports whether b sorts strictly before the cursor position.
func (c Cursor) Admits(b domain.Breadcrumb) bool {
	if b.CapturedAt.Equal(c.CapturedAt) {
		return b.ID < c.ID
	}
	return b.CapturedAt.Before(c.CapturedAt)
}

// BreadcrumbRepository is the append-only record store boundary.
// There is deliberately no update or delete.
type BreadcrumbRepository interface {
	Insert(ctx context.Context, b *domain.Breadcrumb) error
	Select(ctx context.Context, filter BreadcrumbFilter) ([]domain.Breadcrumb, error)
}
