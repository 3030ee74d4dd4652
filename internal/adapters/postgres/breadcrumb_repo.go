package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
)

// BreadcrumbRepo implements ports.BreadcrumbRepository.
type BreadcrumbRepo struct {
	db *DB
}

func NewBreadcrumbRepo(db *DB) *BreadcrumbRepo {
	return &BreadcrumbRepo{db: db}
}

func (r *BreadcrumbRepo) Insert(ctx context.Context, b *domain.Breadcrumb) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO breadcrumbs (id, employee_id, visit_id, latitude, longitude, accuracy, source, confidence, captured_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.EmployeeID, nilIfEmpty(b.VisitID),
		b.Latitude, b.Longitude, b.Accuracy,
		string(b.Source), string(b.Confidence), b.CapturedAt, b.CreatedAt)
	return err
}

func (r *BreadcrumbRepo) Select(ctx context.Context, f ports.BreadcrumbFilter) ([]domain.Breadcrumb, error) {
	query, args := selectQuery(f)
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Breadcrumb
	for rows.Next() {
		var b domain.Breadcrumb
		var visitID sql.NullString
		var accuracy sql.NullFloat64
		var source, confidence string
		if err := rows.Scan(
			&b.ID, &b.EmployeeID, &visitID,
			&b.Latitude, &b.Longitude, &accuracy,
			&source, &confidence, &b.CapturedAt, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		b.VisitID = visitID.String
		if accuracy.Valid {
			v := accuracy.Float64
			b.Accuracy = &v
		}
		b.Source = domain.Source(source)
		b.Confidence = domain.Confidence(confidence)
		out = append(out, b)
	}
	return out, rows.Err()
}

// selectQuery builds the parameterised query for a filter.
func selectQuery(f ports.BreadcrumbFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.EmployeeIDs) == 1 {
		where = append(where, "employee_id = "+arg(f.EmployeeIDs[0]))
	} else if len(f.EmployeeIDs) > 1 {
		where = append(where, "employee_id = ANY("+arg(f.EmployeeIDs)+")")
	}
	if f.VisitID != "" {
		where = append(where, "visit_id = "+arg(f.VisitID))
	}
	if f.From != nil {
		where = append(where, "captured_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "captured_at <= "+arg(*f.To))
	}
	if f.Before != nil {
		ts := arg(f.Before.CapturedAt)
		where = append(where, "(captured_at, id) < ("+ts+", "+arg(f.Before.ID)+"::uuid)")
	}

	var q strings.Builder
	q.WriteString(`SELECT id::text, employee_id, visit_id, latitude, longitude, accuracy, source, confidence, captured_at, created_at FROM breadcrumbs`)
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}
	if f.Order == ports.OldestFirst {
		q.WriteString(" ORDER BY captured_at ASC, id ASC")
	} else {
		q.WriteString(" ORDER BY captured_at DESC, id DESC")
	}
	if f.Limit > 0 {
		q.WriteString(" LIMIT " + arg(f.Limit))
	}
	return q.String(), args
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
