//go:build integration
// +build integration

package http_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	handler "github.com/samirrijal/fieldtrack/internal/adapters/http"
	"github.com/samirrijal/fieldtrack/internal/adapters/postgres"
	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
	"github.com/samirrijal/fieldtrack/internal/pkg/config"
)

// setupTestDB connects to the test database described by FIELDTRACK_DATABASE_*.
// The schema comes from cmd/migrate.
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("fieldtrack-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// setupTestDeps wires the breadcrumb handlers to the real postgres repo.
func setupTestDeps(db *postgres.DB) *handler.Dependencies {
	repo := postgres.NewBreadcrumbRepo(db)
	return makeDeps(func(d *handler.Dependencies) {
		d.Breadcrumbs = usecases.NewBreadcrumbService(repo, nil)
		d.Aggregator = usecases.NewActiveLocationAggregator(repo)
		d.DB = db
		d.Store = db
		d.StoreBackend = "postgres"
	})
}

// uniqueID keeps runs against a shared database from seeing each other's rows.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestBreadcrumbs_Integration_AppendAndRange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	app := setupApp(setupTestDeps(db))
	emp := uniqueID("emp")
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		resp := doJSON(t, app, "POST", "/v1/employees/"+emp+"/breadcrumbs", map[string]interface{}{
			"latitude":    43.26 + float64(i)*0.001,
			"longitude":   -2.93,
			"accuracy":    12,
			"captured_at": base.Add(time.Duration(i) * time.Minute),
		})
		expectStatus(t, resp, 201)
	}

	resp := doJSON(t, app, "GET", "/v1/employees/"+emp+"/breadcrumbs?limit=2", nil)
	expectStatus(t, resp, 200)

	var page struct {
		Data       []domain.Breadcrumb `json:"data"`
		Pagination handler.Pagination  `json:"pagination"`
	}
	decode(t, resp, &page)
	if len(page.Data) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page.Data))
	}
	if !page.Data[0].CapturedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("expected newest first, got %v", page.Data[0].CapturedAt)
	}
	if page.Data[0].Confidence != domain.ConfidenceMedium || page.Data[0].Accuracy == nil {
		t.Errorf("expected stored accuracy and medium confidence, got %+v", page.Data[0].LocationSample)
	}
	if page.Pagination.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}
}

func TestBreadcrumbs_Integration_VisitPathAndLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	app := setupApp(setupTestDeps(db))
	emp, visit := uniqueID("emp"), uniqueID("visit")
	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Microsecond)

	for i, lat := range []float64{43.00, 43.01} {
		resp := doJSON(t, app, "POST", "/v1/employees/"+emp+"/breadcrumbs", map[string]interface{}{
			"latitude":    lat,
			"longitude":   -2.9,
			"visit_id":    visit,
			"captured_at": base.Add(time.Duration(i) * time.Minute),
		})
		expectStatus(t, resp, 201)
	}

	resp := doJSON(t, app, "GET", "/v1/visits/"+visit+"/path", nil)
	expectStatus(t, resp, 200)
	var path domain.VisitPath
	decode(t, resp, &path)
	if len(path.Breadcrumbs) != 2 || path.DistanceMeters < 1000 {
		t.Errorf("unexpected path %+v", path)
	}

	resp = doJSON(t, app, "GET", "/v1/employees/locations/latest?employee_ids="+emp+"&stale_after=1h", nil)
	expectStatus(t, resp, 200)
	var latest struct {
		Locations map[string]domain.Breadcrumb `json:"locations"`
	}
	decode(t, resp, &latest)
	if b, ok := latest.Locations[emp]; !ok || b.Latitude != 43.01 {
		t.Errorf("expected newest breadcrumb for %s, got %+v", emp, latest.Locations)
	}
}

func TestReady_Integration_WithRealDB(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	app := setupApp(setupTestDeps(db))

	resp := doJSON(t, app, "GET", "/v1/ready", nil)
	expectStatus(t, resp, 200)
}
