package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_visits.up.sql", "001_breadcrumbs.up.sql",
		"001_breadcrumbs.down.sql", "002_visits.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	up, err := migrationFiles(dir, "up")
	if err != nil {
		t.Fatal(err)
	}
	wantUp := []string{filepath.Join(dir, "001_breadcrumbs.up.sql"), filepath.Join(dir, "002_visits.up.sql")}
	if diff := cmp.Diff(wantUp, up); diff != "" {
		t.Errorf("up order (-want +got):\n%s", diff)
	}

	down, err := migrationFiles(dir, "down")
	if err != nil {
		t.Fatal(err)
	}
	wantDown := []string{filepath.Join(dir, "002_visits.down.sql"), filepath.Join(dir, "001_breadcrumbs.down.sql")}
	if diff := cmp.Diff(wantDown, down); diff != "" {
		t.Errorf("down order (-want +got):\n%s", diff)
	}
}
