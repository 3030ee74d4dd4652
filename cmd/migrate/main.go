package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samirrijal/fieldtrack/internal/adapters/dynamo"
	"github.com/samirrijal/fieldtrack/internal/adapters/postgres"
	"github.com/samirrijal/fieldtrack/internal/adapters/storage"
	"github.com/samirrijal/fieldtrack/internal/pkg/config"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}
	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatalf("unknown command: %s", direction)
	}

	cfg, err := config.Load("fieldtrack-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.Store.Backend {
	case storage.BackendDynamo:
		migrateDynamo(ctx, cfg, direction)
	default:
		migratePostgres(ctx, cfg, direction)
	}
}

func migratePostgres(ctx context.Context, cfg *config.Config, direction string) {
	db, err := postgres.New(ctx, cfg.Database.DSN(), 2)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	files, err := migrationFiles(migrationsDir, direction)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no %s migrations in %s", direction, migrationsDir)
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Pool.Exec(ctx, string(data)); err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}
		fmt.Printf("OK  %s\n", f)
	}

	log.Printf("all %s migrations applied", direction)
}

// migrationFiles lists NNN_name.<direction>.sql files; down migrations run newest first.
func migrationFiles(dir, direction string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*."+direction+".sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// migrateDynamo creates the table on "up". "down" is refused.
func migrateDynamo(ctx context.Context, cfg *config.Config, direction string) {
	if direction == "down" {
		log.Fatalf("refusing to delete dynamodb table %s; drop it manually", cfg.Store.DynamoTable)
	}

	client, err := dynamo.NewClient(ctx, cfg.Store.DynamoRegion, cfg.Store.DynamoEndpoint)
	if err != nil {
		log.Fatalf("dynamodb: %v", err)
	}
	created, err := dynamo.EnsureTable(ctx, client, cfg.Store.DynamoTable)
	if err != nil {
		log.Fatalf("ensure table: %v", err)
	}
	if created {
		fmt.Printf("OK  created %s\n", cfg.Store.DynamoTable)
	} else {
		fmt.Printf("OK  %s already exists\n", cfg.Store.DynamoTable)
	}
}
