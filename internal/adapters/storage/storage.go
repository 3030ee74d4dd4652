// Package storage opens the configured breadcrumb backend.
package storage

import (
	"context"
	"fmt"

	"github.com/samirrijal/fieldtrack/internal/adapters/dynamo"
	"github.com/samirrijal/fieldtrack/internal/adapters/postgres"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/pkg/config"
)

const (
	BackendPostgres = "postgres"
	BackendDynamo   = "dynamodb"
)

// Store is an open breadcrumb backend.
type Store struct {
	Repo    ports.BreadcrumbRepository
	Backend string
	// DB is set for the postgres backend only.
	DB *postgres.DB

	ping  func(context.Context) error
	close func()
}

// Open connects to the backend named by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store.Backend {
	case BackendPostgres, "":
		db, err := postgres.New(ctx, cfg.Database.DSN(), 0)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return &Store{
			Repo:    postgres.NewBreadcrumbRepo(db),
			Backend: BackendPostgres,
			DB:      db,
			ping:    db.Ping,
			close:   db.Close,
		}, nil

	case BackendDynamo:
		client, err := dynamo.NewClient(ctx, cfg.Store.DynamoRegion, cfg.Store.DynamoEndpoint)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: %w", err)
		}
		table := cfg.Store.DynamoTable
		return &Store{
			Repo:    dynamo.NewBreadcrumbRepo(client, table),
			Backend: BackendDynamo,
			ping: func(ctx context.Context) error {
				return dynamo.Ping(ctx, client, table)
			},
			close: func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// Ping checks that the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

func (s *Store) Close() {
	s.close()
}
