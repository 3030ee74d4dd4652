package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/fieldtrack/internal/pkg/config"
)

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: "sqlite"}}

	s, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestStore_PingAndClose(t *testing.T) {
	closed := false
	s := &Store{
		Backend: BackendDynamo,
		ping:    func(context.Context) error { return errors.New("table not found") },
		close:   func() { closed = true },
	}

	assert.EqualError(t, s.Ping(context.Background()), "table not found")
	s.Close()
	assert.True(t, closed)
}
