package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/fieldtrack/internal/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("fieldtrack-test")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "fieldtrack-test", cfg.Telemetry.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.Location.IP.Timeout)
	assert.Equal(t, []string{"ipapi", "ipwhois", "ipapicom", "freeipapi"}, cfg.Location.IP.Providers)
	assert.True(t, cfg.Location.IP.LastResortDefault)
	assert.InDelta(t, 45.5017, cfg.Location.IP.DefaultLatitude, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.Tracking.MinInterval)
	assert.Equal(t, 60*time.Second, cfg.Tracking.MaxInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FIELDTRACK_STORE_BACKEND", "dynamodb")
	t.Setenv("FIELDTRACK_LOCATION_IP_TIMEOUT", "2s")
	t.Setenv("FIELDTRACK_TRACKING_DEFAULT_INTERVAL", "20s")

	cfg, err := config.Load("fieldtrack-test")
	require.NoError(t, err)

	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Location.IP.Timeout)
	assert.Equal(t, 20*time.Second, cfg.Tracking.DefaultInterval)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg, err := config.Load("fieldtrack-test")
	require.NoError(t, err)

	cfg.Server.Port = 0
	cfg.Store.Backend = "sqlite"
	cfg.Tracking.DefaultInterval = 5 * time.Minute
	cfg.Location.IP.Providers = nil

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "server.port")
	assert.Contains(t, msg, "store.backend")
	assert.Contains(t, msg, "tracking.default_interval")
	assert.Contains(t, msg, "location.ip.providers")
}

func TestValidate_DefaultCoordinateBounds(t *testing.T) {
	cfg, err := config.Load("fieldtrack-test")
	require.NoError(t, err)

	cfg.Location.IP.DefaultLatitude = 120
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default coordinate out of range")

	cfg.Location.IP.LastResortDefault = false
	assert.NoError(t, cfg.Validate())
}
