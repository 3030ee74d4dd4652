package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Location  LocationConfig  `mapstructure:"location"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Store     StoreConfig     `mapstructure:"store"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// LocationConfig tunes the device attempt and the IP fallback chain.
type LocationConfig struct {
	DeviceTimeout  time.Duration    `mapstructure:"device_timeout"`
	DeviceMaxAge   time.Duration    `mapstructure:"device_max_age"`
	HighAccuracy   bool             `mapstructure:"high_accuracy"`
	IPFallback     bool             `mapstructure:"ip_fallback"`
	ReverseGeocode bool             `mapstructure:"reverse_geocode"`
	IP             IPLocationConfig `mapstructure:"ip"`
}

type IPLocationConfig struct {
	Providers         []string      `mapstructure:"providers"`
	Timeout           time.Duration `mapstructure:"timeout"`
	LastResortDefault bool          `mapstructure:"last_resort_default"`
	DefaultLatitude   float64       `mapstructure:"default_latitude"`
	DefaultLongitude  float64       `mapstructure:"default_longitude"`
}

type GeocoderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	CacheTTL      int           `mapstructure:"cache_ttl"`
}

type TrackingConfig struct {
	DefaultInterval  time.Duration `mapstructure:"default_interval"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	CaptureTimeout   time.Duration `mapstructure:"capture_timeout"`
	MaxVisitDuration time.Duration `mapstructure:"max_visit_duration"`
}

// StoreConfig selects the breadcrumb backend: "postgres" or "dynamodb".
type StoreConfig struct {
	Backend        string `mapstructure:"backend"`
	DynamoTable    string `mapstructure:"dynamo_table"`
	DynamoRegion   string `mapstructure:"dynamo_region"`
	DynamoEndpoint string `mapstructure:"dynamo_endpoint"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fieldtrack")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "fieldtrack")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)

	v.SetDefault("location.device_timeout", 10*time.Second)
	v.SetDefault("location.device_max_age", 30*time.Second)
	v.SetDefault("location.high_accuracy", true)
	v.SetDefault("location.ip_fallback", true)
	v.SetDefault("location.reverse_geocode", true)
	v.SetDefault("location.ip.providers", []string{"ipapi", "ipwhois", "ipapicom", "freeipapi"})
	v.SetDefault("location.ip.timeout", 5*time.Second)
	v.SetDefault("location.ip.last_resort_default", true)
	// Montreal service area
	v.SetDefault("location.ip.default_latitude", 45.5017)
	v.SetDefault("location.ip.default_longitude", -73.5673)

	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "fieldtrack/1.0 (ops@fieldtrack.example)")
	v.SetDefault("geocoder.timeout", 5*time.Second)
	v.SetDefault("geocoder.rate_per_second", 1.0)
	v.SetDefault("geocoder.cache_ttl", 86400)

	v.SetDefault("tracking.default_interval", 30*time.Second)
	v.SetDefault("tracking.min_interval", 15*time.Second)
	v.SetDefault("tracking.max_interval", 60*time.Second)
	v.SetDefault("tracking.capture_timeout", 10*time.Second)
	v.SetDefault("tracking.max_visit_duration", 12*time.Hour)

	v.SetDefault("store.backend", "postgres")
	v.SetDefault("store.dynamo_table", "fieldtrack_breadcrumbs")
	v.SetDefault("store.dynamo_region", "us-east-1")
	v.SetDefault("store.dynamo_endpoint", "")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "visit-tracking")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: FIELDTRACK_LOCATION_IP_TIMEOUT → location.ip.timeout
	v.SetEnvPrefix("FIELDTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	switch c.Store.Backend {
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	case "dynamodb":
		if c.Store.DynamoTable == "" {
			errs = append(errs, "store.dynamo_table is required for the dynamodb backend")
		}
		if c.Store.DynamoRegion == "" {
			errs = append(errs, "store.dynamo_region is required for the dynamodb backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be postgres or dynamodb, got %q", c.Store.Backend))
	}

	if c.Location.DeviceTimeout <= 0 {
		errs = append(errs, "location.device_timeout must be positive")
	}
	if c.Location.IPFallback {
		if len(c.Location.IP.Providers) == 0 {
			errs = append(errs, "location.ip.providers must list at least one provider when ip_fallback is on")
		}
		if c.Location.IP.Timeout <= 0 {
			errs = append(errs, "location.ip.timeout must be positive")
		}
	}
	if c.Location.IP.LastResortDefault {
		lat, lon := c.Location.IP.DefaultLatitude, c.Location.IP.DefaultLongitude
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			errs = append(errs, fmt.Sprintf("location.ip default coordinate out of range: %v, %v", lat, lon))
		}
	}
	if c.Location.ReverseGeocode {
		if c.Geocoder.BaseURL == "" {
			errs = append(errs, "geocoder.base_url is required when location.reverse_geocode is on")
		}
		if c.Geocoder.Timeout <= 0 {
			errs = append(errs, "geocoder.timeout must be positive")
		}
		if c.Geocoder.RatePerSecond <= 0 {
			errs = append(errs, "geocoder.rate_per_second must be positive")
		}
	}

	t := c.Tracking
	if t.MinInterval <= 0 {
		errs = append(errs, "tracking.min_interval must be positive")
	}
	if t.MaxInterval < t.MinInterval {
		errs = append(errs, "tracking.max_interval must not be below tracking.min_interval")
	}
	if t.DefaultInterval < t.MinInterval || t.DefaultInterval > t.MaxInterval {
		errs = append(errs, "tracking.default_interval must lie within [min_interval, max_interval]")
	}
	if t.CaptureTimeout <= 0 {
		errs = append(errs, "tracking.capture_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
