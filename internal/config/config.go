// Package config defines the service configuration and its loading
// contract. Values come from a YAML file with CREWSIGHT_-prefixed
// environment overrides; see the fileloader package for the concrete loader.
package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config represents the top-level service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service" yaml:"service"`
	Postgres  PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// GroupsPath points to the optional portfolio group definitions file.
	GroupsPath string `mapstructure:"groups_path" yaml:"groups_path"`
}

// ServiceConfig identifies this instance.
type ServiceConfig struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
	// DebugAddr serves pprof; empty disables the debug listener.
	DebugAddr string `mapstructure:"debug_addr" yaml:"debug_addr"`
}

// PostgresConfig holds the pieces of the database DSN. URL, when set, wins
// over the individual parts.
type PostgresConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
}

// DSN assembles the connection string, falling back to local-dev defaults
// for any part left unset.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	host, port := c.Host, c.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	user, password, database, sslMode := c.User, c.Password, c.Database, c.SSLMode
	if user == "" {
		user = "postgres"
	}
	if password == "" {
		password = "postgres"
	}
	if database == "" {
		database = "crewsight"
	}
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, password, host, port, database, sslMode)
}

// KafkaConfig configures the outbound dashboard update relay. An empty
// broker list disables the relay entirely.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`

	TaskEventsTopic      string `mapstructure:"task_events_topic" yaml:"task_events_topic"`
	WorkerEventsTopic    string `mapstructure:"worker_events_topic" yaml:"worker_events_topic"`
	MetricsEventsTopic   string `mapstructure:"metrics_events_topic" yaml:"metrics_events_topic"`
	PortfolioEventsTopic string `mapstructure:"portfolio_events_topic" yaml:"portfolio_events_topic"`
}

// Enabled reports whether the relay should be wired at all.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// CacheConfig tunes the metrics cache and the store-protecting rate limiter.
type CacheConfig struct {
	// Freshness is how long a computed snapshot stays servable.
	// Non-positive falls back to the domain default (5 minutes).
	Freshness time.Duration `mapstructure:"freshness" yaml:"freshness"`
	// SweepInterval is the expired-entry sweep cadence; non-positive falls
	// back to the freshness window.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// ComputeRPS caps metric recomputations per second against the store.
	ComputeRPS float64 `mapstructure:"compute_rps" yaml:"compute_rps" validate:"gte=0"`
	// ComputeBurst is the recompute limiter's burst size.
	ComputeBurst int `mapstructure:"compute_burst" yaml:"compute_burst" validate:"gte=0"`
}

// DashboardConfig tunes the sync engine's periodic work.
type DashboardConfig struct {
	// ReconcileInterval is the drift-check cadence; non-positive falls back
	// to the reconciler default (30 seconds).
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`
	// DigestHour/DigestMinute schedule the daily portfolio digest (UTC).
	DigestHour   int `mapstructure:"digest_hour" yaml:"digest_hour" validate:"gte=0,lte=23"`
	DigestMinute int `mapstructure:"digest_minute" yaml:"digest_minute" validate:"gte=0,lte=59"`
}

// TelemetryConfig configures trace exporting.
type TelemetryConfig struct {
	ExporterEndpoint string  `mapstructure:"exporter_endpoint" yaml:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability" yaml:"probability" validate:"gte=0,lte=1"`
}

// GroupsFile is the on-disk shape of the portfolio group definitions:
// operator-named building subsets served through the batch metrics path.
type GroupsFile struct {
	Groups []GroupSpec `yaml:"groups" validate:"dive"`
}

// GroupSpec names one fixed subset of buildings.
type GroupSpec struct {
	Name      string   `yaml:"name" validate:"required"`
	Buildings []string `yaml:"buildings" validate:"min=1,dive,uuid"`
}

// BuildingGroups converts the validated file into the id sets the
// portfolio-groups resolver consumes.
func (f GroupsFile) BuildingGroups() (map[string][]uuid.UUID, error) {
	groups := make(map[string][]uuid.UUID, len(f.Groups))
	for _, spec := range f.Groups {
		if _, ok := groups[spec.Name]; ok {
			return nil, fmt.Errorf("duplicate group name %q", spec.Name)
		}
		ids := make([]uuid.UUID, 0, len(spec.Buildings))
		for _, raw := range spec.Buildings {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("group %q: invalid building id %q: %w", spec.Name, raw, err)
			}
			ids = append(ids, id)
		}
		groups[spec.Name] = ids
	}
	return groups, nil
}
