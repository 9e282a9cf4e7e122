// Package fileloader implements file-based configuration loading: a YAML
// config file read through viper so CREWSIGHT_-prefixed environment
// variables override any key, validated before use.
package fileloader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/avolric/crewsight/internal/config"
)

// envPrefix namespaces the environment overrides, e.g.
// CREWSIGHT_POSTGRES_HOST overrides postgres.host.
const envPrefix = "CREWSIGHT"

// FileLoader loads configuration from a file on disk. It implements the
// Loader interface to provide file-based configuration management.
type FileLoader struct {
	// path is the filesystem path to the configuration file.
	path string

	validate *validator.Validate
}

// NewFileLoader creates a new FileLoader that will load configuration from
// the specified file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path, validate: validator.New()}
}

// Load reads, merges and validates the configuration. File values are the
// base; environment variables with the CREWSIGHT_ prefix override them.
// A missing file is not an error so env-only deployments work.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the values a bare deployment runs with. Binding
// every key also makes it visible to AutomaticEnv without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "crewsight")
	v.SetDefault("service.debug_addr", "")

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 0)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "")
	v.SetDefault("postgres.ssl_mode", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.task_events_topic", "dashboard-task-events")
	v.SetDefault("kafka.worker_events_topic", "dashboard-worker-events")
	v.SetDefault("kafka.metrics_events_topic", "dashboard-metrics-events")
	v.SetDefault("kafka.portfolio_events_topic", "dashboard-portfolio-events")

	v.SetDefault("cache.freshness", "5m")
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.compute_rps", 50.0)
	v.SetDefault("cache.compute_burst", 100)

	v.SetDefault("dashboard.reconcile_interval", "30s")
	v.SetDefault("dashboard.digest_hour", 6)
	v.SetDefault("dashboard.digest_minute", 0)

	v.SetDefault("telemetry.exporter_endpoint", "")
	v.SetDefault("telemetry.probability", 0.0)

	v.SetDefault("groups_path", "")
}

// LoadGroups reads and validates the portfolio group definitions file,
// returning the resolved building-id sets. An empty path yields no groups.
func LoadGroups(path string) (map[string][]uuid.UUID, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read groups file: %w", err)
	}

	var file config.GroupsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse groups file: %w", err)
	}

	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid groups file: %w", err)
	}

	return file.BuildingGroups()
}
