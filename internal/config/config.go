// Package config provides configuration loading and management for the ETL service.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/reviews-etl/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for service-specific environment variables
	EnvPrefix = "ETL"

	// DefaultPort is the port the HTTP server listens on when PORT is not set
	DefaultPort = 8080

	// DefaultInterval is the delay between two scheduled ETL runs
	DefaultInterval = 60 * time.Second

	// DefaultShutdownTimeout bounds the wait for the orchestrator on shutdown
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultPageSize is the number of records requested per source page
	DefaultPageSize = 100

	// DefaultMaxPages bounds the number of pages fetched in a single run
	DefaultMaxPages = 1000

	// DefaultLocation is the BigQuery dataset location
	DefaultLocation = "US"
)

const (
	// ConcurrencyConcurrent lets manual and scheduled runs overlap freely
	ConcurrencyConcurrent = "concurrent"

	// ConcurrencySingleFlight makes concurrent callers share one execution
	ConcurrencySingleFlight = "singleflight"

	// ConcurrencyReject refuses a run while another one is executing
	ConcurrencyReject = "reject"
)

// ErrMissingTarget is returned when the BigQuery target identifiers are not configured
var ErrMissingTarget = errors.New("missing BigQuery target configuration")

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path  string
	viper *viper.Viper
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnvironment overlays values read from the given viper instance (usually
// bound to the process environment) on top of the file configuration
func WithEnvironment(v *viper.Viper) Option {
	return func(cfg *loaderConfig) error {
		if v == nil {
			return fmt.Errorf("viper instance cannot be nil")
		}
		cfg.viper = v
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Schedule  ScheduleConfig    `yaml:"schedule"`
	Source    SourceConfig      `yaml:"source"`
	BigQuery  BigQueryConfig    `yaml:"bigquery"`
	Trigger   TriggerConfig     `yaml:"trigger"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	// Host is the interface to bind, defaults to all interfaces
	Host string `yaml:"host,omitempty"`

	// Port is the TCP port, defaults to 8080
	Port int `yaml:"port,omitempty"`
}

// ScheduleConfig defines the periodic orchestrator settings
type ScheduleConfig struct {
	// Interval is the delay between two scheduled runs (e.g. "60s")
	Interval string `yaml:"interval,omitempty"`

	// ShutdownTimeout bounds the wait for the loop to stop (e.g. "5s")
	ShutdownTimeout string `yaml:"shutdownTimeout,omitempty"`

	// Concurrency is one of concurrent, singleflight or reject
	Concurrency string `yaml:"concurrency,omitempty"`
}

// SourceConfig defines where the ETL pass extracts records from
type SourceConfig struct {
	// BaseURL is the paginated endpoint serving review records
	BaseURL string `yaml:"baseURL"`

	// PageSize is the number of records requested per page
	PageSize int `yaml:"pageSize,omitempty"`

	// RecordsPath is the gjson path of the record array inside a page.
	// Empty means the page itself is the array.
	RecordsPath string `yaml:"recordsPath,omitempty"`

	// MaxPages bounds the pages fetched in a single run
	MaxPages int `yaml:"maxPages,omitempty"`

	// Timeout is the per-request HTTP timeout (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// BigQueryConfig defines the load target
type BigQueryConfig struct {
	ProjectID string `yaml:"projectID"`
	DatasetID string `yaml:"datasetID"`
	TableID   string `yaml:"tableID"`

	// Location of the dataset, defaults to US
	Location string `yaml:"location,omitempty"`

	// ProvisionOnStart ensures the table exists before the schedule starts
	ProvisionOnStart bool `yaml:"provisionOnStart,omitempty"`

	// CredentialsFile is a path to a service account JSON key
	CredentialsFile string `yaml:"credentialsFile,omitempty"`

	// ServiceAccount is assembled from environment variables, never from the file
	ServiceAccount *ServiceAccount `yaml:"-"`
}

// TriggerConfig defines the manual trigger endpoint settings
type TriggerConfig struct {
	// RateLimit is the number of manual runs accepted per minute, 0 disables the limit
	RateLimit int `yaml:"rateLimit,omitempty"`
}

// Target identifies the BigQuery table the pipeline writes to
type Target struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// FullID returns the table reference in project.dataset.table form
func (t Target) FullID() string {
	return fmt.Sprintf("%s.%s.%s", t.ProjectID, t.DatasetID, t.TableID)
}

// LoadConfig loads the configuration from the optional YAML file, overlays the
// environment and validates the result
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		// Read the entire file into memory
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Parse YAML content
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if loaderCfg.viper != nil {
		if err := config.applyEnvironment(loaderCfg.viper); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables that are already set are not overridden. A missing
// default ".env" file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// NewEnvironment returns a viper instance reading the process environment
func NewEnvironment() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// applyEnvironment overlays the deployment variables
// (BASE_URL, PAGE_SIZE, PROJECT_ID, ...) and the ETL_-prefixed settings
func (c *Config) applyEnvironment(v *viper.Viper) error {
	setString := func(dst *string, key string) {
		if val := strings.TrimSpace(v.GetString(key)); val != "" {
			*dst = val
		}
	}
	setInt := func(dst *int, key string) error {
		val := strings.TrimSpace(v.GetString(key))
		if val == "" {
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, val)
		}
		*dst = n
		return nil
	}

	var errs []error
	errs = append(errs,
		setInt(&c.Server.Port, "PORT"),
		setInt(&c.Source.PageSize, "PAGE_SIZE"),
		setInt(&c.Trigger.RateLimit, EnvPrefix+"_TRIGGER_RATE_LIMIT"),
	)

	setString(&c.Source.BaseURL, "BASE_URL")
	setString(&c.BigQuery.ProjectID, "PROJECT_ID")
	setString(&c.BigQuery.DatasetID, "DATASET_ID")
	setString(&c.BigQuery.TableID, "TABLE_ID")
	setString(&c.BigQuery.Location, "LOCATION")
	setString(&c.BigQuery.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Schedule.Interval, EnvPrefix+"_INTERVAL")
	setString(&c.Schedule.ShutdownTimeout, EnvPrefix+"_SHUTDOWN_TIMEOUT")
	setString(&c.Schedule.Concurrency, EnvPrefix+"_CONCURRENCY")

	if sa := serviceAccountFromEnvironment(v); sa != nil {
		c.BigQuery.ServiceAccount = sa
	}

	return errors.Join(errs...)
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port))
	}

	if err := validatePositiveDuration(c.Schedule.Interval, "schedule.interval"); err != nil {
		errs = append(errs, err)
	}
	if err := validatePositiveDuration(c.Schedule.ShutdownTimeout, "schedule.shutdownTimeout"); err != nil {
		errs = append(errs, err)
	}
	switch c.Schedule.Concurrency {
	case "", ConcurrencyConcurrent, ConcurrencySingleFlight, ConcurrencyReject:
	default:
		errs = append(errs, fmt.Errorf("schedule.concurrency must be one of %s, %s or %s, got %q",
			ConcurrencyConcurrent, ConcurrencySingleFlight, ConcurrencyReject, c.Schedule.Concurrency))
	}

	if c.Source.BaseURL != "" {
		u, err := url.Parse(c.Source.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("source.baseURL must be an absolute http(s) URL, got %q", c.Source.BaseURL))
		}
	}
	if c.Source.PageSize < 0 {
		errs = append(errs, fmt.Errorf("source.pageSize must be positive, got %d", c.Source.PageSize))
	}
	if c.Source.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("source.maxPages must be positive, got %d", c.Source.MaxPages))
	}
	if err := validatePositiveDuration(c.Source.Timeout, "source.timeout"); err != nil {
		errs = append(errs, err)
	}

	if c.Trigger.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("trigger.rateLimit must not be negative, got %d", c.Trigger.RateLimit))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func validatePositiveDuration(value, field string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// Address returns the listen address in host:port form
func (s ServerConfig) Address() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// GetInterval returns the schedule interval, falling back to DefaultInterval
func (s ScheduleConfig) GetInterval() time.Duration {
	return parseDurationOrDefault(s.Interval, DefaultInterval, "schedule.interval")
}

// GetShutdownTimeout returns the bounded shutdown wait, falling back to DefaultShutdownTimeout
func (s ScheduleConfig) GetShutdownTimeout() time.Duration {
	return parseDurationOrDefault(s.ShutdownTimeout, DefaultShutdownTimeout, "schedule.shutdownTimeout")
}

// GetConcurrency returns the concurrency policy, defaulting to concurrent
func (s ScheduleConfig) GetConcurrency() string {
	if s.Concurrency == "" {
		return ConcurrencyConcurrent
	}
	return s.Concurrency
}

// GetPageSize returns the page size, falling back to DefaultPageSize
func (s SourceConfig) GetPageSize() int {
	if s.PageSize <= 0 {
		return DefaultPageSize
	}
	return s.PageSize
}

// GetMaxPages returns the page bound, falling back to DefaultMaxPages
func (s SourceConfig) GetMaxPages() int {
	if s.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return s.MaxPages
}

// GetTimeout returns the per-request timeout, 0 means the HTTP client default
func (s SourceConfig) GetTimeout() time.Duration {
	return parseDurationOrDefault(s.Timeout, 0, "source.timeout")
}

// Validate reports whether the source can be used to build a pipeline
func (s SourceConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("source.baseURL (BASE_URL) is required")
	}
	return nil
}

// GetLocation returns the dataset location, defaulting to US
func (b BigQueryConfig) GetLocation() string {
	if b.Location == "" {
		return DefaultLocation
	}
	return b.Location
}

// Target returns the configured table target, failing fast when any identifier is missing
func (b BigQueryConfig) Target() (Target, error) {
	var missing []string
	if b.ProjectID == "" {
		missing = append(missing, "PROJECT_ID")
	}
	if b.DatasetID == "" {
		missing = append(missing, "DATASET_ID")
	}
	if b.TableID == "" {
		missing = append(missing, "TABLE_ID")
	}
	if len(missing) > 0 {
		return Target{}, fmt.Errorf("%w: ensure %s are set", ErrMissingTarget, strings.Join(missing, ", "))
	}
	return Target{ProjectID: b.ProjectID, DatasetID: b.DatasetID, TableID: b.TableID}, nil
}

func parseDurationOrDefault(value string, def time.Duration, field string) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("Invalid duration, using default",
			"field", field,
			"value", value,
			"default", def)
		return def
	}
	return d
}
