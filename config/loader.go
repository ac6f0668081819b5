package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete batchd configuration.
type Config struct {
	// Server holds the HTTP API server settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis holds the job queue backend settings.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Scheduler holds the batching and concurrency settings.
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Engine holds the inference backend settings.
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Audio holds the audio acquisition settings.
	Audio AudioConfig `yaml:"audio" env:"AUDIO"`

	// Dispatcher holds the outcome callback settings.
	Dispatcher DispatcherConfig `yaml:"dispatcher" env:"DISPATCHER"`

	// Log holds the logging settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds the OpenTelemetry export settings.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	// HTTP port for the API surface.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics port for the Prometheus scrape endpoint.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout for incoming requests.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout for responses. Must cover the synchronous transcribe path.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// SyncWaitTimeout bounds how long a synchronous transcribe call blocks.
	SyncWaitTimeout time.Duration `yaml:"sync_wait_timeout" env:"SYNC_WAIT_TIMEOUT"`
	// Rate limit in requests per second; 0 disables.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Rate limit burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RedisConfig holds the queue backend settings.
type RedisConfig struct {
	// Address in host:port form.
	Addr string `yaml:"addr" env:"ADDR"`
	// Username for ACL-enabled deployments.
	Username string `yaml:"username" env:"USERNAME"`
	// Password.
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number.
	DB int `yaml:"db" env:"DB"`
	// Connection pool size.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// QueueName is the list key holding pending jobs.
	QueueName string `yaml:"queue_name" env:"QUEUE_NAME"`
}

// SchedulerConfig holds the batching and concurrency settings.
type SchedulerConfig struct {
	// MaxBatchSize is the batch capacity.
	MaxBatchSize int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
	// BatchTimeout is the collection window after the first job arrives.
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT"`
	// MaxConcurrency is the number of batches allowed to execute at once.
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// BRPopTimeout is the blocking-pop timeout while the queue is idle.
	BRPopTimeout time.Duration `yaml:"brpop_timeout" env:"BRPOP_TIMEOUT"`
	// StragglerPollInterval is the queue polling cadence inside an open window.
	StragglerPollInterval time.Duration `yaml:"straggler_poll_interval" env:"STRAGGLER_POLL_INTERVAL"`
	// PreprocessWorkers bounds parallel preprocessing within one batch.
	PreprocessWorkers int `yaml:"preprocess_workers" env:"PREPROCESS_WORKERS"`
	// MaxInflightCycles bounds how many batches may be in flight at once.
	MaxInflightCycles int `yaml:"max_inflight_cycles" env:"MAX_INFLIGHT_CYCLES"`
	// ExecDeadline bounds the wait for an execution slot; 0 means no bound.
	ExecDeadline time.Duration `yaml:"exec_deadline" env:"EXEC_DEADLINE"`
}

// EngineConfig holds the inference backend settings.
type EngineConfig struct {
	// Endpoint is the inference server URL.
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// APIKey, when set, is sent as a bearer token.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// RequestTimeout bounds one inference call.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// ComputeRatePerSecond is the billing rate per second of execution time.
	ComputeRatePerSecond float64 `yaml:"compute_rate_per_second" env:"COMPUTE_RATE_PER_SECOND"`
}

// AudioConfig holds the audio acquisition settings.
type AudioConfig struct {
	// FetchTimeout bounds one audio download.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	// MaxDownloadBytes caps the size of a fetched or inline audio file.
	MaxDownloadBytes int64 `yaml:"max_download_bytes" env:"MAX_DOWNLOAD_BYTES"`
}

// DispatcherConfig holds the outcome callback settings.
type DispatcherConfig struct {
	// CallbackTimeout bounds one callback POST.
	CallbackTimeout time.Duration `yaml:"callback_timeout" env:"CALLBACK_TIMEOUT"`
	// CallbackAttempts is the maximum number of POST attempts per outcome.
	CallbackAttempts int `yaml:"callback_attempts" env:"CALLBACK_ATTEMPTS"`
	// RetryDelay is the pause between callback attempts.
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths; defaults to stdout.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller adds caller annotations.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace adds stack traces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds the OpenTelemetry export settings.
type TelemetryConfig struct {
	// Enabled turns OTLP export on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the collector address.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName reported on spans and metrics.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling ratio.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the BATCHD env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "BATCHD",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from defaults and environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis addr is required")
	}
	if c.Scheduler.MaxBatchSize <= 0 {
		errs = append(errs, "max_batch_size must be positive")
	}
	if c.Scheduler.BatchTimeout <= 0 {
		errs = append(errs, "batch_timeout must be positive")
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		errs = append(errs, "max_concurrency must be positive")
	}
	if c.Scheduler.PreprocessWorkers <= 0 {
		errs = append(errs, "preprocess_workers must be positive")
	}
	if c.Scheduler.MaxInflightCycles <= 0 {
		errs = append(errs, "max_inflight_cycles must be positive")
	}
	if c.Engine.Endpoint == "" {
		errs = append(errs, "engine endpoint is required")
	}
	if c.Engine.ComputeRatePerSecond < 0 {
		errs = append(errs, "compute_rate_per_second must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
