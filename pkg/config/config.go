package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentTest        = "test"
	EnvironmentProduction  = "production"
)

type Config struct {
	Environment string `koanf:"environment" default:"development" validate:"oneof=development test production"`
	Hostname    string `koanf:"-"`

	ServerHost string `koanf:"server_host" default:"0.0.0.0"`
	ServerPort int    `koanf:"server_port" default:"8080" validate:"min=0,max=65535"`
	// PublicURL is the externally reachable origin. It is used to build the
	// OAuth client metadata and redirect URIs.
	PublicURL string `koanf:"public_url" validate:"required,url"`

	DatabaseFilePath          string        `koanf:"database_file_path" validate:"required"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`

	KVDirectory          string `koanf:"kv_directory" validate:"required"`
	SearchIndexDirectory string `koanf:"search_index_directory" validate:"required"`

	CookieSecret     string        `koanf:"cookie_secret" validate:"required,min=32"`
	SessionTTL       time.Duration `koanf:"session_ttl" default:"24h"`
	AdminExportToken string        `koanf:"admin_export_token"`

	WorkerProcesses int `koanf:"worker_processes" default:"2" validate:"min=1"`
	TaskConcurrency int `koanf:"task_concurrency" default:"4" validate:"min=1"`

	FirehoseEnabled        bool          `koanf:"firehose_enabled" default:"true"`
	JetstreamURL           string        `koanf:"jetstream_url" default:"wss://jetstream2.us-east.bsky.network/subscribe"`
	FirehoseReconnectDelay time.Duration `koanf:"firehose_reconnect_delay" default:"5s"`

	BookLockTTL          time.Duration `koanf:"book_lock_ttl" default:"30s"`
	EnrichmentStaleAfter time.Duration `koanf:"enrichment_stale_after" default:"720h"`
	PostLoginSyncTimeout time.Duration `koanf:"post_login_sync_timeout" default:"800ms"`
	ProfileCacheTTL      time.Duration `koanf:"profile_cache_ttl" default:"1h"`

	WorkerPollInterval time.Duration `koanf:"worker_poll_interval" default:"5s"`
	// EnrichmentSweepInterval is how often the worker queues stale catalog
	// rows for enrichment. Zero disables the sweep.
	EnrichmentSweepInterval time.Duration `koanf:"enrichment_sweep_interval" default:"1h"`
	EnrichmentSweepBatch    int           `koanf:"enrichment_sweep_batch" default:"50" validate:"min=1"`
	JobLogRetention         time.Duration `koanf:"job_log_retention" default:"168h"`

	GoodreadsBaseURL           string  `koanf:"goodreads_base_url" default:"https://www.goodreads.com"`
	GoodreadsRequestsPerSecond float64 `koanf:"goodreads_requests_per_second" default:"1"`

	PLCDirectoryURL  string `koanf:"plc_directory_url" default:"https://plc.directory"`
	PublicAppViewURL string `koanf:"public_appview_url" default:"https://public.api.bsky.app"`

	LoginRequestsPerMinute float64 `koanf:"login_requests_per_minute" default:"10"`
	// MobileAppScheme is the only URL scheme /mobile/login will hand a
	// session token back to.
	MobileAppScheme string `koanf:"mobile_app_scheme" default:"bookhive"`

	// OTelEndpoint enables trace export over OTLP/HTTP when set.
	OTelEndpoint  string `koanf:"otel_endpoint"`
	OTelAuthToken string `koanf:"otel_auth_token"`
}

const (
	environmentENV = "ENVIRONMENT"
	configFileENV  = "CONFIG_FILE"
)

// New builds the config from struct defaults, environment-specific defaults,
// an optional YAML file (CONFIG_FILE) and finally environment variables, in
// increasing order of precedence.
func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Hostname = hostname

	switch os.Getenv(environmentENV) {
	case EnvironmentDevelopment, "":
		loadDevelopmentConfig(cfg)
	case EnvironmentTest:
		loadTestConfig(cfg)
	case EnvironmentProduction:
		cfg.Environment = EnvironmentProduction
	}

	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = "/config/bookhive.yaml"
	}
	if _, statErr := os.Stat(configFile); statErr == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	err = k.Load(env.Provider("", ".", strings.ToLower), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	err = k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentDevelopment
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewForTest returns a config suitable for unit tests. It is never validated.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	loadTestConfig(cfg)
	return cfg
}

// IsProduction reports whether the server runs with production settings.
func (cfg *Config) IsProduction() bool {
	return cfg.Environment == EnvironmentProduction
}

func validate(cfg *Config) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("koanf")
		if name == "" || name == "-" {
			return toSnakeCase(fld.Name)
		}
		return name
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WithStack(err)
	}

	fe := verrs[0]
	key := fe.Field()
	envKey := strings.ToUpper(key)
	if fe.Tag() == "required" {
		return errors.Errorf("missing required config: set %s env var or %s in the config file", envKey, key)
	}
	return errors.Errorf("invalid config %s (%s): failed %q validation", envKey, key, fe.Tag())
}

func toSnakeCase(s string) string {
	return strcase.ToSnake(s)
}
