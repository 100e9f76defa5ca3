package config

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Extract   ExtractConfig
	Provider  ProviderConfig
	Staging   StagingConfig
	Storage   StorageConfig
	Warehouse WarehouseConfig
	DuckDB    DuckDBConfig
	Postgres  PostgresConfig
	Schedule  ScheduleConfig
	RunStore  RunStoreConfig `mapstructure:"run_store"`
	Secrets   SecretsConfig
	Log       LogConfig
	Env       string
}

type ExtractConfig struct {
	Symbols        []string `mapstructure:"symbols"`
	MaxConcurrency int      `mapstructure:"max_concurrency"`
	Backoff        BackoffConfig
}

type BackoffConfig struct {
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	RetryMax     int           `mapstructure:"retry_max"`
}

// ProviderConfig points at the Yahoo Finance chart API.
type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Range     string        `mapstructure:"range"`
	Interval  string        `mapstructure:"interval"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StagingConfig struct {
	LocalDir   string `mapstructure:"local_dir"`
	FilePrefix string `mapstructure:"file_prefix"`
}

type StorageConfig struct {
	Backend      string `mapstructure:"backend"` // "s3" or "local"
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	LocalRoot    string `mapstructure:"local_root"`
}

type WarehouseConfig struct {
	Backend string `mapstructure:"backend"` // "duckdb" or "postgres"
	Dataset string `mapstructure:"dataset"`
	Table   string `mapstructure:"table"`
}

type DuckDBConfig struct {
	Path              string   `mapstructure:"path"`
	ConnInitFnQueries []string `mapstructure:"conn_init_fn_queries"`
	MotherDuckToken   string   `mapstructure:"motherduck_token"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns a postgresql:// connection URL for lib/pq.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgresql",
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	return u.String()
}

type ScheduleConfig struct {
	Cron       string        `mapstructure:"cron"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type RunStoreConfig struct {
	Path string `mapstructure:"path"`
}

type SecretsConfig struct {
	MotherDuckTokenParam  string `mapstructure:"motherduck_token_param"`
	PostgresPasswordParam string `mapstructure:"postgres_password_param"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "text"
	OutputFile string `mapstructure:"output_file"`
}

// DefaultSymbols is the fixed list of tickers the pipeline tracks.
var DefaultSymbols = []string{"NVDA", "MSFT", "GOOGL", "TSLA"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extract.symbols", DefaultSymbols)
	v.SetDefault("extract.max_concurrency", 1)
	v.SetDefault("extract.backoff.retry_wait_min", time.Second)
	v.SetDefault("extract.backoff.retry_wait_max", 30*time.Second)
	v.SetDefault("extract.backoff.retry_max", 3)

	v.SetDefault("provider.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("provider.range", "1d")
	v.SetDefault("provider.interval", "1d")
	v.SetDefault("provider.user_agent", "Mozilla/5.0")

	v.SetDefault("staging.local_dir", "/tmp")
	v.SetDefault("staging.file_prefix", "stock_data_")

	v.SetDefault("storage.backend", "s3")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.local_root", "objects")

	v.SetDefault("warehouse.backend", "duckdb")
	v.SetDefault("warehouse.dataset", "wallstreet_warehouse")
	v.SetDefault("warehouse.table", "raw_stock_prices")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("schedule.cron", "@daily")
	v.SetDefault("schedule.retries", 1)
	v.SetDefault("schedule.retry_delay", 5*time.Minute)

	v.SetDefault("duckdb.path", "wallstreet.duckdb")
	v.SetDefault("duckdb.motherduck_token", "")

	v.SetDefault("run_store.path", "wallstreet_runs.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_file", "")

	v.SetDefault("secrets.motherduck_token_param", "")
	v.SetDefault("secrets.postgres_password_param", "")
}

// NewConfig loads the configuration from the provided base config reader
// and merges it with the environment-specific configuration.
// Environment variables prefixed with WALLSTREET_ override both,
// e.g. WALLSTREET_STORAGE_BUCKET.
func NewConfig(baseConfigReader io.Reader, envConfigReader io.Reader, env string) (*Config, error) {
	if env == "" {
		env = "dev"
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("wallstreet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(baseConfigReader); err != nil {
		return nil, fmt.Errorf("error reading base config: %w", err)
	}

	// Merge with environment-specific configuration (only if provided)
	if envConfigReader != nil {
		if err := v.MergeConfig(envConfigReader); err != nil {
			log.Printf("Error merging environment-specific config: %s", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	config.Env = env

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Extract.MaxConcurrency < 1 {
		return fmt.Errorf("extract.max_concurrency must be >= 1, got %d", c.Extract.MaxConcurrency)
	}
	if c.Schedule.Retries < 0 {
		return fmt.Errorf("schedule.retries must be >= 0, got %d", c.Schedule.Retries)
	}
	switch c.Storage.Backend {
	case "s3", "local":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Warehouse.Backend {
	case "duckdb", "postgres":
	default:
		return fmt.Errorf("unknown warehouse.backend %q", c.Warehouse.Backend)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Warehouse.Dataset == "" || c.Warehouse.Table == "" {
		return fmt.Errorf("warehouse.dataset and warehouse.table are required")
	}
	return nil
}
