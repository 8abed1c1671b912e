// Package config loads configuration from defaults, an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all nimbus configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	S3       S3Config       `mapstructure:"s3"`
	DocStore DocStoreConfig `mapstructure:"docstore"`
	Search   SearchConfig   `mapstructure:"search"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Pools    PoolsConfig    `mapstructure:"pools"`
	Sizer    JobConfig      `mapstructure:"sizer"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Cost     CostConfig     `mapstructure:"cost"`
}

type ServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	// BaseURL prefixes cached download URLs handed to clients.
	BaseURL string `mapstructure:"base_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// PresignValidity bounds how long presigned read URLs stay usable.
	PresignValidity time.Duration `mapstructure:"presign_validity"`
	// MetadataPrefix is the reserved key prefix the reaper never touches.
	MetadataPrefix string `mapstructure:"metadata_prefix"`
	// CreateBucket creates Bucket on startup when it is missing.
	CreateBucket bool `mapstructure:"create_bucket"`
}

type DocStoreConfig struct {
	Backend     string `mapstructure:"backend"` // memory, postgres, mongo
	DatabaseURL string `mapstructure:"database_url"`
	MongoURI    string `mapstructure:"mongo_uri"`
	MongoDB     string `mapstructure:"mongo_database"`
	MaxConns    int    `mapstructure:"max_conns"`
}

type SearchConfig struct {
	Backend   string `mapstructure:"backend"` // none, memory, redis
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Dir           string        `mapstructure:"dir"`
	TokenValidity time.Duration `mapstructure:"token_validity"`
	SigningSecret string        `mapstructure:"signing_secret"`
}

type PoolsConfig struct {
	MetadataWorkers int `mapstructure:"metadata_workers"`
	MetadataQueue   int `mapstructure:"metadata_queue"`
	CacheWorkers    int `mapstructure:"cache_workers"`
	CacheQueue      int `mapstructure:"cache_queue"`
}

// JobConfig is shared by every background job.
type JobConfig struct {
	RunOnStartup      bool          `mapstructure:"run_on_startup"`
	RunOnSchedule     bool          `mapstructure:"run_on_schedule"`
	Cron              string        `mapstructure:"cron"`
	BackoffMaxRetries int           `mapstructure:"backoff_max_retries"`
	BackoffThrottle   time.Duration `mapstructure:"backoff_throttle"`
}

type ReaperConfig struct {
	JobConfig         `mapstructure:",squash"`
	IterationThrottle time.Duration `mapstructure:"iteration_throttle"`
}

type IndexerConfig struct {
	JobConfig  `mapstructure:",squash"`
	ClearFirst bool `mapstructure:"clear_first"`
}

type CostConfig struct {
	// Tiers is "name:days:price" entries separated by commas.
	Tiers string `mapstructure:"tiers"`
}

// TierSpec is one parsed storage tier.
type TierSpec struct {
	Name           string
	DaysSinceUsed  int
	CostPerGBMonth string
}

// ParseTiers parses the cost tier list.
func (c CostConfig) ParseTiers() ([]TierSpec, error) {
	var tiers []TierSpec
	for _, entry := range strings.Split(c.Tiers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("cost tier %q: want name:days:price", entry)
		}
		days, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("cost tier %q: days: %w", entry, err)
		}
		tiers = append(tiers, TierSpec{Name: parts[0], DaysSinceUsed: days, CostPerGBMonth: parts[2]})
	}
	if len(tiers) == 0 {
		return nil, errors.New("at least one cost tier is required")
	}
	return tiers, nil
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.listen_addr":          "LISTEN_ADDR",
	"server.metrics_addr":         "METRICS_ADDR",
	"server.base_url":             "BASE_URL",
	"logging.level":               "LOG_LEVEL",
	"logging.format":              "LOG_FORMAT",
	"logging.output":              "LOG_OUTPUT",
	"s3.endpoint":                 "S3_ENDPOINT",
	"s3.bucket":                   "S3_BUCKET",
	"s3.access_key":               "S3_ACCESS_KEY",
	"s3.secret_key":               "S3_SECRET_KEY",
	"s3.region":                   "S3_REGION",
	"s3.use_ssl":                  "S3_USE_SSL",
	"s3.presign_validity":         "S3_PRESIGN_VALIDITY",
	"s3.metadata_prefix":          "S3_METADATA_PREFIX",
	"s3.create_bucket":            "S3_CREATE_BUCKET",
	"docstore.backend":            "DOCSTORE_BACKEND",
	"docstore.database_url":       "DATABASE_URL",
	"docstore.mongo_uri":          "MONGO_URI",
	"docstore.mongo_database":     "MONGO_DATABASE",
	"docstore.max_conns":          "DATABASE_MAX_CONNS",
	"search.backend":              "SEARCH_BACKEND",
	"search.redis_addr":           "REDIS_ADDR",
	"search.redis_db":             "REDIS_DB",
	"search.key_prefix":           "SEARCH_KEY_PREFIX",
	"cache.enabled":               "CACHE_ENABLED",
	"cache.dir":                   "CACHE_DIR",
	"cache.token_validity":        "CACHE_TOKEN_VALIDITY",
	"cache.signing_secret":        "CACHE_SIGNING_SECRET",
	"pools.metadata_workers":      "METADATA_POOL_WORKERS",
	"pools.metadata_queue":        "METADATA_POOL_QUEUE",
	"pools.cache_workers":         "CACHE_POOL_WORKERS",
	"pools.cache_queue":           "CACHE_POOL_QUEUE",
	"sizer.run_on_startup":        "SIZER_RUN_ON_STARTUP",
	"sizer.run_on_schedule":       "SIZER_RUN_ON_SCHEDULE",
	"sizer.cron":                  "SIZER_CRON",
	"sizer.backoff_max_retries":   "SIZER_BACKOFF_MAX_RETRIES",
	"sizer.backoff_throttle":      "SIZER_BACKOFF_THROTTLE",
	"reaper.run_on_startup":       "REAPER_RUN_ON_STARTUP",
	"reaper.run_on_schedule":      "REAPER_RUN_ON_SCHEDULE",
	"reaper.cron":                 "REAPER_CRON",
	"reaper.backoff_max_retries":  "REAPER_BACKOFF_MAX_RETRIES",
	"reaper.backoff_throttle":     "REAPER_BACKOFF_THROTTLE",
	"reaper.iteration_throttle":   "REAPER_ITERATION_THROTTLE",
	"indexer.run_on_startup":      "INDEXER_RUN_ON_STARTUP",
	"indexer.run_on_schedule":     "INDEXER_RUN_ON_SCHEDULE",
	"indexer.cron":                "INDEXER_CRON",
	"indexer.backoff_max_retries": "INDEXER_BACKOFF_MAX_RETRIES",
	"indexer.backoff_throttle":    "INDEXER_BACKOFF_THROTTLE",
	"indexer.clear_first":         "INDEXER_CLEAR_FIRST",
	"cost.tiers":                  "COST_TIERS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.base_url", "http://localhost:8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "")

	v.SetDefault("s3.endpoint", "http://localhost:9000")
	v.SetDefault("s3.bucket", "nimbus")
	v.SetDefault("s3.access_key", "minioadmin")
	v.SetDefault("s3.secret_key", "minioadmin")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.use_ssl", false)
	v.SetDefault("s3.presign_validity", 15*time.Minute)
	v.SetDefault("s3.metadata_prefix", ".nimbus/")
	v.SetDefault("s3.create_bucket", false)

	v.SetDefault("docstore.backend", "memory")
	v.SetDefault("docstore.database_url", "")
	v.SetDefault("docstore.mongo_uri", "")
	v.SetDefault("docstore.mongo_database", "nimbus")
	v.SetDefault("docstore.max_conns", 25)

	v.SetDefault("search.backend", "none")
	v.SetDefault("search.redis_addr", "localhost:6379")
	v.SetDefault("search.redis_db", 0)
	v.SetDefault("search.key_prefix", "nimbus:search:")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.dir", "/var/cache/nimbus")
	v.SetDefault("cache.token_validity", time.Hour)
	v.SetDefault("cache.signing_secret", "")

	v.SetDefault("pools.metadata_workers", 4)
	v.SetDefault("pools.metadata_queue", 1000)
	v.SetDefault("pools.cache_workers", 2)
	v.SetDefault("pools.cache_queue", 100)

	v.SetDefault("sizer.run_on_startup", false)
	v.SetDefault("sizer.run_on_schedule", true)
	v.SetDefault("sizer.cron", "0 3 * * *")
	v.SetDefault("sizer.backoff_max_retries", 5)
	v.SetDefault("sizer.backoff_throttle", 5*time.Second)

	v.SetDefault("reaper.run_on_startup", false)
	v.SetDefault("reaper.run_on_schedule", true)
	v.SetDefault("reaper.cron", "0 4 * * 0")
	v.SetDefault("reaper.backoff_max_retries", 5)
	v.SetDefault("reaper.backoff_throttle", 5*time.Second)
	v.SetDefault("reaper.iteration_throttle", 100*time.Millisecond)

	v.SetDefault("indexer.run_on_startup", false)
	v.SetDefault("indexer.run_on_schedule", false)
	v.SetDefault("indexer.cron", "0 5 * * 0")
	v.SetDefault("indexer.backoff_max_retries", 5)
	v.SetDefault("indexer.backoff_throttle", 5*time.Second)
	v.SetDefault("indexer.clear_first", true)

	v.SetDefault("cost.tiers", "standard:0:0.023,infrequent:30:0.0125,archive:90:0.004")
}

// Load reads configuration. configFile may be empty, in which case
// nimbus.yaml is searched for in the usual places and is optional.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("nimbus")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.nimbus")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	var missing []string

	switch c.DocStore.Backend {
	case "memory":
	case "postgres":
		if c.DocStore.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "mongo":
		if c.DocStore.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown docstore backend %q", c.DocStore.Backend)
	}

	switch c.Search.Backend {
	case "none", "memory":
	case "redis":
		if c.Search.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
		if c.Search.KeyPrefix == "" {
			missing = append(missing, "SEARCH_KEY_PREFIX")
		}
	default:
		return fmt.Errorf("unknown search backend %q", c.Search.Backend)
	}

	if c.S3.Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.Cache.Enabled {
		if c.Cache.SigningSecret == "" {
			missing = append(missing, "CACHE_SIGNING_SECRET")
		}
		if c.Cache.Dir == "" {
			missing = append(missing, "CACHE_DIR")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Cache.Enabled && c.Cache.TokenValidity <= 0 {
		return errors.New("cache token validity must be positive")
	}
	if _, err := c.Cost.ParseTiers(); err != nil {
		return err
	}
	return nil
}
