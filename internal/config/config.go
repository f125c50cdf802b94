// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

type Config struct {
	Source    SourceConfig
	Store     StoreConfig
	Converter ConverterConfig
	Pipeline  PipelineConfig
	Journal   JournalConfig
	Status    StatusConfig
	Log       LogConfig
}

type SourceConfig struct {
	Endpoint    string
	RepoID      string
	Revision    string
	Token       string
	PathPrefix  string
	StartDate   string
	EndDate     string
	Suffix      string
	HTTPTimeout time.Duration
}

type StoreConfig struct {
	Driver       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Bucket       string
	Prefix       string
	UseSSL       bool
	LocalRoot    string
}

type ConverterConfig struct {
	Mode         string
	Command      string
	TargetSuffix string
	Timeout      time.Duration
}

type PipelineConfig struct {
	WorkDir                     string
	KeepLocal                   bool
	Force                       bool
	DryRun                      bool
	Workers                     int
	StoreRetries                int
	StoreRetryBackoff           time.Duration
	MaxConsecutiveStoreFailures int
	StoreUnavailablePolicy      string
}

type JournalConfig struct {
	Driver        string
	DatabaseURL   string
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

type StatusConfig struct {
	Addr           string
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	StoreDriverS3    = "s3"
	StoreDriverMinio = "minio"
	StoreDriverLocal = "local"

	ConverterModeCommand     = "command"
	ConverterModePassthrough = "passthrough"

	JournalNone     = "none"
	JournalPostgres = "postgres"
	JournalRedis    = "redis"

	PolicyFail    = "fail"
	PolicyProcess = "process"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("HF_ENDPOINT", "https://huggingface.co")
	v.SetDefault("HF_REPO_ID", "openclimatefix/dwd-icon-eu")
	v.SetDefault("HF_REVISION", "main")
	v.SetDefault("HF_TOKEN", "")
	v.SetDefault("HF_PATH_PREFIX", "data")
	v.SetDefault("START_DATE", "")
	v.SetDefault("END_DATE", "")
	v.SetDefault("SOURCE_SUFFIX", ".zarr.zip")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 1800)

	v.SetDefault("STORE_DRIVER", StoreDriverS3)
	v.SetDefault("AWS_S3_ENDPOINT", "")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("AWS_SESSION_TOKEN", "")
	v.SetDefault("AWS_DEFAULT_REGION", "eu-central-1")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_PREFIX", "openclimatefix--dwd-icon-eu")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("LOCAL_STORE_ROOT", "")

	v.SetDefault("CONVERTER_MODE", ConverterModeCommand)
	v.SetDefault("CONVERTER_COMMAND", "")
	v.SetDefault("TARGET_SUFFIX", ".nc")
	v.SetDefault("CONVERTER_TIMEOUT_SECONDS", 3600)

	v.SetDefault("WORK_DIR", "./data")
	v.SetDefault("KEEP_LOCAL", false)
	v.SetDefault("FORCE", false)
	v.SetDefault("DRY_RUN", false)
	v.SetDefault("WORKERS", 1)
	v.SetDefault("STORE_RETRIES", 2)
	v.SetDefault("STORE_RETRY_BACKOFF_MS", 500)
	v.SetDefault("MAX_CONSECUTIVE_STORE_FAILURES", 3)
	v.SetDefault("STORE_UNAVAILABLE_POLICY", PolicyFail)

	v.SetDefault("JOURNAL_DRIVER", JournalNone)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JOURNAL_TTL_HOURS", 24*30)

	v.SetDefault("STATUS_ADDR", "")
	v.SetDefault("STATUS_CORS_ORIGINS", "*")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// Load reads the environment (plus an optional .env file) into a Config,
// applies overrides in order and validates the result. The returned value is
// built once at startup and handed to the components; nothing else reads the
// environment.
func Load(overrides ...func(*Config)) (*Config, error) {
	cfg := FromEnv()
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment without validating, for commands that only
// need part of the Config.
func FromEnv() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// Read from environment variables
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Source: SourceConfig{
			Endpoint:    strings.TrimSuffix(v.GetString("HF_ENDPOINT"), "/"),
			RepoID:      strings.TrimSpace(v.GetString("HF_REPO_ID")),
			Revision:    v.GetString("HF_REVISION"),
			Token:       v.GetString("HF_TOKEN"),
			PathPrefix:  strings.Trim(v.GetString("HF_PATH_PREFIX"), "/"),
			StartDate:   strings.TrimSpace(v.GetString("START_DATE")),
			EndDate:     strings.TrimSpace(v.GetString("END_DATE")),
			Suffix:      v.GetString("SOURCE_SUFFIX"),
			HTTPTimeout: time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
		},
		Store: StoreConfig{
			Driver:       strings.ToLower(v.GetString("STORE_DRIVER")),
			Endpoint:     v.GetString("AWS_S3_ENDPOINT"),
			AccessKey:    v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey:    v.GetString("AWS_SECRET_ACCESS_KEY"),
			SessionToken: v.GetString("AWS_SESSION_TOKEN"),
			Region:       v.GetString("AWS_DEFAULT_REGION"),
			Bucket:       strings.TrimSpace(v.GetString("S3_BUCKET")),
			Prefix:       strings.Trim(v.GetString("S3_PREFIX"), "/"),
			UseSSL:       v.GetBool("S3_USE_SSL"),
			LocalRoot:    v.GetString("LOCAL_STORE_ROOT"),
		},
		Converter: ConverterConfig{
			Mode:         strings.ToLower(v.GetString("CONVERTER_MODE")),
			Command:      strings.TrimSpace(v.GetString("CONVERTER_COMMAND")),
			TargetSuffix: v.GetString("TARGET_SUFFIX"),
			Timeout:      time.Duration(v.GetInt("CONVERTER_TIMEOUT_SECONDS")) * time.Second,
		},
		Pipeline: PipelineConfig{
			WorkDir:                     v.GetString("WORK_DIR"),
			KeepLocal:                   v.GetBool("KEEP_LOCAL"),
			Force:                       v.GetBool("FORCE"),
			DryRun:                      v.GetBool("DRY_RUN"),
			Workers:                     v.GetInt("WORKERS"),
			StoreRetries:                v.GetInt("STORE_RETRIES"),
			StoreRetryBackoff:           time.Duration(v.GetInt("STORE_RETRY_BACKOFF_MS")) * time.Millisecond,
			MaxConsecutiveStoreFailures: v.GetInt("MAX_CONSECUTIVE_STORE_FAILURES"),
			StoreUnavailablePolicy:      strings.ToLower(v.GetString("STORE_UNAVAILABLE_POLICY")),
		},
		Journal: JournalConfig{
			Driver:        strings.ToLower(v.GetString("JOURNAL_DRIVER")),
			DatabaseURL:   v.GetString("DATABASE_URL"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTL:           time.Duration(v.GetInt("JOURNAL_TTL_HOURS")) * time.Hour,
		},
		Status: StatusConfig{
			Addr:           v.GetString("STATUS_ADDR"),
			AllowedOrigins: strings.Split(v.GetString("STATUS_CORS_ORIGINS"), ","),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Source.RepoID == "" {
		problems = append(problems, "HF_REPO_ID is required")
	}
	if c.Source.StartDate != "" {
		if _, err := time.Parse(time.DateOnly, c.Source.StartDate); err != nil {
			problems = append(problems, fmt.Sprintf("START_DATE %q is not YYYY-MM-DD", c.Source.StartDate))
		}
	}
	if c.Source.EndDate != "" {
		if c.Source.StartDate == "" {
			problems = append(problems, "END_DATE requires START_DATE")
		} else if _, err := time.Parse(time.DateOnly, c.Source.EndDate); err != nil {
			problems = append(problems, fmt.Sprintf("END_DATE %q is not YYYY-MM-DD", c.Source.EndDate))
		} else if c.Source.EndDate < c.Source.StartDate {
			problems = append(problems, "END_DATE is before START_DATE")
		}
	}

	switch c.Store.Driver {
	case StoreDriverS3, StoreDriverMinio:
		if c.Store.Bucket == "" {
			problems = append(problems, "S3_BUCKET is required")
		}
		if c.Store.Driver == StoreDriverMinio && c.Store.Endpoint == "" {
			problems = append(problems, "AWS_S3_ENDPOINT is required for the minio store")
		}
	case StoreDriverLocal:
		if c.Store.LocalRoot == "" {
			problems = append(problems, "LOCAL_STORE_ROOT is required for the local store")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORE_DRIVER %q is not one of s3, minio, local", c.Store.Driver))
	}

	switch c.Converter.Mode {
	case ConverterModeCommand:
		if c.Converter.Command == "" {
			problems = append(problems, "CONVERTER_COMMAND is required")
		}
	case ConverterModePassthrough:
	default:
		problems = append(problems, fmt.Sprintf("CONVERTER_MODE %q is not one of command, passthrough", c.Converter.Mode))
	}

	if c.Pipeline.Workers < 1 {
		problems = append(problems, "WORKERS must be at least 1")
	}
	if c.Pipeline.StoreRetries < 0 {
		problems = append(problems, "STORE_RETRIES must not be negative")
	}
	switch c.Pipeline.StoreUnavailablePolicy {
	case PolicyFail, PolicyProcess:
	default:
		problems = append(problems, fmt.Sprintf("STORE_UNAVAILABLE_POLICY %q is not one of fail, process", c.Pipeline.StoreUnavailablePolicy))
	}

	switch c.Journal.Driver {
	case JournalNone, "":
	case JournalPostgres:
		if c.Journal.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres journal")
		}
	case JournalRedis:
	default:
		problems = append(problems, fmt.Sprintf("JOURNAL_DRIVER %q is not one of none, postgres, redis", c.Journal.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// DateRange returns the configured snapshot dates. ok is false when the whole
// dataset should be listed instead.
func (s SourceConfig) DateRange() (start, end time.Time, ok bool) {
	if s.StartDate == "" {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.DateOnly, s.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end = start
	if s.EndDate != "" {
		if parsed, err := time.Parse(time.DateOnly, s.EndDate); err == nil {
			end = parsed
		}
	}
	return start, end, true
}
