package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("S3_BUCKET", "celine-pipelines-dwd")
	t.Setenv("CONVERTER_COMMAND", "python converter.py {input} {output}")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CONVERTER_MODE", "")
	t.Setenv("START_DATE", "")
	t.Setenv("END_DATE", "")
	t.Setenv("JOURNAL_DRIVER", "")
	t.Setenv("WORKERS", "")
}

func TestLoad_Defaults(t *testing.T) {
	// Empty values count as unset for viper's AutomaticEnv, so defaults apply.
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openclimatefix/dwd-icon-eu", cfg.Source.RepoID)
	assert.Equal(t, "https://huggingface.co", cfg.Source.Endpoint)
	assert.Equal(t, ".zarr.zip", cfg.Source.Suffix)
	assert.Equal(t, "eu-central-1", cfg.Store.Region)
	assert.Equal(t, "openclimatefix--dwd-icon-eu", cfg.Store.Prefix)
	assert.Equal(t, ".nc", cfg.Converter.TargetSuffix)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, PolicyFail, cfg.Pipeline.StoreUnavailablePolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.StoreRetryBackoff)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("S3_BUCKET", " ")
	t.Setenv("CONVERTER_COMMAND", " ")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "S3_BUCKET is required")
	assert.Contains(t, err.Error(), "CONVERTER_COMMAND is required")
}

func TestLoad_OverridesApplyBeforeValidation(t *testing.T) {
	setRequired(t)
	t.Setenv("S3_BUCKET", " ")

	cfg, err := Load(func(cfg *Config) {
		cfg.Store.Bucket = "from-flag"
		cfg.Pipeline.Workers = 4
	})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Store.Bucket)
	assert.Equal(t, 4, cfg.Pipeline.Workers)

	_, err = Load(func(cfg *Config) { cfg.Source.StartDate = "07/01/2025" })
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "START_DATE")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source:    SourceConfig{RepoID: "org/ds"},
			Store:     StoreConfig{Driver: StoreDriverS3, Bucket: "b"},
			Converter: ConverterConfig{Mode: ConverterModePassthrough},
			Pipeline:  PipelineConfig{Workers: 1, StoreUnavailablePolicy: PolicyFail},
			Journal:   JournalConfig{Driver: JournalNone},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "local store needs root", mutate: func(c *Config) { c.Store.Driver = StoreDriverLocal }, wantErr: "LOCAL_STORE_ROOT"},
		{name: "minio needs endpoint", mutate: func(c *Config) { c.Store.Driver = StoreDriverMinio }, wantErr: "AWS_S3_ENDPOINT"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "ftp" }, wantErr: "STORE_DRIVER"},
		{name: "bad start date", mutate: func(c *Config) { c.Source.StartDate = "01/07/2025" }, wantErr: "START_DATE"},
		{name: "end before start", mutate: func(c *Config) {
			c.Source.StartDate = "2025-07-02"
			c.Source.EndDate = "2025-07-01"
		}, wantErr: "END_DATE is before START_DATE"},
		{name: "zero workers", mutate: func(c *Config) { c.Pipeline.Workers = 0 }, wantErr: "WORKERS"},
		{name: "unknown policy", mutate: func(c *Config) { c.Pipeline.StoreUnavailablePolicy = "ignore" }, wantErr: "STORE_UNAVAILABLE_POLICY"},
		{name: "postgres journal needs url", mutate: func(c *Config) { c.Journal.Driver = JournalPostgres }, wantErr: "DATABASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSourceConfig_DateRange(t *testing.T) {
	_, _, ok := SourceConfig{}.DateRange()
	assert.False(t, ok)

	start, end, ok := SourceConfig{StartDate: "2025-07-01"}.DateRange()
	require.True(t, ok)
	assert.Equal(t, start, end)

	start, end, ok = SourceConfig{StartDate: "2025-07-01", EndDate: "2025-07-03"}.DateRange()
	require.True(t, ok)
	assert.Equal(t, 48*time.Hour, end.Sub(start))
}

func TestFromEnv_DoesNotValidate(t *testing.T) {
	setRequired(t)
	t.Setenv("S3_BUCKET", "")
	t.Setenv("STATUS_CORS_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg := FromEnv()
	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.Store.Bucket)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Status.AllowedOrigins)
	assert.ErrorIs(t, cfg.Validate(), domain.ErrConfig)
}
