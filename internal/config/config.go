package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeInline   = "inline"
	ModeTemporal = "temporal"
)

type ETLConfig struct {
	Mode                string        `mapstructure:"mode"`
	RunTimeout          time.Duration `mapstructure:"run_timeout"`
	MaxConcurrentRuns   int64         `mapstructure:"max_concurrent_runs"`
	WarehouseURL        string        `mapstructure:"warehouse_url"`
	CreateMissingTables bool          `mapstructure:"create_missing_tables"`
	TruncateBeforeLoad  bool          `mapstructure:"truncate_before_load"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	DatabaseURL   string         `mapstructure:"database_url"`
	ServerPort    string         `mapstructure:"server_port"`
	EncryptionKey string         `mapstructure:"encryption_key"`
	CORS          CORSConfig     `mapstructure:"cors"`
	ETL           ETLConfig      `mapstructure:"etl"`
	Temporal      TemporalConfig `mapstructure:"temporal"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8000")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("etl.mode", ModeInline)
	v.SetDefault("etl.run_timeout", "10m")
	v.SetDefault("etl.max_concurrent_runs", 4)
	v.SetDefault("etl.create_missing_tables", true)
	v.SetDefault("etl.truncate_before_load", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "CRASBI_ETL")
}

// Load reads config.yaml from path (or ./ and ./config when path is empty),
// applies CRASBI_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CRASBI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"database_url", "encryption_key", "etl.warehouse_url"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url must be set")
	}
	if c.EncryptionKey == "" {
		return errors.New("encryption_key must be set")
	}

	// Fallback defaults
	if c.ETL.WarehouseURL == "" {
		c.ETL.WarehouseURL = c.DatabaseURL
	}
	if c.ETL.MaxConcurrentRuns < 1 {
		c.ETL.MaxConcurrentRuns = 1
	}
	if c.ETL.RunTimeout <= 0 {
		return fmt.Errorf("etl.run_timeout must be positive, got %s", c.ETL.RunTimeout)
	}

	switch c.ETL.Mode {
	case ModeInline, ModeTemporal:
	default:
		return fmt.Errorf("etl.mode must be %q or %q, got %q", ModeInline, ModeTemporal, c.ETL.Mode)
	}
	return nil
}
