package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yungbote/modmon/internal/data/db"
	"github.com/yungbote/modmon/internal/modules/envs"
	"github.com/yungbote/modmon/internal/modules/storage"
	"github.com/yungbote/modmon/internal/observability"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/gcp"
)

const (
	EnvPrefix = "MODMON"
	// ConfigFileEnv names a config file when --config is not given.
	ConfigFileEnv = "MODMON_CONFIG_FILE"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Envs     EnvsConfig     `mapstructure:"envs"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	// ScratchDir holds disposable working copies. Empty means the OS
	// temporary directory.
	ScratchDir string `mapstructure:"scratch_dir"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Name        string `mapstructure:"name"`
	SSLMode     string `mapstructure:"sslmode"`
	Path        string `mapstructure:"path"`
	Verbose     bool   `mapstructure:"verbose"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

func (c DatabaseConfig) DB() db.Config {
	return db.Config{
		Driver:   c.Driver,
		DSN:      c.DSN,
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
		Path:     c.Path,
		Verbose:  c.Verbose,
	}
}

type StorageConfig struct {
	Root              string       `mapstructure:"root"`
	UploadConcurrency int          `mapstructure:"upload_concurrency"`
	Mirror            MirrorConfig `mapstructure:"mirror"`
}

func (c StorageConfig) Store() storage.Config {
	return storage.Config{Root: c.Root, UploadConcurrency: c.UploadConcurrency}
}

type MirrorConfig struct {
	Mode         string `mapstructure:"mode"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	EmulatorHost string `mapstructure:"emulator_host"`
}

func (c MirrorConfig) ObjectStorage() (gcp.ObjectStorageConfig, error) {
	return gcp.ResolveObjectStorageConfig(gcp.ObjectStorageConfig{
		Mode:         gcp.ObjectStorageMode(c.Mode),
		Bucket:       c.Bucket,
		Prefix:       c.Prefix,
		EmulatorHost: c.EmulatorHost,
	})
}

type EnvsConfig struct {
	CondaExe      string `mapstructure:"conda_exe"`
	Offline       bool   `mapstructure:"offline"`
	RenvCondaR    bool   `mapstructure:"renv_conda_r"`
	CaptureOutput bool   `mapstructure:"capture_output"`
}

func (c EnvsConfig) Provisioner() envs.Config {
	return envs.Config{
		CondaExe:      c.CondaExe,
		Offline:       c.Offline,
		RenvCondaR:    c.RenvCondaR,
		CaptureOutput: c.CaptureOutput,
	}
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Environment string  `mapstructure:"environment"`
}

// Otel layers the OTEL_* environment switches over the file settings.
func (c TracingConfig) Otel(version string) observability.OtelConfig {
	return observability.OtelConfigFromEnv(observability.OtelConfig{
		Enabled:     c.Enabled,
		ServiceName: "modmon",
		Environment: c.Environment,
		Version:     version,
		Endpoint:    c.Endpoint,
		Insecure:    c.Insecure,
		SampleRatio: c.SampleRatio,
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.mode", "info")

	v.SetDefault("database.driver", db.DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "modmon")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "")
	v.SetDefault("database.verbose", false)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("storage.root", "modmon_models")
	v.SetDefault("storage.upload_concurrency", 4)
	v.SetDefault("storage.mirror.mode", "")
	v.SetDefault("storage.mirror.bucket", "")
	v.SetDefault("storage.mirror.prefix", "")
	v.SetDefault("storage.mirror.emulator_host", "")

	v.SetDefault("envs.conda_exe", "")
	v.SetDefault("envs.offline", false)
	v.SetDefault("envs.renv_conda_r", true)
	v.SetDefault("envs.capture_output", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.environment", "")

	v.SetDefault("scratch_dir", "")
}

// LoadConfig reads configFile, or the file named by MODMON_CONFIG_FILE, or
// modmon.yaml from the working directory or ~/.modmon. A missing default
// file is not an error. MODMON_* variables override file values, with dots
// replaced by underscores (MODMON_DATABASE_HOST).
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile == "" {
		configFile = strings.TrimSpace(os.Getenv(ConfigFileEnv))
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config %s: %v", apperr.ErrConfiguration, configFile, err)
		}
	} else {
		v.SetConfigName("modmon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".modmon"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: read config: %v", apperr.ErrConfiguration, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", apperr.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case db.DriverPostgres, "postgresql":
	case db.DriverSQLite, "sqlite3":
		if c.Database.Path == "" && c.Database.DSN == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", apperr.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unsupported database.driver %q", apperr.ErrConfiguration, c.Database.Driver)
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("%w: storage.root is required", apperr.ErrConfiguration)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio must be within [0, 1]", apperr.ErrConfiguration)
	}
	if _, err := c.Storage.Mirror.ObjectStorage(); err != nil {
		return fmt.Errorf("%w: storage.mirror: %v", apperr.ErrConfiguration, err)
	}
	return nil
}
