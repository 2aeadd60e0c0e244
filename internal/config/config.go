package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the service-level configuration: where to listen, where the
// scratch cache lives, and how the logger behaves. The user-editable
// field-mapping document (Configure.json) is handled separately by the
// repository.ConfigStore.
type Config struct {
	Server Server `mapstructure:"server"`
	Paths  Paths  `mapstructure:"paths"`
	Loader Loader `mapstructure:"loader"`
	Log    Log    `mapstructure:"log"`
}

type Server struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	CORS CORS   `mapstructure:"cors"`
}

type CORS struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type Paths struct {
	CacheDir   string `mapstructure:"cache_dir"`
	ConfigFile string `mapstructure:"config_file"`
	ScriptFile string `mapstructure:"script_file"`
}

type Loader struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type Log struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	File     string `mapstructure:"file"`
	FileOnly bool   `mapstructure:"file_only"`
}

// Load reads configuration from file and environment.
// Parameters:
//   - configPath: explicit config file path; empty falls back to
//     ./configs/config.yaml then ./config.yaml.
// Returns:
//   - *Config: populated configuration.
//   - error: non-nil if the file exists but cannot be parsed.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.port", 9081)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("paths.cache_dir", "./cache")
	v.SetDefault("paths.config_file", "./Configure.json")
	v.SetDefault("paths.script_file", "./ReportScript.sql")
	v.SetDefault("loader.batch_size", 500)
	v.SetDefault("loader.max_open_conns", 10)
	v.SetDefault("loader.max_idle_conns", 5)
	v.SetDefault("loader.conn_max_lifetime", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.file_only", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Explicit bindings for deployment-sensitive values
	v.BindEnv("server.port", "APP_PORT")
	v.BindEnv("paths.cache_dir", "CACHE_DIR")
	v.BindEnv("paths.config_file", "CONFIG_FILE")
	v.BindEnv("paths.script_file", "SCRIPT_FILE")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.file", "LOG_FILE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
