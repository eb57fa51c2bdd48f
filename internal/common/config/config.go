// Package config loads runtime configuration from environment variables, a
// config file, and defaults, using github.com/spf13/viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the mnemnk runtime.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DataDir  string         `mapstructure:"dataDir"`
	Router   RouterConfig   `mapstructure:"router"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the UI gateway's HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// RouterConfig holds the central message queue and grace-period tuning.
type RouterConfig struct {
	QueueCapacity      int `mapstructure:"queueCapacity"`
	ShutdownGraceMillis int `mapstructure:"shutdownGraceMillis"`
}

// DatabaseConfig selects and configures the event sink backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
}

// NATSConfig configures the optional board-write mirror.
type NATSConfig struct {
	URL       string `mapstructure:"url"`
	ClientID  string `mapstructure:"clientId"`
	Namespace string `mapstructure:"namespace"`
}

// DockerConfig configures the optional container-backed command executor.
type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (r *RouterConfig) ShutdownGrace() time.Duration {
	return time.Duration(r.ShutdownGraceMillis) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("dataDir", filepath.Join(home, ".mnemnk"))

	v.SetDefault("router.queueCapacity", 4096)
	v.SetDefault("router.shutdownGraceMillis", 10000)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./mnemnk.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "mnemnk")
	v.SetDefault("database.dbName", "mnemnk")
	v.SetDefault("database.sslMode", "disable")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "mnemnk-runtime")
	v.SetDefault("nats.namespace", "")

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", defaultDockerHost())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}
	return "unix:///var/run/docker.sock"
}

// Load reads configuration from environment variables (prefix MNEMNK_),
// config.yaml in the working directory or /etc/mnemnk/, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath behaves like Load but adds configPath to the search path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MNEMNK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mnemnk/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Router.QueueCapacity <= 0 {
		errs = append(errs, "router.queueCapacity must be positive")
	}
	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the PostgreSQL connection string for the event sink.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
