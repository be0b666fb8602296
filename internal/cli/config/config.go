package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/liveserve/liveserve/internal/logging"
	"github.com/liveserve/liveserve/internal/watch"
)

// FileName is the config file looked up in the project directory, without extension
const FileName = "liveserve"

// EnvPrefix prefixes environment overrides, e.g. LIVESERVE_SERVER_PORT
const EnvPrefix = "LIVESERVE"

// Install policies
const (
	InstallAuto   = "auto"
	InstallAlways = "always"
	InstallNever  = "never"
)

// Config represents the liveserve configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Watch  WatchConfig  `mapstructure:"watch"`
	Client ClientConfig `mapstructure:"client"`
	Launch LaunchConfig `mapstructure:"launch"`
	Log    LogConfig    `mapstructure:"log"`

	// File is the config file that was read, empty when defaults were used
	File string `mapstructure:"-"`
}

// ServerConfig represents the reload server settings
type ServerConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Entry string `mapstructure:"entry"`
	CORS  bool   `mapstructure:"cors"`
}

// WatchConfig represents the file watcher settings
type WatchConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
	Ignore      []string      `mapstructure:"ignore"`
	Gitignore   bool          `mapstructure:"gitignore"`
}

// ClientConfig represents the injected browser script settings
type ClientConfig struct {
	Reconnect  bool `mapstructure:"reconnect"`
	MaxRetries int  `mapstructure:"max_retries"`
}

// LaunchConfig represents the launch command settings
type LaunchConfig struct {
	OpenBrowser bool          `mapstructure:"open_browser"`
	Install     string        `mapstructure:"install"`
	PortTimeout time.Duration `mapstructure:"port_timeout"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Log formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Load reads liveserve.yaml from dir, if present, and LIVESERVE_* variables over the defaults
func Load(dir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.File = v.ConfigFileUsed()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", watch.DefaultHost)
	v.SetDefault("server.port", 5500)
	v.SetDefault("server.entry", "index.html")
	v.SetDefault("server.cors", false)
	v.SetDefault("watch.quiet_period", watch.DefaultQuietPeriod)
	v.SetDefault("watch.ignore", []string{})
	v.SetDefault("watch.gitignore", true)
	v.SetDefault("client.reconnect", false)
	v.SetDefault("client.max_retries", watch.DefaultMaxRetries)
	v.SetDefault("launch.open_browser", true)
	v.SetDefault("launch.install", InstallAuto)
	v.SetDefault("launch.port_timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", LogFormatConsole)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got: %d", c.Server.Port)
	}
	if c.Server.Entry == "" {
		return fmt.Errorf("server.entry must not be empty")
	}
	if c.Watch.QuietPeriod <= 0 {
		return fmt.Errorf("watch.quiet_period must be positive, got: %s", c.Watch.QuietPeriod)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must not be negative, got: %d", c.Client.MaxRetries)
	}
	switch c.Launch.Install {
	case InstallAuto, InstallAlways, InstallNever:
	default:
		return fmt.Errorf("launch.install must be one of auto, always, never, got: %s", c.Launch.Install)
	}
	if c.Launch.PortTimeout <= 0 {
		return fmt.Errorf("launch.port_timeout must be positive, got: %s", c.Launch.PortTimeout)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != LogFormatConsole && c.Log.Format != LogFormatJSON {
		return fmt.Errorf("log.format must be %s or %s, got: %q", LogFormatConsole, LogFormatJSON, c.Log.Format)
	}
	return nil
}

// Session builds the reload server settings for root
func (c *Config) Session(root string) watch.SessionConfig {
	return watch.SessionConfig{
		Root:             root,
		Host:             c.Server.Host,
		Port:             c.Server.Port,
		EntryFile:        c.Server.Entry,
		QuietPeriod:      c.Watch.QuietPeriod,
		Ignore:           c.Watch.Ignore,
		DisableGitignore: !c.Watch.Gitignore,
		Reconnect:        c.Client.Reconnect,
		MaxRetries:       c.Client.MaxRetries,
		CORS:             c.Server.CORS,
	}
}
