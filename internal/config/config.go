package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	App       AppConfig       `mapstructure:"app"`
	Share     ShareConfig     `mapstructure:"share"`
	Access    AccessConfig    `mapstructure:"access"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Tunnel    TunnelConfig    `mapstructure:"tunnel"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AppConfig holds daemon identity and storage roots.
type AppConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	RootDir     string `mapstructure:"root_dir"`
	DisplayName string `mapstructure:"display_name"`
}

// ShareConfig holds share lifecycle settings.
type ShareConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AccessConfig holds device pairing settings.
type AccessConfig struct {
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// DiscoveryConfig holds LAN presence settings.
type DiscoveryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Service        string        `mapstructure:"service"`
	Domain         string        `mapstructure:"domain"`
	LivenessWindow time.Duration `mapstructure:"liveness_window"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// TunnelConfig holds relay subprocess settings.
type TunnelConfig struct {
	Binary         string        `mapstructure:"binary"`
	Args           []string      `mapstructure:"args"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RestartCap     int           `mapstructure:"restart_cap"`
	RestartWindow  time.Duration `mapstructure:"restart_window"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds the configuration from defaults, an optional config file
// and HOMEDAV_* environment overrides, in that precedence order.
func Load() (*Config, error) {
	viper.SetDefault("server.address", ":7345")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 15*time.Minute)
	viper.SetDefault("server.write_timeout", 15*time.Minute)
	viper.SetDefault("app.data_dir", defaultDataDir())
	viper.SetDefault("app.root_dir", defaultRootDir())
	viper.SetDefault("app.display_name", defaultDisplayName())
	viper.SetDefault("share.default_ttl", 24*time.Hour)
	viper.SetDefault("share.sweep_interval", 60*time.Second)
	viper.SetDefault("access.pending_ttl", 10*time.Minute)
	viper.SetDefault("access.session_ttl", 7*24*time.Hour)
	viper.SetDefault("discovery.enabled", true)
	viper.SetDefault("discovery.service", "_homedav._tcp")
	viper.SetDefault("discovery.domain", "local.")
	viper.SetDefault("discovery.liveness_window", 15*time.Second)
	viper.SetDefault("discovery.sweep_interval", 5*time.Second)
	viper.SetDefault("tunnel.binary", "")
	viper.SetDefault("tunnel.args", []string{})
	viper.SetDefault("tunnel.startup_timeout", 10*time.Second)
	viper.SetDefault("tunnel.probe_timeout", 5*time.Second)
	viper.SetDefault("tunnel.backoff_base", time.Second)
	viper.SetDefault("tunnel.backoff_max", 30*time.Second)
	viper.SetDefault("tunnel.restart_cap", 5)
	viper.SetDefault("tunnel.restart_window", 2*time.Minute)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(defaultDataDir())
	viper.AddConfigPath("/etc/homedav")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	setEnvOverrides()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setEnvOverrides applies explicit environment variables on top of the
// config file.
func setEnvOverrides() {
	if addr := os.Getenv("HOMEDAV_ADDRESS"); addr != "" {
		viper.Set("server.address", addr)
	}
	if mode := os.Getenv("HOMEDAV_MODE"); mode != "" {
		viper.Set("server.mode", mode)
	}
	if dir := os.Getenv("HOMEDAV_DATA_DIR"); dir != "" {
		viper.Set("app.data_dir", dir)
	}
	if dir := os.Getenv("HOMEDAV_ROOT_DIR"); dir != "" {
		viper.Set("app.root_dir", dir)
	}
	if name := os.Getenv("HOMEDAV_DISPLAY_NAME"); name != "" {
		viper.Set("app.display_name", name)
	}
	if bin := os.Getenv("HOMEDAV_TUNNEL_BINARY"); bin != "" {
		viper.Set("tunnel.binary", bin)
	}
	if level := os.Getenv("HOMEDAV_LOG_LEVEL"); level != "" {
		viper.Set("logging.level", level)
	}
}

// GINMode maps the configured server mode onto a gin mode.
func (c *Config) GINMode() string {
	switch c.Server.Mode {
	case "debug":
		return gin.DebugMode
	case "test":
		return gin.TestMode
	default:
		return gin.ReleaseMode
	}
}

// StorePath returns the path of a named JSON store under the data dir.
func (c *Config) StorePath(name string) string {
	return filepath.Join(c.App.DataDir, name)
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(base, "homedav")
}

func defaultRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./files"
	}
	return filepath.Join(home, "HomeDAV")
}

func defaultDisplayName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "homedav"
	}
	return host
}
