// Package config holds the runtime configuration and its file/env loading.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default identities.
const (
	DefaultServerID = 5
	MinClientID     = 10
	MaxClientID     = 254 // exclusive
)

// Config is the root configuration shared by all subcommands.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Tun    TunConfig    `mapstructure:"tun"`
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	Query  QueryConfig  `mapstructure:"query"`
}

// LogConfig controls verbosity and the optional rotating log file.
type LogConfig struct {
	Debug      bool          `mapstructure:"debug"`
	File       string        `mapstructure:"file"`
	MaxSizeMB  int           `mapstructure:"max_size_mb"`
	MaxBackups int           `mapstructure:"max_backups"`
	MaxAgeDays int           `mapstructure:"max_age_days"`
	Compress   bool          `mapstructure:"compress"`
	StatsEvery time.Duration `mapstructure:"stats_every"`
}

// TunConfig describes the virtual interface.
type TunConfig struct {
	Name   string `mapstructure:"name"`
	Subnet string `mapstructure:"subnet"`
	MTU    int    `mapstructure:"mtu"`
}

// ServerConfig is the rendezvous role.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	Port         int           `mapstructure:"port"`
	ID           int           `mapstructure:"id"`
	DBPath       string        `mapstructure:"db_path"`
	PeerTTL      time.Duration `mapstructure:"peer_ttl"`
	SweepEvery   time.Duration `mapstructure:"sweep_every"`
	PersistEvery time.Duration `mapstructure:"persist_every"`
	StatusListen string        `mapstructure:"status_listen"`
	StatusEvery  time.Duration `mapstructure:"status_every"`
	StatusToken  string        `mapstructure:"status_token"`
}

// ClientConfig is the peer role. ID 0 picks a random identity.
type ClientConfig struct {
	Server     string        `mapstructure:"server"`
	Port       int           `mapstructure:"port"`
	ID         int           `mapstructure:"id"`
	Heartbeat  time.Duration `mapstructure:"heartbeat"`
	StunServer string        `mapstructure:"stun_server"`
}

// QueryConfig is the info subcommand.
type QueryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
			StatsEvery: time.Minute,
		},
		Tun: TunConfig{
			Subnet: "10.0.0.0/24",
			MTU:    1400,
		},
		Server: ServerConfig{
			Listen:       "0.0.0.0",
			Port:         8080,
			ID:           DefaultServerID,
			SweepEvery:   30 * time.Second,
			PersistEvery: time.Minute,
			StatusEvery:  2 * time.Second,
		},
		Client: ClientConfig{
			Heartbeat: 3 * time.Second,
		},
		Query: QueryConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from path (if non-empty), DPROX_CONFIG, or
// ./dprox.yaml, then applies environment overrides. A .env file in the
// working directory is loaded first when present. Environment variables use
// the prefix DPROX with `.` replaced by `_`, e.g. DPROX_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DPROX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("log.debug", cfg.Log.Debug)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)
	v.SetDefault("log.stats_every", cfg.Log.StatsEvery)
	v.SetDefault("tun.name", cfg.Tun.Name)
	v.SetDefault("tun.subnet", cfg.Tun.Subnet)
	v.SetDefault("tun.mtu", cfg.Tun.MTU)
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.id", cfg.Server.ID)
	v.SetDefault("server.db_path", cfg.Server.DBPath)
	v.SetDefault("server.peer_ttl", cfg.Server.PeerTTL)
	v.SetDefault("server.sweep_every", cfg.Server.SweepEvery)
	v.SetDefault("server.persist_every", cfg.Server.PersistEvery)
	v.SetDefault("server.status_listen", cfg.Server.StatusListen)
	v.SetDefault("server.status_every", cfg.Server.StatusEvery)
	v.SetDefault("server.status_token", cfg.Server.StatusToken)
	v.SetDefault("client.server", cfg.Client.Server)
	v.SetDefault("client.port", cfg.Client.Port)
	v.SetDefault("client.id", cfg.Client.ID)
	v.SetDefault("client.heartbeat", cfg.Client.Heartbeat)
	v.SetDefault("client.stun_server", cfg.Client.StunServer)
	v.SetDefault("query.timeout", cfg.Query.Timeout)

	if path == "" {
		path = os.Getenv("DPROX_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dprox")
		v.AddConfigPath(".")
	}

	// Missing files are fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Subnet parses the virtual network prefix.
func (c *Config) Subnet() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(c.Tun.Subnet)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid tun.subnet %q: %w", c.Tun.Subnet, err)
	}
	if !p.Addr().Is4() || p.Bits() != 24 {
		return netip.Prefix{}, fmt.Errorf("tun.subnet %q must be an IPv4 /24", c.Tun.Subnet)
	}
	return p.Masked(), nil
}

// ValidateServer checks the fields the server subcommand uses.
func (c *Config) ValidateServer() error {
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validateID("server.id", c.Server.ID); err != nil {
		return err
	}
	if c.Server.PeerTTL < 0 {
		return fmt.Errorf("server.peer_ttl must not be negative")
	}
	if c.Server.PeerTTL > 0 && c.Server.SweepEvery <= 0 {
		return fmt.Errorf("server.sweep_every must be positive when server.peer_ttl is set")
	}
	return c.validateShared()
}

// ValidateClient checks the fields the client subcommand uses.
func (c *Config) ValidateClient() error {
	if strings.TrimSpace(c.Client.Server) == "" {
		return fmt.Errorf("client.server is required")
	}
	if err := validatePort("client.port", c.Client.Port); err != nil {
		return err
	}
	if c.Client.ID != 0 {
		if err := validateID("client.id", c.Client.ID); err != nil {
			return err
		}
	}
	if c.Client.Heartbeat <= 0 {
		return fmt.Errorf("client.heartbeat must be positive")
	}
	return c.validateShared()
}

// ValidateQuery checks the fields the info subcommand uses.
func (c *Config) ValidateQuery() error {
	if strings.TrimSpace(c.Client.Server) == "" {
		return fmt.Errorf("client.server is required")
	}
	if err := validatePort("client.port", c.Client.Port); err != nil {
		return err
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive")
	}
	return nil
}

func (c *Config) validateShared() error {
	if _, err := c.Subnet(); err != nil {
		return err
	}
	if c.Tun.MTU < 576 || c.Tun.MTU > 65535 {
		return fmt.Errorf("tun.mtu %d out of range", c.Tun.MTU)
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range", key, port)
	}
	return nil
}

func validateID(key string, id int) error {
	if id < 1 || id > 254 {
		return fmt.Errorf("%s %d must be in [1,254]", key, id)
	}
	return nil
}
