// Package config loads the client configuration from YAML
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

var (
	ErrNoAccount  = errors.New("account.id is required")
	ErrBadPort    = errors.New("port out of range")
	ErrBadBackoff = errors.New("reconnect backoff out of order")
)

// Config is the top-level client configuration
type Config struct {
	Account AccountConfig `yaml:"account"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

type AccountConfig struct {
	// ID is the numeric account id; empty uses the stored owner
	ID       string `yaml:"id"`
	Password string `yaml:"password"`
	// Status is one of online, away, dnd, na, occupied, freechat, invisible
	Status      string `yaml:"status"`
	SaltedLogon bool   `yaml:"salted_logon"`
}

type ServerConfig struct {
	Login             string        `yaml:"login"`
	Generation        string        `yaml:"generation"`
	Keepalive         time.Duration `yaml:"keepalive"`
	ReconnectMin      time.Duration `yaml:"reconnect_min"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	MaxUsersPerPacket int           `yaml:"max_users_per_packet"`
	MaxQueue          int           `yaml:"max_queue"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
	// Passphrase seals the stored owner password; empty leaves it locked
	Passphrase string `yaml:"passphrase"`
}

type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute per client
	Metrics   bool   `yaml:"metrics"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			Status:      "online",
			SaltedLogon: true,
		},
		Server: ServerConfig{
			Login:             "login.icq.com:5190",
			Generation:        protocol.GenerationTCPv7.String(),
			Keepalive:         30 * time.Second,
			ReconnectMin:      time.Second,
			ReconnectMax:      30 * time.Second,
			AutoReconnect:     true,
			MaxUsersPerPacket: 100,
			MaxQueue:          64,
		},
		Storage: StorageConfig{
			Path: "./data/icq.db",
		},
		API: APIConfig{
			Enabled:   true,
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 100,
			Metrics:   true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration. requireAccount is false for commands
// that obtain the account id elsewhere, such as registration.
func (c *Config) Validate(requireAccount bool) error {
	if requireAccount && c.Account.ID == "" {
		return ErrNoAccount
	}
	if _, err := protocol.ParseStatus(c.Account.Status); err != nil {
		return fmt.Errorf("account.status: %w", err)
	}
	if _, err := protocol.ParseGeneration(c.Server.Generation); err != nil {
		return fmt.Errorf("server.generation: %w", err)
	}
	if c.Server.Login == "" {
		return errors.New("server.login is required")
	}
	if c.Server.ReconnectMin > c.Server.ReconnectMax {
		return ErrBadBackoff
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port %d: %w", c.API.Port, ErrBadPort)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	return nil
}

// Generation returns the parsed protocol generation
func (c *Config) Generation() protocol.Generation {
	g, _ := protocol.ParseGeneration(c.Server.Generation)
	return g
}

// Status returns the parsed logon status
func (c *Config) Status() uint32 {
	s, _ := protocol.ParseStatus(c.Account.Status)
	return s
}

// APIAddr is the listen address of the control API
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
