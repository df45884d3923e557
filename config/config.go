// Package config loads the YAML configuration shared by sessiond and
// sessionctl. Durations are written as Go duration strings ("250ms", "5s").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string       `yaml:"logLevel"`
	Server   ServerConfig `yaml:"server"`
	Client   ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AdvertiseAddr   string        `yaml:"advertiseAddr"` // Announced in etcd, empty means the bound address
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	HandlerTimeout  time.Duration `yaml:"handlerTimeout"` // 0 disables the timeout middleware
	RateLimit       float64       `yaml:"rateLimit"`      // Requests per second, 0 disables limiting
	RateBurst       int           `yaml:"rateBurst"`
	Etcd            []string      `yaml:"etcd"`
	AnnounceTTL     int64         `yaml:"announceTTL"` // Seconds
	SessionCapacity int           `yaml:"sessionCapacity"`
}

type ClientConfig struct {
	Addr              string        `yaml:"addr"`
	Service           string        `yaml:"service"` // Resolved through etcd when Addr is empty
	Connections       int           `yaml:"connections"`
	SpinCount         int           `yaml:"spinCount"`
	DefaultTimeout    time.Duration `yaml:"defaultTimeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatRetries  int           `yaml:"heartbeatRetries"`
	Etcd              []string      `yaml:"etcd"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":7070",
			ShutdownTimeout: 5 * time.Second,
			AnnounceTTL:     10,
			SessionCapacity: 100000,
		},
		Client: ClientConfig{
			Connections:       1,
			SpinCount:         100,
			DefaultTimeout:    3 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			HeartbeatRetries:  3,
		},
	}
}

// Load reads and validates the YAML file at path. Missing fields take their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file. The document is decoded over Default, so
// a key that is present keeps its value even when it is zero.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		c.Server.RateBurst = int(c.Server.RateLimit) + 1
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects values that cannot work.
func (c *Config) Validate() error {
	if c.Client.Connections < 1 {
		return fmt.Errorf("config: client.connections must be positive, got %d", c.Client.Connections)
	}
	if c.Client.SpinCount < 0 {
		return fmt.Errorf("config: client.spinCount must not be negative, got %d", c.Client.SpinCount)
	}
	if c.Client.DefaultTimeout <= 0 || c.Client.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: client.defaultTimeout and client.heartbeatInterval must be positive")
	}
	if c.Client.HeartbeatRetries < 0 {
		return fmt.Errorf("config: client.heartbeatRetries must not be negative, got %d", c.Client.HeartbeatRetries)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config: server rate limit must not be negative")
	}
	if c.Server.SessionCapacity < 1 {
		return fmt.Errorf("config: server.sessionCapacity must be positive, got %d", c.Server.SessionCapacity)
	}
	if c.Server.AnnounceTTL < 1 {
		return fmt.Errorf("config: server.announceTTL must be positive, got %d", c.Server.AnnounceTTL)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("config: server.shutdownTimeout must not be negative")
	}
	return nil
}
