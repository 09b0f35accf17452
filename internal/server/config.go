// Package server provides configuration helpers that define runtime defaults,
// validation, and the file and environment layers for the wschat service.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = "8080"
	defaultMaxConnections   = 100
	defaultMaxMessageSize   = 4096
	defaultHandshakeTimeout = 10 * time.Second
	defaultShutdownTimeout  = 5 * time.Second

	envPrefix = "WSCHAT_"
)

var (
	// ErrMissingHost is returned when no host is configured.
	ErrMissingHost = errors.New("the host parameter is required")
	// ErrMissingPort is returned when no port is configured.
	ErrMissingPort = errors.New("the port parameter is required")
	// ErrInvalidPort is returned when the port is not 1 to 6 digits.
	ErrInvalidPort = errors.New("the port value is not valid")
	// ErrInvalidAdmin is returned when an admin credential is malformed.
	ErrInvalidAdmin = errors.New("the admin's username has to be at least 3 alphanumeric characters, and the password at least 6 alphanumeric characters")

	portPattern = regexp.MustCompile(`^[0-9]{1,6}$`)
)

// AdminCredential is a preconfigured administrator identity.
type AdminCredential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig is handed to the transport untouched. When CertFile and KeyFile
// are both set the listener serves TLS.
type TLSConfig struct {
	CertFile string      `yaml:"cert_file"`
	KeyFile  string      `yaml:"key_file"`
	Config   *tls.Config `yaml:"-"`
}

// Enabled reports whether a certificate pair was configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// Config holds the server configuration settings.
type Config struct {
	Host             string            `yaml:"host"`
	Port             string            `yaml:"port"`
	MaxConnections   int               `yaml:"max_connections"`
	AllowedOrigin    string            `yaml:"allowed_origin"`
	Admins           []AdminCredential `yaml:"admins"`
	TLS              TLSConfig         `yaml:"tls"`
	MaxMessageSize   int64             `yaml:"max_message_size"`
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout"`
	ShutdownTimeout  time.Duration     `yaml:"shutdown_timeout"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Host:             defaultHost,
		Port:             defaultPort,
		MaxConnections:   defaultMaxConnections,
		MaxMessageSize:   defaultMaxMessageSize,
		HandshakeTimeout: defaultHandshakeTimeout,
		ShutdownTimeout:  defaultShutdownTimeout,
	}
}

// Addr joins host and port into a listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the required fields and coerces the optional ones. A
// MaxConnections value of 1 or less becomes the default of 100.
func (c *Config) Validate() error {
	if c.Host == "" {
		return ErrMissingHost
	}
	if c.Port == "" {
		return ErrMissingPort
	}
	if !portPattern.MatchString(c.Port) {
		return fmt.Errorf("%w: %q", ErrInvalidPort, c.Port)
	}

	for i, admin := range c.Admins {
		if !validCredentials(admin.Username, admin.Password) {
			return fmt.Errorf("admin #%d (%q): %w", i, admin.Username, ErrInvalidAdmin)
		}
	}

	c.sanitize()
	return nil
}

func (c *Config) sanitize() {
	if c.MaxConnections <= 1 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// LoadConfigFile reads a YAML file and applies it on top of cfg. Keys absent
// from the file keep their current values.
func LoadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// envOverlay uses pointer fields so that unset variables leave the
// underlying Config alone.
type envOverlay struct {
	Host           *string `env:"HOST"`
	Port           *string `env:"PORT"`
	MaxConnections *int    `env:"MAX_CONNECTIONS"`
	AllowedOrigin  *string `env:"ALLOWED_ORIGIN"`
	TLSCertFile    *string `env:"TLS_CERT_FILE"`
	TLSKeyFile     *string `env:"TLS_KEY_FILE"`
	MaxMessageSize *int64  `env:"MAX_MESSAGE_SIZE"`
}

// ApplyEnv overlays WSCHAT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var overlay envOverlay
	if err := env.ParseWithOptions(&overlay, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if overlay.Host != nil {
		cfg.Host = *overlay.Host
	}
	if overlay.Port != nil {
		cfg.Port = *overlay.Port
	}
	if overlay.MaxConnections != nil {
		cfg.MaxConnections = *overlay.MaxConnections
	}
	if overlay.AllowedOrigin != nil {
		cfg.AllowedOrigin = *overlay.AllowedOrigin
	}
	if overlay.TLSCertFile != nil {
		cfg.TLS.CertFile = *overlay.TLSCertFile
	}
	if overlay.TLSKeyFile != nil {
		cfg.TLS.KeyFile = *overlay.TLSKeyFile
	}
	if overlay.MaxMessageSize != nil {
		cfg.MaxMessageSize = *overlay.MaxMessageSize
	}
	return nil
}
