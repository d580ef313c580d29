// Package config loads the exthub server configuration from defaults,
// an optional YAML file, and environment variables, in that order of
// precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/exthublabs/exthub/pkg/logging"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Auth    AuthConfig     `yaml:"auth" envconfig:"AUTH"`
	CORS    CORSConfig     `yaml:"cors" envconfig:"CORS"`
	Logging logging.Config `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host    string `yaml:"host" envconfig:"HOST"`
	Port    int    `yaml:"port" envconfig:"PORT"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

// AuthConfig contains the bootstrap credentials fed into the server at
// startup. All fields are optional; an empty value leaves the
// corresponding gate disabled.
type AuthConfig struct {
	// Session is the Basic-auth credential for the general surface,
	// either "password" or "user:password".
	Session string `yaml:"session" envconfig:"SESSION"`
	// APIToken is the full-access bearer token for the /api namespace.
	APIToken string `yaml:"api_token" envconfig:"API_TOKEN"`
	// ReadToken is the read-only bearer token for the /api namespace.
	ReadToken string `yaml:"read_token" envconfig:"READ_TOKEN"`
	// Realm is the Basic-auth challenge realm.
	Realm string `yaml:"realm" envconfig:"REALM"`
}

// CORSConfig contains CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	MaxAge         int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("EXTHUB", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Set BaseURL if not provided
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Auth: AuthConfig{
			Realm: "exthub",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("cors allowed_origins must not be empty")
	}

	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionCredentials splits the bootstrap session value into a
// username/password pair. A bare "password" value gets the default
// username "admin"; the password may itself contain colons, so the
// split happens at the first colon only. ok is false when no session
// credential is configured.
func (a *AuthConfig) SessionCredentials() (username, password string, ok bool) {
	if a.Session == "" {
		return "", "", false
	}
	if user, pass, found := strings.Cut(a.Session, ":"); found {
		return user, pass, true
	}
	return "admin", a.Session, true
}
