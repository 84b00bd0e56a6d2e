// Package config loads the registry federation configuration: server,
// logging, metrics and bulk settings plus the list of backend instances.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// DefaultPath is read when neither --config nor $REGISTRY_CONFIG is set.
const DefaultPath = "config/registries.yaml"

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "REGISTRY_CONFIG"

// SSLConfig mirrors the ssl_config block of a registry entry
type SSLConfig struct {
	Verify   *bool  `mapstructure:"verify"`
	CertPath string `mapstructure:"cert_path"`
}

// Registry represents a configured backend instance
type Registry struct {
	ID         string            `mapstructure:"id"`
	Type       string            `mapstructure:"type"`
	URL        string            `mapstructure:"url"`
	Auth       map[string]string `mapstructure:"auth"`
	SSLConfig  SSLConfig         `mapstructure:"ssl_config"`
	Timeout    int               `mapstructure:"timeout"` // seconds
	MaxRetries *int              `mapstructure:"max_retries"`
	Metadata   map[string]string `mapstructure:"metadata"`
	Enabled    *bool             `mapstructure:"enabled"`
}

// IsEnabled reports whether the entry should be added. Entries without an
// explicit flag are enabled.
func (r Registry) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ServerConfig configures the REST surface
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// BulkConfig configures bulk operations
type BulkConfig struct {
	Workers    int  `mapstructure:"workers"`
	ScopeAware bool `mapstructure:"scope_aware"`
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig configures the Prometheus registry
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// WatchConfig configures the _schemas topic watcher
type WatchConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	Group    string   `mapstructure:"group"`
	Registry string   `mapstructure:"registry"`
	Mode     string   `mapstructure:"mode"`
}

// Config represents the application configuration
type Config struct {
	Server     ServerConfig  `mapstructure:"server"`
	Bulk       BulkConfig    `mapstructure:"bulk"`
	Log        LogConfig     `mapstructure:"log"`
	Metrics    MetricsConfig `mapstructure:"metrics"`
	Watch      WatchConfig   `mapstructure:"watch"`
	Registries []Registry    `mapstructure:"registries"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("bulk.workers", 10)
	v.SetDefault("bulk.scope_aware", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("watch.topic", "_schemas")
	v.SetDefault("watch.group", "gsr-watcher")
}

// Load reads configuration from path, or from $REGISTRY_CONFIG, or from
// DefaultPath. A missing file is only an error when it was named
// explicitly. GSR_-prefixed environment variables override file values
// (GSR_SERVER_ADDRESS, GSR_BULK_WORKERS, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("GSR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath
	}

	file := ""
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		file = path
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = file

	// Support common SR environment variables
	if len(cfg.Registries) == 0 {
		if r, ok := registryFromEnv(); ok {
			cfg.Registries = append(cfg.Registries, r)
		}
	}
	return &cfg, nil
}

// registryFromEnv builds a Confluent entry from SCHEMA_REGISTRY_URL and
// SCHEMA_REGISTRY_BASIC_AUTH_USER_INFO ("user:password").
func registryFromEnv() (Registry, bool) {
	url := os.Getenv("SCHEMA_REGISTRY_URL")
	if url == "" {
		return Registry{}, false
	}
	r := Registry{
		ID:   "default",
		Type: string(schema.RegistryConfluent),
		URL:  url,
		Auth: map[string]string{},
	}
	if info := os.Getenv("SCHEMA_REGISTRY_BASIC_AUTH_USER_INFO"); info != "" {
		user, pass, _ := strings.Cut(info, ":")
		r.Auth["username"] = user
		r.Auth["password"] = pass
	}
	return r, true
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} in s with the value of VAR. Unset
// variables expand to the empty string.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// ToRegistryConfig validates r and converts it into a backend configuration
// with auth values expanded.
func (r Registry) ToRegistryConfig() (schema.RegistryConfig, error) {
	if r.ID == "" {
		return schema.RegistryConfig{}, schema.InvalidArgumentf("registry entry without id")
	}
	if r.Type == "" {
		return schema.RegistryConfig{}, schema.InvalidArgumentf("registry %s: type is required", r.ID)
	}

	auth := make(map[string]string, len(r.Auth))
	for k, v := range r.Auth {
		auth[k] = ExpandEnv(v)
	}

	cfg := schema.RegistryConfig{
		ID:         r.ID,
		Type:       schema.RegistryType(strings.ToLower(r.Type)),
		URL:        r.URL,
		Auth:       auth,
		Timeout:    time.Duration(r.Timeout) * time.Second,
		MaxRetries: schema.DefaultMaxRetries,
		Metadata:   r.Metadata,
		Enabled:    r.IsEnabled(),
		TLS: schema.TLSConfig{
			InsecureSkipVerify: r.SSLConfig.Verify != nil && !*r.SSLConfig.Verify,
			CAFile:             r.SSLConfig.CertPath,
		},
	}
	if r.MaxRetries != nil {
		cfg.MaxRetries = *r.MaxRetries
	}
	return cfg.WithDefaults(), nil
}

// RegistryAdder is the part of the orchestrator the loader needs.
type RegistryAdder interface {
	AddRegistry(cfg schema.RegistryConfig) (registry.Registry, error)
}

// AddRegistries adds every enabled entry to o. Disabled entries are skipped
// and failing entries are logged and skipped. It returns the ids that were
// added and the joined failures.
func (c *Config) AddRegistries(o RegistryAdder, log *zap.Logger) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var added []string
	var errs []error
	for _, r := range c.Registries {
		if !r.IsEnabled() {
			log.Info("skipping disabled registry", zap.String("registry_id", r.ID))
			continue
		}

		cfg, err := r.ToRegistryConfig()
		if err == nil {
			_, err = o.AddRegistry(cfg)
		}
		if err != nil {
			log.Error("failed to add registry", zap.String("registry_id", r.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("registry %s: %w", r.ID, err))
			continue
		}
		log.Info("added registry", zap.String("registry_id", r.ID), zap.String("type", r.Type))
		added = append(added, r.ID)
	}
	return added, errors.Join(errs...)
}
