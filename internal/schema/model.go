package schema

import (
	"encoding/json"
	"time"
)

// Schema is one registered version of a subject in one backend.
type Schema struct {
	ID           int                    `json:"id,omitempty" yaml:"id,omitempty"`
	Subject      string                 `json:"subject" yaml:"subject"`
	Version      int                    `json:"version" yaml:"version"`
	Format       Format                 `json:"schema_format" yaml:"schema_format"`
	Content      string                 `json:"schema_content" yaml:"schema_content"`
	RegistryType RegistryType           `json:"registry_type" yaml:"registry_type"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	CreatedBy    string                 `json:"created_by,omitempty" yaml:"created_by,omitempty"`
}

// TLSConfig configures TLS for a backend's HTTP client.
type TLSConfig struct {
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
	CAFile             string `json:"ca_file,omitempty"`
}

// RegistryConfig describes one backend instance. It is immutable once the
// instance has been created; changing it means re-adding the instance.
type RegistryConfig struct {
	ID         string            `json:"id"`
	Type       RegistryType      `json:"type"`
	URL        string            `json:"url"`
	Auth       map[string]string `json:"-"`
	TLS        TLSConfig         `json:"tls"`
	Timeout    time.Duration     `json:"timeout"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Enabled    bool              `json:"enabled"`
}

// Defaults for RegistryConfig fields left unset.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
)

// WithDefaults returns a copy of c with zero-valued timeout and retry
// fields replaced by their defaults.
func (c RegistryConfig) WithDefaults() RegistryConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// CompatibilityResult is the verdict of a compatibility check. Errors is only
// non-empty when the check itself could not be completed.
type CompatibilityResult struct {
	Compatible bool              `json:"is_compatible" yaml:"is_compatible"`
	Messages   []string          `json:"messages" yaml:"messages"`
	Level      CompatibilityMode `json:"compatibility_level" yaml:"compatibility_level"`
	Errors     []string          `json:"errors" yaml:"errors"`
}

// HealthStatus is the outcome of a single health probe.
type HealthStatus struct {
	Healthy        bool                   `json:"healthy" yaml:"healthy"`
	StatusCode     int                    `json:"status_code" yaml:"status_code"`
	Message        string                 `json:"message" yaml:"message"`
	ResponseTimeMS float64                `json:"response_time_ms" yaml:"response_time_ms"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// SubjectCheck is the bulk-check record for one (registry, subject) pair.
type SubjectCheck struct {
	RegistryID string   `json:"registry_id" yaml:"registry_id"`
	Subject    string   `json:"subject" yaml:"subject"`
	Compatible bool     `json:"is_compatible" yaml:"is_compatible"`
	Messages   []string `json:"messages" yaml:"messages"`
	Errors     []string `json:"errors" yaml:"errors"`
}

// BulkCheckResult aggregates a bulk compatibility run. Counts only reflect
// attempted checks, so TotalChecked need not equal the sum of the others.
type BulkCheckResult struct {
	ID           string            `json:"id"`
	TargetMode   CompatibilityMode `json:"target_mode"`
	TotalChecked int               `json:"total_checked"`
	Compatible   int               `json:"compatible_count"`
	Incompatible int               `json:"incompatible_count"`
	Errors       int               `json:"error_count"`
	Duration     time.Duration     `json:"-"`
	Results      []SubjectCheck    `json:"results"`
}

// MarshalJSON renders Duration as fractional seconds.
func (r BulkCheckResult) MarshalJSON() ([]byte, error) {
	type alias BulkCheckResult
	return json.Marshal(struct {
		alias
		DurationSeconds float64 `json:"duration_seconds"`
	}{alias(r), r.Duration.Seconds()})
}
