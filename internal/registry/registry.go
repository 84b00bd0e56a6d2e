// Package registry defines the capability contract every schema registry
// backend implements, and the plugin table that turns configuration into
// live backend instances.
package registry

import (
	"context"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// Registry is the capability set of one backend instance.
//
// Operations referencing a subject, version or id that does not exist fail
// with schema.ErrNotFound. Requests for a format the backend cannot handle
// fail with schema.ErrUnsupportedFormat. Any other backend-side failure is
// reported as schema.ErrOperationFailed wrapping the cause. A backend may
// implement an operation as a no-op when the concept does not apply to it,
// and must say so in its documentation.
type Registry interface {
	// Type returns the backend-type tag.
	Type() schema.RegistryType
	// SupportedFormats lists the formats RegisterSchema accepts.
	SupportedFormats() []schema.Format

	RegisterSchema(ctx context.Context, subject, content string, format schema.Format, metadata map[string]interface{}) (*schema.Schema, error)
	GetSchemaByID(ctx context.Context, id int) (*schema.Schema, error)
	GetSchema(ctx context.Context, subject string, version int) (*schema.Schema, error)
	GetLatestSchema(ctx context.Context, subject string) (*schema.Schema, error)
	ListSubjects(ctx context.Context, prefix string) ([]string, error)
	// ListVersions returns the versions of subject, oldest first.
	ListVersions(ctx context.Context, subject string) ([]int, error)
	DeleteVersion(ctx context.Context, subject string, version int) error

	// CheckCompatibility checks content against the given version of subject,
	// or against the latest version when version is 0.
	CheckCompatibility(ctx context.Context, subject, content string, format schema.Format, version int) (*schema.CompatibilityResult, error)
	// GetCompatibilityMode returns the subject's mode, or the global mode when
	// subject is empty.
	GetCompatibilityMode(ctx context.Context, subject string) (schema.CompatibilityMode, error)
	SetCompatibilityMode(ctx context.Context, mode schema.CompatibilityMode, subject string) error
	// GetAllCompatibilityModes returns the subject-level modes.
	GetAllCompatibilityModes(ctx context.Context) (map[string]schema.CompatibilityMode, error)

	// DiscoverSchemas returns the latest schema of every subject under
	// namespace. Filters are backend specific.
	DiscoverSchemas(ctx context.Context, namespace string, filters map[string]string) ([]*schema.Schema, error)

	// HealthCheck probes the backend. Failures are reported in the status.
	HealthCheck(ctx context.Context) *schema.HealthStatus

	GetMetadata(ctx context.Context, subject string, version int) (map[string]interface{}, error)
	UpdateMetadata(ctx context.Context, subject string, version int, metadata map[string]interface{}) error

	// Close releases the backend's connections.
	Close() error
}
