// Package confluent adapts a Confluent-compatible Schema Registry to the
// registry.Registry contract.
package confluent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/client"
	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
	"github.com/kamir/global-schema-registry/internal/transport"
)

var supportedFormats = []schema.Format{
	schema.FormatAvro,
	schema.FormatProtobuf,
	schema.FormatJSONSchema,
}

// Registry is a Confluent Schema Registry backend.
type Registry struct {
	client *client.SchemaRegistryClient
	url    string
	log    *zap.Logger
}

var _ registry.Registry = (*Registry)(nil)

// New is the registry.Constructor for schema.RegistryConfluent. Auth keys
// "username" and "password" enable basic auth; metadata "context" selects a
// schema context.
func New(cfg schema.RegistryConfig, log *zap.Logger) (registry.Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := client.NewClient(client.Options{
		URL:      cfg.URL,
		Username: cfg.Auth["username"],
		Password: cfg.Auth["password"],
		Transport: transport.Config{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			TLS:        cfg.TLS,
		},
		Logger:  log,
		Context: cfg.Metadata["context"],
	})
	if err != nil {
		return nil, err
	}

	log.Info("initialized Confluent schema registry backend", zap.String("url", c.BaseURL()))
	return &Registry{client: c, url: c.BaseURL(), log: log}, nil
}

func (r *Registry) Type() schema.RegistryType { return schema.RegistryConfluent }

func (r *Registry) SupportedFormats() []schema.Format { return supportedFormats }

// ToSchemaType maps a format to Confluent's schemaType spelling.
func ToSchemaType(f schema.Format) string {
	switch f {
	case schema.FormatProtobuf:
		return "PROTOBUF"
	case schema.FormatJSONSchema:
		return "JSON"
	default:
		return "AVRO"
	}
}

// FromSchemaType maps Confluent's schemaType to a format. Unknown and empty
// values are AVRO, the registry default.
func FromSchemaType(t string) schema.Format {
	switch strings.ToUpper(t) {
	case "PROTOBUF":
		return schema.FormatProtobuf
	case "JSON":
		return schema.FormatJSONSchema
	default:
		return schema.FormatAvro
	}
}

func (r *Registry) toSchema(s *client.Schema, subject string, version int) *schema.Schema {
	out := &schema.Schema{
		ID:           s.ID,
		Subject:      s.Subject,
		Version:      s.Version,
		Format:       FromSchemaType(s.SchemaType),
		Content:      s.Schema,
		RegistryType: schema.RegistryConfluent,
		Metadata:     map[string]interface{}{},
	}
	if out.Subject == "" {
		out.Subject = subject
	}
	if out.Version == 0 {
		out.Version = version
	}
	if len(s.References) > 0 {
		out.Metadata["references"] = s.References
	}
	return out
}

func (r *Registry) RegisterSchema(ctx context.Context, subject, content string, format schema.Format, metadata map[string]interface{}) (*schema.Schema, error) {
	if !format.In(supportedFormats) {
		return nil, fmt.Errorf("format %s not supported by Confluent schema registry: %w", format, schema.ErrUnsupportedFormat)
	}

	id, err := r.client.RegisterSchema(ctx, subject, &client.Schema{
		Schema:     content,
		SchemaType: ToSchemaType(format),
	})
	if err != nil {
		r.log.Error("failed to register schema", zap.String("subject", subject), zap.Error(err))
		return nil, err
	}

	// The register endpoint only returns the id; resolve the version it landed on.
	version := 1
	if latest, err := r.client.GetSchema(ctx, subject, "latest"); err == nil && latest.ID == id {
		version = latest.Version
	}

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &schema.Schema{
		ID:           id,
		Subject:      subject,
		Version:      version,
		Format:       format,
		Content:      content,
		RegistryType: schema.RegistryConfluent,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GetSchemaByID returns the schema for a global id. The endpoint does not
// report subject or version, so those are left empty.
func (r *Registry) GetSchemaByID(ctx context.Context, id int) (*schema.Schema, error) {
	s, err := r.client.GetSchemaByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.toSchema(s, "", 0), nil
}

func (r *Registry) GetSchema(ctx context.Context, subject string, version int) (*schema.Schema, error) {
	s, err := r.client.GetSchema(ctx, subject, client.VersionString(version))
	if err != nil {
		return nil, err
	}
	return r.toSchema(s, subject, version), nil
}

func (r *Registry) GetLatestSchema(ctx context.Context, subject string) (*schema.Schema, error) {
	return r.GetSchema(ctx, subject, 0)
}

func (r *Registry) ListSubjects(ctx context.Context, prefix string) ([]string, error) {
	subjects, err := r.client.GetSubjects(ctx, false)
	if err != nil {
		r.log.Error("failed to list subjects", zap.Error(err))
		return nil, err
	}
	if prefix == "" {
		return subjects, nil
	}

	filtered := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if strings.HasPrefix(s, prefix) {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

func (r *Registry) ListVersions(ctx context.Context, subject string) ([]int, error) {
	return r.client.GetVersions(ctx, subject)
}

func (r *Registry) DeleteVersion(ctx context.Context, subject string, version int) error {
	_, err := r.client.DeleteVersion(ctx, subject, version, false)
	return err
}

// CheckCompatibility asks the registry for a verbose verdict. A missing
// subject or version is an error; any other failure is reported inside the
// result with level NONE.
func (r *Registry) CheckCompatibility(ctx context.Context, subject, content string, format schema.Format, version int) (*schema.CompatibilityResult, error) {
	res, err := r.client.CheckCompatibility(ctx, subject, &client.Schema{
		Schema:     content,
		SchemaType: ToSchemaType(format),
	}, client.VersionString(version))
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, err
		}
		r.log.Error("compatibility check failed", zap.String("subject", subject), zap.Error(err))
		return &schema.CompatibilityResult{
			Compatible: false,
			Messages:   []string{},
			Level:      schema.ModeNone,
			Errors:     []string{err.Error()},
		}, nil
	}

	level, err := r.GetCompatibilityMode(ctx, subject)
	if err != nil {
		r.log.Warn("could not resolve compatibility level", zap.String("subject", subject), zap.Error(err))
		level = schema.ModeNone
	}

	messages := res.Messages
	if messages == nil {
		messages = []string{}
	}
	return &schema.CompatibilityResult{
		Compatible: res.IsCompatible,
		Messages:   messages,
		Level:      level,
		Errors:     []string{},
	}, nil
}

// GetCompatibilityMode returns the subject's configured level, falling back
// to the global level when the subject has none.
func (r *Registry) GetCompatibilityMode(ctx context.Context, subject string) (schema.CompatibilityMode, error) {
	if subject != "" {
		cfg, err := r.client.GetSubjectConfig(ctx, subject)
		if err != nil {
			return "", err
		}
		if cfg != nil && cfg.Level() != "" {
			return schema.ParseCompatibilityMode(cfg.Level())
		}
	}

	cfg, err := r.client.GetConfig(ctx)
	if err != nil {
		return "", err
	}
	if cfg.Level() == "" {
		return schema.ModeBackward, nil
	}
	return schema.ParseCompatibilityMode(cfg.Level())
}

func (r *Registry) SetCompatibilityMode(ctx context.Context, mode schema.CompatibilityMode, subject string) error {
	if !mode.Valid() {
		return schema.InvalidArgumentf("unknown compatibility mode %q", mode)
	}

	var err error
	if subject == "" {
		err = r.client.SetConfig(ctx, mode.String())
	} else {
		err = r.client.SetSubjectConfig(ctx, subject, mode.String())
	}
	if err != nil {
		r.log.Error("failed to set compatibility mode",
			zap.String("subject", subject),
			zap.String("mode", mode.String()),
			zap.Error(err))
		if errors.Is(err, schema.ErrOperationFailed) || errors.Is(err, schema.ErrInvalidArgument) {
			return err
		}
		return schema.OperationFailed("set compatibility mode", err)
	}
	return nil
}

// GetAllCompatibilityModes returns the subject-level overrides. Subjects
// that inherit the global level, or whose config cannot be read, are
// skipped.
func (r *Registry) GetAllCompatibilityModes(ctx context.Context) (map[string]schema.CompatibilityMode, error) {
	subjects, err := r.ListSubjects(ctx, "")
	if err != nil {
		return nil, err
	}

	modes := make(map[string]schema.CompatibilityMode)
	for _, subject := range subjects {
		cfg, err := r.client.GetSubjectConfig(ctx, subject)
		if err != nil {
			r.log.Debug("skipping subject mode", zap.String("subject", subject), zap.Error(err))
			continue
		}
		if cfg == nil || cfg.Level() == "" {
			continue
		}
		mode, err := schema.ParseCompatibilityMode(cfg.Level())
		if err != nil {
			r.log.Warn("unknown subject compatibility level",
				zap.String("subject", subject),
				zap.String("level", cfg.Level()))
			continue
		}
		modes[subject] = mode
	}
	return modes, nil
}

// DiscoverSchemas returns the latest schema of every subject whose name
// starts with namespace. Filters are not used by this backend.
func (r *Registry) DiscoverSchemas(ctx context.Context, namespace string, filters map[string]string) ([]*schema.Schema, error) {
	subjects, err := r.ListSubjects(ctx, namespace)
	if err != nil {
		return nil, err
	}

	schemas := make([]*schema.Schema, 0, len(subjects))
	for _, subject := range subjects {
		s, err := r.GetLatestSchema(ctx, subject)
		if err != nil {
			r.log.Warn("failed to get schema", zap.String("subject", subject), zap.Error(err))
			continue
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// HealthCheck probes the subjects endpoint.
func (r *Registry) HealthCheck(ctx context.Context) *schema.HealthStatus {
	start := time.Now()
	_, err := r.client.GetSubjects(ctx, false)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		return &schema.HealthStatus{
			Healthy:        false,
			StatusCode:     transport.StatusCode(err),
			Message:        fmt.Sprintf("Health check failed: %v", err),
			ResponseTimeMS: elapsed,
			Metadata: map[string]interface{}{
				"url":   r.url,
				"error": err.Error(),
			},
		}
	}
	return &schema.HealthStatus{
		Healthy:        true,
		StatusCode:     http.StatusOK,
		Message:        "Confluent Schema Registry is healthy",
		ResponseTimeMS: elapsed,
		Metadata: map[string]interface{}{
			"url":           r.url,
			"registry_type": string(schema.RegistryConfluent),
		},
	}
}

// GetMetadata returns the metadata derived from the stored version. The
// registry keeps no free-form metadata of its own.
func (r *Registry) GetMetadata(ctx context.Context, subject string, version int) (map[string]interface{}, error) {
	s, err := r.GetSchema(ctx, subject, version)
	if err != nil {
		return nil, err
	}
	return s.Metadata, nil
}

// UpdateMetadata is not supported by Confluent Schema Registry.
func (r *Registry) UpdateMetadata(ctx context.Context, subject string, version int, metadata map[string]interface{}) error {
	r.log.Warn("Confluent schema registry does not support metadata updates", zap.String("subject", subject))
	return fmt.Errorf("update metadata: %w", schema.ErrUnsupportedOperation)
}

func (r *Registry) Close() error {
	return nil
}
