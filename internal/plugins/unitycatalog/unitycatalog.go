// Package unitycatalog exposes Databricks Unity Catalog tables as schema
// registry subjects named catalog.schema.table. Compatibility follows the
// field-id based evolution rules in package compat.
package unitycatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
	"github.com/kamir/global-schema-registry/internal/transport"
)

const (
	apiPrefix = "/api/2.1/unity-catalog"

	// MsgNewTable is reported when the table does not exist yet.
	MsgNewTable = "New table - no compatibility check needed"
)

var supportedFormats = []schema.Format{schema.FormatIceberg, schema.FormatAvro}

// Registry is a Unity Catalog backend.
type Registry struct {
	http    *transport.Client
	url     string
	catalog string
	mode    schema.CompatibilityMode
	log     *zap.Logger

	mu        sync.Mutex
	requested map[string]schema.CompatibilityMode
}

var _ registry.Registry = (*Registry)(nil)

// New is the registry.Constructor for schema.RegistryUnityCatalog.
//
// Auth key "token" is sent as a bearer token. Metadata "catalog" selects the
// catalog listed by ListSubjects (default "main") and "compatibility_mode"
// sets the mode the backend reports (default BACKWARD).
func New(cfg schema.RegistryConfig, log *zap.Logger) (registry.Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}

	mode := schema.ModeBackward
	if m := cfg.Metadata["compatibility_mode"]; m != "" {
		parsed, err := schema.ParseCompatibilityMode(m)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}

	catalog := cfg.Metadata["catalog"]
	if catalog == "" {
		catalog = "main"
	}

	c, err := transport.New(transport.Config{
		BaseURL:     cfg.URL,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		TLS:         cfg.TLS,
		BearerToken: cfg.Auth["token"],
	}, log)
	if err != nil {
		return nil, err
	}

	log.Info("initialized Unity Catalog backend",
		zap.String("url", c.BaseURL),
		zap.String("catalog", catalog),
		zap.String("mode", mode.String()))

	return &Registry{
		http:      c,
		url:       c.BaseURL,
		catalog:   catalog,
		mode:      mode,
		log:       log,
		requested: make(map[string]schema.CompatibilityMode),
	}, nil
}

func (r *Registry) Type() schema.RegistryType { return schema.RegistryUnityCatalog }

func (r *Registry) SupportedFormats() []schema.Format { return supportedFormats }

// ParseSubject splits catalog.schema.table.
func ParseSubject(subject string) (catalog, schemaName, table string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", schema.InvalidArgumentf("subject must be in format catalog.schema.table, got: %s", subject)
	}
	return parts[0], parts[1], parts[2], nil
}

func (r *Registry) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	respBody, status, err := r.http.Do(ctx, method, apiPrefix+path, body)
	if err != nil {
		return schema.OperationFailed(op, err)
	}
	if status < 200 || status > 299 {
		return transport.StatusError(op, respBody, status)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return schema.OperationFailed("parse "+op+" response", err)
	}
	return nil
}

// RegisterSchema creates a managed table from an Iceberg struct schema.
func (r *Registry) RegisterSchema(ctx context.Context, subject, content string, format schema.Format, metadata map[string]interface{}) (*schema.Schema, error) {
	catalog, schemaName, table, err := ParseSubject(subject)
	if err != nil {
		return nil, err
	}
	switch format {
	case schema.FormatIceberg:
	case schema.FormatAvro:
		return nil, fmt.Errorf("Avro to Iceberg transformation not yet implemented: %w", schema.ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("format %s: %w", format, schema.ErrUnsupportedFormat)
	}

	structSchema, err := compat.ParseStructSchema(content)
	if err != nil {
		return nil, err
	}

	properties := make(map[string]string, len(metadata))
	for k, v := range metadata {
		properties[k] = fmt.Sprint(v)
	}

	var created TableInfo
	err = r.do(ctx, "create table", http.MethodPost, "/tables", map[string]interface{}{
		"name":               table,
		"catalog_name":       catalog,
		"schema_name":        schemaName,
		"table_type":         "MANAGED",
		"data_source_format": "DELTA",
		"columns":            ToColumns(structSchema),
		"properties":         properties,
	}, &created)
	if err != nil {
		r.log.Error("failed to register schema", zap.String("subject", subject), zap.Error(err))
		return nil, err
	}

	return &schema.Schema{
		Subject:      subject,
		Version:      1,
		Format:       schema.FormatIceberg,
		Content:      content,
		RegistryType: schema.RegistryUnityCatalog,
		Metadata: map[string]interface{}{
			"table_id":         created.TableID,
			"created_at":       created.CreatedAt,
			"storage_location": created.StorageLocation,
			"catalog":          catalog,
			"schema":           schemaName,
			"table":            table,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GetSchemaByID is not supported: tables have no numeric id.
func (r *Registry) GetSchemaByID(ctx context.Context, id int) (*schema.Schema, error) {
	return nil, fmt.Errorf("Unity Catalog does not support lookup by numeric ID: %w", schema.ErrUnsupportedOperation)
}

// GetSchema returns the current table schema. Tables are not versioned, so
// any version yields the current definition.
func (r *Registry) GetSchema(ctx context.Context, subject string, version int) (*schema.Schema, error) {
	if _, _, _, err := ParseSubject(subject); err != nil {
		return nil, err
	}

	var table TableInfo
	if err := r.do(ctx, "get table", http.MethodGet, "/tables/"+url.PathEscape(subject), nil, &table); err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NotFoundf("table %s", subject)
		}
		return nil, err
	}

	content, err := json.Marshal(FromColumns(table.Columns))
	if err != nil {
		return nil, err
	}
	if version <= 0 {
		version = 1
	}
	return &schema.Schema{
		Subject:      subject,
		Version:      version,
		Format:       schema.FormatIceberg,
		Content:      string(content),
		RegistryType: schema.RegistryUnityCatalog,
		Metadata: map[string]interface{}{
			"table_id":           table.TableID,
			"table_type":         table.TableType,
			"data_source_format": table.DataSourceFormat,
			"storage_location":   table.StorageLocation,
		},
	}, nil
}

func (r *Registry) GetLatestSchema(ctx context.Context, subject string) (*schema.Schema, error) {
	return r.GetSchema(ctx, subject, 1)
}

// ListSubjects lists the tables of the configured catalog.
func (r *Registry) ListSubjects(ctx context.Context, prefix string) ([]string, error) {
	var resp struct {
		Tables []TableInfo `json:"tables"`
	}
	path := "/tables?catalog_name=" + url.QueryEscape(r.catalog)
	if err := r.do(ctx, "list tables", http.MethodGet, path, nil, &resp); err != nil {
		r.log.Error("failed to list subjects", zap.Error(err))
		return nil, err
	}

	subjects := make([]string, 0, len(resp.Tables))
	for _, t := range resp.Tables {
		name := t.FullName()
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		subjects = append(subjects, name)
	}
	return subjects, nil
}

// ListVersions returns [1] for an existing table and an empty list otherwise.
func (r *Registry) ListVersions(ctx context.Context, subject string) ([]int, error) {
	if _, err := r.GetLatestSchema(ctx, subject); err != nil {
		if schema.IsNotFound(err) {
			return []int{}, nil
		}
		return nil, err
	}
	return []int{1}, nil
}

// DeleteVersion drops the whole table.
func (r *Registry) DeleteVersion(ctx context.Context, subject string, version int) error {
	if _, _, _, err := ParseSubject(subject); err != nil {
		return err
	}
	err := r.do(ctx, "delete table", http.MethodDelete, "/tables/"+url.PathEscape(subject), nil, nil)
	if schema.IsNotFound(err) {
		return schema.NotFoundf("table %s", subject)
	}
	return err
}

// CheckCompatibility compares content with the current table schema. A
// missing table is compatible. Failures other than a malformed subject are
// reported inside the result.
func (r *Registry) CheckCompatibility(ctx context.Context, subject, content string, format schema.Format, version int) (*schema.CompatibilityResult, error) {
	if _, _, _, err := ParseSubject(subject); err != nil {
		return nil, err
	}

	current, err := r.GetLatestSchema(ctx, subject)
	if schema.IsNotFound(err) {
		return &schema.CompatibilityResult{
			Compatible: true,
			Messages:   []string{MsgNewTable},
			Level:      r.mode,
			Errors:     []string{},
		}, nil
	}
	if err == nil {
		var result *schema.CompatibilityResult
		result, err = compat.CheckEvolutionJSON(current.Content, content, r.mode)
		if err == nil {
			if !result.Compatible {
				result.Errors = append([]string{}, result.Messages...)
			}
			if note := r.mismatchNote(subject); note != "" {
				result.Messages = append(result.Messages, note)
			}
			return result, nil
		}
	}

	r.log.Error("compatibility check failed", zap.String("subject", subject), zap.Error(err))
	return &schema.CompatibilityResult{
		Compatible: false,
		Messages:   []string{},
		Level:      schema.ModeNone,
		Errors:     []string{err.Error()},
	}, nil
}

func (r *Registry) mismatchNote(subject string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	requested, ok := r.requested[subject]
	if !ok {
		requested, ok = r.requested[""]
	}
	if !ok || requested == r.mode {
		return ""
	}
	return fmt.Sprintf("Requested compatibility mode %s is not enforced; evolution rules are evaluated as %s", requested, r.mode)
}

// GetCompatibilityMode returns the configured mode for every subject.
func (r *Registry) GetCompatibilityMode(ctx context.Context, subject string) (schema.CompatibilityMode, error) {
	return r.mode, nil
}

// SetCompatibilityMode is a no-op: the backend has no per-table policy. A
// request for a mode other than the configured one is remembered and
// flagged in later compatibility results.
func (r *Registry) SetCompatibilityMode(ctx context.Context, mode schema.CompatibilityMode, subject string) error {
	if !mode.Valid() {
		return schema.InvalidArgumentf("unknown compatibility mode %q", mode)
	}
	if mode != r.mode {
		r.log.Warn("Unity Catalog does not support setting compatibility mode",
			zap.String("subject", subject),
			zap.String("requested", mode.String()),
			zap.String("enforced", r.mode.String()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mode == r.mode {
		delete(r.requested, subject)
	} else {
		r.requested[subject] = mode
	}
	return nil
}

func (r *Registry) GetAllCompatibilityModes(ctx context.Context) (map[string]schema.CompatibilityMode, error) {
	subjects, err := r.ListSubjects(ctx, "")
	if err != nil {
		return nil, err
	}
	modes := make(map[string]schema.CompatibilityMode, len(subjects))
	for _, s := range subjects {
		modes[s] = r.mode
	}
	return modes, nil
}

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

// HealthCheck probes the catalogs endpoint.
func (r *Registry) HealthCheck(ctx context.Context) *schema.HealthStatus {
	start := time.Now()
	err := r.do(ctx, "list catalogs", http.MethodGet, "/catalogs", nil, nil)
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
		Message:        "Unity Catalog is healthy",
		ResponseTimeMS: elapsed,
		Metadata: map[string]interface{}{
			"url":           r.url,
			"catalog":       r.catalog,
			"registry_type": string(schema.RegistryUnityCatalog),
		},
	}
}

func (r *Registry) GetMetadata(ctx context.Context, subject string, version int) (map[string]interface{}, error) {
	s, err := r.GetSchema(ctx, subject, version)
	if err != nil {
		return nil, err
	}
	return s.Metadata, nil
}

// UpdateMetadata patches the table properties.
func (r *Registry) UpdateMetadata(ctx context.Context, subject string, version int, metadata map[string]interface{}) error {
	if _, _, _, err := ParseSubject(subject); err != nil {
		return err
	}
	properties := make(map[string]string, len(metadata))
	for k, v := range metadata {
		properties[k] = fmt.Sprint(v)
	}
	err := r.do(ctx, "update table properties", http.MethodPatch, "/tables/"+url.PathEscape(subject),
		map[string]interface{}{"properties": properties}, nil)
	if err != nil {
		r.log.Error("failed to update metadata", zap.String("subject", subject), zap.Error(err))
	}
	return err
}

func (r *Registry) Close() error {
	return nil
}
