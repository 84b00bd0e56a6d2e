package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/schema"
	"github.com/kamir/global-schema-registry/internal/transport"
)

const contentType = "application/vnd.schemaregistry.v1+json"

// SchemaRegistryClient is the client for a Confluent-compatible Schema Registry
type SchemaRegistryClient struct {
	http    *transport.Client
	Context string // Schema context (empty for the default context ".")
}

// Options configures a SchemaRegistryClient
type Options struct {
	URL       string
	Username  string
	Password  string
	Transport transport.Config
	Logger    *zap.Logger
	Context   string
}

// Schema represents a schema in the registry
type Schema struct {
	Subject    string            `json:"subject,omitempty"`
	Version    int               `json:"version,omitempty"`
	ID         int               `json:"id,omitempty"`
	SchemaType string            `json:"schemaType,omitempty"`
	Schema     string            `json:"schema"`
	References []SchemaReference `json:"references,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
}

// SchemaReference represents a reference to another schema
type SchemaReference struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

// Config represents compatibility configuration
type Config struct {
	CompatibilityLevel string `json:"compatibilityLevel,omitempty"`
	Compatibility      string `json:"compatibility,omitempty"`
}

// Level returns whichever of the two spellings the server populated.
func (c *Config) Level() string {
	if c.CompatibilityLevel != "" {
		return c.CompatibilityLevel
	}
	return c.Compatibility
}

// CompatibilityResponse is the verbose compatibility check result
type CompatibilityResponse struct {
	IsCompatible bool     `json:"is_compatible"`
	Messages     []string `json:"messages,omitempty"`
}

// NewClient creates a new Schema Registry client
func NewClient(opts Options) (*SchemaRegistryClient, error) {
	cfg := opts.Transport
	cfg.BaseURL = opts.URL
	cfg.Username = opts.Username
	cfg.Password = opts.Password
	cfg.ContentType = contentType
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	cfg.Headers["Confluent-Accept-Unknown-Properties"] = "true"

	httpClient, err := transport.New(cfg, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &SchemaRegistryClient{http: httpClient, Context: opts.Context}, nil
}

// BaseURL returns the registry base URL without a trailing slash
func (c *SchemaRegistryClient) BaseURL() string {
	return c.http.BaseURL
}

// WithContext returns a copy of the client bound to a schema context
func (c *SchemaRegistryClient) WithContext(name string) *SchemaRegistryClient {
	newClient := *c
	newClient.Context = name
	return &newClient
}

// buildPath prefixes the path with the schema context when one is set
func (c *SchemaRegistryClient) buildPath(path string) string {
	if c.Context != "" && c.Context != "." {
		return fmt.Sprintf("/contexts/%s%s", url.PathEscape(c.Context), path)
	}
	return path
}

func (c *SchemaRegistryClient) get(ctx context.Context, op, path string, out interface{}) error {
	respBody, statusCode, err := c.http.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return schema.OperationFailed("failed to "+op, err)
	}
	if statusCode != http.StatusOK {
		return transport.StatusError("failed to "+op, respBody, statusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return schema.OperationFailed("failed to parse "+op+" response", err)
	}
	return nil
}

// GetSubjects returns all subjects, optionally including soft-deleted ones
func (c *SchemaRegistryClient) GetSubjects(ctx context.Context, includeDeleted bool) ([]string, error) {
	path := c.buildPath("/subjects")
	if includeDeleted {
		path += "?deleted=true"
	}

	var subjects []string
	if err := c.get(ctx, "get subjects", path, &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

// GetVersions returns all versions for a subject
func (c *SchemaRegistryClient) GetVersions(ctx context.Context, subject string) ([]int, error) {
	path := c.buildPath(fmt.Sprintf("/subjects/%s/versions", url.PathEscape(subject)))

	var versions []int
	if err := c.get(ctx, "get versions", path, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// GetSchema returns a schema for a subject at a version ("latest" or a number)
func (c *SchemaRegistryClient) GetSchema(ctx context.Context, subject string, version string) (*Schema, error) {
	path := c.buildPath(fmt.Sprintf("/subjects/%s/versions/%s", url.PathEscape(subject), version))

	var sch Schema
	if err := c.get(ctx, "get schema", path, &sch); err != nil {
		return nil, err
	}
	return &sch, nil
}

// GetSchemaByID returns a schema by its global ID
func (c *SchemaRegistryClient) GetSchemaByID(ctx context.Context, id int) (*Schema, error) {
	var sch Schema
	if err := c.get(ctx, "get schema by ID", fmt.Sprintf("/schemas/ids/%d", id), &sch); err != nil {
		return nil, err
	}
	sch.ID = id
	return &sch, nil
}

func schemaBody(sch *Schema) map[string]interface{} {
	reqBody := map[string]interface{}{
		"schema": sch.Schema,
	}
	if sch.SchemaType != "" && sch.SchemaType != "AVRO" {
		reqBody["schemaType"] = sch.SchemaType
	}
	if len(sch.References) > 0 {
		reqBody["references"] = sch.References
	}
	return reqBody
}

// RegisterSchema registers a new schema under a subject and returns its ID
func (c *SchemaRegistryClient) RegisterSchema(ctx context.Context, subject string, sch *Schema) (int, error) {
	path := c.buildPath(fmt.Sprintf("/subjects/%s/versions", url.PathEscape(subject)))

	respBody, statusCode, err := c.http.Do(ctx, http.MethodPost, path, schemaBody(sch))
	if err != nil {
		return 0, schema.OperationFailed("failed to register schema", err)
	}
	if statusCode != http.StatusOK {
		return 0, transport.StatusError("failed to register schema", respBody, statusCode)
	}

	var result struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, schema.OperationFailed("failed to parse register response", err)
	}
	return result.ID, nil
}

// DeleteVersion deletes a specific version (soft delete unless permanent)
func (c *SchemaRegistryClient) DeleteVersion(ctx context.Context, subject string, version int, permanent bool) (int, error) {
	path := c.buildPath(fmt.Sprintf("/subjects/%s/versions/%d", url.PathEscape(subject), version))
	if permanent {
		path += "?permanent=true"
	}

	respBody, statusCode, err := c.http.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return 0, schema.OperationFailed("failed to delete version", err)
	}
	if statusCode != http.StatusOK {
		return 0, transport.StatusError("failed to delete version", respBody, statusCode)
	}

	var deletedVersion int
	if err := json.Unmarshal(respBody, &deletedVersion); err != nil {
		return 0, schema.OperationFailed("failed to parse delete response", err)
	}
	return deletedVersion, nil
}

// GetConfig returns the global compatibility configuration
func (c *SchemaRegistryClient) GetConfig(ctx context.Context) (*Config, error) {
	var config Config
	if err := c.get(ctx, "get config", c.buildPath("/config"), &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetSubjectConfig returns the compatibility configuration for a subject.
// A subject without its own config yields (nil, nil).
func (c *SchemaRegistryClient) GetSubjectConfig(ctx context.Context, subject string) (*Config, error) {
	path := c.buildPath(fmt.Sprintf("/config/%s", url.PathEscape(subject)))

	respBody, statusCode, err := c.http.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, schema.OperationFailed("failed to get subject config", err)
	}
	if statusCode == http.StatusNotFound {
		return nil, nil
	}
	if statusCode != http.StatusOK {
		return nil, transport.StatusError("failed to get subject config", respBody, statusCode)
	}

	var config Config
	if err := json.Unmarshal(respBody, &config); err != nil {
		return nil, schema.OperationFailed("failed to parse config response", err)
	}
	return &config, nil
}

func (c *SchemaRegistryClient) putConfig(ctx context.Context, op, path, compatibility string) error {
	reqBody := map[string]string{"compatibility": compatibility}

	respBody, statusCode, err := c.http.Do(ctx, http.MethodPut, path, reqBody)
	if err != nil {
		return schema.OperationFailed("failed to "+op, err)
	}
	if statusCode != http.StatusOK {
		return transport.StatusError("failed to "+op, respBody, statusCode)
	}
	return nil
}

// SetConfig sets the global compatibility level
func (c *SchemaRegistryClient) SetConfig(ctx context.Context, compatibility string) error {
	return c.putConfig(ctx, "set config", c.buildPath("/config"), compatibility)
}

// SetSubjectConfig sets the compatibility level for a subject
func (c *SchemaRegistryClient) SetSubjectConfig(ctx context.Context, subject string, compatibility string) error {
	path := c.buildPath(fmt.Sprintf("/config/%s", url.PathEscape(subject)))
	return c.putConfig(ctx, "set subject config", path, compatibility)
}

// CheckCompatibility checks a schema against a version ("latest" or a number)
// and returns the verbose result.
func (c *SchemaRegistryClient) CheckCompatibility(ctx context.Context, subject string, sch *Schema, version string) (*CompatibilityResponse, error) {
	path := c.buildPath(fmt.Sprintf("/compatibility/subjects/%s/versions/%s?verbose=true", url.PathEscape(subject), version))

	respBody, statusCode, err := c.http.Do(ctx, http.MethodPost, path, schemaBody(sch))
	if err != nil {
		return nil, schema.OperationFailed("failed to check compatibility", err)
	}
	if statusCode != http.StatusOK {
		return nil, transport.StatusError("failed to check compatibility", respBody, statusCode)
	}

	var result CompatibilityResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, schema.OperationFailed("failed to parse compatibility response", err)
	}
	return &result, nil
}

// GetSchemaTypes returns the schema types the server supports
func (c *SchemaRegistryClient) GetSchemaTypes(ctx context.Context) ([]string, error) {
	var types []string
	if err := c.get(ctx, "get schema types", "/schemas/types", &types); err != nil {
		return nil, err
	}
	return types, nil
}

// VersionString renders a version number for a URL path; 0 means latest.
func VersionString(version int) string {
	if version <= 0 {
		return "latest"
	}
	return strconv.Itoa(version)
}
