// Package local is a self-contained schema registry backend. Subjects,
// versions, ids and compatibility config live in a Store: in memory, or in
// a NATS JetStream key-value bucket when the configured URL is nats://.
package local

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// Key layout
const (
	keySchemas       = "schemas/"         // schemas/{id}
	keySubjects      = "subjects/"        // subjects/{subject}/versions/{version}
	keyGlobalConfig  = "config/global"    // global mode
	keySubjectConfig = "config/subjects/" // config/subjects/{subject}

	defaultBucket = "schemas"
)

var supportedFormats = []schema.Format{schema.FormatAvro, schema.FormatJSONSchema}

// record is the stored form of one subject version.
type record struct {
	ID        int                    `json:"id"`
	Subject   string                 `json:"subject"`
	Version   int                    `json:"version"`
	Format    schema.Format          `json:"format"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	CreatedBy string                 `json:"created_by,omitempty"`
}

func (r *record) toSchema() *schema.Schema {
	return &schema.Schema{
		ID:           r.ID,
		Subject:      r.Subject,
		Version:      r.Version,
		Format:       r.Format,
		Content:      r.Content,
		RegistryType: schema.RegistryLocal,
		Metadata:     r.Metadata,
		CreatedAt:    r.CreatedAt,
		CreatedBy:    r.CreatedBy,
	}
}

// Registry is the local backend.
type Registry struct {
	store       Store
	defaultMode schema.CompatibilityMode
	storeKind   string
	log         *zap.Logger

	// serializes read-modify-write sequences
	mu sync.Mutex
}

var _ registry.Registry = (*Registry)(nil)

// New is the registry.Constructor for schema.RegistryLocal.
//
// A nats:// URL opens the bucket named by metadata "bucket" (default
// "schemas"); any other URL, including an empty one, keeps state in memory.
// Metadata "compatibility_mode" sets the global mode used until one is
// stored (default BACKWARD).
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

	if strings.HasPrefix(cfg.URL, "nats://") {
		bucket := cfg.Metadata["bucket"]
		if bucket == "" {
			bucket = defaultBucket
		}
		store, err := DialKVStore(cfg.URL, bucket)
		if err != nil {
			return nil, schema.OperationFailed("open local store", err)
		}
		log.Info("initialized local backend", zap.String("store", "nats"), zap.String("bucket", bucket))
		return NewWithStore(store, "nats", mode, log), nil
	}

	log.Info("initialized local backend", zap.String("store", "memory"))
	return NewWithStore(NewMemoryStore(), "memory", mode, log), nil
}

// NewWithStore builds a backend over an existing store.
func NewWithStore(store Store, kind string, mode schema.CompatibilityMode, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, defaultMode: mode, storeKind: kind, log: log}
}

func (r *Registry) Type() schema.RegistryType { return schema.RegistryLocal }

func (r *Registry) SupportedFormats() []schema.Format { return supportedFormats }

// Subject names are encoded so that any subject is a valid bucket key.
func encodeSubject(subject string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(subject))
}

func decodeSubject(enc string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(enc)
	return string(b), err
}

func versionKey(subject string, version int) string {
	return fmt.Sprintf("%s%s/versions/%d", keySubjects, encodeSubject(subject), version)
}

func (r *Registry) load(ctx context.Context, key string) (*record, error) {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, err
		}
		return nil, schema.OperationFailed("read "+key, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, schema.OperationFailed("decode "+key, err)
	}
	return &rec, nil
}

func (r *Registry) save(ctx context.Context, key string, rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := r.store.Put(ctx, key, raw); err != nil {
		return schema.OperationFailed("write "+key, err)
	}
	return nil
}

func (r *Registry) versions(ctx context.Context, subject string) ([]int, error) {
	prefix := fmt.Sprintf("%s%s/versions/", keySubjects, encodeSubject(subject))
	keys, err := r.store.Keys(ctx, prefix)
	if err != nil {
		return nil, schema.OperationFailed("list versions", err)
	}
	versions := make([]int, 0, len(keys))
	for _, k := range keys {
		v, err := strconv.Atoi(strings.TrimPrefix(k, prefix))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func (r *Registry) nextID(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(ctx, keySchemas)
	if err != nil {
		return 0, schema.OperationFailed("list schema ids", err)
	}
	highest := 0
	for _, k := range keys {
		if id, err := strconv.Atoi(strings.TrimPrefix(k, keySchemas)); err == nil && id > highest {
			highest = id
		}
	}
	return highest + 1, nil
}

// existingID returns the id of identical content already stored, or 0.
func (r *Registry) existingID(ctx context.Context, content string, format schema.Format) (int, error) {
	keys, err := r.store.Keys(ctx, keySchemas)
	if err != nil {
		return 0, schema.OperationFailed("list schema ids", err)
	}
	for _, k := range keys {
		rec, err := r.load(ctx, k)
		if err != nil {
			continue
		}
		if rec.Content == content && rec.Format == format {
			return rec.ID, nil
		}
	}
	return 0, nil
}

// RegisterSchema stores content as the next version of subject after
// checking it against the subject's mode. Registering content identical to
// any existing version of the subject returns that version.
func (r *Registry) RegisterSchema(ctx context.Context, subject, content string, format schema.Format, metadata map[string]interface{}) (*schema.Schema, error) {
	if subject == "" {
		return nil, schema.InvalidArgumentf("subject is required")
	}
	if !format.In(supportedFormats) {
		return nil, fmt.Errorf("format %s not supported by local backend: %w", format, schema.ErrUnsupportedFormat)
	}
	if err := compat.Validate(format, content); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, err := r.versions(ctx, subject)
	if err != nil {
		return nil, err
	}

	if len(versions) > 0 {
		if existing, err := r.findVersion(ctx, subject, versions, content, format); err != nil || existing != nil {
			return existing, err
		}

		res, err := r.check(ctx, subject, content, format, versions, 0)
		if err != nil {
			return nil, err
		}
		if !res.Compatible {
			return nil, schema.InvalidArgumentf("schema is incompatible with subject %s under %s: %s",
				subject, res.Level, strings.Join(res.Messages, "; "))
		}
	}

	id, err := r.existingID(ctx, content, format)
	if err != nil {
		return nil, err
	}
	rec := &record{
		ID:        id,
		Subject:   subject,
		Format:    format,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if by, ok := metadata["created_by"].(string); ok {
		rec.CreatedBy = by
	}
	if len(versions) > 0 {
		rec.Version = versions[len(versions)-1] + 1
	} else {
		rec.Version = 1
	}

	if rec.ID == 0 {
		if rec.ID, err = r.nextID(ctx); err != nil {
			return nil, err
		}
		if err := r.save(ctx, keySchemas+strconv.Itoa(rec.ID), rec); err != nil {
			return nil, err
		}
	}
	if err := r.save(ctx, versionKey(subject, rec.Version), rec); err != nil {
		return nil, err
	}

	r.log.Debug("registered schema",
		zap.String("subject", subject),
		zap.Int("version", rec.Version),
		zap.Int("id", rec.ID))
	return rec.toSchema(), nil
}

// findVersion returns the version of subject holding exactly content, or
// nil when there is none.
func (r *Registry) findVersion(ctx context.Context, subject string, versions []int, content string, format schema.Format) (*schema.Schema, error) {
	for i := len(versions) - 1; i >= 0; i-- {
		rec, err := r.load(ctx, versionKey(subject, versions[i]))
		if err != nil {
			return nil, err
		}
		if rec.Content == content && rec.Format == format {
			return rec.toSchema(), nil
		}
	}
	return nil, nil
}

// GetSchemaByID returns the schema first registered under id.
func (r *Registry) GetSchemaByID(ctx context.Context, id int) (*schema.Schema, error) {
	rec, err := r.load(ctx, keySchemas+strconv.Itoa(id))
	if schema.IsNotFound(err) {
		return nil, schema.NotFoundf("schema id %d", id)
	}
	if err != nil {
		return nil, err
	}
	return rec.toSchema(), nil
}

// GetSchema returns one version of subject; version 0 is the latest.
func (r *Registry) GetSchema(ctx context.Context, subject string, version int) (*schema.Schema, error) {
	if version <= 0 {
		return r.GetLatestSchema(ctx, subject)
	}
	rec, err := r.load(ctx, versionKey(subject, version))
	if schema.IsNotFound(err) {
		return nil, schema.NotFoundf("subject %s version %d", subject, version)
	}
	if err != nil {
		return nil, err
	}
	return rec.toSchema(), nil
}

func (r *Registry) GetLatestSchema(ctx context.Context, subject string) (*schema.Schema, error) {
	versions, err := r.versions(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, schema.NotFoundf("subject %s", subject)
	}
	return r.GetSchema(ctx, subject, versions[len(versions)-1])
}

func (r *Registry) ListSubjects(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.store.Keys(ctx, keySubjects)
	if err != nil {
		return nil, schema.OperationFailed("list subjects", err)
	}

	seen := make(map[string]bool)
	subjects := make([]string, 0)
	for _, k := range keys {
		enc := strings.SplitN(strings.TrimPrefix(k, keySubjects), "/", 2)[0]
		subject, err := decodeSubject(enc)
		if err != nil || seen[subject] {
			continue
		}
		seen[subject] = true
		if prefix == "" || strings.HasPrefix(subject, prefix) {
			subjects = append(subjects, subject)
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}

func (r *Registry) ListVersions(ctx context.Context, subject string) ([]int, error) {
	versions, err := r.versions(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, schema.NotFoundf("subject %s", subject)
	}
	return versions, nil
}

// DeleteVersion removes one version of subject. The id stays resolvable.
func (r *Registry) DeleteVersion(ctx context.Context, subject string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := versionKey(subject, version)
	if _, err := r.load(ctx, key); err != nil {
		if schema.IsNotFound(err) {
			return schema.NotFoundf("subject %s version %d", subject, version)
		}
		return err
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return schema.OperationFailed("delete version", err)
	}
	return nil
}

// CheckCompatibility checks content against subject. With version 0 the
// subject's mode decides the scope: every version for transitive modes, the
// latest otherwise. An explicit version is checked on its own.
func (r *Registry) CheckCompatibility(ctx context.Context, subject, content string, format schema.Format, version int) (*schema.CompatibilityResult, error) {
	if !format.In(supportedFormats) {
		return nil, fmt.Errorf("format %s not supported by local backend: %w", format, schema.ErrUnsupportedFormat)
	}
	versions, err := r.versions(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, schema.NotFoundf("subject %s", subject)
	}
	return r.check(ctx, subject, content, format, versions, version)
}

func (r *Registry) check(ctx context.Context, subject, content string, format schema.Format, versions []int, version int) (*schema.CompatibilityResult, error) {
	mode, err := r.GetCompatibilityMode(ctx, subject)
	if err != nil {
		return nil, err
	}

	result := &schema.CompatibilityResult{
		Compatible: true,
		Messages:   []string{},
		Level:      mode,
		Errors:     []string{},
	}
	if mode == schema.ModeNone {
		return result, nil
	}

	var targets []int
	switch {
	case version > 0:
		targets = []int{version}
	case mode.Transitive():
		targets = versions
	default:
		targets = versions[len(versions)-1:]
	}

	for _, v := range targets {
		existing, err := r.load(ctx, versionKey(subject, v))
		if schema.IsNotFound(err) {
			return nil, schema.NotFoundf("subject %s version %d", subject, v)
		}
		if err != nil {
			return nil, err
		}

		if existing.Format != format {
			result.Compatible = false
			result.Messages = append(result.Messages,
				fmt.Sprintf("Version %d: schema format changed from %s to %s", v, existing.Format, format))
			continue
		}

		pair, err := compat.CheckPair(format, existing.Content, content, mode)
		if err != nil {
			return nil, err
		}
		if !pair.Compatible {
			result.Compatible = false
		}
		for _, m := range pair.Messages {
			if len(targets) > 1 {
				m = fmt.Sprintf("Version %d: %s", v, m)
			}
			result.Messages = append(result.Messages, m)
		}
	}
	return result, nil
}

type modeConfig struct {
	Compatibility schema.CompatibilityMode `json:"compatibility"`
}

func (r *Registry) readMode(ctx context.Context, key string) (schema.CompatibilityMode, bool, error) {
	raw, err := r.store.Get(ctx, key)
	if schema.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, schema.OperationFailed("read config", err)
	}
	var cfg modeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", false, schema.OperationFailed("decode config", err)
	}
	return cfg.Compatibility, true, nil
}

// GetCompatibilityMode returns the subject override, else the global mode.
func (r *Registry) GetCompatibilityMode(ctx context.Context, subject string) (schema.CompatibilityMode, error) {
	if subject != "" {
		mode, ok, err := r.readMode(ctx, keySubjectConfig+encodeSubject(subject))
		if err != nil || ok {
			return mode, err
		}
	}
	mode, ok, err := r.readMode(ctx, keyGlobalConfig)
	if err != nil {
		return "", err
	}
	if !ok {
		return r.defaultMode, nil
	}
	return mode, nil
}

func (r *Registry) SetCompatibilityMode(ctx context.Context, mode schema.CompatibilityMode, subject string) error {
	if !mode.Valid() {
		return schema.InvalidArgumentf("unknown compatibility mode %q", mode)
	}
	raw, err := json.Marshal(modeConfig{Compatibility: mode})
	if err != nil {
		return err
	}

	key := keyGlobalConfig
	if subject != "" {
		key = keySubjectConfig + encodeSubject(subject)
	}
	if err := r.store.Put(ctx, key, raw); err != nil {
		return schema.OperationFailed("set compatibility mode", err)
	}
	return nil
}

// GetAllCompatibilityModes returns the subject-level overrides.
func (r *Registry) GetAllCompatibilityModes(ctx context.Context) (map[string]schema.CompatibilityMode, error) {
	keys, err := r.store.Keys(ctx, keySubjectConfig)
	if err != nil {
		return nil, schema.OperationFailed("list config", err)
	}
	modes := make(map[string]schema.CompatibilityMode, len(keys))
	for _, k := range keys {
		subject, err := decodeSubject(strings.TrimPrefix(k, keySubjectConfig))
		if err != nil {
			continue
		}
		mode, ok, err := r.readMode(ctx, k)
		if err != nil || !ok {
			continue
		}
		modes[subject] = mode
	}
	return modes, nil
}

// DiscoverSchemas returns the latest version of every subject under
// namespace. The "format" filter keeps only schemas of that format.
func (r *Registry) DiscoverSchemas(ctx context.Context, namespace string, filters map[string]string) ([]*schema.Schema, error) {
	var want schema.Format
	if f := filters["format"]; f != "" {
		parsed, err := schema.ParseFormat(f)
		if err != nil {
			return nil, err
		}
		want = parsed
	}

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
		if want != "" && s.Format != want {
			continue
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// HealthCheck probes the store.
func (r *Registry) HealthCheck(ctx context.Context) *schema.HealthStatus {
	start := time.Now()
	_, err := r.store.Keys(ctx, keyGlobalConfig)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		return &schema.HealthStatus{
			Healthy:        false,
			Message:        fmt.Sprintf("Health check failed: %v", err),
			ResponseTimeMS: elapsed,
			Metadata:       map[string]interface{}{"store": r.storeKind, "error": err.Error()},
		}
	}
	return &schema.HealthStatus{
		Healthy:        true,
		StatusCode:     http.StatusOK,
		Message:        "Local schema registry is healthy",
		ResponseTimeMS: elapsed,
		Metadata: map[string]interface{}{
			"store":         r.storeKind,
			"registry_type": string(schema.RegistryLocal),
		},
	}
}

func (r *Registry) GetMetadata(ctx context.Context, subject string, version int) (map[string]interface{}, error) {
	s, err := r.GetSchema(ctx, subject, version)
	if err != nil {
		return nil, err
	}
	if s.Metadata == nil {
		return map[string]interface{}{}, nil
	}
	return s.Metadata, nil
}

// UpdateMetadata merges metadata into the stored version.
func (r *Registry) UpdateMetadata(ctx context.Context, subject string, version int, metadata map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version <= 0 {
		versions, err := r.versions(ctx, subject)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return schema.NotFoundf("subject %s", subject)
		}
		version = versions[len(versions)-1]
	}

	key := versionKey(subject, version)
	rec, err := r.load(ctx, key)
	if schema.IsNotFound(err) {
		return schema.NotFoundf("subject %s version %d", subject, version)
	}
	if err != nil {
		return err
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
	return r.save(ctx, key, rec)
}

func (r *Registry) Close() error {
	return r.store.Close()
}
