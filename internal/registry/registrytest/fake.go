// Package registrytest provides an in-memory registry.Registry with error
// injection and call tracking, for tests.
package registrytest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// CompatFunc decides whether content is compatible with an existing version.
type CompatFunc func(existing *schema.Schema, content string) (*schema.CompatibilityResult, error)

// Fake is a configurable in-memory backend.
type Fake struct {
	mu sync.RWMutex

	// Storage
	Kind          schema.RegistryType
	Formats       []schema.Format
	Subjects      map[string][]schema.Schema
	GlobalMode    schema.CompatibilityMode
	SubjectModes  map[string]schema.CompatibilityMode
	Health        *schema.HealthStatus
	Compatibility CompatFunc

	// Error simulation
	ListSubjectsError  error
	ListVersionsError  error
	GetSchemaError     error
	CheckError         error
	CheckErrors        map[int]error // per version
	ModeError          error
	SetModeError       error
	SetModeErrors      map[string]error // per subject
	PanicOnHealthCheck bool

	// Call tracking
	Calls  []Call
	closed bool
}

// Call tracks a method call for verification.
type Call struct {
	Method string
	Args   []interface{}
}

var _ registry.Registry = (*Fake)(nil)

// New creates an empty fake in BACKWARD mode whose compatibility check
// accepts everything.
func New() *Fake {
	return &Fake{
		Kind:         schema.RegistryLocal,
		Formats:      []schema.Format{schema.FormatAvro, schema.FormatJSONSchema},
		Subjects:     make(map[string][]schema.Schema),
		GlobalMode:   schema.ModeBackward,
		SubjectModes: make(map[string]schema.CompatibilityMode),
		Health:       &schema.HealthStatus{Healthy: true, StatusCode: 200, Message: "ok"},
		CheckErrors:  make(map[int]error),
	}
}

// AddSubject stores the given contents as versions 1..n of subject.
func (f *Fake) AddSubject(subject string, contents ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := make([]schema.Schema, 0, len(contents))
	for i, c := range contents {
		versions = append(versions, schema.Schema{
			ID:           len(f.Subjects)*100 + i + 1,
			Subject:      subject,
			Version:      i + 1,
			Format:       schema.FormatAvro,
			Content:      c,
			RegistryType: f.Kind,
		})
	}
	f.Subjects[subject] = versions
}

// RecordCall records a method call.
func (f *Fake) RecordCall(method string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: method, Args: args})
}

// CallCount returns the number of calls to method.
func (f *Fake) CallCount(method string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, c := range f.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

func (f *Fake) Type() schema.RegistryType { return f.Kind }

func (f *Fake) SupportedFormats() []schema.Format { return f.Formats }

func (f *Fake) RegisterSchema(ctx context.Context, subject, content string, format schema.Format, metadata map[string]interface{}) (*schema.Schema, error) {
	f.RecordCall("RegisterSchema", subject, content, format)
	if !format.In(f.Formats) {
		return nil, schema.ErrUnsupportedFormat
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.Subjects[subject]
	s := schema.Schema{
		ID:           len(f.Subjects)*100 + len(versions) + 1,
		Subject:      subject,
		Version:      len(versions) + 1,
		Format:       format,
		Content:      content,
		RegistryType: f.Kind,
		Metadata:     metadata,
	}
	f.Subjects[subject] = append(versions, s)
	return &s, nil
}

func (f *Fake) GetSchemaByID(ctx context.Context, id int) (*schema.Schema, error) {
	f.RecordCall("GetSchemaByID", id)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, versions := range f.Subjects {
		for _, s := range versions {
			if s.ID == id {
				s := s
				return &s, nil
			}
		}
	}
	return nil, schema.NotFoundf("schema id %d", id)
}

func (f *Fake) GetSchema(ctx context.Context, subject string, version int) (*schema.Schema, error) {
	f.RecordCall("GetSchema", subject, version)
	if f.GetSchemaError != nil {
		return nil, f.GetSchemaError
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.Subjects[subject] {
		if s.Version == version {
			s := s
			return &s, nil
		}
	}
	return nil, schema.NotFoundf("subject %q version %d", subject, version)
}

func (f *Fake) GetLatestSchema(ctx context.Context, subject string) (*schema.Schema, error) {
	f.RecordCall("GetLatestSchema", subject)
	if f.GetSchemaError != nil {
		return nil, f.GetSchemaError
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	versions := f.Subjects[subject]
	if len(versions) == 0 {
		return nil, schema.NotFoundf("subject %q", subject)
	}
	s := versions[len(versions)-1]
	return &s, nil
}

func (f *Fake) ListSubjects(ctx context.Context, prefix string) ([]string, error) {
	f.RecordCall("ListSubjects", prefix)
	if f.ListSubjectsError != nil {
		return nil, f.ListSubjectsError
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	subjects := make([]string, 0, len(f.Subjects))
	for s := range f.Subjects {
		if strings.HasPrefix(s, prefix) {
			subjects = append(subjects, s)
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}

func (f *Fake) ListVersions(ctx context.Context, subject string) ([]int, error) {
	f.RecordCall("ListVersions", subject)
	if f.ListVersionsError != nil {
		return nil, f.ListVersionsError
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	versions, ok := f.Subjects[subject]
	if !ok {
		return nil, schema.NotFoundf("subject %q", subject)
	}
	out := make([]int, len(versions))
	for i, s := range versions {
		out[i] = s.Version
	}
	return out, nil
}

func (f *Fake) DeleteVersion(ctx context.Context, subject string, version int) error {
	f.RecordCall("DeleteVersion", subject, version)
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.Subjects[subject]
	for i, s := range versions {
		if s.Version == version {
			f.Subjects[subject] = append(versions[:i:i], versions[i+1:]...)
			return nil
		}
	}
	return schema.NotFoundf("subject %q version %d", subject, version)
}

func (f *Fake) CheckCompatibility(ctx context.Context, subject, content string, format schema.Format, version int) (*schema.CompatibilityResult, error) {
	f.RecordCall("CheckCompatibility", subject, version)
	if f.CheckError != nil {
		return nil, f.CheckError
	}
	if err, ok := f.CheckErrors[version]; ok {
		return nil, err
	}

	var existing *schema.Schema
	var err error
	if version == 0 {
		existing, err = f.GetLatestSchema(ctx, subject)
	} else {
		existing, err = f.GetSchema(ctx, subject, version)
	}
	if err != nil {
		return nil, err
	}
	if f.Compatibility != nil {
		return f.Compatibility(existing, content)
	}
	return &schema.CompatibilityResult{Compatible: true, Level: f.GlobalMode}, nil
}

func (f *Fake) GetCompatibilityMode(ctx context.Context, subject string) (schema.CompatibilityMode, error) {
	f.RecordCall("GetCompatibilityMode", subject)
	if f.ModeError != nil {
		return "", f.ModeError
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if m, ok := f.SubjectModes[subject]; ok && subject != "" {
		return m, nil
	}
	return f.GlobalMode, nil
}

func (f *Fake) SetCompatibilityMode(ctx context.Context, mode schema.CompatibilityMode, subject string) error {
	f.RecordCall("SetCompatibilityMode", mode, subject)
	if f.SetModeError != nil {
		return f.SetModeError
	}
	if err, ok := f.SetModeErrors[subject]; ok {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if subject == "" {
		f.GlobalMode = mode
	} else {
		f.SubjectModes[subject] = mode
	}
	return nil
}

func (f *Fake) GetAllCompatibilityModes(ctx context.Context) (map[string]schema.CompatibilityMode, error) {
	f.RecordCall("GetAllCompatibilityModes")
	if f.ModeError != nil {
		return nil, f.ModeError
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]schema.CompatibilityMode, len(f.SubjectModes))
	for k, v := range f.SubjectModes {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) DiscoverSchemas(ctx context.Context, namespace string, filters map[string]string) ([]*schema.Schema, error) {
	f.RecordCall("DiscoverSchemas", namespace)
	subjects, err := f.ListSubjects(ctx, namespace)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Schema, 0, len(subjects))
	for _, s := range subjects {
		latest, err := f.GetLatestSchema(ctx, s)
		if err != nil {
			continue
		}
		out = append(out, latest)
	}
	return out, nil
}

func (f *Fake) HealthCheck(ctx context.Context) *schema.HealthStatus {
	f.RecordCall("HealthCheck")
	if f.PanicOnHealthCheck {
		panic("connection reset")
	}
	return f.Health
}

func (f *Fake) GetMetadata(ctx context.Context, subject string, version int) (map[string]interface{}, error) {
	s, err := f.GetSchema(ctx, subject, version)
	if err != nil {
		return nil, err
	}
	return s.Metadata, nil
}

func (f *Fake) UpdateMetadata(ctx context.Context, subject string, version int, metadata map[string]interface{}) error {
	f.RecordCall("UpdateMetadata", subject, version)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.Subjects[subject] {
		if s.Version == version {
			f.Subjects[subject][i].Metadata = metadata
			return nil
		}
	}
	return schema.NotFoundf("subject %q version %d", subject, version)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
