package confluent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// fakeServer is a minimal in-memory Confluent REST API.
type fakeServer struct {
	mu           sync.Mutex
	subjects     map[string][]string
	globalLevel  string
	subjectLevel map[string]string
	compatible   bool
	failConfig   bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		subjects: map[string][]string{
			"orders-value":   {`"string"`, `"string"`},
			"payments-value": {`{"type":"record","name":"P","fields":[]}`},
		},
		globalLevel:  "BACKWARD",
		subjectLevel: map[string]string{"orders-value": "FULL"},
		compatible:   true,
	}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	notFound := func() {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error_code":40401,"message":"Subject not found."}`))
	}

	switch {
	case r.URL.Path == "/subjects":
		names := make([]string, 0, len(f.subjects))
		for s := range f.subjects {
			names = append(names, s)
		}
		json.NewEncoder(w).Encode(names)

	case parts[0] == "subjects" && len(parts) == 3 && r.Method == http.MethodGet:
		versions, ok := f.subjects[parts[1]]
		if !ok {
			notFound()
			return
		}
		out := make([]int, len(versions))
		for i := range versions {
			out[i] = i + 1
		}
		json.NewEncoder(w).Encode(out)

	case parts[0] == "subjects" && len(parts) == 3 && r.Method == http.MethodPost:
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.subjects[parts[1]] = append(f.subjects[parts[1]], body["schema"])
		json.NewEncoder(w).Encode(map[string]int{"id": 500 + len(f.subjects[parts[1]])})

	case parts[0] == "subjects" && len(parts) == 4:
		versions, ok := f.subjects[parts[1]]
		if !ok {
			notFound()
			return
		}
		v := len(versions)
		if parts[3] != "latest" {
			v = int(parts[3][0] - '0')
		}
		if v < 1 || v > len(versions) {
			notFound()
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"subject": parts[1],
			"version": v,
			"id":      500 + v,
			"schema":  versions[v-1],
		})

	case parts[0] == "schemas" && len(parts) == 3:
		if parts[2] != "42" {
			notFound()
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"schema": `{"type":"object"}`, "schemaType": "JSON"})

	case parts[0] == "compatibility":
		if _, ok := f.subjects[parts[2]]; !ok {
			notFound()
			return
		}
		resp := map[string]interface{}{"is_compatible": f.compatible}
		if !f.compatible {
			resp["messages"] = []string{"READER_FIELD_MISSING_DEFAULT_VALUE"}
		}
		json.NewEncoder(w).Encode(resp)

	case parts[0] == "config":
		if f.failConfig {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Method == http.MethodPut {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if len(parts) == 1 {
				f.globalLevel = body["compatibility"]
			} else {
				f.subjectLevel[parts[1]] = body["compatibility"]
			}
			json.NewEncoder(w).Encode(body)
			return
		}
		if len(parts) == 1 {
			json.NewEncoder(w).Encode(map[string]string{"compatibilityLevel": f.globalLevel})
			return
		}
		level, ok := f.subjectLevel[parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error_code":40408}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"compatibilityLevel": level})

	default:
		notFound()
	}
}

func newTestRegistry(t *testing.T, f *fakeServer) *Registry {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	reg, err := New(schema.RegistryConfig{
		ID:   "prod",
		Type: schema.RegistryConfluent,
		URL:  server.URL,
		Auth: map[string]string{"username": "u", "password": "p"},
	}.WithDefaults(), nil)
	require.NoError(t, err)
	r := reg.(*Registry)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFormatMapping(t *testing.T) {
	assert.Equal(t, "AVRO", ToSchemaType(schema.FormatAvro))
	assert.Equal(t, "PROTOBUF", ToSchemaType(schema.FormatProtobuf))
	assert.Equal(t, "JSON", ToSchemaType(schema.FormatJSONSchema))
	assert.Equal(t, schema.FormatJSONSchema, FromSchemaType("JSON"))
	assert.Equal(t, schema.FormatAvro, FromSchemaType(""))
}

func TestListSubjectsPrefix(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())

	all, err := r.ListSubjects(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	orders, err := r.ListSubjects(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-value"}, orders)
}

func TestGetSchemaAndVersions(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())
	ctx := context.Background()

	versions, err := r.ListVersions(ctx, "orders-value")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)

	latest, err := r.GetLatestSchema(ctx, "orders-value")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, schema.FormatAvro, latest.Format)
	assert.Equal(t, schema.RegistryConfluent, latest.RegistryType)

	_, err = r.GetSchema(ctx, "missing", 1)
	assert.ErrorIs(t, err, schema.ErrNotFound)

	_, err = r.ListVersions(ctx, "missing")
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestGetSchemaByID(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())

	s, err := r.GetSchemaByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, s.ID)
	assert.Equal(t, schema.FormatJSONSchema, s.Format)

	_, err = r.GetSchemaByID(context.Background(), 7)
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestRegisterSchema(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())

	s, err := r.RegisterSchema(context.Background(), "orders-value", `"string"`, schema.FormatAvro, nil)
	require.NoError(t, err)
	assert.Equal(t, 503, s.ID)
	assert.Equal(t, 3, s.Version)

	_, err = r.RegisterSchema(context.Background(), "t", "{}", schema.FormatIceberg, nil)
	assert.ErrorIs(t, err, schema.ErrUnsupportedFormat)
}

func TestCheckCompatibility(t *testing.T) {
	f := newFakeServer()
	r := newTestRegistry(t, f)
	ctx := context.Background()

	res, err := r.CheckCompatibility(ctx, "orders-value", `"string"`, schema.FormatAvro, 0)
	require.NoError(t, err)
	assert.True(t, res.Compatible)
	assert.Equal(t, schema.ModeFull, res.Level)
	assert.Empty(t, res.Errors)

	f.mu.Lock()
	f.compatible = false
	f.mu.Unlock()
	res, err = r.CheckCompatibility(ctx, "orders-value", `"int"`, schema.FormatAvro, 1)
	require.NoError(t, err)
	assert.False(t, res.Compatible)
	assert.Equal(t, []string{"READER_FIELD_MISSING_DEFAULT_VALUE"}, res.Messages)

	_, err = r.CheckCompatibility(ctx, "missing", `"int"`, schema.FormatAvro, 0)
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestCompatibilityModeFallsBackToGlobal(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())
	ctx := context.Background()

	mode, err := r.GetCompatibilityMode(ctx, "orders-value")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeFull, mode)

	mode, err = r.GetCompatibilityMode(ctx, "payments-value")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeBackward, mode)

	mode, err = r.GetCompatibilityMode(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeBackward, mode)
}

func TestSetCompatibilityMode(t *testing.T) {
	f := newFakeServer()
	r := newTestRegistry(t, f)
	ctx := context.Background()

	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeFullTransitive, "payments-value"))
	mode, err := r.GetCompatibilityMode(ctx, "payments-value")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeFullTransitive, mode)

	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeNone, ""))
	assert.Equal(t, "NONE", f.globalLevel)

	assert.ErrorIs(t, r.SetCompatibilityMode(ctx, "SIDEWAYS", ""), schema.ErrInvalidArgument)
}

func TestSetCompatibilityModeFailure(t *testing.T) {
	f := newFakeServer()
	f.failConfig = true
	r := newTestRegistry(t, f)

	err := r.SetCompatibilityMode(context.Background(), schema.ModeFull, "orders-value")
	assert.ErrorIs(t, err, schema.ErrOperationFailed)
}

func TestGetAllCompatibilityModes(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())

	ctx := context.Background()

	modes, err := r.GetAllCompatibilityModes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]schema.CompatibilityMode{"orders-value": schema.ModeFull}, modes)

	// payments-value inherits the global level until it gets its own.
	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeNone, "payments-value"))
	modes, err = r.GetAllCompatibilityModes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]schema.CompatibilityMode{
		"orders-value":   schema.ModeFull,
		"payments-value": schema.ModeNone,
	}, modes)
}

func TestDiscoverSchemas(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())

	schemas, err := r.DiscoverSchemas(context.Background(), "pay", nil)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "payments-value", schemas[0].Subject)
}

func TestHealthCheck(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())

	status := r.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, http.StatusOK, status.StatusCode)
	assert.Equal(t, "Confluent Schema Registry is healthy", status.Message)
}

func TestHealthCheckUnreachable(t *testing.T) {
	reg, err := New(schema.RegistryConfig{
		ID:         "down",
		Type:       schema.RegistryConfluent,
		URL:        "http://127.0.0.1:1",
		MaxRetries: 0,
	}.WithDefaults(), nil)
	require.NoError(t, err)

	status := reg.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, 0, status.StatusCode)
	assert.Contains(t, status.Message, "Health check failed")
	assert.Contains(t, status.Metadata, "error")
}

func TestUnreachableRegistryFailsOperation(t *testing.T) {
	reg, err := New(schema.RegistryConfig{
		ID:         "down",
		Type:       schema.RegistryConfluent,
		URL:        "http://127.0.0.1:1",
		MaxRetries: 0,
	}.WithDefaults(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = reg.ListSubjects(ctx, "")
	assert.ErrorIs(t, err, schema.ErrOperationFailed)

	_, err = reg.ListVersions(ctx, "orders-value")
	assert.ErrorIs(t, err, schema.ErrOperationFailed)

	_, err = reg.GetLatestSchema(ctx, "orders-value")
	assert.ErrorIs(t, err, schema.ErrOperationFailed)

	_, err = reg.RegisterSchema(ctx, "orders-value", `"string"`, schema.FormatAvro, nil)
	assert.ErrorIs(t, err, schema.ErrOperationFailed)

	_, err = reg.GetCompatibilityMode(ctx, "")
	assert.ErrorIs(t, err, schema.ErrOperationFailed)
}

func TestMalformedResponseFailsOperation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	t.Cleanup(server.Close)

	reg, err := New(schema.RegistryConfig{ID: "bad", Type: schema.RegistryConfluent, URL: server.URL}.WithDefaults(), nil)
	require.NoError(t, err)

	_, err = reg.ListSubjects(context.Background(), "")
	assert.ErrorIs(t, err, schema.ErrOperationFailed)
}

func TestUpdateMetadataUnsupported(t *testing.T) {
	r := newTestRegistry(t, newFakeServer())
	err := r.UpdateMetadata(context.Background(), "orders-value", 1, map[string]interface{}{"owner": "x"})
	assert.ErrorIs(t, err, schema.ErrUnsupportedOperation)
}
