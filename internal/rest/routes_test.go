package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/metrics"
	"github.com/kamir/global-schema-registry/internal/orchestrator"
	"github.com/kamir/global-schema-registry/internal/plugins"
	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

const (
	ordersV1 = `{"type":"record","name":"Order","fields":[{"name":"id","type":"int"},{"name":"user","type":"string"}]}`
	ordersV2 = `{"type":"record","name":"Order","fields":[{"name":"id","type":"int"},{"name":"user","type":"string"},{"name":"email","type":"string","default":""}]}`
	ordersV3 = `{"type":"record","name":"Order","fields":[{"name":"id","type":"string"},{"name":"user","type":"string"}]}`
)

func newTestServer(t *testing.T) (*orchestrator.Orchestrator, http.Handler) {
	t.Helper()

	p := registry.NewPlugins(nil)
	require.NoError(t, plugins.RegisterBuiltins(p))
	o := orchestrator.New(p)
	t.Cleanup(func() { o.Shutdown() })

	for _, id := range []string{"reg1", "reg2"} {
		_, err := o.AddRegistry(schema.RegistryConfig{ID: id, Type: schema.RegistryLocal, Enabled: true})
		require.NoError(t, err)
	}

	m := metrics.New("test", false)
	s := NewServer(o, WithMetricsHandler(m.Handler()))
	return o, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func register(t *testing.T, h http.Handler, registryID, subject, content string) {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/registries/"+registryID+"/subjects/"+subject+"/versions",
		RegisterRequest{SchemaContent: content, SchemaFormat: "avro"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRoot(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), APIVersion)
}

func TestListRegistries(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/api/v1/registries", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var infos []orchestrator.RegistryInfo
	decode(t, w, &infos)
	require.Len(t, infos, 2)
	assert.Equal(t, "reg1", infos[0].ID)
	assert.Equal(t, schema.RegistryLocal, infos[0].Type)
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/registries/reg1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status schema.HealthStatus
	decode(t, w, &status)
	assert.True(t, status.Healthy)

	w = do(t, h, http.MethodGet, "/api/v1/health/all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all map[string]schema.HealthStatus
	decode(t, w, &all)
	assert.Len(t, all, 2)

	w = do(t, h, http.MethodGet, "/api/v1/registries/ghost/health", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, http.StatusNotFound, errResp.ErrorCode)
}

func TestSchemaLifecycle(t *testing.T) {
	_, h := newTestServer(t)
	register(t, h, "reg1", "orders-value", ordersV1)
	register(t, h, "reg1", "orders-value", ordersV2)

	w := do(t, h, http.MethodGet, "/api/v1/registries/reg1/subjects?prefix=orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subjects struct {
		Subjects []string `json:"subjects"`
	}
	decode(t, w, &subjects)
	assert.Equal(t, []string{"orders-value"}, subjects.Subjects)

	w = do(t, h, http.MethodGet, "/api/v1/registries/reg1/subjects/orders-value/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"versions":[1,2]`)

	w = do(t, h, http.MethodGet, "/api/v1/registries/reg1/subjects/orders-value/versions/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest schema.Schema
	decode(t, w, &latest)
	assert.Equal(t, 2, latest.Version)

	w = do(t, h, http.MethodGet, "/api/v1/registries/reg1/subjects/orders-value/versions/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/registries/reg1/subjects/orders-value/versions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/registries/reg1/subjects/missing/versions/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// incompatible registration is rejected as a caller error
	w = do(t, h, http.MethodPost, "/api/v1/registries/reg1/subjects/orders-value/versions",
		RegisterRequest{SchemaContent: ordersV3, SchemaFormat: "avro"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFindSchema(t *testing.T) {
	_, h := newTestServer(t)
	register(t, h, "reg2", "orders-value", ordersV1)

	w := do(t, h, http.MethodGet, "/api/v1/schemas/find?subject=orders-value", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found map[string]schema.Schema
	decode(t, w, &found)
	require.Len(t, found, 1)
	assert.Equal(t, 1, found["reg2"].Version)

	w = do(t, h, http.MethodGet, "/api/v1/schemas/find", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckCompatibility(t *testing.T) {
	_, h := newTestServer(t)
	register(t, h, "reg1", "orders-value", ordersV1)

	w := do(t, h, http.MethodPost, "/api/v1/registries/reg1/compatibility/check", CompatibilityCheckRequest{
		Subject: "orders-value", SchemaContent: ordersV2, SchemaFormat: "AVRO",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result schema.CompatibilityResult
	decode(t, w, &result)
	assert.True(t, result.Compatible)
	assert.Contains(t, w.Body.String(), "added with default value")

	w = do(t, h, http.MethodPost, "/api/v1/registries/reg1/compatibility/check", CompatibilityCheckRequest{
		Subject: "orders-value", SchemaContent: ordersV3, SchemaFormat: "avro",
	})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.False(t, result.Compatible)

	w = do(t, h, http.MethodPost, "/api/v1/registries/reg1/compatibility/check", CompatibilityCheckRequest{
		Subject: "orders-value", SchemaContent: ordersV2, SchemaFormat: "cobol",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/registries/reg1/compatibility/check", map[string]string{"subject": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompatibilityMode(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/registries/reg1/compatibility/mode", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"BACKWARD","subject":"global"}`, w.Body.String())

	w = do(t, h, http.MethodPut, "/api/v1/registries/reg1/compatibility/mode",
		SetCompatibilityRequest{Mode: "full_transitive", Subject: "orders-value"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = do(t, h, http.MethodGet, "/api/v1/registries/reg1/compatibility/mode?subject=orders-value", nil)
	assert.JSONEq(t, `{"mode":"FULL_TRANSITIVE","subject":"orders-value"}`, w.Body.String())

	w = do(t, h, http.MethodPut, "/api/v1/registries/reg1/compatibility/mode", SetCompatibilityRequest{Mode: "SIDEWAYS"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/compatibility/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var overview map[string]orchestrator.Outcome[orchestrator.ModeOverview]
	decode(t, w, &overview)
	require.Contains(t, overview, "reg1")
	assert.Equal(t, orchestrator.StatusSuccess, overview["reg1"].Status)
	assert.Equal(t, schema.ModeFullTransitive, overview["reg1"].Data.Subjects["orders-value"])
}

func TestTransitions(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/compatibility/transitions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var table []compat.Transition
	decode(t, w, &table)
	assert.Len(t, table, 49)

	w = do(t, h, http.MethodGet, "/api/v1/compatibility/transitions?from=BACKWARD&to=FORWARD", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tr compat.Transition
	decode(t, w, &tr)
	assert.Equal(t, compat.RiskDangerous, tr.Risk)

	w = do(t, h, http.MethodGet, "/api/v1/compatibility/transitions?from=BACKWARD&to=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkEndpoints(t *testing.T) {
	_, h := newTestServer(t)
	register(t, h, "reg1", "orders-value", ordersV1)
	register(t, h, "reg1", "orders-value", ordersV2)
	register(t, h, "reg2", "users-value", ordersV1)

	w := do(t, h, http.MethodPost, "/api/v1/bulk/check-compatibility",
		BulkCheckRequest{RegistryIDs: []string{"reg1", "reg2"}, TargetMode: "backward"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		TotalChecked int     `json:"total_checked"`
		Compatible   int     `json:"compatible_count"`
		Duration     float64 `json:"duration_seconds"`
	}
	decode(t, w, &result)
	assert.Equal(t, 2, result.TotalChecked)
	assert.Equal(t, 2, result.Compatible)

	w = do(t, h, http.MethodPost, "/api/v1/bulk/check-compatibility", BulkCheckRequest{TargetMode: "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/bulk/set-compatibility",
		BulkSetRequest{RegistryIDs: []string{"reg1"}, Mode: "FULL", SubjectFilter: "orders"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reg1":{"orders-value":"success"}}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gsr_bulk_checks_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{schema.NotFoundf("subject x"), http.StatusNotFound},
		{schema.InvalidArgumentf("bad"), http.StatusBadRequest},
		{schema.ErrUnsupportedFormat, http.StatusBadRequest},
		{schema.ErrUnsupportedOperation, http.StatusNotImplemented},
		{schema.OperationFailed("get", errors.New("boom")), http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
