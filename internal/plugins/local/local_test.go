package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/schema"
)

const (
	ordersV1 = `{"type":"record","name":"Order","fields":[
		{"name":"id","type":"int"},
		{"name":"user","type":"string"}]}`
	ordersV2Email = `{"type":"record","name":"Order","fields":[
		{"name":"id","type":"int"},
		{"name":"user","type":"string"},
		{"name":"email","type":"string","default":""}]}`
	ordersV2StringID = `{"type":"record","name":"Order","fields":[
		{"name":"id","type":"string"},
		{"name":"user","type":"string"}]}`
	ordersV3Phone = `{"type":"record","name":"Order","fields":[
		{"name":"id","type":"int"},
		{"name":"user","type":"string"},
		{"name":"email","type":"string","default":""},
		{"name":"phone","type":["null","string"],"default":null}]}`
)

func newMemoryRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(schema.RegistryConfig{ID: "reg1", Type: schema.RegistryLocal}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg.(*Registry)
}

func TestRegisterAssignsVersionsAndIDs(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	v1, err := r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 1, v1.ID)
	assert.Equal(t, schema.RegistryLocal, v1.RegistryType)

	again, err := r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)
	assert.Equal(t, v1.Version, again.Version)

	v2, err := r.RegisterSchema(ctx, "orders-value", ordersV2Email, schema.FormatAvro, map[string]interface{}{"created_by": "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, 2, v2.ID)
	assert.Equal(t, "alice", v2.CreatedBy)

	// an older version is matched too, not only the latest
	old, err := r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version)
	assert.Equal(t, 1, old.ID)

	// identical content under another subject shares the id
	other, err := r.RegisterSchema(ctx, "orders-copy", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, other.ID)

	byID, err := r.GetSchemaByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "orders-value", byID.Subject)

	_, err = r.GetSchemaByID(ctx, 99)
	assert.ErrorIs(t, err, schema.ErrNotFound)

	versions, err := r.ListVersions(ctx, "orders-value")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)

	subjects, err := r.ListSubjects(ctx, "orders-v")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-value"}, subjects)
}

func TestRegisterRejects(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterSchema(ctx, "t", "{}", schema.FormatProtobuf, nil)
	assert.ErrorIs(t, err, schema.ErrUnsupportedFormat)

	_, err = r.RegisterSchema(ctx, "t", `{"type":"nope"}`, schema.FormatAvro, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidArgument)

	_, err = r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)
	_, err = r.RegisterSchema(ctx, "orders-value", ordersV2StringID, schema.FormatAvro, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "incompatible")

	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeNone, "orders-value"))
	v2, err := r.RegisterSchema(ctx, "orders-value", ordersV2StringID, schema.FormatAvro, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
}

func TestDefaultBackedAdditionIsCompatible(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)
	_, err = r.RegisterSchema(ctx, "orders-value", ordersV2Email, schema.FormatAvro, nil)
	require.NoError(t, err)

	res, err := r.CheckCompatibility(ctx, "orders-value", ordersV2Email, schema.FormatAvro, 1)
	require.NoError(t, err)
	assert.True(t, res.Compatible)
	assert.Equal(t, schema.ModeBackward, res.Level)
	require.NotEmpty(t, res.Messages)
	assert.Contains(t, res.Messages[0], "default")
}

func TestTypeChangeIsIncompatibleUnderEveryMode(t *testing.T) {
	for _, mode := range schema.Modes {
		if mode == schema.ModeNone {
			continue
		}
		t.Run(mode.String(), func(t *testing.T) {
			r := newMemoryRegistry(t)
			ctx := context.Background()

			_, err := r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
			require.NoError(t, err)
			require.NoError(t, r.SetCompatibilityMode(ctx, mode, ""))

			res, err := r.CheckCompatibility(ctx, "orders-value", ordersV2StringID, schema.FormatAvro, 0)
			require.NoError(t, err)
			assert.False(t, res.Compatible)
			assert.Equal(t, mode, res.Level)
			joined := ""
			for _, m := range res.Messages {
				joined += m + "\n"
			}
			assert.Contains(t, joined, "id")
		})
	}
}

func TestTransitiveScope(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	// v1 has no email; v2 adds it with a default; v3 drops the default.
	noDefault := `{"type":"record","name":"Order","fields":[
		{"name":"id","type":"int"},
		{"name":"user","type":"string"},
		{"name":"email","type":"string"}]}`

	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeNone, "s"))
	for _, c := range []string{ordersV1, ordersV2Email} {
		_, err := r.RegisterSchema(ctx, "s", c, schema.FormatAvro, nil)
		require.NoError(t, err)
	}

	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeBackward, "s"))
	res, err := r.CheckCompatibility(ctx, "s", noDefault, schema.FormatAvro, 0)
	require.NoError(t, err)
	assert.True(t, res.Compatible, res.Messages)

	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeBackwardTransitive, "s"))
	res, err = r.CheckCompatibility(ctx, "s", noDefault, schema.FormatAvro, 0)
	require.NoError(t, err)
	assert.False(t, res.Compatible)
	assert.Contains(t, res.Messages[0], "Version 1:")
}

func TestTransitiveCheckerOverLocalBackend(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	for _, c := range []string{ordersV1, ordersV2Email, ordersV3Phone} {
		_, err := r.RegisterSchema(ctx, "orders-value", c, schema.FormatAvro, nil)
		require.NoError(t, err)
	}

	checker := &compat.Checker{WalkAllVersions: true}
	res, err := checker.CheckSubject(ctx, r, "orders-value", schema.ModeBackwardTransitive)
	require.NoError(t, err)
	assert.True(t, res.Compatible)
}

func TestCompatibilityModes(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	mode, err := r.GetCompatibilityMode(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeBackward, mode)

	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeFull, ""))
	require.NoError(t, r.SetCompatibilityMode(ctx, schema.ModeForwardTransitive, "payments value/v1"))

	mode, err = r.GetCompatibilityMode(ctx, "orders-value")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeFull, mode)

	mode, err = r.GetCompatibilityMode(ctx, "payments value/v1")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeForwardTransitive, mode)

	all, err := r.GetAllCompatibilityModes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]schema.CompatibilityMode{"payments value/v1": schema.ModeForwardTransitive}, all)

	assert.ErrorIs(t, r.SetCompatibilityMode(ctx, "SIDEWAYS", ""), schema.ErrInvalidArgument)
}

func TestConfiguredDefaultMode(t *testing.T) {
	reg, err := New(schema.RegistryConfig{Metadata: map[string]string{"compatibility_mode": "full_transitive"}}, nil)
	require.NoError(t, err)
	mode, err := reg.GetCompatibilityMode(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, schema.ModeFullTransitive, mode)

	_, err = New(schema.RegistryConfig{Metadata: map[string]string{"compatibility_mode": "SIDEWAYS"}}, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidArgument)
}

func TestDeleteVersion(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)
	_, err = r.RegisterSchema(ctx, "orders-value", ordersV2Email, schema.FormatAvro, nil)
	require.NoError(t, err)

	require.NoError(t, r.DeleteVersion(ctx, "orders-value", 2))
	assert.ErrorIs(t, r.DeleteVersion(ctx, "orders-value", 2), schema.ErrNotFound)

	latest, err := r.GetLatestSchema(ctx, "orders-value")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	// the id survives the version
	_, err = r.GetSchemaByID(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, r.DeleteVersion(ctx, "orders-value", 1))
	_, err = r.ListVersions(ctx, "orders-value")
	assert.ErrorIs(t, err, schema.ErrNotFound)
	_, err = r.CheckCompatibility(ctx, "orders-value", ordersV1, schema.FormatAvro, 0)
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestJSONSchemaSubjects(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	v1 := `{"type":"object","properties":{"id":{"type":"integer"}}}`
	v2 := `{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"}},"required":["name"]}`

	_, err := r.RegisterSchema(ctx, "customers", v1, schema.FormatJSONSchema, nil)
	require.NoError(t, err)

	res, err := r.CheckCompatibility(ctx, "customers", v2, schema.FormatJSONSchema, 0)
	require.NoError(t, err)
	assert.False(t, res.Compatible)

	res, err = r.CheckCompatibility(ctx, "customers", ordersV1, schema.FormatAvro, 0)
	require.NoError(t, err)
	assert.False(t, res.Compatible)
	assert.Contains(t, res.Messages[0], "schema format changed")

	_, err = r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, nil)
	require.NoError(t, err)

	found, err := r.DiscoverSchemas(ctx, "", map[string]string{"format": "json"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "customers", found[0].Subject)
}

func TestMetadata(t *testing.T) {
	r := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterSchema(ctx, "orders-value", ordersV1, schema.FormatAvro, map[string]interface{}{"owner": "sales"})
	require.NoError(t, err)

	require.NoError(t, r.UpdateMetadata(ctx, "orders-value", 0, map[string]interface{}{"tier": "gold"}))
	md, err := r.GetMetadata(ctx, "orders-value", 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"owner": "sales", "tier": "gold"}, md)

	assert.ErrorIs(t, r.UpdateMetadata(ctx, "missing", 1, nil), schema.ErrNotFound)
}

func TestHealthCheck(t *testing.T) {
	r := newMemoryRegistry(t)
	status := r.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "memory", status.Metadata["store"])
}
