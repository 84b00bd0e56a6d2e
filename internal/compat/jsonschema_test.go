package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamir/global-schema-registry/internal/schema"
)

const personV1 = `{
  "type": "object",
  "properties": {
    "id": {"type": "integer"},
    "name": {"type": "string"}
  },
  "required": ["id"]
}`

func TestJSONSchemaOptionalAddition(t *testing.T) {
	v2 := `{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"},"email":{"type":"string"}},"required":["id"]}`

	res, err := CheckJSONSchema(personV1, v2, schema.ModeFull)
	require.NoError(t, err)
	assert.True(t, res.Compatible)
}

func TestJSONSchemaNewRequired(t *testing.T) {
	v2 := `{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"}},"required":["id","name"]}`

	res, err := CheckJSONSchema(personV1, v2, schema.ModeBackward)
	require.NoError(t, err)
	assert.False(t, res.Compatible)
	assert.Equal(t, []string{"backward: property 'name' is required but may be absent"}, res.Messages)

	res, err = CheckJSONSchema(personV1, v2, schema.ModeForward)
	require.NoError(t, err)
	assert.True(t, res.Compatible)
}

func TestJSONSchemaTypeChange(t *testing.T) {
	widened := `{"type":"object","properties":{"id":{"type":"number"},"name":{"type":"string"}},"required":["id"]}`
	res, err := CheckJSONSchema(personV1, widened, schema.ModeBackward)
	require.NoError(t, err)
	assert.True(t, res.Compatible)

	changed := `{"type":"object","properties":{"id":{"type":"string"},"name":{"type":"string"}},"required":["id"]}`
	res, err = CheckJSONSchema(personV1, changed, schema.ModeBackward)
	require.NoError(t, err)
	assert.False(t, res.Compatible)
	assert.Contains(t, res.Messages[0], "property 'id' changed type from integer to string")
}

func TestJSONSchemaClosedContent(t *testing.T) {
	closed := `{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"],"additionalProperties":false}`
	res, err := CheckJSONSchema(personV1, closed, schema.ModeBackward)
	require.NoError(t, err)
	assert.False(t, res.Compatible)
	assert.Equal(t, []string{"backward: property 'name' is not allowed"}, res.Messages)
}

func TestJSONSchemaInvalid(t *testing.T) {
	_, err := CheckJSONSchema(personV1, `{"type": `, schema.ModeBackward)
	assert.ErrorIs(t, err, schema.ErrInvalidArgument)
}
