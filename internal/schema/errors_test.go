package schema

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationFailedWrapsBoth(t *testing.T) {
	err := OperationFailed("list subjects", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "list subjects")
}

func TestNotFoundf(t *testing.T) {
	err := NotFoundf("subject %q", "orders-value")
	assert.True(t, IsNotFound(err))
	assert.False(t, errors.Is(err, ErrOperationFailed))
	assert.Equal(t, `subject "orders-value": not found`, err.Error())
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"AVRO":        FormatAvro,
		"JSON":        FormatJSONSchema,
		"json_schema": FormatJSONSchema,
		"Iceberg":     FormatIceberg,
		"":            FormatAvro,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("thrift")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRegistryConfigDefaults(t *testing.T) {
	cfg := RegistryConfig{ID: "a", MaxRetries: -1}.WithDefaults()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
}
