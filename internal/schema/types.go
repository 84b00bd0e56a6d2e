package schema

import (
	"fmt"
	"strings"
)

// Format identifies the schema language of a Schema's content.
type Format string

const (
	FormatAvro       Format = "avro"
	FormatProtobuf   Format = "protobuf"
	FormatJSONSchema Format = "json_schema"
	FormatIceberg    Format = "iceberg"
	FormatParquet    Format = "parquet"
	FormatOpenAPI    Format = "openapi"
	FormatAsyncAPI   Format = "asyncapi"
	FormatSQLDDL     Format = "sql_ddl"
)

var formats = []Format{
	FormatAvro, FormatProtobuf, FormatJSONSchema, FormatIceberg,
	FormatParquet, FormatOpenAPI, FormatAsyncAPI, FormatSQLDDL,
}

// ParseFormat accepts the canonical lower-case names as well as the
// Confluent schemaType spellings (AVRO, PROTOBUF, JSON).
func ParseFormat(s string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return FormatAvro, nil
	case "json":
		return FormatJSONSchema, nil
	}
	for _, f := range formats {
		if string(f) == v {
			return f, nil
		}
	}
	return "", fmt.Errorf("format %q: %w", s, ErrUnsupportedFormat)
}

// In reports whether f is one of the given formats.
func (f Format) In(set []Format) bool {
	for _, s := range set {
		if s == f {
			return true
		}
	}
	return false
}

// RegistryType is the backend-type tag used to select a plugin.
type RegistryType string

const (
	RegistryConfluent      RegistryType = "confluent"
	RegistryUnityCatalog   RegistryType = "unity_catalog"
	RegistryLocal          RegistryType = "local"
	RegistryAWSGlue        RegistryType = "aws_glue"
	RegistryAzurePurview   RegistryType = "azure_purview"
	RegistryApicurio       RegistryType = "apicurio"
	RegistryKarapace       RegistryType = "karapace"
	RegistryPulsar         RegistryType = "pulsar"
	RegistryRedpanda       RegistryType = "redpanda"
	RegistrySnowflake      RegistryType = "snowflake"
	RegistryGCPDataCatalog RegistryType = "gcp_data_catalog"
)
