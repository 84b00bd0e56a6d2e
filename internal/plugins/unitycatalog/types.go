package unitycatalog

import (
	"encoding/json"
	"strings"

	"github.com/kamir/global-schema-registry/internal/compat"
)

// Column is a Unity Catalog table column.
type Column struct {
	Name     string `json:"name"`
	TypeText string `json:"type_text"`
	TypeName string `json:"type_name"`
	Position int    `json:"position"`
	Nullable bool   `json:"nullable"`
	Comment  string `json:"comment,omitempty"`
}

// TableInfo is the subset of the tables API response the backend reads.
type TableInfo struct {
	Name             string            `json:"name"`
	CatalogName      string            `json:"catalog_name"`
	SchemaName       string            `json:"schema_name"`
	TableID          string            `json:"table_id,omitempty"`
	TableType        string            `json:"table_type,omitempty"`
	DataSourceFormat string            `json:"data_source_format,omitempty"`
	StorageLocation  string            `json:"storage_location,omitempty"`
	CreatedAt        int64             `json:"created_at,omitempty"`
	Columns          []Column          `json:"columns,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// FullName is catalog.schema.table.
func (t TableInfo) FullName() string {
	return t.CatalogName + "." + t.SchemaName + "." + t.Name
}

var icebergToUC = map[string]string{
	"boolean":   "BOOLEAN",
	"int":       "INT",
	"long":      "BIGINT",
	"float":     "FLOAT",
	"double":    "DOUBLE",
	"string":    "STRING",
	"binary":    "BINARY",
	"date":      "DATE",
	"timestamp": "TIMESTAMP",
}

var ucTypeNames = map[string]string{
	"BIGINT": "LONG",
}

var ucToIceberg = map[string]string{
	"BOOLEAN":   "boolean",
	"INT":       "int",
	"LONG":      "long",
	"BIGINT":    "long",
	"FLOAT":     "float",
	"DOUBLE":    "double",
	"STRING":    "string",
	"BINARY":    "binary",
	"DATE":      "date",
	"TIMESTAMP": "timestamp",
}

// TypeText maps an Iceberg field type to its Unity Catalog type text.
// Nested struct, list and map types map to STRUCT, ARRAY and MAP; anything
// unknown is STRING.
func TypeText(raw json.RawMessage) string {
	var primitive string
	if err := json.Unmarshal(raw, &primitive); err == nil {
		if t, ok := icebergToUC[primitive]; ok {
			return t
		}
		return "STRING"
	}

	var nested struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		switch nested.Type {
		case "struct":
			return "STRUCT"
		case "list":
			return "ARRAY"
		case "map":
			return "MAP"
		}
	}
	return "STRING"
}

// TypeName maps an Iceberg field type to the Unity Catalog type-name enum.
func TypeName(raw json.RawMessage) string {
	text := TypeText(raw)
	if name, ok := ucTypeNames[text]; ok {
		return name
	}
	return text
}

// IcebergType maps a Unity Catalog type name back to an Iceberg primitive.
func IcebergType(ucType string) string {
	if t, ok := ucToIceberg[strings.ToUpper(ucType)]; ok {
		return t
	}
	return "string"
}

// ToColumns converts a struct schema into table columns.
func ToColumns(s *compat.StructSchema) []Column {
	columns := make([]Column, 0, len(s.Fields))
	for _, f := range s.Fields {
		columns = append(columns, Column{
			Name:     f.Name,
			TypeText: TypeText(f.Type),
			TypeName: TypeName(f.Type),
			Position: f.ID,
			Nullable: !f.Required,
			Comment:  f.Doc,
		})
	}
	return columns
}

// FromColumns converts table columns into a struct schema. A column without
// a position takes its 1-based index as field id.
func FromColumns(columns []Column) *compat.StructSchema {
	s := &compat.StructSchema{Type: "struct", Fields: make([]compat.StructField, 0, len(columns))}
	for i, c := range columns {
		id := c.Position
		if id == 0 {
			id = i + 1
		}
		typ, _ := json.Marshal(IcebergType(c.TypeName))
		s.Fields = append(s.Fields, compat.StructField{
			ID:       id,
			Name:     c.Name,
			Type:     typ,
			Required: !c.Nullable,
			Doc:      c.Comment,
		})
	}
	return s
}
