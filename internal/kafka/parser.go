package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// KeyType is the keytype field of a _schemas record key.
type KeyType string

const (
	KeyTypeSchema        KeyType = "SCHEMA"
	KeyTypeConfig        KeyType = "CONFIG"
	KeyTypeMode          KeyType = "MODE"
	KeyTypeDeleteSubject KeyType = "DELETE_SUBJECT"
	KeyTypeClearSubject  KeyType = "CLEAR_SUBJECT"
	KeyTypeNoop          KeyType = "NOOP"
)

type recordKey struct {
	KeyType KeyType `json:"keytype"`
	Subject string  `json:"subject,omitempty"`
	Version int     `json:"version,omitempty"`
	Magic   int     `json:"magic,omitempty"`
}

type schemaValue struct {
	Subject    string `json:"subject"`
	Version    int    `json:"version"`
	ID         int    `json:"id"`
	Schema     string `json:"schema"`
	SchemaType string `json:"schemaType,omitempty"`
	Deleted    bool   `json:"deleted"`
}

type configValue struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

type modeValue struct {
	Mode string `json:"mode"`
}

// Event is one decoded _schemas record.
type Event struct {
	Type      KeyType
	Subject   string
	Version   int
	Offset    int64
	Partition int32
	// Tombstone marks a record with an empty value (permanent deletion).
	Tombstone bool

	// SCHEMA
	SchemaID   int
	Schema     string
	SchemaType string
	Deleted    bool

	// CONFIG
	Compatibility string

	// MODE
	Mode string
}

// IsNewVersion reports whether the event registers a live schema version.
func (e *Event) IsNewVersion() bool {
	return e.Type == KeyTypeSchema && !e.Tombstone && !e.Deleted && e.Subject != ""
}

// Format maps the Confluent schemaType onto a schema format.
func (e *Event) Format() (schema.Format, error) {
	return schema.ParseFormat(e.SchemaType)
}

// CompatibilityMode parses the level carried by a CONFIG event.
func (e *Event) CompatibilityMode() (schema.CompatibilityMode, error) {
	return schema.ParseCompatibilityMode(e.Compatibility)
}

// ParseRecord decodes a raw _schemas record. NOOP records, records without
// a key and unknown key types yield a nil event.
func ParseRecord(r Record) (*Event, error) {
	if len(r.Key) == 0 {
		return nil, nil
	}

	var k recordKey
	if err := json.Unmarshal(r.Key, &k); err != nil {
		return nil, fmt.Errorf("%w: _schemas key at offset %d: %v", schema.ErrInvalidArgument, r.Offset, err)
	}

	event := &Event{
		Type:      k.KeyType,
		Subject:   k.Subject,
		Version:   k.Version,
		Offset:    r.Offset,
		Partition: r.Partition,
	}

	switch k.KeyType {
	case KeyTypeSchema, KeyTypeConfig, KeyTypeMode, KeyTypeDeleteSubject, KeyTypeClearSubject:
	default:
		return nil, nil
	}

	if len(r.Value) == 0 {
		event.Tombstone = true
		return event, nil
	}

	switch k.KeyType {
	case KeyTypeSchema:
		var v schemaValue
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: SCHEMA value at offset %d: %v", schema.ErrInvalidArgument, r.Offset, err)
		}
		event.SchemaID = v.ID
		event.Schema = v.Schema
		event.SchemaType = v.SchemaType
		event.Deleted = v.Deleted
		if event.SchemaType == "" {
			event.SchemaType = "AVRO"
		}

	case KeyTypeConfig:
		var v configValue
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: CONFIG value at offset %d: %v", schema.ErrInvalidArgument, r.Offset, err)
		}
		event.Compatibility = v.CompatibilityLevel

	case KeyTypeMode:
		var v modeValue
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: MODE value at offset %d: %v", schema.ErrInvalidArgument, r.Offset, err)
		}
		event.Mode = v.Mode
	}
	return event, nil
}
