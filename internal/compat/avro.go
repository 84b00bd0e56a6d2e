package compat

import (
	"fmt"
	"sort"

	"github.com/hamba/avro/v2"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// ValidateAvro parses an Avro schema document.
func ValidateAvro(content string) error {
	if _, err := parseAvro(content); err != nil {
		return schema.InvalidArgumentf("invalid avro schema: %v", err)
	}
	return nil
}

// CheckAvro checks newContent against oldContent under the direction of
// mode. Scope is the caller's concern: this compares exactly two versions.
func CheckAvro(oldContent, newContent string, mode schema.CompatibilityMode) (*schema.CompatibilityResult, error) {
	oldSchema, err := parseAvro(oldContent)
	if err != nil {
		return nil, schema.InvalidArgumentf("parse old schema: %v", err)
	}
	newSchema, err := parseAvro(newContent)
	if err != nil {
		return nil, schema.InvalidArgumentf("parse new schema: %v", err)
	}

	result := &schema.CompatibilityResult{
		Compatible: true,
		Messages:   []string{},
		Level:      mode,
		Errors:     []string{},
	}

	var notes, violations []string
	switch mode.Direction() {
	case schema.DirectionNone:
		result.Messages = append(result.Messages, MsgModeNoneNoWork)
		return result, nil
	case schema.DirectionBackward:
		notes, violations = canRead(newSchema, oldSchema, "backward")
	case schema.DirectionForward:
		notes, violations = canRead(oldSchema, newSchema, "forward")
	case schema.DirectionFull:
		bn, bv := canRead(newSchema, oldSchema, "backward")
		fn, fv := canRead(oldSchema, newSchema, "forward")
		notes = append(bn, fn...)
		violations = append(bv, fv...)
	}

	result.Messages = append(result.Messages, violations...)
	if len(violations) > 0 {
		result.Compatible = false
		return result, nil
	}
	result.Messages = append(result.Messages, notes...)
	if len(result.Messages) == 0 {
		result.Messages = append(result.Messages, "Schemas are compatible")
	}
	return result, nil
}

// parseAvro uses a private cache so that two versions of the same named
// record never resolve against each other.
func parseAvro(content string) (avro.Schema, error) {
	return avro.ParseWithCache(content, "", &avro.SchemaCache{})
}

// canRead reports whether data written with writer can be read with reader.
// notes describe accepted changes, violations the rejected ones.
func canRead(reader, writer avro.Schema, direction string) (notes, violations []string) {
	rRec, rok := reader.(*avro.RecordSchema)
	wRec, wok := writer.(*avro.RecordSchema)
	if !rok || !wok {
		if !readable(reader, writer) {
			violations = append(violations, fmt.Sprintf("%s: type changed from %s to %s", direction, typeLabel(writer), typeLabel(reader)))
		}
		return notes, violations
	}

	writerFields := make(map[string]*avro.Field, len(wRec.Fields()))
	for _, f := range wRec.Fields() {
		writerFields[f.Name()] = f
	}
	readerFields := make(map[string]*avro.Field, len(rRec.Fields()))
	for _, f := range rRec.Fields() {
		readerFields[f.Name()] = f
	}

	for _, rf := range rRec.Fields() {
		wf, ok := writerFields[rf.Name()]
		if !ok {
			if rf.HasDefault() {
				notes = append(notes, fmt.Sprintf("%s: field '%s' added with default value", direction, rf.Name()))
			} else {
				violations = append(violations, fmt.Sprintf("%s: field '%s' is missing a default value", direction, rf.Name()))
			}
			continue
		}
		if !readable(rf.Type(), wf.Type()) {
			violations = append(violations, fmt.Sprintf("%s: field '%s' changed type from %s to %s",
				direction, rf.Name(), typeLabel(wf.Type()), typeLabel(rf.Type())))
		}
	}

	removed := make([]string, 0)
	for name := range writerFields {
		if _, ok := readerFields[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	for _, name := range removed {
		notes = append(notes, fmt.Sprintf("%s: field '%s' is ignored by the reader", direction, name))
	}

	if len(violations) == 0 {
		if err := avro.NewSchemaCompatibility().Compatible(reader, writer); err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", direction, err))
		}
	}
	return notes, violations
}

// readable applies Avro schema resolution for a single value.
func readable(reader, writer avro.Schema) bool {
	if wu, ok := writer.(*avro.UnionSchema); ok {
		for _, branch := range wu.Types() {
			if !readable(reader, branch) {
				return false
			}
		}
		return true
	}
	if ru, ok := reader.(*avro.UnionSchema); ok {
		for _, branch := range ru.Types() {
			if readable(branch, writer) {
				return true
			}
		}
		return false
	}

	rt, wt := reader.Type(), writer.Type()
	if rt == wt {
		switch rt {
		case avro.Record, avro.Enum, avro.Fixed:
			return namedFullName(reader) == namedFullName(writer)
		case avro.Array:
			return readable(reader.(*avro.ArraySchema).Items(), writer.(*avro.ArraySchema).Items())
		case avro.Map:
			return readable(reader.(*avro.MapSchema).Values(), writer.(*avro.MapSchema).Values())
		}
		return true
	}
	return promotable(wt, rt)
}

func promotable(writer, reader avro.Type) bool {
	switch writer {
	case avro.Int:
		return reader == avro.Long || reader == avro.Float || reader == avro.Double
	case avro.Long:
		return reader == avro.Float || reader == avro.Double
	case avro.Float:
		return reader == avro.Double
	case avro.String:
		return reader == avro.Bytes
	case avro.Bytes:
		return reader == avro.String
	}
	return false
}

func namedFullName(s avro.Schema) string {
	if n, ok := s.(avro.NamedSchema); ok {
		return n.FullName()
	}
	return string(s.Type())
}

func typeLabel(s avro.Schema) string {
	switch t := s.(type) {
	case *avro.UnionSchema:
		label := "["
		for i, branch := range t.Types() {
			if i > 0 {
				label += ","
			}
			label += typeLabel(branch)
		}
		return label + "]"
	case avro.NamedSchema:
		return t.FullName()
	default:
		return string(s.Type())
	}
}
