package compat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// MsgEvolutionCompatible is reported when no evolution rule is violated.
const MsgEvolutionCompatible = "Schema evolution is compatible"

// StructSchema is a table schema whose fields carry a stable numeric id
// independent of name and position.
type StructSchema struct {
	Type   string        `json:"type"`
	Fields []StructField `json:"fields"`
}

// StructField is one column of a StructSchema. Type is either a primitive
// name such as "long" or a nested type object.
type StructField struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Type     json.RawMessage `json:"type"`
	Required bool            `json:"required"`
	Doc      string          `json:"doc,omitempty"`
}

// TypeName renders the field type: the primitive name, or compact JSON for
// nested types.
func (f StructField) TypeName() string {
	var name string
	if err := json.Unmarshal(f.Type, &name); err == nil {
		return name
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, f.Type); err != nil {
		return string(f.Type)
	}
	return buf.String()
}

// ParseStructSchema decodes a struct schema document.
func ParseStructSchema(content string) (*StructSchema, error) {
	var s StructSchema
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return nil, schema.InvalidArgumentf("failed to parse struct schema: %v", err)
	}
	return &s, nil
}

var safePromotions = map[[2]string]bool{
	{"int", "long"}:       true,
	{"float", "double"}:   true,
	{"date", "timestamp"}: true,
}

// IsSafePromotion reports whether widening oldType to newType preserves
// readability of existing data.
func IsSafePromotion(oldType, newType string) bool {
	return safePromotions[[2]string{oldType, newType}]
}

// CheckEvolution applies field-id based evolution rules: removing a required
// field, changing a type outside the safe promotions, or making a nullable
// field required are incompatible. Added fields are always allowed. The
// check only answers whether the new schema can read data written with the
// old one, so it is backward flavoured.
func CheckEvolution(oldSchema, newSchema *StructSchema) (bool, []string) {
	oldFields := indexFields(oldSchema)
	newFields := indexFields(newSchema)
	ids := sortedIDs(oldFields)

	var messages []string
	compatible := true

	for _, id := range ids {
		old := oldFields[id]
		if _, ok := newFields[id]; !ok && old.Required {
			compatible = false
			messages = append(messages, fmt.Sprintf("Required field '%s' (id=%d) was removed", old.Name, id))
		}
	}

	for _, id := range ids {
		old := oldFields[id]
		cur, ok := newFields[id]
		if !ok {
			continue
		}
		oldType, newType := old.TypeName(), cur.TypeName()
		if oldType != newType && !IsSafePromotion(oldType, newType) {
			compatible = false
			messages = append(messages, fmt.Sprintf("Incompatible type change for field '%s': %s → %s", old.Name, oldType, newType))
		}
	}

	for _, id := range ids {
		old := oldFields[id]
		cur, ok := newFields[id]
		if ok && !old.Required && cur.Required {
			compatible = false
			messages = append(messages, fmt.Sprintf("Field '%s' changed from nullable to required", old.Name))
		}
	}

	if compatible && len(messages) == 0 {
		messages = append(messages, MsgEvolutionCompatible)
	}
	return compatible, messages
}

// CheckEvolutionJSON parses both documents and applies CheckEvolution.
func CheckEvolutionJSON(oldContent, newContent string, level schema.CompatibilityMode) (*schema.CompatibilityResult, error) {
	oldSchema, err := ParseStructSchema(oldContent)
	if err != nil {
		return nil, err
	}
	newSchema, err := ParseStructSchema(newContent)
	if err != nil {
		return nil, err
	}

	compatible, messages := CheckEvolution(oldSchema, newSchema)
	result := &schema.CompatibilityResult{
		Compatible: compatible,
		Messages:   messages,
		Level:      level,
		Errors:     []string{},
	}
	return result, nil
}

func indexFields(s *StructSchema) map[int]StructField {
	fields := make(map[int]StructField)
	if s == nil {
		return fields
	}
	for _, f := range s.Fields {
		fields[f.ID] = f
	}
	return fields
}

func sortedIDs(fields map[int]StructField) []int {
	ids := make([]int, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
