package compat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// ValidateJSONSchema compiles a JSON Schema document.
func ValidateJSONSchema(content string) error {
	if _, err := jsonschema.CompileString("schema.json", content); err != nil {
		return schema.InvalidArgumentf("invalid json schema: %v", err)
	}
	return nil
}

type jsonObject struct {
	Properties           map[string]jsonProperty `json:"properties"`
	Required             []string                `json:"required"`
	AdditionalProperties *bool                   `json:"additionalProperties"`
}

type jsonProperty struct {
	Type json.RawMessage `json:"type"`
}

func (p jsonProperty) typeName() string {
	var single string
	if err := json.Unmarshal(p.Type, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(p.Type, &many); err == nil {
		sort.Strings(many)
		return strings.Join(many, "|")
	}
	return ""
}

// CheckJSONSchema compares the top-level object properties of two JSON
// Schema documents under the direction of mode.
func CheckJSONSchema(oldContent, newContent string, mode schema.CompatibilityMode) (*schema.CompatibilityResult, error) {
	if err := ValidateJSONSchema(oldContent); err != nil {
		return nil, err
	}
	if err := ValidateJSONSchema(newContent); err != nil {
		return nil, err
	}

	var oldObj, newObj jsonObject
	if err := json.Unmarshal([]byte(oldContent), &oldObj); err != nil {
		return nil, schema.InvalidArgumentf("decode old schema: %v", err)
	}
	if err := json.Unmarshal([]byte(newContent), &newObj); err != nil {
		return nil, schema.InvalidArgumentf("decode new schema: %v", err)
	}

	result := &schema.CompatibilityResult{
		Compatible: true,
		Messages:   []string{},
		Level:      mode,
		Errors:     []string{},
	}

	var violations []string
	switch mode.Direction() {
	case schema.DirectionNone:
		result.Messages = append(result.Messages, MsgModeNoneNoWork)
		return result, nil
	case schema.DirectionBackward:
		violations = validatesAgainst(newObj, oldObj, "backward")
	case schema.DirectionForward:
		violations = validatesAgainst(oldObj, newObj, "forward")
	case schema.DirectionFull:
		violations = append(validatesAgainst(newObj, oldObj, "backward"), validatesAgainst(oldObj, newObj, "forward")...)
	}

	if len(violations) > 0 {
		result.Compatible = false
		result.Messages = violations
		return result, nil
	}
	result.Messages = append(result.Messages, "Schemas are compatible")
	return result, nil
}

// validatesAgainst reports why documents valid under writer might be
// rejected by reader.
func validatesAgainst(reader, writer jsonObject, direction string) []string {
	var violations []string

	writerRequired := make(map[string]bool, len(writer.Required))
	for _, r := range writer.Required {
		writerRequired[r] = true
	}
	for _, r := range reader.Required {
		if !writerRequired[r] {
			violations = append(violations, fmt.Sprintf("%s: property '%s' is required but may be absent", direction, r))
		}
	}

	names := make([]string, 0, len(writer.Properties))
	for name := range writer.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	closed := reader.AdditionalProperties != nil && !*reader.AdditionalProperties
	for _, name := range names {
		wp := writer.Properties[name]
		rp, ok := reader.Properties[name]
		if !ok {
			if closed {
				violations = append(violations, fmt.Sprintf("%s: property '%s' is not allowed", direction, name))
			}
			continue
		}
		wt, rt := wp.typeName(), rp.typeName()
		if wt != "" && rt != "" && wt != rt && !(wt == "integer" && rt == "number") {
			violations = append(violations, fmt.Sprintf("%s: property '%s' changed type from %s to %s", direction, name, wt, rt))
		}
	}
	return violations
}
