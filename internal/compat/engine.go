package compat

import (
	"fmt"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// CheckPair compares two versions of a schema in the given format.
func CheckPair(format schema.Format, oldContent, newContent string, mode schema.CompatibilityMode) (*schema.CompatibilityResult, error) {
	switch format {
	case schema.FormatAvro:
		return CheckAvro(oldContent, newContent, mode)
	case schema.FormatJSONSchema:
		return CheckJSONSchema(oldContent, newContent, mode)
	case schema.FormatIceberg:
		return CheckEvolutionJSON(oldContent, newContent, mode)
	default:
		return nil, fmt.Errorf("no compatibility engine for %s: %w", format, schema.ErrUnsupportedFormat)
	}
}

// Validate checks that content parses in the given format.
func Validate(format schema.Format, content string) error {
	switch format {
	case schema.FormatAvro:
		return ValidateAvro(content)
	case schema.FormatJSONSchema:
		return ValidateJSONSchema(content)
	case schema.FormatIceberg:
		_, err := ParseStructSchema(content)
		return err
	default:
		return fmt.Errorf("no validator for %s: %w", format, schema.ErrUnsupportedFormat)
	}
}
