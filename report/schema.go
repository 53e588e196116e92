package report

import (
	_ "embed"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schema.json
var schemaJSON []byte

var documentSchema = mustCompileSchema(schemaJSON)

func mustCompileSchema(data []byte) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		panic(fmt.Sprintf("report: compile embedded schema: %v", err))
	}
	return schema
}

// ValidateDocument checks raw bytes against the session results schema.
// Malformed files are rejected here, before any of their content is
// hashed, queued or sent anywhere.
func ValidateDocument(data []byte) error {
	result := documentSchema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
