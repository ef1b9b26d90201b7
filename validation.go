package toolstream

// schemaValidator validates a JSON-like value (e.g. map[string]any from
// json.Unmarshal). *jsonschema.Resolved implements it.
type schemaValidator interface {
	Validate(v any) error
}

// validateAgainstSchema checks an already-parsed call object against
// the tool's compiled schema. Callers unmarshal the payload and pass
// the result; structural parse errors are reported by the caller.
func validateAgainstSchema(schema *ArgumentSchema, tool string, v any) error {
	if err := schema.resolved.Validate(v); err != nil {
		return &ValidationError{Tool: tool, Reason: err.Error(), Err: ErrValidation}
	}
	return nil
}
