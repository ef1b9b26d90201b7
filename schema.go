package toolstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ArgumentSchema is a compiled structural schema for one tool's call
// payload (required fields, types). Immutable after construction.
type ArgumentSchema struct {
	raw      map[string]any
	resolved *jsonschema.Resolved
}

// Raw returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps are shared; callers must not mutate them.
func (s *ArgumentSchema) Raw() map[string]any {
	return maps.Clone(s.raw)
}

// SchemaRegistry maps tool names to compiled argument schemas. It is
// populated by the embedding application's tool registry and read by
// the codec; a decode in flight treats it as read-only. Tools absent
// from the registry are raw-text-only: decoding for them always
// succeeds and the payload is carried through unparsed, so unregistered
// or newly added tools never break the pipeline.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*ArgumentSchema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*ArgumentSchema)}
}

// Register compiles schemaMap and binds it to tool, replacing any
// previous schema for the same name. The provided map is deep-copied
// before modification (e.g. WithStrictSchema) so the caller's map is
// never mutated. Safe for concurrent use with Lookup.
func (r *SchemaRegistry) Register(tool string, schemaMap map[string]any, opts ...SchemaOption) error {
	if tool == "" {
		return fmt.Errorf("schema registration requires a tool name")
	}
	if schemaMap == nil {
		return fmt.Errorf("schema map for %q must not be nil", tool)
	}
	var o schemaOptions
	for _, opt := range opts {
		opt(&o)
	}
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("failed to deep copy schema map: %w", err)
	}
	var schemaCopy map[string]any
	if err := json.Unmarshal(data, &schemaCopy); err != nil {
		return fmt.Errorf("failed to deep copy schema map: %w", err)
	}
	if o.strict {
		applyStrictMode(schemaCopy)
	}
	stripSchemaIDs(schemaCopy)
	resolved, err := compileRawSchema(schemaCopy)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %q: %w", tool, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[tool] = &ArgumentSchema{raw: schemaCopy, resolved: resolved}
	return nil
}

// Lookup returns the compiled schema for tool, or (nil, false) when the
// tool is raw-text-only.
func (r *SchemaRegistry) Lookup(tool string) (*ArgumentSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[tool]
	return s, ok
}

// Tools returns registered tool names sorted for deterministic order.
func (r *SchemaRegistry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegisterSchemaFor generates a schema from the argument struct type T
// and registers it for tool. The generated schema describes the whole
// call object ({name, arguments}); T describes the arguments value.
func RegisterSchemaFor[T any](r *SchemaRegistry, tool string, opts ...SchemaOption) error {
	s, err := SchemaFor[T](opts...)
	if err != nil {
		return err
	}
	return r.Register(tool, callObjectSchema(s.raw), opts...)
}

// SchemaFor generates and compiles a JSON Schema for type T via
// reflection. Struct tags drive the schema: json names the property,
// description and enum tags enrich root-level properties.
func SchemaFor[T any](opts ...SchemaOption) (*ArgumentSchema, error) {
	var o schemaOptions
	for _, opt := range opts {
		opt(&o)
	}
	schemaMap, resolved, err := generateSchema[T](o.strict)
	if err != nil {
		return nil, err
	}
	return &ArgumentSchema{raw: schemaMap, resolved: resolved}, nil
}

// callObjectSchema wraps an arguments schema into the call-object shape
// the codec validates: {"name": string, "arguments": <argsSchema>}.
func callObjectSchema(argsSchema map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":      map[string]any{"type": "string"},
			"arguments": argsSchema,
		},
		"required": []any{"name", "arguments"},
	}
}

// generateSchema produces a JSON Schema map and a resolved validator
// for type T. strict sets additionalProperties: false for all objects.
func generateSchema[T any](strict bool) (map[string]any, *jsonschema.Resolved, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, nil, err
	}
	if schema == nil {
		return nil, nil, errNilSchema
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, err
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, nil, err
	}
	enrichSchemaFromStructTags(schemaMap, reflect.TypeOf(*new(T)))
	if strict {
		applyStrictMode(schemaMap)
	}
	stripSchemaIDs(schemaMap)
	resolved, err := compileRawSchema(schemaMap)
	if err != nil {
		return nil, nil, err
	}
	return schemaMap, resolved, nil
}

// enrichSchemaFromStructTags adds description and enum from struct tags
// to root-level properties. typ may be a pointer; the json tag (first
// part before comma) is used to match property keys.
func enrichSchemaFromStructTags(schemaMap map[string]any, typ reflect.Type) {
	if schemaMap == nil || typ == nil {
		return
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return
	}
	props, ok := schemaMap["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return
	}
	jsonToField := make(map[string]reflect.StructField)
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag := strings.Split(field.Tag.Get("json"), ",")[0]
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		jsonToField[jsonTag] = field
	}
	for key, val := range props {
		prop, ok := val.(map[string]any)
		if !ok {
			continue
		}
		field, ok := jsonToField[key]
		if !ok {
			continue
		}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		if enumStr := field.Tag.Get("enum"); enumStr != "" {
			parts := strings.Split(enumStr, ",")
			enum := make([]any, len(parts))
			for i, p := range parts {
				enum[i] = strings.TrimSpace(p)
			}
			prop["enum"] = enum
		}
	}
}

// walkSchema recursively visits every map node in the schema tree
// (including $defs and definitions).
func walkSchema(schemaMap map[string]any, visit func(map[string]any)) {
	if schemaMap == nil {
		return
	}
	visit(schemaMap)
	for _, val := range schemaMap {
		switch v := val.(type) {
		case map[string]any:
			walkSchema(v, visit)
		case []any:
			for _, item := range v {
				if m2, ok := item.(map[string]any); ok {
					walkSchema(m2, visit)
				}
			}
		}
	}
}

// applyStrictMode sets additionalProperties: false and requires every
// property for every object in the schema.
func applyStrictMode(schemaMap map[string]any) {
	walkSchema(schemaMap, func(n map[string]any) {
		if _, isObj := n["properties"]; isObj {
			n["additionalProperties"] = false
			if props, ok := n["properties"].(map[string]any); ok {
				keys := make([]string, 0, len(props))
				for k := range props {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				required := make([]any, len(keys))
				for i, k := range keys {
					required[i] = k
				}
				if len(required) > 0 {
					n["required"] = required
				}
			}
		}
	})
}

var errNilSchema = errors.New("schema reflection returned nil")

// compileRawSchema compiles a raw JSON Schema map into a resolved
// validator. The map is not mutated.
func compileRawSchema(schemaMap map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}

// stripSchemaIDs removes id and $id from schema so resolution does not
// depend on them.
func stripSchemaIDs(schemaMap map[string]any) {
	walkSchema(schemaMap, func(n map[string]any) {
		delete(n, "id")
		delete(n, "$id")
	})
}
