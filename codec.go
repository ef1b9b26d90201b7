package toolstream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Markers for the two textual envelopes.
const (
	xmlOpenTag   = "<tool_call>"
	xmlCloseTag  = "</tool_call>"
	jsonCallsKey = "tool_calls"
)

// Codec is the pure decode/normalize/repair/validate logic for one
// buffered payload. It holds no mutable state and is safe to invoke
// from any worker; each job owns a copy of its input.
type Codec struct {
	schemas  *SchemaRegistry
	priority []Format
}

// NewCodec creates a Codec bound to a schema registry. A nil registry
// is treated as empty, making every tool raw-text-only.
func NewCodec(schemas *SchemaRegistry, opts ...CodecOption) *Codec {
	o := codecOptions{priority: []Format{FormatXML, FormatJSON}}
	for _, opt := range opts {
		opt(&o)
	}
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &Codec{schemas: schemas, priority: o.priority}
}

// DetectFormat implements the ordered gate over a buffer: the native
// flag wins outright and skips text scanning; otherwise the textual
// detectors run in the configured priority order. When more than one
// textual format matches the same buffer, the first by priority is
// selected and the conflict is reported (informational only).
func (c *Codec) DetectFormat(buffer string, native bool) (Format, bool) {
	if native {
		return FormatNative, false
	}
	selected := FormatNone
	hits := 0
	for _, f := range c.priority {
		var found bool
		switch f {
		case FormatXML:
			found = strings.Contains(buffer, xmlOpenTag)
		case FormatJSON:
			found = jsonEnvelopeStart(buffer) >= 0
		}
		if found {
			hits++
			if selected == FormatNone {
				selected = f
			}
		}
	}
	return selected, hits > 1
}

// Decode resolves one ParseJob to exactly one ParseResult. Ambiguity is
// resolved once at detection time: a confidently detected but invalid
// format never falls through to another format. Repair is applied at
// most once.
func (c *Codec) Decode(job ParseJob) ParseResult {
	if job.Hint == FormatNative {
		return c.decodeNative(job.Payload)
	}
	payload := NormalizeUnicode(job.Payload)
	payload, stripped := StripBidiControls(payload)
	format, conflict := c.DetectFormat(payload, false)

	var res ParseResult
	switch format {
	case FormatNone:
		res = ParseResult{Kind: ResultNoMatch, Format: FormatNone}
	case FormatXML:
		body := extractXMLPayload(payload)
		res = c.decodeBody(body, FormatXML)
	case FormatJSON:
		body, _ := extractJSONPayload(payload)
		res = c.decodeBody(body, FormatJSON)
	}
	res.Conflict = conflict
	res.BidiStripped = stripped
	return res
}

// decodeBody runs the decode algorithm for a textual payload: parse and
// validate; on failure repair exactly once and try again. A payload the
// repair pass leaves untouched failed for schema reasons, not syntax.
func (c *Codec) decodeBody(body string, format Format) ParseResult {
	calls, err := c.parseAndValidate(body, format)
	if err == nil {
		return ParseResult{Kind: ResultSuccess, Format: format, Calls: calls}
	}
	repaired := Repair(body)
	if repaired == body {
		if IsValidationError(err) {
			return ParseResult{Kind: ResultSchemaInvalid, Format: format, Err: err}
		}
		return ParseResult{Kind: ResultRepairFailed, Format: format, Err: err}
	}
	calls, err = c.parseAndValidate(repaired, format)
	if err != nil {
		return ParseResult{Kind: ResultRepairFailed, Format: format, Err: err}
	}
	for i := range calls {
		calls[i].Repaired = true
	}
	return ParseResult{Kind: ResultSuccess, Format: format, Calls: calls}
}

// parseAndValidate extracts calls from body for the selected format.
// Returned errors are either structural (plain, repair may help) or a
// *ValidationError (schema failure, repair cannot help).
func (c *Codec) parseAndValidate(body string, format Format) ([]DecodedToolCall, error) {
	switch format {
	case FormatJSON:
		return c.parseEnvelope(body)
	default:
		return c.parseCallObject(body, format)
	}
}

// parseEnvelope decodes a {"tool_calls": [...]} object into one call
// per array element. The whole envelope resolves as a unit: any
// failing element fails the job.
func (c *Codec) parseEnvelope(body string) ([]DecodedToolCall, error) {
	arr := gjson.Get(body, jsonCallsKey)
	if !arr.Exists() || !arr.IsArray() {
		return nil, fmt.Errorf("payload has no tool_calls array: %w", ErrMalformed)
	}
	var out []DecodedToolCall
	for _, elem := range arr.Array() {
		calls, err := c.parseCallObject(elem.Raw, FormatJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, calls...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tool_calls array is empty: %w", ErrMalformed)
	}
	return out, nil
}

// parseCallObject decodes a single {"name": ..., "arguments": ...}
// object. The name is extracted best-effort before any validity check
// so that raw-text-only tools succeed even on malformed payloads.
func (c *Codec) parseCallObject(objJSON string, format Format) ([]DecodedToolCall, error) {
	name := gjson.Get(objJSON, "name").String()
	if name == "" {
		name = gjson.Get(objJSON, "function.name").String()
	}
	if name == "" {
		return nil, fmt.Errorf("tool call has no name: %w", ErrMalformed)
	}
	schema, ok := c.schemas.Lookup(name)
	if !ok {
		// raw-text-only: no structural parsing, payload passes through
		return []DecodedToolCall{{
			ID:      uuid.NewString(),
			Name:    name,
			RawText: objJSON,
			Format:  format,
		}}, nil
	}
	if !gjson.Valid(objJSON) {
		return nil, fmt.Errorf("tool call for %q is not valid JSON: %w", name, ErrMalformed)
	}
	var v any
	if err := json.Unmarshal([]byte(objJSON), &v); err != nil {
		return nil, fmt.Errorf("tool call for %q: %w", name, err)
	}
	if err := validateAgainstSchema(schema, name, v); err != nil {
		return nil, err
	}
	args := gjson.Get(objJSON, "arguments")
	if !args.Exists() {
		args = gjson.Get(objJSON, "function.arguments")
	}
	argsRaw := args.Raw
	if argsRaw == "" {
		argsRaw = "{}"
	}
	return []DecodedToolCall{{
		ID:        uuid.NewString(),
		Name:      name,
		Arguments: json.RawMessage(argsRaw),
		Format:    format,
	}}, nil
}

// decodeNative decodes the API-supplied structured calls. Arguments are
// already structured; a malformed arguments fragment still gets the one
// repair attempt so the pooled path treats all formats uniformly.
func (c *Codec) decodeNative(payload string) ParseResult {
	var natives []NativeCall
	if err := json.Unmarshal([]byte(payload), &natives); err != nil {
		return ParseResult{Kind: ResultNoMatch, Format: FormatNative, Err: err}
	}
	if len(natives) == 0 {
		return ParseResult{Kind: ResultNoMatch, Format: FormatNative}
	}
	calls := make([]DecodedToolCall, 0, len(natives))
	for _, nc := range natives {
		id := nc.ID
		if id == "" {
			id = uuid.NewString()
		}
		schema, ok := c.schemas.Lookup(nc.Name)
		if !ok {
			calls = append(calls, DecodedToolCall{
				ID:      id,
				Name:    nc.Name,
				RawText: string(nc.Arguments),
				Format:  FormatNative,
			})
			continue
		}
		argsRaw := string(nc.Arguments)
		if argsRaw == "" {
			argsRaw = "{}"
		}
		repaired := false
		var argsVal any
		if err := json.Unmarshal([]byte(argsRaw), &argsVal); err != nil {
			fixed := Repair(argsRaw)
			if fixed == argsRaw {
				return ParseResult{Kind: ResultRepairFailed, Format: FormatNative, Err: err}
			}
			if err := json.Unmarshal([]byte(fixed), &argsVal); err != nil {
				return ParseResult{Kind: ResultRepairFailed, Format: FormatNative, Err: err}
			}
			argsRaw = fixed
			repaired = true
		}
		callObj := map[string]any{"name": nc.Name, "arguments": argsVal}
		if err := validateAgainstSchema(schema, nc.Name, callObj); err != nil {
			return ParseResult{Kind: ResultSchemaInvalid, Format: FormatNative, Err: err}
		}
		calls = append(calls, DecodedToolCall{
			ID:        id,
			Name:      nc.Name,
			Arguments: json.RawMessage(argsRaw),
			Format:    FormatNative,
			Repaired:  repaired,
		})
	}
	return ParseResult{Kind: ResultSuccess, Format: FormatNative, Calls: calls}
}

// jsonEnvelopeStart returns the index of the object literal opening a
// plausible tool_calls envelope, or -1. The object must open before the
// key appears in the same buffer.
func jsonEnvelopeStart(buffer string) int {
	k := strings.Index(buffer, jsonCallsKey)
	if k < 0 {
		return -1
	}
	return strings.LastIndex(buffer[:k], "{")
}

// extractXMLPayload returns the body between the envelope tags. An
// unterminated envelope (stream ended early) yields everything after
// the opening tag so repair gets its one chance.
func extractXMLPayload(buffer string) string {
	start := strings.Index(buffer, xmlOpenTag)
	if start < 0 {
		return buffer
	}
	rest := buffer[start+len(xmlOpenTag):]
	if end := strings.Index(rest, xmlCloseTag); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// extractJSONPayload returns the brace-balanced slice opening the
// envelope, ignoring delimiters inside string literals, and whether the
// slice closed within the buffer.
func extractJSONPayload(buffer string) (string, bool) {
	start := jsonEnvelopeStart(buffer)
	if start < 0 {
		return buffer, false
	}
	end, closed := scanBalanced(buffer, start)
	if closed {
		return buffer[start:end], true
	}
	return buffer[start:], false
}

// scanBalanced walks text from an opening brace/bracket at start and
// returns the index one past its matching closer. String literals are
// skipped, escapes included. Returns (len(text), false) when the
// structure does not close within text.
func scanBalanced(text string, start int) (int, bool) {
	if start >= len(text) || (text[start] != '{' && text[start] != '[') {
		return len(text), false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return len(text), false
}
