package toolstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callSchema builds a call-object schema with the given required string
// properties under arguments.
func callSchema(required ...string) map[string]any {
	props := map[string]any{}
	req := make([]any, 0, len(required))
	for _, name := range required {
		props[name] = map[string]any{"type": "string"}
		req = append(req, name)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"arguments": map[string]any{
				"type":       "object",
				"properties": props,
				"required":   req,
			},
		},
		"required": []any{"name", "arguments"},
	}
}

func newTestCodec(t *testing.T, opts ...CodecOption) *Codec {
	t.Helper()
	schemas := NewSchemaRegistry()
	require.NoError(t, schemas.Register("get_weather", callSchema("city")))
	require.NoError(t, schemas.Register("search", callSchema("query")))
	return NewCodec(schemas, opts...)
}

func TestDetectFormat(t *testing.T) {
	c := newTestCodec(t)

	f, conflict := c.DetectFormat("anything at all", true)
	assert.Equal(t, FormatNative, f)
	assert.False(t, conflict)

	f, conflict = c.DetectFormat(`<tool_call>{"name":"x"}</tool_call>`, false)
	assert.Equal(t, FormatXML, f)
	assert.False(t, conflict)

	f, conflict = c.DetectFormat(`{"tool_calls":[{"name":"x"}]}`, false)
	assert.Equal(t, FormatJSON, f)
	assert.False(t, conflict)

	f, conflict = c.DetectFormat("plain assistant text", false)
	assert.Equal(t, FormatNone, f)
	assert.False(t, conflict)

	// a tool_calls key with no opening brace before it is not an envelope
	f, _ = c.DetectFormat(`the tool_calls field is documented here`, false)
	assert.Equal(t, FormatNone, f)
}

func TestDetectFormat_TieBreak(t *testing.T) {
	both := `<tool_call>{"name":"a","arguments":{}}</tool_call> {"tool_calls":[{"name":"b","arguments":{}}]}`

	c := newTestCodec(t)
	f, conflict := c.DetectFormat(both, false)
	assert.Equal(t, FormatXML, f)
	assert.True(t, conflict)

	// the tie-break order is a policy knob, not hardcoded
	c = newTestCodec(t, WithFormatPriority(FormatJSON, FormatXML))
	f, conflict = c.DetectFormat(both, false)
	assert.Equal(t, FormatJSON, f)
	assert.True(t, conflict)
}

func TestDecode_XMLSuccess(t *testing.T) {
	c := newTestCodec(t)
	res := c.Decode(ParseJob{Payload: `<tool_call>{"name":"get_weather","arguments":{"city":"חיפה"}}</tool_call>`})

	require.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, FormatXML, res.Format)
	assert.False(t, res.Conflict)
	require.Len(t, res.Calls, 1)
	call := res.Calls[0]
	assert.Equal(t, "get_weather", call.Name)
	assert.NotEmpty(t, call.ID)
	assert.False(t, call.Repaired)
	// multilingual argument content survives byte for byte
	assert.Equal(t, `{"city":"חיפה"}`, string(call.Arguments))
}

func TestDecode_JSONEnvelope(t *testing.T) {
	c := newTestCodec(t)
	res := c.Decode(ParseJob{Payload: `{"tool_calls":[{"name":"search","arguments":{"query":"go"}},{"name":"get_weather","arguments":{"city":"Haifa"}}]}`})

	require.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, FormatJSON, res.Format)
	require.Len(t, res.Calls, 2)
	assert.Equal(t, "search", res.Calls[0].Name)
	assert.Equal(t, "get_weather", res.Calls[1].Name)
	assert.JSONEq(t, `{"query":"go"}`, string(res.Calls[0].Arguments))
}

func TestDecode_EnvelopeAllOrNothing(t *testing.T) {
	c := newTestCodec(t)
	// second element fails its schema, so the whole envelope fails
	res := c.Decode(ParseJob{Payload: `{"tool_calls":[{"name":"search","arguments":{"query":"go"}},{"name":"get_weather","arguments":{}}]}`})

	assert.Equal(t, ResultSchemaInvalid, res.Kind)
	assert.Empty(t, res.Calls)
	assert.True(t, IsValidationError(res.Err))
}

func TestDecode_RepairedOnce(t *testing.T) {
	c := newTestCodec(t)
	res := c.Decode(ParseJob{Payload: `<tool_call>{"name": "search", "arguments": {"query": "llm decoding", "limit": "5",}}</tool_call>`})

	require.Equal(t, ResultSuccess, res.Kind)
	require.Len(t, res.Calls, 1)
	assert.True(t, res.Calls[0].Repaired)
	assert.JSONEq(t, `{"query": "llm decoding", "limit": "5"}`, string(res.Calls[0].Arguments))
}

func TestDecode_EnvelopeWithUnquotedIdentifiers(t *testing.T) {
	c := newTestCodec(t)
	res := c.Decode(ParseJob{Payload: `{"tool_calls":[{name: search, arguments: {query: foo}}]}`})

	require.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, FormatJSON, res.Format)
	require.Len(t, res.Calls, 1)
	assert.Equal(t, "search", res.Calls[0].Name)
	assert.True(t, res.Calls[0].Repaired)
	assert.JSONEq(t, `{"query":"foo"}`, string(res.Calls[0].Arguments))
}

func TestDecode_SchemaInvalid(t *testing.T) {
	c := newTestCodec(t)
	// syntactically valid, missing the required city argument
	res := c.Decode(ParseJob{Payload: `<tool_call>{"name":"get_weather","arguments":{}}</tool_call>`})

	assert.Equal(t, ResultSchemaInvalid, res.Kind)
	assert.Equal(t, FormatXML, res.Format)
	assert.Empty(t, res.Calls)
	require.Error(t, res.Err)
	assert.True(t, IsValidationError(res.Err))
	assert.ErrorIs(t, res.Err, ErrValidation)
}

func TestDecode_RepairFailed(t *testing.T) {
	c := newTestCodec(t)
	// repair cannot quote its way out of a colon-for-comma payload
	res := c.Decode(ParseJob{Payload: `<tool_call>{"name":"search" "arguments":{"query":"x"}}</tool_call>`})

	assert.Equal(t, ResultRepairFailed, res.Kind)
	assert.Empty(t, res.Calls)
	assert.Error(t, res.Err)
}

func TestDecode_NoCrossFormatFallthrough(t *testing.T) {
	c := newTestCodec(t)
	// the XML span is schema-invalid; the valid JSON envelope next to it
	// must not rescue the job
	payload := `<tool_call>{"name":"get_weather","arguments":{}}</tool_call>{"tool_calls":[{"name":"get_weather","arguments":{"city":"Haifa"}}]}`
	res := c.Decode(ParseJob{Payload: payload})

	assert.Equal(t, ResultSchemaInvalid, res.Kind)
	assert.Equal(t, FormatXML, res.Format)
	assert.True(t, res.Conflict)
	assert.Empty(t, res.Calls)
}

func TestDecode_RawTextOnlyTool(t *testing.T) {
	c := newTestCodec(t)
	// no schema registered for custom_op and the arguments are not even
	// valid JSON; decoding still succeeds with the payload unparsed
	res := c.Decode(ParseJob{Payload: `<tool_call>{"name":"custom_op","arguments":{broken json</tool_call>`})

	require.Equal(t, ResultSuccess, res.Kind)
	require.Len(t, res.Calls, 1)
	call := res.Calls[0]
	assert.Equal(t, "custom_op", call.Name)
	assert.Nil(t, call.Arguments)
	assert.Equal(t, `{"name":"custom_op","arguments":{broken json`, call.RawText)
}

func TestDecode_NoMatch(t *testing.T) {
	c := newTestCodec(t)
	res := c.Decode(ParseJob{Payload: "just some assistant prose"})
	assert.Equal(t, ResultNoMatch, res.Kind)
	assert.Equal(t, FormatNone, res.Format)
	assert.Empty(t, res.Calls)
	assert.NoError(t, res.Err)
}

func TestDecode_BidiStripped(t *testing.T) {
	c := newTestCodec(t)
	payload := "<tool_call>{\"name\":\"get_weather\",\"arguments\":{\"city\":\"‮חיפה‬\"}}</tool_call>"
	res := c.Decode(ParseJob{Payload: payload})

	require.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, 2, res.BidiStripped)
	require.Len(t, res.Calls, 1)
	assert.Equal(t, `{"city":"חיפה"}`, string(res.Calls[0].Arguments))
}

func TestDecode_UnterminatedXMLRepairs(t *testing.T) {
	c := newTestCodec(t)
	// stream ended before the closing tag; repair closes the structure
	res := c.Decode(ParseJob{Payload: `<tool_call>{"name":"search","arguments":{"query":"x"`})

	require.Equal(t, ResultSuccess, res.Kind)
	require.Len(t, res.Calls, 1)
	assert.True(t, res.Calls[0].Repaired)
	assert.JSONEq(t, `{"query":"x"}`, string(res.Calls[0].Arguments))
}

func TestDecode_Native(t *testing.T) {
	c := newTestCodec(t)
	natives := []NativeCall{
		{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Haifa"}`)},
		{Name: "custom_op", Arguments: json.RawMessage(`{"anything":1}`)},
	}
	payload, err := json.Marshal(natives)
	require.NoError(t, err)

	res := c.Decode(ParseJob{Payload: string(payload), Hint: FormatNative})
	require.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, FormatNative, res.Format)
	assert.False(t, res.Conflict)
	require.Len(t, res.Calls, 2)

	assert.Equal(t, "call_1", res.Calls[0].ID)
	assert.Equal(t, "get_weather", res.Calls[0].Name)
	assert.JSONEq(t, `{"city":"Haifa"}`, string(res.Calls[0].Arguments))

	// unregistered native tool is raw-text-only
	assert.Equal(t, "custom_op", res.Calls[1].Name)
	assert.NotEmpty(t, res.Calls[1].ID)
	assert.Equal(t, `{"anything":1}`, res.Calls[1].RawText)
}

func TestDecode_NativeSkipsTextScan(t *testing.T) {
	c := newTestCodec(t)
	// arguments that mention the textual markers never trigger them
	natives := []NativeCall{{Name: "search", Arguments: json.RawMessage(`{"query":"<tool_call> and tool_calls {"}`)}}
	payload, err := json.Marshal(natives)
	require.NoError(t, err)

	res := c.Decode(ParseJob{Payload: string(payload), Hint: FormatNative})
	require.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, FormatNative, res.Format)
	assert.False(t, res.Conflict)
}

func TestDecode_NativeSchemaInvalid(t *testing.T) {
	c := newTestCodec(t)
	natives := []NativeCall{{Name: "get_weather", Arguments: json.RawMessage(`{"city":7}`)}}
	payload, err := json.Marshal(natives)
	require.NoError(t, err)

	res := c.Decode(ParseJob{Payload: string(payload), Hint: FormatNative})
	assert.Equal(t, ResultSchemaInvalid, res.Kind)
	assert.True(t, IsValidationError(res.Err))
}

func TestDecode_NativeEmptyArguments(t *testing.T) {
	schemas := NewSchemaRegistry()
	require.NoError(t, schemas.Register("ping", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":      map[string]any{"type": "string"},
			"arguments": map[string]any{"type": "object"},
		},
		"required": []any{"name", "arguments"},
	}))
	c := NewCodec(schemas)

	payload, err := json.Marshal([]NativeCall{{Name: "ping"}})
	require.NoError(t, err)
	res := c.Decode(ParseJob{Payload: string(payload), Hint: FormatNative})
	require.Equal(t, ResultSuccess, res.Kind)
	assert.JSONEq(t, `{}`, string(res.Calls[0].Arguments))
}

func TestExtractHelpers(t *testing.T) {
	body := extractXMLPayload(`lead <tool_call> {"a":1} </tool_call> tail`)
	assert.Equal(t, `{"a":1}`, body)

	span, closed := extractJSONPayload(`say {"tool_calls":[{"name":"x"}]} done`)
	assert.True(t, closed)
	assert.Equal(t, `{"tool_calls":[{"name":"x"}]}`, span)

	_, closed = extractJSONPayload(`{"tool_calls":[{"name":"x"}`)
	assert.False(t, closed)
}

func TestScanBalanced(t *testing.T) {
	end, closed := scanBalanced(`{"a":{"b":"}"}}x`, 0)
	assert.True(t, closed)
	assert.Equal(t, `{"a":{"b":"}"}}`, `{"a":{"b":"}"}}x`[:end])

	_, closed = scanBalanced(`{"a":1`, 0)
	assert.False(t, closed)

	_, closed = scanBalanced(`not a brace`, 0)
	assert.False(t, closed)
}
