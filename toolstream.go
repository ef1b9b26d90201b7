package toolstream

import (
	"encoding/json"
	"time"
)

// Format identifies the surface form a tool call was expressed in.
// Exactly one format is accepted per buffered span; the ordered gate
// in Codec.DetectFormat resolves ambiguity once, never per attempt.
type Format int

const (
	// FormatNone means the buffer is ordinary assistant text.
	FormatNone Format = iota
	// FormatNative is a structured tool-call field supplied by the
	// inference API itself; it bypasses text scanning entirely.
	FormatNative
	// FormatXML is the <tool_call>...</tool_call> text envelope.
	FormatXML
	// FormatJSON is an inline JSON object carrying a tool_calls array.
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatNative:
		return "native"
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	default:
		return "none"
	}
}

// Delta is one token-delta event from the model-inference client.
// Text carries the raw streamed characters; Native carries structured
// tool calls when the API delivers them outside the text channel.
type Delta struct {
	Text   string
	Native []NativeCall
}

// NativeCall is a tool call delivered via the inference API's own
// structured field.
type NativeCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodedToolCall is a confirmed tool call handed to the tool-execution
// orchestrator. For raw-text-only tools (no registered schema) Arguments
// is nil and RawText carries the payload verbatim.
type DecodedToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	RawText   string
	Format    Format
	Repaired  bool
}

// ParseJob is one unit of decode work. Immutable once submitted; the
// pool owns it for its lifetime and each job owns its own payload copy.
type ParseJob struct {
	ID      string
	Payload string
	Hint    Format
	Budget  time.Duration
}

// ResultKind is the terminal outcome of a ParseJob. Every job resolves
// to exactly one kind, timeout and crash included.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultNoMatch
	ResultSchemaInvalid
	ResultRepairFailed
	ResultTimeout
	ResultCrash
	ResultCancelled
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultNoMatch:
		return "no_match"
	case ResultSchemaInvalid:
		return "schema_invalid"
	case ResultRepairFailed:
		return "repair_failed"
	case ResultTimeout:
		return "timeout"
	case ResultCrash:
		return "crash"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseResult is the single outcome of one ParseJob; never partial.
// Conflict and BidiStripped are observability signals, informational
// only, and never affect resolution.
type ParseResult struct {
	Kind         ResultKind
	Format       Format
	Calls        []DecodedToolCall
	Err          error
	Conflict     bool
	BidiStripped int
}

// Event is the sealed set of downstream events a StreamDecoder emits to
// the surrounding orchestration loop. Switch exhaustively over
// TextDelta, ToolCallConfirmed, and StreamResumed.
type Event interface{ isEvent() }

// TextDelta is assistant text emitted in original generation order.
type TextDelta struct {
	Text string
}

// ToolCallConfirmed carries decoded calls for the orchestrator to run.
// Assistant text for the confirmed span stays suspended; the decoder
// waits in a suspended state until Resume is called.
type ToolCallConfirmed struct {
	Calls []DecodedToolCall
}

// StreamResumed signals that normal text streaming has resumed after a
// span resolved, whether confirmed or flushed.
type StreamResumed struct{}

func (TextDelta) isEvent()         {}
func (ToolCallConfirmed) isEvent() {}
func (StreamResumed) isEvent()     {}
