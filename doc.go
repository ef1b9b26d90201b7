// Package toolstream detects and decodes tool calls embedded in a live
// LLM token stream without stalling the stream itself.
//
// # Overview
//
// Models emit tool calls three ways: a structured field alongside the
// text (native), a <tool_call> XML envelope, or a JSON object carrying
// a tool_calls array. This package watches the raw deltas, buffers the
// smallest plausible span, decodes it off the critical path, and either
// confirms the call or re-emits the original text byte for byte.
// Malformed output is never a user-facing failure: anything that does
// not decode flows on as ordinary text (fail-open).
//
// Pipeline: Delta → StreamDecoder (scan, hold back, buffer) → Pool
// (bounded workers, per-job timeout, crash isolation) → Codec
// (normalize, detect, parse, repair once, validate) → Event.
//
// # Key concepts
//
//   - Ordered gate: a native field wins outright; among textual formats
//     the codec's priority order (XML before JSON by default) breaks
//     the tie deterministically, with no cross-format fallthrough.
//   - One repair: a failed parse gets exactly one structural repair
//     attempt; repair is idempotent and never invents values.
//   - Exactly one resolution: every submitted job resolves to a single
//     ParseResult, timeout and panic included.
//
// See StreamDecoder, Pool, Codec, and SchemaRegistry for the core
// types, and NewStreamDecoder / NewPool / NewCodec for setup.
//
// # Example
//
//	schemas := toolstream.NewSchemaRegistry()
//	schemas.Register("get_weather", weatherSchema)
//	codec := toolstream.NewCodec(schemas)
//	pool := toolstream.NewPool(codec)
//	defer pool.Shutdown(ctx)
//	dec := toolstream.NewStreamDecoder(codec, pool)
//	for delta := range stream {
//	    if err := dec.Push(ctx, delta, emit); err != nil { ... }
//	}
//	if err := dec.Finish(ctx, emit); err != nil { ... }
package toolstream
