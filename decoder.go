package toolstream

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"unicode/utf8"
)

type decoderState int

const (
	stateStreaming decoderState = iota
	stateBuffering
	stateAwaiting
	stateSuspended
)

// StreamDecoder observes the live token stream, decides when a
// candidate tool-call span exists, submits it to the pool, and routes
// the outcome: a confirmed call suspends assistant text for that span;
// anything else flushes the original text unchanged. The decoder never
// blocks on a parse result during Push and never backpressures the
// token source; text arriving while a span is in flight is queued and
// replayed in original order.
//
// A StreamDecoder is single-consumer: one goroutine calls Push, Finish,
// and Resume. Abort may be called from the same goroutine between
// calls. Construct one per model turn.
type StreamDecoder struct {
	codec *Codec
	pool  *Pool
	opts  decoderOptions

	state decoderState

	// partial holds trailing bytes of an incomplete UTF-8 rune so a
	// multi-byte character split across deltas is never emitted split.
	partial []byte
	// pending is held-back text not yet classified as span or output;
	// bounded by the marker length and the JSON lookahead.
	pending []byte
	// span is the candidate tool-call span being accumulated.
	span   []byte
	pinned Format
	// spanFlush is the verbatim text to re-emit if the span fails.
	spanFlush    string
	queued       []byte
	queuedNative []NativeCall
	handle       *Handle
	jobCancel    context.CancelFunc
}

// NewStreamDecoder wires an explicit codec and pool into a decoder.
// Both are shared, long-lived instances; the decoder itself is cheap
// per-turn state.
func NewStreamDecoder(codec *Codec, pool *Pool, opts ...DecoderOption) *StreamDecoder {
	o := defaultDecoderOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &StreamDecoder{codec: codec, pool: pool, opts: o}
}

// Push feeds one token delta through the state machine, emitting zero
// or more events via yield. Push never waits for an in-flight parse
// job; it polls, and queues arriving text until the job resolves.
// ctx should be the turn context: cancelling it cancels in-flight jobs.
func (d *StreamDecoder) Push(ctx context.Context, delta Delta, yield func(Event) error) error {
	if d.state == stateAwaiting {
		if err := d.pollResult(ctx, yield); err != nil {
			return err
		}
	}
	if d.state == stateAwaiting || d.state == stateSuspended {
		// rune-gated on entry: the queue only ever holds complete runes,
		// so a failure flush can emit it directly
		d.queued = append(d.queued, d.completeRunes(delta.Text)...)
		d.queuedNative = append(d.queuedNative, delta.Native...)
		return nil
	}
	text := d.completeRunes(delta.Text)
	if len(delta.Native) > 0 {
		return d.beginNative(ctx, delta.Native, text, yield)
	}
	return d.consume(ctx, text, yield)
}

// Finish drains the decoder at end of stream. An unclosed span is
// given its one decode attempt; an unresolved job is waited for, which
// is bounded by the job budget. Held-back text, including a trailing
// partial rune, is flushed verbatim so no characters are lost.
func (d *StreamDecoder) Finish(ctx context.Context, yield func(Event) error) error {
	if d.state == stateBuffering {
		payload := string(d.span)
		d.span = nil
		d.dispatch(ctx, payload, payload, d.pinned == FormatNative)
	}
	if d.state == stateAwaiting {
		select {
		case res := <-d.handle.Done():
			if err := d.resolveSpan(ctx, res, yield); err != nil {
				return err
			}
		case <-ctx.Done():
			d.Abort()
			return ctx.Err()
		}
	}
	if d.state == stateSuspended {
		// the orchestrator owns the turn now; Resume replays the rest
		return nil
	}
	rest := string(d.pending) + string(d.partial)
	d.pending = nil
	d.partial = nil
	if rest != "" {
		return yield(TextDelta{Text: rest})
	}
	return nil
}

// Resume is called by the orchestrator once tool results have been fed
// back as a follow-up turn. It emits StreamResumed and replays text and
// native calls queued while the confirmed call was being handled.
func (d *StreamDecoder) Resume(ctx context.Context, yield func(Event) error) error {
	if d.state != stateSuspended {
		return nil
	}
	d.state = stateStreaming
	if err := yield(StreamResumed{}); err != nil {
		return err
	}
	text := string(d.queued)
	d.queued = nil
	natives := d.queuedNative
	d.queuedNative = nil
	if len(natives) > 0 {
		return d.beginNative(ctx, natives, text, yield)
	}
	if text != "" {
		return d.consume(ctx, text, yield)
	}
	return nil
}

// Abort cancels any in-flight parse job and discards the candidate
// span and queued text without emitting anything for them. Used for
// turn-level aborts; timeout is the only automatic cancellation path.
func (d *StreamDecoder) Abort() {
	if d.jobCancel != nil {
		d.jobCancel()
		d.jobCancel = nil
	}
	d.handle = nil
	d.partial = nil
	d.pending = nil
	d.span = nil
	d.spanFlush = ""
	d.queued = nil
	d.queuedNative = nil
	d.pinned = FormatNone
	d.state = stateStreaming
}

// consume routes text through the current state. A single delta can
// move the machine several times (close a span, dispatch, queue the
// remainder), so this loops until the text is fully placed.
func (d *StreamDecoder) consume(ctx context.Context, text string, yield func(Event) error) error {
	carry := text
	for {
		switch d.state {
		case stateStreaming:
			d.pending = append(d.pending, carry...)
			carry = ""
			start, format, ok := d.findSpanStart()
			if !ok {
				return d.releaseSafePending(yield)
			}
			if start > 0 {
				if err := yield(TextDelta{Text: string(d.pending[:start])}); err != nil {
					return err
				}
			}
			d.span = slices.Clone(d.pending[start:])
			d.pending = nil
			d.pinned = format
			d.state = stateBuffering

		case stateBuffering:
			d.span = append(d.span, carry...)
			carry = ""
			end, closed := d.spanEnd()
			if closed {
				payload := string(d.span[:end])
				carry = string(d.span[end:])
				d.span = nil
				d.dispatch(ctx, payload, payload, false)
				continue
			}
			if len(d.span) > d.opts.maxBufferBytes {
				// bounded memory: an unclosed span past the cap is
				// ordinary text and never reaches the pool
				flushed := string(d.span)
				d.span = nil
				d.pool.Observe(ParseResult{Kind: ResultNoMatch, Format: d.pinned})
				d.pinned = FormatNone
				d.state = stateStreaming
				if err := yield(TextDelta{Text: flushed}); err != nil {
					return err
				}
				continue
			}
			return nil

		case stateAwaiting, stateSuspended:
			d.queued = append(d.queued, carry...)
			return nil
		}
	}
}

// beginNative short-circuits text scanning: held text is released, the
// delta's own text is queued behind the call, and the structured calls
// go to the pool as a native-format job.
func (d *StreamDecoder) beginNative(ctx context.Context, natives []NativeCall, text string, yield func(Event) error) error {
	if d.state == stateBuffering {
		// the open span never resolved; fail open before the native call
		flushed := string(d.span)
		d.span = nil
		d.pinned = FormatNone
		d.state = stateStreaming
		if flushed != "" {
			if err := yield(TextDelta{Text: flushed}); err != nil {
				return err
			}
		}
	}
	if len(d.pending) > 0 {
		held := string(d.pending)
		d.pending = nil
		if err := yield(TextDelta{Text: held}); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(natives)
	if err != nil {
		// structured field failed to round-trip; treat the delta as text
		return d.consume(ctx, text, yield)
	}
	d.queued = append(d.queued, text...)
	d.dispatch(ctx, string(payload), "", true)
	return nil
}

// dispatch submits the span to the pool and enters AwaitingResult.
// flushText is what re-emerges verbatim if the span fails to confirm.
func (d *StreamDecoder) dispatch(ctx context.Context, payload, flushText string, native bool) {
	hint, _ := d.codec.DetectFormat(payload, native)
	jctx, cancel := context.WithCancel(ctx)
	d.jobCancel = cancel
	d.spanFlush = flushText
	d.pinned = hint
	d.handle = d.pool.Submit(jctx, ParseJob{Payload: payload, Hint: hint})
	d.state = stateAwaiting
}

// pollResult checks the in-flight job without blocking.
func (d *StreamDecoder) pollResult(ctx context.Context, yield func(Event) error) error {
	select {
	case res := <-d.handle.Done():
		return d.resolveSpan(ctx, res, yield)
	default:
		return nil
	}
}

// resolveSpan applies a ParseResult: success suspends assistant text
// for the span and confirms the calls; every other outcome emits the
// original span plus everything queued, verbatim, and resumes.
func (d *StreamDecoder) resolveSpan(ctx context.Context, res ParseResult, yield func(Event) error) error {
	if d.jobCancel != nil {
		d.jobCancel()
		d.jobCancel = nil
	}
	d.handle = nil
	d.pinned = FormatNone

	if res.Kind == ResultSuccess {
		d.spanFlush = ""
		d.state = stateSuspended
		return yield(ToolCallConfirmed{Calls: res.Calls})
	}

	flushed := d.spanFlush + string(d.queued)
	d.spanFlush = ""
	d.queued = nil
	natives := d.queuedNative
	d.queuedNative = nil
	d.state = stateStreaming
	if flushed != "" {
		if err := yield(TextDelta{Text: flushed}); err != nil {
			return err
		}
	}
	if err := yield(StreamResumed{}); err != nil {
		return err
	}
	if len(natives) > 0 {
		return d.beginNative(ctx, natives, "", yield)
	}
	return nil
}

// findSpanStart looks for the earliest plausible opening marker in the
// held text: an XML envelope tag, or an object literal followed by a
// tool_calls key within the lookahead.
func (d *StreamDecoder) findSpanStart() (int, Format, bool) {
	p := string(d.pending)
	xi := strings.Index(p, xmlOpenTag)
	ji := jsonEnvelopeStart(p)
	switch {
	case xi < 0 && ji < 0:
		return 0, FormatNone, false
	case ji < 0 || (xi >= 0 && xi < ji):
		return xi, FormatXML, true
	default:
		return ji, FormatJSON, true
	}
}

// releaseSafePending emits the prefix of pending that can no longer
// become a span: everything before the earliest live hold point (a
// partial XML marker at the tail, or an object literal still within
// the JSON lookahead).
func (d *StreamDecoder) releaseSafePending(yield func(Event) error) error {
	p := string(d.pending)
	hold := len(p)
	if i := markerTailStart(p); i < hold {
		hold = i
	}
	if i := braceAnchor(p, d.opts.jsonLookahead); i >= 0 && i < hold {
		hold = i
	}
	if hold == 0 {
		return nil
	}
	out := p[:hold]
	d.pending = []byte(p[hold:])
	return yield(TextDelta{Text: out})
}

// markerTailStart returns the index where a strict prefix of the XML
// opening tag begins at the tail of s, or len(s).
func markerTailStart(s string) int {
	limit := len(xmlOpenTag) - 1
	if limit > len(s) {
		limit = len(s)
	}
	for l := limit; l >= 1; l-- {
		if strings.HasPrefix(xmlOpenTag, s[len(s)-l:]) {
			return len(s) - l
		}
	}
	return len(s)
}

// braceAnchor returns the earliest '{' in s still within lookahead
// bytes of the tail, or -1. Braces further back have had their chance
// to grow a tool_calls key and are released as ordinary text.
func braceAnchor(s string, lookahead int) int {
	from := 0
	if len(s) > lookahead {
		from = len(s) - lookahead
	}
	i := strings.IndexByte(s[from:], '{')
	if i < 0 {
		return -1
	}
	return from + i
}

// spanEnd reports whether the accumulated span is structurally closed
// and where: the closing envelope tag for XML, the balanced closing
// brace for JSON (delimiters inside string literals ignored).
func (d *StreamDecoder) spanEnd() (int, bool) {
	s := string(d.span)
	switch d.pinned {
	case FormatXML:
		if i := strings.Index(s, xmlCloseTag); i >= 0 {
			return i + len(xmlCloseTag), true
		}
	case FormatJSON:
		return scanBalanced(s, 0)
	}
	return len(s), false
}

// completeRunes joins text with any held partial rune and withholds a
// new trailing partial, so emitted text never splits a multi-byte
// character.
func (d *StreamDecoder) completeRunes(text string) string {
	if len(d.partial) > 0 {
		text = string(d.partial) + text
		d.partial = nil
	}
	n := trailingPartialLen(text)
	if n > 0 {
		d.partial = []byte(text[len(text)-n:])
		text = text[:len(text)-n]
	}
	return text
}

// trailingPartialLen returns how many bytes at the tail of s begin a
// UTF-8 sequence that has not finished arriving.
func trailingPartialLen(s string) int {
	for back := 1; back <= utf8.UTFMax && back <= len(s); back++ {
		b := s[len(s)-back]
		if b < utf8.RuneSelf {
			return 0
		}
		if b&0xC0 == 0xC0 {
			// start byte: partial iff the sequence wants more bytes
			r, size := utf8.DecodeRuneInString(s[len(s)-back:])
			if r == utf8.RuneError && size == 1 && expectedRuneLen(b) > back {
				return back
			}
			return 0
		}
	}
	return 0
}

func expectedRuneLen(b byte) int {
	switch {
	case b&0xF8 == 0xF0:
		return 4
	case b&0xF0 == 0xE0:
		return 3
	case b&0xE0 == 0xC0:
		return 2
	default:
		return 1
	}
}
