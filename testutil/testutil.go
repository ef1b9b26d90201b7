// Package testutil provides test helpers for toolstream (delta
// chunking, event capture, pre-wired pools).
package testutil

import (
	"github.com/skosovsky/toolstream"
)

// Deltas splits text into stream deltas of at most size bytes each,
// simulating how a model server chunks its output. Chunk boundaries are
// byte boundaries on purpose: multi-byte characters may be split across
// deltas, which is exactly what real streams do.
func Deltas(text string, size int) []toolstream.Delta {
	if size <= 0 {
		size = 1
	}
	var out []toolstream.Delta
	for len(text) > 0 {
		n := size
		if n > len(text) {
			n = len(text)
		}
		out = append(out, toolstream.Delta{Text: text[:n]})
		text = text[n:]
	}
	return out
}

// EventSink collects decoder events for assertions.
type EventSink struct {
	Events []toolstream.Event
}

// Yield appends an event; pass it as the decoder's yield callback.
func (s *EventSink) Yield(ev toolstream.Event) error {
	s.Events = append(s.Events, ev)
	return nil
}

// Text concatenates all TextDelta payloads in emission order.
func (s *EventSink) Text() string {
	var b []byte
	for _, ev := range s.Events {
		if td, ok := ev.(toolstream.TextDelta); ok {
			b = append(b, td.Text...)
		}
	}
	return string(b)
}

// Confirmed returns all confirmed calls in emission order.
func (s *EventSink) Confirmed() []toolstream.DecodedToolCall {
	var out []toolstream.DecodedToolCall
	for _, ev := range s.Events {
		if tc, ok := ev.(toolstream.ToolCallConfirmed); ok {
			out = append(out, tc.Calls...)
		}
	}
	return out
}

// Resumed reports how many StreamResumed events were emitted.
func (s *EventSink) Resumed() int {
	n := 0
	for _, ev := range s.Events {
		if _, ok := ev.(toolstream.StreamResumed); ok {
			n++
		}
	}
	return n
}
