package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/toolstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDeltas(t *testing.T) {
	ds := Deltas("hello", 2)
	require.Len(t, ds, 3)
	assert.Equal(t, "he", ds[0].Text)
	assert.Equal(t, "ll", ds[1].Text)
	assert.Equal(t, "o", ds[2].Text)

	// byte chunking may split a multi-byte rune
	heb := Deltas("של", 3)
	require.Len(t, heb, 2)
	assert.Equal(t, "של", heb[0].Text+heb[1].Text)
}

func TestEventSink(t *testing.T) {
	var sink EventSink
	require.NoError(t, sink.Yield(toolstream.TextDelta{Text: "a"}))
	require.NoError(t, sink.Yield(toolstream.StreamResumed{}))
	require.NoError(t, sink.Yield(toolstream.TextDelta{Text: "b"}))
	assert.Equal(t, "ab", sink.Text())
	assert.Equal(t, 1, sink.Resumed())
	assert.Empty(t, sink.Confirmed())
}

func TestNewTestPool(t *testing.T) {
	codec := toolstream.NewCodec(toolstream.NewSchemaRegistry())
	pool := NewTestPool(codec)
	h := pool.Submit(context.Background(), toolstream.ParseJob{Payload: "plain text"})
	res := <-h.Done()
	assert.Equal(t, toolstream.ResultNoMatch, res.Kind)
	require.NoError(t, pool.Shutdown(context.Background()))
}
